package input

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu     sync.Mutex
	writes [][]byte
}

func (r *recordingWriter) Write(b []byte) error {
	cp := append([]byte(nil), b...)
	r.mu.Lock()
	r.writes = append(r.writes, cp)
	r.mu.Unlock()
	return nil
}

func (r *recordingWriter) snapshot() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.writes...)
}

func newTestEncoder(w Writer) *Encoder {
	e := New(w)
	e.sleep = func(time.Duration) {} // no real delay in tests
	return e
}

func TestPressKeySequence(t *testing.T) {
	w := &recordingWriter{}
	e := newTestEncoder(w)
	require.NoError(t, e.PressKey("up"))
	require.Equal(t, [][]byte{
		{cmdButtonState, BitUp},
		{cmdButtonState, 0x00},
	}, w.writes)
}

func TestPressKeyUnknown(t *testing.T) {
	w := &recordingWriter{}
	e := newTestEncoder(w)
	require.Error(t, e.PressKey("nonexistent"))
}

func TestPressComboFourSteps(t *testing.T) {
	w := &recordingWriter{}
	e := newTestEncoder(w)
	require.NoError(t, e.PressCombo([]string{"shift"}, []string{"up"}))
	require.Equal(t, [][]byte{
		{cmdButtonState, BitShift},
		{cmdButtonState, BitShift | BitUp},
		{cmdButtonState, BitShift},
		{cmdButtonState, 0x00},
	}, w.writes)
}

func TestNoteOnOff(t *testing.T) {
	w := &recordingWriter{}
	e := newTestEncoder(w)
	require.NoError(t, e.NoteOn(60, 100))
	require.NoError(t, e.NoteOff())
	require.Equal(t, [][]byte{
		{cmdNote, 60, 100},
		{cmdNote, 0xFF},
	}, w.writes)
}

func TestPressRawAsyncReturnsBeforeRelease(t *testing.T) {
	w := &recordingWriter{}
	e := New(w)
	released := make(chan struct{})
	e.sleep = func(time.Duration) { close(released) }

	require.NoError(t, e.PressRawAsync(0x42, time.Millisecond, true))
	require.Equal(t, [][]byte{{cmdButtonState, 0x42}}, w.snapshot())

	<-released
	require.Eventually(t, func() bool {
		return len(w.snapshot()) == 2
	}, time.Second, time.Millisecond)
	require.Equal(t, []byte{cmdButtonState, 0x00}, w.snapshot()[1])
}
