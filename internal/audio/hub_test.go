package audio

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFramePrefixes(t *testing.T) {
	h := New()
	var got []byte
	h.AddAudioSink(func(frame []byte) { got = frame })

	h.Ingest([]byte{1, 2, 3, 4})
	require.Equal(t, byte(0x00), got[0])
	require.Equal(t, []byte{1, 2, 3, 4}, got[1:])

	h.PublishControl(ControlMessage{Type: "status", Message: "ok"})
	require.Equal(t, byte(0x01), got[0])
}

func TestTCPSinkReceivesSameFrames(t *testing.T) {
	h := New()
	var wsGot, tcpGot []byte
	h.AddAudioSink(func(frame []byte) { wsGot = frame })
	h.SetTCPSink(func(frame []byte) { tcpGot = frame })

	h.Ingest([]byte{9, 9})
	require.Equal(t, wsGot, tcpGot)
}

func TestRecordingReplacesPrevious(t *testing.T) {
	h := New()
	dir := t.TempDir()
	p1 := dir + "/a.pcm"
	p2 := dir + "/b.pcm"

	require.NoError(t, h.StartRecording(p1))
	h.Ingest([]byte{1, 2, 3})
	require.NoError(t, h.StartRecording(p2))
	h.Ingest([]byte{4, 5, 6})
	h.StopRecording()

	b1, err := os.ReadFile(p1)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, b1)

	b2, err := os.ReadFile(p2)
	require.NoError(t, err)
	require.Equal(t, []byte{4, 5, 6}, b2)
}

func TestIngestFeedsRingBuffer(t *testing.T) {
	h := New()
	h.Ingest([]byte{1, 2, 3})
	require.Equal(t, 3, h.Ring().Len())
}
