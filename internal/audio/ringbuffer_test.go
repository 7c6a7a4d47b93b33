package audio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOverwritePolicyKeepsTrailingBytes(t *testing.T) {
	r := NewRingBuffer(100, true)
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i)
	}
	n, err := r.Push(data)
	require.NoError(t, err)
	require.Equal(t, 1000, n)
	require.Equal(t, 100, r.Len())

	out := make([]byte, 100)
	got := r.Pop(out)
	require.Equal(t, 100, got)
	require.Equal(t, data[900:], out)
	require.Equal(t, 0, r.Len())
}

func TestNonOverwritingRejectsOverflow(t *testing.T) {
	r := NewRingBuffer(10, false)
	n, err := r.Push(make([]byte, 5))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	_, err = r.Push(make([]byte, 6))
	require.ErrorIs(t, err, ErrOverflow{})
	require.Equal(t, 5, r.Len())
}

func TestPeekDoesNotAdvance(t *testing.T) {
	r := NewRingBuffer(10, false)
	r.Push([]byte{1, 2, 3, 4})
	out := make([]byte, 2)
	r.Peek(out)
	require.Equal(t, []byte{1, 2}, out)
	require.Equal(t, 4, r.Len())

	r.Pop(out)
	require.Equal(t, []byte{1, 2}, out)
	require.Equal(t, 2, r.Len())
}

func TestWrapAroundAcrossBoundary(t *testing.T) {
	r := NewRingBuffer(8, false)
	r.Push([]byte{1, 2, 3, 4, 5, 6})
	out := make([]byte, 4)
	r.Pop(out) // consumes 1,2,3,4; read=4, count=2
	r.Push([]byte{7, 8, 9, 10})
	// buffer now wraps: indices 4..7 hold 5,6,7,8 and 0,1 hold 9,10
	all := make([]byte, 6)
	n := r.Pop(all)
	require.Equal(t, 6, n)
	require.Equal(t, []byte{5, 6, 7, 8, 9, 10}, all)
}

func TestClearZeroesCounters(t *testing.T) {
	r := NewRingBuffer(10, false)
	r.Push([]byte{1, 2, 3})
	r.Clear()
	require.Equal(t, 0, r.Len())
	require.Equal(t, 10, r.Available())
}
