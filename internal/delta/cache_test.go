package delta

import (
	"testing"

	"github.com/m8gateway/m8gateway/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestIdempotence(t *testing.T) {
	c := New()
	cmd := protocol.Command{
		Kind: protocol.KindText,
		Text: protocol.Text{X: 1, Y: 1, CharCode: 'A'},
	}
	require.True(t, c.ShouldSend(cmd))
	require.False(t, c.ShouldSend(cmd))

	snap := c.Stats().Snapshot()
	require.Equal(t, uint64(1), snap.Sent)
	require.Equal(t, uint64(1), snap.Skipped)
	require.Equal(t, snap.Sent+snap.Skipped, snap.Total)
	require.InDelta(t, 0.5, snap.Ratio, 1e-9)
}

func TestRectangleColorChangeAlwaysSends(t *testing.T) {
	c := New()
	r1 := protocol.Command{Kind: protocol.KindRectangle, Rectangle: protocol.Rectangle{X: 1, Y: 1, W: 2, H: 2, Color: protocol.Color{R: 255}}}
	r2 := protocol.Command{Kind: protocol.KindRectangle, Rectangle: protocol.Rectangle{X: 1, Y: 1, W: 2, H: 2, Color: protocol.Color{G: 255}}}

	require.True(t, c.ShouldSend(r1))
	require.False(t, c.ShouldSend(r1))
	require.True(t, c.ShouldSend(r2))
}

func TestScreenClearResetsCache(t *testing.T) {
	c := New()
	text := protocol.Command{Kind: protocol.KindText, Text: protocol.Text{X: 1, Y: 1, CharCode: 'A'}}
	require.True(t, c.ShouldSend(text))
	require.False(t, c.ShouldSend(text))

	clear := protocol.Command{Kind: protocol.KindRectangle, Rectangle: protocol.Rectangle{X: 0, Y: 0, W: 320, H: 240}}
	require.True(t, c.ShouldSend(clear))

	// After the clear, the same text command must be re-sent.
	require.True(t, c.ShouldSend(text))

	rect := protocol.Command{Kind: protocol.KindRectangle, Rectangle: protocol.Rectangle{X: 1, Y: 1, W: 2, H: 2, Color: protocol.Color{R: 255}}}
	require.True(t, c.ShouldSend(rect))
}

func TestAlwaysSendKinds(t *testing.T) {
	c := New()
	wave := protocol.Command{Kind: protocol.KindWave, Wave: protocol.Wave{Samples: []byte{1, 2, 3}}}
	require.True(t, c.ShouldSend(wave))
	require.True(t, c.ShouldSend(wave))

	joy := protocol.Command{Kind: protocol.KindJoypad}
	require.True(t, c.ShouldSend(joy))
	require.True(t, c.ShouldSend(joy))
}

func TestResetIndependentOfStats(t *testing.T) {
	c := New()
	text := protocol.Command{Kind: protocol.KindText, Text: protocol.Text{X: 1, Y: 1, CharCode: 'A'}}
	c.ShouldSend(text)
	c.Reset()
	require.True(t, c.ShouldSend(text))
	snap := c.Stats().Snapshot()
	require.Equal(t, uint64(2), snap.Sent)
}
