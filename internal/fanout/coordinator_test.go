package fanout

import (
	"testing"

	"github.com/m8gateway/m8gateway/internal/protocol"
	"github.com/m8gateway/m8gateway/internal/slipcodec"
	"github.com/stretchr/testify/require"
)

type recordingTCP struct {
	frames [][]byte
}

func (r *recordingTCP) QueueDisplay(payload []byte) {
	r.frames = append(r.frames, append([]byte(nil), payload...))
}

type recordingWS struct {
	display  [][]byte
	commands []any
}

func (r *recordingWS) BroadcastDisplay(raw []byte) {
	r.display = append(r.display, append([]byte(nil), raw...))
}
func (r *recordingWS) BroadcastCommand(cmd any) {
	r.commands = append(r.commands, cmd)
}

func TestRawChunkReachesTCPAndDisplayBeforeCommand(t *testing.T) {
	tcp := &recordingTCP{}
	ws := &recordingWS{}
	c := New(tcp, ws)

	chunk := []byte{0xAA, 0xBB}
	c.HandleRawChunk(chunk)

	require.Equal(t, [][]byte{{0xAA, 0xBB}}, tcp.frames)
	require.Equal(t, [][]byte{{0xAA, 0xBB}}, ws.display)
	require.Empty(t, ws.commands)
}

func TestTextCommandUpdatesGridAndBroadcasts(t *testing.T) {
	tcp := &recordingTCP{}
	ws := &recordingWS{}
	c := New(tcp, ws)

	frame := []byte{0xFD, 'A', 0x10, 0x00, 0x14, 0x00, 0xFF, 0xFF, 0xFF, 0x00, 0x00, 0x00}
	c.HandleFrameBytes(slipcodec.Encode(frame))

	cell := c.Grid().Cell(2, 2)
	require.Equal(t, byte('A'), cell.Char)
	require.Len(t, ws.commands, 1)

	snap := c.State().Snapshot()
	require.Equal(t, 2, snap.CursorRow)
	require.Equal(t, 2, snap.CursorCol)
}

func TestFullScreenClearResetsTrackedState(t *testing.T) {
	tcp := &recordingTCP{}
	ws := &recordingWS{}
	c := New(tcp, ws)

	rect := []byte{0xFE, 0, 0, 0, 0, 0x40, 0x01, 0xF0, 0x00, 0, 0, 0}
	c.HandleFrameBytes(slipcodec.Encode(rect))

	snap := c.State().Snapshot()
	require.Equal(t, 1.0, snap.Confidence)
}

func TestDeltaCacheSuppressesRepeatedCommand(t *testing.T) {
	tcp := &recordingTCP{}
	ws := &recordingWS{}
	c := New(tcp, ws)

	frame := []byte{0xFD, 'A', 0x10, 0x00, 0x14, 0x00, 0xFF, 0xFF, 0xFF, 0x00, 0x00, 0x00}
	wire := slipcodec.Encode(frame)
	c.HandleFrameBytes(wire)
	c.HandleFrameBytes(wire)

	require.Len(t, ws.commands, 1)
	stats := c.CacheStats()
	require.EqualValues(t, 1, stats.Sent)
	require.EqualValues(t, 1, stats.Skipped)
}

func TestScreenBMPReflectsFramebuffer(t *testing.T) {
	c := New(nil, nil)
	bmp := c.ScreenBMP()
	require.Equal(t, byte('B'), bmp[0])
	require.Equal(t, byte('M'), bmp[1])
}

func TestHighlightDerivesSelectionFromRowLabel(t *testing.T) {
	c := New(nil, nil)

	// Row 3 (y=30) carries the hex label "0A" in its leftmost columns.
	label := func(col int, ch byte) protocol.Command {
		return protocol.Command{Kind: protocol.KindText, Text: protocol.Text{
			CharCode: ch, X: uint16(col * 8), Y: 30,
			FG: protocol.Color{R: 100, G: 100, B: 100},
		}}
	}
	c.apply(label(0, '0'))
	c.apply(label(1, 'A'))

	// A highlight in a data column resolves the label to the selection;
	// the chain cursor is untouched.
	c.apply(protocol.Command{Kind: protocol.KindText, Text: protocol.Text{
		CharCode: 'C', X: 5 * 8, Y: 30,
		FG: protocol.Color{R: 255, G: 255, B: 255},
	}})
	snap := c.State().Snapshot()
	require.Equal(t, 0x0A, snap.Selection)
	require.Equal(t, 0, snap.ChainCursor)

	// A highlight on the label columns also moves the chain cursor.
	c.apply(protocol.Command{Kind: protocol.KindText, Text: protocol.Text{
		CharCode: '0', X: 0, Y: 30,
		FG: protocol.Color{R: 255, G: 255, B: 255},
	}})
	snap = c.State().Snapshot()
	require.Equal(t, 3, snap.ChainCursor)
}

func TestGridSnapshotAccessors(t *testing.T) {
	c := New(nil, nil)
	frame := []byte{0xFD, 'A', 0x10, 0x00, 0x14, 0x00, 0xFF, 0xFF, 0xFF, 0x00, 0x00, 0x00}
	c.HandleFrameBytes(slipcodec.Encode(frame))

	rows, cur := c.GridRows()
	require.Len(t, rows, 24)
	require.Equal(t, 2, cur.Row)
	require.Equal(t, 2, cur.Col)
	require.Contains(t, c.GridText(), "A")
}

func TestApplyDirectAvoidsDoubleSlip(t *testing.T) {
	// Sanity: applying a joypad command updates tracked state via
	// ObserveCommand without touching grid/framebuffer.
	c := New(nil, nil)
	c.apply(protocol.Command{Kind: protocol.KindJoypad, Joypad: protocol.Joypad{State: 0x40}})
	require.Less(t, c.State().Snapshot().Confidence, 1.0)
}
