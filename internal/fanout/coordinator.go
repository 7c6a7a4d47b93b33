// Package fanout is the central routing layer: it owns the text grid,
// framebuffer, and delta cache, applies every decoded command to them
// in order, maintains the best-guess tracked input state, and
// broadcasts onto the TCP, display, and command consumer sets.
package fanout

import (
	"sync"

	"github.com/m8gateway/m8gateway/internal/delta"
	"github.com/m8gateway/m8gateway/internal/display"
	"github.com/m8gateway/m8gateway/internal/logx"
	"github.com/m8gateway/m8gateway/internal/protocol"
	"github.com/m8gateway/m8gateway/internal/slipcodec"
)

// TCPSink is the subset of the TCP broadcaster the coordinator drives.
type TCPSink interface {
	QueueDisplay(payload []byte)
}

// WSSink is the subset of the WebSocket hub the coordinator drives.
type WSSink interface {
	BroadcastDisplay(raw []byte)
	BroadcastCommand(cmd any)
}

// screenClearArea matches the delta cache's full-screen-clear
// threshold: area >= 320*200.
const screenClearArea = 320 * 200

// Coordinator applies one decoded command at a time to the projections,
// in the order parse -> grid -> framebuffer -> delta admit -> broadcast,
// matching the single indivisible command-application step the
// concurrency model requires.
type Coordinator struct {
	parser  *protocol.Parser
	decoder *slipcodec.Decoder
	cache   *delta.Cache
	state   *TrackedState

	// mu guards the grid and framebuffer: they are mutated only on the
	// command-application path, but the screen timer and the REST
	// handlers read them from other goroutines and need a consistent
	// snapshot.
	mu   sync.Mutex
	grid *display.Grid
	fb   *display.Framebuffer

	tcp TCPSink
	ws  WSSink
}

// New wires a fresh grid/framebuffer/delta cache/tracked state and
// installs the SLIP decoder's frame callback to drive command
// application.
func New(tcp TCPSink, ws WSSink) *Coordinator {
	c := &Coordinator{
		parser: protocol.NewParser(),
		grid:   display.NewGrid(),
		fb:     display.NewFramebuffer(),
		cache:  delta.New(),
		state:  NewTrackedState(),
		tcp:    tcp,
		ws:     ws,
	}
	c.decoder = slipcodec.NewDecoder(c.onFrame)
	return c
}

// HandleRawChunk is registered as the serial link's raw-byte sink: the
// unmodified chunk reaches the TCP broadcaster and /display subscribers
// before any derived command reaches command subscribers from the same
// bytes.
func (c *Coordinator) HandleRawChunk(chunk []byte) {
	if c.tcp != nil {
		c.tcp.QueueDisplay(chunk)
	}
	if c.ws != nil {
		c.ws.BroadcastDisplay(chunk)
	}
}

// HandleFrameBytes is registered as the serial link's frame-feed sink;
// it drives the SLIP decoder, which calls onFrame for each completed
// frame.
func (c *Coordinator) HandleFrameBytes(chunk []byte) {
	c.decoder.Write(chunk)
}

func (c *Coordinator) onFrame(frame []byte) {
	cmd, ok := c.parser.Parse(frame)
	if !ok {
		return
	}
	c.apply(cmd)
}

// apply performs the single indivisible per-command step: project onto
// the grid and framebuffer, admit or suppress via the delta cache, then
// broadcast if admitted. The projection lock is dropped before the
// broadcast so a slow consumer never stalls snapshot readers.
func (c *Coordinator) apply(cmd protocol.Command) {
	c.mu.Lock()
	switch cmd.Kind {
	case protocol.KindText:
		c.grid.ApplyText(cmd.Text)
		c.fb.StampText(cmd.Text)
		if cmd.Text.FG.IsHighlight() {
			row, col := int(cmd.Text.Y)/10, int(cmd.Text.X)/8
			c.state.ObserveCursor(row, col)
			c.deriveSelectionLocked(row, col)
		} else {
			c.state.ObserveCommand()
		}
	case protocol.KindRectangle:
		c.grid.ApplyRectangle(cmd.Rectangle)
		c.fb.ApplyRectangle(cmd.Rectangle)
		if cmd.Rectangle.Area() >= screenClearArea {
			c.state.VerifyScreenClear(ScreenUnknown)
		} else {
			c.state.ObserveCommand()
		}
	case protocol.KindWave:
		c.fb.ApplyWaveform(cmd.Wave)
		c.state.ObserveCommand()
	case protocol.KindJoypad:
		c.state.ObserveCommand()
	case protocol.KindSystem:
		c.fb.ApplySystem(cmd.System)
		c.state.ObserveCommand()
	}
	c.mu.Unlock()

	if !c.cache.ShouldSend(cmd) {
		return
	}
	if c.ws != nil {
		c.ws.BroadcastCommand(cmd)
	}
}

// deriveSelectionLocked updates the tracked selection from the grid
// after a highlighted cell write. Tracker screens label each row with a
// two-digit hex number in the leftmost columns, so a highlight landing
// on a labeled row identifies the row the device considers selected; a
// highlight on the label columns themselves additionally marks the
// chain-list cursor. Caller holds c.mu.
func (c *Coordinator) deriveSelectionLocked(row, col int) {
	hi := hexVal(c.grid.Cell(row, 0).Char)
	lo := hexVal(c.grid.Cell(row, 1).Char)
	if hi < 0 || lo < 0 {
		return
	}
	c.state.SetSelection(hi<<4 | lo)
	if col <= 1 {
		c.state.SetChainCursor(row)
	}
}

func hexVal(ch byte) int {
	switch {
	case ch >= '0' && ch <= '9':
		return int(ch - '0')
	case ch >= 'A' && ch <= 'F':
		return int(ch-'A') + 10
	case ch >= 'a' && ch <= 'f':
		return int(ch-'a') + 10
	}
	return -1
}

// Grid returns the live text grid for single-goroutine use (tests,
// inspection). Concurrent readers must go through GridRows/GridText
// instead.
func (c *Coordinator) Grid() *display.Grid { return c.grid }

// GridRows returns a consistent snapshot of every grid row plus the
// derived cursor.
func (c *Coordinator) GridRows() ([]string, display.Cursor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.grid.Rows(), c.grid.Cursor()
}

// GridText renders the grid to trimmed plain text under the projection
// lock.
func (c *Coordinator) GridText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.grid.Render()
}

// ScreenBMP renders a fresh BMP snapshot of the current framebuffer, the
// shape wshub.ScreenSource expects.
func (c *Coordinator) ScreenBMP() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fb.BMP()
}

// State returns the tracked input state.
func (c *Coordinator) State() *TrackedState { return c.state }

// CacheStats returns the delta cache's running statistics.
func (c *Coordinator) CacheStats() delta.Snapshot {
	return c.cache.Stats().Snapshot()
}

// ResetCache clears the delta cache's memoized state without touching
// its statistics, mirroring an explicit operator-triggered reset.
func (c *Coordinator) ResetCache() {
	c.cache.Reset()
	logx.Infof("FANOUT: delta cache reset")
}
