package fanout

import "sync"

// Screen is an approximation of which tracker screen the device is
// currently showing, inferred from the commands it sends. The device
// never tells the gateway directly which screen is active, so this is
// always a best guess.
type Screen string

const (
	ScreenUnknown    Screen = "unknown"
	ScreenSong       Screen = "song"
	ScreenChain      Screen = "chain"
	ScreenPhrase     Screen = "phrase"
	ScreenInstrument Screen = "instrument"
	ScreenTable      Screen = "table"
	ScreenGroove     Screen = "groove"
	ScreenEffects    Screen = "effects"
	ScreenMixer      Screen = "mixer"
	ScreenProject    Screen = "project"
)

// confidenceDecay is applied to the confidence scalar after every
// command application; confidenceReset is the value an explicit
// verification signal (a full-screen clear) restores it to.
const (
	confidenceDecay = 0.98
	confidenceReset = 1.0
	confidenceFloor = 0.05
)

// TrackedState is the gateway's best guess at the device's current
// screen and cursor, derived entirely from the commands it has sent.
type TrackedState struct {
	mu sync.RWMutex

	screen      Screen
	cursorRow   int
	cursorCol   int
	selection   int
	chainCursor int
	confidence  float64
}

// NewTrackedState starts in ScreenUnknown with zero confidence.
func NewTrackedState() *TrackedState {
	return &TrackedState{screen: ScreenUnknown}
}

// Snapshot is the read-only view exposed over the REST API.
type Snapshot struct {
	Screen      Screen  `json:"screen"`
	CursorRow   int     `json:"cursorRow"`
	CursorCol   int     `json:"cursorCol"`
	Selection   int     `json:"selection"`
	ChainCursor int     `json:"chainCursor"`
	Confidence  float64 `json:"confidence"`
}

func (t *TrackedState) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		Screen:      t.screen,
		CursorRow:   t.cursorRow,
		CursorCol:   t.cursorCol,
		Selection:   t.selection,
		ChainCursor: t.chainCursor,
		Confidence:  t.confidence,
	}
}

// ObserveCursor records a cursor move implied by a highlighted text
// write and decays confidence — every applied command is one step
// further from the last verified screen.
func (t *TrackedState) ObserveCursor(row, col int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cursorRow, t.cursorCol = row, col
	t.decayLocked()
}

// ObserveCommand decays confidence for any applied command that isn't
// itself a stronger signal (cursor move, screen clear).
func (t *TrackedState) ObserveCommand() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.decayLocked()
}

func (t *TrackedState) decayLocked() {
	t.confidence *= confidenceDecay
	if t.confidence < confidenceFloor {
		t.confidence = confidenceFloor
	}
}

// VerifyScreenClear is the strongest signal available: a full-screen
// clear rectangle means the device is redrawing a screen from scratch,
// so the guessed screen/cursor are reset and confidence goes back to
// 1.0.
func (t *TrackedState) VerifyScreenClear(guess Screen) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.screen = guess
	t.cursorRow, t.cursorCol = 0, 0
	t.selection = 0
	t.chainCursor = 0
	t.confidence = confidenceReset
}

// SetSelection records a selection-number observation derived from the
// grid's hex row label under the cursor. The accompanying ObserveCursor
// already decayed confidence for this command, so this does not decay
// again.
func (t *TrackedState) SetSelection(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.selection = n
}

// SetChainCursor records the chain-list cursor row. Like SetSelection,
// it rides along with a cursor observation and does not decay on its
// own.
func (t *TrackedState) SetChainCursor(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chainCursor = n
}
