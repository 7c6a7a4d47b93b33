// Package protocol decodes the device's display-command wire dialect: a
// tagged union of rectangle, text, waveform, joypad and system commands
// carried one per SLIP frame.
package protocol

import "encoding/json"

// Color is an RGB triple. Equality is componentwise.
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// IsHighlight reports whether both red and green channels exceed the
// cursor-promotion threshold used by the text grid.
func (c Color) IsHighlight() bool {
	return c.R > 200 && c.G > 200
}

// Kind distinguishes the parsed command variants.
type Kind int

const (
	KindRectangle Kind = iota
	KindText
	KindWave
	KindJoypad
	KindSystem
)

// Rectangle command: {x,y,w,h,color}. Width/height are always >= 1; the
// 5-byte wire form omits size (implying 1x1) and the 5/9-byte forms omit
// color (inheriting the parser's last-emitted rectangle color).
type Rectangle struct {
	X, Y, W, H uint16
	Color      Color
}

// Area returns W*H as an int to avoid uint16 overflow on large rectangles.
func (r Rectangle) Area() int {
	return int(r.W) * int(r.H)
}

// Text command: a single character cell write.
type Text struct {
	CharCode byte
	X, Y     uint16
	FG, BG   Color
}

// Wave command: a waveform sample strip, at most 480 bytes.
type Wave struct {
	Color   Color
	Samples []byte
}

// Joypad command: a button-state bitmask. Firmware revisions differ on
// whether the state is one byte or a little-endian pair; both wire
// forms are accepted.
type Joypad struct {
	State uint16
}

// System command: hardware/firmware identification.
type System struct {
	HWType                    byte
	FWMajor, FWMinor, FWPatch byte
	FontMode                  byte
}

// Command is a tagged union over the five device-protocol variants.
// Exactly one of the embedded value fields is meaningful, selected by Kind.
type Command struct {
	Kind      Kind
	Rectangle Rectangle
	Text      Text
	Wave      Wave
	Joypad    Joypad
	System    System
}

func (k Kind) String() string {
	switch k {
	case KindRectangle:
		return "rectangle"
	case KindText:
		return "text"
	case KindWave:
		return "wave"
	case KindJoypad:
		return "joypad"
	case KindSystem:
		return "system"
	default:
		return "unknown"
	}
}

// MarshalJSON emits only the active variant, tagged by its type name, so
// command-feed WebSocket consumers see {"type":"text",...} rather than
// the whole union.
func (c Command) MarshalJSON() ([]byte, error) {
	type tagged struct {
		Type string `json:"type"`
		X    uint16 `json:"x,omitempty"`
		Y    uint16 `json:"y,omitempty"`
		W    uint16 `json:"w,omitempty"`
		H    uint16 `json:"h,omitempty"`

		Color *Color `json:"color,omitempty"`
		Char  string `json:"char,omitempty"`
		FG    *Color `json:"fg,omitempty"`
		BG    *Color `json:"bg,omitempty"`

		Samples []byte `json:"samples,omitempty"`
		State   uint16 `json:"state,omitempty"`

		HWType   *byte `json:"hwType,omitempty"`
		FWMajor  byte  `json:"fwMajor,omitempty"`
		FWMinor  byte  `json:"fwMinor,omitempty"`
		FWPatch  byte  `json:"fwPatch,omitempty"`
		FontMode byte  `json:"fontMode,omitempty"`
	}

	out := tagged{Type: c.Kind.String()}
	switch c.Kind {
	case KindRectangle:
		r := c.Rectangle
		out.X, out.Y, out.W, out.H = r.X, r.Y, r.W, r.H
		out.Color = &r.Color
	case KindText:
		t := c.Text
		out.X, out.Y = t.X, t.Y
		out.Char = string(rune(t.CharCode))
		out.FG, out.BG = &t.FG, &t.BG
	case KindWave:
		w := c.Wave
		out.Color = &w.Color
		out.Samples = w.Samples
	case KindJoypad:
		out.State = c.Joypad.State
	case KindSystem:
		s := c.System
		out.HWType = &s.HWType
		out.FWMajor, out.FWMinor, out.FWPatch = s.FWMajor, s.FWMinor, s.FWPatch
		out.FontMode = s.FontMode
	}
	return json.Marshal(out)
}
