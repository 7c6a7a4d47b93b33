package protocol

const (
	idSystem    byte = 0xFF
	idRectangle byte = 0xFE
	idText      byte = 0xFD
	idWave      byte = 0xFC
	idJoypad    byte = 0xFB
)

// Parser converts a framed byte sequence into a Command. It carries one
// piece of inter-frame state: the last rectangle color, which the 5- and
// 9-byte rectangle wire forms inherit. That state belongs to the Parser
// value, not a package global, so independent serial links never interfere
// with each other's color state.
type Parser struct {
	lastRectColor Color
}

// NewParser returns a Parser with its last-rectangle-color reset to black.
func NewParser() *Parser {
	return &Parser{}
}

// Parse interprets one frame. Unknown command ids and under-length frames
// for a known id produce (Command{}, false) rather than an error — the
// device protocol is treated as non-adversarial and forward-compatible, so
// malformed frames are simply dropped, never panicked on.
func (p *Parser) Parse(frame []byte) (Command, bool) {
	if len(frame) == 0 {
		return Command{}, false
	}
	switch frame[0] {
	case idRectangle:
		return p.parseRectangle(frame)
	case idText:
		return p.parseText(frame)
	case idWave:
		return p.parseWave(frame)
	case idJoypad:
		return p.parseJoypad(frame)
	case idSystem:
		return p.parseSystem(frame)
	default:
		return Command{}, false
	}
}

func u16le(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func u24rgb(b []byte) Color {
	return Color{R: b[0], G: b[1], B: b[2]}
}

func (p *Parser) parseRectangle(f []byte) (Command, bool) {
	switch len(f) {
	case 5:
		x := u16le(f[1:3])
		y := u16le(f[3:5])
		r := Rectangle{X: x, Y: y, W: 1, H: 1, Color: p.lastRectColor}
		return Command{Kind: KindRectangle, Rectangle: r}, true
	case 8:
		x := u16le(f[1:3])
		y := u16le(f[3:5])
		c := u24rgb(f[5:8])
		p.lastRectColor = c
		r := Rectangle{X: x, Y: y, W: 1, H: 1, Color: c}
		return Command{Kind: KindRectangle, Rectangle: r}, true
	case 9:
		x := u16le(f[1:3])
		y := u16le(f[3:5])
		w := u16le(f[5:7])
		h := u16le(f[7:9])
		r := Rectangle{X: x, Y: y, W: w, H: h, Color: p.lastRectColor}
		return Command{Kind: KindRectangle, Rectangle: r}, true
	case 12:
		x := u16le(f[1:3])
		y := u16le(f[3:5])
		w := u16le(f[5:7])
		h := u16le(f[7:9])
		c := u24rgb(f[9:12])
		p.lastRectColor = c
		r := Rectangle{X: x, Y: y, W: w, H: h, Color: c}
		return Command{Kind: KindRectangle, Rectangle: r}, true
	default:
		return Command{}, false
	}
}

func (p *Parser) parseText(f []byte) (Command, bool) {
	if len(f) != 12 {
		return Command{}, false
	}
	t := Text{
		CharCode: f[1],
		X:        u16le(f[2:4]),
		Y:        u16le(f[4:6]),
		FG:       u24rgb(f[6:9]),
		BG:       u24rgb(f[9:12]),
	}
	return Command{Kind: KindText, Text: t}, true
}

func (p *Parser) parseWave(f []byte) (Command, bool) {
	if len(f) < 4 {
		return Command{}, false
	}
	w := Wave{
		Color:   u24rgb(f[1:4]),
		Samples: append([]byte(nil), f[4:]...),
	}
	return Command{Kind: KindWave, Wave: w}, true
}

func (p *Parser) parseJoypad(f []byte) (Command, bool) {
	switch len(f) {
	case 2:
		return Command{Kind: KindJoypad, Joypad: Joypad{State: uint16(f[1])}}, true
	case 3:
		return Command{Kind: KindJoypad, Joypad: Joypad{State: u16le(f[1:3])}}, true
	default:
		return Command{}, false
	}
}

func (p *Parser) parseSystem(f []byte) (Command, bool) {
	if len(f) != 6 {
		return Command{}, false
	}
	s := System{
		HWType:   f[1],
		FWMajor:  f[2],
		FWMinor:  f[3],
		FWPatch:  f[4],
		FontMode: f[5],
	}
	return Command{Kind: KindSystem, System: s}, true
}
