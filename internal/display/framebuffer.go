package display

import (
	"encoding/binary"

	"github.com/m8gateway/m8gateway/internal/protocol"
)

// Framebuffer is a 320x240 RGB pixel buffer. Out-of-range reads return
// black; out-of-range writes clip silently.
type Framebuffer struct {
	pixels   [ScreenHeight][ScreenWidth]protocol.Color
	bg       protocol.Color
	fontMode byte
	waveFoot waveFootprint
}

type waveFootprint struct {
	active bool
	startX int
	values []int
}

// NewFramebuffer returns an all-black 320x240 framebuffer.
func NewFramebuffer() *Framebuffer {
	return &Framebuffer{}
}

// At returns the pixel color at (x,y), or black if out of range.
func (f *Framebuffer) At(x, y int) protocol.Color {
	if x < 0 || x >= ScreenWidth || y < 0 || y >= ScreenHeight {
		return black
	}
	return f.pixels[y][x]
}

func (f *Framebuffer) set(x, y int, c protocol.Color) {
	if x < 0 || x >= ScreenWidth || y < 0 || y >= ScreenHeight {
		return
	}
	f.pixels[y][x] = c
}

// Background returns the current background color adopted from the last
// full-screen rectangle fill.
func (f *Framebuffer) Background() protocol.Color {
	return f.bg
}

// ApplyRectangle paints every pixel in [x,x+w) x [y,y+h), clipped to
// bounds. A rectangle covering the entire screen also becomes the new
// background color.
func (f *Framebuffer) ApplyRectangle(r protocol.Rectangle) {
	x0, y0 := clampInt(int(r.X), 0, ScreenWidth), clampInt(int(r.Y), 0, ScreenHeight)
	x1, y1 := clampInt(int(r.X)+int(r.W), 0, ScreenWidth), clampInt(int(r.Y)+int(r.H), 0, ScreenHeight)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			f.pixels[y][x] = r.Color
		}
	}
	if r.X == 0 && r.Y == 0 && r.W >= ScreenWidth && r.H >= ScreenHeight {
		f.bg = r.Color
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ApplySystem records the active font mode, which governs glyph stamping
// dimensions and the waveform overlay's clamp height.
func (f *Framebuffer) ApplySystem(s protocol.System) {
	f.fontMode = s.FontMode
}

// StampText draws one character using the active font mode's glyph
// atlas. Codes below the atlas's base index are not stamped; non-printable
// codes above the printable ASCII range (the glyph table only covers
// 0x20..0x7E) are clamped to a space, matching Grid.ApplyText.
func (f *Framebuffer) StampText(t protocol.Text) {
	atlas := fontAtlasFor(f.fontMode)
	if t.CharCode < atlas.BaseIndex {
		return
	}
	code := t.CharCode
	if code > 0x7E {
		code = ' '
	}
	glyph := atlas.Bits[code]
	originX, originY := int(t.X), int(t.Y)+atlas.TextOffsetY

	for row := 0; row < atlas.CharHeight; row++ {
		bits := uint8(0)
		if row < len(glyph) {
			bits = glyph[row]
		}
		for col := 0; col < atlas.CharWidth; col++ {
			lit := bits&(1<<uint(col)) != 0
			c := t.BG
			if lit {
				c = t.FG
			}
			f.set(originX+col, originY+row, c)
		}
	}
}

// ApplyWaveform draws the scrolling waveform overlay in the rightmost
// band of the screen, one column per sample. Before drawing, the
// previous waveform's footprint is cleared to the current background
// color; after drawing, the new sample set becomes the footprint for the
// next call.
func (f *Framebuffer) ApplyWaveform(w protocol.Wave) {
	f.clearWaveformFootprint()

	n := len(w.Samples)
	if n == 0 {
		f.waveFoot = waveFootprint{}
		return
	}
	if n > ScreenWidth {
		n = ScreenWidth
	}
	samples := w.Samples[len(w.Samples)-n:]
	startX := ScreenWidth - n

	maxH := fontAtlasFor(f.fontMode).WaveformMaxHeight
	values := make([]int, n)
	for i, s := range samples {
		v := int(s)
		if v > maxH {
			v = maxH
		}
		values[i] = v
		x := startX + i
		for row := 0; row < v; row++ {
			y := ScreenHeight - 1 - row
			f.set(x, y, w.Color)
		}
	}

	f.waveFoot = waveFootprint{active: true, startX: startX, values: values}
}

func (f *Framebuffer) clearWaveformFootprint() {
	if !f.waveFoot.active {
		return
	}
	for i, v := range f.waveFoot.values {
		x := f.waveFoot.startX + i
		for row := 0; row < v; row++ {
			y := ScreenHeight - 1 - row
			f.set(x, y, f.bg)
		}
	}
}

const (
	bmpHeaderSize = 54
	bmpRowAlign   = 4
)

// BMP serializes the framebuffer to a 24-bit BGR, bottom-up Windows BMP
// byte sequence with a fixed 54-byte header. Produced on demand; the
// framebuffer itself carries no BMP-related state.
func (f *Framebuffer) BMP() []byte {
	rowBytes := ScreenWidth * 3
	stride := (rowBytes + bmpRowAlign - 1) / bmpRowAlign * bmpRowAlign
	pixelDataSize := stride * ScreenHeight
	fileSize := bmpHeaderSize + pixelDataSize

	buf := make([]byte, fileSize)

	buf[0], buf[1] = 'B', 'M'
	binary.LittleEndian.PutUint32(buf[2:6], uint32(fileSize))
	binary.LittleEndian.PutUint32(buf[10:14], bmpHeaderSize)

	binary.LittleEndian.PutUint32(buf[14:18], 40) // DIB header size
	binary.LittleEndian.PutUint32(buf[18:22], uint32(ScreenWidth))
	binary.LittleEndian.PutUint32(buf[22:26], uint32(ScreenHeight))
	binary.LittleEndian.PutUint16(buf[26:28], 1)  // planes
	binary.LittleEndian.PutUint16(buf[28:30], 24) // bpp
	binary.LittleEndian.PutUint32(buf[34:38], uint32(pixelDataSize))

	off := bmpHeaderSize
	for y := ScreenHeight - 1; y >= 0; y-- {
		rowOff := off
		for x := 0; x < ScreenWidth; x++ {
			c := f.pixels[y][x]
			buf[rowOff+0] = c.B
			buf[rowOff+1] = c.G
			buf[rowOff+2] = c.R
			rowOff += 3
		}
		off += stride
	}
	return buf
}
