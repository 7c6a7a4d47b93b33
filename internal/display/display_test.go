package display

import (
	"testing"

	"github.com/m8gateway/m8gateway/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestGridBounds(t *testing.T) {
	g := NewGrid()
	before := g.Cell(2, 2)

	// out of range: y/10 = 25 (>= 24)
	g.ApplyText(protocol.Text{CharCode: 'Z', X: 16, Y: 250, FG: white, BG: black})
	require.Equal(t, before, g.Cell(2, 2))

	// in range: (row=2,col=2)
	g.ApplyText(protocol.Text{CharCode: 'A', X: 16, Y: 20, FG: protocol.Color{R: 255, G: 255, B: 255}, BG: black})
	cell := g.Cell(2, 2)
	require.Equal(t, byte('A'), cell.Char)
	require.Equal(t, Cursor{Row: 2, Col: 2}, g.Cursor())
}

func TestGridScreenClearResetsEverything(t *testing.T) {
	g := NewGrid()
	g.ApplyText(protocol.Text{CharCode: 'A', X: 0, Y: 0, FG: protocol.Color{R: 255, G: 255, B: 255}, BG: black})
	require.Equal(t, Cursor{Row: 0, Col: 0}, g.Cursor())

	g.ApplyRectangle(protocol.Rectangle{X: 0, Y: 0, W: 320, H: 240, Color: black})
	require.Equal(t, Cell{Char: ' ', FG: white, BG: black}, g.Cell(0, 0))
	require.Equal(t, Cursor{}, g.Cursor())
}

func TestFramebufferClipping(t *testing.T) {
	fb := NewFramebuffer()
	red := protocol.Color{R: 255}
	fb.ApplyRectangle(protocol.Rectangle{X: 315, Y: 235, W: 20, H: 20, Color: red})

	for y := 0; y < ScreenHeight; y++ {
		for x := 0; x < ScreenWidth; x++ {
			inside := x >= 315 && x < 320 && y >= 235 && y < 240
			got := fb.At(x, y)
			if inside {
				require.Equal(t, red, got)
			} else {
				require.Equal(t, black, got)
			}
		}
	}
	require.Equal(t, black, fb.At(-1, -1))
	require.Equal(t, black, fb.At(9999, 9999))
}

func TestFramebufferFullScreenAdoptsBackground(t *testing.T) {
	fb := NewFramebuffer()
	blue := protocol.Color{B: 255}
	fb.ApplyRectangle(protocol.Rectangle{X: 0, Y: 0, W: 320, H: 240, Color: blue})
	require.Equal(t, blue, fb.Background())
}

func TestWaveformOverlayClearsPreviousFootprint(t *testing.T) {
	fb := NewFramebuffer()
	red := protocol.Color{R: 255}
	green := protocol.Color{G: 255}

	samples1 := make([]byte, 50)
	for i := range samples1 {
		samples1[i] = 40
	}
	fb.ApplyWaveform(protocol.Wave{Color: red, Samples: samples1})

	samples2 := make([]byte, 10)
	for i := range samples2 {
		samples2[i] = 5
	}
	fb.ApplyWaveform(protocol.Wave{Color: green, Samples: samples2})

	// Columns that were part of W1's footprint but not W2's must not
	// retain red anywhere in the footprint band.
	for x := ScreenWidth - 50; x < ScreenWidth-10; x++ {
		for y := 0; y < ScreenHeight; y++ {
			require.NotEqual(t, red, fb.At(x, y), "x=%d y=%d", x, y)
		}
	}
}

func TestBMPHeader(t *testing.T) {
	fb := NewFramebuffer()
	bmp := fb.BMP()
	require.Equal(t, byte('B'), bmp[0])
	require.Equal(t, byte('M'), bmp[1])
	require.True(t, len(bmp) > bmpHeaderSize)
	require.Equal(t, 0, (len(bmp)-bmpHeaderSize)%4)
}

func TestGridRenderTrimsTrailingSpaces(t *testing.T) {
	g := NewGrid()
	g.ApplyText(protocol.Text{CharCode: 'X', X: 0, Y: 0, FG: white, BG: black})
	rendered := g.Render()
	require.Contains(t, rendered, "X")
	require.NotContains(t, rendered, "X   ")
}
