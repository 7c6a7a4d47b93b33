package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTextCommand(t *testing.T) {
	p := NewParser()
	frame := []byte{0xFD, 0x41, 0x10, 0x00, 0x14, 0x00, 0xFF, 0xFF, 0xFF, 0x00, 0x00, 0x00}
	cmd, ok := p.Parse(frame)
	require.True(t, ok)
	require.Equal(t, KindText, cmd.Kind)
	require.Equal(t, byte('A'), cmd.Text.CharCode)
	require.Equal(t, uint16(0x10), cmd.Text.X)
	require.Equal(t, uint16(0x14), cmd.Text.Y)
	require.Equal(t, Color{255, 255, 255}, cmd.Text.FG)
	require.Equal(t, Color{0, 0, 0}, cmd.Text.BG)
	require.True(t, cmd.Text.FG.IsHighlight())
}

func TestRectangleColorPersistsAcrossShortForms(t *testing.T) {
	p := NewParser()

	// 8-byte form establishes color C1.
	c1 := []byte{0xFE, 0x0A, 0x00, 0x14, 0x00, 0xFF, 0x00, 0x00}
	cmd, ok := p.Parse(c1)
	require.True(t, ok)
	require.Equal(t, Color{255, 0, 0}, cmd.Rectangle.Color)

	// 5-byte forms in between must inherit C1.
	short := []byte{0xFE, 0x01, 0x00, 0x02, 0x00}
	for i := 0; i < 3; i++ {
		cmd, ok := p.Parse(short)
		require.True(t, ok)
		require.Equal(t, Color{255, 0, 0}, cmd.Rectangle.Color)
	}

	// 9-byte form (w,h, no color) must also inherit C1.
	nine := []byte{0xFE, 0x0A, 0x00, 0x14, 0x00, 0x05, 0x00, 0x05, 0x00}
	cmd, ok = p.Parse(nine)
	require.True(t, ok)
	require.Equal(t, Color{255, 0, 0}, cmd.Rectangle.Color)
	require.Equal(t, uint16(5), cmd.Rectangle.W)

	// 12-byte form establishes C2; subsequent short forms inherit C2.
	c2 := []byte{0xFE, 0x0A, 0x00, 0x14, 0x00, 0x05, 0x00, 0x05, 0x00, 0x00, 0xFF, 0x00}
	cmd, ok = p.Parse(c2)
	require.True(t, ok)
	require.Equal(t, Color{0, 255, 0}, cmd.Rectangle.Color)

	cmd, ok = p.Parse(short)
	require.True(t, ok)
	require.Equal(t, Color{0, 255, 0}, cmd.Rectangle.Color)
}

func TestJoypadBothLengths(t *testing.T) {
	p := NewParser()

	cmd, ok := p.Parse([]byte{0xFB, 0x05})
	require.True(t, ok)
	require.Equal(t, uint16(0x05), cmd.Joypad.State)

	cmd, ok = p.Parse([]byte{0xFB, 0x01, 0x02})
	require.True(t, ok)
	require.Equal(t, uint16(0x0201), cmd.Joypad.State)
}

func TestSystemCommand(t *testing.T) {
	p := NewParser()
	cmd, ok := p.Parse([]byte{0xFF, 0x02, 0x01, 0x02, 0x03, 0x04})
	require.True(t, ok)
	require.Equal(t, System{HWType: 2, FWMajor: 1, FWMinor: 2, FWPatch: 3, FontMode: 4}, cmd.System)
}

func TestWaveCommand(t *testing.T) {
	p := NewParser()
	frame := append([]byte{0xFC, 0x10, 0x20, 0x30}, []byte{1, 2, 3, 4, 5}...)
	cmd, ok := p.Parse(frame)
	require.True(t, ok)
	require.Equal(t, Color{0x10, 0x20, 0x30}, cmd.Wave.Color)
	require.Equal(t, []byte{1, 2, 3, 4, 5}, cmd.Wave.Samples)
}

func TestUnknownAndUnderLengthProduceNothing(t *testing.T) {
	p := NewParser()

	_, ok := p.Parse([]byte{0x99, 0x01, 0x02})
	require.False(t, ok)

	_, ok = p.Parse([]byte{0xFD, 0x01})
	require.False(t, ok)

	_, ok = p.Parse(nil)
	require.False(t, ok)
}

func TestCommandJSONCarriesOnlyActiveVariant(t *testing.T) {
	cmd := Command{
		Kind: KindText,
		Text: Text{CharCode: 'A', X: 16, Y: 20, FG: Color{R: 255, G: 255, B: 255}},
	}
	b, err := json.Marshal(cmd)
	require.NoError(t, err)
	require.Contains(t, string(b), `"type":"text"`)
	require.Contains(t, string(b), `"char":"A"`)
	require.NotContains(t, string(b), "samples")
	require.NotContains(t, string(b), "state")
}

func TestParserTotalityNeverPanics(t *testing.T) {
	ids := []byte{0xFF, 0xFE, 0xFD, 0xFC, 0xFB, 0x00, 0x7F}
	for _, id := range ids {
		for n := 0; n <= 32; n++ {
			frame := make([]byte, n)
			if n > 0 {
				frame[0] = id
			}
			p := NewParser()
			require.NotPanics(t, func() { p.Parse(frame) })
		}
	}
}
