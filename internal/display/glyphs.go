package display

// fontAtlas describes one of the five font modes the device can select via
// the System command. Each atlas supplies glyph cell dimensions, a
// horizontal stride between glyphs in the bitmap, a vertical baseline
// offset applied when stamping, and the clamp height for the waveform
// overlay (font modes scale the waveform band along with the character
// cell).
type fontAtlas struct {
	CharWidth, CharHeight int
	Stride                int
	TextOffsetY           int
	BaseIndex             byte
	WaveformMaxHeight     int
	// Bits is a packed 1-bit-per-pixel glyph table indexed by
	// [glyph][row], synthesized at init rather than embedded from a
	// ROM dump.
	Bits [][]uint8
}

const numFontModes = 5

var fontAtlases [numFontModes]fontAtlas

func init() {
	for mode := 0; mode < numFontModes; mode++ {
		w, h := 8, 8+mode
		fontAtlases[mode] = fontAtlas{
			CharWidth:         w,
			CharHeight:        h,
			Stride:            w,
			TextOffsetY:       mode,
			BaseIndex:         0x20,
			WaveformMaxHeight: 32 + mode*8,
			Bits:              synthesizeGlyphRows(w, h),
		}
	}
}

// synthesizeGlyphRows builds a deterministic, non-blank bitmap for every
// printable ASCII code (0x20..0x7E) so stamped text is visible without
// depending on a real glyph ROM. Each row is a bitmask of lit columns.
func synthesizeGlyphRows(w, h int) [][]uint8 {
	rows := make([][]uint8, 0x7F)
	for code := 0x20; code <= 0x7E; code++ {
		glyph := make([]uint8, h)
		if code != ' ' {
			for r := 0; r < h; r++ {
				glyph[r] = uint8((code*31+r*17)%256) & ((1 << uint(w)) - 1)
			}
		}
		rows[code] = glyph
	}
	return rows
}

// fontAtlasFor returns the atlas for a font mode, clamping unknown modes
// to mode 0.
func fontAtlasFor(mode byte) fontAtlas {
	if int(mode) >= numFontModes {
		return fontAtlases[0]
	}
	return fontAtlases[mode]
}
