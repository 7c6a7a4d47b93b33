// Package display reconstructs the device screen from the parsed command
// stream in two parallel representations: a 40x24 text grid and a 320x240
// RGB framebuffer.
package display

import (
	"strings"

	"github.com/m8gateway/m8gateway/internal/protocol"
)

const (
	GridCols = 40
	GridRows = 24

	cellWidthPx  = 8
	cellHeightPx = 10

	ScreenWidth  = 320
	ScreenHeight = 240

	// screenClearArea is intentionally smaller than ScreenWidth*ScreenHeight;
	// the asymmetry is part of the wire dialect and must be preserved.
	screenClearArea = 320 * 200
)

var (
	white = protocol.Color{R: 255, G: 255, B: 255}
	black = protocol.Color{}
)

// Cell is one character position in the text grid.
type Cell struct {
	Char byte
	FG   protocol.Color
	BG   protocol.Color
}

// Cursor is a derived grid position: the most recent text command whose
// foreground red and green channels both exceeded the highlight threshold.
type Cursor struct {
	Row, Col int
}

// Grid is the 40x24 text-cell buffer.
type Grid struct {
	cells  [GridRows][GridCols]Cell
	cursor Cursor
}

// NewGrid returns a grid with every cell at {space, white, black}.
func NewGrid() *Grid {
	g := &Grid{}
	g.resetCells()
	return g
}

func (g *Grid) resetCells() {
	for r := 0; r < GridRows; r++ {
		for c := 0; c < GridCols; c++ {
			g.cells[r][c] = Cell{Char: ' ', FG: white, BG: black}
		}
	}
}

// ApplyText applies a parsed text command. Out-of-range pixel coordinates
// are silently discarded; otherwise exactly one cell changes.
func (g *Grid) ApplyText(t protocol.Text) {
	row, col := int(t.Y)/cellHeightPx, int(t.X)/cellWidthPx
	if row < 0 || row >= GridRows || col < 0 || col >= GridCols {
		return
	}
	ch := t.CharCode
	if ch < 0x20 || ch > 0x7E {
		ch = ' '
	}
	g.cells[row][col] = Cell{Char: ch, FG: t.FG, BG: t.BG}
	if t.FG.IsHighlight() {
		g.cursor = Cursor{Row: row, Col: col}
	}
}

// ApplyRectangle applies a parsed rectangle command. A rectangle that
// covers the full screen, origin-aligned, resets the whole grid to
// {space, white, black} and moves the cursor to (0,0); any other
// rectangle paints {space, white, color} over the overlapping cells.
func (g *Grid) ApplyRectangle(r protocol.Rectangle) {
	if r.X == 0 && r.Y == 0 && r.W >= ScreenWidth && r.H >= ScreenHeight {
		g.resetCells()
		g.cursor = Cursor{}
		return
	}

	startRow, endRow := gridRange(int(r.Y), int(r.H), cellHeightPx, GridRows)
	startCol, endCol := gridRange(int(r.X), int(r.W), cellWidthPx, GridCols)
	for row := startRow; row < endRow; row++ {
		for col := startCol; col < endCol; col++ {
			g.cells[row][col] = Cell{Char: ' ', FG: white, BG: r.Color}
		}
	}
}

// gridRange maps a pixel-space [origin, origin+length) span to the
// overlapping, clamped grid-cell index range on one axis.
func gridRange(origin, length, cellPx, gridLen int) (start, end int) {
	if length <= 0 {
		return 0, 0
	}
	start = origin / cellPx
	end = (origin + length + cellPx - 1) / cellPx
	if start < 0 {
		start = 0
	}
	if end > gridLen {
		end = gridLen
	}
	if start > end {
		start = end
	}
	return start, end
}

// Cell returns the cell at (row, col); callers must check bounds.
func (g *Grid) Cell(row, col int) Cell {
	return g.cells[row][col]
}

// Cursor returns the current derived cursor position.
func (g *Grid) Cursor() Cursor {
	return g.cursor
}

// Header returns row 0 of the grid, rendered as a trimmed string.
func (g *Grid) Header() string {
	return g.renderRow(0)
}

func (g *Grid) renderRow(row int) string {
	var b strings.Builder
	for col := 0; col < GridCols; col++ {
		b.WriteByte(g.cells[row][col].Char)
	}
	return strings.TrimRight(b.String(), " ")
}

// Render joins all rows with newlines, trimming trailing spaces per row
// and trailing blank lines overall.
func (g *Grid) Render() string {
	rows := make([]string, GridRows)
	for r := 0; r < GridRows; r++ {
		rows[r] = g.renderRow(r)
	}
	text := strings.Join(rows, "\n")
	return strings.TrimRight(text, "\n")
}

// Rows returns a snapshot of every row as a string, for JSON serialization.
func (g *Grid) Rows() []string {
	rows := make([]string, GridRows)
	for r := 0; r < GridRows; r++ {
		rows[r] = g.renderRow(r)
	}
	return rows
}
