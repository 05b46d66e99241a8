package console

// Device is a grid of character cells that text can be rendered on. Cell
// coordinates are 0-based with (0, 0) at the top-left corner.
type Device interface {
	// Size returns the number of columns and rows.
	Size() (cols, rows uint32)

	// DefaultColors returns the colors of blank cells.
	DefaultColors() (fg, bg uint8)

	// SetCell draws ch at (col, row). Coordinates outside the grid are
	// ignored.
	SetCell(col, row uint32, ch byte, fg, bg uint8)

	// ScrollUp moves the contents up by the given number of rows and
	// blanks the rows uncovered at the bottom.
	ScrollUp(rows uint32)

	// Clear blanks every cell.
	Clear()
}
