package tty

import (
	"io"
	"wallyos/device"
	"wallyos/device/video/console"
	"wallyos/kernel"
	"wallyos/kernel/mm"
)

var systemVT VT

// VT is a line-oriented terminal. Printable bytes are drawn at the cursor,
// which wraps at the last column. Moving past the last row scrolls the
// console up. The control bytes it understands are:
//
//	\r  move to the first column
//	\n  move to the first column of the next row
//	\b  erase the byte left of the cursor
//	\t  pad with spaces up to the next tab stop
type VT struct {
	cons       console.Device
	cols, rows uint32
	fg, bg     uint8

	// 0-based cursor position.
	col, row uint32

	tabWidth uint32
}

// Init detaches the terminal and sets the distance between tab stops.
func (t *VT) Init(tabWidth uint8) {
	*t = VT{tabWidth: uint32(tabWidth)}
	if t.tabWidth == 0 {
		t.tabWidth = 1
	}
}

// AttachTo implements Device. Consoles without any cells are ignored.
func (t *VT) AttachTo(cons console.Device) {
	if cons == nil {
		return
	}

	cols, rows := cons.Size()
	if cols == 0 || rows == 0 {
		return
	}

	t.cons, t.cols, t.rows = cons, cols, rows
	t.fg, t.bg = cons.DefaultColors()
	t.col, t.row = 0, 0
	cons.Clear()
}

// Write implements io.Writer. It fails with io.ErrClosedPipe until a console
// is attached.
func (t *VT) Write(p []byte) (int, error) {
	if t.cons == nil {
		return 0, io.ErrClosedPipe
	}

	for _, b := range p {
		switch b {
		case '\r':
			t.col = 0
		case '\n':
			t.col = 0
			t.nextRow()
		case '\b':
			if t.col > 0 {
				t.col--
				t.cons.SetCell(t.col, t.row, ' ', t.fg, t.bg)
			}
		case '\t':
			for t.put(' '); t.col%t.tabWidth != 0; {
				t.put(' ')
			}
		default:
			t.put(b)
		}
	}

	return len(p), nil
}

func (t *VT) put(b byte) {
	t.cons.SetCell(t.col, t.row, b, t.fg, t.bg)
	if t.col++; t.col == t.cols {
		t.col = 0
		t.nextRow()
	}
}

func (t *VT) nextRow() {
	if t.row+1 < t.rows {
		t.row++
		return
	}

	t.cons.ScrollUp(1)
}

// DriverName returns the name of this driver.
func (t *VT) DriverName() string {
	return "vt"
}

// DriverVersion returns the version of this driver.
func (t *VT) DriverVersion() (uint16, uint16, uint16) {
	return 0, 0, 1
}

// DriverInit initializes this driver.
func (t *VT) DriverInit(_ io.Writer) *kernel.Error { return nil }

// DetectVT returns the system terminal. It always succeeds as the terminal
// is not backed by any hardware.
func DetectVT(_ mm.VirtAddr) device.Driver {
	systemVT.Init(DefaultTabWidth)
	return &systemVT
}
