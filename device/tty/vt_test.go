package tty

import (
	"io"
	"strings"
	"testing"
	"wallyos/device"
)

// gridConsole is an in-memory console.Device.
type gridConsole struct {
	cols, rows uint32
	cells      []byte
	colors     []uint8
	scrolls    int
	clears     int
}

func newGridConsole(cols, rows uint32) *gridConsole {
	cons := &gridConsole{
		cols:   cols,
		rows:   rows,
		cells:  make([]byte, cols*rows),
		colors: make([]uint8, cols*rows),
	}
	cons.Clear()
	cons.clears = 0
	return cons
}

func (c *gridConsole) Size() (uint32, uint32)        { return c.cols, c.rows }
func (c *gridConsole) DefaultColors() (uint8, uint8) { return 7, 1 }

func (c *gridConsole) SetCell(col, row uint32, ch byte, fg, bg uint8) {
	if col >= c.cols || row >= c.rows {
		return
	}
	c.cells[row*c.cols+col] = ch
	c.colors[row*c.cols+col] = bg<<4 | fg
}

func (c *gridConsole) ScrollUp(rows uint32) {
	c.scrolls++
	n := copy(c.cells, c.cells[rows*c.cols:])
	for i := n; i < len(c.cells); i++ {
		c.cells[i] = ' '
	}
}

func (c *gridConsole) Clear() {
	c.clears++
	for i := range c.cells {
		c.cells[i] = ' '
	}
}

// lines returns the console rows with trailing blanks removed.
func (c *gridConsole) lines() []string {
	out := make([]string, c.rows)
	for row := uint32(0); row < c.rows; row++ {
		out[row] = strings.TrimRight(string(c.cells[row*c.cols:(row+1)*c.cols]), " ")
	}
	return out
}

func TestVtWriteWithoutConsole(t *testing.T) {
	var term VT
	term.Init(DefaultTabWidth)

	if n, err := term.Write([]byte("early")); n != 0 || err != io.ErrClosedPipe {
		t.Fatalf("expected (0, io.ErrClosedPipe) without a console; got (%d, %v)", n, err)
	}

	term.AttachTo(nil)
	term.AttachTo(newGridConsole(0, 25))
	if term.cons != nil {
		t.Fatal("expected consoles without cells to be ignored")
	}
}

func TestVtWrite(t *testing.T) {
	specs := []struct {
		input    string
		exp      []string
		expCol   uint32
		expRow   uint32
		expScrol int
	}{
		{"", []string{"", "", ""}, 0, 0, 0},
		{"abc", []string{"abc", "", ""}, 3, 0, 0},
		{"ab\ncd", []string{"ab", "cd", ""}, 2, 1, 0},
		{"abc\rX", []string{"Xbc", "", ""}, 1, 0, 0},
		{"abc\b\bX", []string{"aX", "", ""}, 2, 0, 0},
		{"\b\bx", []string{"x", "", ""}, 1, 0, 0},
		// tab stops every 4 columns
		{"a\tb", []string{"a   b", "", ""}, 5, 0, 0},
		{"abcd\tb", []string{"abcd    b", "", ""}, 9, 0, 0},
		// a tab at the last stop of the row wraps
		{"abcdefgh\tx", []string{"abcdefgh", "x", ""}, 1, 1, 0},
		// wrapping at the last column
		{"0123456789AB", []string{"0123456789", "AB", ""}, 2, 1, 0},
		{"0123456789", []string{"0123456789", "", ""}, 0, 1, 0},
		// scrolling once the last row is passed
		{"1\n2\n3\n4", []string{"2", "3", "4"}, 1, 2, 1},
		{"1\n2\n3\n4\n5\n", []string{"4", "5", ""}, 0, 2, 3},
	}

	for specIndex, spec := range specs {
		var (
			term VT
			cons = newGridConsole(10, 3)
		)
		term.Init(4)
		term.AttachTo(cons)

		if n, err := term.Write([]byte(spec.input)); n != len(spec.input) || err != nil {
			t.Errorf("[spec %d] expected Write to return (%d, nil); got (%d, %v)", specIndex, len(spec.input), n, err)
		}

		got := cons.lines()
		for i := range spec.exp {
			if got[i] != spec.exp[i] {
				t.Errorf("[spec %d] expected console rows %q; got %q", specIndex, spec.exp, got)
				break
			}
		}

		if term.col != spec.expCol || term.row != spec.expRow {
			t.Errorf("[spec %d] expected cursor at (%d, %d); got (%d, %d)", specIndex, spec.expCol, spec.expRow, term.col, term.row)
		}
		if cons.scrolls != spec.expScrol {
			t.Errorf("[spec %d] expected %d scrolls; got %d", specIndex, spec.expScrol, cons.scrolls)
		}
	}
}

func TestVtAttach(t *testing.T) {
	var term VT
	term.Init(DefaultTabWidth)

	first := newGridConsole(10, 3)
	term.AttachTo(first)
	term.Write([]byte("abc\nd"))

	second := newGridConsole(20, 5)
	second.SetCell(5, 4, '#', 0, 0)
	term.AttachTo(second)

	if second.clears != 1 {
		t.Fatalf("expected the console to be cleared on attach; got %d clears", second.clears)
	}
	if term.col != 0 || term.row != 0 || term.cols != 20 || term.rows != 5 {
		t.Fatalf("expected a homed cursor on a 20x5 grid; got (%d, %d) on %dx%d", term.col, term.row, term.cols, term.rows)
	}

	term.Write([]byte("x"))
	if got := second.lines()[0]; got != "x" {
		t.Fatalf("expected output to go to the new console; got %q", got)
	}
	if exp := uint8(1<<4 | 7); second.colors[0] != exp {
		t.Fatalf("expected the console default colors 0x%x; got 0x%x", exp, second.colors[0])
	}
}

func TestVtZeroTabWidth(t *testing.T) {
	var (
		term VT
		cons = newGridConsole(10, 3)
	)
	term.Init(0)
	term.AttachTo(cons)

	term.Write([]byte("a\tb"))
	if got := cons.lines()[0]; got != "a b" {
		t.Fatalf("expected a tab to expand to a single space; got %q", got)
	}
}

func TestVTDriverInterface(t *testing.T) {
	var (
		term VT
		dev  device.Driver = &term
	)

	if err := dev.DriverInit(nil); err != nil {
		t.Fatal(err)
	}

	if dev.DriverName() == "" {
		t.Fatal("DriverName() returned an empty string")
	}

	if major, minor, patch := dev.DriverVersion(); major+minor+patch == 0 {
		t.Fatal("DriverVersion() returned an invalid version number")
	}
}

func TestDetectVT(t *testing.T) {
	drv := DetectVT(0)
	if drv == nil {
		t.Fatal("expected DetectVT to return a driver")
	}

	term := drv.(*VT)
	if term.tabWidth != DefaultTabWidth || term.cons != nil {
		t.Fatalf("expected a detached terminal with tab width %d; got tab width %d", DefaultTabWidth, term.tabWidth)
	}
}
