package console

import (
	"io"
	"unsafe"
	"wallyos/kernel"
	"wallyos/kernel/kfmt"
	"wallyos/kernel/mm"
)

// The number of colors supported by the EGA text mode attribute byte.
const egaColors = 16

var (
	// ErrFramebufferUnreachable is returned when the framebuffer does not
	// fall inside the physical memory offset mapping.
	ErrFramebufferUnreachable = &kernel.Error{Module: "vga_text_console", Message: "framebuffer is not reachable through the physical memory mapping"}

	// framebufferFn is mocked by tests.
	framebufferFn = defaultFramebufferFn
)

// defaultFramebufferFn returns the framebuffer cells located at addr.
func defaultFramebufferFn(addr uintptr, cells uint32) []uint16 {
	return unsafe.Slice((*uint16)(unsafe.Pointer(addr)), cells)
}

// VgaTextConsole drives the framebuffer of VGA text mode 0x3. Each cell is a
// 16-bit word holding the character code in its low byte and the EGA
// foreground and background colors in the low and high nibble of its high
// byte. Blank cells are spaces in light gray (7) on black (0).
type VgaTextConsole struct {
	cols uint32
	rows uint32

	fbPhysAddr    mm.PhysAddr
	physMemOffset mm.VirtAddr
	fb            []uint16

	defaultFg uint8
	defaultBg uint8
}

// NewVgaTextConsole returns a console for a cols x rows framebuffer located
// at fbPhysAddr. The framebuffer is accessed through the mapping of physical
// memory that starts at physMemOffset once the driver is initialized.
func NewVgaTextConsole(cols, rows uint32, fbPhysAddr mm.PhysAddr, physMemOffset mm.VirtAddr) VgaTextConsole {
	return VgaTextConsole{
		cols:          cols,
		rows:          rows,
		fbPhysAddr:    fbPhysAddr,
		physMemOffset: physMemOffset,
		defaultFg:     7,
		defaultBg:     0,
	}
}

// Size implements Device.
func (cons *VgaTextConsole) Size() (uint32, uint32) {
	return cons.cols, cons.rows
}

// DefaultColors implements Device.
func (cons *VgaTextConsole) DefaultColors() (uint8, uint8) {
	return cons.defaultFg, cons.defaultBg
}

// SetCell implements Device. Colors outside the EGA palette are replaced by
// the default colors.
func (cons *VgaTextConsole) SetCell(col, row uint32, ch byte, fg, bg uint8) {
	if col >= cons.cols || row >= cons.rows {
		return
	}

	cons.fb[row*cons.cols+col] = cons.cell(ch, fg, bg)
}

// ScrollUp implements Device.
func (cons *VgaTextConsole) ScrollUp(rows uint32) {
	switch {
	case rows == 0:
		return
	case rows >= cons.rows:
		cons.Clear()
		return
	}

	kept := (cons.rows - rows) * cons.cols
	kernel.Memcopy(
		uintptr(unsafe.Pointer(&cons.fb[rows*cons.cols])),
		uintptr(unsafe.Pointer(&cons.fb[0])),
		uintptr(kept)*2,
	)
	cons.blank(cons.fb[kept:])
}

// Clear implements Device.
func (cons *VgaTextConsole) Clear() {
	cons.blank(cons.fb)
}

func (cons *VgaTextConsole) blank(cells []uint16) {
	v := cons.cell(' ', cons.defaultFg, cons.defaultBg)
	for i := range cells {
		cells[i] = v
	}
}

func (cons *VgaTextConsole) cell(ch byte, fg, bg uint8) uint16 {
	if fg >= egaColors {
		fg = cons.defaultFg
	}
	if bg >= egaColors {
		bg = cons.defaultBg
	}

	return uint16(bg)<<12 | uint16(fg)<<8 | uint16(ch)
}

// DriverName returns the name of this driver.
func (cons *VgaTextConsole) DriverName() string {
	return "vga_text_console"
}

// DriverVersion returns the version of this driver.
func (cons *VgaTextConsole) DriverVersion() (uint16, uint16, uint16) {
	return 0, 0, 1
}

// DriverInit locates the framebuffer through the physical memory mapping.
func (cons *VgaTextConsole) DriverInit(w io.Writer) *kernel.Error {
	fbAddr, ok := cons.fbPhysAddr.ToVirt(cons.physMemOffset)
	if !ok {
		return ErrFramebufferUnreachable
	}

	cons.fb = framebufferFn(fbAddr.Pointer(), cons.cols*cons.rows)
	kfmt.Fprintf(w, "framebuffer at 0x%x\n", fbAddr.Uint64())

	return nil
}
