package mm

import "math"

// Frame describes a physical memory page index.
type Frame uint64

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address pointed to by this Frame.
func (f Frame) Address() PhysAddr {
	return PhysAddr(f << PageShift)
}

// FrameFromAddress returns a Frame that corresponds to
// the given physical address. This function can handle
// both page-aligned and not aligned addresses. in the
// latter case, the input address will be rounded down
// to the frame that contains it.
func FrameFromAddress(physAddr PhysAddr) Frame {
	return Frame((uint64(physAddr) &^ uint64(PageSize-1)) >> PageShift)
}

// Page describes a virtual memory page index.
type Page uint64

// Address returns the virtual memory address pointed to by this Page. Page
// indices above the lower half are sign-extended so the result is canonical.
func (p Page) Address() VirtAddr {
	return VirtAddrTruncate(uint64(p) << PageShift)
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address. This function can handle both page-aligned and not aligned virtual
// addresses. in the latter case, the input address will be rounded down to the
// page that contains it.
func PageFromAddress(virtAddr VirtAddr) Page {
	return Page((uint64(virtAddr) &^ uint64(PageSize-1)) >> PageShift)
}
