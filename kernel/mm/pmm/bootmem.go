// Package pmm contains the boot-time physical frame allocator.
package pmm

import (
	"io"
	"unsafe"
	"wallyos/kernel"
	"wallyos/kernel/hal/multiboot"
	"wallyos/kernel/kfmt"
	"wallyos/kernel/mm"
	"wallyos/kernel/sync"
)

var (
	pmmPrefix = []byte("[pmm] ")

	// ErrOutOfMemory is returned by AllocFrame once every usable frame has
	// been handed out.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}
)

// RegionSource invokes the supplied visitor for each region of the system
// memory map. multiboot.VisitMemRegions is the RegionSource used by the
// kernel.
type RegionSource func(visitor multiboot.MemRegionVisitor)

// BootMemAllocator implements a rudimentary physical memory allocator which is
// used to bootstrap the kernel.
//
// The allocator treats the usable regions reported by the bootloader as one
// flat sequence of page-aligned frames (excluding the frames occupied by the
// kernel image) and returns the frame at the position of an internal cursor.
// The cursor only ever moves forward so a frame is never handed out twice.
// The memory map itself is never modified; the frame sequence is recomputed
// on each call up to the cursor.
//
// Due to the way that the allocator works, it is not possible to free
// allocated pages.
type BootMemAllocator struct {
	regions RegionSource

	mutex sync.Spinlock

	// next is the index of the next frame to hand out.
	next uint64

	// Keep track of kernel location so we exclude this region.
	kernelStartAddr, kernelEndAddr uintptr

	// reserved frames are in [reservedStart, reservedEnd).
	reservedStart, reservedEnd mm.Frame
}

// Init sets up the allocator to serve frames from the regions reported by
// regions. The frames overlapping [kernelStart, kernelEnd) are never handed
// out; passing kernelStart == kernelEnd disables the reservation.
func (alloc *BootMemAllocator) Init(regions RegionSource, kernelStart, kernelEnd uintptr) {
	alloc.regions = regions
	alloc.next = 0
	alloc.kernelStartAddr = kernelStart
	alloc.kernelEndAddr = kernelEnd

	// round down kernel start to the nearest page and round up kernel end
	// to the nearest page.
	alloc.reservedStart, alloc.reservedEnd = 0, 0
	if kernelEnd > kernelStart {
		pageSizeMinus1 := uintptr(mm.PageSize - 1)
		alloc.reservedStart = mm.Frame((kernelStart &^ pageSizeMinus1) >> mm.PageShift)
		alloc.reservedEnd = mm.Frame(((kernelEnd + pageSizeMinus1) &^ pageSizeMinus1) >> mm.PageShift)
	}
}

// AllocCount returns the number of frames handed out so far.
func (alloc *BootMemAllocator) AllocCount() uint64 {
	alloc.mutex.Acquire()
	count := alloc.next
	alloc.mutex.Release()
	return count
}

// AllocFrame returns the next available free frame or ErrOutOfMemory if all
// usable frames have been allocated. Once AllocFrame reports ErrOutOfMemory
// it will keep doing so for all subsequent calls.
func (alloc *BootMemAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	alloc.mutex.Acquire()

	frame := alloc.nthFrame(alloc.next)
	if !frame.Valid() {
		alloc.mutex.Release()
		return mm.InvalidFrame, ErrOutOfMemory
	}

	alloc.next++
	alloc.mutex.Release()
	return frame, nil
}

// nthFrame returns the n-th (0-based) usable frame or InvalidFrame if the
// memory map contains less than n+1 usable frames.
func (alloc *BootMemAllocator) nthFrame(n uint64) mm.Frame {
	if alloc.regions == nil {
		return mm.InvalidFrame
	}

	var (
		frame     = mm.InvalidFrame
		remaining = n
	)

	visitor := func(region multiboot.MemoryMapEntry) bool {
		// Ignore reserved regions and regions smaller than a single page
		if region.Type != multiboot.MemAvailable || region.Length < uint64(mm.PageSize) {
			return true
		}

		start, end := regionFrames(region)

		if alloc.reservedEnd > alloc.reservedStart {
			// frames before the kernel image
			if found := pickFrame(start, min(end, alloc.reservedStart), &remaining, &frame); found {
				return false
			}
			start = max(start, alloc.reservedEnd)
		}

		return !pickFrame(start, end, &remaining, &frame)
	}

	// Use the noescape hack to prevent the compiler from leaking the visitor
	// function literal to the heap.
	alloc.regions(
		*(*multiboot.MemRegionVisitor)(noEscape(unsafe.Pointer(&visitor))),
	)

	return frame
}

// regionFrames returns the frames [start, end) that are fully contained in
// region. Reported addresses may not be page-aligned; the start is rounded up
// and the end rounded down.
func regionFrames(region multiboot.MemoryMapEntry) (mm.Frame, mm.Frame) {
	pageSizeMinus1 := uint64(mm.PageSize - 1)
	start := mm.Frame(((region.PhysAddress + pageSizeMinus1) &^ pageSizeMinus1) >> mm.PageShift)
	end := mm.Frame(((region.PhysAddress + region.Length) &^ pageSizeMinus1) >> mm.PageShift)
	if end < start {
		end = start
	}
	return start, end
}

// pickFrame selects the frame at offset *remaining of [start, end) if the
// range is large enough. Otherwise, it subtracts the range length from
// *remaining so the search can continue with the next range.
func pickFrame(start, end mm.Frame, remaining *uint64, frame *mm.Frame) bool {
	if end <= start {
		return false
	}

	if count := uint64(end - start); *remaining >= count {
		*remaining -= count
		return false
	}

	*frame = start + mm.Frame(*remaining)
	return true
}

// PrintMemoryMap scans the memory region information provided by the
// bootloader and prints out the system's memory map.
func (alloc *BootMemAllocator) PrintMemoryMap(w io.Writer) {
	if alloc.regions == nil {
		return
	}

	out := kfmt.PrefixWriter{Sink: w, Prefix: pmmPrefix}
	kfmt.Fprintf(&out, "system memory map:\n")
	var totalFree mm.Size
	visitor := func(region multiboot.MemoryMapEntry) bool {
		kfmt.Fprintf(&out, "\t[0x%10x - 0x%10x], size: %10d, type: %s\n", region.PhysAddress, region.PhysAddress+region.Length, region.Length, region.Type.String())

		if region.Type == multiboot.MemAvailable {
			totalFree += mm.Size(region.Length)
		}
		return true
	}
	alloc.regions(
		*(*multiboot.MemRegionVisitor)(noEscape(unsafe.Pointer(&visitor))),
	)

	kfmt.Fprintf(&out, "available memory: %dKb\n", uint64(totalFree/mm.Kb))
	if alloc.reservedEnd > alloc.reservedStart {
		kfmt.Fprintf(&out, "kernel loaded at 0x%x - 0x%x\n", alloc.kernelStartAddr, alloc.kernelEndAddr)
		kfmt.Fprintf(&out, "size: %d bytes, reserved pages: %d\n",
			uint64(alloc.kernelEndAddr-alloc.kernelStartAddr),
			uint64(alloc.reservedEnd-alloc.reservedStart),
		)
	}
}

// noEscape hides a pointer from escape analysis. This function is copied over
// from runtime/stubs.go
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
