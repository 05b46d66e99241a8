package vmm

import (
	"unsafe"
	"wallyos/kernel"
	"wallyos/kernel/cpu"
	"wallyos/kernel/mm"
)

var (
	// flushTLBEntryFn is used by tests to override calls to flushTLBEntry
	// which will cause a fault if called in user-mode.
	flushTLBEntryFn = cpu.FlushTLBEntry

	// ErrAlreadyMapped is returned by Map when the target page is already
	// backed by a frame.
	ErrAlreadyMapped = &kernel.Error{Module: "vmm", Message: "virtual page is already mapped"}
)

// FrameAllocator is implemented by physical frame allocators that Map can use
// to obtain frames for missing page tables.
type FrameAllocator interface {
	AllocFrame() (mm.Frame, *kernel.Error)
}

// Map establishes a mapping between a virtual page and a physical memory frame
// using the currently active page directory table. Missing intermediate tables
// are allocated from alloc, cleared through the physical memory mapping at
// physMemOffset and linked in as present and writable.
func Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag, physMemOffset mm.VirtAddr, alloc FrameAllocator) *kernel.Error {
	var err *kernel.Error

	if walkErr := walk(page.Address(), physMemOffset, func(pteLevel uint8, pte *pageTableEntry) bool {
		// If we reached the last level all we need to do is to map the
		// frame in place and flag it as present and flush its TLB entry
		if pteLevel == pageLevels-1 {
			if pte.HasFlags(FlagPresent) {
				err = ErrAlreadyMapped
				return false
			}

			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(FlagPresent | flags)
			flushTLBEntryFn(page.Address().Pointer())
			return true
		}

		if pte.HasFlags(FlagPresent) {
			if pte.HasFlags(FlagHugePage) {
				err = ErrHugePage
				return false
			}
			return true
		}

		// Next table does not yet exist; we need to allocate a
		// physical frame for it and clear its contents before it
		// becomes reachable.
		var (
			newTableFrame mm.Frame
			table         *pageTable
		)

		if newTableFrame, err = alloc.AllocFrame(); err != nil {
			return false
		}

		if table, err = tableAt(newTableFrame.Address(), physMemOffset); err != nil {
			return false
		}
		kernel.Memset(uintptr(unsafe.Pointer(table)), 0, uintptr(mm.PageSize))

		*pte = 0
		pte.SetFrame(newTableFrame)
		pte.SetFlags(FlagPresent | FlagRW)
		return true
	}); walkErr != nil {
		return walkErr
	}

	return err
}
