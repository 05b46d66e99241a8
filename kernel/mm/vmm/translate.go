package vmm

import (
	"wallyos/kernel"
	"wallyos/kernel/mm"
)

var (
	// ErrNotPresent is returned when the virtual address is not backed by
	// a mapped frame. This is the expected outcome for unmapped addresses.
	ErrNotPresent = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrHugePage is returned when the walk encounters a 1G or 2M page.
	// Only 4K mappings are supported.
	ErrHugePage = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
)

// Translate returns the physical address that corresponds to the supplied
// virtual address by walking the active page table hierarchy through the
// physical memory mapping at physMemOffset. It returns ErrNotPresent if
// virtAddr is not mapped and ErrHugePage if a huge page entry is found above
// the leaf level. Translate never modifies the page tables.
func Translate(virtAddr, physMemOffset mm.VirtAddr) (mm.PhysAddr, *kernel.Error) {
	var (
		frame = mm.InvalidFrame
		err   *kernel.Error
	)

	if walkErr := walk(virtAddr, physMemOffset, func(pteLevel uint8, pte *pageTableEntry) bool {
		switch {
		case !pte.HasFlags(FlagPresent):
			err = ErrNotPresent
			return false
		case pteLevel < pageLevels-1 && pte.HasFlags(FlagHugePage):
			err = ErrHugePage
			return false
		case pteLevel == pageLevels-1:
			frame = pte.Frame()
		}
		return true
	}); walkErr != nil {
		return 0, walkErr
	}

	if err != nil {
		return 0, err
	}

	// Calculate the physical address by taking the physical frame address and
	// appending the offset from the virtual address
	return frame.Address() + mm.PhysAddr(virtAddr.PageOffset()), nil
}
