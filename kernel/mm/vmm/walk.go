package vmm

import (
	"unsafe"
	"wallyos/kernel"
	"wallyos/kernel/cpu"
	"wallyos/kernel/mm"
)

var (
	// activePDTFn returns the physical address of the active top-level
	// table. It is replaced by tests as reading CR3 faults in user-mode.
	activePDTFn = cpu.ActivePDT

	// tablePtrFn returns a pointer to the page table located at the
	// supplied virtual address. It is used by tests to redirect table
	// accesses into fake page tables. When compiling the kernel this
	// function will be automatically inlined.
	tablePtrFn = func(tableAddr uintptr) unsafe.Pointer {
		return unsafe.Pointer(tableAddr)
	}

	// ErrTableUnreachable is returned when a page table's physical address
	// cannot be reached through the physical memory offset mapping.
	ErrTableUnreachable = &kernel.Error{Module: "vmm", Message: "page table is outside the physical memory mapping"}
)

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments.  If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// tableAt returns the page table stored at the supplied physical address.
// All physical memory is expected to be mapped starting at physMemOffset.
func tableAt(tablePhys mm.PhysAddr, physMemOffset mm.VirtAddr) (*pageTable, *kernel.Error) {
	tableVirt, ok := tablePhys.ToVirt(physMemOffset)
	if !ok {
		return nil, ErrTableUnreachable
	}

	return (*pageTable)(tablePtrFn(tableVirt.Pointer())), nil
}

// walk performs a page table walk for the given virtual address starting at
// the table referenced by CR3. Each level's table is located at
// physMemOffset + the physical address stored in the parent entry. walkFn is
// invoked with the entry that corresponds to each level; the walk stops when
// walkFn returns false. walkFn may update the entry before returning true
// (e.g. to install a missing table).
func walk(virtAddr, physMemOffset mm.VirtAddr, walkFn pageTableWalker) *kernel.Error {
	tablePhys := mm.PhysAddr(activePDTFn())

	for level := uint8(0); level < pageLevels; level++ {
		table, err := tableAt(tablePhys, physMemOffset)
		if err != nil {
			return err
		}

		pte := &table[virtAddr.TableIndex(level)]
		if !walkFn(level, pte) {
			return nil
		}

		tablePhys = pte.Frame().Address()
	}

	return nil
}

// topLevelShift is the number of address bits covered by a top-level entry.
const topLevelShift = mm.PageShift + (pageLevels-1)*9

// ErrNoUnusedRegion is returned by UnusedTopLevelRegion when every slot of
// the lower half of the top-level table is in use.
var ErrNoUnusedRegion = &kernel.Error{Module: "vmm", Message: "no unused top-level region"}

// UnusedTopLevelRegion returns the start address of the first region of the
// lower half of the address space whose top-level table entry is not present.
// The region that starts at address 0 is never returned.
func UnusedTopLevelRegion(physMemOffset mm.VirtAddr) (mm.VirtAddr, *kernel.Error) {
	table, err := tableAt(mm.PhysAddr(activePDTFn()), physMemOffset)
	if err != nil {
		return 0, err
	}

	for index := 1; index < mm.EntriesPerTable/2; index++ {
		if !table[index].HasFlags(FlagPresent) {
			return mm.VirtAddr(uint64(index) << topLevelShift), nil
		}
	}

	return 0, ErrNoUnusedRegion
}
