package mm

import "wallyos/kernel"

var (
	// ErrInvalidPhysAddr is returned when a physical address uses bits
	// beyond the architectural 52-bit limit.
	ErrInvalidPhysAddr = &kernel.Error{Module: "mm", Message: "physical address exceeds 52 bits"}

	// ErrNonCanonicalAddr is returned when a virtual address is not in
	// canonical form.
	ErrNonCanonicalAddr = &kernel.Error{Module: "mm", Message: "virtual address is not canonical"}
)

// PhysAddr is a physical memory address. Values created via NewPhysAddr are
// guaranteed to fit in 52 bits.
type PhysAddr uint64

// NewPhysAddr returns a PhysAddr for addr or ErrInvalidPhysAddr if addr does
// not fit in 52 bits.
func NewPhysAddr(addr uint64) (PhysAddr, *kernel.Error) {
	if addr>>physAddrBits != 0 {
		return 0, ErrInvalidPhysAddr
	}
	return PhysAddr(addr), nil
}

// Uint64 returns the raw address value.
func (a PhysAddr) Uint64() uint64 { return uint64(a) }

// IsPageAligned returns true if the address is a multiple of PageSize.
func (a PhysAddr) IsPageAligned() bool { return uint64(a)&uint64(PageSize-1) == 0 }

// ToVirt returns the virtual address through which a is reachable when all
// physical memory is mapped starting at offset. The second return value is
// false if the result overflows or is not a canonical address.
func (a PhysAddr) ToVirt(offset VirtAddr) (VirtAddr, bool) {
	return offset.Add(uint64(a))
}

// VirtAddr is a virtual memory address. Values created via NewVirtAddr or
// VirtAddrTruncate are guaranteed to be canonical.
type VirtAddr uint64

// NewVirtAddr returns a VirtAddr for addr or ErrNonCanonicalAddr if bits
// 48-63 of addr are not copies of bit 47.
func NewVirtAddr(addr uint64) (VirtAddr, *kernel.Error) {
	if VirtAddrTruncate(addr) != VirtAddr(addr) {
		return 0, ErrNonCanonicalAddr
	}
	return VirtAddr(addr), nil
}

// VirtAddrTruncate returns the canonical form of addr by sign-extending
// bit 47 into the upper 16 bits.
func VirtAddrTruncate(addr uint64) VirtAddr {
	return VirtAddr(uint64(int64(addr<<(64-virtAddrBits)) >> (64 - virtAddrBits)))
}

// Uint64 returns the raw address value.
func (a VirtAddr) Uint64() uint64 { return uint64(a) }

// Pointer returns the address as a uintptr suitable for conversion to an
// unsafe.Pointer.
func (a VirtAddr) Pointer() uintptr { return uintptr(a) }

// TableIndex returns the 9-bit index into the page table at the requested
// level (0 is the top-level table, PageTableLevels-1 the leaf table). Levels
// outside that range yield index 0.
func (a VirtAddr) TableIndex(level uint8) uint16 {
	if level >= PageTableLevels {
		return 0
	}

	shift := PageShift + tableIndexBits*(PageTableLevels-1-uint64(level))
	return uint16((uint64(a) >> shift) & (EntriesPerTable - 1))
}

// PageOffset returns the offset of the address within its 4K page.
func (a VirtAddr) PageOffset() uint64 {
	return uint64(a) & uint64(PageSize-1)
}

// Add returns a+delta. The second return value is false if the addition
// wraps around or the result is not canonical.
func (a VirtAddr) Add(delta uint64) (VirtAddr, bool) {
	sum := uint64(a) + delta
	if sum < uint64(a) || VirtAddrTruncate(sum) != VirtAddr(sum) {
		return 0, false
	}
	return VirtAddr(sum), true
}
