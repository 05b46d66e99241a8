package mm

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)). The pointer
	// size for this architecture is defined as (1 << PointerShift).
	PointerShift = 3

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = 12

	// PageSize defines the system's page size in bytes.
	PageSize = Size(1 << PageShift)

	// PageTableLevels is the depth of the amd64 page table hierarchy.
	PageTableLevels = 4

	// EntriesPerTable is the number of entries in each page table.
	EntriesPerTable = 1 << tableIndexBits

	tableIndexBits = 9

	// physAddrBits is the architectural limit for physical addresses.
	physAddrBits = 52

	// virtAddrBits is the number of implemented virtual address bits. Bits
	// 48-63 of a canonical address are copies of bit 47.
	virtAddrBits = 48
)
