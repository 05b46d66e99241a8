// Package multiboot parses the multiboot2 information block that the
// bootloader passes to the kernel. All accessors read the block in place and
// never allocate.
package multiboot

import "unsafe"

var (
	infoData uintptr
)

type tagType uint32

// nolint
const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
	tagVbeInfo
	tagFramebufferInfo
	tagElfSymbols
	tagApmTable
)

// info describes the multiboot info section header.
type info struct {
	// Total size of multiboot info section.
	totalSize uint32

	// Always set to zero; reserved for future use
	reserved uint32
}

// tagHeader describes the header the preceedes each tag.
type tagHeader struct {
	// The type of the tag
	tagType tagType

	// The size of the tag including the header but *not* including any
	// padding. Tags always start at an 8-byte aligned address.
	size uint32
}

// mmapHeader describes the header for a memory map specification.
type mmapHeader struct {
	// The size of each entry.
	entrySize uint32

	// The version of the entries that follow.
	entryVersion uint32
}

// FramebufferType defines the type of the initialized framebuffer.
type FramebufferType uint8

const (
	// FramebufferTypeIndexed specifies a 256-color palette.
	FramebufferTypeIndexed FramebufferType = iota

	// FramebufferTypeRGB specifies direct RGB mode.
	FramebufferTypeRGB

	// FramebufferTypeEGA specifies EGA text mode.
	FramebufferTypeEGA
)

// FramebufferInfo provides information about the initialized framebuffer.
type FramebufferInfo struct {
	// The framebuffer physical address.
	PhysAddr uint64

	// Row pitch in bytes.
	Pitch uint32

	// Width and height in pixels (or characters if Type = FramebufferTypeEGA)
	Width, Height uint32

	// Bits per pixel (non EGA modes only).
	Bpp uint8

	// Framebuffer type.
	Type FramebufferType
}

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// Any value >= memUnknown will be mapped to MemReserved.
	memUnknown
)

// MemRegionVisitor defies a visitor function that gets invoked by VisitMemRegions
// for each memory region provided by the boot loader. The visitor must return true
// to continue or false to abort the scan.
type MemRegionVisitor func(entry MemoryMapEntry) bool

// MemoryMapEntry describes a memory region entry, namely its physical address,
// its length and its type.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	default:
		return "unknown"
	}
}

type elfSections struct {
	numSections        uint16
	sectionSize        uint32
	strtabSectionIndex uint32
	sectionData        [0]byte
}

type elfSection32 struct {
	nameIndex   uint32
	sectionType uint32
	flags       uint32
	address     uint32
	offset      uint32
	size        uint32
	link        uint32
	info        uint32
	addrAlign   uint32
	entSize     uint32
}

type elfSection64 struct {
	nameIndex   uint32
	sectionType uint32
	flags       uint64
	address     uint64
	offset      uint64
	size        uint64
	link        uint32
	info        uint32
	addrAlign   uint64
	entSize     uint64
}

// sectionAllocated is set for sections that occupy memory once the image is
// loaded.
const sectionAllocated = 1 << 1

// sectionAt decodes the flags, address and size of the section header at
// ptr. The bootloader reports the header size which tells apart 32-bit and
// 64-bit images.
func sectionAt(ptr uintptr, sectionSize uint32) (flags uint64, address uintptr, size uint64) {
	if sectionSize == uint32(unsafe.Sizeof(elfSection32{})) {
		sec := (*elfSection32)(unsafe.Pointer(ptr))
		return uint64(sec.flags), uintptr(sec.address), uint64(sec.size)
	}

	sec := (*elfSection64)(unsafe.Pointer(ptr))
	return sec.flags, uintptr(sec.address), sec.size
}

// SetInfoPtr updates the internal multiboot information pointer to the given
// value. This function must be invoked before invoking any other function
// exported by this package.
func SetInfoPtr(ptr uintptr) {
	infoData = ptr
}

// VisitMemRegions will invoke the supplied visitor for each memory region that
// is defined by the multiboot info data that we received from the bootloader.
//
// The visitor receives each entry by value; the bootloader-supplied map is
// never modified. Entries with an unknown type are reported as MemReserved.
func VisitMemRegions(visitor MemRegionVisitor) {
	curPtr, size := findTagByType(tagMemoryMap)
	if size == 0 {
		return
	}

	// curPtr points to the memory map header (2 dwords long)
	ptrMapHeader := (*mmapHeader)(unsafe.Pointer(curPtr))
	endPtr := curPtr + uintptr(size)
	curPtr += 8

	var entry MemoryMapEntry
	for curPtr != endPtr {
		entry = *(*MemoryMapEntry)(unsafe.Pointer(curPtr))

		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		if !visitor(entry) {
			return
		}

		curPtr += uintptr(ptrMapHeader.entrySize)
	}
}

// KernelImageExtent returns the lowest and highest address occupied by the
// allocated ELF sections of the loaded kernel image. It returns (0, 0) if the
// bootloader did not provide the ELF section tag.
func KernelImageExtent() (start, end uintptr) {
	curPtr, size := findTagByType(tagElfSymbols)
	if size == 0 {
		return 0, 0
	}

	var (
		header = (*elfSections)(unsafe.Pointer(curPtr))
		secPtr = uintptr(unsafe.Pointer(&header.sectionData))
		stride = uintptr(header.sectionSize)
	)

	for secIndex := uint16(0); secIndex < header.numSections; secIndex, secPtr = secIndex+1, secPtr+stride {
		flags, addr, secSize := sectionAt(secPtr, header.sectionSize)
		if flags&sectionAllocated == 0 || secSize == 0 {
			continue
		}

		if start == 0 || addr < start {
			start = addr
		}
		if secEnd := addr + uintptr(secSize); secEnd > end {
			end = secEnd
		}
	}

	return start, end
}

// GetFramebufferInfo returns information about the framebuffer initialized by the
// bootloader. This function returns nil if no framebuffer info is available.
func GetFramebufferInfo() *FramebufferInfo {
	var info *FramebufferInfo

	curPtr, size := findTagByType(tagFramebufferInfo)
	if size != 0 {
		info = (*FramebufferInfo)(unsafe.Pointer(curPtr))
	}

	return info
}

// GetBootLoaderName returns the name of the bootloader that loaded the kernel
// or an empty string if the bootloader did not provide one.
func GetBootLoaderName() string {
	curPtr, size := findTagByType(tagBootLoaderName)
	if size == 0 {
		return ""
	}

	return cString(curPtr)
}

// CmdLineVisitor is invoked by VisitBootCmdLine for each option passed to the
// kernel. Options without an "=" are reported with value equal to the key.
// The visitor must return true to continue or false to abort the scan.
type CmdLineVisitor func(key, value string) bool

// VisitBootCmdLine splits the kernel command line into whitespace-separated
// key=value options and invokes visitor for each one. The strings passed to
// the visitor point into the multiboot info block so no memory is allocated.
func VisitBootCmdLine(visitor CmdLineVisitor) {
	curPtr, size := findTagByType(tagBootCmdLine)
	if size == 0 {
		return
	}

	cmdLine := cString(curPtr)
	for len(cmdLine) != 0 {
		// skip leading whitespace
		for len(cmdLine) != 0 && isSpace(cmdLine[0]) {
			cmdLine = cmdLine[1:]
		}

		end := 0
		for end < len(cmdLine) && !isSpace(cmdLine[end]) {
			end++
		}

		if end == 0 {
			return
		}

		pair := cmdLine[:end]
		cmdLine = cmdLine[end:]

		key, value := pair, pair
		for i := 0; i < len(pair); i++ {
			if pair[i] == '=' {
				key, value = pair[:i], pair[i+1:]
				break
			}
		}

		if !visitor(key, value) {
			return
		}
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// cString returns a string that aliases the NULL-terminated C string at ptr.
func cString(ptr uintptr) string {
	var length int
	for ; *(*byte)(unsafe.Pointer(ptr + uintptr(length))) != 0; length++ {
	}

	if length == 0 {
		return ""
	}

	return unsafe.String((*byte)(unsafe.Pointer(ptr)), length)
}

// findTagByType scans the multiboot info data looking for the start of of the
// specified type. It returns a pointer to the tag contents start offset and
// the content length exluding the tag header.
//
// If the tag is not present in the multiboot info, findTagSection will return
// back (0,0).
func findTagByType(tagType tagType) (uintptr, uint32) {
	var ptrTagHeader *tagHeader

	curPtr := infoData + 8
	for ptrTagHeader = (*tagHeader)(unsafe.Pointer(curPtr)); ptrTagHeader.tagType != tagMbSectionEnd; ptrTagHeader = (*tagHeader)(unsafe.Pointer(curPtr)) {
		if ptrTagHeader.tagType == tagType {
			return curPtr + 8, ptrTagHeader.size - 8
		}

		// Tags are aligned at 8-byte aligned addresses
		curPtr += uintptr(int32(ptrTagHeader.size+7) & ^7)
	}

	return 0, 0
}
