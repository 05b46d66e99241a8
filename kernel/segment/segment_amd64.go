// Package segment sets up the global descriptor table and the task state
// segment. The only purpose of the TSS in a long mode kernel without user
// tasks is to provide the interrupt stack table so that the double fault
// handler always runs on a known-good stack.
package segment

import (
	"encoding/binary"
	"unsafe"
	"wallyos/kernel/cpu"
	"wallyos/kernel/mm"
)

const (
	// KernelCodeSelector is the GDT selector for the 64-bit kernel code segment.
	KernelCodeSelector uint16 = 1 << 3

	// KernelDataSelector is the GDT selector for the kernel data segment.
	KernelDataSelector uint16 = 2 << 3

	// TSSSelector is the GDT selector for the task state segment. The TSS
	// descriptor occupies two GDT slots.
	TSSSelector uint16 = 3 << 3

	// DoubleFaultISTIndex is the interrupt stack table slot (1-based, as
	// encoded in an IDT gate) that holds the double fault stack.
	DoubleFaultISTIndex uint8 = 1

	// DoubleFaultStackSize is the size of the dedicated double fault stack.
	DoubleFaultStackSize = 5 * mm.PageSize

	gdtEntries = 5

	// Access byte 0x9a (present, ring 0, code, readable) with the L flag.
	kernelCodeDescriptor = uint64(0x00af9a000000ffff)

	// Access byte 0x92 (present, ring 0, data, writable).
	kernelDataDescriptor = uint64(0x00cf92000000ffff)

	// Available 64-bit TSS.
	tssDescriptorType = uint64(0x89)

	tssSize = 104

	// Byte offset of IST1 inside the TSS.
	tssISTOffset = 0x24

	// Byte offset of the I/O map base field inside the TSS.
	tssIOMapBaseOffset = 0x66
)

var (
	// the following functions are mocked by tests as executing the
	// underlying instructions in user-mode causes a GPF.
	loadGDTFn          = cpu.LoadGDT
	setCodeSegmentFn   = cpu.SetCodeSegment
	setDataSegmentsFn  = cpu.SetDataSegments
	loadTaskRegisterFn = cpu.LoadTaskRegister
)

// pseudoDescriptor is the operand of LGDT/LIDT: a 16-bit limit immediately
// followed by the 64-bit base. The padding places base on its natural
// alignment so that the address of limit can be passed to the CPU.
type pseudoDescriptor struct {
	_     [3]uint16
	limit uint16
	base  uint64
}

// Table owns the GDT, the TSS and the double fault stack. A Table must live
// in static storage as the CPU keeps referencing it after Load.
type Table struct {
	gdt  [gdtEntries]uint64
	tss  [tssSize]byte
	gdtr pseudoDescriptor

	doubleFaultStack [DoubleFaultStackSize]byte
}

// Init populates the GDT with the kernel code and data descriptors and a
// TSS descriptor whose IST slot DoubleFaultISTIndex points to the top of the
// dedicated double fault stack.
func (t *Table) Init() {
	t.gdt[0] = 0
	t.gdt[KernelCodeSelector>>3] = kernelCodeDescriptor
	t.gdt[KernelDataSelector>>3] = kernelDataDescriptor

	for i := range t.tss {
		t.tss[i] = 0
	}
	t.setISTEntry(DoubleFaultISTIndex, t.DoubleFaultStackTop())

	// No I/O permission bitmap
	binary.LittleEndian.PutUint16(t.tss[tssIOMapBaseOffset:], tssSize)

	low, high := tssDescriptor(uint64(uintptr(unsafe.Pointer(&t.tss[0]))), tssSize-1)
	t.gdt[TSSSelector>>3] = low
	t.gdt[(TSSSelector>>3)+1] = high

	t.gdtr.limit = uint16(unsafe.Sizeof(t.gdt)) - 1
	t.gdtr.base = uint64(uintptr(unsafe.Pointer(&t.gdt[0])))
}

// Load activates the GDT, reloads the segment registers with the kernel
// selectors and loads the task register.
func (t *Table) Load() {
	loadGDTFn(uintptr(unsafe.Pointer(&t.gdtr.limit)))
	setCodeSegmentFn(KernelCodeSelector)
	setDataSegmentsFn(KernelDataSelector)
	loadTaskRegisterFn(TSSSelector)
}

// DoubleFaultStackTop returns the 16-byte aligned initial stack pointer for
// the double fault handler.
func (t *Table) DoubleFaultStackTop() uint64 {
	end := uint64(uintptr(unsafe.Pointer(&t.doubleFaultStack[0]))) + uint64(DoubleFaultStackSize)
	return end &^ 15
}

// OnDoubleFaultStack returns true if rsp points inside the double fault stack.
func (t *Table) OnDoubleFaultStack(rsp uint64) bool {
	start := uint64(uintptr(unsafe.Pointer(&t.doubleFaultStack[0])))
	return rsp >= start && rsp <= t.DoubleFaultStackTop()
}

func (t *Table) setISTEntry(index uint8, rsp uint64) {
	binary.LittleEndian.PutUint64(t.tss[tssISTOffset+8*int(index-1):], rsp)
}

// tssDescriptor encodes the 16-byte system segment descriptor for a TSS
// located at base.
func tssDescriptor(base uint64, limit uint32) (low, high uint64) {
	low = uint64(limit&0xffff) |
		(base&0xffffff)<<16 |
		tssDescriptorType<<40 |
		uint64((limit>>16)&0xf)<<48 |
		((base>>24)&0xff)<<56
	high = base >> 32
	return low, high
}
