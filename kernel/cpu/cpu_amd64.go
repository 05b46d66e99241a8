package cpu

var (
	// the following functions are mocked by tests that exercise HaltForever.
	haltFn              = Halt
	disableInterruptsFn = DisableInterrupts
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution until the next interrupt arrives.
func Halt()

// HaltForever parks the CPU in a low-power wait state. Interrupts are masked
// first so the only way out is a reset. HaltForever never returns.
func HaltForever() {
	disableInterruptsFn()
	for {
		haltFn()
	}
}

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// ActivePDT returns the physical address of the currently active top-level
// page table (the contents of CR3 with the flag bits cleared).
func ActivePDT() uintptr

// ReadCR2 returns the value stored in the CR2 register (the faulting
// address of the last page fault).
func ReadCR2() uint64

// ReadRSP returns the current value of the stack pointer.
func ReadRSP() uint64

// LoadIDT loads the IDT pseudo-descriptor (a 16-bit limit followed by the
// 64-bit table address) located at descriptorAddr.
func LoadIDT(descriptorAddr uintptr)

// LoadGDT loads the GDT pseudo-descriptor located at descriptorAddr.
func LoadGDT(descriptorAddr uintptr)

// SetCodeSegment reloads CS with the supplied selector using a far return.
func SetCodeSegment(selector uint16)

// SetDataSegments loads DS, ES and SS with the supplied selector. FS and GS
// are left untouched as reloading them clears the base used for TLS.
func SetDataSegments(selector uint16)

// LoadTaskRegister loads TR with the supplied TSS selector.
func LoadTaskRegister(selector uint16)

// Breakpoint raises a breakpoint exception (int3).
func Breakpoint()

// ExhaustStack pushes values to the stack until it runs into an unmapped
// page. It never returns.
func ExhaustStack()

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8)

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(port uint16) uint8

// IOWait performs a write to an unused port so that slow devices (e.g. the
// 8259 PIC) get enough time to react to the previous command.
func IOWait() {
	PortWriteByte(0x80, 0)
}
