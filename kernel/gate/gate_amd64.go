// Package gate implements the interrupt descriptor table and the dispatching
// of exceptions and hardware interrupts to their registered handlers.
package gate

import (
	"io"
	"unsafe"
	"wallyos/kernel"
	"wallyos/kernel/cpu"
	"wallyos/kernel/kfmt"
	"wallyos/kernel/segment"
)

// Registers contains a snapshot of all register values when an exception
// or interrupt occurs.
type Registers struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	// Vector is the interrupt number that triggered the entry.
	Vector uint64

	// ErrorCode holds the error code pushed by the CPU for exceptions that
	// provide one; it is 0 for all other vectors.
	ErrorCode uint64

	// The return frame used by IRETQ
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "RAX = %16x RBX = %16x\n", r.RAX, r.RBX)
	kfmt.Fprintf(w, "RCX = %16x RDX = %16x\n", r.RCX, r.RDX)
	kfmt.Fprintf(w, "RSI = %16x RDI = %16x\n", r.RSI, r.RDI)
	kfmt.Fprintf(w, "RBP = %16x\n", r.RBP)
	kfmt.Fprintf(w, "R8  = %16x R9  = %16x\n", r.R8, r.R9)
	kfmt.Fprintf(w, "R10 = %16x R11 = %16x\n", r.R10, r.R11)
	kfmt.Fprintf(w, "R12 = %16x R13 = %16x\n", r.R12, r.R13)
	kfmt.Fprintf(w, "R14 = %16x R15 = %16x\n", r.R14, r.R15)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "RIP = %16x CS  = %16x\n", r.RIP, r.CS)
	kfmt.Fprintf(w, "RSP = %16x SS  = %16x\n", r.RSP, r.SS)
	kfmt.Fprintf(w, "RFL = %16x\n", r.RFlags)
}

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint8

const (
	// DivideByZero occurs when dividing any number by 0 using the DIV or
	// IDIV instruction.
	DivideByZero = InterruptNumber(0)

	// Debug is raised by the debug registers and single-step mode.
	Debug = InterruptNumber(1)

	// NMI (non-maskable-interrupt) is a hardware interrupt that indicates
	// issues with RAM or unrecoverable hardware problems. It may also be
	// raised by the CPU when a watchdog timer is enabled.
	NMI = InterruptNumber(2)

	// Breakpoint is raised by the INT3 instruction. The saved RIP points
	// to the instruction following INT3.
	Breakpoint = InterruptNumber(3)

	// Overflow occurs when an overflow occurs (e.g result of division
	// cannot fit into the registers used).
	Overflow = InterruptNumber(4)

	// BoundRangeExceeded occurs when the BOUND instruction is invoked with
	// an index out of range.
	BoundRangeExceeded = InterruptNumber(5)

	// InvalidOpcode occurs when the CPU attempts to execute an invalid or
	// undefined instruction opcode.
	InvalidOpcode = InterruptNumber(6)

	// DeviceNotAvailable occurs when the CPU attempts to execute an
	// FPU/MMX/SSE instruction while no FPU is available or while
	// FPU/MMX/SSE support has been disabled by manipulating the CR0
	// register.
	DeviceNotAvailable = InterruptNumber(7)

	// DoubleFault occurs when an unhandled exception occurs or when an
	// exception occurs within a running exception handler.
	DoubleFault = InterruptNumber(8)

	// InvalidTSS occurs when the TSS points to an invalid task segment
	// selector.
	InvalidTSS = InterruptNumber(10)

	// SegmentNotPresent occurs when the CPU attempts to load a segment or
	// invoke a gate whose present bit is cleared.
	SegmentNotPresent = InterruptNumber(11)

	// StackSegmentFault occurs when attempting to push/pop from a
	// non-canonical stack address or when the stack base/limit (set in
	// GDT) checks fail.
	StackSegmentFault = InterruptNumber(12)

	// GPFException occurs when a general protection fault occurs.
	GPFException = InterruptNumber(13)

	// PageFaultException occurs when a page directory table (PDT) or one
	// of its entries is not present or when a privilege and/or RW
	// protection check fails.
	PageFaultException = InterruptNumber(14)

	// FloatingPointException occurs while invoking an FP instruction while:
	//  - CR0.NE = 1 OR
	//  - an unmasked FP exception is pending
	FloatingPointException = InterruptNumber(16)

	// AlignmentCheck occurs when alignment checks are enabled and an
	// unaligmed memory access is performed.
	AlignmentCheck = InterruptNumber(17)

	// MachineCheck occurs when the CPU detects internal errors such as
	// memory-, bus- or cache-related errors.
	MachineCheck = InterruptNumber(18)

	// SIMDFloatingPointException occurs when an unmasked SSE exception
	// occurs while CR4.OSXMMEXCPT is set to 1. If the OSXMMEXCPT bit is
	// not set, SIMD FP exceptions cause InvalidOpcode exceptions instead.
	SIMDFloatingPointException = InterruptNumber(19)

	// Timer is the vector of the PIT interrupt (IRQ0) after the PIC has
	// been remapped.
	Timer = InterruptNumber(32)

	// Keyboard is the vector of the PS/2 keyboard interrupt (IRQ1) after
	// the PIC has been remapped.
	Keyboard = InterruptNumber(33)
)

// String returns the name of an exception vector or "IRQ" for vectors above
// the CPU-reserved range.
func (n InterruptNumber) String() string {
	switch n {
	case DivideByZero:
		return "DIVIDE BY ZERO"
	case Debug:
		return "DEBUG"
	case NMI:
		return "NMI"
	case Breakpoint:
		return "BREAKPOINT"
	case Overflow:
		return "OVERFLOW"
	case BoundRangeExceeded:
		return "BOUND RANGE EXCEEDED"
	case InvalidOpcode:
		return "INVALID OPCODE"
	case DeviceNotAvailable:
		return "DEVICE NOT AVAILABLE"
	case DoubleFault:
		return "DOUBLE FAULT"
	case InvalidTSS:
		return "INVALID TSS"
	case SegmentNotPresent:
		return "SEGMENT NOT PRESENT"
	case StackSegmentFault:
		return "STACK SEGMENT FAULT"
	case GPFException:
		return "GENERAL PROTECTION FAULT"
	case PageFaultException:
		return "PAGE FAULT"
	case FloatingPointException:
		return "X87 FLOATING POINT"
	case AlignmentCheck:
		return "ALIGNMENT CHECK"
	case MachineCheck:
		return "MACHINE CHECK"
	case SIMDFloatingPointException:
		return "SIMD FLOATING POINT"
	case Timer:
		return "TIMER"
	case Keyboard:
		return "KEYBOARD"
	}

	if n < firstIRQVector {
		return "RESERVED"
	}
	return "IRQ"
}

const (
	numGates = 256

	// firstIRQVector is the first vector that is not reserved by the CPU.
	firstIRQVector = InterruptNumber(32)

	// numEntryStubs is the number of vectors that have an assembly entry
	// stub: the CPU exceptions and the 16 remapped PIC lines.
	numEntryStubs = 48

	// Present, DPL 0, 64-bit interrupt gate. Interrupt gates clear IF on
	// entry so handlers are never nested by maskable interrupts.
	interruptGateAttr = 0x8e

	// Error code bit set by the CPU when the selector index refers to an
	// IDT entry.
	errorCodeIDT = 1 << 1
)

// Handler processes an exception or interrupt. Any modifications to the
// supplied registers will be restored when the handler returns.
type Handler func(*Registers)

// handlerKind tags how the dispatcher treats a bound vector.
type handlerKind uint8

const (
	kindUnused handlerKind = iota

	// kindTrap handlers may return; execution resumes at the saved RIP.
	kindTrap

	// kindFault handlers must not return.
	kindFault

	// kindIRQ handlers service a hardware interrupt and must signal the
	// end of interrupt before returning.
	kindIRQ
)

type entry struct {
	kind handlerKind
	ist  uint8
	fn   Handler
}

// gateDescriptor is the 16-byte IDT gate format used in long mode.
type gateDescriptor struct {
	offsetLow  uint16
	selector   uint16
	ist        uint8
	attr       uint8
	offsetMid  uint16
	offsetHigh uint32
	reserved   uint32
}

// pseudoDescriptor is the operand of LIDT.
type pseudoDescriptor struct {
	_     [3]uint16
	limit uint16
	base  uint64
}

var (
	// ErrVectorInUse is returned when a handler is already bound to a vector.
	ErrVectorInUse = &kernel.Error{Module: "gate", Message: "a handler is already bound to this vector"}

	// ErrNoEntryStub is returned when binding a vector that has no entry stub.
	ErrNoEntryStub = &kernel.Error{Module: "gate", Message: "no entry stub for this vector"}

	// ErrInvalidVector is returned when an exception handler is bound to an
	// IRQ vector or vice versa.
	ErrInvalidVector = &kernel.Error{Module: "gate", Message: "vector does not match the handler type"}

	// ErrFaultReturned is raised when a handler for a non-recoverable
	// fault returns.
	ErrFaultReturned = &kernel.Error{Module: "gate", Message: "fault handler returned"}

	// ErrUnhandledVector is raised when an interrupt arrives for a vector
	// without a handler and no unhandled hook is installed.
	ErrUnhandledVector = &kernel.Error{Module: "gate", Message: "unhandled interrupt"}

	// activeTable is the table that was last loaded to the CPU. It is the
	// only route from the assembly entry stubs back to Go code.
	activeTable *Table

	// the following functions are mocked by tests.
	loadIDTFn       = cpu.LoadIDT
	gateEntryAddrFn = gateEntryAddr
	panicFn         = kfmt.Panic
)

// Table is the interrupt descriptor table together with the handlers that
// back each descriptor. A Table must live in static storage as the CPU keeps
// referencing it after Load.
type Table struct {
	idt       [numGates]gateDescriptor
	entries   [numGates]entry
	idtr      pseudoDescriptor
	unhandled Handler
}

// HandleException binds a recoverable exception handler to one of the CPU
// exception vectors. The interrupted code resumes when fn returns.
func (t *Table) HandleException(num InterruptNumber, fn Handler) *kernel.Error {
	if num >= firstIRQVector {
		return ErrInvalidVector
	}
	return t.bind(num, entry{kind: kindTrap, fn: fn})
}

// HandleFault binds a handler for a non-recoverable exception. If ist is
// non-zero, the CPU switches to the stack stored in the matching TSS
// interrupt stack table slot before invoking the handler. fn is not expected
// to return; if it does the kernel panics.
func (t *Table) HandleFault(num InterruptNumber, ist uint8, fn Handler) *kernel.Error {
	if num >= firstIRQVector {
		return ErrInvalidVector
	}
	return t.bind(num, entry{kind: kindFault, ist: ist & 0x7, fn: fn})
}

// HandleIRQ binds a hardware interrupt handler to a remapped PIC vector.
func (t *Table) HandleIRQ(num InterruptNumber, fn Handler) *kernel.Error {
	if num < firstIRQVector {
		return ErrInvalidVector
	}
	return t.bind(num, entry{kind: kindIRQ, fn: fn})
}

// SetUnhandledHandler registers the handler invoked for interrupts that
// arrive on a vector without a bound handler.
func (t *Table) SetUnhandledHandler(fn Handler) {
	t.unhandled = fn
}

func (t *Table) bind(num InterruptNumber, e entry) *kernel.Error {
	if num >= numEntryStubs {
		return ErrNoEntryStub
	}

	if t.entries[num].kind != kindUnused {
		return ErrVectorInUse
	}

	t.entries[num] = e
	return nil
}

// Load encodes a gate descriptor for each vector that has an entry stub and
// loads the table to the CPU. Stub vectors without a handler still get a
// present gate so Dispatch can route them to the unhandled handler. The
// remaining vectors are left not-present; if one of them fires, the CPU
// raises a segment-not-present exception whose error code Dispatch decodes.
func (t *Table) Load() {
	for num := range t.entries {
		if num >= numEntryStubs {
			t.idt[num] = gateDescriptor{}
			continue
		}

		t.idt[num] = newGateDescriptor(gateEntryAddrFn(uint8(num)), segment.KernelCodeSelector, t.entries[num].ist)
	}

	t.idtr.limit = uint16(unsafe.Sizeof(t.idt)) - 1
	t.idtr.base = uint64(uintptr(unsafe.Pointer(&t.idt[0])))

	activeTable = t
	loadIDTFn(uintptr(unsafe.Pointer(&t.idtr.limit)))
}

func newGateDescriptor(handlerAddr uintptr, selector uint16, ist uint8) gateDescriptor {
	return gateDescriptor{
		offsetLow:  uint16(handlerAddr),
		selector:   selector,
		ist:        ist & 0x7,
		attr:       interruptGateAttr,
		offsetMid:  uint16(handlerAddr >> 16),
		offsetHigh: uint32(handlerAddr >> 32),
	}
}

// Dispatch routes the interrupt described by regs to its bound handler.
func (t *Table) Dispatch(regs *Registers) {
	num := InterruptNumber(regs.Vector)

	// A not-present IDT gate: report the vector that was actually raised.
	if num == SegmentNotPresent && regs.ErrorCode&errorCodeIDT != 0 {
		if missing := InterruptNumber(regs.ErrorCode >> 3); t.entries[missing].kind == kindUnused {
			regs.Vector = uint64(missing)
			t.dispatchUnhandled(regs)
			return
		}
	}

	e := &t.entries[num]
	switch e.kind {
	case kindTrap, kindIRQ:
		e.fn(regs)
	case kindFault:
		e.fn(regs)
		panicFn(ErrFaultReturned)
	default:
		t.dispatchUnhandled(regs)
	}
}

func (t *Table) dispatchUnhandled(regs *Registers) {
	if t.unhandled == nil {
		panicFn(ErrUnhandledVector)
		return
	}
	t.unhandled(regs)
}

// dispatchInterrupt is invoked by the interrupt gate entrypoints to route
// an incoming interrupt to the active table.
func dispatchInterrupt(regs *Registers) {
	if activeTable == nil {
		panicFn(ErrUnhandledVector)
		return
	}
	activeTable.Dispatch(regs)
}

// gateEntryAddr returns the address of the assembly entry stub for the
// supplied vector which must be less than numEntryStubs.
func gateEntryAddr(vector uint8) uintptr
