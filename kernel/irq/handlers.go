// Package irq implements the kernel's exception and hardware interrupt
// handlers.
package irq

import (
	"io"
	"sync/atomic"
	"wallyos/device/keyboard"
	"wallyos/kernel"
	"wallyos/kernel/cpu"
	"wallyos/kernel/gate"
	"wallyos/kernel/kfmt"
	"wallyos/kernel/mm"
	"wallyos/kernel/segment"
	"wallyos/kernel/sync"
)

var (
	// installed is the handler set bound to the gate table by Install. It
	// is only accessed by the gate thunks below.
	installed *Handlers

	// the following functions are mocked by tests.
	readCR2Fn      = cpu.ReadCR2
	readRSPFn      = cpu.ReadRSP
	portReadByteFn = cpu.PortReadByte
	haltFn         = cpu.HaltForever
)

// InterruptController acknowledges hardware interrupts. It is implemented by
// pic.Chained.
type InterruptController interface {
	HandlesInterrupt(vector uint8) bool
	NotifyEndOfInterrupt(vector uint8)

	// FilterSpurious returns true if vector was raised spuriously. The
	// controller performs any acknowledgement a spurious interrupt needs.
	FilterSpurious(vector uint8) bool
}

var irqPrefix = []byte("[irq] ")

// Handlers holds the state shared by the exception and interrupt handlers.
type Handlers struct {
	// PIC is acknowledged by the hardware interrupt handlers.
	PIC InterruptController

	// Decoder decodes the bytes read by the keyboard handler.
	Decoder      *keyboard.Decoder
	keyboardLock sync.Spinlock

	// Out receives the fault reports and the output of the timer and
	// keyboard handlers. If nil, the kfmt output sink is used.
	Out io.Writer

	// Segments is used to check whether a double fault is being handled
	// on the dedicated stack.
	Segments *segment.Table

	// PageFaultPolicy classifies page faults before they are reported. If
	// nil, HaltPolicy is used.
	PageFaultPolicy PageFaultPolicy

	// OnDoubleFault, if set, is invoked after a double fault has been
	// reported and before the CPU is halted.
	OnDoubleFault func(onFaultStack bool)

	ticks       uint64
	breakpoints uint64
}

// Ticks returns the number of timer interrupts serviced so far.
func (h *Handlers) Ticks() uint64 {
	return atomic.LoadUint64(&h.ticks)
}

// Breakpoints returns the number of breakpoint exceptions serviced so far.
func (h *Handlers) Breakpoints() uint64 {
	return atomic.LoadUint64(&h.breakpoints)
}

func (h *Handlers) out() io.Writer {
	if h.Out != nil {
		return h.Out
	}
	return kfmt.GetOutputSink()
}

func (h *Handlers) reportException(regs *gate.Registers) {
	w := h.out()
	kfmt.Fprintf(w, "\nEXCEPTION: %s\n", gate.InterruptNumber(regs.Vector).String())
	kfmt.Fprintf(w, "vector: %d\n", regs.Vector)
}

// Breakpoint reports the interrupted context. Execution resumes at the
// instruction following the breakpoint.
func (h *Handlers) Breakpoint(regs *gate.Registers) {
	atomic.AddUint64(&h.breakpoints, 1)

	w := h.out()
	h.reportException(regs)
	regs.DumpTo(w)
}

// DoubleFault reports the fault and halts the CPU. It never returns.
func (h *Handlers) DoubleFault(regs *gate.Registers) {
	onFaultStack := h.Segments != nil && h.Segments.OnDoubleFaultStack(readRSPFn())

	w := h.out()
	h.reportException(regs)
	kfmt.Fprintf(w, "error code: 0x%x\n", regs.ErrorCode)
	if onFaultStack {
		kfmt.Fprintf(w, "stack: double fault stack\n")
	} else {
		kfmt.Fprintf(w, "stack: interrupted stack\n")
	}
	regs.DumpTo(w)

	if h.OnDoubleFault != nil {
		h.OnDoubleFault(onFaultStack)
	}

	haltFn()
}

// PageFault reports the faulting address, the decoded error code and the
// classification made by the page fault policy and then halts the CPU.
func (h *Handlers) PageFault(regs *gate.Registers) {
	var (
		w      = h.out()
		addr   = mm.VirtAddrTruncate(readCR2Fn())
		code   = PageFaultErrorCode(regs.ErrorCode)
		policy = h.PageFaultPolicy
	)

	if policy == nil {
		policy = HaltPolicy{}
	}
	action := policy.Classify(addr, code)

	h.reportException(regs)
	kfmt.Fprintf(w, "accessed address: 0x%16x\n", addr.Uint64())
	kfmt.Fprintf(w, "error code: 0x%x (", regs.ErrorCode)
	code.DumpTo(w)
	kfmt.Fprintf(w, ")\n")
	kfmt.Fprintf(w, "reason: %s\n", action.String())
	regs.DumpTo(w)

	haltFn()
}

// Timer emits a '.' for each tick and acknowledges the interrupt.
func (h *Handlers) Timer(regs *gate.Registers) {
	atomic.AddUint64(&h.ticks, 1)
	kfmt.Fprintf(h.out(), ".")
	h.PIC.NotifyEndOfInterrupt(uint8(regs.Vector))
}

// Keyboard reads a byte from the PS/2 controller and prints the key it
// completes, if any. Partial and unknown sequences are silently dropped.
func (h *Handlers) Keyboard(regs *gate.Registers) {
	h.keyboardLock.Acquire()
	scancode := portReadByteFn(keyboard.DataPort)
	if ev, ok, err := h.Decoder.AddByte(scancode); ok && err == nil {
		if key, ok := h.Decoder.ProcessEvent(ev); ok {
			if key.IsRune {
				kfmt.Fprintf(h.out(), "%c", key.Rune)
			} else {
				kfmt.Fprintf(h.out(), "%s", key.Code.String())
			}
		}
	}
	h.keyboardLock.Release()

	h.PIC.NotifyEndOfInterrupt(uint8(regs.Vector))
}

// Unhandled is invoked for vectors without a bound handler. Interrupts
// delivered by the PIC are acknowledged and ignored, except for spurious ones
// which are left to the controller. Anything else is reported and halts the
// CPU.
func (h *Handlers) Unhandled(regs *gate.Registers) {
	vector := uint8(regs.Vector)
	if h.PIC != nil && h.PIC.HandlesInterrupt(vector) {
		w := kfmt.PrefixWriter{Sink: h.out(), Prefix: irqPrefix}
		if h.PIC.FilterSpurious(vector) {
			kfmt.Fprintf(&w, "spurious IRQ on vector %d\n", regs.Vector)
			return
		}

		kfmt.Fprintf(&w, "ignoring unhandled IRQ on vector %d\n", regs.Vector)
		h.PIC.NotifyEndOfInterrupt(vector)
		return
	}

	w := h.out()
	h.reportException(regs)
	kfmt.Fprintf(w, "error code: 0x%x\n", regs.ErrorCode)
	regs.DumpTo(w)

	haltFn()
}

// Install binds the handlers to their vectors in t. The double fault handler
// is configured to run on the dedicated stack.
func (h *Handlers) Install(t *gate.Table) *kernel.Error {
	installed = h

	if err := t.HandleException(gate.Breakpoint, breakpointThunk); err != nil {
		return err
	}
	if err := t.HandleFault(gate.DoubleFault, segment.DoubleFaultISTIndex, doubleFaultThunk); err != nil {
		return err
	}
	if err := t.HandleFault(gate.PageFaultException, 0, pageFaultThunk); err != nil {
		return err
	}
	if err := t.HandleIRQ(gate.Timer, timerThunk); err != nil {
		return err
	}
	if err := t.HandleIRQ(gate.Keyboard, keyboardThunk); err != nil {
		return err
	}
	t.SetUnhandledHandler(unhandledThunk)

	return nil
}

// Gate entrypoints for the installed handler set.
func breakpointThunk(regs *gate.Registers)  { installed.Breakpoint(regs) }
func doubleFaultThunk(regs *gate.Registers) { installed.DoubleFault(regs) }
func pageFaultThunk(regs *gate.Registers)   { installed.PageFault(regs) }
func timerThunk(regs *gate.Registers)       { installed.Timer(regs) }
func keyboardThunk(regs *gate.Registers)    { installed.Keyboard(regs) }
func unhandledThunk(regs *gate.Registers)   { installed.Unhandled(regs) }
