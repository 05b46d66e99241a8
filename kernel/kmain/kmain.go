// Package kmain contains the kernel entrypoint and the boot sequence.
package kmain

import (
	"wallyos/device/keyboard"
	"wallyos/kernel"
	"wallyos/kernel/cpu"
	"wallyos/kernel/gate"
	"wallyos/kernel/hal"
	"wallyos/kernel/hal/multiboot"
	"wallyos/kernel/irq"
	"wallyos/kernel/kfmt"
	"wallyos/kernel/mm"
	"wallyos/kernel/mm/pmm"
	"wallyos/kernel/pic"
	"wallyos/kernel/segment"
)

const (
	// The PIC vector offsets. IRQ 0-15 are mapped to vectors 32-47.
	picMasterOffset = uint8(gate.Timer)
	picSlaveOffset  = picMasterOffset + 8

	timerIRQ    = 0
	keyboardIRQ = 1
	cascadeIRQ  = 2

	// The size of the region below the boot stack that the stack guard
	// page fault policy classifies as stack growth.
	stackGuardSize = 16 * mm.PageSize
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

	// ctx is the boot context. It lives in static storage as there is no
	// heap.
	ctx bootContext

	// the following functions are mocked by tests.
	kernelImageExtentFn = multiboot.KernelImageExtent
)

// bootContext owns the state of every kernel subsystem. Subsystems receive
// pointers to the objects they depend on.
type bootContext struct {
	opts          hal.BootOptions
	physMemOffset mm.VirtAddr

	segments   segment.Table
	gates      gate.Table
	pics       pic.Chained
	keyboard   keyboard.Decoder
	handlers   irq.Handlers
	frames     pmm.BootMemAllocator
	stackGuard irq.StackGuardPolicy
}

// Kmain is the only Go symbol that is visible (exported) from the rt0 initialization
// code. This function is invoked by the rt0 assembly code after setting up the GDT
// and setting up a a minimal g0 struct that allows Go code using the 4K stack
// allocated by the assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided by the
// bootloader, the virtual address at which all physical memory is mapped and
// the physical addresses for the kernel start/end.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, physMemOffset, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	ctx.opts = hal.ParseBootOptions()
	if ctx.opts.HasPhysMemOffset {
		physMemOffset = uintptr(ctx.opts.PhysMemOffset)
	}

	offset, err := mm.NewVirtAddr(uint64(physMemOffset))
	if err != nil {
		kfmt.Panic(err)
	}
	ctx.physMemOffset = offset

	hal.DetectHardware(ctx.physMemOffset, ctx.opts.Console)
	kfmt.Printf("[kmain] booted by %s\n", multiboot.GetBootLoaderName())

	if err = ctx.init(kernelStart, kernelEnd); err != nil {
		kfmt.Panic(err)
	}

	cpu.EnableInterrupts()
	kfmt.Printf("[kmain] interrupts enabled\n")

	switch ctx.opts.SelfTest {
	case hal.SelfTestBasic:
		ctx.runSelfTests()
	case hal.SelfTestStackOverflow:
		ctx.runStackOverflowTest()
	}

	for ctx.opts.SelfTest == hal.SelfTestNone {
		cpu.Halt()
	}

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	kfmt.Panic(errKmainReturned)
}

// init brings up the kernel subsystems in order. The IDT is loaded before
// the PIC is remapped and interrupts stay disabled until init returns.
func (c *bootContext) init(kernelStart, kernelEnd uintptr) *kernel.Error {
	c.segments.Init()
	c.segments.Load()
	kfmt.Printf("[kmain] double fault stack top: 0x%x\n", c.segments.DoubleFaultStackTop())

	c.pics = pic.New(picMasterOffset, picSlaveOffset)
	c.keyboard = keyboard.NewDecoder()
	c.handlers = irq.Handlers{
		PIC:             &c.pics,
		Decoder:         &c.keyboard,
		Out:             hal.OutputSink(),
		Segments:        &c.segments,
		PageFaultPolicy: irq.HaltPolicy{},
	}

	if c.opts.PageFault == hal.PageFaultStackGuard {
		stackPage := mm.VirtAddr(cpu.ReadRSP() &^ uint64(mm.PageSize-1))
		c.stackGuard = irq.StackGuardPolicy{
			GuardStart: stackPage - mm.VirtAddr(stackGuardSize),
			GuardEnd:   stackPage,
		}
		c.handlers.PageFaultPolicy = &c.stackGuard
	}

	if err := c.handlers.Install(&c.gates); err != nil {
		return err
	}
	c.gates.Load()

	c.pics.Init()
	c.pics.Unmask(timerIRQ)
	c.pics.Unmask(keyboardIRQ)
	c.pics.Unmask(cascadeIRQ)

	kernelStart, kernelEnd = kernelImage(kernelStart, kernelEnd)
	c.frames.Init(multiboot.VisitMemRegions, kernelStart, kernelEnd)
	c.frames.PrintMemoryMap(kfmt.GetOutputSink())

	return nil
}

// kernelImage returns the physical extent of the kernel image. The rt0 code
// passes an empty range when the linker symbols are unavailable; the extent
// is then recovered from the ELF section headers supplied by the bootloader.
// The image is linked at its load address so section addresses are physical.
func kernelImage(start, end uintptr) (uintptr, uintptr) {
	if start != end {
		return start, end
	}

	return kernelImageExtentFn()
}
