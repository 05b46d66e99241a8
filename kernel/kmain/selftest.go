package kmain

import (
	"io"
	"unsafe"
	"wallyos/device/qemu"
	"wallyos/kernel"
	"wallyos/kernel/cpu"
	"wallyos/kernel/irq"
	"wallyos/kernel/kfmt"
	"wallyos/kernel/mm"
	"wallyos/kernel/mm/vmm"
)

const (
	// The EGA text buffer is identity-reachable through the physical
	// memory mapping.
	egaBufferAddr = 0xb8000

	selfTestFrames = 16
	selfTestTicks  = 2

	// The maximum number of hlt instructions the timer test waits for
	// the requested ticks to arrive.
	maxTimerWaits = 1000

	testPattern = uint64(0x5741_4c4c_594f_5321)

	stackOverflowTestName = "stack_overflow"
)

var (
	errBreakpointNotHandled = &kernel.Error{Module: "selftest", Message: "breakpoint handler was not invoked"}
	errTranslateMismatch    = &kernel.Error{Module: "selftest", Message: "translated address does not match"}
	errExpectedNotPresent   = &kernel.Error{Module: "selftest", Message: "expected address to be unmapped"}
	errDuplicateFrame       = &kernel.Error{Module: "selftest", Message: "frame allocator returned a duplicate frame"}
	errPatternMismatch      = &kernel.Error{Module: "selftest", Message: "pattern written through the new mapping was not read back"}
	errExpectedMapped       = &kernel.Error{Module: "selftest", Message: "expected remapping to fail with ErrAlreadyMapped"}
	errNoTicks              = &kernel.Error{Module: "selftest", Message: "timer interrupts did not arrive"}
	errTickMismatch         = &kernel.Error{Module: "selftest", Message: "timer ticks, dots and EOIs differ"}

	// the following functions are mocked by tests.
	breakpointFn        = cpu.Breakpoint
	haltFn              = cpu.Halt
	exitFn              = qemu.Exit
	exhaustStackFn      = cpu.ExhaustStack
	enableInterruptsFn  = cpu.EnableInterrupts
	disableInterruptsFn = cpu.DisableInterrupts
	translateFn         = vmm.Translate
	mapFn               = vmm.Map
	unusedRegionFn      = vmm.UnusedTopLevelRegion
	wordAtFn            = wordAt

	// The timer test interposes these between the timer handler and its
	// collaborators.
	dots dotCounter
	eois eoiCounter
)

type selfTest struct {
	name string
	run  func(*bootContext) *kernel.Error
}

var selfTests = [...]selfTest{
	{"breakpoint", (*bootContext).testBreakpoint},
	{"translate_ega", (*bootContext).testTranslateEGA},
	{"translate_not_present", (*bootContext).testTranslateNotPresent},
	{"frame_alloc", (*bootContext).testFrameAlloc},
	{"map_page", (*bootContext).testMapPage},
	{"timer", (*bootContext).testTimer},
}

// runSelfTests runs the boot self-test suite and exits QEMU with a status
// that reflects the outcome.
func (c *bootContext) runSelfTests() {
	var failed int
	for i := range selfTests {
		// The result line is printed after the test completes as the
		// handlers exercised by a test write to the same output.
		if err := selfTests[i].run(c); err != nil {
			kfmt.Printf("%s... [failed] %s\n", selfTests[i].name, err.Message)
			failed++
			continue
		}
		kfmt.Printf("%s... [ok]\n", selfTests[i].name)
	}

	if failed != 0 {
		kfmt.Printf("[selftest] %d of %d tests failed\n", failed, len(selfTests))
		exitFn(qemu.Failure)
		return
	}

	kfmt.Printf("[selftest] all %d tests passed\n", len(selfTests))
	exitFn(qemu.Success)
}

func (c *bootContext) testBreakpoint() *kernel.Error {
	before := c.handlers.Breakpoints()
	breakpointFn()
	if c.handlers.Breakpoints() != before+1 {
		return errBreakpointNotHandled
	}
	return nil
}

func (c *bootContext) testTranslateEGA() *kernel.Error {
	virt, ok := mm.PhysAddr(egaBufferAddr).ToVirt(c.physMemOffset)
	if !ok {
		return errTranslateMismatch
	}

	phys, err := translateFn(virt, c.physMemOffset)
	if err != nil {
		return err
	}
	if phys != egaBufferAddr {
		return errTranslateMismatch
	}
	return nil
}

func (c *bootContext) testTranslateNotPresent() *kernel.Error {
	region, err := unusedRegionFn(c.physMemOffset)
	if err != nil {
		return err
	}

	if _, err = translateFn(region, c.physMemOffset); err != vmm.ErrNotPresent {
		return errExpectedNotPresent
	}
	return nil
}

func (c *bootContext) testFrameAlloc() *kernel.Error {
	var frames [selfTestFrames]mm.Frame
	for i := range frames {
		frame, err := c.frames.AllocFrame()
		if err != nil {
			return err
		}

		for j := 0; j < i; j++ {
			if frames[j] == frame {
				return errDuplicateFrame
			}
		}
		frames[i] = frame
	}
	return nil
}

// testMapPage maps a fresh frame to the start of an unused top-level region
// and checks that a value written through the new mapping can be read back
// through the physical memory mapping.
func (c *bootContext) testMapPage() *kernel.Error {
	region, err := unusedRegionFn(c.physMemOffset)
	if err != nil {
		return err
	}

	frame, err := c.frames.AllocFrame()
	if err != nil {
		return err
	}

	page := mm.PageFromAddress(region)
	if err = mapFn(page, frame, vmm.FlagRW|vmm.FlagNoExecute, c.physMemOffset, &c.frames); err != nil {
		return err
	}

	phys, err := translateFn(region, c.physMemOffset)
	if err != nil {
		return err
	}
	if phys != frame.Address() {
		return errTranslateMismatch
	}

	alias, ok := frame.Address().ToVirt(c.physMemOffset)
	if !ok {
		return errTranslateMismatch
	}

	*wordAtFn(region) = testPattern
	if *wordAtFn(alias) != testPattern {
		return errPatternMismatch
	}

	if err = mapFn(page, frame, vmm.FlagRW, c.physMemOffset, &c.frames); err != vmm.ErrAlreadyMapped {
		return errExpectedMapped
	}
	return nil
}

// testTimer waits for timer ticks and checks that each one produced exactly
// one '.' and one end-of-interrupt notification.
func (c *bootContext) testTimer() *kernel.Error {
	disableInterruptsFn()
	dots = dotCounter{w: c.handlers.Out}
	eois = eoiCounter{pic: c.handlers.PIC}
	c.handlers.Out = &dots
	c.handlers.PIC = &eois
	start := c.handlers.Ticks()
	enableInterruptsFn()

	for waits := 0; waits < maxTimerWaits && c.handlers.Ticks()-start < selfTestTicks; waits++ {
		haltFn()
	}

	disableInterruptsFn()
	ticks := c.handlers.Ticks() - start
	c.handlers.Out = dots.w
	c.handlers.PIC = eois.pic
	enableInterruptsFn()

	switch {
	case ticks < selfTestTicks:
		return errNoTicks
	case dots.count != ticks || eois.count != ticks:
		return errTickMismatch
	}
	return nil
}

// runStackOverflowTest overflows the kernel stack. The resulting page fault
// cannot be delivered on the exhausted stack and escalates to a double fault
// which must be handled on the dedicated stack.
func (c *bootContext) runStackOverflowTest() {
	c.handlers.OnDoubleFault = exitOnDoubleFault
	kfmt.Printf("[selftest] overflowing the kernel stack\n")
	exhaustStackFn()

	kfmt.Printf("%s... [failed] stack overflow did not fault\n", stackOverflowTestName)
	exitFn(qemu.Failure)
}

func exitOnDoubleFault(onFaultStack bool) {
	if !onFaultStack {
		kfmt.Printf("%s... [failed] double fault was not handled on the dedicated stack\n", stackOverflowTestName)
		exitFn(qemu.Failure)
		return
	}

	kfmt.Printf("%s... [ok]\n", stackOverflowTestName)
	exitFn(qemu.Success)
}

func wordAt(addr mm.VirtAddr) *uint64 {
	return (*uint64)(unsafe.Pointer(addr.Pointer()))
}

// dotCounter counts the '.' characters written through it.
type dotCounter struct {
	w     io.Writer
	count uint64
}

func (d *dotCounter) Write(p []byte) (int, error) {
	for _, b := range p {
		if b == '.' {
			d.count++
		}
	}
	if d.w == nil {
		return len(p), nil
	}
	return d.w.Write(p)
}

// eoiCounter counts the end-of-interrupt notifications for the timer vector.
type eoiCounter struct {
	pic   irq.InterruptController
	count uint64
}

func (e *eoiCounter) HandlesInterrupt(vector uint8) bool {
	return e.pic.HandlesInterrupt(vector)
}

func (e *eoiCounter) FilterSpurious(vector uint8) bool {
	return e.pic.FilterSpurious(vector)
}

func (e *eoiCounter) NotifyEndOfInterrupt(vector uint8) {
	if vector == picMasterOffset+timerIRQ {
		e.count++
	}
	e.pic.NotifyEndOfInterrupt(vector)
}
