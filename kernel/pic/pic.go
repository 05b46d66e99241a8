// Package pic drives the pair of chained 8259 programmable interrupt
// controllers that deliver the legacy ISA IRQ lines to the CPU.
package pic

import (
	"wallyos/kernel/cpu"
	"wallyos/kernel/sync"
)

const (
	masterCommandPort = 0x20
	masterDataPort    = 0x21
	slaveCommandPort  = 0xa0
	slaveDataPort     = 0xa1

	// ICW1: edge triggered, cascade mode, ICW4 follows.
	cmdInit = 0x11

	// ICW4: 8086/88 mode.
	mode8086 = 0x01

	cmdEndOfInterrupt = 0x20

	// OCW3: the next read from the command port returns the in-service
	// register.
	cmdReadISR = 0x0b

	// Spurious interrupts are always signalled on the lowest priority line.
	spuriousLine = 7

	// The slave PIC is attached to IRQ2 of the master.
	cascadeIRQ = 2

	linesPerPIC = 8
)

var (
	// the following functions are mocked by tests.
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte
	ioWaitFn        = cpu.IOWait
)

type pic struct {
	offset      uint8
	commandPort uint16
	dataPort    uint16
}

func (p *pic) handlesInterrupt(vector uint8) bool {
	return vector >= p.offset && vector < p.offset+linesPerPIC
}

func (p *pic) endOfInterrupt() {
	portWriteByteFn(p.commandPort, cmdEndOfInterrupt)
}

func (p *pic) inService() uint8 {
	portWriteByteFn(p.commandPort, cmdReadISR)
	return portReadByteFn(p.commandPort)
}

func (p *pic) readMask() uint8 {
	return portReadByteFn(p.dataPort)
}

func (p *pic) writeMask(mask uint8) {
	portWriteByteFn(p.dataPort, mask)
}

// Chained models the master/slave 8259 pair. All methods serialize access to
// the controller ports via an internal spinlock.
type Chained struct {
	mutex  sync.Spinlock
	master pic
	slave  pic
}

// New returns a Chained controller that, once initialized, maps IRQ 0-7 to
// vectors starting at offset1 and IRQ 8-15 to vectors starting at offset2.
func New(offset1, offset2 uint8) Chained {
	return Chained{
		master: pic{offset: offset1, commandPort: masterCommandPort, dataPort: masterDataPort},
		slave:  pic{offset: offset2, commandPort: slaveCommandPort, dataPort: slaveDataPort},
	}
}

// Init remaps both controllers to their configured vector offsets while
// preserving the interrupt masks that were active before the call.
func (c *Chained) Init() {
	c.mutex.Acquire()
	defer c.mutex.Release()

	mask1, mask2 := c.master.readMask(), c.slave.readMask()

	portWriteByteFn(c.master.commandPort, cmdInit)
	ioWaitFn()
	portWriteByteFn(c.slave.commandPort, cmdInit)
	ioWaitFn()

	// ICW2: vector offsets
	portWriteByteFn(c.master.dataPort, c.master.offset)
	ioWaitFn()
	portWriteByteFn(c.slave.dataPort, c.slave.offset)
	ioWaitFn()

	// ICW3: master has a slave on IRQ2; slave cascade identity is 2
	portWriteByteFn(c.master.dataPort, 1<<cascadeIRQ)
	ioWaitFn()
	portWriteByteFn(c.slave.dataPort, cascadeIRQ)
	ioWaitFn()

	portWriteByteFn(c.master.dataPort, mode8086)
	ioWaitFn()
	portWriteByteFn(c.slave.dataPort, mode8086)
	ioWaitFn()

	c.master.writeMask(mask1)
	c.slave.writeMask(mask2)
}

// HandlesInterrupt returns true if vector is one of the 16 vectors served by
// the chained controllers.
func (c *Chained) HandlesInterrupt(vector uint8) bool {
	return c.master.handlesInterrupt(vector) || c.slave.handlesInterrupt(vector)
}

// NotifyEndOfInterrupt acknowledges the interrupt with the given vector.
// Interrupts delivered through the slave need to be acknowledged by both
// controllers. Vectors that do not belong to either controller are ignored.
func (c *Chained) NotifyEndOfInterrupt(vector uint8) {
	if !c.HandlesInterrupt(vector) {
		return
	}

	c.mutex.Acquire()
	if c.slave.handlesInterrupt(vector) {
		c.slave.endOfInterrupt()
	}
	c.master.endOfInterrupt()
	c.mutex.Release()
}

// Mask disables delivery of the given IRQ line (0-15).
func (c *Chained) Mask(irq uint8) {
	c.updateMask(irq, true)
}

// Unmask enables delivery of the given IRQ line (0-15).
func (c *Chained) Unmask(irq uint8) {
	c.updateMask(irq, false)
}

func (c *Chained) updateMask(irq uint8, set bool) {
	if irq >= 2*linesPerPIC {
		return
	}

	c.mutex.Acquire()
	defer c.mutex.Release()

	target := &c.master
	if irq >= linesPerPIC {
		target = &c.slave
		irq -= linesPerPIC
	}

	mask := target.readMask()
	if set {
		mask |= 1 << irq
	} else {
		mask &^= 1 << irq
	}
	target.writeMask(mask)
}

// FilterSpurious returns true if vector is the lowest priority line of
// either controller (IRQ7 or IRQ15) and its in-service bit is clear. A
// spurious interrupt must not be acknowledged by the controller that raised
// it. The master still counts a spurious IRQ15 as a real interrupt on the
// cascade line and gets its end of interrupt here.
func (c *Chained) FilterSpurious(vector uint8) bool {
	var target *pic
	switch vector {
	case c.master.offset + spuriousLine:
		target = &c.master
	case c.slave.offset + spuriousLine:
		target = &c.slave
	default:
		return false
	}

	c.mutex.Acquire()
	defer c.mutex.Release()

	if target.inService()&(1<<spuriousLine) != 0 {
		return false
	}

	if target == &c.slave {
		c.master.endOfInterrupt()
	}
	return true
}
