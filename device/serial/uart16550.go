// Package serial provides a driver for the 16550 UART found on PC-compatible
// machines.
package serial

import (
	"io"
	"wallyos/device"
	"wallyos/kernel"
	"wallyos/kernel/cpu"
	"wallyos/kernel/kfmt"
	"wallyos/kernel/mm"
)

// COM1 is the base I/O port of the first serial port.
const COM1 = 0x3f8

// UART register offsets relative to the base port.
const (
	regData        = 0
	regIntEnable   = 1
	regFIFOControl = 2
	regLineControl = 3
	regModemCtrl   = 4
	regLineStatus  = 5
	regScratch     = 7

	// Divisor latch registers; accessible while DLAB is set.
	regDivisorLow  = 0
	regDivisorHigh = 1
)

const (
	lineControlDLAB = 0x80
	lineControl8N1  = 0x03

	// Enable and clear both FIFOs with a 14-byte threshold.
	fifoEnableClear14 = 0xc7

	// DTR, RTS and OUT2.
	modemReady = 0x0b

	lineStatusTxEmpty = 0x20

	// 115200 / 3 = 38400 baud
	baudDivisor = 3

	// The number of line status polls before a byte is written anyway.
	txSpinLimit = 1 << 16
)

var (
	// the following functions are mocked by tests.
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte

	// ErrNoUART is returned when no UART responds at the configured port.
	ErrNoUART = &kernel.Error{Module: "serial", Message: "no UART detected"}

	com1 Port
)

// Port is a 16550 UART driver that also serves as an io.Writer.
type Port struct {
	base uint16
}

// NewPort returns a driver for the UART at the given base I/O port.
func NewPort(base uint16) Port {
	return Port{base: base}
}

// DriverName returns the name of this driver.
func (p *Port) DriverName() string {
	return "uart16550"
}

// DriverVersion returns the version of this driver.
func (p *Port) DriverVersion() (uint16, uint16, uint16) {
	return 0, 0, 1
}

// DriverInit programs the UART for 38400 baud 8N1 with FIFOs enabled. It
// returns ErrNoUART if the scratch register does not retain writes.
func (p *Port) DriverInit(w io.Writer) *kernel.Error {
	portWriteByteFn(p.base+regScratch, 0xa5)
	if portReadByteFn(p.base+regScratch) != 0xa5 {
		return ErrNoUART
	}

	portWriteByteFn(p.base+regIntEnable, 0)
	portWriteByteFn(p.base+regLineControl, lineControlDLAB)
	portWriteByteFn(p.base+regDivisorLow, baudDivisor)
	portWriteByteFn(p.base+regDivisorHigh, 0)
	portWriteByteFn(p.base+regLineControl, lineControl8N1)
	portWriteByteFn(p.base+regFIFOControl, fifoEnableClear14)
	portWriteByteFn(p.base+regModemCtrl, modemReady)

	kfmt.Fprintf(w, "port 0x%x, 38400 8N1\n", p.base)
	return nil
}

// WriteByte transmits b once the transmitter holding register is empty.
func (p *Port) WriteByte(b byte) error {
	for spins := 0; spins < txSpinLimit; spins++ {
		if portReadByteFn(p.base+regLineStatus)&lineStatusTxEmpty != 0 {
			break
		}
	}

	portWriteByteFn(p.base+regData, b)
	return nil
}

// Write implements io.Writer.
func (p *Port) Write(data []byte) (int, error) {
	for _, b := range data {
		_ = p.WriteByte(b)
	}

	return len(data), nil
}

// DetectCOM1 returns the driver for the first serial port.
func DetectCOM1(_ mm.VirtAddr) device.Driver {
	com1 = NewPort(COM1)
	return &com1
}
