// Package qemu implements the exit-code protocol of the QEMU isa-debug-exit
// device which lets the kernel terminate the emulator with a status code.
package qemu

import "wallyos/kernel/cpu"

// ExitPort is the I/O port the isa-debug-exit device is attached to
// (-device isa-debug-exit,iobase=0xf4,iosize=0x04).
const ExitPort = 0xf4

// ExitCode is written to the isa-debug-exit device. QEMU terminates with
// status (code << 1) | 1.
type ExitCode uint8

// The exit codes understood by the hosted test runner.
const (
	Success ExitCode = 0x10
	Failure ExitCode = 0x11
)

// HostStatus returns the exit status of the QEMU process for code.
func (c ExitCode) HostStatus() int {
	return int(c)<<1 | 1
}

var (
	// the following functions are mocked by tests.
	portWriteByteFn = cpu.PortWriteByte
	haltFn          = cpu.HaltForever
)

// Exit terminates QEMU with the supplied exit code. When not running under
// QEMU the write has no effect and the CPU is halted instead. Exit never
// returns.
func Exit(code ExitCode) {
	portWriteByteFn(ExitPort, uint8(code))
	haltFn()
}
