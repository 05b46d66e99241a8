package kfmt

import (
	"wallyos/kernel"
	"wallyos/kernel/cpu"
)

const panicRule = "\n-----------------------------------\n"

var (
	// cpuHaltFn is mocked by tests.
	cpuHaltFn = cpu.HaltForever

	// errRuntime carries the message of panics that did not originate from
	// a *kernel.Error.
	errRuntime = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic prints a report for e to the output sink and halts the CPU forever.
// Calls to the panic builtin are redirected here at build time.
//
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	err := asKernelError(e)

	Printf(panicRule)
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** kernel panic: system halted ***")
	Printf(panicRule)

	cpuHaltFn()
}

// panicString is the redirect target of fatal runtime errors.
//
//go:redirect-from runtime.throw
func panicString(msg string) {
	errRuntime.Message = msg
	Panic(errRuntime)
}

// asKernelError maps a panic value to the error reported by Panic. Values of
// unsupported types yield nil.
func asKernelError(e interface{}) *kernel.Error {
	switch v := e.(type) {
	case *kernel.Error:
		return v
	case string:
		errRuntime.Message = v
	case error:
		errRuntime.Message = v.Error()
	default:
		return nil
	}
	return errRuntime
}
