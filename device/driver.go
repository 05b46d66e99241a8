package device

import (
	"io"
	"wallyos/kernel"
	"wallyos/kernel/mm"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. If the driver init code
	// needs to log some output, it can use the supplied io.Writer in
	// conjunction with a call to kfmt.Fprint.
	DriverInit(io.Writer) *kernel.Error
}

// DetectFn is a function that scans for the presence of a particular
// piece of hardware and returns a driver for it. Drivers that need to access
// memory-mapped hardware reach it through the mapping of physical memory
// that starts at physMemOffset.
type DetectFn func(physMemOffset mm.VirtAddr) Driver

// DetectOrder specifies when each driver's detect function will be invoked
// by the hal package.
type DetectOrder int8

const (
	// DetectOrderEarly drivers are detected first. Drivers that provide
	// diagnostic output should use this order so that the remaining
	// drivers can report their progress.
	DetectOrderEarly DetectOrder = iota

	// DetectOrderConsole drivers are detected after the early drivers.
	DetectOrderConsole

	// DetectOrderTTY drivers are detected once the consoles are available.
	DetectOrderTTY

	// DetectOrderLast drivers are detected last.
	DetectOrderLast
)

// DriverInfo is a driver-defined struct that is passed to the hal package
// when detecting hardware.
type DriverInfo struct {
	// Order specifies at which stage of the hardware detection this
	// driver is detected.
	Order DetectOrder

	// Detect is invoked by the hal package to look for the hardware.
	Detect DetectFn
}

// DriverInfoList is a list of DriverInfo entries that implements
// sort.Interface ordering the entries by their DetectOrder.
type DriverInfoList []DriverInfo

// Len returns the length of the driver info list.
func (l DriverInfoList) Len() int { return len(l) }

// Swap exchanges 2 elements in the driver info list.
func (l DriverInfoList) Swap(i, j int) { l[i], l[j] = l[j], l[i] }

// Less compares 2 elements of the driver info list.
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }
