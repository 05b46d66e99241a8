// Package hal detects the output devices available to the kernel and wires
// them to the kfmt output sink.
package hal

import (
	"io"
	"wallyos/device"
	"wallyos/device/serial"
	"wallyos/device/tty"
	"wallyos/device/video/console"
	"wallyos/kernel/kfmt"
	"wallyos/kernel/mm"
)

const maxDrivers = 3

// outputSink fans out writes to the serial port and the active terminal.
type outputSink struct {
	serial io.Writer
	tty    io.Writer
}

// Write implements io.Writer.
func (s *outputSink) Write(p []byte) (int, error) {
	if s.serial != nil {
		s.serial.Write(p)
	}
	if s.tty != nil {
		s.tty.Write(p)
	}
	return len(p), nil
}

// managedDevices contains the devices discovered by the HAL.
type managedDevices struct {
	activeConsole console.Device
	activeTTY     tty.Device
	activeSerial  *serial.Port

	// activeDrivers tracks all initialized device drivers.
	activeDrivers [maxDrivers]device.Driver
	driverCount   int
}

var (
	devices managedDevices
	sink    outputSink

	// driverList lists the supported drivers in detection order.
	driverList = [maxDrivers]device.DriverInfo{
		{Order: device.DetectOrderEarly, Detect: serial.DetectCOM1},
		{Order: device.DetectOrderConsole, Detect: console.DetectVgaTextConsole},
		{Order: device.DetectOrderTTY, Detect: tty.DetectVT},
	}

	prefixBuf [64]byte
)

// OutputSink returns the writer that receives kernel diagnostics once
// DetectHardware has run.
func OutputSink() io.Writer {
	return &sink
}

// DetectHardware looks for the output devices enabled by mode, initializes
// their drivers and installs them as the kfmt output sink. Any output
// produced before this call is flushed to the new sink.
func DetectHardware(physMemOffset mm.VirtAddr, mode ConsoleMode) {
	devices = managedDevices{}
	sink = outputSink{}

	for i := range driverList {
		info := &driverList[i]
		if !enabled(info, mode) {
			continue
		}

		drv := info.Detect(physMemOffset)
		if drv == nil {
			continue
		}

		if initDriver(drv) {
			onDriverInit(drv)
		}
	}

	kfmt.SetOutputSink(&sink)
}

func enabled(info *device.DriverInfo, mode ConsoleMode) bool {
	switch info.Order {
	case device.DetectOrderEarly:
		return mode != ConsoleEGA
	case device.DetectOrderConsole, device.DetectOrderTTY:
		return mode != ConsoleSerial
	}
	return true
}

// initDriver runs the driver init code reporting its progress through a
// writer that prefixes each line with the driver name and version.
func initDriver(drv device.Driver) bool {
	var (
		w      = kfmt.PrefixWriter{Sink: printfWriter{}}
		prefix = fixedWriter{buf: prefixBuf[:0]}
	)

	major, minor, patch := drv.DriverVersion()
	kfmt.Fprintf(&prefix, "[hal] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)
	w.Prefix = prefix.buf

	if err := drv.DriverInit(&w); err != nil {
		kfmt.Fprintf(&w, "init failed: %s\n", err.Message)
		return false
	}

	kfmt.Fprintf(&w, "initialized\n")
	devices.activeDrivers[devices.driverCount] = drv
	devices.driverCount++
	return true
}

// onDriverInit is invoked whenever a piece of hardware is detected and
// successfully initialized.
func onDriverInit(drv device.Driver) {
	switch drvImpl := drv.(type) {
	case *serial.Port:
		devices.activeSerial = drvImpl
		sink.serial = drvImpl
		kfmt.SetOutputSink(&sink)
	case console.Device:
		if devices.activeConsole != nil {
			return
		}

		devices.activeConsole = drvImpl
		if devices.activeTTY != nil {
			linkTTYToConsole()
		}
	case tty.Device:
		if devices.activeTTY != nil {
			return
		}

		devices.activeTTY = drvImpl
		if devices.activeConsole != nil {
			linkTTYToConsole()
		}
	}
}

// linkTTYToConsole attaches the active TTY to the active console and routes
// kernel output to it.
func linkTTYToConsole() {
	devices.activeTTY.AttachTo(devices.activeConsole)
	sink.tty = devices.activeTTY
}

// printfWriter forwards writes to kfmt.Printf so that they end up in the
// early print buffer until an output sink is installed.
type printfWriter struct{}

func (printfWriter) Write(p []byte) (int, error) {
	kfmt.Printf("%s", p)
	return len(p), nil
}

// fixedWriter appends to a byte slice without growing it past its capacity.
type fixedWriter struct {
	buf []byte
}

func (w *fixedWriter) Write(p []byte) (int, error) {
	n := cap(w.buf) - len(w.buf)
	if n > len(p) {
		n = len(p)
	}
	w.buf = append(w.buf, p[:n]...)
	return n, nil
}
