// Package tty renders kernel output onto a text console.
package tty

import (
	"io"
	"wallyos/device/video/console"
)

// DefaultTabWidth is the distance between tab stops.
const DefaultTabWidth = 8

// Device is implemented by terminals that render the bytes written to them
// onto a console.
type Device interface {
	io.Writer

	// AttachTo connects the terminal to cons and clears it.
	AttachTo(cons console.Device)
}
