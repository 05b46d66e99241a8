package console

import (
	"wallyos/device"
	"wallyos/kernel/hal/multiboot"
	"wallyos/kernel/mm"
)

const (
	// The text mode framebuffer set up by the BIOS.
	defaultEGAFramebuffer = mm.PhysAddr(0xb8000)
	defaultEGAColumns     = 80
	defaultEGARows        = 25
)

var (
	getFramebufferInfoFn = multiboot.GetFramebufferInfo

	egaConsole VgaTextConsole
)

// DetectVgaTextConsole checks for the presence of a vga text console. If the
// bootloader did not report a framebuffer, the standard 80x25 text mode
// framebuffer at 0xb8000 is assumed. It returns nil if the bootloader has set
// up a graphics mode.
func DetectVgaTextConsole(physMemOffset mm.VirtAddr) device.Driver {
	fbInfo := getFramebufferInfoFn()
	switch {
	case fbInfo == nil:
		egaConsole = NewVgaTextConsole(defaultEGAColumns, defaultEGARows, defaultEGAFramebuffer, physMemOffset)
	case fbInfo.Type == multiboot.FramebufferTypeEGA:
		fbAddr, err := mm.NewPhysAddr(fbInfo.PhysAddr)
		if err != nil {
			return nil
		}
		egaConsole = NewVgaTextConsole(fbInfo.Width, fbInfo.Height, fbAddr, physMemOffset)
	default:
		return nil
	}

	return &egaConsole
}
