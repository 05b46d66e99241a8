package hal

import "wallyos/kernel/hal/multiboot"

// SelfTestMode selects the boot self-test suite.
type SelfTestMode uint8

// The supported self-test modes.
const (
	SelfTestNone SelfTestMode = iota
	SelfTestBasic
	SelfTestStackOverflow
)

// PageFaultMode selects the page fault classification policy.
type PageFaultMode uint8

// The supported page fault modes.
const (
	PageFaultHalt PageFaultMode = iota
	PageFaultStackGuard
)

// ConsoleMode selects the devices that receive kernel diagnostics.
type ConsoleMode uint8

// The supported console modes.
const (
	ConsoleBoth ConsoleMode = iota
	ConsoleSerial
	ConsoleEGA
)

// BootOptions holds the kernel options passed on the boot command line.
type BootOptions struct {
	// SelfTest is set via selftest=<none|basic|stackoverflow>.
	SelfTest SelfTestMode

	// PageFault is set via pagefault=<halt|stackguard>.
	PageFault PageFaultMode

	// Console is set via console=<both|serial|ega>.
	Console ConsoleMode

	// PhysMemOffset is set via physoffset=<hex>. It is only valid if
	// HasPhysMemOffset is true.
	PhysMemOffset    uint64
	HasPhysMemOffset bool
}

var (
	// visitBootCmdLineFn is mocked by tests.
	visitBootCmdLineFn = multiboot.VisitBootCmdLine
)

// ParseBootOptions scans the boot command line for the options understood by
// the kernel. Unknown options and invalid values are ignored.
func ParseBootOptions() BootOptions {
	var opts BootOptions

	visitBootCmdLineFn(func(key, value string) bool {
		switch key {
		case "selftest":
			switch value {
			case "none":
				opts.SelfTest = SelfTestNone
			case "basic":
				opts.SelfTest = SelfTestBasic
			case "stackoverflow":
				opts.SelfTest = SelfTestStackOverflow
			}
		case "pagefault":
			switch value {
			case "halt":
				opts.PageFault = PageFaultHalt
			case "stackguard":
				opts.PageFault = PageFaultStackGuard
			}
		case "console":
			switch value {
			case "both":
				opts.Console = ConsoleBoth
			case "serial":
				opts.Console = ConsoleSerial
			case "ega":
				opts.Console = ConsoleEGA
			}
		case "physoffset":
			if offset, ok := parseHex(value); ok {
				opts.PhysMemOffset, opts.HasPhysMemOffset = offset, true
			}
		}

		return true
	})

	return opts
}

// parseHex parses a hex number with an optional 0x prefix.
func parseHex(s string) (uint64, bool) {
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}

	if len(s) == 0 || len(s) > 16 {
		return 0, false
	}

	var val uint64
	for i := 0; i < len(s); i++ {
		var digit byte
		switch ch := s[i]; {
		case ch >= '0' && ch <= '9':
			digit = ch - '0'
		case ch >= 'a' && ch <= 'f':
			digit = ch - 'a' + 10
		case ch >= 'A' && ch <= 'F':
			digit = ch - 'A' + 10
		default:
			return 0, false
		}
		val = val<<4 | uint64(digit)
	}

	return val, true
}
