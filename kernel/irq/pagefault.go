package irq

import (
	"io"
	"wallyos/kernel/kfmt"
	"wallyos/kernel/mm"
)

// PageFaultErrorCode is the error code pushed by the CPU when a page fault
// occurs.
type PageFaultErrorCode uint64

// The page fault error code bits.
const (
	// PFProtectionViolation is set when the fault was caused by a
	// page-level protection violation; it is clear when the page was not
	// present.
	PFProtectionViolation PageFaultErrorCode = 1 << iota

	// PFCausedByWrite is set for write accesses and clear for reads.
	PFCausedByWrite

	// PFUserMode is set when the access originated in user mode.
	PFUserMode

	// PFMalformedTable is set when a reserved bit was set in a paging
	// structure entry.
	PFMalformedTable

	// PFInstructionFetch is set when the fault was caused by an
	// instruction fetch.
	PFInstructionFetch

	// PFProtectionKey is set for protection key violations.
	PFProtectionKey

	// PFShadowStack is set for shadow stack accesses.
	PFShadowStack
)

var pageFaultCodeNames = [...]struct {
	bit       PageFaultErrorCode
	set, zero string
}{
	{PFProtectionViolation, "PROTECTION_VIOLATION", "NOT_PRESENT"},
	{PFCausedByWrite, "WRITE", "READ"},
	{PFUserMode, "USER", "SUPERVISOR"},
	{PFMalformedTable, "MALFORMED_TABLE", ""},
	{PFInstructionFetch, "INSTRUCTION_FETCH", ""},
	{PFProtectionKey, "PROTECTION_KEY", ""},
	{PFShadowStack, "SHADOW_STACK", ""},
}

// DumpTo writes the decoded error code bits to w as a list of names joined
// by '|'.
func (c PageFaultErrorCode) DumpTo(w io.Writer) {
	sep := ""
	for _, n := range pageFaultCodeNames {
		name := n.zero
		if c&n.bit != 0 {
			name = n.set
		}
		if name == "" {
			continue
		}

		kfmt.Fprintf(w, "%s%s", sep, name)
		sep = "|"
	}
}

// FaultAction is the outcome of classifying a page fault.
type FaultAction uint8

// The supported fault classifications. There is no demand paging so every
// page fault ends up halting the CPU; the classification only changes what
// gets reported.
const (
	// FaultViolation is a genuine access violation.
	FaultViolation FaultAction = iota

	// FaultStackGrowth is an access to a not-present page inside the
	// stack guard window.
	FaultStackGrowth
)

// String implements fmt.Stringer for FaultAction.
func (a FaultAction) String() string {
	switch a {
	case FaultStackGrowth:
		return "stack growth"
	default:
		return "access violation"
	}
}

// PageFaultPolicy classifies page faults.
type PageFaultPolicy interface {
	Classify(addr mm.VirtAddr, code PageFaultErrorCode) FaultAction
}

// HaltPolicy treats every page fault as an access violation.
type HaltPolicy struct{}

// Classify implements PageFaultPolicy.
func (HaltPolicy) Classify(_ mm.VirtAddr, _ PageFaultErrorCode) FaultAction {
	return FaultViolation
}

// StackGuardPolicy classifies accesses to not-present pages inside the
// [GuardStart, GuardEnd) window as stack growth. Any other fault is an
// access violation.
type StackGuardPolicy struct {
	GuardStart mm.VirtAddr
	GuardEnd   mm.VirtAddr
}

// Classify implements PageFaultPolicy.
func (p StackGuardPolicy) Classify(addr mm.VirtAddr, code PageFaultErrorCode) FaultAction {
	if code&(PFProtectionViolation|PFInstructionFetch) != 0 {
		return FaultViolation
	}

	if addr >= p.GuardStart && addr < p.GuardEnd {
		return FaultStackGrowth
	}

	return FaultViolation
}
