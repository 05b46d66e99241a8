package irq

import (
	"bytes"
	"testing"
	"wallyos/kernel/mm"
)

func TestPageFaultErrorCodeDumpTo(t *testing.T) {
	specs := []struct {
		code PageFaultErrorCode
		exp  string
	}{
		{0, "NOT_PRESENT|READ|SUPERVISOR"},
		{PFProtectionViolation | PFCausedByWrite, "PROTECTION_VIOLATION|WRITE|SUPERVISOR"},
		{PFUserMode | PFInstructionFetch, "NOT_PRESENT|READ|USER|INSTRUCTION_FETCH"},
		{PFProtectionViolation | PFMalformedTable | PFProtectionKey | PFShadowStack, "PROTECTION_VIOLATION|READ|SUPERVISOR|MALFORMED_TABLE|PROTECTION_KEY|SHADOW_STACK"},
	}

	var buf bytes.Buffer
	for specIndex, spec := range specs {
		buf.Reset()
		spec.code.DumpTo(&buf)
		if got := buf.String(); got != spec.exp {
			t.Errorf("[spec %d] expected %q; got %q", specIndex, spec.exp, got)
		}
	}
}

func TestPolicies(t *testing.T) {
	guard := StackGuardPolicy{GuardStart: mm.VirtAddr(0x10000), GuardEnd: mm.VirtAddr(0x11000)}

	specs := []struct {
		policy PageFaultPolicy
		addr   mm.VirtAddr
		code   PageFaultErrorCode
		exp    FaultAction
	}{
		{HaltPolicy{}, 0x10000, 0, FaultViolation},
		{guard, 0x10000, PFCausedByWrite, FaultStackGrowth},
		{guard, 0x10ff8, 0, FaultStackGrowth},
		{guard, 0x11000, PFCausedByWrite, FaultViolation},
		{guard, 0xfff8, PFCausedByWrite, FaultViolation},
		{guard, 0x10000, PFProtectionViolation, FaultViolation},
		{guard, 0x10000, PFInstructionFetch, FaultViolation},
	}

	for specIndex, spec := range specs {
		if got := spec.policy.Classify(spec.addr, spec.code); got != spec.exp {
			t.Errorf("[spec %d] expected %s; got %s", specIndex, spec.exp, got)
		}
	}
}
