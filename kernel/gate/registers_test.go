package gate

import (
	"bytes"
	"testing"
)

func TestRegistersDumpTo(t *testing.T) {
	regs := Registers{
		RAX: 1, RBX: 2, RCX: 3, RDX: 4,
		RSI: 5, RDI: 6, RBP: 7,
		R8: 8, R9: 9, R10: 10, R11: 11, R12: 12, R13: 13, R14: 14, R15: 15,
		Vector:    14,
		ErrorCode: 2,
		RIP:       0xffffffff80101000,
		CS:        uint64(KernelCodeSelector),
		RFlags:    0x202,
		RSP:       0xffffff0000004000,
		SS:        uint64(KernelDataSelector),
	}

	exp := "RAX = 0000000000000001 RBX = 0000000000000002\n" +
		"RCX = 0000000000000003 RDX = 0000000000000004\n" +
		"RSI = 0000000000000005 RDI = 0000000000000006\n" +
		"RBP = 0000000000000007\n" +
		"R8  = 0000000000000008 R9  = 0000000000000009\n" +
		"R10 = 000000000000000a R11 = 000000000000000b\n" +
		"R12 = 000000000000000c R13 = 000000000000000d\n" +
		"R14 = 000000000000000e R15 = 000000000000000f\n" +
		"\n" +
		"VEC = 000000000000000e ERR = 0000000000000002\n" +
		"RIP = ffffffff80101000 CS  = 0000000000000008\n" +
		"RSP = ffffff0000004000 SS  = 0000000000000010\n" +
		"RFL = 0000000000000202\n"

	var buf bytes.Buffer
	regs.DumpTo(&buf)

	if got := buf.String(); got != exp {
		t.Fatalf("expected output:\n%q\ngot:\n%q", exp, got)
	}
}

func TestRegistersFromUserMode(t *testing.T) {
	specs := []struct {
		cs  Selector
		exp bool
	}{
		{KernelCodeSelector, false},
		{UserCodeSelector, true},
	}

	for specIndex, spec := range specs {
		regs := Registers{CS: uint64(spec.cs)}
		if got := regs.FromUserMode(); got != spec.exp {
			t.Errorf("[spec %d] expected FromUserMode to return %t; got %t", specIndex, spec.exp, got)
		}
	}
}

func TestInterruptNumber(t *testing.T) {
	specs := []struct {
		vector       InterruptNumber
		expErrorCode bool
		expName      string
	}{
		{DivideByZero, false, "#DE"},
		{Breakpoint, false, "#BP"},
		{DoubleFault, true, "#DF"},
		{GPFException, true, "#GP"},
		{PageFaultException, true, "#PF"},
		{InterruptNumber(15), false, "reserved"},
		{InterruptNumber(32), false, "interrupt"},
	}

	for specIndex, spec := range specs {
		if got := spec.vector.HasErrorCode(); got != spec.expErrorCode {
			t.Errorf("[spec %d] expected HasErrorCode to return %t; got %t", specIndex, spec.expErrorCode, got)
		}

		if got := spec.vector.String(); got != spec.expName {
			t.Errorf("[spec %d] expected name %q; got %q", specIndex, spec.expName, got)
		}
	}
}
