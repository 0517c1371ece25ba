package gate

import (
	"testing"
	"unsafe"
)

func TestSegmentDescriptorEncoding(t *testing.T) {
	var (
		kcode, kdata, ucode, udata segmentDescriptor
	)
	kcode.setCode64(0)
	kdata.setData(0)
	ucode.setCode64(3)
	udata.setData(3)

	specs := []struct {
		desc *segmentDescriptor
		exp  uint64
	}{
		{&kcode, 0x00af9b000000ffff},
		{&kdata, 0x008f93000000ffff},
		{&ucode, 0x00affb000000ffff},
		{&udata, 0x008ff3000000ffff},
	}

	for specIndex, spec := range specs {
		if got := spec.desc.value(); got != spec.exp {
			t.Errorf("[spec %d] expected descriptor to be %016x; got %016x", specIndex, spec.exp, got)
		}
	}
}

func TestTSSDescriptorEncoding(t *testing.T) {
	var lo, hi segmentDescriptor
	lo.setTSS(&hi, 0xffffffff81234560, 103)

	if exp, got := uint64(0x8100892345600067), lo.value(); got != exp {
		t.Errorf("expected low TSS descriptor to be %016x; got %016x", exp, got)
	}

	if exp, got := uint64(0xffffffff), hi.value(); got != exp {
		t.Errorf("expected high TSS descriptor to be %016x; got %016x", exp, got)
	}
}

func TestTaskStateLayout(t *testing.T) {
	var tss taskState64

	specs := []struct {
		name   string
		offset uintptr
		exp    uintptr
	}{
		{"rsp0", unsafe.Offsetof(tss.rsp0Lo), 4},
		{"ist1", unsafe.Offsetof(tss.ist1Lo), 36},
		{"ioPerm", unsafe.Offsetof(tss.ioPerm), 102},
		{"size", unsafe.Sizeof(tss), 104},
	}

	for specIndex, spec := range specs {
		if spec.offset != spec.exp {
			t.Errorf("[spec %d] expected %s offset to be %d; got %d", specIndex, spec.name, spec.exp, spec.offset)
		}
	}
}

func TestIDTEntryEncoding(t *testing.T) {
	var entry idtEntry

	if got := unsafe.Sizeof(entry); got != 16 {
		t.Fatalf("expected IDT entry size to be 16; got %d", got)
	}

	specs := []struct {
		handler     uintptr
		ist, dpl    uint8
		expTypeAttr uint8
	}{
		{0xffffffff80123456, 0, 0, 0x8e},
		{0xffffffff80123456, DoubleFaultIST, 0, 0x8e},
		{0x0000000000401000, 0, 3, 0xee},
	}

	for specIndex, spec := range specs {
		entry.set(spec.handler, KernelCodeSelector, spec.ist, spec.dpl)

		raw := (*[2]uint64)(unsafe.Pointer(&entry))
		expLo := uint64(spec.handler&0xffff) |
			uint64(KernelCodeSelector)<<16 |
			uint64(spec.ist)<<32 |
			uint64(spec.expTypeAttr)<<40 |
			uint64((spec.handler>>16)&0xffff)<<48
		expHi := uint64(spec.handler >> 32)

		if raw[0] != expLo || raw[1] != expHi {
			t.Errorf("[spec %d] expected entry to be %016x:%016x; got %016x:%016x", specIndex, expHi, expLo, raw[1], raw[0])
		}

		if got := entry.handler(); got != spec.handler {
			t.Errorf("[spec %d] expected handler %x; got %x", specIndex, spec.handler, got)
		}

		if got := entry.dpl(); got != spec.dpl {
			t.Errorf("[spec %d] expected dpl %d; got %d", specIndex, spec.dpl, got)
		}
	}
}

func TestTableDescriptor(t *testing.T) {
	var desc tableDescriptor
	desc.set(0xffffffff80abcdef, 4095)

	if got := unsafe.Sizeof(desc); got != 10 {
		t.Fatalf("expected descriptor size to be 10; got %d", got)
	}

	if desc.limit() != 4095 || desc.base() != 0xffffffff80abcdef {
		t.Fatalf("expected limit 4095 and base 0xffffffff80abcdef; got %d and %x", desc.limit(), desc.base())
	}
}

func TestSelectors(t *testing.T) {
	specs := []struct {
		sel Selector
		exp uint16
	}{
		{KernelCodeSelector, 0x08},
		{KernelDataSelector, 0x10},
		{UserDataSelector, 0x1b},
		{UserCodeSelector, 0x23},
		{TSSSelector, 0x28},
	}

	for specIndex, spec := range specs {
		if uint16(spec.sel) != spec.exp {
			t.Errorf("[spec %d] expected selector %#x; got %#x", specIndex, spec.exp, uint16(spec.sel))
		}
	}
}
