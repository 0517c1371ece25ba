package gate

// Selector is a segment selector.
type Selector uint16

// GDT slots. The user data segment precedes the user code segment so the
// layout is compatible with SYSRET.
const (
	_ = iota // null descriptor
	segKcode
	segKdata
	segUdata
	segUcode
	segTSS
	segTSSHi
	segLast
)

// Selectors for the segments installed by Init.
const (
	KernelCodeSelector Selector = segKcode << 3
	KernelDataSelector Selector = segKdata << 3
	UserDataSelector   Selector = segUdata<<3 | 3
	UserCodeSelector   Selector = segUcode<<3 | 3
	TSSSelector        Selector = segTSS << 3
)

// segmentFlags are typed flags within a segment descriptor.
type segmentFlags uint32

const (
	segmentAccess  segmentFlags = 1 << 8  // accessed bit; set to avoid CPU writes to the GDT
	segmentWrite   segmentFlags = 1 << 9  // writable data or readable code
	segmentExecute segmentFlags = 1 << 11 // code segment (type 9 TSS together with access)
	segmentSystem  segmentFlags = 1 << 12 // zero => system, one => code/data
	segmentPresent segmentFlags = 1 << 15
	segmentLong    segmentFlags = 1 << 21 // 64-bit code segment
	segmentG       segmentFlags = 1 << 23 // page granularity
)

// segmentDescriptor is an 8-byte GDT entry.
type segmentDescriptor struct {
	bits [2]uint32
}

func (d *segmentDescriptor) set(base, limit uint32, dpl int, flags segmentFlags) {
	flags |= segmentPresent
	if limit>>12 != 0 {
		limit >>= 12
		flags |= segmentG
	}
	d.bits[0] = base<<16 | limit&0xffff
	d.bits[1] = base&0xff000000 | (base>>16)&0xff | limit&0x000f0000 | uint32(flags) | uint32(dpl)<<13
}

func (d *segmentDescriptor) setCode64(dpl int) {
	d.set(0, 0xffffffff, dpl, segmentAccess|segmentWrite|segmentExecute|segmentSystem|segmentLong)
}

func (d *segmentDescriptor) setData(dpl int) {
	d.set(0, 0xffffffff, dpl, segmentAccess|segmentWrite|segmentSystem)
}

// setTSS encodes the two descriptors that describe an available 64-bit TSS.
func (d *segmentDescriptor) setTSS(hi *segmentDescriptor, base uint64, limit uint32) {
	d.set(uint32(base), limit, 0, segmentAccess|segmentExecute)
	hi.bits[0] = uint32(base >> 32)
	hi.bits[1] = 0
}

func (d *segmentDescriptor) value() uint64 {
	return uint64(d.bits[1])<<32 | uint64(d.bits[0])
}

// taskState64 is the 64-bit task state segment. The 64-bit fields are split
// in two halves as the hardware layout does not align them.
type taskState64 struct {
	_              uint32
	rsp0Lo, rsp0Hi uint32
	rsp1Lo, rsp1Hi uint32
	rsp2Lo, rsp2Hi uint32
	_              [2]uint32
	ist1Lo, ist1Hi uint32
	ist2Lo, ist2Hi uint32
	ist3Lo, ist3Hi uint32
	ist4Lo, ist4Hi uint32
	ist5Lo, ist5Hi uint32
	ist6Lo, ist6Hi uint32
	ist7Lo, ist7Hi uint32
	_              [2]uint32
	_              uint16
	ioPerm         uint16
}

const (
	interruptGate = 0xe
	gatePresent   = 0x80
)

// idtEntry is a 16-byte IDT gate descriptor.
type idtEntry struct {
	offsetLow  uint16
	selector   Selector
	ist        uint8
	typeAttr   uint8
	offsetMid  uint16
	offsetHigh uint32
	reserved   uint32
}

// set installs an interrupt gate for the handler at the supplied address.
// Interrupts are masked on entry to all gates so handlers run with
// interrupts disabled.
func (e *idtEntry) set(handler uintptr, selector Selector, ist uint8, dpl uint8) {
	e.offsetLow = uint16(handler)
	e.offsetMid = uint16(handler >> 16)
	e.offsetHigh = uint32(handler >> 32)
	e.selector = selector
	e.ist = ist & 0x7
	e.typeAttr = gatePresent | (dpl&3)<<5 | interruptGate
	e.reserved = 0
}

func (e *idtEntry) handler() uintptr {
	return uintptr(e.offsetLow) | uintptr(e.offsetMid)<<16 | uintptr(e.offsetHigh)<<32
}

func (e *idtEntry) dpl() uint8 {
	return (e.typeAttr >> 5) & 3
}

// tableDescriptor is the 10-byte operand of LGDT and LIDT: a 16-bit limit
// followed by the 64-bit table base address.
type tableDescriptor [5]uint16

func (d *tableDescriptor) set(base uintptr, limit uint16) {
	d[0] = limit
	d[1] = uint16(base)
	d[2] = uint16(base >> 16)
	d[3] = uint16(base >> 32)
	d[4] = uint16(base >> 48)
}

func (d *tableDescriptor) base() uintptr {
	return uintptr(d[1]) | uintptr(d[2])<<16 | uintptr(d[3])<<32 | uintptr(d[4])<<48
}

func (d *tableDescriptor) limit() uint16 {
	return d[0]
}
