// Package gate contains the architecture-specific part of interrupt handling:
// the GDT and TSS required for privilege transitions, the IDT and the entry
// stubs that capture a Registers snapshot for every vector.
package gate

import "unsafe"

const (
	// DoubleFaultIST is the interrupt stack table slot used by the double
	// fault handler.
	DoubleFaultIST = 1

	doubleFaultStackSize = 5 * 4096

	// VectorCount is the number of IDT vectors.
	VectorCount = 256
)

var (
	gdt           [segLast]segmentDescriptor
	tss           taskState64
	idt           [VectorCount]idtEntry
	gdtDescriptor tableDescriptor
	idtDescriptor tableDescriptor

	// doubleFaultStack provides a known-good stack for the double fault
	// handler so that kernel stack overflows can still be reported.
	doubleFaultStack [doubleFaultStackSize]byte

	dispatcher func(*Registers)

	// The following functions are used by tests to mock the privileged
	// table loading instructions.
	loadGDTFn     = loadGDT
	loadTSSFn     = loadTSS
	loadIDTFn     = loadIDT
	stubAddressFn = stubAddress
)

// Init sets up and loads the GDT, the TSS and the IDT. Every IDT vector is
// routed through its entry stub to the dispatcher registered via
// SetDispatcher.
func Init() {
	initGDT()
	initIDT()

	loadGDTFn(uintptr(unsafe.Pointer(&gdtDescriptor)))
	loadTSSFn(uint16(TSSSelector))
	loadIDTFn(uintptr(unsafe.Pointer(&idtDescriptor)))
}

func initGDT() {
	gdt[0] = segmentDescriptor{}
	gdt[segKcode].setCode64(0)
	gdt[segKdata].setData(0)
	gdt[segUdata].setData(3)
	gdt[segUcode].setCode64(3)

	tss = taskState64{}
	istTop := uint64(uintptr(unsafe.Pointer(&doubleFaultStack[0]))+doubleFaultStackSize) &^ 15
	tss.ist1Lo = uint32(istTop)
	tss.ist1Hi = uint32(istTop >> 32)

	// An I/O map base past the TSS limit denies ring 3 port access.
	tssLimit := uint32(unsafe.Sizeof(tss) - 1)
	tss.ioPerm = uint16(tssLimit + 1)
	gdt[segTSS].setTSS(&gdt[segTSSHi], uint64(uintptr(unsafe.Pointer(&tss))), tssLimit)

	gdtDescriptor.set(uintptr(unsafe.Pointer(&gdt[0])), uint16(unsafe.Sizeof(gdt)-1))
}

func initIDT() {
	for vector := 0; vector < VectorCount; vector++ {
		var ist uint8
		if InterruptNumber(vector) == DoubleFault {
			ist = DoubleFaultIST
		}
		idt[vector].set(stubAddressFn(vector), KernelCodeSelector, ist, 0)
	}

	idtDescriptor.set(uintptr(unsafe.Pointer(&idt[0])), uint16(unsafe.Sizeof(idt)-1))
}

// SetGateDPL updates the privilege level required for invoking vector via a
// software INT instruction. Vectors used as system call or trap gates must
// use a DPL of 3 to be reachable from user mode.
func SetGateDPL(vector InterruptNumber, dpl uint8) {
	entry := &idt[vector]
	entry.set(entry.handler(), entry.selector, entry.ist, dpl)
}

// SetKernelStack sets the stack pointer loaded by the CPU when an interrupt
// arrives while running in user mode.
func SetKernelStack(top uintptr) {
	tss.rsp0Lo = uint32(top)
	tss.rsp0Hi = uint32(uint64(top) >> 32)
}

// KernelStack returns the stack pointer installed by SetKernelStack.
func KernelStack() uintptr {
	return uintptr(uint64(tss.rsp0Hi)<<32 | uint64(tss.rsp0Lo))
}

// SetDispatcher registers the function that receives every interrupt,
// exception and trap delivered through the IDT.
func SetDispatcher(fn func(*Registers)) {
	dispatcher = fn
}

// dispatchInterrupt is invoked by the common entry stub with a pointer to the
// register snapshot stored on the interrupt stack.
func dispatchInterrupt(regs *Registers) {
	if dispatcher != nil {
		dispatcher(regs)
	}
}

// stubAddress returns the address of the entry stub for vector.
func stubAddress(vector int) uintptr {
	return (*[VectorCount]uintptr)(unsafe.Pointer(stubTableAddr()))[vector]
}

// loadGDT loads the GDT described by the table descriptor at desc and reloads
// the code and data segment registers.
func loadGDT(desc uintptr)

// loadTSS loads the task register with the supplied TSS selector.
func loadTSS(selector uint16)

// loadIDT loads the IDT described by the table descriptor at desc.
func loadIDT(desc uintptr)

// stubTableAddr returns the address of the generated table that holds the
// entry stub address for each vector.
func stubTableAddr() uintptr
