// Package cpu exposes the privileged amd64 instructions used by the kernel
// core. All functions without a body are implemented in cpu_amd64.s.
package cpu

const (
	// msrEFER is the extended feature enable register.
	msrEFER = 0xc0000080

	// eferNXE enables the no-execute page protection bit.
	eferNXE = 1 << 11

	// rflagsIF is the interrupt enable bit of the RFLAGS register.
	rflagsIF = 1 << 9
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	cpuidFn     = ID
	readMSRFn   = ReadMSR
	writeMSRFn  = WriteMSR
	readFlagsFn = ReadFlags
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution.
func Halt()

// WaitForInterrupt atomically enables interrupts and halts the CPU until the
// next interrupt arrives. It is used by the idle task.
func WaitForInterrupt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uint64

// ReadFlags returns the contents of the RFLAGS register.
func ReadFlags() uint64

// ReadMSR returns the value of the model specific register msr.
func ReadMSR(msr uint32) uint64

// WriteMSR stores value to the model specific register msr.
func WriteMSR(msr uint32, value uint64)

// ID returns information about the CPU and its features. It
// is implemented as a CPUID instruction with EAX=leaf and
// returns the values in EAX, EBX, ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// InterruptsEnabled returns true if the interrupt flag is set.
func InterruptsEnabled() bool {
	return readFlagsFn()&rflagsIF != 0
}

// SupportsNX returns true if the CPU implements the no-execute page flag.
func SupportsNX() bool {
	if maxLeaf, _, _, _ := cpuidFn(0x80000000); maxLeaf < 0x80000001 {
		return false
	}

	_, _, _, edx := cpuidFn(0x80000001)
	return edx&(1<<20) != 0
}

// EnableNX sets EFER.NXE so that page table entries with the NX bit set are
// enforced by the MMU. It returns false if the CPU lacks NX support.
func EnableNX() bool {
	if !SupportsNX() {
		return false
	}

	writeMSRFn(msrEFER, readMSRFn(msrEFER)|eferNXE)
	return true
}

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8)

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(port uint16) uint8
