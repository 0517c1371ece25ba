package gate

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint8

const (
	// DivideByZero occurs when dividing any number by 0 using the DIV or
	// IDIV instruction.
	DivideByZero = InterruptNumber(0)

	// Debug is raised by single-stepping and hardware breakpoints.
	Debug = InterruptNumber(1)

	// NMI (non-maskable-interrupt) is a hardware interrupt that indicates
	// issues with RAM or unrecoverable hardware problems.
	NMI = InterruptNumber(2)

	// Breakpoint is raised by the INT3 instruction.
	Breakpoint = InterruptNumber(3)

	// Overflow is raised by the INTO instruction.
	Overflow = InterruptNumber(4)

	// BoundRangeExceeded occurs when the BOUND instruction is invoked with
	// an index out of range.
	BoundRangeExceeded = InterruptNumber(5)

	// InvalidOpcode occurs when the CPU attempts to execute an invalid or
	// undefined instruction opcode.
	InvalidOpcode = InterruptNumber(6)

	// DeviceNotAvailable occurs when the CPU attempts to execute an
	// FPU/MMX/SSE instruction while no FPU is available.
	DeviceNotAvailable = InterruptNumber(7)

	// DoubleFault occurs when an exception is raised while the CPU tries
	// to deliver a prior exception. It always runs on its own IST stack.
	DoubleFault = InterruptNumber(8)

	// InvalidTSS occurs when the TSS points to an invalid task segment
	// selector.
	InvalidTSS = InterruptNumber(10)

	// SegmentNotPresent occurs when the CPU attempts to load a
	// non-present segment.
	SegmentNotPresent = InterruptNumber(11)

	// StackSegmentFault occurs when attempting to push/pop from a
	// non-canonical stack address.
	StackSegmentFault = InterruptNumber(12)

	// GPFException occurs when a general protection fault occurs.
	GPFException = InterruptNumber(13)

	// PageFaultException occurs when a page table entry is not present or
	// when a privilege and/or RW protection check fails.
	PageFaultException = InterruptNumber(14)

	// FloatingPointException occurs when an unmasked x87 FP exception is
	// pending.
	FloatingPointException = InterruptNumber(16)

	// AlignmentCheck occurs when alignment checks are enabled and an
	// unaligned memory access is performed.
	AlignmentCheck = InterruptNumber(17)

	// MachineCheck occurs when the CPU detects internal errors such as
	// memory-, bus- or cache-related errors.
	MachineCheck = InterruptNumber(18)

	// SIMDFloatingPointException occurs when an unmasked SSE exception
	// occurs.
	SIMDFloatingPointException = InterruptNumber(19)

	// ExceptionCount is the number of vectors reserved by the CPU for
	// exceptions. Vectors at or above this value are interrupts or traps.
	ExceptionCount = 32
)

// HasErrorCode returns true if the CPU pushes an error code onto the stack
// when delivering this exception vector.
func (n InterruptNumber) HasErrorCode() bool {
	switch n {
	case DoubleFault, InvalidTSS, SegmentNotPresent, StackSegmentFault,
		GPFException, PageFaultException, AlignmentCheck, 21, 29, 30:
		return true
	}
	return false
}

// IsException returns true if n is one of the CPU-reserved exception
// vectors.
func (n InterruptNumber) IsException() bool {
	return n < ExceptionCount
}

// String returns the mnemonic of an exception vector.
func (n InterruptNumber) String() string {
	switch n {
	case DivideByZero:
		return "#DE"
	case Debug:
		return "#DB"
	case NMI:
		return "NMI"
	case Breakpoint:
		return "#BP"
	case Overflow:
		return "#OF"
	case BoundRangeExceeded:
		return "#BR"
	case InvalidOpcode:
		return "#UD"
	case DeviceNotAvailable:
		return "#NM"
	case DoubleFault:
		return "#DF"
	case InvalidTSS:
		return "#TS"
	case SegmentNotPresent:
		return "#NP"
	case StackSegmentFault:
		return "#SS"
	case GPFException:
		return "#GP"
	case PageFaultException:
		return "#PF"
	case FloatingPointException:
		return "#MF"
	case AlignmentCheck:
		return "#AC"
	case MachineCheck:
		return "#MC"
	case SIMDFloatingPointException:
		return "#XM"
	}

	if n.IsException() {
		return "reserved"
	}
	return "interrupt"
}
