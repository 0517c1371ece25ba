// Package irq dispatches the interrupts, exceptions and software traps
// delivered through the IDT to the handlers registered by the other kernel
// subsystems and enforces the default policy for unhandled exceptions.
package irq

import (
	"gophercore/kernel"
	"gophercore/kernel/gate"
	"gophercore/kernel/kfmt"
)

// Handler processes an interrupt. Handlers run with interrupts masked and
// may modify the register snapshot; the modified values are restored when
// the handler returns.
type Handler func(regs *gate.Registers)

// TaskTerminator is invoked by Fault to isolate a fault to the task that
// caused it. It returns false if no task context exists for the fault, in
// which case the kernel halts.
type TaskTerminator func(regs *gate.Registers, err *kernel.Error) bool

const (
	// IRQBase is the vector assigned to the first PIC line.
	IRQBase = gate.ExceptionCount

	// SyscallVector is the software trap vector reserved for system calls.
	SyscallVector = gate.InterruptNumber(0x80)
)

var (
	handlers     [gate.VectorCount]Handler
	counters     [gate.VectorCount]uint64
	spuriousIRQs uint64
	sealed       bool

	// exceptionDepth tracks the number of exception handlers that are
	// currently running.
	exceptionDepth int

	terminator TaskTerminator

	// The following functions are mocked by tests.
	gateInitFn      = gate.Init
	setDispatcherFn = gate.SetDispatcher
	setGateDPLFn    = gate.SetGateDPL
	isSpuriousFn    = isSpurious
	sendEOIFn       = sendEOI

	errInvalidHandler     = &kernel.Error{Module: "irq", Message: "handler must not be nil"}
	errVectorInUse        = &kernel.Error{Module: "irq", Message: "vector already has a handler"}
	errVectorReserved     = &kernel.Error{Module: "irq", Message: "vector is reserved by the kernel"}
	errVectorUnmasked     = &kernel.Error{Module: "irq", Message: "interrupt line must be masked while registering its handler"}
	errTableSealed        = &kernel.Error{Module: "irq", Message: "vector table is sealed"}
	errUnhandledException = &kernel.Error{Module: "irq", Message: "unhandled exception"}
	errNestedException    = &kernel.Error{Module: "irq", Message: "exception raised while handling an exception"}
	errDoubleFault        = &kernel.Error{Module: "irq", Message: "double fault"}
)

// Init installs the CPU descriptor tables, routes every vector to the
// dispatcher and remaps the PIC lines to vectors [IRQBase, IRQBase+16).
// Handlers registered before Init are preserved.
func Init() {
	gateInitFn()
	setDispatcherFn(dispatch)
	remapPIC(IRQBase, IRQBase+8)
}

// Register installs handler for vector. Registration fails if the vector
// table has been sealed, the vector already has a handler or, for PIC
// vectors, if the line is currently unmasked.
func Register(vector gate.InterruptNumber, handler Handler) *kernel.Error {
	switch {
	case handler == nil:
		return errInvalidHandler
	case sealed:
		return errTableSealed
	case vector == gate.DoubleFault:
		return errVectorReserved
	case handlers[vector] != nil:
		return errVectorInUse
	}

	if line, ok := picLine(vector); ok && !LineMasked(line) {
		return errVectorUnmasked
	}

	handlers[vector] = handler
	return nil
}

// RegisterTrap behaves like Register but also allows the vector to be
// raised from user mode via a software INT instruction.
func RegisterTrap(vector gate.InterruptNumber, handler Handler) *kernel.Error {
	if err := Register(vector, handler); err != nil {
		return err
	}

	setGateDPLFn(vector, 3)
	return nil
}

// Seal freezes the vector table. Any subsequent Register call fails.
func Seal() {
	sealed = true
}

// SetTaskTerminator registers the function that Fault uses to terminate the
// task that caused an unrecoverable fault.
func SetTaskTerminator(fn TaskTerminator) {
	terminator = fn
}

// Count returns the number of times vector has been dispatched.
func Count(vector gate.InterruptNumber) uint64 {
	return counters[vector]
}

// SpuriousCount returns the number of spurious PIC interrupts.
func SpuriousCount() uint64 {
	return spuriousIRQs
}

// picLine returns the PIC line that raises vector.
func picLine(vector gate.InterruptNumber) (uint8, bool) {
	if vector < IRQBase || vector >= IRQBase+PICLines {
		return 0, false
	}
	return uint8(vector - IRQBase), true
}

// dispatch routes an incoming interrupt to its handler.
func dispatch(regs *gate.Registers) {
	vector := gate.InterruptNumber(regs.Vector)
	counters[vector]++

	if vector.IsException() {
		dispatchException(vector, regs)
		return
	}

	line, isPIC := picLine(vector)
	if isPIC && isSpuriousFn(line) {
		spuriousIRQs++

		// The master PIC still expects an EOI for the cascade line when
		// the slave reports a spurious interrupt.
		if line == 15 {
			sendEOIFn(picCascadeLine)
		}
		return
	}

	if isPIC {
		// Acknowledge the line before running the handler as the
		// handler may resume a different task.
		sendEOIFn(line)
	}

	if handler := handlers[vector]; handler != nil {
		handler(regs)
	}
}

func dispatchException(vector gate.InterruptNumber, regs *gate.Registers) {
	if vector == gate.DoubleFault {
		fatal(regs, errDoubleFault)
		return
	}

	if exceptionDepth > 0 {
		fatal(regs, errNestedException)
		return
	}

	exceptionDepth++
	if handler := handlers[vector]; handler != nil {
		handler(regs)
	} else {
		defaultExceptionHandler(vector, regs)
	}
	exceptionDepth--
}

// defaultExceptionHandler implements the policy for exceptions without a
// registered handler. Breakpoints are reported and execution resumes; any
// other exception is treated as a fault.
func defaultExceptionHandler(vector gate.InterruptNumber, regs *gate.Registers) {
	if vector == gate.Breakpoint {
		kfmt.Printf("[irq] breakpoint at 0x%x\n", regs.RIP)
		return
	}

	kfmt.Printf("\n[irq] unhandled exception %s (vector %d, error code 0x%x) at 0x%x\n", vector.String(), regs.Vector, regs.ErrorCode, regs.RIP)
	Fault(regs, errUnhandledException)
}

// Fault handles an unrecoverable fault raised while running code described
// by regs. If a task terminator is registered and accepts the fault, the
// offending task is terminated and Fault returns; the terminator is
// expected to have loaded the context of another task into regs. Otherwise
// the register state is dumped and the kernel halts.
func Fault(regs *gate.Registers, err *kernel.Error) {
	if terminator != nil && terminator(regs, err) {
		return
	}

	fatal(regs, err)
}

func fatal(regs *gate.Registers, err *kernel.Error) {
	kfmt.Printf("\nKERNEL PANIC: %s\n\nRegisters:\n", err.Message)
	regs.DumpTo(kfmt.GetOutputSink())
	panic(err)
}
