package kfmt

import (
	"gophercore/kernel"
	"gophercore/kernel/cpu"
)

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}

	// verbose enables Debugf output.
	verbose bool
)

// SetVerbose toggles the output of Debugf calls.
func SetVerbose(enabled bool) {
	verbose = enabled
}

// Debugf behaves like Printf but only produces output when verbose logging
// has been enabled via SetVerbose.
func Debugf(format string, args ...interface{}) {
	if verbose {
		Fprintf(outputSink, format, args...)
	}
}

// Panic prints the supplied error (if not nil) and halts the CPU with
// interrupts disabled. It never returns. The rt0 code redirects
// runtime.gopanic and runtime.throw here so that panic(err) inside the
// kernel ends up in this function.
//
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		panicString(t)
		return
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	Printf("\n")
	pad(outputSink, '=', 60)
	Printf("\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** kernel panic: system halted ***\n")
	pad(outputSink, '=', 60)
	Printf("\n")

	cpuHaltFn()
}

// panicString serves as a redirect target for runtime.throw
//
//go:redirect-from runtime.throw
func panicString(msg string) {
	errRuntimePanic.Message = msg
	Panic(errRuntimePanic)
}
