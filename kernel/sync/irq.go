// Package sync provides the critical section primitives used by the kernel
// core. The kernel runs on a single CPU so mutual exclusion with interrupt
// handlers is achieved by masking interrupts rather than by spinning.
package sync

import "gophercore/kernel/cpu"

var (
	// The following functions are mocked by tests.
	interruptsEnabledFn = cpu.InterruptsEnabled
	disableInterruptsFn = cpu.DisableInterrupts
	enableInterruptsFn  = cpu.EnableInterrupts
)

// IRQState records whether interrupts were enabled when a critical section
// was entered.
type IRQState bool

// MaskInterrupts disables interrupts and returns the previous interrupt state.
// Critical sections nest: each MaskInterrupts call must be paired with a
// RestoreInterrupts call that receives the returned state.
func MaskInterrupts() IRQState {
	state := IRQState(interruptsEnabledFn())
	if state {
		disableInterruptsFn()
	}
	return state
}

// RestoreInterrupts re-enables interrupts if they were enabled when the
// matching MaskInterrupts call was made.
func RestoreInterrupts(state IRQState) {
	if state {
		enableInterruptsFn()
	}
}
