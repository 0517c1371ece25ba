package irq

import "gophercore/kernel"

const (
	pitChannel0 = 0x40
	pitCommand  = 0x43

	// pitChannel0Mode3 selects channel 0, lobyte/hibyte access and the
	// square wave generator mode.
	pitChannel0Mode3 = 0x36

	// PITFrequency is the input clock of the 8253/8254 timer in Hz.
	PITFrequency = 1193182

	// TimerLine is the PIC line the PIT channel 0 output is wired to.
	TimerLine = 0
)

var (
	timerHz uint32

	errInvalidFrequency = &kernel.Error{Module: "irq", Message: "timer frequency out of range"}
)

// SetFrequency programs PIT channel 0 to fire hz interrupts per second.
func SetFrequency(hz uint32) *kernel.Error {
	if hz == 0 || hz > PITFrequency {
		return errInvalidFrequency
	}

	divisor := uint32(PITFrequency / hz)
	if divisor > 0xffff+1 {
		return errInvalidFrequency
	}

	// A reload value of 0 is interpreted as 65536.
	reload := uint16(divisor)

	portWriteByteFn(pitCommand, pitChannel0Mode3)
	portWriteByteFn(pitChannel0, uint8(reload))
	portWriteByteFn(pitChannel0, uint8(reload>>8))

	timerHz = hz
	return nil
}

// Frequency returns the frequency set by the last successful SetFrequency
// call.
func Frequency() uint32 {
	return timerHz
}
