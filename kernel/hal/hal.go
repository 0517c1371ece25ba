// Package hal wires the boot console to the kernel log output.
package hal

import (
	"gophercore/kernel"
	"gophercore/kernel/driver/console"
	"gophercore/kernel/kfmt"
	"gophercore/kernel/mm"
	"gophercore/kernel/mm/vmm"
)

var (
	egaConsole console.Ega

	// ActiveTerminal points to the currently active terminal.
	ActiveTerminal console.Terminal

	framebufferAddr = console.FramebufferPhysAddr

	// The following functions are mocked by tests.
	kernelSpaceActiveFn = func() bool { return vmm.KernelSpace().Active() }
	mapFramebufferFn    = mapFramebuffer
	physToVirtFn        = vmm.PhysToVirt
)

// InitTerminal sets up the text console using the identity mapping
// established by the bootloader and makes it the kfmt output sink.
func InitTerminal() {
	egaConsole.Init(console.DefaultWidth, console.DefaultHeight, framebufferAddr)
	ActiveTerminal.AttachTo(&egaConsole)
	ActiveTerminal.Clear()
	kfmt.SetOutputSink(&ActiveTerminal)
}

// DetachTerminal stops sending kfmt output to the terminal. Output is
// buffered until AttachTerminal is called. It must be called before the
// kernel address space replaces the bootloader mappings.
func DetachTerminal() {
	kfmt.SetOutputSink(nil)
}

// AttachTerminal makes the terminal the kfmt output sink again and flushes
// any buffered output to it. If the kernel address space is active, the
// framebuffer is first mapped into the direct map region.
func AttachTerminal() *kernel.Error {
	if kernelSpaceActiveFn() {
		if err := mapFramebufferFn(framebufferAddr); err != nil {
			return err
		}
		egaConsole.Relocate(physToVirtFn(framebufferAddr))
	}

	kfmt.SetOutputSink(&ActiveTerminal)
	return nil
}

func mapFramebuffer(physAddr uintptr) *kernel.Error {
	space := vmm.KernelSpace()
	virtAddr := vmm.PhysToVirt(physAddr)
	if _, err := space.Translate(virtAddr); err == nil {
		return nil
	}

	return space.Map(
		mm.PageFromAddress(virtAddr),
		mm.FrameFromAddress(physAddr),
		1,
		vmm.PermRead|vmm.PermWrite,
	)
}
