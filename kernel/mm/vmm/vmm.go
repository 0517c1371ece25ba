// Package vmm implements the amd64 page table manager. It maintains the
// kernel address space, creates isolated address spaces for tasks and
// handles the page faults raised while accessing them.
package vmm

import (
	"gophercore/kernel"
	"gophercore/kernel/cpu"
	"gophercore/kernel/irq"
	"gophercore/kernel/kfmt"
	"gophercore/kernel/mm"
	"gophercore/kernel/mm/pmm"
	"gophercore/kernel/sync"
)

var (
	// kernelSpace is the address space created by Init. Its kernel half
	// is shared with every other address space.
	kernelSpace AddressSpace

	// nxEnabled is set if the CPU enforces the no-execute flag.
	nxEnabled bool

	// lazyAlloc controls whether Reserve defers frame allocation to the
	// page fault handler.
	lazyAlloc = true

	// initErr records the first error encountered while mapping physical
	// memory pools during Init.
	initErr *kernel.Error

	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	flushTLBEntryFn     = cpu.FlushTLBEntry
	switchPDTFn         = cpu.SwitchPDT
	activePDTFn         = cpu.ActivePDT
	readCR2Fn           = cpu.ReadCR2
	enableNXFn          = cpu.EnableNX
	interruptsEnabledFn = cpu.InterruptsEnabled
	maskInterruptsFn    = sync.MaskInterrupts
	restoreInterruptsFn = sync.RestoreInterrupts
	visitPoolsFn        = pmm.VisitPools
	registerHandlerFn   = irq.Register
	faultFn             = irq.Fault
)

// Init builds the kernel address space and activates it. The kernel image
// occupying the physical range [kernelStart, kernelEnd) is mapped at
// KernelImageBase+kernelStart and every pool managed by the frame
// allocator is mapped at DirectMapBase. All top-level entries of the
// kernel half are populated so that address spaces created later share
// every kernel mapping. Init also installs the page fault and general
// protection fault handlers.
func Init(kernelStart, kernelEnd uintptr) *kernel.Error {
	nxEnabled = enableNXFn()

	pml4, err := allocTable()
	if err != nil {
		return err
	}

	root := tableAt(pml4)
	for index := kernelHalfFirstEntry; index < entriesPerTable; index++ {
		tableFrame, err := allocTable()
		if err != nil {
			return err
		}

		root[index].SetFrame(tableFrame)
		root[index].SetFlags(FlagPresent | FlagRW)
	}
	kernelSpace = AddressSpace{pml4: pml4}

	imageStart := mm.FrameFromAddress(kernelStart)
	imagePages := (kernelEnd - imageStart.Address() + mm.PageSize - 1) >> mm.PageShift
	if err = kernelSpace.Map(
		mm.PageFromAddress(KernelImageBase+imageStart.Address()),
		imageStart,
		int(imagePages),
		PermRead|PermWrite|PermExec,
	); err != nil {
		return err
	}

	initErr = nil
	visitPoolsFn(mapDirectRegion)
	if initErr != nil {
		return initErr
	}

	if err = installFaultHandlers(); err != nil {
		return err
	}

	kernelSpace.Activate()
	physToVirtFn = directMapFn

	kfmt.Printf("[vmm] kernel address space active (nx: %t, lazy allocation: %t)\n", nxEnabled, lazyAlloc)
	return nil
}

// mapDirectRegion maps the physical frame range [startFrame, endFrame]
// into the direct map region of the kernel address space.
func mapDirectRegion(startFrame, endFrame mm.Frame, _ []uint64) {
	if initErr != nil {
		return
	}

	initErr = kernelSpace.Map(
		mm.PageFromAddress(DirectMapBase+startFrame.Address()),
		startFrame,
		int(endFrame-startFrame+1),
		PermRead|PermWrite,
	)
}

// KernelSpace returns the kernel address space.
func KernelSpace() AddressSpace {
	return kernelSpace
}

// SetLazyAllocation controls whether Reserve backs pages on first access
// (the default) or immediately.
func SetLazyAllocation(enabled bool) {
	lazyAlloc = enabled
}

// PhysToVirt returns the virtual address where the physical address
// physAddr can be accessed by the kernel.
func PhysToVirt(physAddr uintptr) uintptr {
	return physToVirtFn(physAddr)
}
