package kmain

import (
	"gophercore/kernel"
	"gophercore/kernel/cpu"
	"gophercore/kernel/hal"
	"gophercore/kernel/hal/multiboot"
	"gophercore/kernel/irq"
	"gophercore/kernel/kconfig"
	"gophercore/kernel/kfmt"
	"gophercore/kernel/mm"
	"gophercore/kernel/mm/pmm"
	"gophercore/kernel/mm/vmm"
	"gophercore/kernel/sched"
)

// maxMemoryRegions bounds the number of memory map entries copied out of
// the multiboot info block before it is released.
const maxMemoryRegions = 64

var (
	memoryMap [maxMemoryRegions]pmm.MemoryRegion

	// The following functions are mocked by tests.
	initTerminalFn      = hal.InitTerminal
	detachTerminalFn    = hal.DetachTerminal
	attachTerminalFn    = hal.AttachTerminal
	cmdLineFn           = multiboot.CmdLine
	copyMemRegionsFn    = multiboot.CopyMemRegions
	infoRangeFn         = multiboot.InfoRange
	pmmInitFn           = pmm.Init
	reserveRangeFn      = pmm.ReserveRange
	setLazyAllocationFn = vmm.SetLazyAllocation
	vmmInitFn           = vmm.Init
	irqInitFn           = irq.Init
	setFrequencyFn      = irq.SetFrequency
	schedInitFn         = sched.Init
	sealFn              = irq.Seal
	enableInterruptsFn  = cpu.EnableInterrupts
	reapFn              = sched.Reap
	waitForInterruptFn  = cpu.WaitForInterrupt
)

// Kmain is the entry point called by the rt0 code once it has loaded a
// temporary GDT and a minimal g0 that lets Go code run on the boot stack.
// It receives the physical address of the multiboot2 info block and the
// physical range of the kernel image.
//
// Kmain never returns; after boot completes the calling context becomes the
// idle task.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	// Calling kfmt.Panic directly keeps the linker from discarding it;
	// it is also the redirect target for runtime.gopanic.
	if err := boot(kernelStart, kernelEnd); err != nil {
		kfmt.Panic(err)
	}

	for {
		idle()
	}
}

// boot brings up the kernel subsystems in dependency order. When it
// returns without an error, interrupts are enabled and the boot context
// has become the idle task.
func boot(kernelStart, kernelEnd uintptr) *kernel.Error {
	initTerminalFn()

	// The command line aliases the multiboot info block so it must be
	// parsed before the block stops being identity mapped.
	cfg, _ := kconfig.Parse(cmdLineFn())
	kfmt.SetVerbose(cfg.Verbose)
	kfmt.Debugf("[kmain] timer: %dHz, quantum: %d, stack pages: %d\n", cfg.TimerHz, cfg.Quantum, cfg.StackPages)

	regionCount := copyMemRegionsFn(memoryMap[:])
	if err := pmmInitFn(memoryMap[:regionCount], kernelStart, kernelEnd); err != nil {
		return err
	}

	// Both the multiboot info block and frame 0 must never be handed
	// out; a zero frame doubles as the invalid page table root.
	reserveRangeFn(infoRangeFn())
	reserveRangeFn(0, mm.PageSize)

	setLazyAllocationFn(cfg.LazyAlloc)
	detachTerminalFn()
	vmmErr := vmmInitFn(kernelStart, kernelEnd)
	if err := attachTerminalFn(); err != nil {
		return err
	}
	if vmmErr != nil {
		return vmmErr
	}

	irqInitFn()
	if err := setFrequencyFn(cfg.TimerHz); err != nil {
		return err
	}

	if err := schedInitFn(cfg); err != nil {
		return err
	}

	sealFn()
	enableInterruptsFn()
	return nil
}

// idle runs one iteration of the idle task: it releases the resources of
// terminated tasks and then sleeps until the next interrupt.
func idle() {
	if reaped := reapFn(); reaped > 0 {
		kfmt.Debugf("[kmain] reaped %d task(s)\n", reaped)
	}
	waitForInterruptFn()
}
