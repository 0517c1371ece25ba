package sched

import (
	"gophercore/kernel"
	"gophercore/kernel/mm"
	"gophercore/kernel/mm/vmm"
)

const (
	// maxStackPages is the largest supported kernel stack size in pages.
	maxStackPages = 64

	// stackSlotSize is the size of the virtual memory region reserved for
	// each task's kernel stack. The lowest page of each region is never
	// mapped and catches stack overflows.
	stackSlotSize = (maxStackPages + 1) * mm.PageSize
)

// stackBase returns the start of the kernel stack region for slot.
func stackBase(slot int) uintptr {
	return vmm.KernelStackBase + uintptr(slot)*stackSlotSize
}

// allocKernelStack maps pages zero-cleared frames above the guard page of
// the stack region for slot and returns the stack top.
func allocKernelStack(slot int, pages uint32) (uintptr, *kernel.Error) {
	start := mm.PageFromAddress(stackBase(slot) + mm.PageSize)
	if err := vmm.KernelSpace().Allocate(start, int(pages), vmm.PermRead|vmm.PermWrite); err != nil {
		freeKernelStack(slot, pages)
		return 0, err
	}

	return (start + mm.Page(pages)).Address(), nil
}

// freeKernelStack unmaps the kernel stack of slot and releases its frames.
// Pages that are not mapped are skipped.
func freeKernelStack(slot int, pages uint32) {
	ks := vmm.KernelSpace()
	start := mm.PageFromAddress(stackBase(slot) + mm.PageSize)
	for page := start; page < start+mm.Page(pages); page++ {
		_ = ks.Unmap(page, 1, releaseOwnedFrame)
	}
}

func releaseOwnedFrame(_ mm.Page, mapping vmm.Mapping) {
	if mapping.Owned {
		mm.FreeFrame(mapping.Frame)
	}
}
