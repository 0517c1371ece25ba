package vmm

import (
	"gophercore/kernel"
	"gophercore/kernel/gate"
	"gophercore/kernel/kfmt"
	"gophercore/kernel/mm"
)

// Page fault error code bits.
const (
	pfPresent  = 1 << 0
	pfWrite    = 1 << 1
	pfUser     = 1 << 2
	pfReserved = 1 << 3
	pfFetch    = 1 << 4
)

var (
	errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "page fault"}
	errGeneralProtection  = &kernel.Error{Module: "vmm", Message: "general protection fault"}
)

func installFaultHandlers() *kernel.Error {
	if err := registerHandlerFn(gate.PageFaultException, pageFaultHandler); err != nil {
		return err
	}

	return registerHandlerFn(gate.GPFException, generalProtectionFaultHandler)
}

// pageFaultHandler is invoked when a page table entry is not present or when
// a protection check fails. Accesses to lazily reserved pages are resolved
// by installing a zero-cleared owned frame; any other fault is reported
// and handed to the fault policy of the irq package.
func pageFaultHandler(regs *gate.Registers) {
	faultAddress := uintptr(readCR2Fn())

	if regs.ErrorCode&(pfPresent|pfReserved) == 0 {
		resolved, err := resolveLazyPage(mm.PageFromAddress(faultAddress))
		if resolved {
			return
		}

		if err != nil {
			reportPageFault(faultAddress, regs)
			faultFn(regs, err)
			return
		}
	}

	reportPageFault(faultAddress, regs)
	faultFn(regs, errUnrecoverableFault)
}

// resolveLazyPage backs page with a new frame if it belongs to a lazy
// reservation of the active address space.
func resolveLazyPage(page mm.Page) (bool, *kernel.Error) {
	as := AddressSpace{pml4: mm.FrameFromAddress(activePDTFn())}

	pte, err := leafEntry(as.pml4, page.Address())
	if err != nil || pte == nil || pte.HasFlags(FlagPresent) || !pte.HasFlags(flagLazy) {
		return false, nil
	}

	flags := PageTableEntryFlag(*pte) &^ flagLazy
	if err = as.backPage(page, flags, true); err != nil {
		return false, err
	}

	return true, nil
}

func reportPageFault(faultAddress uintptr, regs *gate.Registers) {
	kfmt.Printf("\n[vmm] page fault while accessing address: 0x%16x\n[vmm] reason: ", faultAddress)

	code := regs.ErrorCode
	if code&pfReserved != 0 {
		kfmt.Printf("page table entry has a reserved bit set\n")
		return
	}

	access := "read from"
	switch {
	case code&pfFetch != 0:
		access = "instruction fetch from"
	case code&pfWrite != 0:
		access = "write to"
	}

	target := "non-present page"
	if code&pfPresent != 0 {
		target = "protected page"
	}

	mode := "kernel"
	if code&pfUser != 0 {
		mode = "user"
	}

	kfmt.Printf("%s %s in %s mode\n", access, target, mode)
}

// generalProtectionFaultHandler reports the selector that caused the fault,
// if any, and hands the fault to the fault policy of the irq package.
func generalProtectionFaultHandler(regs *gate.Registers) {
	kfmt.Printf("\n[vmm] general protection fault at RIP 0x%x", regs.RIP)

	if regs.ErrorCode != 0 {
		table := "GDT"
		switch {
		case regs.ErrorCode&0x2 != 0:
			table = "IDT"
		case regs.ErrorCode&0x4 != 0:
			table = "LDT"
		}
		kfmt.Printf(" (%s selector index %d)", table, regs.ErrorCode>>3)
	}
	kfmt.Printf("\n")

	faultFn(regs, errGeneralProtection)
}
