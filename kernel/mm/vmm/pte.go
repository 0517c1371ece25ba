package vmm

import (
	"gophercore/kernel"
	"gophercore/kernel/mm"
)

var (
	// ErrNotMapped is returned when trying to lookup or unmap a virtual
	// memory address that is not mapped.
	ErrNotMapped = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrAlreadyMapped is returned when trying to map a page that is
	// already mapped or reserved.
	ErrAlreadyMapped = &kernel.Error{Module: "vmm", Message: "virtual address is already mapped"}

	errPermNotReadable = &kernel.Error{Module: "vmm", Message: "mappings must be readable"}
)

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uintptr

// pageTableEntry describes a page table entry. These entries encode
// a physical frame address and a set of flags.
type pageTableEntry uintptr

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) == uintptr(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uintptr(*pte) | uintptr(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uintptr(*pte) &^ uintptr(flags))
}

// Frame returns the physical page frame that this page table entry points to.
func (pte pageTableEntry) Frame() mm.Frame {
	return mm.Frame((uintptr(pte) & ptePhysPageMask) >> mm.PageShift)
}

// SetFrame updates the page table entry to point the the given physical frame.
func (pte *pageTableEntry) SetFrame(frame mm.Frame) {
	*pte = (pageTableEntry)((uintptr(*pte) &^ ptePhysPageMask) | frame.Address())
}

// inUse returns true if the entry maps a page or reserves it for lazy
// allocation.
func (pte pageTableEntry) inUse() bool {
	return pte.HasAnyFlag(FlagPresent | flagLazy)
}

// Perm describes the access permissions of a mapping. Mappings without
// PermExec remain executable on CPUs that do not support NX but still report
// the requested permissions.
type Perm uint8

// The supported permission bits. Every mapping must include PermRead.
const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
	PermUser
)

// entryFlags encodes perm as a set of leaf entry flags.
func (perm Perm) entryFlags() (PageTableEntryFlag, *kernel.Error) {
	if perm&PermRead == 0 {
		return 0, errPermNotReadable
	}

	flags := FlagPresent
	if perm&PermWrite != 0 {
		flags |= FlagRW
	}
	if perm&PermUser != 0 {
		flags |= FlagUserAccessible
	}
	if perm&PermExec == 0 {
		flags |= flagNoExecPerm
		if nxEnabled {
			flags |= FlagNoExecute
		}
	}

	return flags, nil
}

// permFromEntry decodes the permissions of a leaf entry.
func permFromEntry(pte pageTableEntry) Perm {
	perm := PermRead
	if pte.HasFlags(FlagRW) {
		perm |= PermWrite
	}
	if pte.HasFlags(FlagUserAccessible) {
		perm |= PermUser
	}
	if !pte.HasAnyFlag(FlagNoExecute | flagNoExecPerm) {
		perm |= PermExec
	}
	return perm
}

// Mapping describes the translation of a single page.
type Mapping struct {
	// Frame is the physical frame backing the page. It is set to
	// mm.InvalidFrame for lazily reserved pages that have not yet been
	// accessed.
	Frame mm.Frame
	Perm  Perm

	// Owned is set if the frame belongs to the address space.
	Owned bool

	// Lazy is set if the page is reserved but not yet backed by a frame.
	Lazy bool
}

func mappingFromEntry(pte pageTableEntry) Mapping {
	m := Mapping{
		Frame: pte.Frame(),
		Perm:  permFromEntry(pte),
		Owned: pte.HasFlags(flagOwned),
	}

	if !pte.HasFlags(FlagPresent) {
		m.Frame = mm.InvalidFrame
		m.Lazy = true
	}

	return m
}
