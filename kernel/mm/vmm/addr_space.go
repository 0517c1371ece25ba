package vmm

import (
	"gophercore/kernel"
	"gophercore/kernel/mm"
)

var (
	errNoKernelSpace          = &kernel.Error{Module: "vmm", Message: "kernel address space not initialized"}
	errInvalidAddressSpace    = &kernel.Error{Module: "vmm", Message: "invalid address space"}
	errActivateWithInterrupts = &kernel.Error{Module: "vmm", Message: "address space activated with interrupts enabled"}
	errDestroyKernelSpace     = &kernel.Error{Module: "vmm", Message: "attempted to destroy the kernel address space"}
	errDestroyActiveSpace     = &kernel.Error{Module: "vmm", Message: "attempted to destroy the active address space"}
	errNoHugePageSupport      = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
)

// UnmapVisitor is invoked by Unmap for every page that was backed by a
// physical frame. The visitor decides what happens to the frame.
type UnmapVisitor func(page mm.Page, mapping Mapping)

// AddressSpace is a handle to a set of page tables rooted at a top-level
// (PML4) table. The kernel half of every address space points to the same
// tables so kernel mappings are visible in all of them.
type AddressSpace struct {
	pml4 mm.Frame
}

// Frame returns the physical frame of the top-level table.
func (as AddressSpace) Frame() mm.Frame {
	return as.pml4
}

// Valid returns true if the handle refers to an address space.
func (as AddressSpace) Valid() bool {
	return as.pml4 != 0 && as.pml4.Valid()
}

// IsKernel returns true if this is the kernel address space.
func (as AddressSpace) IsKernel() bool {
	return as.Valid() && as.pml4 == kernelSpace.pml4
}

// Active returns true if this address space is loaded in CR3.
func (as AddressSpace) Active() bool {
	return mm.FrameFromAddress(activePDTFn()) == as.pml4
}

// NewAddressSpace allocates a new address space. Its user half is empty and
// its kernel half is shared with the kernel address space.
func NewAddressSpace() (AddressSpace, *kernel.Error) {
	if !kernelSpace.Valid() {
		return AddressSpace{}, errNoKernelSpace
	}

	irqState := maskInterruptsFn()
	defer restoreInterruptsFn(irqState)

	pml4, err := allocTable()
	if err != nil {
		return AddressSpace{}, err
	}

	var (
		dst = tableAt(pml4)
		src = tableAt(kernelSpace.pml4)
	)
	for index := kernelHalfFirstEntry; index < entriesPerTable; index++ {
		dst[index] = src[index]
	}

	return AddressSpace{pml4: pml4}, nil
}

// Map establishes count consecutive mappings starting at page and pointing
// to the physical frames starting at frame. Map fails with ErrAlreadyMapped
// without changing anything if any page in the range is mapped or
// reserved. Missing page tables are allocated on demand; if that fails,
// the mappings installed so far remain valid.
func (as AddressSpace) Map(page mm.Page, frame mm.Frame, count int, perm Perm) *kernel.Error {
	return as.mapRange(page, frame, count, perm, 0, false)
}

// MapOwned behaves like Map but transfers ownership of the frames to the
// address space. Owned frames are released by Destroy.
func (as AddressSpace) MapOwned(page mm.Page, frame mm.Frame, count int, perm Perm) *kernel.Error {
	return as.mapRange(page, frame, count, perm, flagOwned, false)
}

// Remap behaves like Map but replaces any existing mappings in the range.
// Frames owned by a replaced mapping are returned to the frame allocator
// unless the range maps them again.
func (as AddressSpace) Remap(page mm.Page, frame mm.Frame, count int, perm Perm) *kernel.Error {
	return as.mapRange(page, frame, count, perm, 0, true)
}

// Allocate backs count consecutive pages starting at page with newly
// allocated, zero-cleared frames owned by the address space.
func (as AddressSpace) Allocate(page mm.Page, count int, perm Perm) *kernel.Error {
	if !as.Valid() {
		return errInvalidAddressSpace
	}

	flags, err := perm.entryFlags()
	if err != nil {
		return err
	}

	irqState := maskInterruptsFn()
	defer restoreInterruptsFn(irqState)

	if err = as.checkUnused(page, count); err != nil {
		return err
	}

	flush := as.Active()
	for ; count > 0; count, page = count-1, page+1 {
		if err = as.backPage(page, flags, flush); err != nil {
			return err
		}
	}

	return nil
}

// Reserve sets up count consecutive pages starting at page so that they
// are backed by zero-cleared owned frames the first time they are
// accessed. When lazy allocation is disabled, the frames are allocated
// immediately.
func (as AddressSpace) Reserve(page mm.Page, count int, perm Perm) *kernel.Error {
	if !lazyAlloc {
		return as.Allocate(page, count, perm)
	}

	if !as.Valid() {
		return errInvalidAddressSpace
	}

	flags, err := perm.entryFlags()
	if err != nil {
		return err
	}

	irqState := maskInterruptsFn()
	defer restoreInterruptsFn(irqState)

	if err = as.checkUnused(page, count); err != nil {
		return err
	}

	for ; count > 0; count, page = count-1, page+1 {
		pte, err := leafEntryAlloc(as.pml4, page.Address())
		if err != nil {
			return err
		}

		*pte = pageTableEntry(flags&^FlagPresent | flagLazy)
	}

	return nil
}

// Unmap removes count consecutive mappings starting at page. Unmap fails
// with ErrNotMapped without changing anything if any page in the range is
// neither mapped nor reserved. The visitor, if not nil, receives the
// mapping of every page that was backed by a frame; frames are never
// released by Unmap itself. Page tables in the user half that no longer
// contain any entries are released.
func (as AddressSpace) Unmap(page mm.Page, count int, visitor UnmapVisitor) *kernel.Error {
	if !as.Valid() {
		return errInvalidAddressSpace
	}

	irqState := maskInterruptsFn()
	defer restoreInterruptsFn(irqState)

	for i := 0; i < count; i++ {
		pte, err := leafEntry(as.pml4, (page + mm.Page(i)).Address())
		if err != nil {
			return err
		}
		if pte == nil || !pte.inUse() {
			return ErrNotMapped
		}
	}

	flush := as.Active()
	for ; count > 0; count, page = count-1, page+1 {
		var (
			path      [pageLevels]*pageTableEntry
			virtAddr  = page.Address()
			pathLevel uint8
		)

		walk(as.pml4, virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
			path[pteLevel], pathLevel = pte, pteLevel
			return true
		})

		leaf := path[pathLevel]
		mapping := mappingFromEntry(*leaf)
		*leaf = 0
		if flush || inKernelHalf(virtAddr) {
			flushTLBEntryFn(virtAddr)
		}

		if !inKernelHalf(virtAddr) {
			releaseEmptyTables(path)
		}

		if visitor != nil && !mapping.Lazy {
			visitor(page, mapping)
		}
	}

	return nil
}

// releaseEmptyTables walks the supplied entry path bottom-up and releases
// each table that no longer contains any entries.
func releaseEmptyTables(path [pageLevels]*pageTableEntry) {
	for level := pageLevels - 2; level >= 0; level-- {
		tableFrame := path[level].Frame()
		if !tableAt(tableFrame).isEmpty() {
			return
		}

		*path[level] = 0
		mm.FreeFrame(tableFrame)
	}
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrNotMapped if the virtual address does not
// correspond to a mapped physical address.
func (as AddressSpace) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	mapping, err := as.Lookup(mm.PageFromAddress(virtAddr))
	if err != nil {
		return 0, err
	}

	if mapping.Lazy {
		return 0, ErrNotMapped
	}

	return mapping.Frame.Address() + PageOffset(virtAddr), nil
}

// Lookup returns the mapping for page or ErrNotMapped if the page is neither
// mapped nor reserved.
func (as AddressSpace) Lookup(page mm.Page) (Mapping, *kernel.Error) {
	if !as.Valid() {
		return Mapping{}, errInvalidAddressSpace
	}

	pte, err := leafEntry(as.pml4, page.Address())
	if err != nil {
		return Mapping{}, err
	}

	if pte == nil || !pte.inUse() {
		return Mapping{}, ErrNotMapped
	}

	return mappingFromEntry(*pte), nil
}

// Activate loads this address space into CR3. Callers must ensure that
// interrupts are masked.
func (as AddressSpace) Activate() {
	switchPDTFn(as.pml4.Address())
}

// ActivateChecked behaves like Activate but fails if interrupts are
// enabled.
func (as AddressSpace) ActivateChecked() *kernel.Error {
	if !as.Valid() {
		return errInvalidAddressSpace
	}

	if interruptsEnabledFn() {
		return errActivateWithInterrupts
	}

	as.Activate()
	return nil
}

// Destroy releases the owned frames and all page tables of the user half
// as well as the top-level table itself. The handle must not be used after
// Destroy returns. Destroying the kernel address space or the active
// address space is a fatal error.
func (as AddressSpace) Destroy() {
	if !as.Valid() {
		return
	}

	if as.IsKernel() {
		panic(errDestroyKernelSpace)
	}

	if as.Active() {
		panic(errDestroyActiveSpace)
	}

	irqState := maskInterruptsFn()
	defer restoreInterruptsFn(irqState)

	root := tableAt(as.pml4)
	for index := 0; index < kernelHalfFirstEntry; index++ {
		if root[index].HasFlags(FlagPresent) {
			releaseTable(root[index].Frame(), 1)
		}
	}

	mm.FreeFrame(as.pml4)
}

// releaseTable releases the table at the specified level together with the
// tables it points to and any owned frames mapped by its leaves.
func releaseTable(tableFrame mm.Frame, level uint8) {
	for _, pte := range tableAt(tableFrame) {
		if !pte.HasFlags(FlagPresent) {
			continue
		}

		switch {
		case level == pageLevels-1:
			if pte.HasFlags(flagOwned) {
				mm.FreeFrame(pte.Frame())
			}
		case !pte.HasFlags(FlagHugePage):
			releaseTable(pte.Frame(), level+1)
		}
	}

	mm.FreeFrame(tableFrame)
}

func (as AddressSpace) mapRange(page mm.Page, frame mm.Frame, count int, perm Perm, extraFlags PageTableEntryFlag, overwrite bool) *kernel.Error {
	if !as.Valid() {
		return errInvalidAddressSpace
	}

	flags, err := perm.entryFlags()
	if err != nil {
		return err
	}

	irqState := maskInterruptsFn()
	defer restoreInterruptsFn(irqState)

	if !overwrite {
		if err = as.checkUnused(page, count); err != nil {
			return err
		}
	}

	flush := as.Active()
	for ; count > 0; count, page, frame = count-1, page+1, frame+1 {
		pte, err := leafEntryAlloc(as.pml4, page.Address())
		if err != nil {
			return err
		}

		// Remapping an owned frame onto itself keeps it owned.
		entryFlags := flags | extraFlags
		if pte.HasFlags(FlagPresent | flagOwned) {
			if pte.Frame() == frame {
				entryFlags |= flagOwned
			} else {
				mm.FreeFrame(pte.Frame())
			}
		}

		*pte = 0
		pte.SetFrame(frame)
		pte.SetFlags(entryFlags)
		if flush || inKernelHalf(page.Address()) {
			flushTLBEntryFn(page.Address())
		}
	}

	return nil
}

// checkUnused returns ErrAlreadyMapped if any page in the specified range
// is mapped or reserved.
func (as AddressSpace) checkUnused(page mm.Page, count int) *kernel.Error {
	for ; count > 0; count, page = count-1, page+1 {
		pte, err := leafEntry(as.pml4, page.Address())
		if err != nil {
			return err
		}

		if pte != nil && pte.inUse() {
			return ErrAlreadyMapped
		}
	}

	return nil
}

// backPage installs a newly allocated zero-cleared owned frame for page
// using the supplied leaf flags.
func (as AddressSpace) backPage(page mm.Page, flags PageTableEntryFlag, flush bool) *kernel.Error {
	pte, err := leafEntryAlloc(as.pml4, page.Address())
	if err != nil {
		return err
	}

	frame, err := mm.AllocFrame()
	if err != nil {
		return err
	}
	kernel.Memset(physToVirtFn(frame.Address()), 0, mm.PageSize)

	*pte = 0
	pte.SetFrame(frame)
	pte.SetFlags(flags | FlagPresent | flagOwned)
	if flush || inKernelHalf(page.Address()) {
		flushTLBEntryFn(page.Address())
	}

	return nil
}
