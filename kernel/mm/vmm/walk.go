package vmm

import (
	"gophercore/kernel"
	"gophercore/kernel/mm"
	"unsafe"
)

// pageTable describes the contents of a page table at any paging level.
type pageTable [entriesPerTable]pageTableEntry

var (
	// physToVirtFn returns the virtual address where the physical address
	// p can be accessed. The boot page tables identity map low physical
	// memory; once the kernel address space is activated the direct map
	// is used instead.
	physToVirtFn = identityPhysToVirt

	// directMapFn replaces physToVirtFn when Init activates the kernel
	// address space. It is mocked by tests.
	directMapFn = directMapPhysToVirt
)

func identityPhysToVirt(physAddr uintptr) uintptr {
	return physAddr
}

func directMapPhysToVirt(physAddr uintptr) uintptr {
	return DirectMapBase + physAddr
}

// tableAt returns the page table stored in frame.
func tableAt(frame mm.Frame) *pageTable {
	return (*pageTable)(unsafe.Pointer(physToVirtFn(frame.Address())))
}

// allocTable allocates a zero-cleared frame for a page table.
func allocTable() (mm.Frame, *kernel.Error) {
	frame, err := mm.AllocFrame()
	if err != nil {
		return mm.InvalidFrame, err
	}

	kernel.Memset(physToVirtFn(frame.Address()), 0, mm.PageSize)
	return frame, nil
}

// isEmpty returns true if none of the table entries is in use.
func (table *pageTable) isEmpty() bool {
	for _, pte := range table {
		if pte != 0 {
			return false
		}
	}
	return true
}

// pteIndex returns the index of the entry that translates virtAddr in a
// table belonging to the specified paging level.
func pteIndex(virtAddr uintptr, level uint8) uintptr {
	return (virtAddr >> pageLevelShifts[level]) & (entriesPerTable - 1)
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr uintptr) uintptr {
	return (virtAddr & ((1 << pageLevelShifts[pageLevels-1]) - 1))
}

// inKernelHalf returns true if virtAddr belongs to the shared kernel half.
func inKernelHalf(virtAddr uintptr) bool {
	return virtAddr >= kernelHalfStart
}

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments. If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk performs a page table walk for the given virtual address starting at
// the top-level table stored in root. It calls the suppplied walkFn with the
// page table entry that corresponds to each page table level. Before
// returning true for a non-leaf entry, walkFn must ensure that the entry
// points to a valid table.
func walk(root mm.Frame, virtAddr uintptr, walkFn pageTableWalker) {
	table := tableAt(root)
	for level := uint8(0); level < pageLevels; level++ {
		pte := &table[pteIndex(virtAddr, level)]
		if !walkFn(level, pte) || level == pageLevels-1 {
			return
		}

		table = tableAt(pte.Frame())
	}
}

// leafEntry returns the last level entry for virtAddr or nil if one of the
// intermediate tables is missing.
func leafEntry(root mm.Frame, virtAddr uintptr) (*pageTableEntry, *kernel.Error) {
	var (
		leaf *pageTableEntry
		err  *kernel.Error
	)

	walk(root, virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			leaf = pte
			return true
		}

		if !pte.HasFlags(FlagPresent) {
			return false
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		return true
	})

	return leaf, err
}

// leafEntryAlloc behaves like leafEntry but allocates any missing
// intermediate tables.
func leafEntryAlloc(root mm.Frame, virtAddr uintptr) (*pageTableEntry, *kernel.Error) {
	var (
		leaf *pageTableEntry
		err  *kernel.Error
	)

	// Intermediate entries are as permissive as possible; the effective
	// permissions are controlled by the leaf entry.
	tableFlags := FlagPresent | FlagRW
	if !inKernelHalf(virtAddr) {
		tableFlags |= FlagUserAccessible
	}

	walk(root, virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			leaf = pte
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		if !pte.HasFlags(FlagPresent) {
			var tableFrame mm.Frame
			if tableFrame, err = allocTable(); err != nil {
				return false
			}

			*pte = 0
			pte.SetFrame(tableFrame)
			pte.SetFlags(tableFlags)
		}

		return true
	})

	return leaf, err
}
