package vmm

const (
	// pageLevels indicates the number of page levels supported by the amd64 architecture.
	pageLevels = 4

	// entriesPerTable is the number of entries in a page table at any level.
	entriesPerTable = 512

	// ptePhysPageMask is a mask that allows us to extract the physical memory
	// address pointed to by a page table entry. For this particular architecture,
	// bits 12-51 contain the physical memory address.
	ptePhysPageMask = uintptr(0x000ffffffffff000)

	// kernelHalfFirstEntry is the first top-level table entry that belongs
	// to the kernel half of the address space. Entries from this index
	// onwards point to tables shared by all address spaces.
	kernelHalfFirstEntry = 256

	// kernelHalfStart is the first canonical virtual address of the kernel
	// half of the address space.
	kernelHalfStart = uintptr(0xffff800000000000)
)

// Virtual memory layout of the kernel half.
const (
	// DirectMapBase is the virtual address where all managed physical
	// memory is mapped; physical address p is accessible at
	// DirectMapBase+p.
	DirectMapBase = kernelHalfStart

	// KernelStackBase is the start of the region used for task kernel
	// stacks.
	KernelStackBase = uintptr(0xffffff0000000000)

	// KernelStackRegionSize is the size of the kernel stack region.
	KernelStackRegionSize = uintptr(1 << 39)

	// KernelImageBase is the virtual address the kernel image is linked
	// at. Physical address p of the image is mapped to KernelImageBase+p.
	KernelImageBase = uintptr(0xffffffff80000000)
)

var (
	// pageLevelShifts defines the shift required to access each page table component
	// of a virtual address.
	pageLevelShifts = [pageLevels]uint8{
		39,
		30,
		21,
		12,
	}
)

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is set if when using 2Mb pages instead of 4K pages.
	FlagHugePage

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when the swapping page tables by updating the CR3 register.
	FlagGlobal

	// flagLazy marks a non-present entry that reserves the page for
	// allocation on first access. The permission bits of the entry hold
	// the permissions of the future mapping.
	flagLazy PageTableEntryFlag = 1 << 9

	// flagOwned marks a leaf whose frame belongs to the address space and
	// is released when the address space is destroyed.
	flagOwned PageTableEntryFlag = 1 << 10

	// flagNoExecPerm records a mapping created without PermExec. It is the
	// only record of the permission on CPUs that do not enforce NX.
	flagNoExecPerm PageTableEntryFlag = 1 << 11

	// FlagNoExecute if set, indicates that a page contains non-executable code.
	FlagNoExecute PageTableEntryFlag = 1 << 63
)
