// Package multiboot decodes the multiboot2 information block handed over by
// the bootloader. Only the tags needed by the kernel core are interpreted:
// the boot command line and the physical memory map.
package multiboot

import "unsafe"

type tagType uint32

// nolint
const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
)

// infoHeader describes the multiboot info section header.
type infoHeader struct {
	totalSize uint32
	reserved  uint32
}

// tagHeader precedes each tag. The size field includes the header but not
// any padding; tags start at 8-byte aligned addresses.
type tagHeader struct {
	tagType tagType
	size    uint32
}

type mmapHeader struct {
	entrySize    uint32
	entryVersion uint32
}

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// Any value >= memUnknown is reported as MemReserved.
	memUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a physical memory region reported by the
// bootloader.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

// MemRegionVisitor is invoked by VisitMemRegions for each memory region. The
// visitor returns false to abort the scan.
type MemRegionVisitor func(entry *MemoryMapEntry) bool

var infoData uintptr

// SetInfoPtr updates the internal multiboot information pointer. It must be
// invoked before any other function exported by this package.
func SetInfoPtr(ptr uintptr) {
	infoData = ptr
}

// InfoRange returns the physical address range [start, end) occupied by the
// multiboot information block so it can be excluded from allocation.
func InfoRange() (uintptr, uintptr) {
	if infoData == 0 {
		return 0, 0
	}
	hdr := (*infoHeader)(unsafe.Pointer(infoData))
	return infoData, infoData + uintptr(hdr.totalSize)
}

// VisitMemRegions invokes the supplied visitor for each memory map entry.
// Entries with an unknown type are reported as MemReserved.
func VisitMemRegions(visitor MemRegionVisitor) {
	curPtr, size := findTagByType(tagMemoryMap)
	if size < 8 {
		return
	}

	hdr := (*mmapHeader)(unsafe.Pointer(curPtr))
	if hdr.entrySize == 0 {
		return
	}

	endPtr := curPtr + uintptr(size)
	entry := MemoryMapEntry{}
	for curPtr += 8; curPtr+uintptr(hdr.entrySize) <= endPtr; curPtr += uintptr(hdr.entrySize) {
		entry = *(*MemoryMapEntry)(unsafe.Pointer(curPtr))
		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		if !visitor(&entry) {
			return
		}
	}
}

// CopyMemRegions copies up to len(dst) memory map entries into dst and
// returns the number of copied entries.
func CopyMemRegions(dst []MemoryMapEntry) int {
	var count int
	VisitMemRegions(func(entry *MemoryMapEntry) bool {
		if count == len(dst) {
			return false
		}
		dst[count] = *entry
		count++
		return true
	})
	return count
}

// CmdLine returns the kernel command line passed by the bootloader or an
// empty string if none was supplied. The returned string aliases the
// multiboot information block.
func CmdLine() string {
	curPtr, size := findTagByType(tagBootCmdLine)
	if size == 0 {
		return ""
	}

	// The tag payload is a NUL-terminated string.
	raw := unsafe.Slice((*byte)(unsafe.Pointer(curPtr)), size)
	n := 0
	for n < len(raw) && raw[n] != 0 {
		n++
	}
	if n == 0 {
		return ""
	}
	return unsafe.String(&raw[0], n)
}

// findTagByType scans the multiboot info data looking for a tag of the
// specified type. It returns a pointer to the tag payload and its length
// excluding the tag header or (0, 0) if the tag is not present.
func findTagByType(tagType tagType) (uintptr, uint32) {
	if infoData == 0 {
		return 0, 0
	}

	endPtr := infoData + uintptr((*infoHeader)(unsafe.Pointer(infoData)).totalSize)
	for curPtr := infoData + 8; curPtr+8 <= endPtr; {
		hdr := (*tagHeader)(unsafe.Pointer(curPtr))
		if hdr.tagType == tagMbSectionEnd || hdr.size < 8 {
			break
		}

		if hdr.tagType == tagType {
			return curPtr + 8, hdr.size - 8
		}

		curPtr += uintptr((hdr.size + 7) &^ 7)
	}

	return 0, 0
}
