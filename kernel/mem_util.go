package kernel

import "unsafe"

// Memset sets size bytes at the given address to the supplied value. Instead
// of a byte loop, the first byte is written and the filled prefix is then
// doubled with copy() until the region is covered; page-aligned regions need
// only log2(size) copies.
func Memset(addr uintptr, value byte, size uintptr) {
	if size == 0 {
		return
	}

	target := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	target[0] = value
	for filled := uintptr(1); filled < size; filled <<= 1 {
		copy(target[filled:], target[:filled])
	}
}
