// Package mm defines the handle types shared by the physical and virtual
// memory managers. Frames and pages are plain indices; ownership of the
// memory they describe is tracked by the allocators, never by these values.
package mm

import (
	"gophercore/kernel"
	"math"
)

// Frame describes a physical memory page index.
type Frame uintptr

const (
	// InvalidFrame is returned by frame allocators when they fail to
	// reserve a frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical address of the first byte of this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << PageShift)
}

// FrameFromAddress returns the Frame that contains the given physical
// address. Unaligned addresses are rounded down.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr &^ (PageSize - 1)) >> PageShift)
}

// Page describes a virtual memory page index.
type Page uintptr

// Address returns the virtual address of the first byte of this Page.
func (p Page) Address() uintptr {
	return uintptr(p << PageShift)
}

// PageFromAddress returns the Page that contains the given virtual
// address. Unaligned addresses are rounded down.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr &^ (PageSize - 1)) >> PageShift)
}

// FrameAllocatorFn is a function that can allocate physical frames.
type FrameAllocatorFn func() (Frame, *kernel.Error)

// FrameFreeFn is a function that returns a frame to its allocator.
type FrameFreeFn func(Frame)

var (
	frameAllocator FrameAllocatorFn
	frameFree      FrameFreeFn

	errNoFrameAllocator = &kernel.Error{Module: "mm", Message: "no frame allocator registered"}
)

// SetFrameAllocator registers the functions used by the vmm and scheduler
// code whenever physical frames need to be obtained or released.
func SetFrameAllocator(allocFn FrameAllocatorFn, freeFn FrameFreeFn) {
	frameAllocator = allocFn
	frameFree = freeFn
}

// AllocFrame allocates a new physical frame using the registered allocator.
func AllocFrame() (Frame, *kernel.Error) {
	if frameAllocator == nil {
		return InvalidFrame, errNoFrameAllocator
	}
	return frameAllocator()
}

// FreeFrame releases a frame obtained via AllocFrame. It panics if no
// allocator has been registered.
func FreeFrame(f Frame) {
	if frameFree == nil {
		panic(errNoFrameAllocator)
	}
	frameFree(f)
}
