// Package pmm implements the physical frame allocator.
package pmm

import (
	"gophercore/kernel"
	"gophercore/kernel/mm"
	"gophercore/kernel/sync"
)

// arenaBlocks is the number of 64-bit bitmap blocks statically reserved for
// tracking frames. It covers 64 GiB of physical memory.
const arenaBlocks = 1 << 18

var (
	// bitmapArena provides the storage for the free bitmaps of all pools.
	bitmapArena [arenaBlocks]uint64

	// bitmapAllocator is the allocator used by the kernel for all frame
	// allocations.
	bitmapAllocator BitmapAllocator

	initialized bool

	// The following functions are mocked by tests.
	maskInterruptsFn    = sync.MaskInterrupts
	restoreInterruptsFn = sync.RestoreInterrupts

	errNotInitialized = &kernel.Error{Module: "pmm", Message: "allocator not initialized"}
)

// Init sets up the physical memory allocator using the supplied memory map.
// Frames overlapping the kernel image [kernelStart, kernelEnd) are reserved.
// Once Init returns successfully, the allocator is registered with the mm
// package.
func Init(regions []MemoryRegion, kernelStart, kernelEnd uintptr) *kernel.Error {
	printMemoryMap(regions)

	bitmapAllocator.Setup(regions, bitmapArena[:], kernelStart, kernelEnd)
	bitmapAllocator.printStats()

	if _, free := bitmapAllocator.Stats(); free == 0 {
		initialized = false
		return errNoUsableMemory
	}

	initialized = true
	mm.SetFrameAllocator(AllocFrame, FreeFrame)
	return nil
}

// AllocFrame reserves a free physical frame.
func AllocFrame() (mm.Frame, *kernel.Error) {
	if !initialized {
		return mm.InvalidFrame, errNotInitialized
	}

	irqState := maskInterruptsFn()
	frame, err := bitmapAllocator.AllocFrame()
	restoreInterruptsFn(irqState)

	return frame, err
}

// FreeFrame returns a frame to the allocator. Freeing a frame that is not
// allocated or not managed by the allocator indicates corrupted kernel
// state and causes a kernel panic.
func FreeFrame(frame mm.Frame) {
	irqState := maskInterruptsFn()
	err := bitmapAllocator.FreeFrame(frame)
	restoreInterruptsFn(irqState)

	if err != nil {
		panic(err)
	}
}

// ReserveFrame flags a frame as allocated so that it is never handed out by
// AllocFrame.
func ReserveFrame(frame mm.Frame) *kernel.Error {
	irqState := maskInterruptsFn()
	err := bitmapAllocator.ReserveFrame(frame)
	restoreInterruptsFn(irqState)

	return err
}

// ReserveRange flags every frame overlapping the physical range [start, end)
// as allocated. Frames outside the managed pools are ignored.
func ReserveRange(start, end uintptr) {
	if end <= start {
		return
	}

	for frame, last := mm.FrameFromAddress(start), mm.FrameFromAddress(end-1); frame <= last; frame++ {
		_ = ReserveFrame(frame)
	}
}

// Stats returns the total number of managed frames and the number of free
// frames.
func Stats() (uint32, uint32) {
	return bitmapAllocator.Stats()
}

// VisitPools invokes visitor with the frame range [startFrame, endFrame]
// and the free bitmap of each pool managed by the allocator.
func VisitPools(visitor func(startFrame, endFrame mm.Frame, bitmap []uint64)) {
	bitmapAllocator.VisitPools(visitor)
}
