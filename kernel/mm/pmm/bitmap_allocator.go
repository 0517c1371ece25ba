package pmm

import (
	"gophercore/kernel"
	"gophercore/kernel/hal/multiboot"
	"gophercore/kernel/kfmt"
	"gophercore/kernel/mm"
	"math"
	"math/bits"
)

// MemoryRegion describes a physical memory range reported by the bootloader.
type MemoryRegion = multiboot.MemoryMapEntry

const (
	// maxPools is the maximum number of usable memory regions that can be
	// managed by a BitmapAllocator.
	maxPools = 32

	// allBlocksReserved is the value of a bitmap block whose frames are
	// all allocated.
	allBlocksReserved = uint64(math.MaxUint64)
)

var (
	errOutOfMemory     = &kernel.Error{Module: "pmm", Message: "out of memory"}
	errDoubleFree      = &kernel.Error{Module: "pmm", Message: "frame is already free"}
	errFrameNotManaged = &kernel.Error{Module: "pmm", Message: "frame not managed by this allocator"}
	errNoUsableMemory  = &kernel.Error{Module: "pmm", Message: "no usable memory regions"}
)

type markAs bool

const (
	markReserved markAs = true
	markFree            = false
)

type framePool struct {
	// startFrame is the frame number for the first page in this pool.
	// Each free bitmap entry i corresponds to frame (startFrame + i).
	startFrame mm.Frame

	// endFrame tracks the last frame in the pool (inclusive).
	endFrame mm.Frame

	// freeCount tracks the available frames in this pool so that fully
	// allocated pools can be skipped without scanning their bitmap.
	freeCount uint32

	// nextBlock is the index of the first bitmap block that may contain
	// a free frame.
	nextBlock uint32

	// freeBitmap tracks used/free frames in the pool. Bits are stored
	// MSB first; a set bit marks an allocated frame.
	freeBitmap []uint64
}

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations across the available memory pools using bitmaps. The bitmap
// storage is supplied by the caller so the allocator never allocates memory.
type BitmapAllocator struct {
	// totalPages tracks the total number of pages across all pools.
	totalPages uint32

	// reservedPages tracks the number of reserved pages across all pools.
	reservedPages uint32

	poolCount int
	pools     [maxPools]framePool
}

// init builds one pool for each available memory region and carves its free
// bitmap out of arena. Regions that do not contain a whole frame are skipped.
// Regions that do not fit in the remaining arena are clamped.
func (alloc *BitmapAllocator) init(regions []MemoryRegion, arena []uint64) {
	*alloc = BitmapAllocator{}
	pageSizeMinus1 := uint64(mm.PageSize - 1)

	for i := range arena {
		arena[i] = 0
	}

	for regionIndex := 0; regionIndex < len(regions) && alloc.poolCount < maxPools; regionIndex++ {
		region := &regions[regionIndex]
		if region.Type != multiboot.MemAvailable {
			continue
		}

		// Reported addresses may not be page-aligned; round up to get
		// the start frame and round down to get the end frame.
		startAddr := (region.PhysAddress + pageSizeMinus1) &^ pageSizeMinus1
		endAddr := (region.PhysAddress + region.Length) &^ pageSizeMinus1
		if endAddr <= startAddr {
			continue
		}

		startFrame := mm.Frame(startAddr >> mm.PageShift)
		pageCount := uint64(endAddr-startAddr) >> mm.PageShift
		if maxPages := uint64(len(arena)) << 6; pageCount > maxPages {
			kfmt.Printf("[pmm] bitmap capacity exhausted; clamping region at 0x%x\n", region.PhysAddress)
			pageCount = maxPages
		}
		if pageCount == 0 {
			continue
		}

		blocks := (pageCount + 63) >> 6
		pool := &alloc.pools[alloc.poolCount]
		pool.startFrame = startFrame
		pool.endFrame = startFrame + mm.Frame(pageCount) - 1
		pool.freeCount = uint32(pageCount)
		pool.freeBitmap = arena[:blocks:blocks]
		arena = arena[blocks:]

		// Flag the padding bits of the last block as allocated so the
		// allocation scan never returns a frame past endFrame.
		if tail := pageCount & 63; tail != 0 {
			pool.freeBitmap[blocks-1] = allBlocksReserved >> tail
		}

		alloc.totalPages += uint32(pageCount)
		alloc.poolCount++
	}
}

// Setup initializes the allocator over the available regions, carving the
// free bitmaps out of arena, and reserves the frames overlapping the kernel
// image [kernelStart, kernelEnd).
func (alloc *BitmapAllocator) Setup(regions []MemoryRegion, arena []uint64, kernelStart, kernelEnd uintptr) {
	alloc.init(regions, arena)
	alloc.reserveKernelFrames(kernelStart, kernelEnd)
}

// reserveKernelFrames marks the frames that overlap the kernel image as
// allocated.
func (alloc *BitmapAllocator) reserveKernelFrames(kernelStart, kernelEnd uintptr) {
	if kernelEnd <= kernelStart {
		return
	}

	lastFrame := mm.FrameFromAddress(kernelEnd - 1)
	for frame := mm.FrameFromAddress(kernelStart); frame <= lastFrame; frame++ {
		_ = alloc.ReserveFrame(frame)
	}
}

// markFrame updates the reservation flag for the bitmap entry that
// corresponds to the supplied frame.
func (alloc *BitmapAllocator) markFrame(poolIndex int, frame mm.Frame, flag markAs) {
	if poolIndex < 0 || frame < alloc.pools[poolIndex].startFrame || frame > alloc.pools[poolIndex].endFrame {
		return
	}

	relFrame := frame - alloc.pools[poolIndex].startFrame
	block := relFrame >> 6
	mask := uint64(1 << (63 - (relFrame - block<<6)))
	switch flag {
	case markFree:
		alloc.pools[poolIndex].freeBitmap[block] &^= mask
		alloc.pools[poolIndex].freeCount++
		alloc.reservedPages--
		if uint32(block) < alloc.pools[poolIndex].nextBlock {
			alloc.pools[poolIndex].nextBlock = uint32(block)
		}
	case markReserved:
		alloc.pools[poolIndex].freeBitmap[block] |= mask
		alloc.pools[poolIndex].freeCount--
		alloc.reservedPages++
	}
}

// isReserved returns true if the frame is flagged as allocated in the
// bitmap of the specified pool.
func (alloc *BitmapAllocator) isReserved(poolIndex int, frame mm.Frame) bool {
	relFrame := frame - alloc.pools[poolIndex].startFrame
	block := relFrame >> 6
	mask := uint64(1 << (63 - (relFrame - block<<6)))
	return alloc.pools[poolIndex].freeBitmap[block]&mask != 0
}

// poolForFrame returns the index of the pool that contains frame or -1 if
// the frame is not managed by any pool.
func (alloc *BitmapAllocator) poolForFrame(frame mm.Frame) int {
	for poolIndex := 0; poolIndex < alloc.poolCount; poolIndex++ {
		if frame >= alloc.pools[poolIndex].startFrame && frame <= alloc.pools[poolIndex].endFrame {
			return poolIndex
		}
	}

	return -1
}

// AllocFrame reserves and returns a free physical frame. It returns
// errOutOfMemory if every managed frame is in use.
func (alloc *BitmapAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	for poolIndex := 0; poolIndex < alloc.poolCount; poolIndex++ {
		pool := &alloc.pools[poolIndex]
		if pool.freeCount == 0 {
			continue
		}

		for block := pool.nextBlock; block < uint32(len(pool.freeBitmap)); block++ {
			if pool.freeBitmap[block] == allBlocksReserved {
				continue
			}

			pool.nextBlock = block
			offset := bits.LeadingZeros64(^pool.freeBitmap[block])
			frame := pool.startFrame + mm.Frame(block<<6) + mm.Frame(offset)
			alloc.markFrame(poolIndex, frame, markReserved)
			return frame, nil
		}
	}

	return mm.InvalidFrame, errOutOfMemory
}

// FreeFrame releases a frame previously obtained via AllocFrame. It returns
// errFrameNotManaged if the frame does not belong to any pool and
// errDoubleFree if the frame is not currently allocated.
func (alloc *BitmapAllocator) FreeFrame(frame mm.Frame) *kernel.Error {
	poolIndex := alloc.poolForFrame(frame)
	if poolIndex < 0 {
		return errFrameNotManaged
	}

	if !alloc.isReserved(poolIndex, frame) {
		return errDoubleFree
	}

	alloc.markFrame(poolIndex, frame, markFree)
	return nil
}

// ReserveFrame flags a managed frame as allocated. Reserving a frame that is
// already allocated has no effect.
func (alloc *BitmapAllocator) ReserveFrame(frame mm.Frame) *kernel.Error {
	poolIndex := alloc.poolForFrame(frame)
	if poolIndex < 0 {
		return errFrameNotManaged
	}

	if !alloc.isReserved(poolIndex, frame) {
		alloc.markFrame(poolIndex, frame, markReserved)
	}
	return nil
}

// Stats returns the total number of managed frames and the number of frames
// that are currently free.
func (alloc *BitmapAllocator) Stats() (uint32, uint32) {
	return alloc.totalPages, alloc.totalPages - alloc.reservedPages
}

// VisitPools invokes visitor with the frame range and free bitmap of each
// pool. The bitmap must not be modified by the visitor.
func (alloc *BitmapAllocator) VisitPools(visitor func(startFrame, endFrame mm.Frame, bitmap []uint64)) {
	for poolIndex := 0; poolIndex < alloc.poolCount; poolIndex++ {
		pool := &alloc.pools[poolIndex]
		visitor(pool.startFrame, pool.endFrame, pool.freeBitmap)
	}
}

func (alloc *BitmapAllocator) printStats() {
	kfmt.Printf(
		"[pmm] page stats: free: %d/%d (%d reserved)\n",
		alloc.totalPages-alloc.reservedPages,
		alloc.totalPages,
		alloc.reservedPages,
	)
}

func printMemoryMap(regions []MemoryRegion) {
	kfmt.Printf("[pmm] system memory map:\n")
	var totalFree mm.Size
	for regionIndex := range regions {
		region := &regions[regionIndex]
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n", region.PhysAddress, region.PhysAddress+region.Length, region.Length, region.Type.String())

		if region.Type == multiboot.MemAvailable {
			totalFree += mm.Size(region.Length)
		}
	}
	kfmt.Printf("[pmm] available memory: %dKb\n", uint64(totalFree/mm.Kb))
}
