package main

import (
	"fmt"
	"strconv"
	"strings"

	"gophercore/kernel/hal/multiboot"
	"gophercore/kernel/mm"
	"gophercore/kernel/mm/pmm"
)

// defaultMemoryMap mirrors the map reported by QEMU for a 128M guest.
const defaultMemoryMap = "0x0-0x9fc00:available," +
	"0x9fc00-0xa0000:reserved," +
	"0xf0000-0x100000:reserved," +
	"0x100000-0x7fe0000:available," +
	"0x7fe0000-0x8000000:reserved," +
	"0xfffc0000-0x100000000:reserved"

var regionTypes = map[string]multiboot.MemoryEntryType{
	"available": multiboot.MemAvailable,
	"reserved":  multiboot.MemReserved,
	"acpi":      multiboot.MemAcpiReclaimable,
	"nvs":       multiboot.MemNvs,
}

// parseRange parses a "start-end" pair of hex or decimal addresses.
func parseRange(s string) (uint64, uint64, error) {
	startStr, endStr, ok := strings.Cut(s, "-")
	if !ok {
		return 0, 0, fmt.Errorf("malformed range %q; expected start-end", s)
	}

	start, err := strconv.ParseUint(strings.TrimSpace(startStr), 0, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed range start %q: %w", startStr, err)
	}
	end, err := strconv.ParseUint(strings.TrimSpace(endStr), 0, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed range end %q: %w", endStr, err)
	}
	if end <= start {
		return 0, 0, fmt.Errorf("empty range %q", s)
	}

	return start, end, nil
}

// parseMemoryMap parses a comma separated list of start-end:type entries.
func parseMemoryMap(s string) ([]pmm.MemoryRegion, error) {
	var regions []pmm.MemoryRegion
	for _, entry := range strings.Split(s, ",") {
		if entry = strings.TrimSpace(entry); entry == "" {
			continue
		}

		rangeStr, typeStr, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("malformed memory map entry %q; expected start-end:type", entry)
		}

		entryType, ok := regionTypes[strings.ToLower(typeStr)]
		if !ok {
			return nil, fmt.Errorf("unknown memory type %q", typeStr)
		}

		start, end, err := parseRange(rangeStr)
		if err != nil {
			return nil, err
		}

		regions = append(regions, pmm.MemoryRegion{
			PhysAddress: start,
			Length:      end - start,
			Type:        entryType,
		})
	}

	if len(regions) == 0 {
		return nil, fmt.Errorf("empty memory map")
	}
	return regions, nil
}

// workload describes a simulated sequence of allocator operations.
type workload struct {
	// allocs is the number of frames to allocate.
	allocs int

	// freeEvery releases every n-th allocated frame; 0 keeps them all.
	freeEvery int
}

// arenaBlocks returns the number of bitmap blocks needed to track every
// available frame in regions.
func arenaBlocks(regions []pmm.MemoryRegion) int {
	var blocks int
	for _, region := range regions {
		if region.Type == multiboot.MemAvailable {
			blocks += int((region.Length>>mm.PageShift)+63)>>6 + 1
		}
	}
	return blocks
}

// simulate sets up an allocator over regions, reserves the kernel image and
// runs the workload against it. It returns the number of frames that could
// actually be allocated.
func simulate(regions []pmm.MemoryRegion, kernelStart, kernelEnd uintptr, w workload) (*pmm.BitmapAllocator, int) {
	alloc := new(pmm.BitmapAllocator)
	alloc.Setup(regions, make([]uint64, arenaBlocks(regions)), kernelStart, kernelEnd)

	frames := make([]mm.Frame, 0, w.allocs)
	for i := 0; i < w.allocs; i++ {
		frame, err := alloc.AllocFrame()
		if err != nil {
			break
		}
		frames = append(frames, frame)
	}

	if w.freeEvery > 0 {
		for i := w.freeEvery - 1; i < len(frames); i += w.freeEvery {
			_ = alloc.FreeFrame(frames[i])
		}
	}

	return alloc, len(frames)
}
