package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"gophercore/kernel/kfmt"
)

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[memmapviz] error: %s\n", err.Error())
	os.Exit(1)
}

func runTool() error {
	var (
		memMap        = flag.String("mmap", defaultMemoryMap, "comma separated list of start-end:type memory map entries (type: available, reserved, acpi, nvs)")
		kernelRange   = flag.String("kernel", "0x100000-0x200000", "physical start-end range of the kernel image")
		allocs        = flag.Int("alloc", 4096, "number of frames to allocate")
		freeEvery     = flag.Int("free-every", 3, "release every n-th allocated frame (0 keeps all)")
		width         = flag.Int("width", 1024, "image width in pixels")
		cellSize      = flag.Int("cell", 8, "size of a grid cell in pixels")
		framesPerCell = flag.Int("frames-per-cell", 16, "number of frames represented by a grid cell")
		fontFile      = flag.String("font", "", "optional TrueType font used for labels")
		fontSize      = flag.Float64("font-size", 11, "label font size in points when -font is set")
		output        = flag.String("out", "memmap.png", "output PNG file")
	)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, "memmapviz: render the frame allocator state after a simulated workload\n\n")
		fmt.Fprint(os.Stderr, "Usage: memmapviz [options]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	switch {
	case *width <= 2*margin:
		return fmt.Errorf("image width must exceed %d pixels", 2*margin)
	case *cellSize <= cellGap:
		return fmt.Errorf("cell size must exceed %d pixel(s)", cellGap)
	case *framesPerCell <= 0:
		return errors.New("frames per cell must be positive")
	case *allocs < 0 || *freeEvery < 0:
		return errors.New("workload parameters must not be negative")
	}

	regions, err := parseMemoryMap(*memMap)
	if err != nil {
		return err
	}
	kernelStart, kernelEnd, err := parseRange(*kernelRange)
	if err != nil {
		return err
	}

	opts := renderOptions{width: *width, cellSize: *cellSize, framesPerCell: *framesPerCell}
	if *fontFile != "" {
		if opts.face, err = loadFontFace(*fontFile, *fontSize); err != nil {
			return err
		}
	}

	// Allocator diagnostics go through kfmt.
	kfmt.SetOutputSink(os.Stderr)

	alloc, allocated := simulate(regions, uintptr(kernelStart), uintptr(kernelEnd), workload{allocs: *allocs, freeEvery: *freeEvery})
	total, free := alloc.Stats()
	fmt.Fprintf(os.Stderr, "[memmapviz] allocated %d of %d requested frame(s); %d/%d frames free\n", allocated, *allocs, free, total)

	return render(regions, collectPools(alloc), opts).SavePNG(*output)
}

func main() {
	if err := runTool(); err != nil {
		exit(err)
	}
}
