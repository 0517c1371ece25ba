package main

import (
	"os"
	"path/filepath"
	"testing"

	"gophercore/kernel/hal/multiboot"
	"gophercore/kernel/mm"
	"gophercore/kernel/mm/pmm"
)

func TestParseMemoryMap(t *testing.T) {
	regions, err := parseMemoryMap(defaultMemoryMap)
	if err != nil {
		t.Fatal(err)
	}
	if len(regions) != 6 {
		t.Fatalf("expected the default map to contain 6 entries; got %d", len(regions))
	}
	if r := regions[3]; r.PhysAddress != 0x100000 || r.Length != 0x7ee0000 || r.Type != multiboot.MemAvailable {
		t.Fatalf("unexpected entry: %+v", r)
	}

	specs := []struct {
		input  string
		expErr bool
	}{
		{"0x1000-0x2000:acpi, 4096-8192:NVS", false},
		{"", true},
		{"0x1000-0x2000", true},
		{"0x1000:available", true},
		{"0x2000-0x1000:available", true},
		{"0x1000-0x2000:rom", true},
		{"zz-0x2000:available", true},
	}

	for specIndex, spec := range specs {
		_, err := parseMemoryMap(spec.input)
		if gotErr := err != nil; gotErr != spec.expErr {
			t.Errorf("[spec %d] expected error: %t; got %v", specIndex, spec.expErr, err)
		}
	}
}

func testRegions() []pmm.MemoryRegion {
	return []pmm.MemoryRegion{
		{PhysAddress: 0, Length: 0x40000, Type: multiboot.MemAvailable},
		{PhysAddress: 0x40000, Length: 0x10000, Type: multiboot.MemReserved},
		{PhysAddress: 0x50000, Length: 0x20000, Type: multiboot.MemAvailable},
	}
}

func TestSimulate(t *testing.T) {
	alloc, allocated := simulate(testRegions(), 0x10000, 0x12000, workload{allocs: 10, freeEvery: 2})
	if allocated != 10 {
		t.Fatalf("expected 10 allocations; got %d", allocated)
	}

	total, free := alloc.Stats()
	if total != 96 || free != 96-2-10+5 {
		t.Fatalf("expected 96 frames with %d free; got %d with %d free", 96-2-10+5, total, free)
	}

	pools := collectPools(alloc)
	if len(pools) != 2 {
		t.Fatalf("expected 2 pools; got %d", len(pools))
	}

	specs := []struct {
		frame   int
		expUsed bool
	}{
		{0, true},
		{1, false},
		{8, true},
		{9, false},
		{10, false},
		{16, true},
		{17, true},
		{18, false},
	}
	for specIndex, spec := range specs {
		if got := pools[0].used[spec.frame]; got != spec.expUsed {
			t.Errorf("[spec %d] expected frame %d reserved: %t; got %t", specIndex, spec.frame, spec.expUsed, got)
		}
	}

	if pools[1].startFrame != mm.Frame(0x50) || pools[1].usedCount() != 0 {
		t.Errorf("expected the second pool to start at frame 0x50 and be untouched; got %+v", pools[1])
	}
}

func TestSimulateExhaustion(t *testing.T) {
	alloc, allocated := simulate(testRegions(), 0, 0, workload{allocs: 200})
	if allocated != 96 {
		t.Fatalf("expected allocations to stop at 96 frames; got %d", allocated)
	}
	if _, free := alloc.Stats(); free != 0 {
		t.Fatalf("expected no free frames; got %d", free)
	}
}

func TestCellColor(t *testing.T) {
	specs := []struct {
		used, total int
		exp         [3]uint8
	}{
		{0, 16, [3]uint8{colorFree.R, colorFree.G, colorFree.B}},
		{16, 16, [3]uint8{colorUsed.R, colorUsed.G, colorUsed.B}},
		{0, 0, [3]uint8{colorBackground.R, colorBackground.G, colorBackground.B}},
	}

	for specIndex, spec := range specs {
		c := cellColor(spec.used, spec.total)
		if got := [3]uint8{c.R, c.G, c.B}; got != spec.exp {
			t.Errorf("[spec %d] expected color %v; got %v", specIndex, spec.exp, got)
		}
	}

	if c := cellColor(8, 16); c.R <= colorFree.R || c.R >= colorUsed.R {
		t.Errorf("expected a half-used cell to blend the free and used colors; got %v", c)
	}
}

func TestRender(t *testing.T) {
	regions := testRegions()
	alloc, _ := simulate(regions, 0x10000, 0x12000, workload{allocs: 16})
	pools := collectPools(alloc)

	opts := renderOptions{width: 256, cellSize: 8, framesPerCell: 4}
	dc := render(regions, pools, opts)
	l := computeLayout(pools, opts)

	if dc.Width() != 256 || dc.Height() != l.height {
		t.Fatalf("expected a 256x%d image; got %dx%d", l.height, dc.Width(), dc.Height())
	}

	img := dc.Image()
	pixel := func(x, y float64) (uint8, uint8) {
		r, g, _, _ := img.At(int(x)+2, int(y)+2).RGBA()
		return uint8(r >> 8), uint8(g >> 8)
	}

	// Frames 0-15 are allocated and 16-17 hold the kernel image; the
	// remaining frames of the first pool are free.
	gridTop := l.poolsTop + lineHeight
	specs := []struct {
		cell    int
		expUsed bool
	}{
		{0, true},
		{3, true},
		{4, true},
		{5, false},
		{15, false},
	}
	for specIndex, spec := range specs {
		x, y := cellOrigin(spec.cell, gridTop, l, opts)
		r, g := pixel(x, y)
		if used := r > g; used != spec.expUsed {
			t.Errorf("[spec %d] expected cell %d used: %t; got pixel r=%d g=%d", specIndex, spec.cell, spec.expUsed, r, g)
		}
	}

	out := filepath.Join(t.TempDir(), "memmap.png")
	if err := dc.SavePNG(out); err != nil {
		t.Fatal(err)
	}
	if info, err := os.Stat(out); err != nil || info.Size() == 0 {
		t.Fatalf("expected a non-empty PNG; got %v", err)
	}
}

func TestLoadFontFace(t *testing.T) {
	dir := t.TempDir()
	bogus := filepath.Join(dir, "bogus.ttf")
	if err := os.WriteFile(bogus, []byte("not a font"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := loadFontFace(bogus, 11); err == nil {
		t.Error("expected an error when parsing an invalid font")
	}
	if _, err := loadFontFace(filepath.Join(dir, "missing.ttf"), 11); err == nil {
		t.Error("expected an error for a missing font file")
	}
}
