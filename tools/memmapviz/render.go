package main

import (
	"fmt"
	"image/color"
	"os"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"

	"gophercore/kernel/hal/multiboot"
	"gophercore/kernel/mm"
	"gophercore/kernel/mm/pmm"
)

const (
	margin      = 16
	lineHeight  = 20
	mapBarWidth = 24
	cellGap     = 1
)

var (
	colorBackground = color.RGBA{0x1e, 0x1e, 0x24, 0xff}
	colorText       = color.RGBA{0xe0, 0xe0, 0xe0, 0xff}
	colorFree       = color.RGBA{0x2e, 0xb8, 0x4b, 0xff}
	colorUsed       = color.RGBA{0xd8, 0x3a, 0x2e, 0xff}

	regionColors = map[multiboot.MemoryEntryType]color.RGBA{
		multiboot.MemAvailable:       colorFree,
		multiboot.MemReserved:        {0x70, 0x70, 0x78, 0xff},
		multiboot.MemAcpiReclaimable: {0x3a, 0x7b, 0xd8, 0xff},
		multiboot.MemNvs:             {0xd8, 0xa4, 0x2e, 0xff},
	}
)

// renderOptions controls the layout of the rendered image.
type renderOptions struct {
	width         int
	cellSize      int
	framesPerCell int
	face          font.Face
}

// poolLayout captures the occupancy of a single allocator pool.
type poolLayout struct {
	startFrame mm.Frame
	endFrame   mm.Frame
	used       []bool
}

func (p *poolLayout) frameCount() int {
	return len(p.used)
}

func (p *poolLayout) usedCount() int {
	var count int
	for _, used := range p.used {
		if used {
			count++
		}
	}
	return count
}

// collectPools snapshots the reservation state of every pool in alloc.
func collectPools(alloc *pmm.BitmapAllocator) []poolLayout {
	var pools []poolLayout
	alloc.VisitPools(func(startFrame, endFrame mm.Frame, bitmap []uint64) {
		pool := poolLayout{
			startFrame: startFrame,
			endFrame:   endFrame,
			used:       make([]bool, endFrame-startFrame+1),
		}
		for rel := range pool.used {
			pool.used[rel] = bitmap[rel>>6]&(1<<(63-uint(rel&63))) != 0
		}
		pools = append(pools, pool)
	})
	return pools
}

// loadFontFace parses a TrueType font for the image labels.
func loadFontFace(path string, points float64) (font.Face, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	f, err := truetype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return truetype.NewFace(f, &truetype.Options{Size: points}), nil
}

// cellColor blends the free and used colors according to the fraction of
// reserved frames covered by a cell.
func cellColor(used, total int) color.RGBA {
	if total == 0 {
		return colorBackground
	}

	t := float64(used) / float64(total)
	lerp := func(a, b uint8) uint8 {
		return uint8(float64(a) + (float64(b)-float64(a))*t + 0.5)
	}
	return color.RGBA{
		lerp(colorFree.R, colorUsed.R),
		lerp(colorFree.G, colorUsed.G),
		lerp(colorFree.B, colorUsed.B),
		0xff,
	}
}

func setColor(dc *gg.Context, c color.RGBA) {
	dc.SetRGB255(int(c.R), int(c.G), int(c.B))
}

// layout holds the derived geometry shared by measure and render.
type layout struct {
	columns    int
	mapBarTop  float64
	poolsTop   float64
	poolHeight []float64
	height     int
}

func computeLayout(pools []poolLayout, opts renderOptions) layout {
	l := layout{
		columns:   (opts.width - 2*margin) / opts.cellSize,
		mapBarTop: margin + lineHeight,
	}
	if l.columns < 1 {
		l.columns = 1
	}

	l.poolsTop = l.mapBarTop + mapBarWidth + lineHeight + margin
	y := l.poolsTop
	for _, pool := range pools {
		cells := (pool.frameCount() + opts.framesPerCell - 1) / opts.framesPerCell
		rows := (cells + l.columns - 1) / l.columns
		h := float64(lineHeight + rows*opts.cellSize + margin)
		l.poolHeight = append(l.poolHeight, h)
		y += h
	}
	l.height = int(y) + margin
	return l
}

// render draws the memory map overview followed by one occupancy grid per
// allocator pool.
func render(regions []pmm.MemoryRegion, pools []poolLayout, opts renderOptions) *gg.Context {
	if opts.face == nil {
		opts.face = basicfont.Face7x13
	}

	l := computeLayout(pools, opts)
	dc := gg.NewContext(opts.width, l.height)
	dc.SetFontFace(opts.face)
	setColor(dc, colorBackground)
	dc.Clear()

	drawMemoryMap(dc, regions, l, opts)

	y := l.poolsTop
	for poolIndex := range pools {
		drawPool(dc, poolIndex, &pools[poolIndex], y, l, opts)
		y += l.poolHeight[poolIndex]
	}

	return dc
}

// drawMemoryMap draws a bar scaled to the highest reported address with
// one segment per memory map entry.
func drawMemoryMap(dc *gg.Context, regions []pmm.MemoryRegion, l layout, opts renderOptions) {
	var top uint64
	for _, region := range regions {
		if end := region.PhysAddress + region.Length; end > top {
			top = end
		}
	}

	setColor(dc, colorText)
	dc.DrawString(fmt.Sprintf("memory map: %d entries, top 0x%x", len(regions), top), margin, l.mapBarTop-6)

	barWidth := float64(opts.width - 2*margin)
	for _, region := range regions {
		x := margin + barWidth*float64(region.PhysAddress)/float64(top)
		w := barWidth * float64(region.Length) / float64(top)
		if w < 1 {
			w = 1
		}

		c, ok := regionColors[region.Type]
		if !ok {
			c = regionColors[multiboot.MemReserved]
		}
		setColor(dc, c)
		dc.DrawRectangle(x, l.mapBarTop, w, mapBarWidth)
		dc.Fill()
	}

	// Legend
	x := float64(margin)
	legendY := l.mapBarTop + mapBarWidth + lineHeight - 6
	for _, entryType := range []multiboot.MemoryEntryType{
		multiboot.MemAvailable, multiboot.MemReserved, multiboot.MemAcpiReclaimable, multiboot.MemNvs,
	} {
		setColor(dc, regionColors[entryType])
		dc.DrawRectangle(x, legendY-10, 10, 10)
		dc.Fill()

		label := entryType.String()
		setColor(dc, colorText)
		dc.DrawString(label, x+14, legendY)
		labelWidth, _ := dc.MeasureString(label)
		x += 14 + labelWidth + margin
	}
}

func drawPool(dc *gg.Context, poolIndex int, pool *poolLayout, top float64, l layout, opts renderOptions) {
	setColor(dc, colorText)
	dc.DrawString(fmt.Sprintf(
		"pool %d: frames 0x%x-0x%x, %d/%d reserved, %d frame(s) per cell",
		poolIndex, uint64(pool.startFrame), uint64(pool.endFrame), pool.usedCount(), pool.frameCount(), opts.framesPerCell,
	), margin, top+lineHeight-6)

	gridTop := top + lineHeight
	for cell, first := 0, 0; first < pool.frameCount(); cell, first = cell+1, first+opts.framesPerCell {
		last := first + opts.framesPerCell
		if last > pool.frameCount() {
			last = pool.frameCount()
		}

		used := 0
		for _, reserved := range pool.used[first:last] {
			if reserved {
				used++
			}
		}

		setColor(dc, cellColor(used, last-first))
		x, y := cellOrigin(cell, gridTop, l, opts)
		dc.DrawRectangle(x, y, float64(opts.cellSize-cellGap), float64(opts.cellSize-cellGap))
		dc.Fill()
	}
}

// cellOrigin returns the top-left corner of a grid cell.
func cellOrigin(cell int, gridTop float64, l layout, opts renderOptions) (float64, float64) {
	col, row := cell%l.columns, cell/l.columns
	return float64(margin + col*opts.cellSize), gridTop + float64(row*opts.cellSize)
}
