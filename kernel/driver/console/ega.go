// Package console provides the text-mode console that receives kernel log
// output once the boot sequence attaches it to kfmt.
package console

import "unsafe"

// Attr defines a color attribute.
type Attr uint16

// The set of colors that can be combined with MakeAttr.
const (
	Black Attr = iota
	Blue
	Green
	Cyan
	Red
	Magenta
	Brown
	LightGrey
	Grey
	LightBlue
	LightGreen
	LightCyan
	LightRed
	LightMagenta
	LightBrown
	White
)

const (
	// DefaultWidth and DefaultHeight are the dimensions of the 80x25 text
	// mode set up by the bootloader.
	DefaultWidth  = 80
	DefaultHeight = 25

	// FramebufferPhysAddr is the physical address of the text mode
	// framebuffer.
	FramebufferPhysAddr = uintptr(0xb8000)

	clearColor = Black
	clearChar  = byte(' ')
)

// MakeAttr combines a foreground and background color into an attribute.
func MakeAttr(fg, bg Attr) Attr {
	return (bg << 4) | (fg & 0xf)
}

// Ega implements an EGA-compatible text console backed by a framebuffer of
// 16-bit cells; the low byte holds the character and the high byte its
// attribute.
type Ega struct {
	width  uint16
	height uint16

	fb []uint16
}

// Init sets up the console to use the framebuffer at fbAddr.
func (cons *Ega) Init(width, height uint16, fbAddr uintptr) {
	cons.width = width
	cons.height = height
	cons.Relocate(fbAddr)
}

// Relocate points the console at a new virtual address for the same
// framebuffer. It is used when the kernel switches to its own address
// space.
func (cons *Ega) Relocate(fbAddr uintptr) {
	cons.fb = unsafe.Slice((*uint16)(unsafe.Pointer(fbAddr)), int(cons.width)*int(cons.height))
}

// Dimensions returns the console width and height in characters.
func (cons *Ega) Dimensions() (uint16, uint16) {
	return cons.width, cons.height
}

// Clear clears the specified rectangular region. The rectangle is clipped
// to the console dimensions.
func (cons *Ega) Clear(x, y, width, height uint16) {
	clr := (uint16(MakeAttr(clearColor, clearColor)) << 8) | uint16(clearChar)

	if x >= cons.width || y >= cons.height {
		return
	}
	if x+width > cons.width {
		width = cons.width - x
	}
	if y+height > cons.height {
		height = cons.height - y
	}

	for rowOffset := y*cons.width + x; height > 0; height, rowOffset = height-1, rowOffset+cons.width {
		for colOffset := rowOffset; colOffset < rowOffset+width; colOffset++ {
			cons.fb[colOffset] = clr
		}
	}
}

// ScrollUp moves the console contents up by the specified number of lines.
// The vacated rows at the bottom keep their previous contents.
func (cons *Ega) ScrollUp(lines uint16) {
	if lines == 0 || lines > cons.height {
		return
	}

	offset := lines * cons.width
	copy(cons.fb, cons.fb[offset:])
}

// Write a char to the specified location.
func (cons *Ega) Write(ch byte, attr Attr, x, y uint16) {
	if x >= cons.width || y >= cons.height {
		return
	}

	cons.fb[(y*cons.width)+x] = (uint16(attr) << 8) | uint16(ch)
}
