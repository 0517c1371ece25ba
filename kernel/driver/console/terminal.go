package console

const (
	defaultFg = LightGrey
	defaultBg = Black

	tabWidth = 4
)

// Terminal implements io.Writer on top of an Ega console. It understands
// CR, LF, TAB and BS and scrolls the console when output reaches the last
// line.
type Terminal struct {
	cons *Ega

	width  uint16
	height uint16

	curX    uint16
	curY    uint16
	curAttr Attr
}

// AttachTo links the terminal with the specified console and resets the
// cursor to the top-left corner.
func (t *Terminal) AttachTo(cons *Ega) {
	t.cons = cons
	t.width, t.height = cons.Dimensions()
	t.curX, t.curY = 0, 0
	t.curAttr = MakeAttr(defaultFg, defaultBg)
}

// SetAttr sets the attribute used for subsequent writes.
func (t *Terminal) SetAttr(attr Attr) {
	t.curAttr = attr
}

// Clear clears the terminal and moves the cursor to the top-left corner.
func (t *Terminal) Clear() {
	t.cons.Clear(0, 0, t.width, t.height)
	t.curX, t.curY = 0, 0
}

// Position returns the current cursor position (x, y).
func (t *Terminal) Position() (uint16, uint16) {
	return t.curX, t.curY
}

// SetPosition sets the current cursor position to (x,y). Coordinates
// outside the terminal are clamped.
func (t *Terminal) SetPosition(x, y uint16) {
	if x >= t.width {
		x = t.width - 1
	}
	if y >= t.height {
		y = t.height - 1
	}

	t.curX, t.curY = x, y
}

// Write implements io.Writer.
func (t *Terminal) Write(data []byte) (int, error) {
	for _, b := range data {
		t.WriteByte(b)
	}

	return len(data), nil
}

// WriteByte implements io.ByteWriter.
func (t *Terminal) WriteByte(b byte) error {
	switch b {
	case '\r':
		t.curX = 0
	case '\n':
		t.curX = 0
		t.lf()
	case '\b':
		if t.curX > 0 {
			t.curX--
			t.cons.Write(' ', t.curAttr, t.curX, t.curY)
		}
	case '\t':
		for i := 0; i < tabWidth; i++ {
			t.put(' ')
		}
	default:
		t.put(b)
	}

	return nil
}

func (t *Terminal) put(b byte) {
	t.cons.Write(b, t.curAttr, t.curX, t.curY)
	t.curX++
	if t.curX == t.width {
		t.curX = 0
		t.lf()
	}
}

// lf advances the cursor by one line, scrolling the console contents once
// the last line is reached.
func (t *Terminal) lf() {
	if t.curY+1 < t.height {
		t.curY++
		return
	}

	t.cons.ScrollUp(1)
	t.cons.Clear(0, t.height-1, t.width, 1)
}
