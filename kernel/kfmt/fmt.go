// Package kfmt implements the kernel's console output. Its formatter never
// allocates, so it can be used before the Go allocator is up and from
// interrupt context.
package kfmt

import (
	"io"
	"unsafe"
)

// numBufSize is large enough for a 64-bit value in base 8 plus a sign.
const numBufSize = 24

var (
	errMissingArg   = []byte("%!(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")

	digits = "0123456789abcdef"

	numBuf  [numBufSize]byte
	oneByte [1]byte

	// earlyBuffer captures output that is emitted before an output sink
	// is attached via SetOutputSink.
	earlyBuffer ringBuffer

	outputSink io.Writer
)

// SetOutputSink directs Printf output to w. Any output captured while no sink
// was attached is flushed to w first. Passing nil reverts to buffering.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, &earlyBuffer)
	}
}

// GetOutputSink returns the currently attached output sink or nil.
func GetOutputSink() io.Writer {
	return outputSink
}

// Printf writes formatted output to the active output sink. The supported
// verbs are:
//
//	%d  signed/unsigned integer, base 10 (space padded)
//	%x  integer in base 16 (zero padded)
//	%o  integer in base 8 (zero padded)
//	%s  string or []byte (space padded)
//	%t  bool
//	%%  a literal percent sign
//
// An optional decimal width may precede the verb. Arguments that do not match
// the verb are rendered as %!(WRONGTYPE); Stringer is not consulted.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but sends its output to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex int
		width    int
		i        int
	)

	for i < len(format) {
		ch := format[i]
		if ch != '%' {
			writeByte(w, ch)
			i++
			continue
		}

		i++
		width = 0
		for i < len(format) && format[i] >= '0' && format[i] <= '9' {
			width = width*10 + int(format[i]-'0')
			i++
		}

		if i == len(format) {
			write(w, errNoVerb)
			break
		}

		verb := format[i]
		i++

		if verb == '%' {
			writeByte(w, '%')
			continue
		}

		if argIndex >= len(args) {
			write(w, errMissingArg)
			continue
		}

		arg := args[argIndex]
		argIndex++

		switch verb {
		case 'd':
			fmtInt(w, arg, 10, width)
		case 'x':
			fmtInt(w, arg, 16, width)
		case 'o':
			fmtInt(w, arg, 8, width)
		case 's':
			fmtString(w, arg, width)
		case 't':
			fmtBool(w, arg)
		default:
			write(w, errNoVerb)
		}
	}

	for ; argIndex < len(args); argIndex++ {
		write(w, errExtraArg)
	}
}

func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		write(w, errWrongArgType)
	case b:
		writeString(w, "true")
	default:
		writeString(w, "false")
	}
}

func fmtString(w io.Writer, v interface{}, width int) {
	switch s := v.(type) {
	case string:
		pad(w, ' ', width-len(s))
		writeString(w, s)
	case []byte:
		pad(w, ' ', width-len(s))
		write(w, s)
	default:
		write(w, errWrongArgType)
	}
}

// fmtInt renders v in the requested base. Base 10 values are padded with
// spaces and base 8/16 values with zeroes so addresses line up in dumps.
func fmtInt(w io.Writer, v interface{}, base uint64, width int) {
	var (
		u   uint64
		neg bool
	)

	switch n := v.(type) {
	case uint8:
		u = uint64(n)
	case uint16:
		u = uint64(n)
	case uint32:
		u = uint64(n)
	case uint64:
		u = n
	case uint:
		u = uint64(n)
	case uintptr:
		u = uint64(n)
	case int8:
		u, neg = abs(int64(n))
	case int16:
		u, neg = abs(int64(n))
	case int32:
		u, neg = abs(int64(n))
	case int64:
		u, neg = abs(n)
	case int:
		u, neg = abs(int64(n))
	default:
		write(w, errWrongArgType)
		return
	}

	// Fill numBuf from the right
	pos := numBufSize
	for {
		pos--
		numBuf[pos] = digits[u%base]
		u /= base
		if u == 0 {
			break
		}
	}

	if width > numBufSize {
		width = numBufSize
	}

	padCh := byte('0')
	if base == 10 {
		padCh = ' '
	}

	digitCount := numBufSize - pos
	if neg {
		digitCount++
	}

	switch {
	case neg && padCh == ' ':
		pad(w, ' ', width-digitCount)
		writeByte(w, '-')
	case neg:
		writeByte(w, '-')
		pad(w, padCh, width-digitCount)
	default:
		pad(w, padCh, width-digitCount)
	}

	write(w, numBuf[pos:])
}

func abs(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

func pad(w io.Writer, ch byte, count int) {
	for ; count > 0; count-- {
		writeByte(w, ch)
	}
}

func writeByte(w io.Writer, ch byte) {
	oneByte[0] = ch
	write(w, oneByte[:])
}

// writeString emits s one byte at a time; converting s to a []byte would
// allocate.
func writeString(w io.Writer, s string) {
	for i := 0; i < len(s); i++ {
		writeByte(w, s[i])
	}
}

// write hides p from escape analysis. Without this, passing p to the
// w.Write interface call makes the compiler treat every formatted buffer as
// escaping and insert heap allocations into Printf.
func write(w io.Writer, p []byte) {
	realWrite(w, noEscape(unsafe.Pointer(&p)))
}

func realWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w == nil {
		_, _ = earlyBuffer.Write(p)
		return
	}
	_, _ = w.Write(p)
}

// noEscape hides a pointer from escape analysis (see runtime/stubs.go).
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
