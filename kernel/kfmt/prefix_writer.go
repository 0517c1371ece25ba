package kfmt

import "io"

// PrefixWriter wraps an io.Writer and emits Prefix at the start of every
// line. Subsystems use it to tag their output, e.g. "[vmm] ".
type PrefixWriter struct {
	// Sink receives all output. A nil Sink sends output to the early
	// ring buffer.
	Sink io.Writer

	// Prefix is written before the first byte of each line.
	Prefix []byte

	midLine bool
}

// Write implements io.Writer. The returned count excludes the injected
// prefixes.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var written, lineStart int

	for i := 0; i < len(p); i++ {
		if !w.midLine {
			write(w.Sink, w.Prefix)
			w.midLine = true
		}

		if p[i] != '\n' {
			continue
		}

		n, err := w.sinkWrite(p[lineStart : i+1])
		written += n
		if err != nil {
			return written, err
		}
		lineStart = i + 1
		w.midLine = false
	}

	if lineStart < len(p) {
		n, err := w.sinkWrite(p[lineStart:])
		written += n
		if err != nil {
			return written, err
		}
	}

	return written, nil
}

func (w *PrefixWriter) sinkWrite(p []byte) (int, error) {
	if w.Sink == nil {
		return earlyBuffer.Write(p)
	}
	return w.Sink.Write(p)
}
