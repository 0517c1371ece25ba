package kfmt

import "io"

// ringBufferSize is the capacity of the early output buffer; it holds a full
// 80x25 text screen. It must be a power of 2.
const ringBufferSize = 2048

// ringBuffer keeps the most recent ringBufferSize bytes written to it. When
// full, new writes overwrite the oldest data.
type ringBuffer struct {
	buffer [ringBufferSize]byte

	// start is the index of the oldest byte; count is the number of
	// buffered bytes.
	start, count int
}

// Write implements io.Writer. It never fails.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[(rb.start+rb.count)&(ringBufferSize-1)] = b
		if rb.count == ringBufferSize {
			rb.start = (rb.start + 1) & (ringBufferSize - 1)
			continue
		}
		rb.count++
	}

	return len(p), nil
}

// Read implements io.Reader. It returns io.EOF once the buffer is drained.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.count == 0 {
		return 0, io.EOF
	}

	n := 0
	for n < len(p) && rb.count > 0 {
		p[n] = rb.buffer[rb.start]
		rb.start = (rb.start + 1) & (ringBufferSize - 1)
		rb.count--
		n++
	}

	return n, nil
}

// WriteTo implements io.WriterTo so that io.Copy drains the buffer without
// allocating a transfer buffer.
func (rb *ringBuffer) WriteTo(w io.Writer) (int64, error) {
	var written int64
	for rb.count > 0 {
		end := rb.start + rb.count
		if end > ringBufferSize {
			end = ringBufferSize
		}

		n, err := w.Write(rb.buffer[rb.start:end])
		written += int64(n)
		rb.start = (rb.start + n) & (ringBufferSize - 1)
		rb.count -= n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}

	return written, nil
}
