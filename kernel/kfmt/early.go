package kfmt

import "io"

// earlyBufferSize is the number of bytes retained while no output sink is
// attached. Two screens of 80x25 text fit, enough for a fault report raised
// before the console comes up.
const earlyBufferSize = 4096

// earlyBuffer keeps the most recent output produced before an output sink
// exists. Once full, each new byte overwrites the oldest one.
type earlyBuffer struct {
	data  [earlyBufferSize]byte
	start int
	count int

	// lost counts the bytes overwritten since the last flush.
	lost uint64
}

// Write implements io.Writer. It never fails.
func (b *earlyBuffer) Write(p []byte) (int, error) {
	for _, c := range p {
		b.data[(b.start+b.count)%earlyBufferSize] = c
		if b.count < earlyBufferSize {
			b.count++
			continue
		}

		b.start = (b.start + 1) % earlyBufferSize
		b.lost++
	}

	return len(p), nil
}

// flushTo writes the retained bytes to w, oldest first, and empties the
// buffer. It returns the number of bytes that were overwritten before they
// could be flushed.
func (b *earlyBuffer) flushTo(w io.Writer) uint64 {
	if b.count != 0 {
		head := b.data[b.start:min(b.start+b.count, earlyBufferSize)]
		w.Write(head)
		if rest := b.count - len(head); rest > 0 {
			w.Write(b.data[:rest])
		}
	}

	lost := b.lost
	b.start, b.count, b.lost = 0, 0, 0
	return lost
}
