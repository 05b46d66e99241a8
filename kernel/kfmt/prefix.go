package kfmt

import (
	"bytes"
	"io"
)

// PrefixWriter is an io.Writer that starts every line forwarded to Sink with
// Prefix. Subsystems use it to tag their output, e.g. "[pmm] ". Like
// Fprintf, a nil Sink writes to the early output buffer.
type PrefixWriter struct {
	Sink   io.Writer
	Prefix []byte

	// midLine is set while the last byte forwarded to Sink was not a
	// line feed.
	midLine bool
}

// Write implements io.Writer. The returned count excludes the injected
// prefixes. A prefix is only emitted once the line it belongs to receives
// its first byte.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var (
		sink    = w.Sink
		written int
	)

	if sink == nil {
		sink = &earlyOutput
	}

	for len(p) != 0 {
		if !w.midLine {
			if _, err := sink.Write(w.Prefix); err != nil {
				return written, err
			}
			w.midLine = true
		}

		lineLen := len(p)
		if i := bytes.IndexByte(p, '\n'); i != -1 {
			lineLen = i + 1
			w.midLine = false
		}

		n, err := sink.Write(p[:lineLen])
		written += n
		if err != nil {
			return written, err
		}
		p = p[lineLen:]
	}

	return written, nil
}
