package runner

import "bytes"

const truncationMarker = "\n[output truncated]"

// capBuffer is an io.Writer that stops retaining data beyond a byte limit
// while still draining the stream, so a chatty tool never blocks on a full
// pipe or balloons memory.
type capBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newCapBuffer(limit int) *capBuffer {
	return &capBuffer{limit: limit}
}

func (b *capBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if b.buf.Len() >= b.limit {
		b.truncated = true
		return n, nil
	}
	if b.buf.Len()+len(p) > b.limit {
		p = p[:b.limit-b.buf.Len()]
		b.truncated = true
	}
	b.buf.Write(p)
	return n, nil
}

func (b *capBuffer) String() string {
	if b.truncated {
		return b.buf.String() + truncationMarker
	}
	return b.buf.String()
}

func (b *capBuffer) Truncated() bool {
	return b.truncated
}
