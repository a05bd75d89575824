// Package capture provides bounded output buffers for sandboxed runs.
package capture

import "sync"

// HeadBuffer keeps the first limit bytes written to it.
// Writing past the limit marks the buffer truncated and fires onOverflow once.
type HeadBuffer struct {
	mu         sync.Mutex
	buf        []byte
	limit      int64
	total      int64
	overflow   bool
	onOverflow func()
}

// NewHeadBuffer creates a head buffer. A non-positive limit means unbounded.
func NewHeadBuffer(limit int64, onOverflow func()) *HeadBuffer {
	return &HeadBuffer{limit: limit, onOverflow: onOverflow}
}

// Write never fails so the producer keeps draining until it is killed.
func (b *HeadBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	b.total += int64(len(p))
	keep := p
	fire := false
	if b.limit > 0 {
		room := b.limit - int64(len(b.buf))
		if room < 0 {
			room = 0
		}
		if int64(len(keep)) > room {
			keep = keep[:room]
			if !b.overflow {
				b.overflow = true
				fire = true
			}
		}
	}
	b.buf = append(b.buf, keep...)
	b.mu.Unlock()

	if fire && b.onOverflow != nil {
		b.onOverflow()
	}
	return len(p), nil
}

// Bytes returns a copy of the captured head.
func (b *HeadBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}

func (b *HeadBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// Truncated reports whether more than limit bytes were written.
func (b *HeadBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflow
}

// Total is the number of bytes offered, kept or not.
func (b *HeadBuffer) Total() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// RingBuffer keeps the last limit bytes written to it.
type RingBuffer struct {
	mu    sync.Mutex
	buf   []byte
	start int
	full  bool
	total int64
}

// NewRingBuffer creates a ring buffer holding at most limit bytes.
func NewRingBuffer(limit int) *RingBuffer {
	if limit <= 0 {
		limit = 1
	}
	return &RingBuffer{buf: make([]byte, 0, limit)}
}

func (r *RingBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total += int64(len(p))
	n := len(p)
	size := cap(r.buf)
	if n >= size {
		r.buf = r.buf[:size]
		copy(r.buf, p[n-size:])
		r.start = 0
		r.full = true
		return n, nil
	}
	for _, c := range p {
		if !r.full {
			r.buf = append(r.buf, c)
			if len(r.buf) == size {
				r.full = true
			}
			continue
		}
		r.buf[r.start] = c
		r.start = (r.start + 1) % size
	}
	return n, nil
}

func (r *RingBuffer) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return string(r.buf)
	}
	out := make([]byte, 0, len(r.buf))
	out = append(out, r.buf[r.start:]...)
	out = append(out, r.buf[:r.start]...)
	return string(out)
}

// Truncated reports whether older bytes were dropped.
func (r *RingBuffer) Truncated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total > int64(cap(r.buf))
}
