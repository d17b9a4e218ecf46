package ib

import "github.com/rs/zerolog/log"

// Buffer is a byte buffer with reserved tail capacity for receive
// postings. Ownership transfers to a work queue on a successful post
// and back to the completion handler (or the owning pool) when the
// entry completes. A buffer in flight must not be freed or reused by
// any other party.
type Buffer struct {
	data []byte
	used int
	pool *BufferPool
}

// NewBuffer allocates a standalone buffer with the given capacity,
// unattached to any pool. Free drops it for the garbage collector.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// Bytes returns the used portion of the buffer.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.used]
}

// Len returns the number of bytes currently used.
func (b *Buffer) Len() int {
	return b.used
}

// Tailroom returns the remaining free capacity at the tail.
func (b *Buffer) Tailroom() int {
	return len(b.data) - b.used
}

// Put extends the used region by n bytes and returns the newly exposed
// slice for the caller to fill. Panics if n exceeds the tailroom.
func (b *Buffer) Put(n int) []byte {
	if n > b.Tailroom() {
		log.Panic().Int("n", n).Int("tailroom", b.Tailroom()).Msg("buffer overrun")
	}
	s := b.data[b.used : b.used+n]
	b.used += n
	return s
}

// Write appends p to the buffer. Panics if p exceeds the tailroom.
func (b *Buffer) Write(p []byte) {
	copy(b.Put(len(p)), p)
}

// Reset empties the buffer without releasing its storage.
func (b *Buffer) Reset() {
	b.used = 0
}

// Free returns the buffer to its owning pool, or discards it when it
// has none.
func (b *Buffer) Free() {
	if b.pool != nil {
		b.pool.put(b)
	}
}

// BufferPool is a fixed-size allocator for receive-sized buffers. It is
// the backpressure mechanism for receive refill: when the pool is
// empty, Get returns nil and the caller retries on a later poll cycle.
//
// The pool is confined to the dispatcher goroutine along with the rest
// of the core, so it carries no lock.
type BufferPool struct {
	free    []*Buffer
	bufSize int
	total   int
}

// NewBufferPool creates a pool of n buffers of size bytes each.
func NewBufferPool(n, size int) *BufferPool {
	p := &BufferPool{bufSize: size, total: n}
	p.free = make([]*Buffer, 0, n)
	for i := 0; i < n; i++ {
		p.free = append(p.free, &Buffer{data: make([]byte, size), pool: p})
	}
	return p
}

// Get takes a buffer from the pool, or returns nil when the pool is
// exhausted. Exhaustion is not an error; callers retry on a later
// cycle.
func (p *BufferPool) Get() *Buffer {
	if len(p.free) == 0 {
		return nil
	}
	b := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	b.Reset()
	return b
}

// Available reports how many buffers remain in the pool.
func (p *BufferPool) Available() int {
	return len(p.free)
}

// Size reports the per-buffer capacity in bytes.
func (p *BufferPool) Size() int {
	return p.bufSize
}

func (p *BufferPool) put(b *Buffer) {
	if len(p.free) >= p.total {
		log.Panic().Int("total", p.total).Msg("buffer pool double free")
	}
	p.free = append(p.free, b)
}
