// Package buf implements a process-wide arena allocator for short-lived
// byte buffers. The digest engine (digest.Hash) churns through large
// numbers of same-sized buffers per second; carving them out of a small number of preallocated segments keeps
// steady-state allocation near zero instead of pressuring the garbage
// collector once per chunk.
package buf

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kopia/imageintact/internal/logging"
)

var log = logging.Module("imageintact/buf")

// Buffer is a slice of memory, optionally carved out of a Pool segment.
// Release must be called exactly once when the caller is done with Data.
type Buffer struct {
	Data    []byte
	segment *segment
}

// IsPooled reports whether Data was carved out of a Pool segment, as
// opposed to a freshly heap-allocated slice (which happens for a nil Pool,
// or a request larger than the pool's segment size).
func (b Buffer) IsPooled() bool {
	return b.segment != nil
}

// Release returns the buffer's backing memory to its pool. It is a no-op
// for unpooled buffers.
func (b Buffer) Release() {
	if b.segment != nil {
		b.segment.release()
	}
}

type segment struct {
	pool *Pool
	data []byte

	mu       sync.Mutex
	offset   int
	refCount int32
	retired  bool
}

func (s *segment) allocate(n int) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.retired || s.offset+n > len(s.data) {
		return nil, false
	}

	b := s.data[s.offset : s.offset+n : s.offset+n]
	s.offset += n
	atomic.AddInt32(&s.refCount, 1)

	return b, true
}

// retire marks the segment as no longer handing out new allocations. Once
// its last outstanding Buffer is released, it is recycled back to the
// pool's free list.
func (s *segment) retire() {
	s.mu.Lock()
	s.retired = true
	empty := atomic.LoadInt32(&s.refCount) == 0
	s.mu.Unlock()

	if empty {
		s.recycle()
	}
}

func (s *segment) release() {
	if atomic.AddInt32(&s.refCount, -1) != 0 {
		return
	}

	s.mu.Lock()
	retired := s.retired
	s.mu.Unlock()

	if retired {
		s.recycle()
	}
}

func (s *segment) recycle() {
	s.mu.Lock()
	s.offset = 0
	s.retired = false
	s.mu.Unlock()

	s.pool.free <- s
}

// Pool is a process-wide arena allocator. A nil *Pool is valid and simply
// hands out unpooled buffers, so call sites never need to special-case "no
// pool configured".
type Pool struct {
	ctx         context.Context //nolint:containedctx
	name        string
	segmentSize int

	mu      sync.Mutex
	current *segment
	free    chan *segment
	closed  bool
}

// NewPool creates a Pool whose arena segments are segmentSize bytes each.
func NewPool(ctx context.Context, segmentSize int, name string) *Pool {
	return &Pool{
		ctx:         ctx,
		name:        name,
		segmentSize: segmentSize,
		free:        make(chan *segment, 1<<16),
	}
}

// AddSegments preallocates n segments and adds them to the free list.
func (p *Pool) AddSegments(n int) {
	if p == nil {
		return
	}

	for i := 0; i < n; i++ {
		p.free <- &segment{pool: p, data: make([]byte, p.segmentSize)}
	}
}

// Close marks the pool closed. Buffers already allocated remain valid;
// allocations requested after Close behave as if the pool were nil.
func (p *Pool) Close() {
	if p == nil {
		return
	}

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Allocate returns a buffer of exactly n bytes. The caller must call
// Release when done with it.
func (p *Pool) Allocate(n int) Buffer {
	if p == nil || n > p.segmentSize {
		return Buffer{Data: make([]byte, n)}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return Buffer{Data: make([]byte, n)}
	}

	for {
		if p.current != nil {
			if data, ok := p.current.allocate(n); ok {
				return Buffer{Data: data, segment: p.current}
			}

			p.current.retire()
			p.current = nil
		}

		select {
		case s := <-p.free:
			p.current = s
		default:
			log.Debugf("%s: growing pool by one %d-byte segment", p.name, p.segmentSize)

			p.current = &segment{pool: p, data: make([]byte, p.segmentSize)}
		}
	}
}
