// Package buffer provides the fixed-capacity buffer pool and the buffer
// queues used to hand frames between the radio and its consumers.
//
// All buffers are carved out of one backing array when the pool is built.
// Nothing is allocated afterwards, so Alloc and Free are O(1) and the pool
// never fragments.
package buffer

import (
	"fmt"
	"sync"
)

type class uint8

const (
	classLarge class = iota
	classSmall
)

// Buffer is a fixed-size block with a typed header. The header travels with
// the buffer through queues, so callers keep per-buffer metadata there.
type Buffer[H any] struct {
	Header H

	body  []byte
	next  *Buffer[H]
	class class
	free  bool
}

// Body returns the full fixed-size storage of the buffer
func (b *Buffer[H]) Body() []byte {
	return b.body
}

// Size returns the capacity of the buffer body in bytes
func (b *Buffer[H]) Size() int {
	return len(b.body)
}

// Small reports whether the buffer comes from the small partition
func (b *Buffer[H]) Small() bool {
	return b.class == classSmall
}

// Pool hands out large and small buffers from two free queues
type Pool[H any] struct {
	cfg       Config
	guard     sync.Locker
	backing   []byte
	buffers   []Buffer[H]
	freeLarge *Queue[H]
	freeSmall *Queue[H]
}

// New partitions the backing store and fills both free queues
func New[H any](cfg Config, guard sync.Locker) (*Pool[H], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if guard == nil {
		guard = nopLocker{}
	}

	total := cfg.LargeBufferCount*cfg.LargeBufferSize + cfg.SmallBufferCount*cfg.SmallBufferSize
	p := &Pool[H]{
		cfg:       cfg,
		guard:     guard,
		backing:   make([]byte, total),
		buffers:   make([]Buffer[H], cfg.LargeBufferCount+cfg.SmallBufferCount),
		freeLarge: NewQueue[H](0, guard),
		freeSmall: NewQueue[H](0, guard),
	}

	offset := 0
	for i := range p.buffers {
		b := &p.buffers[i]
		size := cfg.LargeBufferSize
		b.class = classLarge
		if i >= cfg.LargeBufferCount {
			size = cfg.SmallBufferSize
			b.class = classSmall
		}
		b.body = p.backing[offset : offset+size : offset+size]
		offset += size
		b.free = true
		p.release(b)
	}

	return p, nil
}

// Config returns the pool geometry
func (p *Pool[H]) Config() Config {
	return p.cfg
}

// Alloc returns a free buffer able to hold size bytes, preferring the small
// partition. It returns nil when no suitable buffer is free.
func (p *Pool[H]) Alloc(size int) *Buffer[H] {
	var b *Buffer[H]
	if p.cfg.SmallBufferCount > 0 && size <= p.cfg.SmallBufferSize {
		b = p.freeSmall.Remove(nil)
	}
	if b == nil && size <= p.cfg.LargeBufferSize {
		b = p.freeLarge.Remove(nil)
	}
	if b == nil {
		return nil
	}

	p.guard.Lock()
	b.free = false
	var zero H
	b.Header = zero
	p.guard.Unlock()
	return b
}

// Free returns b to its free queue. Freeing nil or an already free buffer
// does nothing.
func (p *Pool[H]) Free(b *Buffer[H]) {
	if b == nil {
		return
	}
	p.guard.Lock()
	if b.free {
		p.guard.Unlock()
		return
	}
	b.free = true
	p.guard.Unlock()
	p.release(b)
}

func (p *Pool[H]) release(b *Buffer[H]) {
	q := p.freeLarge
	if b.class == classSmall {
		q = p.freeSmall
	}
	if err := q.Append(b); err != nil {
		// free queues are unbounded
		panic(fmt.Sprintf("buffer: returning buffer to free queue: %v", err))
	}
}

// Available returns the number of free large and small buffers
func (p *Pool[H]) Available() (large, small int) {
	return p.freeLarge.Len(), p.freeSmall.Len()
}

// InUse returns the number of buffers currently handed out
func (p *Pool[H]) InUse() int {
	large, small := p.Available()
	return len(p.buffers) - large - small
}
