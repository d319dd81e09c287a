// Package pool implements the memory-pool layer of the allocator
// pipeline (spec §2 items 2-3, §4.4-§4.5): a LIFO free-list of
// released heaps of one fixed size, and a sorted collection of such
// pools keyed by size.
package pool

import (
	"sync"

	"github.com/bbernhar/GPGMM/gpgmmerr"
	"github.com/bbernhar/GPGMM/gpgmmheap"
)

// HeapDestroyer destroys a heap previously produced by a HeapCreator.
// Satisfied by *gpgmmheap.Creator.
type HeapDestroyer interface {
	DestroyHeap(h *gpgmmheap.Heap) error
}

// LIFOPool is a stack of released heaps of a single fixed size, per
// spec §4.4. It never creates heaps itself — AcquireFromPool returns
// nil on a miss, leaving refill to the caller (the heap-creator or a
// SegmentedPool's delegation step).
type LIFOPool struct {
	mu   sync.Mutex
	size int
	drv  HeapDestroyer

	stack []*gpgmmheap.Heap
}

// NewLIFOPool builds an empty pool of heaps sized size. drv is used by
// ReleasePool to actually destroy trimmed entries.
func NewLIFOPool(size int, drv HeapDestroyer) *LIFOPool {
	return &LIFOPool{size: size, drv: drv}
}

// Size reports the fixed heap size this pool serves.
func (p *LIFOPool) Size() int { return p.size }

// AcquireFromPool pops the top of the stack, or returns nil if empty.
func (p *LIFOPool) AcquireFromPool() *gpgmmheap.Heap {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.stack)
	if n == 0 {
		return nil
	}
	h := p.stack[n-1]
	p.stack = p.stack[:n-1]
	return h
}

// ReturnToPool pushes h onto the stack. h must not have any live
// sub-allocations (spec §3: "a heap in a memory pool has no live
// sub-allocations").
func (p *LIFOPool) ReturnToPool(h *gpgmmheap.Heap) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stack = append(p.stack, h)
}

// ReleasePool pops and destroys heaps until bytesToRelease bytes have
// been freed, or the pool empties; bytesToRelease <= 0 releases the
// entire pool (spec §8 invariant 6, ReleaseMemory(infinity)).
func (p *LIFOPool) ReleasePool(bytesToRelease int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	released := 0
	for len(p.stack) > 0 {
		if bytesToRelease > 0 && released >= bytesToRelease {
			break
		}
		n := len(p.stack)
		h := p.stack[n-1]
		p.stack = p.stack[:n-1]

		if err := p.drv.DestroyHeap(h); err != nil {
			return released, gpgmmerr.Wrap(gpgmmerr.KindDriverError, err, "ReleasePool failed to destroy heap of size %d", h.Size())
		}
		released += h.Size()
	}
	return released, nil
}

// Len reports how many heaps currently sit in the pool, for tests and
// GetStats rollups.
func (p *LIFOPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stack)
}
