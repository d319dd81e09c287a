package pool

import (
	"sync"

	"golang.org/x/exp/slices"

	"github.com/bbernhar/GPGMM/gpgmmheap"
	"github.com/bbernhar/GPGMM/internal/driver"
)

// HeapCreator produces a brand-new heap on a pool miss. Satisfied by
// *gpgmmheap.Creator.
type HeapCreator interface {
	CreateHeap(desc driver.HeapDescriptor) (*gpgmmheap.Heap, error)
	HeapDestroyer
}

// sizedPool pairs one LIFOPool with the size it serves, kept in the
// ascending-size slice SegmentedPool binary-searches.
type sizedPool struct {
	size int
	pool *LIFOPool
}

// SegmentedPool owns a sorted list of (size -> LIFOPool) entries, per
// spec §4.5, and delegates to a HeapCreator on a pool miss.
type SegmentedPool struct {
	mu sync.Mutex

	alignment int
	descTmpl  driver.HeapDescriptor
	creator   HeapCreator

	pools []sizedPool
}

// NewSegmentedPool builds an empty segmented pool. descTmpl supplies
// the heap-kind/segment/flags used for every heap it creates; only its
// Size field is overwritten per request.
func NewSegmentedPool(alignment int, descTmpl driver.HeapDescriptor, creator HeapCreator) *SegmentedPool {
	return &SegmentedPool{alignment: alignment, descTmpl: descTmpl, creator: creator}
}

func alignUp(size, alignment int) int {
	if alignment <= 1 {
		return size
	}
	return (size + alignment - 1) &^ (alignment - 1)
}

// poolForSize returns the LIFOPool for exactly size s, creating and
// inserting one at the correct sorted position if absent (spec §4.5:
// "binary-searches the segmented list... if absent, inserts one at
// the correct sorted position").
func (sp *SegmentedPool) poolForSize(s int) *LIFOPool {
	idx, found := slices.BinarySearchFunc(sp.pools, s, func(e sizedPool, target int) int {
		return e.size - target
	})
	if found {
		return sp.pools[idx].pool
	}

	entry := sizedPool{size: s, pool: NewLIFOPool(s, sp.creator)}
	sp.pools = slices.Insert(sp.pools, idx, entry)
	return entry.pool
}

// AcquireFromPool returns a heap of aligned size requestSize,
// delegating to the HeapCreator when the matching pool is empty.
func (sp *SegmentedPool) AcquireFromPool(requestSize int) (*gpgmmheap.Heap, error) {
	s := alignUp(requestSize, sp.alignment)

	sp.mu.Lock()
	p := sp.poolForSize(s)
	sp.mu.Unlock()

	if h := p.AcquireFromPool(); h != nil {
		return h, nil
	}

	desc := sp.descTmpl
	desc.Size = s
	desc.Alignment = sp.alignment
	return sp.creator.CreateHeap(desc)
}

// ReturnToPool gives a heap of size h.Size() back to its matching
// pool.
func (sp *SegmentedPool) ReturnToPool(h *gpgmmheap.Heap) {
	sp.mu.Lock()
	p := sp.poolForSize(h.Size())
	sp.mu.Unlock()
	p.ReturnToPool(h)
}

// ReleaseMemory walks pools from smallest to largest, trimming until
// bytes have been freed (bytes <= 0 releases every pool entirely).
func (sp *SegmentedPool) ReleaseMemory(bytes int) (int, error) {
	sp.mu.Lock()
	pools := make([]*LIFOPool, len(sp.pools))
	for i, e := range sp.pools {
		pools[i] = e.pool
	}
	sp.mu.Unlock()

	released := 0
	for _, p := range pools {
		remaining := 0
		if bytes > 0 {
			remaining = bytes - released
			if remaining <= 0 {
				break
			}
		}
		n, err := p.ReleasePool(remaining)
		if err != nil {
			return released, err
		}
		released += n
	}
	return released, nil
}

// Len reports how many distinct pool sizes are tracked, for tests.
func (sp *SegmentedPool) Len() int {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return len(sp.pools)
}
