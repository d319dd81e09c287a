package gpgmm

import (
	"sync"

	"github.com/bbernhar/GPGMM/blockalloc"
	"github.com/bbernhar/GPGMM/gpgmmheap"
)

// heapGroup pairs one physical heap with the sub-allocator scoped to
// its address range [0, heap.Size()).
type heapGroup struct {
	heap  *gpgmmheap.Heap
	alloc blockalloc.Allocator
}

// multiHeapAllocator is the "sub-allocator over on-demand-created
// heaps" piece of a pipeline (spec §4.6's subAllocated/
// pooledSubAllocated objects): it tries every heap it already owns
// before acquiring a new one, and returns an empty heap to its source
// immediately rather than hoarding it, per spec §3's "no heap is
// simultaneously in a memory pool and referenced by an allocation."
type multiHeapAllocator struct {
	mu sync.Mutex

	heapSize        int
	alignment       int
	acquireHeap     func() (*gpgmmheap.Heap, error)
	releaseHeap     func(h *gpgmmheap.Heap) error
	newSubAllocator func(heapSize, alignment int) blockalloc.Allocator

	groups []*heapGroup
}

func newMultiHeapAllocator(heapSize, alignment int, acquire func() (*gpgmmheap.Heap, error), release func(*gpgmmheap.Heap) error, newSub func(int, int) blockalloc.Allocator) *multiHeapAllocator {
	return &multiHeapAllocator{
		heapSize:        heapSize,
		alignment:       alignment,
		acquireHeap:     acquire,
		releaseHeap:     release,
		newSubAllocator: newSub,
	}
}

// TryAllocate returns (allocation, heap, cacheHit, error). cacheHit is
// true when an existing heap group satisfied the request without
// acquiring a new heap, used to drive GetStats' cacheHits/cacheMisses.
func (m *multiHeapAllocator) TryAllocate(size, alignment int, flags blockalloc.AllocateFlags) (*blockalloc.Allocation, *gpgmmheap.Heap, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if size > m.heapSize {
		return nil, nil, false, nil
	}

	for _, g := range m.groups {
		alloc, err := g.alloc.TryAllocate(size, alignment, flags)
		if err != nil {
			return nil, nil, false, err
		}
		if alloc != nil {
			return alloc, g.heap, true, nil
		}
	}

	if flags&blockalloc.NeverAllocate != 0 {
		return nil, nil, false, nil
	}

	heap, err := m.acquireHeap()
	if err != nil {
		return nil, nil, false, err
	}
	if heap == nil {
		return nil, nil, false, nil
	}

	g := &heapGroup{heap: heap, alloc: m.newSubAllocator(heap.Size(), m.alignment)}
	m.groups = append(m.groups, g)

	alloc, err := g.alloc.TryAllocate(size, alignment, flags)
	if err != nil {
		return nil, nil, false, err
	}
	return alloc, heap, false, nil
}

// Deallocate frees alloc from the group backed by heap, releasing the
// heap back to its source once the group is empty.
func (m *multiHeapAllocator) Deallocate(alloc *blockalloc.Allocation, heap *gpgmmheap.Heap) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, g := range m.groups {
		if g.heap != heap {
			continue
		}
		if err := g.alloc.Deallocate(alloc); err != nil {
			return err
		}
		if g.alloc.GetInfo().UsedBlockCount == 0 {
			m.groups = append(m.groups[:i], m.groups[i+1:]...)
			return m.releaseHeap(heap)
		}
		return nil
	}
	return nil
}

func (m *multiHeapAllocator) GetInfo() blockalloc.Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	var info blockalloc.Info
	for _, g := range m.groups {
		sub := g.alloc.GetInfo()
		info.UsedBlockCount += sub.UsedBlockCount
		info.UsedBlockBytes += sub.UsedBlockBytes
	}
	info.FreeBlockBytes = len(m.groups)*m.heapSize - info.UsedBlockBytes
	return info
}

// HeapCount reports how many distinct heaps currently back this
// allocator, for GetStats' usedHeapCount rollup.
func (m *multiHeapAllocator) HeapCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.groups)
}
