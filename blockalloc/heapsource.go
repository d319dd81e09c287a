package blockalloc

import (
	"sync"

	"github.com/bbernhar/GPGMM/block"
	"github.com/bbernhar/GPGMM/gpgmmheap"
	"github.com/bbernhar/GPGMM/internal/driver"
)

// HeapSource is the chain's terminal Allocator: TryAllocate creates
// one whole driver heap per call (spec §9's "chained allocators
// represent delegation, not inheritance"; this is the delegate every
// buddy/slab-memory allocator ultimately bottoms out at). It never
// splits or reuses a heap — that is exactly what the sub-allocators
// layered on top of it are for.
type HeapSource struct {
	mu sync.Mutex

	creator *gpgmmheap.Creator
	desc    driver.HeapDescriptor

	nextHandle block.Handle
	heaps      map[block.Handle]*gpgmmheap.Heap
}

// NewHeapSource builds a HeapSource that creates heaps of desc.Kind
// and desc.Segment via creator, sized per request.
func NewHeapSource(creator *gpgmmheap.Creator, desc driver.HeapDescriptor) *HeapSource {
	return &HeapSource{
		creator: creator,
		desc:    desc,
		heaps:   make(map[block.Handle]*gpgmmheap.Heap),
	}
}

func (s *HeapSource) TryAllocate(size, alignment int, flags AllocateFlags) (*Allocation, error) {
	if err := validateRequest(size, alignment); err != nil {
		return nil, err
	}
	if flags&NeverAllocate != 0 {
		return nil, nil // A HeapSource can only satisfy requests by creating a heap.
	}

	desc := s.desc
	desc.Size = size
	desc.Alignment = alignment

	if err := s.creator.EnsureInBudget(size, desc.Segment); err != nil {
		return nil, err
	}

	h, err := s.creator.CreateHeap(desc)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.nextHandle++
	handle := s.nextHandle
	s.heaps[handle] = h
	s.mu.Unlock()

	return &Allocation{Block: handle, Offset: 0, RequestedSize: size, Method: Standalone}, nil
}

// Heap returns the driver-backed heap behind a previously returned
// Allocation, for callers that need the actual heap object to issue a
// placed-resource call.
func (s *HeapSource) Heap(alloc *Allocation) *gpgmmheap.Heap {
	if alloc == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heaps[alloc.Block]
}

// DeallocateHeap releases h, previously returned by Heap, without
// requiring the caller to have kept the original Allocation around.
func (s *HeapSource) DeallocateHeap(h *gpgmmheap.Heap) error {
	s.mu.Lock()
	var handle block.Handle
	found := false
	for k, v := range s.heaps {
		if v == h {
			handle, found = k, true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		return nil
	}
	return s.Deallocate(&Allocation{Block: handle})
}

func (s *HeapSource) Deallocate(alloc *Allocation) error {
	if alloc == nil {
		return nil
	}
	s.mu.Lock()
	h, ok := s.heaps[alloc.Block]
	if ok {
		delete(s.heaps, alloc.Block)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.creator.DestroyHeap(h)
}

// ReleaseMemory is a no-op: a HeapSource holds nothing beyond
// individually owned heaps, which are freed by Deallocate.
func (s *HeapSource) ReleaseMemory(bytes int) (int, error) { return 0, nil }

func (s *HeapSource) GetInfo() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{}
	for _, h := range s.heaps {
		info.UsedBlockCount++
		info.UsedBlockBytes += h.Size()
	}
	return info
}

func (s *HeapSource) MemorySize() int      { return s.desc.Size }
func (s *HeapSource) MemoryAlignment() int { return s.desc.Alignment }

var _ Allocator = (*HeapSource)(nil)
