package gpgmm

import (
	"sync/atomic"

	"github.com/bbernhar/GPGMM/blockalloc"
	"github.com/bbernhar/GPGMM/gpgmmerr"
	"github.com/bbernhar/GPGMM/gpgmmheap"
	"github.com/bbernhar/GPGMM/internal/driver"
)

// Allocation is the result of a successful CreateResource call. It
// carries an intrusive reference count, per spec §5: decrementing to
// zero returns the allocation's storage to its owning sub-allocator
// or pool, or destroys its dedicated heap.
type Allocation struct {
	owner    *ResourceAllocator
	resource driver.Resource
	heap     *gpgmmheap.Heap
	offset   int
	size     int
	method   blockalloc.Method
	refCount int32

	pipeline *pipeline
	backing  *blockalloc.Allocation // set for Buddy/Slab sub-allocations

	// wholeHeapReturn, when set, hands heap back to a FixedPool or
	// SegmentedPool instead of destroying it outright.
	wholeHeapReturn func(*gpgmmheap.Heap)
	dedicated       bool // committed-resource fallback path
	external        bool // wraps a client-owned resource; never destroyed here
}

// Resource is the driver-level handle backing this allocation.
func (a *Allocation) Resource() driver.Resource { return a.resource }

// Heap is the heap this allocation is placed in (its own dedicated
// heap, for Standalone allocations).
func (a *Allocation) Heap() *gpgmmheap.Heap { return a.heap }

// Offset is this allocation's byte offset within Heap().
func (a *Allocation) Offset() int { return a.offset }

// Size is the driver-reported size backing this allocation.
func (a *Allocation) Size() int { return a.size }

// Method reports how this allocation's storage was obtained.
func (a *Allocation) Method() blockalloc.Method { return a.method }

// Ref increments the allocation's reference count.
func (a *Allocation) Ref() { atomic.AddInt32(&a.refCount, 1) }

// Release decrements the allocation's reference count; at zero it
// destroys the driver resource and returns its backing storage to
// whichever pipeline produced it (spec §5's reference-counting rule).
func (a *Allocation) Release() error {
	if atomic.AddInt32(&a.refCount, -1) != 0 {
		return nil
	}

	if err := a.owner.drv.DestroyResource(a.resource); err != nil {
		return gpgmmerr.Wrap(gpgmmerr.KindDriverError, err, "DestroyResource failed")
	}
	if a.external {
		return nil
	}

	switch {
	case a.backing != nil:
		return a.pipeline.multi.Deallocate(a.backing, a.heap)
	case a.wholeHeapReturn != nil:
		a.wholeHeapReturn(a.heap)
		return nil
	case a.dedicated:
		atomic.AddInt64(&a.owner.dedicatedHeaps, -1)
		atomic.AddInt64(&a.owner.dedicatedHeapBytes, -int64(a.heap.Size()))
		return a.owner.creator.DestroyHeap(a.heap)
	}
	return nil
}
