package gpgmm

import (
	"sync"
	"sync/atomic"

	"github.com/bbernhar/GPGMM/blockalloc"
	"github.com/bbernhar/GPGMM/gpgmmerr"
	"github.com/bbernhar/GPGMM/gpgmmheap"
	"github.com/bbernhar/GPGMM/internal/driver"
	"github.com/bbernhar/GPGMM/residency"
)

// AllocationFlags controls one CreateResource call, distinct from the
// allocator-wide AllocatorDescriptor options (spec §4.6/§9).
type AllocationFlags uint32

const (
	AllocationFlagNone AllocationFlags = 0
	// AllocationFlagAlwaysCommitted forces this request straight to the
	// committed path, the per-call counterpart of
	// AllocatorDescriptor.AlwaysCommitted.
	AllocationFlagAlwaysCommitted AllocationFlags = 1 << 0
	// AllocationFlagNeverAllocate restricts this request to existing
	// pooled/sub-allocated capacity (spec §9's "neverAllocate" hint).
	AllocationFlagNeverAllocate AllocationFlags = 1 << 1
)

// AllocationDescriptor configures one CreateResource call: which
// segment the resource should be placed in and any per-call flags.
type AllocationDescriptor struct {
	Flags   AllocationFlags
	Segment residency.Segment
}

// ResourceAllocator is the façade described in spec §4.6: per
// (heap-kind, MSAA-or-not, segment) it maintains a pipeline of
// allocator objects, and routes each CreateResource call to the
// sub-allocator first, falling back to a committed resource.
type ResourceAllocator struct {
	drv       driver.Driver
	allocDesc AllocatorDescriptor
	resident  *residency.Manager
	creator   *gpgmmheap.Creator

	mu        sync.Mutex
	pipelines map[pipelineKey]*pipeline

	dedicatedHeaps     int64
	dedicatedHeapBytes int64
	cacheHits          int64
	cacheMisses        int64
	prefetchMisses     int64

	async *asyncPool
}

func newResourceAllocator(drv driver.Driver, allocDesc AllocatorDescriptor, residencyDesc residency.Descriptor) (*ResourceAllocator, error) {
	allocDesc = allocDesc.withDefaults()
	if err := validateAllocatorDescriptor(allocDesc); err != nil {
		return nil, err
	}

	resident := residency.NewManager(residencyDesc, gpgmmheap.NewBudgetAdapter(drv))
	creator := gpgmmheap.NewCreator(drv, resident, allocDesc.Logger)

	ra := &ResourceAllocator{
		drv:       drv,
		allocDesc: allocDesc,
		resident:  resident,
		creator:   creator,
		pipelines: make(map[pipelineKey]*pipeline),
	}
	ra.async = newAsyncPool(allocDesc.AsyncWorkerCount, ra)
	return ra, nil
}

// validateAllocatorDescriptor enforces the construction-time
// constraints spec §6 implies (fragmentation limit is a fraction,
// resource heap tier is 1 or 2). The alwaysInBudget x CreateNotResident
// conflict (spec §9's first open question) is checked per-call in
// CreateResource, since CreateNotResident is a per-resource flag.
func validateAllocatorDescriptor(d AllocatorDescriptor) error {
	if d.FragmentationLimit <= 0 || d.FragmentationLimit >= 1 {
		return gpgmmerr.New(gpgmmerr.KindInvalidRequest, "FragmentationLimit must be in (0, 1), got %v", d.FragmentationLimit)
	}
	if d.ResourceHeapTier != 1 && d.ResourceHeapTier != 2 {
		return gpgmmerr.New(gpgmmerr.KindInvalidRequest, "ResourceHeapTier must be 1 or 2, got %d", d.ResourceHeapTier)
	}
	return nil
}

func (ra *ResourceAllocator) pipelineFor(key pipelineKey) *pipeline {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	p, ok := ra.pipelines[key]
	if !ok {
		p = newPipeline(key, ra.allocDesc, ra.creator, key.segment)
		ra.pipelines[key] = p
	}
	return p
}

// CreateResource implements spec §4.6's CreateResource algorithm.
func (ra *ResourceAllocator) CreateResource(allocDesc AllocationDescriptor, resourceDesc ResourceDescriptor, initialState int, clearValue *[4]float32) (*Allocation, error) {
	if resourceDesc.Size <= 0 {
		return nil, gpgmmerr.New(gpgmmerr.KindInvalidRequest, "resource size must be positive, got %d", resourceDesc.Size)
	}
	if ra.allocDesc.AlwaysInBudget && resourceDesc.CreateNotResident {
		// Spec §9's first open question, resolved as recommended:
		// reject the combination rather than letting the two paths
		// disagree about whether the budget check applies.
		return nil, gpgmmerr.New(gpgmmerr.KindInvalidRequest, "CreateNotResident cannot be combined with AlwaysInBudget")
	}

	size, alignment, dd, err := computeResourceSizeAndAlignment(ra.drv, resourceDesc)
	if err != nil {
		return nil, gpgmmerr.Wrap(gpgmmerr.KindDriverError, err, "QueryResourceInfo failed")
	}
	if size <= 0 {
		return nil, gpgmmerr.New(gpgmmerr.KindOutOfMemory, "driver reported an invalid size for a %d-byte request", resourceDesc.Size)
	}
	if size > ra.allocDesc.MaxResourceHeapSize {
		return nil, gpgmmerr.New(gpgmmerr.KindOutOfMemory, "resource size %d exceeds MaxResourceHeapSize %d", size, ra.allocDesc.MaxResourceHeapSize)
	}
	if alignment == 0 || alignment&(alignment-1) != 0 {
		return nil, gpgmmerr.New(gpgmmerr.KindInvalidRequest, "driver returned non-power-of-two alignment %d", alignment)
	}
	if alignment > ra.allocDesc.MemoryAlignmentLimit {
		return nil, gpgmmerr.New(gpgmmerr.KindInvalidRequest, "alignment %d exceeds MemoryAlignmentLimit %d", alignment, ra.allocDesc.MemoryAlignmentLimit)
	}

	alwaysCommitted := ra.allocDesc.AlwaysCommitted || allocDesc.Flags&AllocationFlagAlwaysCommitted != 0

	if !alwaysCommitted {
		alloc, err := ra.trySubAllocate(allocDesc, resourceDesc, dd, size, alignment, initialState, clearValue)
		if err != nil {
			return nil, err
		}
		if alloc != nil {
			return alloc, nil
		}
	} else if allocDesc.Flags&AllocationFlagNeverAllocate != 0 {
		return nil, gpgmmerr.New(gpgmmerr.KindOutOfCapacity, "AlwaysCommitted and NeverAllocate cannot both be set")
	}

	return ra.createCommitted(resourceDesc, dd, allocDesc.Segment, size, alignment)
}

// trySubAllocate implements the step-5 fallback path: route to the
// pipeline selected by (heap-kind, MSAA, segment), attempt a placed
// resource, and return (nil, nil) — never an error — on ordinary
// OutOfCapacity so CreateResource falls through to the committed path.
func (ra *ResourceAllocator) trySubAllocate(allocDesc AllocationDescriptor, resourceDesc ResourceDescriptor, dd driver.ResourceDescriptor, size, alignment, initialState int, clearValue *[4]float32) (*Allocation, error) {
	p := ra.pipelineFor(pipelineKey{kind: resourceDesc.Kind, msaa: resourceDesc.IsMultisampled, segment: allocDesc.Segment})

	flags := blockalloc.AllocateDefault
	if allocDesc.Flags&AllocationFlagNeverAllocate != 0 || resourceDesc.NeverAllocate {
		flags = blockalloc.NeverAllocate
	}

	switch p.algo {
	case FixedPool:
		return ra.trySubAllocateFixed(p, resourceDesc, dd, size, initialState, clearValue)
	case SegmentedPool:
		return ra.trySubAllocateSegmented(p, resourceDesc, dd, size, initialState, clearValue)
	default:
		return ra.trySubAllocateMulti(p, resourceDesc, dd, size, alignment, flags, initialState, clearValue)
	}
}

func (ra *ResourceAllocator) trySubAllocateMulti(p *pipeline, resourceDesc ResourceDescriptor, dd driver.ResourceDescriptor, size, alignment int, flags blockalloc.AllocateFlags, initialState int, clearValue *[4]float32) (*Allocation, error) {
	backing, heap, cacheHit, err := p.multi.TryAllocate(size, alignment, flags)
	if err != nil {
		return nil, err
	}
	if backing == nil {
		atomic.AddInt64(&ra.cacheMisses, 1)
		return nil, nil
	}
	if cacheHit {
		atomic.AddInt64(&ra.cacheHits, 1)
	} else {
		atomic.AddInt64(&ra.cacheMisses, 1)
	}

	resource, err := ra.placeResource(heap, backing.Offset, dd, initialState, clearValue)
	if err != nil {
		// Roll back the sub-allocation and fall through to the
		// committed path, per spec §7's propagation policy.
		_ = p.multi.Deallocate(backing, heap)
		return nil, nil
	}

	return &Allocation{
		owner:    ra,
		resource: resource,
		heap:     heap,
		offset:   backing.Offset,
		size:     size,
		method:   p.subAllocationMethod(),
		pipeline: p,
		backing:  backing,
		refCount: 1,
	}, nil
}

func (ra *ResourceAllocator) trySubAllocateFixed(p *pipeline, resourceDesc ResourceDescriptor, dd driver.ResourceDescriptor, size int, initialState int, clearValue *[4]float32) (*Allocation, error) {
	if size > p.fixedSize {
		return nil, nil
	}

	heap := p.fixed.AcquireFromPool()
	cacheHit := heap != nil
	if heap == nil {
		h, err := p.creator.CreateHeap(heapDescFor(p, p.fixedSize))
		if err != nil {
			return nil, nil
		}
		heap = h
	}
	if cacheHit {
		atomic.AddInt64(&ra.cacheHits, 1)
	} else {
		atomic.AddInt64(&ra.cacheMisses, 1)
	}

	resource, err := ra.placeResource(heap, 0, dd, initialState, clearValue)
	if err != nil {
		p.fixed.ReturnToPool(heap)
		return nil, nil
	}

	atomic.AddInt64(&p.outstanding, 1)
	atomic.AddInt64(&p.outstandingBytes, int64(heap.Size()))

	return &Allocation{
		owner:           ra,
		resource:        resource,
		heap:            heap,
		offset:          0,
		size:            size,
		method:          blockalloc.Standalone,
		pipeline:        p,
		wholeHeapReturn: func(h *gpgmmheap.Heap) { ra.returnFixed(p, h) },
		refCount:        1,
	}, nil
}

func (ra *ResourceAllocator) returnFixed(p *pipeline, h *gpgmmheap.Heap) {
	atomic.AddInt64(&p.outstanding, -1)
	atomic.AddInt64(&p.outstandingBytes, -int64(h.Size()))
	p.fixed.ReturnToPool(h)
}

func (ra *ResourceAllocator) trySubAllocateSegmented(p *pipeline, resourceDesc ResourceDescriptor, dd driver.ResourceDescriptor, size int, initialState int, clearValue *[4]float32) (*Allocation, error) {
	// SegmentedPool.AcquireFromPool doesn't report whether it hit an
	// existing pooled heap or delegated to the creator, so this
	// pipeline shape doesn't contribute to cacheHits/cacheMisses (only
	// the multi-heap and fixed-pool pipelines do).
	heap, err := p.segmented.AcquireFromPool(size)
	if err != nil || heap == nil {
		return nil, nil
	}

	resource, err := ra.placeResource(heap, 0, dd, initialState, clearValue)
	if err != nil {
		p.segmented.ReturnToPool(heap)
		return nil, nil
	}

	atomic.AddInt64(&p.outstanding, 1)
	atomic.AddInt64(&p.outstandingBytes, int64(heap.Size()))

	return &Allocation{
		owner:           ra,
		resource:        resource,
		heap:            heap,
		offset:          0,
		size:            size,
		method:          blockalloc.Standalone,
		pipeline:        p,
		wholeHeapReturn: func(h *gpgmmheap.Heap) { ra.returnSegmented(p, h) },
		refCount:        1,
	}, nil
}

func (ra *ResourceAllocator) returnSegmented(p *pipeline, h *gpgmmheap.Heap) {
	atomic.AddInt64(&p.outstanding, -1)
	atomic.AddInt64(&p.outstandingBytes, -int64(h.Size()))
	p.segmented.ReturnToPool(h)
}

func heapDescFor(p *pipeline, size int) driver.HeapDescriptor {
	d := p.heapDesc
	d.Size = size
	return d
}

// placeResource locks heap for residency for the duration of
// CreatePlacedResource, per spec §4.6's requirement that the target
// heap be locked-resident while the driver call runs.
func (ra *ResourceAllocator) placeResource(heap *gpgmmheap.Heap, offset int, dd driver.ResourceDescriptor, initialState int, clearValue *[4]float32) (driver.Resource, error) {
	if err := ra.resident.LockHeap(heap); err != nil {
		return nil, err
	}
	defer ra.resident.UnlockHeap(heap)

	resource, err := ra.drv.CreatePlacedResource(heap.DriverHeap(), offset, dd)
	if err != nil {
		return nil, gpgmmerr.Wrap(gpgmmerr.KindDriverError, err, "CreatePlacedResource failed")
	}
	return resource, nil
}

// createCommitted implements step 6: a committed resource, wrapped in
// a single-block heap the residency manager charges like any other.
func (ra *ResourceAllocator) createCommitted(resourceDesc ResourceDescriptor, dd driver.ResourceDescriptor, segment residency.Segment, size, alignment int) (*Allocation, error) {
	if ra.allocDesc.AlwaysInBudget {
		if err := ra.resident.EnsureInBudget(size, segment); err != nil {
			return nil, err
		}
	}

	resource, driverHeap, err := ra.drv.CreateCommittedResource(dd)
	if err != nil {
		return nil, gpgmmerr.Wrap(gpgmmerr.KindDriverError, err, "CreateCommittedResource failed")
	}
	if resource == nil {
		return nil, gpgmmerr.New(gpgmmerr.KindOutOfMemory, "CreateCommittedResource returned no resource")
	}

	heap := gpgmmheap.WrapCommitted(driverHeap, size, alignment, resourceDesc.Kind, segment)
	ra.resident.InsertHeap(heap)

	atomic.AddInt64(&ra.dedicatedHeaps, 1)
	atomic.AddInt64(&ra.dedicatedHeapBytes, int64(size))

	return &Allocation{
		owner:     ra,
		resource:  resource,
		heap:      heap,
		offset:    0,
		size:      size,
		method:    blockalloc.Standalone,
		dedicated: true,
		refCount:  1,
	}, nil
}

// CreateResourceFromExisting wraps an externally owned resource as a
// Standalone allocation without placing it under residency management
// (spec §4.6's second CreateResource overload).
func (ra *ResourceAllocator) CreateResourceFromExisting(resource driver.Resource, size, alignment int, kind driver.HeapKind, segment residency.Segment) (*Allocation, error) {
	if resource == nil {
		return nil, gpgmmerr.New(gpgmmerr.KindInvalidRequest, "CreateResourceFromExisting requires a non-nil resource")
	}
	heap := gpgmmheap.WrapExternal(nil, size, alignment, kind, segment)
	return &Allocation{
		owner:    ra,
		resource: resource,
		heap:     heap,
		offset:   0,
		size:     size,
		method:   blockalloc.Standalone,
		external: true,
		refCount: 1,
	}, nil
}

// ReleaseMemory trims pooled/sub-allocated heaps across every pipeline
// until bytesToRelease bytes have been freed (bytesToRelease <= 0
// releases everything), returning the total bytes actually released.
func (ra *ResourceAllocator) ReleaseMemory(bytesToRelease int) int {
	ra.mu.Lock()
	pipelines := make([]*pipeline, 0, len(ra.pipelines))
	for _, p := range ra.pipelines {
		pipelines = append(pipelines, p)
	}
	ra.mu.Unlock()

	released := 0
	for _, p := range pipelines {
		remaining := 0
		if bytesToRelease > 0 {
			remaining = bytesToRelease - released
			if remaining <= 0 {
				break
			}
		}

		switch {
		case p.fixed != nil:
			n, err := p.fixed.ReleasePool(remaining)
			if err == nil {
				released += n
			}
		case p.segmented != nil:
			n, err := p.segmented.ReleaseMemory(remaining)
			if err == nil {
				released += n
			}
		}
	}
	return released
}

// Close drains every pipeline's pool, stops the residency manager's
// budget-polling goroutine (if running), and joins the async worker
// pool.
func (ra *ResourceAllocator) Close() error {
	ra.async.close()
	ra.ReleaseMemory(0)
	ra.resident.Close()
	return nil
}

// KindOf recovers the gpgmmerr.Kind attached to err, for callers that
// need to branch on the error taxonomy (spec §7).
func KindOf(err error) gpgmmerr.Kind { return gpgmmerr.KindOf(err) }
