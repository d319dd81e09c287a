package gpgmm

import (
	"github.com/bbernhar/GPGMM/blockalloc"
	"github.com/bbernhar/GPGMM/gpgmmheap"
	"github.com/bbernhar/GPGMM/internal/driver"
	"github.com/bbernhar/GPGMM/pool"
	"github.com/bbernhar/GPGMM/residency"
)

// smallBufferBlockSize is the minimum block granularity the Slab
// algorithm's underlying slab-cache uses, independent of the caller's
// memory-alignment limit (spec §4.6's smallBuffer pipeline).
const smallBufferBlockSize = 256

// pipelineKey is how CreateResource picks which of the façade's
// per-(heap-kind, MSAA) objects serves a request (spec §4.6).
type pipelineKey struct {
	kind    driver.HeapKind
	msaa    bool
	segment residency.Segment
}

// pipeline is the set of allocator objects the façade maintains for
// one (heap-kind, MSAA-or-not) pair. Exactly one of multi/fixed/segmented
// is populated, chosen by AllocatorDescriptor.SubAllocationAlgorithm:
// Buddy and Slab sub-divide a family of shared on-demand heaps (multi),
// FixedPool and SegmentedPool instead pool whole heaps sized to fit one
// resource each (spec §4.4-§4.5).
type pipeline struct {
	key  pipelineKey
	algo SubAllocationAlgorithm

	multi    *multiHeapAllocator
	heapSize int

	fixed     *pool.LIFOPool
	fixedSize int

	segmented *pool.SegmentedPool

	creator  *gpgmmheap.Creator
	heapDesc driver.HeapDescriptor

	// outstanding/outstandingBytes count whole-heap allocations handed
	// out by this pipeline's fixed/segmented pool that have not yet
	// been returned, for GetStats' usedHeapCount/usedHeapBytes.
	outstanding      int64
	outstandingBytes int64
}

// newPipeline builds the pipeline for key, wiring its sub-allocator to
// a dedicated blockalloc.HeapSource (for Buddy/Slab growth, spec §4.6's
// subAllocated/pooledSubAllocated objects) or a pool package type (for
// FixedPool/SegmentedPool reuse, spec §4.4-§4.5).
func newPipeline(key pipelineKey, allocDesc AllocatorDescriptor, creator *gpgmmheap.Creator, segment residency.Segment) *pipeline {
	heapDesc := driver.HeapDescriptor{
		Alignment: allocDesc.MemoryAlignmentLimit,
		Kind:      key.kind,
		Segment:   segment,
	}

	p := &pipeline{key: key, algo: allocDesc.SubAllocationAlgorithm, creator: creator, heapDesc: heapDesc}

	switch allocDesc.SubAllocationAlgorithm {
	case FixedPool:
		p.fixedSize = allocDesc.PreferredResourceHeapSize
		p.fixed = pool.NewLIFOPool(p.fixedSize, creator)

	case SegmentedPool:
		// Heaps are pooled in 64 KB buckets, matching the buffer
		// alignment rule in computeResourceSizeAndAlignment so that a
		// pool hit is common across same-sized buffer requests.
		p.segmented = pool.NewSegmentedPool(bufferAlignment, heapDesc, creator)

	default: // Buddy, Slab
		heapSize := allocDesc.PreferredResourceHeapSize
		source := blockalloc.NewHeapSource(creator, heapDesc)

		acquire := func() (*gpgmmheap.Heap, error) {
			alloc, err := source.TryAllocate(heapSize, allocDesc.MemoryAlignmentLimit, blockalloc.AllocateDefault)
			if err != nil || alloc == nil {
				return nil, err
			}
			return source.Heap(alloc), nil
		}
		release := func(h *gpgmmheap.Heap) error { return source.DeallocateHeap(h) }

		newSub := func(heapSize, alignment int) blockalloc.Allocator {
			if allocDesc.SubAllocationAlgorithm == Slab {
				chunks := blockalloc.NewBuddyAllocator(heapSize, alignment)
				return blockalloc.NewSlabCacheAllocator(smallBufferBlockSize, heapSize/4, heapSize, alignment, allocDesc.FragmentationLimit, chunks)
			}
			return blockalloc.NewBuddyAllocator(heapSize, alignment)
		}

		p.heapSize = heapSize
		p.multi = newMultiHeapAllocator(heapSize, allocDesc.MemoryAlignmentLimit, acquire, release, newSub)
	}

	return p
}

// subAllocationMethod reports the blockalloc.Method a successful
// sub-allocation from this pipeline should be tagged with.
func (p *pipeline) subAllocationMethod() blockalloc.Method {
	if p.algo == Slab {
		return blockalloc.SubAllocatedWithin
	}
	return blockalloc.SubAllocated
}
