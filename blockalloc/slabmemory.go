package blockalloc

import (
	"github.com/bbernhar/GPGMM/gpgmmerr"
)

// slabEntry wraps one SlabAllocator with its backing memory allocation
// and reference count, per spec §4.3 steps 2-5.
type slabEntry struct {
	slab     *SlabAllocator
	backing  *Allocation // memory obtained from the underlying allocator
	refCount int

	prev, next *slabEntry
}

// slabList is a doubly-linked list of slabEntry, used for both the
// FreeList and FullList of a SlabCache.
type slabList struct {
	head, tail *slabEntry
	len        int
}

func (l *slabList) pushFront(e *slabEntry) {
	e.prev, e.next = nil, l.head
	if l.head != nil {
		l.head.prev = e
	}
	l.head = e
	if l.tail == nil {
		l.tail = e
	}
	l.len++
}

func (l *slabList) remove(e *slabEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		l.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		l.tail = e.prev
	}
	e.prev, e.next = nil, nil
	l.len--
}

// SlabCache is the (FreeList, FullList) pair for one slab size, per
// spec §4.3.
type SlabCache struct {
	slabSize int
	free     slabList
	full     slabList
}

// SlabMemoryAllocator groups slabs of one fixed blockSize by slab
// size, choosing a slab size per request via the fragmentation rule
// in spec §4.3. underlying supplies the backing memory for each new
// slab, lazily, on first block allocation.
type SlabMemoryAllocator struct {
	blockSize         int
	initialSlabSize   int
	maxSlabSize       int
	slabAlignment     int
	fragmentationLimit float64

	underlying Allocator

	// caches is indexed by log2(maxSlabSize) - log2(slabSize), per
	// spec §4.3 step 1.
	caches []*SlabCache

	usedBlockCount int
	usedBlockBytes int
}

// NewSlabMemoryAllocator builds a slab-memory-allocator for one fixed
// blockSize. fragmentationLimit defaults to 0.125 (spec §6) when <= 0.
func NewSlabMemoryAllocator(blockSize, initialSlabSize, maxSlabSize, slabAlignment int, fragmentationLimit float64, underlying Allocator) *SlabMemoryAllocator {
	if fragmentationLimit <= 0 {
		fragmentationLimit = 0.125
	}
	numCaches := log2(maxSlabSize) + 1
	return &SlabMemoryAllocator{
		blockSize:          blockSize,
		initialSlabSize:    initialSlabSize,
		maxSlabSize:        maxSlabSize,
		slabAlignment:      slabAlignment,
		fragmentationLimit: fragmentationLimit,
		underlying:         underlying,
		caches:             make([]*SlabCache, numCaches),
	}
}

// computeSlabSize implements spec §4.3's fragmentation rule: starting
// from initialSlabSize, while requestSize mod blockSize exceeds
// fragmentationLimit*slabSize, double; then round to the next power of
// two; fail if the result exceeds maxSlabSize.
// computeSlabSize returns ok=false (spec §8 S4: "return null") when no
// slab size up to maxSlabSize satisfies the fragmentation rule.
func (a *SlabMemoryAllocator) computeSlabSize(requestSize int) (int, bool) {
	slabSize := a.initialSlabSize
	for float64(requestSize%a.blockSize) > a.fragmentationLimit*float64(slabSize) {
		slabSize *= 2
		if slabSize > a.maxSlabSize {
			return 0, false
		}
	}
	slabSize = nextPow2(slabSize)
	if slabSize > a.maxSlabSize {
		return 0, false
	}
	return slabSize, true
}

func (a *SlabMemoryAllocator) cacheIndex(slabSize int) int {
	return log2(a.maxSlabSize) - log2(slabSize)
}

func (a *SlabMemoryAllocator) cacheFor(slabSize int) *SlabCache {
	idx := a.cacheIndex(slabSize)
	if a.caches[idx] == nil {
		a.caches[idx] = &SlabCache{slabSize: slabSize}
	}
	return a.caches[idx]
}

// TryAllocate implements spec §4.3's allocate steps 1-5.
func (a *SlabMemoryAllocator) TryAllocate(size, alignment int, flags AllocateFlags) (*Allocation, error) {
	if err := validateRequest(size, alignment); err != nil {
		return nil, err
	}
	if size > a.blockSize {
		return nil, nil
	}

	slabSize, ok := a.computeSlabSize(size)
	if !ok {
		return nil, nil
	}
	blockCount := slabSize / a.blockSize

	cache := a.cacheFor(slabSize)

	if cache.free.head == nil {
		if flags&NeverAllocate != 0 {
			return nil, nil // OutOfCapacity: no existing slab, none may be created.
		}

		backing, err := a.underlying.TryAllocate(slabSize, a.slabAlignment, flags)
		if err != nil {
			return nil, err
		}
		if backing == nil {
			return nil, nil // OutOfCapacity propagated from underlying.
		}

		entry := &slabEntry{
			slab:    NewSlabAllocator(a.blockSize, blockCount, a.slabAlignment),
			backing: backing,
		}
		cache.free.pushFront(entry)
	}

	entry := cache.free.head
	blockAlloc, err := entry.slab.TryAllocate(size, alignment, flags)
	if err != nil {
		return nil, err
	}
	if blockAlloc == nil {
		return nil, nil
	}

	entry.refCount++
	a.usedBlockCount++
	a.usedBlockBytes += a.blockSize

	if entry.slab.IsFull() {
		cache.free.remove(entry)
		cache.full.pushFront(entry)
	}

	return &Allocation{
		Block:         blockAlloc.Block,
		Offset:        entry.backing.Offset + blockAlloc.Offset,
		RequestedSize: size,
		Method:        SubAllocated,
	}, nil
}

// Deallocate implements spec §4.3's deallocate: splice FullList back
// to FreeList if needed, free the block, decrement refcount, and
// release the slab's backing memory at refcount zero.
func (a *SlabMemoryAllocator) Deallocate(alloc *Allocation) error {
	if alloc == nil {
		return nil
	}

	entry, cache := a.findEntry(alloc)
	if entry == nil {
		return gpgmmerr.New(gpgmmerr.KindLogicError, "deallocate: no slab owns block %d", alloc.Block)
	}

	wasFull := entry.slab.IsFull()

	blockOffset := alloc.Offset - entry.backing.Offset
	if err := entry.slab.Deallocate(&Allocation{Block: alloc.Block, Offset: blockOffset, RequestedSize: alloc.RequestedSize}); err != nil {
		return err
	}

	a.usedBlockCount--
	a.usedBlockBytes -= a.blockSize
	entry.refCount--

	if wasFull && !entry.slab.IsFull() {
		cache.full.remove(entry)
		cache.free.pushFront(entry)
	}

	if entry.refCount == 0 {
		cache.free.remove(entry)
		if err := a.underlying.Deallocate(entry.backing); err != nil {
			return err
		}
	}

	return nil
}

func (a *SlabMemoryAllocator) findEntry(alloc *Allocation) (*slabEntry, *SlabCache) {
	for _, cache := range a.caches {
		if cache == nil {
			continue
		}
		for e := cache.free.head; e != nil; e = e.next {
			if e.slab.blocks.Has(alloc.Block) {
				return e, cache
			}
		}
		for e := cache.full.head; e != nil; e = e.next {
			if e.slab.blocks.Has(alloc.Block) {
				return e, cache
			}
		}
	}
	return nil, nil
}

func (a *SlabMemoryAllocator) ReleaseMemory(bytes int) (int, error) {
	released := 0
	for _, cache := range a.caches {
		if cache == nil {
			continue
		}
		for e := cache.free.head; e != nil; {
			next := e.next
			if e.refCount == 0 {
				cache.free.remove(e)
				if err := a.underlying.Deallocate(e.backing); err != nil {
					return released, err
				}
				released += e.slab.MemorySize()
			}
			e = next
			if bytes > 0 && released >= bytes {
				return released, nil
			}
		}
	}
	return released, nil
}

func (a *SlabMemoryAllocator) GetInfo() Info {
	return Info{
		UsedBlockCount: a.usedBlockCount,
		UsedBlockBytes: a.usedBlockBytes,
	}
}

func (a *SlabMemoryAllocator) MemorySize() int      { return a.blockSize }
func (a *SlabMemoryAllocator) MemoryAlignment() int { return a.slabAlignment }

// PoolSizeForTesting reports how many slabs of slabSize are currently
// held (free + full), used to verify testable scenario S3.
func (a *SlabMemoryAllocator) PoolSizeForTesting(slabSize int) int {
	idx := a.cacheIndex(slabSize)
	if idx >= len(a.caches) || a.caches[idx] == nil {
		return 0
	}
	return a.caches[idx].free.len + a.caches[idx].full.len
}

var _ Allocator = (*SlabMemoryAllocator)(nil)
