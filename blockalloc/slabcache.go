package blockalloc

// SlabCacheAllocator is the façade over one SlabMemoryAllocator per
// distinct block size, keyed by alignTo(requestSize, minBlockSize),
// per spec §4.3's closing paragraph.
type SlabCacheAllocator struct {
	minBlockSize       int
	maxSlabSize        int
	initialSlabSize    int
	slabAlignment      int
	fragmentationLimit float64

	underlying Allocator

	byBlockSize map[int]*SlabMemoryAllocator
}

// NewSlabCacheAllocator builds a slab-cache façade. underlying
// supplies backing memory for every SlabMemoryAllocator it creates on
// demand.
func NewSlabCacheAllocator(minBlockSize, initialSlabSize, maxSlabSize, slabAlignment int, fragmentationLimit float64, underlying Allocator) *SlabCacheAllocator {
	return &SlabCacheAllocator{
		minBlockSize:       minBlockSize,
		maxSlabSize:        maxSlabSize,
		initialSlabSize:    initialSlabSize,
		slabAlignment:      slabAlignment,
		fragmentationLimit: fragmentationLimit,
		underlying:         underlying,
		byBlockSize:        make(map[int]*SlabMemoryAllocator),
	}
}

func (a *SlabCacheAllocator) allocatorFor(requestSize int) *SlabMemoryAllocator {
	blockSize := alignTo(requestSize, a.minBlockSize)
	sma, ok := a.byBlockSize[blockSize]
	if !ok {
		sma = NewSlabMemoryAllocator(blockSize, a.initialSlabSize, a.maxSlabSize, a.slabAlignment, a.fragmentationLimit, a.underlying)
		a.byBlockSize[blockSize] = sma
	}
	return sma
}

func (a *SlabCacheAllocator) TryAllocate(size, alignment int, flags AllocateFlags) (*Allocation, error) {
	if err := validateRequest(size, alignment); err != nil {
		return nil, err
	}
	return a.allocatorFor(size).TryAllocate(size, alignment, flags)
}

// Deallocate routes to the SlabMemoryAllocator matching the
// allocation's block size; callers must not deallocate through a
// different SlabCacheAllocator than the one that produced the
// allocation.
func (a *SlabCacheAllocator) Deallocate(alloc *Allocation) error {
	if alloc == nil {
		return nil
	}
	blockSize := alignTo(alloc.RequestedSize, a.minBlockSize)
	sma, ok := a.byBlockSize[blockSize]
	if !ok {
		return nil
	}
	return sma.Deallocate(alloc)
}

func (a *SlabCacheAllocator) ReleaseMemory(bytes int) (int, error) {
	total := 0
	for _, sma := range a.byBlockSize {
		released, err := sma.ReleaseMemory(bytes)
		if err != nil {
			return total, err
		}
		total += released
		if bytes > 0 && total >= bytes {
			return total, nil
		}
	}
	return total, nil
}

func (a *SlabCacheAllocator) GetInfo() Info {
	var info Info
	for _, sma := range a.byBlockSize {
		sub := sma.GetInfo()
		info.UsedBlockCount += sub.UsedBlockCount
		info.UsedBlockBytes += sub.UsedBlockBytes
		info.FreeBlockBytes += sub.FreeBlockBytes
	}
	return info
}

func (a *SlabCacheAllocator) MemorySize() int      { return a.minBlockSize }
func (a *SlabCacheAllocator) MemoryAlignment() int { return a.slabAlignment }

var _ Allocator = (*SlabCacheAllocator)(nil)
