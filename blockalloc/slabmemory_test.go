package blockalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bbernhar/GPGMM/block"
)

// bumpAllocator is a minimal Allocator test double standing in for
// whatever chain link sits beneath a SlabMemoryAllocator (a
// HeapSource in production): every TryAllocate hands back a fresh,
// non-overlapping region; Deallocate just forgets it.
type bumpAllocator struct {
	next       int
	nextHandle block.Handle
	live       map[block.Handle]bool
}

func newBumpAllocator() *bumpAllocator {
	return &bumpAllocator{live: make(map[block.Handle]bool)}
}

func (b *bumpAllocator) TryAllocate(size, alignment int, flags AllocateFlags) (*Allocation, error) {
	b.nextHandle++
	h := b.nextHandle
	offset := b.next
	b.next += size
	b.live[h] = true
	return &Allocation{Block: h, Offset: offset, RequestedSize: size, Method: Standalone}, nil
}

func (b *bumpAllocator) Deallocate(a *Allocation) error {
	delete(b.live, a.Block)
	return nil
}

func (b *bumpAllocator) ReleaseMemory(bytes int) (int, error) { return 0, nil }
func (b *bumpAllocator) GetInfo() Info                        { return Info{} }
func (b *bumpAllocator) MemorySize() int                      { return 0 }
func (b *bumpAllocator) MemoryAlignment() int                 { return 1 }

var _ Allocator = (*bumpAllocator)(nil)

// S2: fragmentation rule doubles the slab size when the remainder
// would otherwise waste more than fragLimit of the slab.
func TestSlabMemoryAllocatorFragmentationRuleDoubles(t *testing.T) {
	a := NewSlabMemoryAllocator(32, 128, 512, 1, 0.125, newBumpAllocator())

	slabSize, ok := a.computeSlabSize(22)
	require.True(t, ok)
	require.Equal(t, 256, slabSize)
}

// S4a: a small remainder does not trigger doubling; the initial slab
// size is used as-is.
func TestSlabMemoryAllocatorFragmentationRuleAcceptsInitialSize(t *testing.T) {
	a := NewSlabMemoryAllocator(32, 128, 512, 1, 0.125, newBumpAllocator())

	slabSize, ok := a.computeSlabSize(10)
	require.True(t, ok)
	require.Equal(t, 128, slabSize)
}

// S4b: a request that would need a slab bigger than maxSlabSize
// returns null, not an error.
func TestSlabMemoryAllocatorTooLargeReturnsNil(t *testing.T) {
	a := NewSlabMemoryAllocator(32, 128, 512, 1, 0.125, newBumpAllocator())

	alloc, err := a.TryAllocate(1000, 1, AllocateDefault)
	require.NoError(t, err)
	require.Nil(t, alloc)
}

// S3: filling a slab, releasing every block, and filling again keeps
// exactly one slab of that size in the cache during each round.
func TestSlabMemoryAllocatorPoolReuse(t *testing.T) {
	a := NewSlabMemoryAllocator(32, 512, 512, 1, 0.125, newBumpAllocator())

	const blockCount = 512 / 32
	for round := 0; round < 2; round++ {
		var allocs []*Allocation
		for i := 0; i < blockCount; i++ {
			alloc, err := a.TryAllocate(32, 1, AllocateDefault)
			require.NoError(t, err)
			require.NotNil(t, alloc)
			allocs = append(allocs, alloc)
		}
		require.Equal(t, 1, a.PoolSizeForTesting(512))

		for _, alloc := range allocs {
			require.NoError(t, a.Deallocate(alloc))
		}
	}

	// At zero refcount the slab's backing memory is returned to the
	// underlying allocator and the slab leaves the cache, so each round
	// above starts a fresh slab.
	require.Equal(t, 0, a.GetInfo().UsedBlockCount)
}

func TestSlabMemoryAllocatorSplicesFreeToFullAndBack(t *testing.T) {
	a := NewSlabMemoryAllocator(32, 64, 512, 1, 0.125, newBumpAllocator())

	const blockCount = 64 / 32
	var allocs []*Allocation
	for i := 0; i < blockCount; i++ {
		alloc, err := a.TryAllocate(32, 1, AllocateDefault)
		require.NoError(t, err)
		allocs = append(allocs, alloc)
	}

	cache := a.cacheFor(64)
	require.Equal(t, 0, cache.free.len)
	require.Equal(t, 1, cache.full.len)

	require.NoError(t, a.Deallocate(allocs[0]))
	require.Equal(t, 1, cache.free.len)
	require.Equal(t, 0, cache.full.len)
}
