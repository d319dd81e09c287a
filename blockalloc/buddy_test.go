package blockalloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// S1: buddy split/merge sequence from spec §8.
func TestBuddyAllocatorSplitMerge(t *testing.T) {
	a := NewBuddyAllocator(32, 1)

	first, err := a.TryAllocate(8, 8, AllocateDefault)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, 0, first.Offset)

	second, err := a.TryAllocate(8, 4, AllocateDefault)
	require.NoError(t, err)
	require.NotNil(t, second)
	require.Equal(t, 8, second.Offset)

	require.NoError(t, a.Deallocate(first))

	// first's deallocate reinserts the freed level-2 block at offset 0,
	// which is already aligned to 16, so it's returned directly with no
	// further split — matching the original GetNextFreeAlignedBlock.
	third, err := a.TryAllocate(8, 16, AllocateDefault)
	require.NoError(t, err)
	require.NotNil(t, third)
	require.Equal(t, 0, third.Offset)

	require.NoError(t, a.Deallocate(second))
	require.NoError(t, a.Deallocate(third))

	// Invariant 2: exactly one free block remains, at offset 0, size 32.
	require.Equal(t, 1, a.ComputeFreeBlockCountForTesting())
	info := a.GetInfo()
	require.Equal(t, 0, info.UsedBlockBytes)
	require.Equal(t, 0, info.UsedBlockCount)
}

func TestBuddyAllocatorRejectsOversizeRequest(t *testing.T) {
	a := NewBuddyAllocator(32, 1)
	alloc, err := a.TryAllocate(64, 1, AllocateDefault)
	require.Error(t, err)
	require.Nil(t, alloc)
}

func TestBuddyAllocatorOutOfCapacityIsSilentNil(t *testing.T) {
	a := NewBuddyAllocator(16, 1)

	first, err := a.TryAllocate(16, 1, AllocateDefault)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := a.TryAllocate(8, 1, AllocateDefault)
	require.NoError(t, err)
	require.Nil(t, second)
}

func TestBuddyAllocatorNonOverlappingOffsets(t *testing.T) {
	a := NewBuddyAllocator(64, 1)

	var offsets []int
	for i := 0; i < 4; i++ {
		alloc, err := a.TryAllocate(16, 1, AllocateDefault)
		require.NoError(t, err)
		require.NotNil(t, alloc)
		offsets = append(offsets, alloc.Offset)
	}

	seen := map[int]bool{}
	for _, o := range offsets {
		require.False(t, seen[o], "offset %d reused", o)
		seen[o] = true
	}
}
