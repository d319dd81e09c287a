package blockalloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlabAllocatorLazyMaterialization(t *testing.T) {
	a := NewSlabAllocator(16, 4, 1)
	require.False(t, a.IsFull())

	var allocs []*Allocation
	for i := 0; i < 4; i++ {
		alloc, err := a.TryAllocate(16, 1, AllocateDefault)
		require.NoError(t, err)
		require.NotNil(t, alloc)
		allocs = append(allocs, alloc)
	}
	require.True(t, a.IsFull())

	fifth, err := a.TryAllocate(16, 1, AllocateDefault)
	require.NoError(t, err)
	require.Nil(t, fifth)

	require.NoError(t, a.Deallocate(allocs[0]))
	require.False(t, a.IsFull())
}

func TestSlabAllocatorRejectsOversizeBlock(t *testing.T) {
	a := NewSlabAllocator(16, 4, 1)
	alloc, err := a.TryAllocate(32, 1, AllocateDefault)
	require.Error(t, err)
	require.Nil(t, alloc)
}
