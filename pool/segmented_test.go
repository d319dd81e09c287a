package pool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bbernhar/GPGMM/internal/driver"
)

func TestSegmentedPoolDelegatesOnMiss(t *testing.T) {
	creator, drv := newTestCreator()
	sp := NewSegmentedPool(256, driver.HeapDescriptor{Kind: driver.HeapKindBuffer, Segment: 0}, creator)

	h, err := sp.AcquireFromPool(100)
	require.NoError(t, err)
	require.NotNil(t, h)
	require.Equal(t, 256, h.Size())

	createHeapCalls, _, _, _, _ := drv.Stats()
	require.Equal(t, 1, createHeapCalls)
}

func TestSegmentedPoolReusesReturnedHeap(t *testing.T) {
	creator, drv := newTestCreator()
	sp := NewSegmentedPool(256, driver.HeapDescriptor{Kind: driver.HeapKindBuffer}, creator)

	h, err := sp.AcquireFromPool(200)
	require.NoError(t, err)
	sp.ReturnToPool(h)

	again, err := sp.AcquireFromPool(200)
	require.NoError(t, err)
	require.Same(t, h, again)

	createHeapCalls, _, _, _, _ := drv.Stats()
	require.Equal(t, 1, createHeapCalls)
}

func TestSegmentedPoolKeepsPoolsSorted(t *testing.T) {
	creator, _ := newTestCreator()
	sp := NewSegmentedPool(1, driver.HeapDescriptor{Kind: driver.HeapKindBuffer}, creator)

	for _, size := range []int{512, 128, 256, 1024} {
		_, err := sp.AcquireFromPool(size)
		require.NoError(t, err)
	}
	require.Equal(t, 4, sp.Len())

	var prev int
	for _, e := range sp.pools {
		require.GreaterOrEqual(t, e.size, prev)
		prev = e.size
	}
}

func TestSegmentedPoolReleaseMemory(t *testing.T) {
	creator, _ := newTestCreator()
	sp := NewSegmentedPool(256, driver.HeapDescriptor{Kind: driver.HeapKindBuffer}, creator)

	h, err := sp.AcquireFromPool(100)
	require.NoError(t, err)
	sp.ReturnToPool(h)

	released, err := sp.ReleaseMemory(0)
	require.NoError(t, err)
	require.Equal(t, 256, released)
}
