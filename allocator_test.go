package gpgmm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bbernhar/GPGMM/blockalloc"
	"github.com/bbernhar/GPGMM/internal/driver"
	"github.com/bbernhar/GPGMM/internal/driver/fakedriver"
	"github.com/bbernhar/GPGMM/residency"
)

func newTestAllocator(t *testing.T, configure func(*AllocatorDescriptor)) (*ResourceAllocator, *fakedriver.Driver) {
	t.Helper()
	drv := fakedriver.New()
	allocDesc := AllocatorDescriptor{
		PreferredResourceHeapSize: 1 << 20,
		MaxResourceHeapSize:       1 << 30,
		MemoryAlignmentLimit:      1 << 20,
	}
	if configure != nil {
		configure(&allocDesc)
	}
	ra, err := New(drv, allocDesc, residency.Descriptor{})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, ra.Close()) })
	return ra, drv
}

func TestCreateResourceSubAllocates(t *testing.T) {
	ra, _ := newTestAllocator(t, nil)

	alloc, err := ra.CreateResource(AllocationDescriptor{}, ResourceDescriptor{Size: 4096, Kind: driver.HeapKindBuffer}, 0, nil)
	require.NoError(t, err)
	require.NotNil(t, alloc)
	require.NotNil(t, alloc.backing)

	require.NoError(t, alloc.Release())
}

// S5: a façade whose sub-allocator is artificially saturated must fall
// back to the committed path, tagging the result Standalone.
func TestCreateResourceFallsBackToCommitted(t *testing.T) {
	ra, drv := newTestAllocator(t, func(d *AllocatorDescriptor) {
		d.PreferredResourceHeapSize = 1 // every sub-allocate request exceeds this heap size.
	})

	desc := ResourceDescriptor{Size: 64 * 1024, Kind: driver.HeapKindBuffer}
	alloc, err := ra.CreateResource(AllocationDescriptor{}, desc, 0, nil)
	require.NoError(t, err)
	require.NotNil(t, alloc)
	require.Equal(t, blockalloc.Standalone, alloc.Method())

	_, _, _, committed, _ := drv.Stats()
	require.Equal(t, 1, committed)

	require.NoError(t, alloc.Release())
}

func TestCreateResourceAlwaysCommitted(t *testing.T) {
	ra, drv := newTestAllocator(t, func(d *AllocatorDescriptor) {
		d.AlwaysCommitted = true
	})

	alloc, err := ra.CreateResource(AllocationDescriptor{}, ResourceDescriptor{Size: 1024, Kind: driver.HeapKindBuffer}, 0, nil)
	require.NoError(t, err)
	require.NotNil(t, alloc)

	createHeapCalls, _, _, committed, _ := drv.Stats()
	require.Equal(t, 0, createHeapCalls)
	require.Equal(t, 1, committed)

	require.NoError(t, alloc.Release())
}

func TestCreateResourceRejectsZeroSize(t *testing.T) {
	ra, _ := newTestAllocator(t, nil)

	_, err := ra.CreateResource(AllocationDescriptor{}, ResourceDescriptor{Size: 0, Kind: driver.HeapKindBuffer}, 0, nil)
	require.Error(t, err)
	require.Equal(t, "InvalidRequest", KindOf(err).String())
}

func TestCreateResourceOutOfMemoryWhenDriverRejectsDescriptor(t *testing.T) {
	ra, drv := newTestAllocator(t, nil)
	drv.FailQueryResourceInfo = func(desc driver.ResourceDescriptor) bool { return true }

	_, err := ra.CreateResource(AllocationDescriptor{}, ResourceDescriptor{Size: 4096, Kind: driver.HeapKindBuffer}, 0, nil)
	require.Error(t, err)
	require.Equal(t, "OutOfMemory", KindOf(err).String())
}

func TestCreateResourceRejectsAlwaysInBudgetWithCreateNotResident(t *testing.T) {
	ra, _ := newTestAllocator(t, func(d *AllocatorDescriptor) {
		d.AlwaysInBudget = true
	})

	_, err := ra.CreateResource(AllocationDescriptor{}, ResourceDescriptor{Size: 4096, Kind: driver.HeapKindBuffer, CreateNotResident: true}, 0, nil)
	require.Error(t, err)
	require.Equal(t, "InvalidRequest", KindOf(err).String())
}

func TestReleaseResourceFreesSubAllocatedBlock(t *testing.T) {
	ra, drv := newTestAllocator(t, nil)

	alloc, err := ra.CreateResource(AllocationDescriptor{}, ResourceDescriptor{Size: 4096, Kind: driver.HeapKindBuffer}, 0, nil)
	require.NoError(t, err)
	require.NoError(t, alloc.Release())

	stats := ra.GetStats()
	require.Equal(t, 0, stats.UsedBlockCount)

	_, _, _, _, placed := drv.Stats()
	require.Equal(t, 1, placed)
}

func TestReleaseMemoryTrimsFixedPool(t *testing.T) {
	ra, _ := newTestAllocator(t, func(d *AllocatorDescriptor) {
		d.SubAllocationAlgorithm = FixedPool
		// Buffers are aligned to 64 KB, so a 4096-byte buffer needs a
		// 64 KB pooled heap.
		d.PreferredResourceHeapSize = 64 * 1024
	})

	alloc, err := ra.CreateResource(AllocationDescriptor{}, ResourceDescriptor{Size: 4096, Kind: driver.HeapKindBuffer}, 0, nil)
	require.NoError(t, err)
	require.NoError(t, alloc.Release())

	released := ra.ReleaseMemory(0)
	require.Equal(t, 64*1024, released)
}

func TestCreateResourceAsync(t *testing.T) {
	ra, _ := newTestAllocator(t, nil)

	handle, err := ra.CreateResourceAsync(AllocationDescriptor{}, ResourceDescriptor{Size: 4096, Kind: driver.HeapKindBuffer}, 0, nil)
	require.NoError(t, err)

	handle.Wait()
	require.True(t, handle.IsSignaled())

	alloc, err := ra.AcquireAllocation(handle)
	require.NoError(t, err)
	require.NotNil(t, alloc)

	_, err = ra.AcquireAllocation(handle)
	require.Error(t, err)

	require.NoError(t, alloc.Release())
}

func TestCreateResourceFromExistingIsNotResidencyManaged(t *testing.T) {
	ra, _ := newTestAllocator(t, nil)

	alloc, err := ra.CreateResourceFromExisting(&struct{}{}, 4096, 256, driver.HeapKindBuffer, residency.Local)
	require.NoError(t, err)
	require.False(t, alloc.heap.IsResidencyManaged())

	require.NoError(t, alloc.Release())
}
