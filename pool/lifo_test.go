package pool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bbernhar/GPGMM/internal/driver"
	"github.com/bbernhar/GPGMM/internal/driver/fakedriver"
	"github.com/bbernhar/GPGMM/gpgmmheap"
)

func newTestCreator() (*gpgmmheap.Creator, *fakedriver.Driver) {
	drv := fakedriver.New()
	return gpgmmheap.NewCreator(drv, nil, nil), drv
}

// Property 4: acquire ∘ return on a freshly returned heap yields an
// identical heap reference.
func TestLIFOPoolAcquireReturnIdempotence(t *testing.T) {
	creator, _ := newTestCreator()
	p := NewLIFOPool(1024, creator)

	h, err := creator.CreateHeap(driver.HeapDescriptor{Size: 1024, Alignment: 1})
	require.NoError(t, err)

	p.ReturnToPool(h)
	got := p.AcquireFromPool()
	require.Same(t, h, got)

	require.Nil(t, p.AcquireFromPool())
}

func TestLIFOPoolIsLastInFirstOut(t *testing.T) {
	creator, _ := newTestCreator()
	p := NewLIFOPool(1024, creator)

	a, _ := creator.CreateHeap(driver.HeapDescriptor{Size: 1024, Alignment: 1})
	b, _ := creator.CreateHeap(driver.HeapDescriptor{Size: 1024, Alignment: 1})

	p.ReturnToPool(a)
	p.ReturnToPool(b)

	require.Same(t, b, p.AcquireFromPool())
	require.Same(t, a, p.AcquireFromPool())
}

// Invariant 6: after ReleasePool(infinity) the pool is empty.
func TestLIFOPoolReleaseAll(t *testing.T) {
	creator, _ := newTestCreator()
	p := NewLIFOPool(1024, creator)

	for i := 0; i < 3; i++ {
		h, err := creator.CreateHeap(driver.HeapDescriptor{Size: 1024, Alignment: 1})
		require.NoError(t, err)
		p.ReturnToPool(h)
	}

	released, err := p.ReleasePool(0)
	require.NoError(t, err)
	require.Equal(t, 3*1024, released)
	require.Equal(t, 0, p.Len())
}

func TestLIFOPoolReleasePartial(t *testing.T) {
	creator, _ := newTestCreator()
	p := NewLIFOPool(1024, creator)

	for i := 0; i < 3; i++ {
		h, err := creator.CreateHeap(driver.HeapDescriptor{Size: 1024, Alignment: 1})
		require.NoError(t, err)
		p.ReturnToPool(h)
	}

	released, err := p.ReleasePool(1024)
	require.NoError(t, err)
	require.Equal(t, 1024, released)
	require.Equal(t, 2, p.Len())
}
