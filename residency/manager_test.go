package residency

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeHeap struct {
	size       int
	segment    Segment
	managed    bool
	state      State
	lockCount  uint32
	lastFence  uint64
	name       string
}

func (h *fakeHeap) Size() int                   { return h.size }
func (h *fakeHeap) ResidencySegment() Segment   { return h.segment }
func (h *fakeHeap) IsResidencyManaged() bool    { return h.managed }
func (h *fakeHeap) ResidencyState() State       { return h.state }
func (h *fakeHeap) SetResidencyState(s State)   { h.state = s }
func (h *fakeHeap) LockCount() uint32           { return h.lockCount }
func (h *fakeHeap) SetLockCount(c uint32)       { h.lockCount = c }
func (h *fakeHeap) LastUsedFence() uint64       { return h.lastFence }
func (h *fakeHeap) SetLastUsedFence(f uint64)   { h.lastFence = f }

type fakeBudgetDriver struct {
	evicted []Heap
}

func (d *fakeBudgetDriver) QueryVideoMemoryInfo(segment Segment) (VideoMemoryInfo, error) {
	return VideoMemoryInfo{}, nil
}

func (d *fakeBudgetDriver) MakeResident(segment Segment, heaps []Heap) error { return nil }

func (d *fakeBudgetDriver) Evict(segment Segment, heaps []Heap) error {
	d.evicted = append(d.evicted, heaps...)
	return nil
}

func newTestManager(budget int) (*Manager, *fakeBudgetDriver) {
	drv := &fakeBudgetDriver{}
	m := NewManager(Descriptor{}, drv)
	m.segments[Local].budget = budget
	return m, drv
}

// S6: lock B; request eviction of enough bytes to evict two heaps.
// Only A and C are evicted; B stays CurrentResident and charged.
func TestManagerLockExcludesFromEviction(t *testing.T) {
	m, drv := newTestManager(30)

	a := &fakeHeap{size: 10, segment: Local, managed: true, state: CurrentResident, name: "A"}
	b := &fakeHeap{size: 10, segment: Local, managed: true, state: CurrentResident, name: "B"}
	c := &fakeHeap{size: 10, segment: Local, managed: true, state: CurrentResident, name: "C"}

	m.InsertHeap(a)
	m.InsertHeap(b)
	m.InsertHeap(c)

	require.NoError(t, m.LockHeap(b))

	usage, _ := m.Usage(Local)
	require.Equal(t, 30, usage)

	// Ask for enough room for a 25-byte request: must evict two heaps
	// (A and C), never B.
	require.NoError(t, m.EnsureInBudget(25, Local))

	require.Equal(t, CurrentResident, b.ResidencyState())
	require.Equal(t, Evicted, a.ResidencyState())
	require.Equal(t, Evicted, c.ResidencyState())

	usage, _ = m.Usage(Local)
	require.Equal(t, 10, usage) // only B remains charged

	require.ElementsMatch(t, []Heap{a, c}, drv.evicted)
}

func TestManagerEnsureInBudgetFailsWithoutCandidates(t *testing.T) {
	m, _ := newTestManager(5)

	a := &fakeHeap{size: 10, segment: Local, managed: true, state: CurrentResident}
	m.InsertHeap(a)
	require.NoError(t, m.LockHeap(a))

	err := m.EnsureInBudget(1, Local)
	require.Error(t, err)
}

func TestManagerUnlockReinsertsIntoLRU(t *testing.T) {
	m, _ := newTestManager(100)

	a := &fakeHeap{size: 10, segment: Local, managed: true, state: CurrentResident}
	m.InsertHeap(a)
	require.NoError(t, m.LockHeap(a))
	require.Equal(t, 0, m.LRULen(Local))

	require.NoError(t, m.UnlockHeap(a))
	require.Equal(t, 1, m.LRULen(Local))
}

func TestManagerInFlightFenceActsAsLock(t *testing.T) {
	m, _ := newTestManager(10)

	a := &fakeHeap{size: 10, segment: Local, managed: true, state: CurrentResident, lastFence: 5}
	m.InsertHeap(a)
	// Not locked, but fence 5 hasn't completed yet.
	err := m.EnsureInBudget(5, Local)
	require.Error(t, err)

	m.NotifyFenceCompleted(5)
	require.NoError(t, m.EnsureInBudget(5, Local))
	require.Equal(t, Evicted, a.ResidencyState())
}
