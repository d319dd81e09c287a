// Package residency implements the per-process residency budget
// enforcer described in spec §4.7: it tracks which heaps are resident,
// locks them for the duration of driver placement calls, and evicts
// the least-recently-used unlocked heaps when a segment's budget would
// otherwise be exceeded.
package residency

import (
	"context"
	"sync"
	"time"

	"github.com/bbernhar/GPGMM/gpgmmerr"
)

type segmentState struct {
	budget       int
	currentUsage int
	lru          *lru
}

// Manager enforces the residency budget described in spec §4.7. All
// mutating operations share a single coarse mutex, matching spec §5's
// "each stateful component holds a single coarse mutex" rule; there is
// no per-segment lock because EnsureInBudgetMulti's cross-segment
// tie-break needs to reason about both segments atomically.
type Manager struct {
	mu   sync.Mutex
	desc Descriptor
	drv  BudgetDriver

	segments [2]segmentState

	completedFence uint64

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// NewManager builds a Manager. drv supplies the driver calls the
// manager needs (QueryVideoMemoryInfo, MakeResident, Evict). Each
// segment's budget is read from the driver once here; when
// desc.UpdateBudgetByPolling is set, NewManager also starts a background
// goroutine immediately, stopped by Close.
func NewManager(desc Descriptor, drv BudgetDriver) *Manager {
	desc = desc.withDefaults()
	m := &Manager{
		desc:           desc,
		drv:            drv,
		completedFence: desc.InitialFenceValue,
	}
	for s := range m.segments {
		m.segments[s].lru = newLRU()
	}
	for _, seg := range []Segment{Local, NonLocal} {
		info, err := drv.QueryVideoMemoryInfo(seg)
		if err != nil {
			desc.Logger.Warn("NewManager QueryVideoMemoryInfo failed", "segment", seg, "error", err)
			continue
		}
		m.UpdateMemorySegmentInfo(seg, info)
	}

	if desc.UpdateBudgetByPolling {
		ctx, cancel := context.WithCancel(context.Background())
		m.pollCancel = cancel
		m.pollDone = make(chan struct{})
		go m.pollLoop(ctx)
	}

	return m
}

// Close stops the budget-polling goroutine, if one is running. It is
// safe to call on a Manager that was never polling.
func (m *Manager) Close() {
	if m.pollCancel == nil {
		return
	}
	m.pollCancel()
	<-m.pollDone
}

func (m *Manager) pollLoop(ctx context.Context) {
	defer close(m.pollDone)
	ticker := time.NewTicker(time.Duration(m.desc.PollInterval) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, seg := range []Segment{Local, NonLocal} {
				info, err := m.drv.QueryVideoMemoryInfo(seg)
				if err != nil {
					m.desc.Logger.Warn("Manager::pollLoop QueryVideoMemoryInfo failed", "segment", seg, "error", err)
					continue
				}
				m.UpdateMemorySegmentInfo(seg, info)
			}
		}
	}
}

// UpdateMemorySegmentInfo pushes a fresh budget/usage reading for
// segment. Called by pollLoop when UpdateBudgetByPolling is set, or
// directly by the host when the driver pushes a budget-changed
// notification instead.
func (m *Manager) UpdateMemorySegmentInfo(segment Segment, info VideoMemoryInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	budget := int(float64(info.Budget) * m.desc.VideoMemoryBudgetFraction)
	if m.desc.TotalBudgetLimit > 0 && budget > m.desc.TotalBudgetLimit {
		budget = m.desc.TotalBudgetLimit
	}
	m.segments[segment].budget = budget
}

// NotifyFenceCompleted records the highest command-queue fence value
// the GPU has finished, so EnsureInBudget can tell "merely unlocked"
// heaps apart from ones that still have in-flight work referencing
// them (spec §4.7: "residency manager treats lastUsedFence >
// completedFence as effectively locked").
func (m *Manager) NotifyFenceCompleted(fence uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fence > m.completedFence {
		m.completedFence = fence
	}
}

// InsertHeap registers h with the manager immediately after creation.
// Per spec §4.7, it only joins the LRU when it is already known
// resident and unlocked; otherwise only its state is recorded (the
// state itself lives on h, set by the caller before this call).
func (m *Manager) InsertHeap(h Heap) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertHeapLocked(h)
}

// insertHeapLocked assumes h has just been created and never charged
// to currentUsage before: if h is already resident (the common case -
// CreateHeap makes a heap resident implicitly unless the caller asked
// otherwise), this is the one place that charges its size. Heaps that
// transition residency state later (LockHeap, EnsureInBudget) are
// charged/discharged at that transition instead, never here again.
func (m *Manager) insertHeapLocked(h Heap) {
	if !h.IsResidencyManaged() {
		return
	}
	if h.ResidencyState() != CurrentResident {
		return
	}
	m.segments[h.ResidencySegment()].currentUsage += h.Size()
	if h.LockCount() == 0 {
		m.segments[h.ResidencySegment()].lru.insertHead(h)
	}
}

// LockHeap removes h from the LRU (if present), makes it resident if
// it had been evicted, and increments its lock count. A locked heap
// is guaranteed to remain resident until the matching UnlockHeap.
func (m *Manager) LockHeap(h Heap) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !h.IsResidencyManaged() {
		h.SetLockCount(h.LockCount() + 1)
		return nil
	}

	seg := h.ResidencySegment()
	if h.LockCount() == 0 {
		m.segments[seg].lru.remove(h)
		if h.ResidencyState() == Evicted || h.ResidencyState() == Unknown {
			if err := m.makeResidentLocked(h); err != nil {
				return err
			}
		}
	}

	h.SetLockCount(h.LockCount() + 1)
	return nil
}

// UnlockHeap decrements h's lock count; once it reaches zero, h
// re-joins the LRU at the head.
func (m *Manager) UnlockHeap(h Heap) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h.LockCount() == 0 {
		return gpgmmerr.New(gpgmmerr.KindLogicError, "UnlockHeap called on a heap whose lock count is already 0")
	}

	h.SetLockCount(h.LockCount() - 1)
	if h.LockCount() == 0 && h.IsResidencyManaged() {
		m.segments[h.ResidencySegment()].lru.insertHead(h)
	}
	return nil
}

func (m *Manager) makeResidentLocked(h Heap) error {
	seg := h.ResidencySegment()
	if err := m.ensureInBudgetLocked(h.Size(), seg); err != nil {
		return err
	}
	if err := m.drv.MakeResident(seg, []Heap{h}); err != nil {
		return gpgmmerr.Wrap(gpgmmerr.KindDriverError, err, "MakeResident failed for heap of size %d in segment %s", h.Size(), seg)
	}
	h.SetResidencyState(CurrentResident)
	m.segments[seg].currentUsage += h.Size()
	return nil
}

// EnsureInBudget evicts LRU-tail heaps from segment until
// currentUsage+requiredBytes fits under budget, or returns
// KindInsufficientBudget if the segment's LRU runs out of eviction
// candidates first.
func (m *Manager) EnsureInBudget(requiredBytes int, segment Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureInBudgetLocked(requiredBytes, segment)
}

func (m *Manager) ensureInBudgetLocked(requiredBytes int, segment Segment) error {
	seg := &m.segments[segment]
	for seg.currentUsage+requiredBytes > seg.budget {
		h, ok := seg.lru.evictionCandidate(m.completedFence)
		if !ok {
			return gpgmmerr.New(gpgmmerr.KindInsufficientBudget, "segment %s has no eviction candidate to free %d bytes (usage=%d budget=%d)", segment, requiredBytes, seg.currentUsage, seg.budget)
		}
		if err := m.evictLocked(segment, h); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) evictLocked(segment Segment, h Heap) error {
	seg := &m.segments[segment]
	seg.lru.remove(h)
	if err := m.drv.Evict(segment, []Heap{h}); err != nil {
		return gpgmmerr.Wrap(gpgmmerr.KindDriverError, err, "Evict failed for heap of size %d in segment %s", h.Size(), segment)
	}
	h.SetResidencyState(Evicted)
	seg.currentUsage -= h.Size()
	return nil
}

// EnsureInBudgetMulti reclaims budget across multiple segments at
// once, for callers that need several segments back under budget
// simultaneously. Per spec §9's open question on
// tie-breaking, it evicts from the segment with the larger
// currentUsage-budget overshoot first, then round-robins between
// segments that are exactly tied.
func (m *Manager) EnsureInBudgetMulti(required map[Segment]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending := map[Segment]int{}
	for seg, bytes := range required {
		if bytes > 0 {
			pending[seg] = bytes
		}
	}

	roundRobin := 0
	for len(pending) > 0 {
		seg := m.mostPressuredSegmentLocked(pending, &roundRobin)
		s := &m.segments[seg]
		if s.currentUsage+pending[seg] <= s.budget {
			delete(pending, seg)
			continue
		}
		h, ok := s.lru.evictionCandidate(m.completedFence)
		if !ok {
			return gpgmmerr.New(gpgmmerr.KindInsufficientBudget, "segment %s has no eviction candidate to free %d bytes", seg, pending[seg])
		}
		if err := m.evictLocked(seg, h); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) mostPressuredSegmentLocked(pending map[Segment]int, roundRobin *int) Segment {
	var (
		best         Segment
		bestOvershoot = -1 << 62
		tied         []Segment
	)
	order := []Segment{Local, NonLocal}
	for _, seg := range order {
		if _, ok := pending[seg]; !ok {
			continue
		}
		s := &m.segments[seg]
		overshoot := s.currentUsage - s.budget
		if overshoot > bestOvershoot {
			bestOvershoot = overshoot
			best = seg
			tied = []Segment{seg}
		} else if overshoot == bestOvershoot {
			tied = append(tied, seg)
		}
	}
	if len(tied) > 1 {
		best = tied[*roundRobin%len(tied)]
		*roundRobin++
	}
	return best
}

// ExecuteCommandLists ensures every heap in heapLists is resident,
// stamps each with the fence value queue will signal once submit's
// work completes, and then calls submit. Heaps touched this way are
// never evicted while that fence is still in flight (spec §4.7).
func (m *Manager) ExecuteCommandLists(queue CommandQueue, heapLists [][]Heap, submit func() error) error {
	m.mu.Lock()
	fence := queue.NextSignalValue()
	for _, heaps := range heapLists {
		for _, h := range heaps {
			if h.IsResidencyManaged() && h.ResidencyState() != CurrentResident {
				if err := m.makeResidentLocked(h); err != nil {
					m.mu.Unlock()
					return err
				}
			}
			h.SetLastUsedFence(fence)
		}
	}
	m.mu.Unlock()

	return submit()
}

// RemoveHeap unregisters h before it is destroyed: it is taken out of
// the LRU if present and, if still charged as resident, discharged
// from currentUsage. Spec §4.4: "destroying a pool entry also removes
// its residency record."
func (m *Manager) RemoveHeap(h Heap) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !h.IsResidencyManaged() {
		return
	}

	seg := &m.segments[h.ResidencySegment()]
	if h.LockCount() == 0 {
		seg.lru.remove(h)
	}
	if h.ResidencyState() == CurrentResident || h.ResidencyState() == PendingResidency {
		seg.currentUsage -= h.Size()
	}
	h.SetResidencyState(Unknown)
}

// Usage reports the current (usage, budget) pair for segment, for
// diagnostics and tests.
func (m *Manager) Usage(segment Segment) (currentUsage, budget int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &m.segments[segment]
	return s.currentUsage, s.budget
}

// LRULen reports how many heaps are currently evictable in segment,
// for tests validating scenario S6.
func (m *Manager) LRULen(segment Segment) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.segments[segment].lru.len()
}
