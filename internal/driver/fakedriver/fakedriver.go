// Package fakedriver is a deterministic in-memory implementation of
// driver.Driver, used by every test in this module. A real GPU-backed
// implementation is an external collaborator (spec §1) and out of
// scope here.
package fakedriver

import (
	"sync"
	"sync/atomic"

	"github.com/bbernhar/GPGMM/internal/driver"
	"github.com/bbernhar/GPGMM/residency"
)

// heap is fakedriver's concrete driver.Heap.
type heap struct {
	id        uint64
	size      int
	alignment int
	resident  bool
}

func (h *heap) ImplicitlyResident() bool { return h.resident }

// resource is fakedriver's concrete driver.Resource.
type resource struct {
	id   uint64
	heap *heap
}

// Driver is a fully in-memory driver.Driver. Every segment starts with
// an effectively unlimited budget; call SetVideoMemoryInfo to exercise
// budget-constrained paths.
type Driver struct {
	mu sync.Mutex

	nextID uint64

	segments [2]driver.VideoMemoryInfo

	// FailCreateHeap, when non-nil, is called before every CreateHeap;
	// returning a non-nil error fails that call without touching state.
	FailCreateHeap func(desc driver.HeapDescriptor) error
	// FailMakeResident, when non-nil, is called before every
	// MakeResident; returning a non-nil error fails that call.
	FailMakeResident func(segment residency.Segment, heaps []driver.Heap) error
	// FailQueryResourceInfo, when set, makes QueryResourceInfo report
	// an invalid resource for any descriptor for which it returns true.
	FailQueryResourceInfo func(desc driver.ResourceDescriptor) bool

	createHeapCalls    int
	makeResidentCalls  int
	evictCalls         int
	committedResources int
	placedResources    int
}

// New builds a fakedriver.Driver with unlimited budget on both
// segments.
func New() *Driver {
	d := &Driver{}
	for s := range d.segments {
		d.segments[s] = driver.VideoMemoryInfo{Budget: 1 << 40, CurrentUsage: 0}
	}
	return d
}

// SetVideoMemoryInfo overrides the reported budget/usage for segment,
// for tests that need to exercise eviction.
func (d *Driver) SetVideoMemoryInfo(segment residency.Segment, info residency.VideoMemoryInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.segments[segment] = driver.VideoMemoryInfo{Budget: info.Budget, CurrentUsage: info.CurrentUsage}
}

func (d *Driver) nextHandle() uint64 {
	return atomic.AddUint64(&d.nextID, 1)
}

func (d *Driver) QueryResourceInfo(desc driver.ResourceDescriptor) (int, int, error) {
	if d.FailQueryResourceInfo != nil && d.FailQueryResourceInfo(desc) {
		return driver.InvalidResourceSize, 0, nil
	}
	size := desc.RequestedSize
	alignment := desc.RequestedAlignment
	if alignment == 0 {
		alignment = 1
	}
	aligned := (size + alignment - 1) &^ (alignment - 1)
	return aligned, alignment, nil
}

func (d *Driver) CreateHeap(desc driver.HeapDescriptor) (driver.Heap, error) {
	if d.FailCreateHeap != nil {
		if err := d.FailCreateHeap(desc); err != nil {
			return nil, err
		}
	}

	d.mu.Lock()
	d.createHeapCalls++
	d.mu.Unlock()

	h := &heap{
		id:        d.nextHandle(),
		size:      desc.Size,
		alignment: desc.Alignment,
		resident:  desc.Flags&driver.HeapFlagCreateNotResident == 0,
	}
	return h, nil
}

func (d *Driver) DestroyHeap(h driver.Heap) error {
	return nil
}

func (d *Driver) CreateCommittedResource(desc driver.ResourceDescriptor) (driver.Resource, driver.Heap, error) {
	size, alignment, err := d.QueryResourceInfo(desc)
	if err != nil {
		return nil, nil, err
	}
	if size == driver.InvalidResourceSize {
		return nil, nil, nil
	}

	d.mu.Lock()
	d.committedResources++
	d.mu.Unlock()

	h := &heap{id: d.nextHandle(), size: size, alignment: alignment, resident: true}
	r := &resource{id: d.nextHandle(), heap: h}
	return r, h, nil
}

func (d *Driver) CreatePlacedResource(h driver.Heap, offset int, desc driver.ResourceDescriptor) (driver.Resource, error) {
	gh, ok := h.(*heap)
	if !ok || !gh.resident {
		return nil, driverErrorf("CreatePlacedResource requires a resident heap")
	}

	d.mu.Lock()
	d.placedResources++
	d.mu.Unlock()

	return &resource{id: d.nextHandle(), heap: gh}, nil
}

func (d *Driver) DestroyResource(r driver.Resource) error {
	return nil
}

func (d *Driver) QueryVideoMemoryInfo(segment residency.Segment) (driver.VideoMemoryInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.segments[segment], nil
}

func (d *Driver) MakeResident(segment residency.Segment, heaps []driver.Heap) error {
	if d.FailMakeResident != nil {
		if err := d.FailMakeResident(segment, heaps); err != nil {
			return err
		}
	}
	d.mu.Lock()
	d.makeResidentCalls++
	d.mu.Unlock()
	for _, h := range heaps {
		if gh, ok := h.(*heap); ok {
			gh.resident = true
		}
	}
	return nil
}

func (d *Driver) Evict(segment residency.Segment, heaps []driver.Heap) error {
	d.mu.Lock()
	d.evictCalls++
	d.mu.Unlock()
	for _, h := range heaps {
		if gh, ok := h.(*heap); ok {
			gh.resident = false
		}
	}
	return nil
}

func (d *Driver) ExecuteCommandLists(queue driver.CommandQueue, cmds []driver.CommandList) error {
	return nil
}

// Stats exposes call counters for test assertions.
func (d *Driver) Stats() (createHeap, makeResident, evict, committed, placed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.createHeapCalls, d.makeResidentCalls, d.evictCalls, d.committedResources, d.placedResources
}

type driverError struct{ msg string }

func (e *driverError) Error() string { return e.msg }

func driverErrorf(msg string) error { return &driverError{msg: msg} }

var _ driver.Driver = (*Driver)(nil)

// Queue is a minimal driver.CommandQueue/residency.CommandQueue
// implementation for tests exercising ExecuteCommandLists.
type Queue struct {
	nextFence      uint64
	completedFence uint64
}

func (q *Queue) NextSignalValue() uint64 {
	q.nextFence++
	return q.nextFence
}

func (q *Queue) CompletedFence() uint64 { return q.completedFence }

// CompleteFence advances the queue's completed fence, simulating the
// GPU finishing work up to fence.
func (q *Queue) CompleteFence(fence uint64) { q.completedFence = fence }
