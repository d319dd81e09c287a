// Package gpgmmheap implements the Heap data model and the
// heap-creator leaf layer (spec §4 item 1, §3): wrapping a driver call
// that produces an opaque GPU heap, and registering every heap it
// produces with the residency manager immediately, per spec §3's
// lifecycle ("a heap is created by the heap-creator on demand, entered
// into residency tracking immediately...").
package gpgmmheap

import (
	"log/slog"
	"sync/atomic"

	"github.com/bbernhar/GPGMM/gpgmmerr"
	"github.com/bbernhar/GPGMM/internal/driver"
	"github.com/bbernhar/GPGMM/residency"
)

// Heap is one contiguous, driver-owned region of GPU memory (spec §3).
type Heap struct {
	size      int
	alignment int
	segment   residency.Segment
	kind      driver.HeapKind
	managed   bool

	state     residency.State
	lockCount uint32
	lastFence uint64

	driverHeap driver.Heap
	refCount   int32
}

var _ residency.Heap = (*Heap)(nil)

func newHeap(desc driver.HeapDescriptor, dh driver.Heap, managed bool) *Heap {
	state := residency.Unknown
	if managed {
		if dh.ImplicitlyResident() {
			state = residency.CurrentResident
		} else {
			state = residency.Evicted
		}
	}
	return &Heap{
		size:       desc.Size,
		alignment:  desc.Alignment,
		segment:    desc.Segment,
		kind:       desc.Kind,
		managed:    managed,
		state:      state,
		driverHeap: dh,
		refCount:   1,
	}
}

// WrapCommitted wraps a driver heap that the driver itself created as
// part of CreateCommittedResource (it was never produced by Creator.
// CreateHeap), registering it as residency-managed so the façade's
// dedicated-resource fallback participates in eviction like any other
// heap.
func WrapCommitted(dh driver.Heap, size, alignment int, kind driver.HeapKind, segment residency.Segment) *Heap {
	desc := driver.HeapDescriptor{Size: size, Alignment: alignment, Kind: kind, Segment: segment}
	return newHeap(desc, dh, true)
}

// WrapExternal wraps a driver resource's heap for the façade's
// "adopt an externally owned resource" path (spec §4.6's second
// CreateResource overload). The result is never residency-managed: dh
// may be nil, since no later driver call ever needs it.
func WrapExternal(dh driver.Heap, size, alignment int, kind driver.HeapKind, segment residency.Segment) *Heap {
	desc := driver.HeapDescriptor{Size: size, Alignment: alignment, Kind: kind, Segment: segment}
	return newHeap(desc, dh, false)
}

func (h *Heap) Size() int                         { return h.size }
func (h *Heap) Alignment() int                     { return h.alignment }
func (h *Heap) Segment() residency.Segment         { return h.segment }
func (h *Heap) Kind() driver.HeapKind              { return h.kind }
func (h *Heap) DriverHeap() driver.Heap            { return h.driverHeap }

func (h *Heap) ResidencySegment() residency.Segment { return h.segment }
func (h *Heap) IsResidencyManaged() bool            { return h.managed }
func (h *Heap) ResidencyState() residency.State     { return h.state }
func (h *Heap) SetResidencyState(s residency.State) { h.state = s }
func (h *Heap) LockCount() uint32                   { return h.lockCount }
func (h *Heap) SetLockCount(c uint32)               { h.lockCount = c }
func (h *Heap) LastUsedFence() uint64               { return h.lastFence }
func (h *Heap) SetLastUsedFence(f uint64)           { h.lastFence = f }

// Ref increments the heap's reference count. See Unref.
func (h *Heap) Ref() { atomic.AddInt32(&h.refCount, 1) }

// Unref decrements the heap's reference count and reports whether it
// reached zero (the caller is then responsible for returning it to its
// pool or destroying it, per spec §5's "decrement-to-zero on a heap
// returns it to its pool").
func (h *Heap) Unref() bool {
	return atomic.AddInt32(&h.refCount, -1) == 0
}

// RefCount reports the current reference count, for diagnostics.
func (h *Heap) RefCount() int32 { return atomic.LoadInt32(&h.refCount) }

func logHeap(logger *slog.Logger, method string, h *Heap) {
	if logger == nil {
		return
	}
	logger.Debug("Heap::"+method, "size", h.size, "segment", h.segment, "kind", h.kind)
}

// validateHeapRequest enforces the size/alignment constraints
// Creator.CreateHeap applies before touching the driver, per spec
// §4.6's request validation rule. The committed-resource path does not
// call it.
func validateHeapRequest(size, alignment int) error {
	if size <= 0 {
		return gpgmmerr.New(gpgmmerr.KindInvalidRequest, "heap size must be positive, got %d", size)
	}
	if alignment == 0 || alignment&(alignment-1) != 0 {
		return gpgmmerr.New(gpgmmerr.KindInvalidRequest, "heap alignment must be a power of two, got %d", alignment)
	}
	return nil
}
