package gpgmmheap

import (
	"log/slog"

	"github.com/bbernhar/GPGMM/gpgmmerr"
	"github.com/bbernhar/GPGMM/internal/driver"
	"github.com/bbernhar/GPGMM/residency"
)

// Creator wraps driver.Driver.CreateHeap/DestroyHeap, registering every
// heap it produces with the residency manager on creation (spec §4
// item 1) and unregistering it on destruction.
type Creator struct {
	drv      driver.Driver
	resident *residency.Manager
	logger   *slog.Logger
}

// NewCreator builds a heap-creator. resident may be nil for heaps that
// should never be residency-managed (e.g. wrapping an externally owned
// resource, per spec §4.6's second CreateResource overload).
func NewCreator(drv driver.Driver, resident *residency.Manager, logger *slog.Logger) *Creator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Creator{drv: drv, resident: resident, logger: logger}
}

// CreateHeap allocates a new heap through the driver and registers it
// with the residency manager immediately, per spec §3's lifecycle.
func (c *Creator) CreateHeap(desc driver.HeapDescriptor) (*Heap, error) {
	c.logger.Debug("Creator::CreateHeap", "size", desc.Size, "alignment", desc.Alignment)

	if err := validateHeapRequest(desc.Size, desc.Alignment); err != nil {
		return nil, err
	}

	managed := c.resident != nil
	if managed && desc.Flags&driver.HeapFlagCreateNotResident != 0 {
		// Still residency-managed; just starts out Evicted rather than
		// CurrentResident (see newHeap).
	}

	dh, err := c.drv.CreateHeap(desc)
	if err != nil {
		return nil, gpgmmerr.Wrap(gpgmmerr.KindDriverError, err, "CreateHeap failed for size %d", desc.Size)
	}

	h := newHeap(desc, dh, managed)
	if managed {
		c.resident.InsertHeap(h)
	}
	return h, nil
}

// DestroyHeap releases h's driver handle. The caller must already have
// taken h out of any pool/allocator it belonged to (spec §3: "no heap
// is simultaneously in a memory pool and referenced by an allocation",
// and only the owner may destroy).
func (c *Creator) DestroyHeap(h *Heap) error {
	c.logger.Debug("Creator::DestroyHeap", "size", h.size)

	if c.resident != nil {
		c.resident.RemoveHeap(h)
	}

	if err := c.drv.DestroyHeap(h.DriverHeap()); err != nil {
		return gpgmmerr.Wrap(gpgmmerr.KindDriverError, err, "DestroyHeap failed")
	}
	return nil
}

// EnsureInBudget reserves requiredBytes in segment before a new heap
// of that size is created, used when the allocator descriptor option
// alwaysInBudget is set (spec §6).
func (c *Creator) EnsureInBudget(requiredBytes int, segment residency.Segment) error {
	if c.resident == nil {
		return nil
	}
	return c.resident.EnsureInBudget(requiredBytes, segment)
}
