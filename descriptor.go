// Package gpgmm is the resource-allocator façade (spec §4.6): it picks
// a pipeline per (heap-kind, MSAA-or-not), coordinates with the
// residency manager before creating any new heap, and exposes
// CreateResource/ReleaseMemory/GetStats as the module's top-level API.
package gpgmm

import (
	"log/slog"

	"github.com/bbernhar/GPGMM/internal/driver"
	"github.com/bbernhar/GPGMM/residency"
)

// SubAllocationAlgorithm selects which block-allocation strategy a
// pipeline's sub-allocator uses (spec §6 configuration options).
type SubAllocationAlgorithm int

const (
	Buddy SubAllocationAlgorithm = iota
	Slab
	FixedPool
	SegmentedPool
)

// AllocatorDescriptor configures a ResourceAllocator at construction,
// matching spec §6's configuration-options table.
type AllocatorDescriptor struct {
	// AlwaysCommitted forces every CreateResource call straight to the
	// committed path (façade algorithm step 4/6), skipping
	// sub-allocation entirely.
	AlwaysCommitted bool
	// AlwaysInBudget calls residency.Manager.EnsureInBudget before any
	// new heap is created. CreateResource rejects any request that sets
	// the per-resource CreateNotResident while this is on (spec §9's
	// first open question).
	AlwaysInBudget bool

	MaxResourceHeapSize       int
	PreferredResourceHeapSize int
	MaxResourceSizeForPooling int

	// ResourceHeapTier is 1 or 2; tier 1 never shares a heap between
	// buffers and textures (spec §4.6 supplement).
	ResourceHeapTier int

	SubAllocationAlgorithm SubAllocationAlgorithm
	// FragmentationLimit defaults to 0.125 when zero (spec §6).
	FragmentationLimit float64
	GrowthFactor       float64
	RecordTraceFlags   uint32

	// MemorySizeLimit/MemoryAlignmentLimit bound any single request
	// (spec §4.6's request-validation rule).
	MemorySizeLimit      int
	MemoryAlignmentLimit int

	Logger *slog.Logger

	// AsyncWorkerCount sizes the fixed worker-thread pool backing
	// CreateResourceAsync (spec §5). Defaults to 4 when zero.
	AsyncWorkerCount int
}

func (d AllocatorDescriptor) withDefaults() AllocatorDescriptor {
	if d.FragmentationLimit <= 0 {
		d.FragmentationLimit = 0.125
	}
	if d.GrowthFactor <= 0 {
		d.GrowthFactor = 2.0
	}
	if d.ResourceHeapTier == 0 {
		d.ResourceHeapTier = 2
	}
	if d.MaxResourceHeapSize == 0 {
		d.MaxResourceHeapSize = 1 << 30
	}
	if d.MemorySizeLimit == 0 {
		d.MemorySizeLimit = d.MaxResourceHeapSize
	}
	if d.MemoryAlignmentLimit == 0 {
		d.MemoryAlignmentLimit = 1 << 20
	}
	if d.AsyncWorkerCount <= 0 {
		d.AsyncWorkerCount = 4
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

// ResourceDescriptor describes the client-requested buffer or texture,
// the Go-facing counterpart of driver.ResourceDescriptor plus the
// flags CreateResource itself interprets.
type ResourceDescriptor struct {
	Size                         int
	Alignment                    int
	Kind                         driver.HeapKind
	IsRenderTargetOrDepthStencil bool
	IsMultisampled               bool

	// CreateNotResident is only checked against AlwaysInBudget: the
	// combination is rejected. It does not change how the backing heap
	// is created; heaps still start out resident.
	CreateNotResident bool
	// NeverAllocate restricts this request to existing pooled/sub-
	// allocated capacity (spec §9's "neverAllocate" flag).
	NeverAllocate bool

	InitialState int
	ClearValue   *[4]float32
}

// New builds a ResourceAllocator backed by drv for residency/heap
// creation. residencyDesc configures the residency manager that sits
// underneath every pipeline.
func New(drv driver.Driver, allocDesc AllocatorDescriptor, residencyDesc residency.Descriptor) (*ResourceAllocator, error) {
	return newResourceAllocator(drv, allocDesc, residencyDesc)
}
