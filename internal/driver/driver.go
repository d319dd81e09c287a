// Package driver defines the abstracted GPU driver contract that the
// gpgmm core consumes (spec §6). The concrete GPU-API wrapper (a real
// D3D12 or Vulkan backend) is an external collaborator and out of
// scope for this module; fakedriver is the only implementation shipped
// here, used by every test.
package driver

import "github.com/bbernhar/GPGMM/residency"

// HeapKind is a driver-specific classification of what a heap will be
// used for (buffer, texture, render-target-or-depth-stencil texture).
// The façade keys its allocator pipelines on this value crossed with
// MSAA-or-not, per spec §4.6.
type HeapKind int

const (
	HeapKindBuffer HeapKind = iota
	HeapKindTexture
	HeapKindRenderTargetOrDepthStencilTexture
)

// HeapFlags are driver-specific creation flags.
type HeapFlags uint32

const (
	// HeapFlagCreateNotResident instructs CreateHeap not to implicitly
	// make the new heap resident.
	HeapFlagCreateNotResident HeapFlags = 1 << iota
)

// HeapDescriptor is the input to CreateHeap.
type HeapDescriptor struct {
	Size      int
	Alignment int
	Kind      HeapKind
	Flags     HeapFlags
	Segment   residency.Segment
}

// Heap is the opaque handle a driver hands back from CreateHeap. Its
// only job is to identify the heap to later driver calls (MakeResident,
// Evict, CreatePlacedResource).
type Heap interface {
	// ImplicitlyResident reports whether CreateHeap already made this
	// heap resident (true unless HeapFlagCreateNotResident was set).
	ImplicitlyResident() bool
}

// Resource is the opaque handle a driver hands back from
// CreateCommittedResource / CreatePlacedResource.
type Resource interface{}

// ResourceDescriptor describes the buffer or texture a client wants to
// allocate. Fields beyond Size/Alignment/MSAA are driver-specific and
// out of scope for this module; RequestedSize/RequestedAlignment are
// what the client asked for, before QueryResourceInfo may adjust them.
type ResourceDescriptor struct {
	RequestedSize      int
	RequestedAlignment int
	IsRenderTargetOrDepthStencil bool
	IsMultisampled     bool
	IsBuffer           bool
	Kind               HeapKind
}

// InvalidResourceSize is the sentinel QueryResourceInfo returns for
// Size when the descriptor is invalid.
const InvalidResourceSize = -1

// VideoMemoryInfo is the driver-reported state of one memory segment.
type VideoMemoryInfo struct {
	Budget       int
	CurrentUsage int
}

// Fence is an opaque command-queue fence value.
type Fence = uint64

// CommandList is an opaque driver command list handle.
type CommandList interface{}

// CommandQueue is an opaque driver command queue handle.
type CommandQueue interface {
	// NextSignalValue is the fence value ExecuteCommandLists will
	// signal once the submitted work completes.
	NextSignalValue() Fence
	// CompletedFence is the highest fence value the GPU has already
	// finished; residency uses this to tell "in flight" heaps apart
	// from ones that are safe to evict.
	CompletedFence() Fence
}

// Driver is the abstracted GPU driver surface gpgmm consumes, matching
// the table in spec §6 exactly.
type Driver interface {
	// QueryResourceInfo returns the (size, alignment) the driver would
	// actually allocate for desc, or InvalidResourceSize if desc is
	// invalid.
	QueryResourceInfo(desc ResourceDescriptor) (size, alignment int, err error)

	// CreateHeap allocates a heap. Implicit residency is controlled by
	// HeapFlagCreateNotResident on desc.Flags.
	CreateHeap(desc HeapDescriptor) (Heap, error)
	// DestroyHeap releases a driver heap handle.
	DestroyHeap(h Heap) error

	// CreateCommittedResource creates a resource together with its
	// own dedicated, exclusively-owned heap. Always resident on
	// success.
	CreateCommittedResource(desc ResourceDescriptor) (Resource, Heap, error)
	// CreatePlacedResource creates a resource backed by an existing
	// heap at the given offset. h must already be resident and locked
	// by the caller for the duration of this call.
	CreatePlacedResource(h Heap, offset int, desc ResourceDescriptor) (Resource, error)
	// DestroyResource releases a resource handle. It does not affect
	// the heap backing a placed resource.
	DestroyResource(r Resource) error

	// QueryVideoMemoryInfo returns the driver's current view of one
	// segment's budget and usage.
	QueryVideoMemoryInfo(segment residency.Segment) (VideoMemoryInfo, error)

	// MakeResident is a best-effort request to page the given heaps
	// back into physical memory.
	MakeResident(segment residency.Segment, heaps []Heap) error
	// Evict is a best-effort request to page the given heaps out of
	// physical memory.
	Evict(segment residency.Segment, heaps []Heap) error

	// ExecuteCommandLists submits cmds on queue.
	ExecuteCommandLists(queue CommandQueue, cmds []CommandList) error
}
