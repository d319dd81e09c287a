// Package blockalloc implements the sub-allocator capability contract
// (buddy, slab, slab-memory, slab-cache) that carves a single heap, or
// a family of same-sized heaps, into individually allocatable blocks.
package blockalloc

import (
	"github.com/bbernhar/GPGMM/block"
	"github.com/bbernhar/GPGMM/gpgmmerr"
)

// AllocateFlags controls fallback behavior at allocate time.
type AllocateFlags uint32

const (
	// AllocateDefault allows the allocator to create new backing
	// capacity (a new slab, a deeper buddy split) if needed.
	AllocateDefault AllocateFlags = 0
	// NeverAllocate restricts the request to existing free capacity;
	// no new slab or heap is created to satisfy it.
	NeverAllocate AllocateFlags = 1 << 0
)

// Allocation is what TryAllocate returns on success: a client-visible
// handle into one allocator's address space.
type Allocation struct {
	Block         block.Handle
	Offset        int
	RequestedSize int
	Method        Method
}

// Method records how an Allocation's storage was obtained, carried
// through to the façade's Allocation.Method (spec §3).
type Method int

const (
	// SubAllocated: a block was carved out of a shared heap.
	SubAllocated Method = iota
	// SubAllocatedWithin: a block was carved out of a single resource
	// the allocator itself owns entirely (the façade's smallBuffer
	// pipeline).
	SubAllocatedWithin
	// Standalone: the allocation owns its entire backing heap.
	Standalone
)

// Info summarizes an allocator's current usage, rolled up into
// memutilsstats.Statistics by callers.
type Info struct {
	UsedBlockCount int
	UsedBlockBytes int
	FreeBlockBytes int
}

// Allocator is the capability contract every sub-allocator satisfies
// (spec §9: "a base allocator and concrete buddy/slab/pool/conditional
// subclasses is a capability contract"). TryAllocate returns a nil
// Allocation (not an error) on OutOfCapacity, per spec §7's
// "OutOfCapacity... surfaced as a silent null... so the façade can
// fall back to a committed path" — only InvalidRequest and internal
// LogicError are returned as errors.
type Allocator interface {
	TryAllocate(size, alignment int, flags AllocateFlags) (*Allocation, error)
	Deallocate(a *Allocation) error
	ReleaseMemory(bytes int) (int, error)
	GetInfo() Info
	MemorySize() int
	MemoryAlignment() int
}

func validateRequest(size, alignment int) error {
	if size <= 0 {
		return gpgmmerr.New(gpgmmerr.KindInvalidRequest, "allocation size must be positive, got %d", size)
	}
	if alignment == 0 || alignment&(alignment-1) != 0 {
		return gpgmmerr.New(gpgmmerr.KindInvalidRequest, "alignment must be a power of two, got %d", alignment)
	}
	return nil
}

// alignTo rounds size up to the nearest multiple of alignment.
func alignTo(size, alignment int) int {
	if alignment <= 1 {
		return size
	}
	return (size + alignment - 1) &^ (alignment - 1)
}

// isPow2 reports whether v is a power of two.
func isPow2(v int) bool { return v > 0 && v&(v-1) == 0 }

// nextPow2 returns the smallest power of two >= v.
func nextPow2(v int) int {
	if v <= 1 {
		return 1
	}
	p := 1
	for p < v {
		p <<= 1
	}
	return p
}

// log2 returns floor(log2(v)) for a power-of-two v.
func log2(v int) int {
	n := 0
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}
