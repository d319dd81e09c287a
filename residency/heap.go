package residency

// Heap is the subset of gpgmmheap.Heap that the residency manager
// needs to observe and mutate. Keeping this as an interface (rather
// than importing the concrete heap type) avoids a dependency cycle:
// gpgmmheap needs to call into residency on heap creation/destruction,
// so residency cannot import gpgmmheap back.
//
// The manager holds only a weak back-reference to each heap via its
// own LRU list (see lru.go); it never stores state that the heap
// itself doesn't already expose through this interface.
type Heap interface {
	// Size is the heap's byte size, used for budget accounting.
	Size() int
	// ResidencySegment reports which budget this heap is charged
	// against.
	ResidencySegment() Segment
	// IsResidencyManaged is false for externally-owned heaps wrapping
	// a client-supplied committed resource; those are never inserted,
	// locked, or evicted.
	IsResidencyManaged() bool

	ResidencyState() State
	SetResidencyState(State)

	LockCount() uint32
	SetLockCount(uint32)

	LastUsedFence() uint64
	SetLastUsedFence(uint64)
}
