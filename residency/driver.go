package residency

// VideoMemoryInfo is the driver-reported state of one memory segment,
// mirrored locally (instead of importing internal/driver) to avoid a
// residency<->driver import cycle: internal/driver already imports
// residency for the Segment type.
type VideoMemoryInfo struct {
	Budget       int
	CurrentUsage int
}

// BudgetDriver is the slice of the driver contract the manager needs.
// internal/driver.Driver satisfies this interface structurally through
// the adapter gpgmmheap builds around it; nothing in this package
// imports internal/driver directly.
type BudgetDriver interface {
	QueryVideoMemoryInfo(segment Segment) (VideoMemoryInfo, error)
	MakeResident(segment Segment, heaps []Heap) error
	Evict(segment Segment, heaps []Heap) error
}

// CommandQueue is the slice of a driver command queue the manager
// needs to stamp heaps with a fence value during ExecuteCommandLists.
type CommandQueue interface {
	NextSignalValue() uint64
}
