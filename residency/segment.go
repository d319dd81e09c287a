package residency

// Segment classifies a class of GPU memory. On UMA adapters everything
// is Local; discrete adapters additionally have NonLocal (system-shared)
// memory.
type Segment int

const (
	Local Segment = iota
	NonLocal
)

func (s Segment) String() string {
	if s == NonLocal {
		return "NonLocal"
	}
	return "Local"
}

// State is a heap's residency lifecycle state.
type State int

const (
	Unknown State = iota
	PendingResidency
	CurrentResident
	Evicted
)

func (s State) String() string {
	switch s {
	case PendingResidency:
		return "PendingResidency"
	case CurrentResident:
		return "CurrentResident"
	case Evicted:
		return "Evicted"
	default:
		return "Unknown"
	}
}
