package residency

import "log/slog"

// Descriptor configures a Manager, matching the residency descriptor
// options table in spec §6.
type Descriptor struct {
	// VideoMemoryBudgetFraction is the fraction (0,1] of the driver-
	// reported total budget this process is allowed to use, applied
	// whenever the budget is refreshed from the driver.
	VideoMemoryBudgetFraction float64
	// TotalBudgetLimit, if non-zero, caps the budget used for EnsureInBudget
	// regardless of what the driver reports or VideoMemoryBudgetFraction
	// computes; it models a host-imposed ceiling independent of the OS.
	TotalBudgetLimit int
	// EvictBatchSize is stored with the descriptor but not read by the
	// Manager: MakeResident and Evict are always issued one heap per
	// driver call, including in ExecuteCommandLists' residency pass.
	EvictBatchSize int
	// InitialFenceValue seeds the manager's notion of "everything
	// before this fence has already completed" so that start-up
	// eviction decisions aren't overly conservative.
	InitialFenceValue uint64
	// UpdateBudgetByPolling starts a background goroutine that calls
	// the driver's QueryVideoMemoryInfo on PollInterval; when false,
	// the budget is only refreshed by an explicit call to
	// Manager.UpdateMemorySegmentInfo.
	UpdateBudgetByPolling bool
	// PollInterval is the polling period used when UpdateBudgetByPolling
	// is set. Defaults to one second when zero.
	PollInterval int // milliseconds

	Logger *slog.Logger
}

func (d Descriptor) withDefaults() Descriptor {
	if d.VideoMemoryBudgetFraction <= 0 {
		d.VideoMemoryBudgetFraction = 0.95
	}
	if d.PollInterval <= 0 {
		d.PollInterval = 1000
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}
