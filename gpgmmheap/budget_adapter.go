package gpgmmheap

import (
	"github.com/bbernhar/GPGMM/internal/driver"
	"github.com/bbernhar/GPGMM/residency"
)

// BudgetAdapter implements residency.BudgetDriver on top of a real
// driver.Driver. It lives in this package (rather than residency or
// internal/driver) because it is the one place allowed to assume every
// residency.Heap flowing through it is actually a *Heap - residency
// itself only knows the residency.Heap interface, to avoid an import
// cycle back to this package.
type BudgetAdapter struct {
	drv driver.Driver
}

// NewBudgetAdapter wraps drv for use as a residency.Manager's driver.
func NewBudgetAdapter(drv driver.Driver) *BudgetAdapter {
	return &BudgetAdapter{drv: drv}
}

var _ residency.BudgetDriver = (*BudgetAdapter)(nil)

func (a *BudgetAdapter) QueryVideoMemoryInfo(segment residency.Segment) (residency.VideoMemoryInfo, error) {
	info, err := a.drv.QueryVideoMemoryInfo(segment)
	if err != nil {
		return residency.VideoMemoryInfo{}, err
	}
	return residency.VideoMemoryInfo{Budget: info.Budget, CurrentUsage: info.CurrentUsage}, nil
}

func (a *BudgetAdapter) MakeResident(segment residency.Segment, heaps []residency.Heap) error {
	return a.drv.MakeResident(segment, toDriverHeaps(heaps))
}

func (a *BudgetAdapter) Evict(segment residency.Segment, heaps []residency.Heap) error {
	return a.drv.Evict(segment, toDriverHeaps(heaps))
}

func toDriverHeaps(heaps []residency.Heap) []driver.Heap {
	out := make([]driver.Heap, 0, len(heaps))
	for _, h := range heaps {
		if gh, ok := h.(*Heap); ok {
			out = append(out, gh.DriverHeap())
		}
	}
	return out
}
