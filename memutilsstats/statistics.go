// Package memutilsstats carries the allocation statistics that flow
// bottom-up from block allocators through pools to the resource
// allocator façade, mirrored on the teacher's memutils.Statistics /
// memutils.DetailedStatistics.
package memutilsstats

import (
	"math"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Statistics is a coarse summary: counts and byte totals only.
type Statistics struct {
	BlockCount      int
	AllocationCount int
	BlockBytes      int
	AllocationBytes int
}

// Clear zeroes every field.
func (s *Statistics) Clear() {
	*s = Statistics{}
}

// Add sums other into s.
func (s *Statistics) Add(other Statistics) {
	s.BlockCount += other.BlockCount
	s.AllocationCount += other.AllocationCount
	s.BlockBytes += other.BlockBytes
	s.AllocationBytes += other.AllocationBytes
}

// DetailedStatistics additionally tracks the distribution of
// allocation and unused-range sizes, used for diagnosing fragmentation.
type DetailedStatistics struct {
	Statistics
	UnusedRangeCount   int
	AllocationSizeMin  int
	AllocationSizeMax  int
	UnusedRangeSizeMin int
	UnusedRangeSizeMax int
}

// Clear resets the structure, seeding the min fields to +inf so the
// first AddAllocation/AddUnusedRange call establishes the real minimum.
func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.UnusedRangeCount = 0
	s.AllocationSizeMin = math.MaxInt
	s.AllocationSizeMax = 0
	s.UnusedRangeSizeMin = math.MaxInt
	s.UnusedRangeSizeMax = 0
}

// AddUnusedRange records one free region of the given size.
func (s *DetailedStatistics) AddUnusedRange(size int) {
	s.UnusedRangeCount++
	if size < s.UnusedRangeSizeMin {
		s.UnusedRangeSizeMin = size
	}
	if size > s.UnusedRangeSizeMax {
		s.UnusedRangeSizeMax = size
	}
}

// AddAllocation records one live allocation of the given size.
func (s *DetailedStatistics) AddAllocation(size int) {
	s.AllocationCount++
	s.AllocationBytes += size
	if size < s.AllocationSizeMin {
		s.AllocationSizeMin = size
	}
	if size > s.AllocationSizeMax {
		s.AllocationSizeMax = size
	}
}

// Add sums other into s.
func (s *DetailedStatistics) Add(other DetailedStatistics) {
	s.Statistics.Add(other.Statistics)
	s.UnusedRangeCount += other.UnusedRangeCount

	if other.UnusedRangeSizeMin < s.UnusedRangeSizeMin {
		s.UnusedRangeSizeMin = other.UnusedRangeSizeMin
	}
	if other.UnusedRangeSizeMax > s.UnusedRangeSizeMax {
		s.UnusedRangeSizeMax = other.UnusedRangeSizeMax
	}
	if other.AllocationSizeMin < s.AllocationSizeMin {
		s.AllocationSizeMin = other.AllocationSizeMin
	}
	if other.AllocationSizeMax > s.AllocationSizeMax {
		s.AllocationSizeMax = other.AllocationSizeMax
	}
}

// WriteJSON serializes s using the same streaming writer the teacher
// uses for BlockMetadata.BlockJsonData, so a host trace sink can embed
// this snapshot without gpgmm needing to know the trace file format.
func (s *Statistics) WriteJSON(json jwriter.ObjectState) {
	json.Name("BlockCount").Int(s.BlockCount)
	json.Name("AllocationCount").Int(s.AllocationCount)
	json.Name("BlockBytes").Int(s.BlockBytes)
	json.Name("AllocationBytes").Int(s.AllocationBytes)
}

// WriteJSON serializes the detailed statistics, including the derived
// min/max fields.
func (s *DetailedStatistics) WriteJSON(json jwriter.ObjectState) {
	s.Statistics.WriteJSON(json)
	json.Name("UnusedRangeCount").Int(s.UnusedRangeCount)
	json.Name("AllocationSizeMin").Int(s.AllocationSizeMin)
	json.Name("AllocationSizeMax").Int(s.AllocationSizeMax)
	json.Name("UnusedRangeSizeMin").Int(s.UnusedRangeSizeMin)
	json.Name("UnusedRangeSizeMax").Int(s.UnusedRangeSizeMax)
}
