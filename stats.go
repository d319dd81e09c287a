package gpgmm

import (
	"sync/atomic"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/bbernhar/GPGMM/memutilsstats"
)

// Stats is the snapshot ResourceAllocator.GetStats returns, matching
// spec §6's client-facing GetStats() shape.
type Stats struct {
	UsedBlockCount int
	UsedBlockBytes int
	UsedHeapCount  int
	UsedHeapBytes  int
	FreeHeapBytes  int
	CacheHits      int64
	CacheMisses    int64
	PrefetchMisses int64
}

// GetStats rolls up every pipeline's block/heap usage plus the
// façade's dedicated-resource and cache-hit counters.
func (ra *ResourceAllocator) GetStats() Stats {
	ra.mu.Lock()
	pipelines := make([]*pipeline, 0, len(ra.pipelines))
	for _, p := range ra.pipelines {
		pipelines = append(pipelines, p)
	}
	ra.mu.Unlock()

	var s Stats
	for _, p := range pipelines {
		switch {
		case p.multi != nil:
			info := p.multi.GetInfo()
			s.UsedBlockCount += info.UsedBlockCount
			s.UsedBlockBytes += info.UsedBlockBytes
			heapCount := p.multi.HeapCount()
			s.UsedHeapCount += heapCount
			s.UsedHeapBytes += heapCount * p.heapSize
		case p.fixed != nil:
			outstanding := int(atomic.LoadInt64(&p.outstanding))
			s.UsedBlockCount += outstanding
			s.UsedBlockBytes += int(atomic.LoadInt64(&p.outstandingBytes))
			s.UsedHeapCount += outstanding + p.fixed.Len()
			s.UsedHeapBytes += (outstanding + p.fixed.Len()) * p.fixedSize
			s.FreeHeapBytes += p.fixed.Len() * p.fixedSize
		case p.segmented != nil:
			outstanding := int(atomic.LoadInt64(&p.outstanding))
			s.UsedBlockCount += outstanding
			s.UsedBlockBytes += int(atomic.LoadInt64(&p.outstandingBytes))
			s.UsedHeapCount += outstanding
		}
	}

	dedicatedHeaps := int(atomic.LoadInt64(&ra.dedicatedHeaps))
	dedicatedBytes := int(atomic.LoadInt64(&ra.dedicatedHeapBytes))
	s.UsedBlockCount += dedicatedHeaps
	s.UsedBlockBytes += dedicatedBytes
	s.UsedHeapCount += dedicatedHeaps
	s.UsedHeapBytes += dedicatedBytes

	s.CacheHits = atomic.LoadInt64(&ra.cacheHits)
	s.CacheMisses = atomic.LoadInt64(&ra.cacheMisses)
	s.PrefetchMisses = atomic.LoadInt64(&ra.prefetchMisses)
	return s
}

// ToStatistics projects Stats onto the shared memutilsstats shape:
// heaps become blocks and used blocks become allocations. Block
// allocators and pools report blockalloc.Info, not Statistics; this is
// where the façade's rollup is converted.
func (s Stats) ToStatistics() memutilsstats.Statistics {
	return memutilsstats.Statistics{
		BlockCount:      s.UsedHeapCount,
		BlockBytes:      s.UsedHeapBytes,
		AllocationCount: s.UsedBlockCount,
		AllocationBytes: s.UsedBlockBytes,
	}
}

// WriteJSON serializes the snapshot with the same streaming writer the
// teacher uses for BlockMetadata.BlockJsonData, so a host process can
// forward GetStats() into a trace file without this module needing to
// know the trace format.
func (s Stats) WriteJSON(json jwriter.ObjectState) {
	stats := s.ToStatistics()
	stats.WriteJSON(json)
	json.Name("FreeHeapBytes").Int(s.FreeHeapBytes)
	json.Name("CacheHits").Int(int(s.CacheHits))
	json.Name("CacheMisses").Int(int(s.CacheMisses))
	json.Name("PrefetchMisses").Int(int(s.PrefetchMisses))
}

// GetStatsJSON rolls up the same snapshot as GetStats and renders it,
// mirroring vam/allocator.go's BuildStatsString.
func (ra *ResourceAllocator) GetStatsJSON() ([]byte, error) {
	writer := jwriter.NewWriter()
	obj := writer.Object()
	ra.GetStats().WriteJSON(obj)
	obj.End()
	return writer.Bytes(), writer.Error()
}
