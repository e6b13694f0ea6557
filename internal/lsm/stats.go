package lsm

import (
	"sync"
	"sync/atomic"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
)

// CompactionStats tracks background compaction progress using atomic
// counters with relaxed ordering.
type CompactionStats struct {
	Completed  uint64
	Failed     uint64
	BytesRead  uint64
	BytesWritten uint64
	RecordsDropped uint64 // tombstones garbage-collected
}

type compactionStatsAtomic struct {
	completed      atomic.Uint64
	failed         atomic.Uint64
	bytesRead      atomic.Uint64
	bytesWritten   atomic.Uint64
	recordsDropped atomic.Uint64
}

func (c *compactionStatsAtomic) snapshot() CompactionStats {
	return CompactionStats{
		Completed:      c.completed.Load(),
		Failed:         c.failed.Load(),
		BytesRead:      c.bytesRead.Load(),
		BytesWritten:   c.bytesWritten.Load(),
		RecordsDropped: c.recordsDropped.Load(),
	}
}

// Stats is the snapshot returned by Engine.Stats(), serving the
// public stats() API. Engine.Stats does not count operations: Puts,
// Gets, Deletes, Updates, Queries and Scans are never set and read as
// zero.
type Stats struct {
	Puts, Gets, Deletes, Updates uint64
	Queries, Scans               uint64
	StripeMemtableRecords        [256]int
	StripeSSTCounts              [256]int
	TotalSSTCount                int
	Compaction                   CompactionStats
	WriteLatencyP50Micros        int64
	WriteLatencyP99Micros        int64
	ReadLatencyP50Micros         int64
	ReadLatencyP99Micros         int64
}

// Health is the snapshot returned by Engine.Health(), serving the
// public health() API.
type Health struct {
	Open              bool
	QuarantinedSSTs   int
	NextSeq           uint64
	BackgroundErrors  []string
}

// latencyTracker records write/read latency into HdrHistogram-go
// histograms (the one exercise of that dependency in the tree,
// replacing a hand-rolled min/max/avg tracker), exposed via
// Engine.Stats().
type latencyTracker struct {
	mu     sync.Mutex
	writes *hdrhistogram.Histogram
	reads  *hdrhistogram.Histogram
}

func newLatencyTracker() *latencyTracker {
	// 1 microsecond to 10 seconds, 3 significant figures, matching the
	// resolution a storage engine's own internal dashboards would want.
	return &latencyTracker{
		writes: hdrhistogram.New(1, 10_000_000, 3),
		reads:  hdrhistogram.New(1, 10_000_000, 3),
	}
}

func (t *latencyTracker) recordWrite(d time.Duration) {
	t.mu.Lock()
	_ = t.writes.RecordValue(d.Microseconds())
	t.mu.Unlock()
}

func (t *latencyTracker) recordRead(d time.Duration) {
	t.mu.Lock()
	_ = t.reads.RecordValue(d.Microseconds())
	t.mu.Unlock()
}

func (t *latencyTracker) percentiles() (wp50, wp99, rp50, rp99 int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writes.ValueAtQuantile(50), t.writes.ValueAtQuantile(99),
		t.reads.ValueAtQuantile(50), t.reads.ValueAtQuantile(99)
}
