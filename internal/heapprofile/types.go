package heapprofile

// UsageSample is one poll of the JS heap, relative to recording start.
type UsageSample struct {
	AtMS       float64 `json:"at_ms"`
	UsedBytes  int64   `json:"used_bytes"`
	TotalBytes int64   `json:"total_bytes"`
}

// Snapshot records heap usage at a named trigger point. Snapshots are
// usage-derived metadata, not full heap dumps.
type Snapshot struct {
	Trigger    string  `json:"trigger"`
	AtMS       float64 `json:"at_ms"`
	UsedBytes  int64   `json:"used_bytes"`
	TotalBytes int64   `json:"total_bytes"`
	LimitBytes int64   `json:"limit_bytes,omitempty"`
}

// GCEvent is one inferred collection, detected as a drop in used heap
// between consecutive usage samples.
type GCEvent struct {
	AtMS       float64 `json:"at_ms"`
	Type       string  `json:"type"` // "minor" or "major"
	FreedBytes int64   `json:"freed_bytes"`
	DurationMS float64 `json:"duration_ms"`
}

// GCStats aggregates the inferred collections over one recording.
type GCStats struct {
	Count                int64   `json:"count"`
	MinorCount           int64   `json:"minor_count"`
	MajorCount           int64   `json:"major_count"`
	TotalFreedBytes      int64   `json:"total_freed_bytes"`
	FrequencyPerMinute   float64 `json:"frequency_per_minute"`
	EfficiencyBytesPerMS float64 `json:"efficiency_bytes_per_ms"`
}

// Trend is the linear growth rate between the first and last usage sample.
type Trend struct {
	BytesPerSecond float64 `json:"bytes_per_second"`
	Direction      string  `json:"direction"` // increasing, decreasing, stable
}

// Allocator is one entry of the allocation-sampling breakdown.
type Allocator struct {
	FunctionName string `json:"function_name"`
	URL          string `json:"url,omitempty"`
	Line         int64  `json:"line,omitempty"`
	SelfBytes    int64  `json:"self_bytes"`
}

// Report is the memory analyzer's finalized output.
type Report struct {
	DurationMS           float64       `json:"duration_ms"`
	HeapLimitBytes       int64         `json:"heap_limit_bytes,omitempty"`
	Samples              []UsageSample `json:"samples"`
	Snapshots            []Snapshot    `json:"snapshots"`
	SnapshotLimitReached bool          `json:"snapshot_limit_reached,omitempty"`
	GC                   GCStats       `json:"gc"`
	GCEvents             []GCEvent     `json:"gc_events"`
	Growth               Trend         `json:"growth"`
	LeakSuspicion        string        `json:"leak_suspicion"` // none, medium, high
	TopAllocators        []Allocator   `json:"top_allocators,omitempty"`
}
