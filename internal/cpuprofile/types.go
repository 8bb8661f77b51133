package cpuprofile

// Hotspot is one sampled function whose share of total samples crossed the
// reporting floor.
type Hotspot struct {
	FunctionName string  `json:"function_name"`
	URL          string  `json:"url,omitempty"`
	Line         int64   `json:"line,omitempty"`
	Hits         int64   `json:"hits"`
	SelfTimeMS   float64 `json:"self_time_ms"`
	SharePct     float64 `json:"share_pct"`
	// Heuristic flags. These are inferred from sample counts and naming
	// patterns, not from engine internals.
	LikelyInlined bool `json:"likely_inlined,omitempty"`
	DeoptRisk     bool `json:"deopt_risk,omitempty"`
}

// FunctionStat is one entry of the per-function breakdown, aggregated across
// profile nodes that share a function identity.
type FunctionStat struct {
	FunctionName string  `json:"function_name"`
	URL          string  `json:"url,omitempty"`
	Line         int64   `json:"line,omitempty"`
	Hits         int64   `json:"hits"`
	SelfTimeMS   float64 `json:"self_time_ms"`
	Anonymous    bool    `json:"anonymous,omitempty"`
}

// Report is the CPU analyzer's finalized output for one recording.
type Report struct {
	DurationMS         float64        `json:"duration_ms"`
	SamplingIntervalUS int64          `json:"sampling_interval_us"`
	TotalSamples       int64          `json:"total_samples"`
	TotalTimeMS        float64        `json:"total_time_ms"`
	ActiveTimeMS       float64        `json:"active_time_ms"`
	IdleTimeMS         float64        `json:"idle_time_ms"`
	ActiveRatio        float64        `json:"active_ratio"`
	Hotspots           []Hotspot      `json:"hotspots"`
	FunctionBreakdown  []FunctionStat `json:"function_breakdown"`
	Recommendations    []string       `json:"recommendations,omitempty"`
}
