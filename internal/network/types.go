package network

// State is a request's lifecycle state. A request leaves StatePending
// exactly once, into one of the three terminal states.
type State string

const (
	StatePending    State = "pending"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateIncomplete State = "incomplete"
)

// Timing is the sub-phase breakdown of one request, in milliseconds.
// Phases the browser did not report are zero.
type Timing struct {
	DNSMs     float64 `json:"dns_ms"`
	ConnectMs float64 `json:"connect_ms"`
	TLSMs     float64 `json:"tls_ms"`
	SendMs    float64 `json:"send_ms"`
	WaitMs    float64 `json:"wait_ms"`
	ReceiveMs float64 `json:"receive_ms"`
}

// Request is one processed network request. Times are milliseconds relative
// to the first observed request's protocol timestamp.
type Request struct {
	ID             string  `json:"id"`
	URL            string  `json:"url"`
	Method         string  `json:"method"`
	Host           string  `json:"host,omitempty"`
	State          State   `json:"state"`
	ResourceType   string  `json:"resource_type"`
	RenderBlocking bool    `json:"render_blocking"`
	CriticalPath   bool    `json:"critical_path"`
	MainDocument   bool    `json:"main_document,omitempty"`
	FromCache      bool    `json:"from_cache"`
	StartMS        float64 `json:"start_ms"`
	EndMS          float64 `json:"end_ms"`
	DurationMS     float64 `json:"duration_ms"`
	Timing         Timing  `json:"timing"`
	Status         int     `json:"status,omitempty"`
	MimeType       string  `json:"mime_type,omitempty"`
	EncodedBytes   int64   `json:"encoded_bytes"`
	FailureText    string  `json:"failure_text,omitempty"`
	Canceled       bool    `json:"canceled,omitempty"`
}

// TypeStat aggregates count and transfer size for one resource type.
type TypeStat struct {
	Count int   `json:"count"`
	Bytes int64 `json:"bytes"`
}

// ConnectionReuse is an explicit approximation derived from distinct-host
// counts; no real per-connection identifiers are tracked.
type ConnectionReuse struct {
	DistinctHosts   int     `json:"distinct_hosts"`
	RequestsPerHost float64 `json:"requests_per_host"`
	ReuseRatio      float64 `json:"reuse_ratio"`
}

// RequestRef points at a notable request in the summary lists.
type RequestRef struct {
	ID         string  `json:"id"`
	URL        string  `json:"url"`
	DurationMS float64 `json:"duration_ms"`
	Bytes      int64   `json:"bytes"`
}

// Report is the network collector's finalized output.
type Report struct {
	TotalRequests     int                 `json:"total_requests"`
	CompletedCount    int                 `json:"completed_count"`
	FailedCount       int                 `json:"failed_count"`
	IncompleteCount   int                 `json:"incomplete_count"`
	TotalEncodedBytes int64               `json:"total_encoded_bytes"`
	SpanMS            float64             `json:"span_ms"`
	BandwidthBPS      float64             `json:"bandwidth_bps"`
	MaxConcurrent     int                 `json:"max_concurrent"`
	CacheHitRatio     float64             `json:"cache_hit_ratio"`
	ConnectionReuse   ConnectionReuse     `json:"connection_reuse"`
	ByType            map[string]TypeStat `json:"by_type"`
	CriticalPathCount int                 `json:"critical_path_count"`
	CriticalPathMS    float64             `json:"critical_path_ms"`
	SlowRequests      []RequestRef        `json:"slow_requests"`
	LargeResources    []RequestRef        `json:"large_resources"`
	Requests          []Request           `json:"requests"`
}
