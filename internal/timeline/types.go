package timeline

// Event is a single timeline entry. Lifecycle-event times are milliseconds
// relative to the first lifecycle event seen after the recording began; that
// anchor coincides with navigation start only when the recording starts
// before the navigation. In-page entries (long tasks) are relative to
// Report.NavigationStartEpochMS. Immutable once converted from a raw
// protocol event.
type Event struct {
	Name       string   `json:"name"`
	Category   Category `json:"category"`
	StartMS    float64  `json:"start_ms"`
	EndMS      float64  `json:"end_ms"`
	DurationMS float64  `json:"duration_ms"`
	Phase      string   `json:"phase"`
}

// WebVitals holds the Core Web Vitals. Each metric is independently
// nullable: absent means the metric never fired during the recording.
type WebVitals struct {
	LCPMs     *float64 `json:"lcp_ms"`
	LCPRating string   `json:"lcp_rating,omitempty"`
	FIDMs     *float64 `json:"fid_ms"`
	FIDRating string   `json:"fid_rating,omitempty"`
	CLS       *float64 `json:"cls"`
	CLSRating string   `json:"cls_rating,omitempty"`
	INPMs     *float64 `json:"inp_ms"`
}

// NavigationTiming is the navigation-timing breakdown, milliseconds relative
// to navigation start. Fields are nullable rather than zero-defaulted.
type NavigationTiming struct {
	TTFBMs             *float64 `json:"ttfb_ms"`
	DomInteractiveMs   *float64 `json:"dom_interactive_ms"`
	DomContentLoadedMs *float64 `json:"dom_content_loaded_ms"`
	LoadEventMs        *float64 `json:"load_event_ms"`
	FirstPaintMs       *float64 `json:"first_paint_ms"`
	FCPMs              *float64 `json:"fcp_ms"`
}

// JSMetrics summarizes script execution on the main thread.
type JSMetrics struct {
	TotalExecutionMS float64 `json:"total_execution_ms"`
	LongTaskCount    int     `json:"long_task_count"`
	LongestTaskMS    float64 `json:"longest_task_ms"`
	BlockingTimeMS   float64 `json:"blocking_time_ms"`
}

// LayoutStats summarizes layout and paint activity.
type LayoutStats struct {
	LayoutCount      int     `json:"layout_count"`
	PaintCount       int     `json:"paint_count"`
	LayoutShiftCount int     `json:"layout_shift_count"`
	LayoutTimeMS     float64 `json:"layout_time_ms"`
	PaintTimeMS      float64 `json:"paint_time_ms"`
}

// Report is the timeline collector's finalized output.
type Report struct {
	NavigationStartEpochMS float64          `json:"navigation_start_epoch_ms"`
	FinalURL               string           `json:"final_url,omitempty"`
	WebVitals              WebVitals        `json:"web_vitals"`
	Navigation             NavigationTiming `json:"navigation"`
	JS                     JSMetrics        `json:"js"`
	Layout                 LayoutStats      `json:"layout"`
	Events                 []Event          `json:"events"`
}
