package session

import (
	"time"

	"github.com/dgnsrekt/pageprobe/internal/cpuprofile"
	"github.com/dgnsrekt/pageprobe/internal/heapprofile"
	"github.com/dgnsrekt/pageprobe/internal/network"
	"github.com/dgnsrekt/pageprobe/internal/timeline"
)

// Environment describes the browser and page the recording ran against.
type Environment struct {
	Browser           string `json:"browser,omitempty"`
	UserAgent         string `json:"user_agent,omitempty"`
	ViewportWidth     int    `json:"viewport_width,omitempty"`
	ViewportHeight    int    `json:"viewport_height,omitempty"`
	ThrottlingProfile string `json:"throttling_profile,omitempty"`
	FinalURL          string `json:"final_url,omitempty"`
}

// CollectorError records one non-fatal failure during teardown. The failing
// collector's section is absent from the report; everything else survives.
type CollectorError struct {
	Collector string `json:"collector"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// Report is the composed output of one recording.
type Report struct {
	StartedAt       time.Time           `json:"started_at"`
	DurationMS      float64             `json:"duration_ms"`
	Environment     Environment         `json:"environment"`
	Timeline        *timeline.Report    `json:"timeline,omitempty"`
	Network         *network.Report     `json:"network,omitempty"`
	CPU             *cpuprofile.Report  `json:"cpu,omitempty"`
	Memory          *heapprofile.Report `json:"memory,omitempty"`
	CollectorErrors []CollectorError    `json:"collector_errors,omitempty"`
}
