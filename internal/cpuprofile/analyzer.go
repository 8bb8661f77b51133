// Package cpuprofile drives the browser's sampling profiler over one
// recording and condenses the raw profile into hotspots, a per-function
// breakdown, and heuristic tuning hints.
package cpuprofile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/chromedp/cdproto/profiler"

	"github.com/dgnsrekt/pageprobe/internal/cdpchannel"
)

const (
	// hotspotMinShare is the floor below which a node is noise, not signal.
	hotspotMinShare = 0.005
	maxHotspots     = 20
	maxFunctions    = 50
)

// Config holds the CPU analyzer's tunables.
type Config struct {
	SamplingIntervalUS int64
	DeepCallStacks     bool
}

// DefaultConfig returns the standard 1ms sampling interval.
func DefaultConfig() Config {
	return Config{SamplingIntervalUS: 1000}
}

// Analyzer starts and stops the profiler domain and analyzes the resulting
// profile. One profile is in flight at a time.
type Analyzer struct {
	ch  cdpchannel.Channel
	cfg Config

	mu      sync.Mutex
	started bool
}

func New(ch cdpchannel.Channel, cfg Config) *Analyzer {
	return &Analyzer{ch: ch, cfg: cfg}
}

// Reset clears the in-flight flag without touching the browser.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	a.started = false
	a.mu.Unlock()
}

// Start enables the profiler domain, applies the sampling interval, and
// begins sampling.
func (a *Analyzer) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ch.Send(ctx, "Profiler.enable", nil, nil); err != nil {
		return fmt.Errorf("cpuprofile: enable domain: %w", err)
	}
	interval := a.cfg.SamplingIntervalUS
	if interval <= 0 {
		interval = 1000
	}
	params := map[string]int64{"interval": interval}
	if err := a.ch.Send(ctx, "Profiler.setSamplingInterval", params, nil); err != nil {
		return fmt.Errorf("cpuprofile: set sampling interval: %w", err)
	}
	if a.cfg.DeepCallStacks {
		// Best effort: older browsers reject this method.
		deep := map[string]int64{"size": 200}
		if err := a.ch.Send(ctx, "Runtime.setMaxCallStackSizeToCapture", deep, nil); err != nil {
			slog.Debug("deep call stacks unavailable", "error", err)
		}
	}
	if err := a.ch.Send(ctx, "Profiler.start", nil, nil); err != nil {
		return fmt.Errorf("cpuprofile: start profiler: %w", err)
	}

	a.started = true
	return nil
}

// Stop ends sampling, retrieves the raw profile, and returns the analysis.
func (a *Analyzer) Stop(ctx context.Context) (*Report, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return nil, fmt.Errorf("cpuprofile: not started")
	}
	a.started = false

	var out struct {
		Profile *profiler.Profile `json:"profile"`
	}
	if err := a.ch.Send(ctx, "Profiler.stop", nil, &out); err != nil {
		return nil, fmt.Errorf("cpuprofile: stop profiler: %w", err)
	}
	if out.Profile == nil {
		return nil, fmt.Errorf("cpuprofile: profiler returned no profile")
	}

	interval := a.cfg.SamplingIntervalUS
	if interval <= 0 {
		interval = 1000
	}
	return buildReport(out.Profile, interval), nil
}

// buildReport turns a raw profile into the analyzer's output. Self time is
// derived from per-node hit counts at the configured sampling interval.
func buildReport(p *profiler.Profile, samplingIntervalUS int64) *Report {
	report := &Report{
		SamplingIntervalUS: samplingIntervalUS,
		Hotspots:           []Hotspot{},
		FunctionBreakdown:  []FunctionStat{},
	}
	// Profile start/end are reported in microseconds.
	if p.EndTime > p.StartTime {
		report.DurationMS = (p.EndTime - p.StartTime) / 1000
	}

	hits := nodeHits(p)
	msPerHit := float64(samplingIntervalUS) / 1000

	type fnKey struct {
		name string
		url  string
		line int64
	}
	functions := make(map[fnKey]*FunctionStat)

	for _, node := range p.Nodes {
		if node == nil || node.CallFrame == nil {
			continue
		}
		h := hits[node.ID]
		report.TotalSamples += h
		self := float64(h) * msPerHit

		name := node.CallFrame.FunctionName
		if isIdleFrame(name) {
			report.IdleTimeMS += self
			continue
		}

		key := fnKey{name, node.CallFrame.URL, node.CallFrame.LineNumber}
		stat, ok := functions[key]
		if !ok {
			stat = &FunctionStat{
				FunctionName: displayName(name),
				URL:          node.CallFrame.URL,
				Line:         node.CallFrame.LineNumber,
				Anonymous:    name == "",
			}
			functions[key] = stat
		}
		stat.Hits += h
		stat.SelfTimeMS += self
	}

	report.TotalTimeMS = float64(report.TotalSamples) * msPerHit
	report.ActiveTimeMS = report.TotalTimeMS - report.IdleTimeMS
	if report.TotalTimeMS > 0 {
		report.ActiveRatio = report.ActiveTimeMS / report.TotalTimeMS
	}

	breakdown := make([]FunctionStat, 0, len(functions))
	for _, stat := range functions {
		breakdown = append(breakdown, *stat)
	}
	sort.Slice(breakdown, func(i, j int) bool {
		if breakdown[i].SelfTimeMS != breakdown[j].SelfTimeMS {
			return breakdown[i].SelfTimeMS > breakdown[j].SelfTimeMS
		}
		return breakdown[i].FunctionName < breakdown[j].FunctionName
	})

	for _, stat := range breakdown {
		if report.TotalSamples == 0 {
			break
		}
		share := float64(stat.Hits) / float64(report.TotalSamples)
		if share < hotspotMinShare {
			break
		}
		if len(report.Hotspots) >= maxHotspots {
			break
		}
		report.Hotspots = append(report.Hotspots, Hotspot{
			FunctionName:  stat.FunctionName,
			URL:           stat.URL,
			Line:          stat.Line,
			Hits:          stat.Hits,
			SelfTimeMS:    stat.SelfTimeMS,
			SharePct:      share * 100,
			LikelyInlined: likelyInlined(stat),
			DeoptRisk:     deoptRisk(stat.FunctionName),
		})
	}

	if len(breakdown) > maxFunctions {
		breakdown = breakdown[:maxFunctions]
	}
	report.FunctionBreakdown = breakdown
	report.Recommendations = recommend(report)
	return report
}

// nodeHits builds the per-node sample histogram. When the profile carries no
// flat sample stream the node hit counts are used directly.
func nodeHits(p *profiler.Profile) map[int64]int64 {
	hits := make(map[int64]int64, len(p.Nodes))
	if len(p.Samples) > 0 {
		for _, id := range p.Samples {
			hits[id]++
		}
		return hits
	}
	for _, node := range p.Nodes {
		if node != nil {
			hits[node.ID] = node.HitCount
		}
	}
	return hits
}

// isIdleFrame reports whether a frame represents time the engine spent not
// running page code.
func isIdleFrame(name string) bool {
	switch name {
	case "(idle)", "(program)", "(garbage collector)":
		return true
	}
	return false
}

func displayName(name string) string {
	if name == "" {
		return "(anonymous)"
	}
	return name
}
