// Package session composes the individual collectors into one recording
// lifecycle: start them together, stop them together, and merge their
// reports.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/pageprobe/internal/cdpchannel"
	"github.com/dgnsrekt/pageprobe/internal/cpuprofile"
	"github.com/dgnsrekt/pageprobe/internal/heapprofile"
	"github.com/dgnsrekt/pageprobe/internal/network"
	"github.com/dgnsrekt/pageprobe/internal/timeline"
)

// State is the coordinator's lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateStopped   State = "stopped"
)

// Options bundles the per-collector configuration.
type Options struct {
	Timeline          timeline.Config
	Network           network.Config
	CPU               cpuprofile.Config
	Heap              heapprofile.Config
	ThrottlingProfile string
}

// Request selects which collectors a recording runs. The zero value is
// treated as a request for all of them.
type Request struct {
	Timeline bool `json:"timeline,omitempty"`
	Network  bool `json:"network,omitempty"`
	CPU      bool `json:"cpu,omitempty"`
	Memory   bool `json:"memory,omitempty"`
}

// AllCollectors requests every collector.
func AllCollectors() Request {
	return Request{Timeline: true, Network: true, CPU: true, Memory: true}
}

func (r Request) isZero() bool {
	return !r.Timeline && !r.Network && !r.CPU && !r.Memory
}

// DefaultOptions applies every collector's defaults.
func DefaultOptions() Options {
	return Options{
		Timeline: timeline.DefaultConfig(),
		Network:  network.DefaultConfig(),
		CPU:      cpuprofile.DefaultConfig(),
		Heap:     heapprofile.DefaultConfig(),
	}
}

// Coordinator owns one recording at a time across all collectors.
type Coordinator struct {
	ch   cdpchannel.Channel
	opts Options

	timeline *timeline.Collector
	network  *network.Collector
	cpu      *cpuprofile.Analyzer
	heap     *heapprofile.Analyzer

	mu         sync.Mutex
	state      State
	req        Request
	startedAt  time.Time
	lastReport *Report
}

func NewCoordinator(ch cdpchannel.Channel, opts Options) *Coordinator {
	return &Coordinator{
		ch:       ch,
		opts:     opts,
		timeline: timeline.New(ch, opts.Timeline),
		network:  network.New(ch, opts.Network),
		cpu:      cpuprofile.New(ch, opts.CPU),
		heap:     heapprofile.New(ch, opts.Heap),
		state:    StateIdle,
	}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StartedAt returns when the active or most recent recording began.
func (c *Coordinator) StartedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedAt
}

// LastReport returns the most recent finished report.
func (c *Coordinator) LastReport() (*Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastReport == nil {
		return nil, newError(CodeInvalidState, "no finished recording", nil)
	}
	return c.lastReport, nil
}

// Start begins a new recording with the requested collectors. An empty
// request runs all of them. Collectors are started in a fixed order; any
// failure rolls the already-started ones back and leaves the coordinator
// idle.
func (c *Coordinator) Start(ctx context.Context, req Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateRecording {
		return newError(CodeInvalidState, "recording already in progress", nil)
	}
	if req.isZero() {
		req = AllCollectors()
	}

	c.timeline.Reset()
	c.network.Reset()
	c.cpu.Reset()
	c.heap.Reset()

	type starter struct {
		name  string
		start func(context.Context) error
		stop  func(context.Context)
	}
	var order []starter
	if req.Timeline {
		order = append(order, starter{"timeline", c.timeline.Start,
			func(ctx context.Context) { _, _ = c.timeline.Stop(ctx) }})
	}
	if req.Network {
		order = append(order, starter{"network", c.network.Start,
			func(ctx context.Context) { _, _ = c.network.Stop(ctx) }})
	}
	if req.Memory {
		order = append(order, starter{"memory", c.heap.Start,
			func(ctx context.Context) { _, _ = c.heap.Stop(ctx) }})
	}
	if req.CPU {
		order = append(order, starter{"cpu", c.cpu.Start,
			func(ctx context.Context) { _, _ = c.cpu.Stop(ctx) }})
	}

	for i, s := range order {
		if err := s.start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				order[j].stop(ctx)
			}
			c.state = StateIdle
			return newError(CodeProtocol, fmt.Sprintf("start %s collector", s.name), err)
		}
	}

	c.state = StateRecording
	c.req = req
	c.startedAt = time.Now()
	slog.Info("recording started",
		"timeline", req.Timeline, "network", req.Network,
		"cpu", req.CPU, "memory", req.Memory)
	return nil
}

// Stop ends the recording and composes the report. Collectors are torn down
// in reverse start order; a collector that fails to stop loses its section
// but never takes the rest of the report with it.
func (c *Coordinator) Stop(ctx context.Context) (*Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRecording {
		return nil, newError(CodeInvalidState, "no recording in progress", nil)
	}

	report := &Report{
		StartedAt:  c.startedAt,
		DurationMS: time.Since(c.startedAt).Seconds() * 1000,
	}
	report.Environment = c.describeEnvironment(ctx)

	collect := func(name string, stop func() error) {
		if err := stop(); err != nil {
			slog.Warn("collector stop failed", "collector", name, "error", err)
			report.CollectorErrors = append(report.CollectorErrors, CollectorError{
				Collector: name,
				Code:      CodeCollection,
				Message:   err.Error(),
			})
		}
	}
	if c.req.CPU {
		collect("cpu", func() error {
			r, err := c.cpu.Stop(ctx)
			report.CPU = r
			return err
		})
	}
	if c.req.Memory {
		collect("memory", func() error {
			r, err := c.heap.Stop(ctx)
			report.Memory = r
			return err
		})
	}
	if c.req.Network {
		collect("network", func() error {
			r, err := c.network.Stop(ctx)
			report.Network = r
			return err
		})
	}
	if c.req.Timeline {
		collect("timeline", func() error {
			r, err := c.timeline.Stop(ctx)
			report.Timeline = r
			return err
		})
	}

	if report.Timeline != nil && report.Timeline.FinalURL != "" {
		report.Environment.FinalURL = report.Timeline.FinalURL
	}

	c.state = StateStopped
	c.lastReport = report
	slog.Info("recording stopped",
		"duration_ms", report.DurationMS,
		"collector_errors", len(report.CollectorErrors))
	return report, nil
}

// describeEnvironment queries browser and page facts. Every lookup is best
// effort; an unreachable answer leaves its field empty.
func (c *Coordinator) describeEnvironment(ctx context.Context) Environment {
	env := Environment{ThrottlingProfile: c.opts.ThrottlingProfile}

	var version struct {
		Product   string `json:"product"`
		UserAgent string `json:"userAgent"`
	}
	if err := c.ch.Send(ctx, "Browser.getVersion", nil, &version); err != nil {
		slog.Debug("browser version unavailable", "error", err)
	} else {
		env.Browser = version.Product
		env.UserAgent = version.UserAgent
	}

	var page struct {
		W   int    `json:"w"`
		H   int    `json:"h"`
		URL string `json:"url"`
	}
	if err := c.ch.Evaluate(ctx, "({w: innerWidth, h: innerHeight, url: location.href})", &page); err != nil {
		slog.Debug("page environment unavailable", "error", err)
	} else {
		env.ViewportWidth = page.W
		env.ViewportHeight = page.H
		env.FinalURL = page.URL
	}
	return env
}

// TakeSnapshot forwards a manual heap snapshot trigger to the memory
// collector.
func (c *Coordinator) TakeSnapshot(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRecording {
		return newError(CodeInvalidState, "no recording in progress", nil)
	}
	if !c.req.Memory {
		return newError(CodeInvalidState, "memory collector not recording", nil)
	}
	if err := c.heap.TakeSnapshot(ctx, "manual"); err != nil {
		if errors.Is(err, heapprofile.ErrSnapshotLimit) {
			return newError(CodeResourceLimit, "snapshot limit reached", err)
		}
		return newError(CodeProtocol, "take snapshot", err)
	}
	return nil
}

// Screenshot captures the page as it currently renders.
func (c *Coordinator) Screenshot(ctx context.Context, format string, quality int) ([]byte, error) {
	data, err := c.ch.CaptureScreenshot(ctx, format, quality)
	if err != nil {
		return nil, newError(CodeProtocol, "capture screenshot", err)
	}
	return data, nil
}

// Cleanup releases everything the coordinator touched: collectors are
// reset, the protocol domains the recording enabled are disabled, and the
// channel itself is torn down when it supports closing. Safe to call in any
// state, any number of times; failures are logged, never returned.
func (c *Coordinator) Cleanup(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cpu.Reset()
	c.heap.Reset()
	c.network.Reset()
	c.timeline.Reset()

	for _, method := range []string{
		"Profiler.disable",
		"HeapProfiler.disable",
		"Network.disable",
		"Page.setLifecycleEventsEnabled",
		"Page.disable",
	} {
		var params any
		if method == "Page.setLifecycleEventsEnabled" {
			params = map[string]bool{"enabled": false}
		}
		if err := c.ch.Send(ctx, method, params, nil); err != nil {
			slog.Debug("cleanup call failed", "method", method, "error", err)
		}
	}

	if closer, ok := c.ch.(interface{ Close() }); ok {
		closer.Close()
	}

	c.state = StateIdle
	slog.Info("session cleaned up")
}
