// Package heapprofile polls JS heap usage over one recording, infers garbage
// collections from usage drops, tracks snapshot trigger points, and reports
// growth trends and allocation hotspots.
package heapprofile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/heapprofiler"

	"github.com/dgnsrekt/pageprobe/internal/cdpchannel"
)

// ErrSnapshotLimit is returned when a snapshot trigger fires after the
// configured maximum has been reached. Callers report it; it is never
// swallowed silently.
var ErrSnapshotLimit = errors.New("heapprofile: snapshot limit reached")

// Config holds the memory analyzer's tunables. SnapshotTriggers is a
// comma-separated subset of "start", "end", "interval".
type Config struct {
	SnapshotTriggers    string
	MaxSnapshots        int
	UsagePollIntervalMS int
	SnapshotIntervalMS  int
	AllocSamplingBytes  int64
}

// DefaultConfig polls usage every second and snapshots at the recording
// boundaries.
func DefaultConfig() Config {
	return Config{
		SnapshotTriggers:    "start,end",
		MaxSnapshots:        10,
		UsagePollIntervalMS: 1000,
		SnapshotIntervalMS:  10000,
	}
}

// Analyzer owns the heap profiler domain for one recording at a time.
type Analyzer struct {
	ch  cdpchannel.Channel
	cfg Config

	mu  sync.Mutex
	rec *session
}

// session is the per-recording state: the poller goroutine plus everything
// it accumulates.
type session struct {
	start      time.Time
	limitBytes int64
	sampling   bool
	samples    []UsageSample
	snapshots  []Snapshot
	limitHit   bool
	done       chan struct{}
	wg         sync.WaitGroup
}

func New(ch cdpchannel.Channel, cfg Config) *Analyzer {
	return &Analyzer{ch: ch, cfg: cfg}
}

// Reset discards any previous recording and stops its poller.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	rec := a.rec
	a.rec = nil
	a.mu.Unlock()
	stopPoller(rec)
}

func stopPoller(rec *session) {
	if rec == nil {
		return
	}
	select {
	case <-rec.done:
	default:
		close(rec.done)
	}
	rec.wg.Wait()
}

// Start enables the heap profiler domain, optionally begins allocation
// sampling, takes the start snapshot, and launches the usage poller.
func (a *Analyzer) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ch.Send(ctx, "HeapProfiler.enable", nil, nil); err != nil {
		return fmt.Errorf("heapprofile: enable domain: %w", err)
	}

	rec := &session{start: time.Now(), done: make(chan struct{})}

	if a.cfg.AllocSamplingBytes > 0 {
		params := map[string]int64{"samplingInterval": a.cfg.AllocSamplingBytes}
		if err := a.ch.Send(ctx, "HeapProfiler.startSampling", params, nil); err != nil {
			return fmt.Errorf("heapprofile: start allocation sampling: %w", err)
		}
		rec.sampling = true
	}

	// The heap ceiling never changes mid-recording, so query it once.
	var limit float64
	if err := a.ch.Evaluate(ctx, "performance.memory ? performance.memory.jsHeapSizeLimit : 0", &limit); err != nil {
		slog.Debug("heap limit unavailable", "error", err)
	}
	rec.limitBytes = int64(limit)

	a.rec = rec

	if a.triggerEnabled("start") {
		if err := a.snapshot(ctx, rec, "start"); err != nil {
			slog.Warn("start snapshot failed", "error", err)
		}
	}

	rec.wg.Add(1)
	go a.poll(rec)
	return nil
}

func (a *Analyzer) triggerEnabled(name string) bool {
	for _, t := range strings.Split(a.cfg.SnapshotTriggers, ",") {
		if strings.TrimSpace(t) == name {
			return true
		}
	}
	return false
}

// TakeSnapshot records a snapshot for the given trigger. Returns
// ErrSnapshotLimit once MaxSnapshots have been taken.
func (a *Analyzer) TakeSnapshot(ctx context.Context, trigger string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rec == nil {
		return fmt.Errorf("heapprofile: not started")
	}
	return a.snapshot(ctx, a.rec, trigger)
}

func (a *Analyzer) snapshot(ctx context.Context, rec *session, trigger string) error {
	if a.cfg.MaxSnapshots > 0 && len(rec.snapshots) >= a.cfg.MaxSnapshots {
		rec.limitHit = true
		return ErrSnapshotLimit
	}
	used, total, err := a.heapUsage(ctx)
	if err != nil {
		return err
	}
	rec.snapshots = append(rec.snapshots, Snapshot{
		Trigger:    trigger,
		AtMS:       time.Since(rec.start).Seconds() * 1000,
		UsedBytes:  used,
		TotalBytes: total,
		LimitBytes: rec.limitBytes,
	})
	return nil
}

func (a *Analyzer) heapUsage(ctx context.Context) (used, total int64, err error) {
	var out struct {
		UsedSize  float64 `json:"usedSize"`
		TotalSize float64 `json:"totalSize"`
	}
	if err := a.ch.Send(ctx, "Runtime.getHeapUsage", nil, &out); err != nil {
		return 0, 0, fmt.Errorf("heapprofile: heap usage: %w", err)
	}
	return int64(out.UsedSize), int64(out.TotalSize), nil
}

// poll samples heap usage until the recording stops. Poll failures are
// logged and skipped; the recording carries on with the samples it has.
func (a *Analyzer) poll(rec *session) {
	defer rec.wg.Done()

	interval := time.Duration(a.cfg.UsagePollIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var snapTicker *time.Ticker
	snapC := make(<-chan time.Time)
	if a.triggerEnabled("interval") && a.cfg.SnapshotIntervalMS > 0 {
		snapTicker = time.NewTicker(time.Duration(a.cfg.SnapshotIntervalMS) * time.Millisecond)
		defer snapTicker.Stop()
		snapC = snapTicker.C
	}

	for {
		select {
		case <-rec.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			used, total, err := a.heapUsage(ctx)
			cancel()
			if err != nil {
				slog.Warn("heap usage poll failed", "error", err)
				continue
			}
			a.mu.Lock()
			if a.rec == rec {
				rec.samples = append(rec.samples, UsageSample{
					AtMS:       time.Since(rec.start).Seconds() * 1000,
					UsedBytes:  used,
					TotalBytes: total,
				})
			}
			a.mu.Unlock()
		case <-snapC:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			a.mu.Lock()
			var err error
			if a.rec == rec {
				err = a.snapshot(ctx, rec, "interval")
			}
			a.mu.Unlock()
			cancel()
			if errors.Is(err, ErrSnapshotLimit) {
				slog.Warn("interval snapshot skipped", "error", err)
			} else if err != nil {
				slog.Warn("interval snapshot failed", "error", err)
			}
		}
	}
}

// Stop halts the poller, takes the end snapshot, collects the allocation
// profile if sampling was on, and returns the analysis.
func (a *Analyzer) Stop(ctx context.Context) (*Report, error) {
	a.mu.Lock()
	rec := a.rec
	a.rec = nil
	a.mu.Unlock()
	if rec == nil {
		return nil, fmt.Errorf("heapprofile: not started")
	}
	stopPoller(rec)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.triggerEnabled("end") {
		if err := a.snapshot(ctx, rec, "end"); err != nil && !errors.Is(err, ErrSnapshotLimit) {
			slog.Warn("end snapshot failed", "error", err)
		}
	}

	var allocators []Allocator
	if rec.sampling {
		var out struct {
			Profile *heapprofiler.SamplingHeapProfile `json:"profile"`
		}
		if err := a.ch.Send(ctx, "HeapProfiler.stopSampling", nil, &out); err != nil {
			slog.Warn("stop allocation sampling failed", "error", err)
		} else if out.Profile != nil {
			allocators = topAllocators(out.Profile, 10)
		}
	}

	report := buildReport(rec)
	report.TopAllocators = allocators
	return report, nil
}

// buildReport assembles the analysis from the accumulated samples and
// snapshots.
func buildReport(rec *session) *Report {
	report := &Report{
		DurationMS:           time.Since(rec.start).Seconds() * 1000,
		HeapLimitBytes:       rec.limitBytes,
		Samples:              rec.samples,
		Snapshots:            rec.snapshots,
		SnapshotLimitReached: rec.limitHit,
		GCEvents:             inferGC(rec.samples),
	}
	report.GC = gcStats(report.GCEvents, report.DurationMS)
	report.Growth = growthTrend(rec.samples)
	report.LeakSuspicion = leakSuspicion(rec.snapshots)
	return report
}

// topAllocators flattens the sampling profile tree and returns the n
// heaviest self-allocating frames.
func topAllocators(p *heapprofiler.SamplingHeapProfile, n int) []Allocator {
	var all []Allocator
	var walk func(node *heapprofiler.SamplingHeapProfileNode)
	walk = func(node *heapprofiler.SamplingHeapProfileNode) {
		if node == nil {
			return
		}
		if node.SelfSize > 0 && node.CallFrame != nil {
			name := node.CallFrame.FunctionName
			if name == "" {
				name = "(anonymous)"
			}
			all = append(all, Allocator{
				FunctionName: name,
				URL:          node.CallFrame.URL,
				Line:         node.CallFrame.LineNumber,
				SelfBytes:    int64(node.SelfSize),
			})
		}
		for _, child := range node.Children {
			walk(child)
		}
	}
	walk(p.Head)

	sort.Slice(all, func(i, j int) bool {
		if all[i].SelfBytes != all[j].SelfBytes {
			return all[i].SelfBytes > all[j].SelfBytes
		}
		return all[i].FunctionName < all[j].FunctionName
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}
