// Package timeline reconstructs the page's execution timeline from protocol
// lifecycle events and in-page performance entries: Core Web Vitals,
// navigation timing, script execution metrics, and layout/paint stats.
package timeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"

	"github.com/dgnsrekt/pageprobe/internal/cdpchannel"
)

// Config holds the timeline collector's tunables.
type Config struct {
	LongTaskThresholdMS float64
	LCPGoodMS           float64
	LCPPoorMS           float64
	FIDGoodMS           float64
	FIDPoorMS           float64
	CLSGood             float64
	CLSPoor             float64
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		LongTaskThresholdMS: 50,
		LCPGoodMS:           2500,
		LCPPoorMS:           4000,
		FIDGoodMS:           100,
		FIDPoorMS:           300,
		CLSGood:             0.1,
		CLSPoor:             0.25,
	}
}

// Collector accumulates timeline events for one recording at a time.
type Collector struct {
	ch  cdpchannel.Channel
	cfg Config

	mu  sync.Mutex
	rec *recording
}

// recording is the per-recording accumulation state, constructed fresh on
// Start and discarded on Stop.
type recording struct {
	startWall       time.Time
	navStartEpochMS float64
	haveRef         bool
	refMono         time.Time
	finalURL        string
	events          []Event
	unsubs          []func()
}

func New(ch cdpchannel.Channel, cfg Config) *Collector {
	if cfg.LongTaskThresholdMS <= 0 {
		cfg.LongTaskThresholdMS = 50
	}
	return &Collector{ch: ch, cfg: cfg}
}

// Reset drops any accumulated state from a previous recording.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detachLocked()
	c.rec = nil
}

// Start enables the page domain, captures the navigation-start reference and
// begins buffering lifecycle events.
func (c *Collector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := &recording{startWall: time.Now()}

	// Navigation start from the page's own clock; wall clock if the page
	// cannot answer.
	var origin float64
	if err := c.ch.Evaluate(ctx, "performance.timeOrigin", &origin); err != nil || origin <= 0 {
		slog.Debug("timeline timeOrigin unavailable, using wall clock", "error", err)
		origin = float64(rec.startWall.UnixMilli())
	}
	rec.navStartEpochMS = origin

	rec.unsubs = append(rec.unsubs,
		c.ch.Subscribe("Page.lifecycleEvent", c.onLifecycleEvent),
		c.ch.Subscribe("Page.frameNavigated", c.onFrameNavigated),
	)

	if err := c.ch.Send(ctx, "Page.enable", nil, nil); err != nil {
		unsubscribeAll(rec.unsubs)
		return fmt.Errorf("timeline: enable page domain: %w", err)
	}
	if err := c.ch.Send(ctx, "Page.setLifecycleEventsEnabled", page.SetLifecycleEventsEnabled(true), nil); err != nil {
		unsubscribeAll(rec.unsubs)
		return fmt.Errorf("timeline: enable lifecycle events: %w", err)
	}

	c.rec = rec
	return nil
}

// Stop removes listeners, queries the final in-page performance entries and
// returns the finalized report. The in-page observer queries are each
// bounded by a ~1s timeout so a metric that never fires cannot hang the
// call; absent metrics stay absent in the report.
func (c *Collector) Stop(ctx context.Context) (*Report, error) {
	c.mu.Lock()
	rec := c.rec
	c.rec = nil
	c.detachLockedRec(rec)
	c.mu.Unlock()

	if rec == nil {
		return nil, fmt.Errorf("timeline: not started")
	}

	entries, entriesOK := c.queryPerfEntries(ctx)
	if entries.URL != "" {
		rec.finalURL = entries.URL
	}
	return buildReport(rec, entries, entriesOK, c.cfg), nil
}

func (c *Collector) detachLocked() {
	c.detachLockedRec(c.rec)
}

func (c *Collector) detachLockedRec(rec *recording) {
	if rec == nil {
		return
	}
	unsubscribeAll(rec.unsubs)
	rec.unsubs = nil
}

func unsubscribeAll(unsubs []func()) {
	for _, u := range unsubs {
		u()
	}
}

// onLifecycleEvent buffers one lifecycle event. Runs on the channel dispatch
// goroutine; append-only under the lock. The first event observed pins the
// monotonic anchor all later lifecycle times are measured against; protocol
// MonotonicTime cannot be aligned with the in-page performance.timeOrigin,
// so when attaching to an already-loaded page the anchor is the attach
// point, not the navigation.
func (c *Collector) onLifecycleEvent(params json.RawMessage) {
	var ev page.EventLifecycleEvent
	if err := json.Unmarshal(params, &ev); err != nil || ev.Timestamp == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rec == nil {
		return
	}
	t := ev.Timestamp.Time()
	if !c.rec.haveRef {
		c.rec.haveRef = true
		c.rec.refMono = t
	}
	rel := clamp0(t.Sub(c.rec.refMono).Seconds() * 1000)
	c.rec.events = append(c.rec.events, Event{
		Name:     ev.Name,
		Category: Categorize(ev.Name),
		StartMS:  rel,
		EndMS:    rel,
		Phase:    "instant",
	})
}

func (c *Collector) onFrameNavigated(params json.RawMessage) {
	var ev page.EventFrameNavigated
	if err := json.Unmarshal(params, &ev); err != nil || ev.Frame == nil {
		return
	}
	if ev.Frame.ParentID != "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rec != nil {
		c.rec.finalURL = ev.Frame.URL
	}
}

// perfEntries mirrors the JSON shape produced by perfEntriesJS.
type perfEntries struct {
	TimeOrigin   float64      `json:"timeOrigin"`
	URL          string       `json:"url"`
	Nav          *navEntry    `json:"nav"`
	Paints       []basicEntry `json:"paints"`
	LCP          []lcpEntry   `json:"lcp"`
	Shifts       []shiftEntry `json:"shifts"`
	FirstInput   []inputEntry `json:"firstInput"`
	LongTasks    []basicEntry `json:"longTasks"`
	Interactions []basicEntry `json:"interactions"`
}

type basicEntry struct {
	Name      string  `json:"name"`
	StartTime float64 `json:"startTime"`
	Duration  float64 `json:"duration"`
}

type navEntry struct {
	ResponseStart            float64 `json:"responseStart"`
	DomInteractive           float64 `json:"domInteractive"`
	DomContentLoadedEventEnd float64 `json:"domContentLoadedEventEnd"`
	LoadEventEnd             float64 `json:"loadEventEnd"`
}

type lcpEntry struct {
	StartTime  float64 `json:"startTime"`
	RenderTime float64 `json:"renderTime"`
	LoadTime   float64 `json:"loadTime"`
}

type shiftEntry struct {
	Value          float64 `json:"value"`
	HadRecentInput bool    `json:"hadRecentInput"`
}

type inputEntry struct {
	Name            string  `json:"name"`
	StartTime       float64 `json:"startTime"`
	ProcessingStart float64 `json:"processingStart"`
	Duration        float64 `json:"duration"`
}

// perfEntriesJS collects buffered performance entries. Every observer-based
// query resolves after at most 1s whether or not the metric ever fired.
const perfEntriesJS = `(() => {
	const observe = (type, ms) => new Promise((resolve) => {
		let out = [];
		let po = null;
		try {
			po = new PerformanceObserver((list) => { out = out.concat(list.getEntries()); });
			po.observe({ type, buffered: true });
		} catch (e) { resolve([]); return; }
		setTimeout(() => {
			try { out = out.concat(po.takeRecords()); po.disconnect(); } catch (e) {}
			resolve(out);
		}, ms);
	});
	const basic = (e) => ({ name: e.name, startTime: e.startTime, duration: e.duration });
	return Promise.all([
		observe('largest-contentful-paint', 1000),
		observe('layout-shift', 1000),
		observe('first-input', 1000),
		observe('longtask', 1000),
		observe('event', 1000),
	]).then(([lcp, shifts, firstInput, longTasks, interactions]) => {
		const nav = performance.getEntriesByType('navigation')[0] || null;
		return {
			timeOrigin: performance.timeOrigin,
			url: location.href,
			nav: nav ? {
				responseStart: nav.responseStart,
				domInteractive: nav.domInteractive,
				domContentLoadedEventEnd: nav.domContentLoadedEventEnd,
				loadEventEnd: nav.loadEventEnd,
			} : null,
			paints: performance.getEntriesByType('paint').map(basic),
			lcp: lcp.map((e) => ({ startTime: e.startTime, renderTime: e.renderTime, loadTime: e.loadTime })),
			shifts: shifts.map((e) => ({ value: e.value, hadRecentInput: e.hadRecentInput })),
			firstInput: firstInput.map((e) => ({ name: e.name, startTime: e.startTime, processingStart: e.processingStart, duration: e.duration })),
			longTasks: longTasks.map(basic),
			interactions: interactions.map(basic),
		};
	});
})()`

func (c *Collector) queryPerfEntries(ctx context.Context) (perfEntries, bool) {
	queryCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var entries perfEntries
	if err := c.ch.Evaluate(queryCtx, perfEntriesJS, &entries); err != nil {
		slog.Warn("timeline performance entry query failed", "error", err)
		return perfEntries{}, false
	}
	return entries, true
}

// buildReport converts the buffered events and queried entries into the
// final report.
func buildReport(rec *recording, entries perfEntries, entriesOK bool, cfg Config) *Report {
	report := &Report{
		NavigationStartEpochMS: rec.navStartEpochMS,
		FinalURL:               rec.finalURL,
	}
	if entries.TimeOrigin > 0 {
		report.NavigationStartEpochMS = entries.TimeOrigin
	}

	events := append([]Event(nil), rec.events...)
	for _, task := range entries.LongTasks {
		name := task.Name
		if name == "" {
			name = "longtask"
		}
		start := clamp0(task.StartTime)
		events = append(events, Event{
			Name:       name,
			Category:   Categorize("longtask"),
			StartMS:    start,
			EndMS:      start + task.Duration,
			DurationMS: task.Duration,
			Phase:      "complete",
		})
	}
	report.Events = events

	if entries.Nav != nil {
		report.Navigation.TTFBMs = nonZeroMS(entries.Nav.ResponseStart)
		report.Navigation.DomInteractiveMs = nonZeroMS(entries.Nav.DomInteractive)
		report.Navigation.DomContentLoadedMs = nonZeroMS(entries.Nav.DomContentLoadedEventEnd)
		report.Navigation.LoadEventMs = nonZeroMS(entries.Nav.LoadEventEnd)
	}
	for _, p := range entries.Paints {
		switch p.Name {
		case "first-paint":
			report.Navigation.FirstPaintMs = nonZeroMS(p.StartTime)
		case "first-contentful-paint":
			report.Navigation.FCPMs = nonZeroMS(p.StartTime)
		}
	}

	report.WebVitals = buildWebVitals(entries, entriesOK, cfg)
	report.JS = buildJSMetrics(events, cfg.LongTaskThresholdMS)
	report.Layout = buildLayoutStats(events, entries)
	return report
}

func buildWebVitals(entries perfEntries, entriesOK bool, cfg Config) WebVitals {
	var wv WebVitals

	// LCP: the last observed largest-contentful-paint entry wins.
	if n := len(entries.LCP); n > 0 {
		last := entries.LCP[n-1]
		t := last.RenderTime
		if t == 0 {
			t = last.LoadTime
		}
		if t == 0 {
			t = last.StartTime
		}
		v := clamp0(t)
		wv.LCPMs = &v
		wv.LCPRating = rate(v, cfg.LCPGoodMS, cfg.LCPPoorMS)
	}

	// CLS: sum of shift values, ignoring user-initiated shifts. Present as
	// zero when the query ran, absent when it could not.
	if entriesOK {
		sum := 0.0
		for _, s := range entries.Shifts {
			if !s.HadRecentInput {
				sum += s.Value
			}
		}
		wv.CLS = &sum
		wv.CLSRating = rate(sum, cfg.CLSGood, cfg.CLSPoor)
	}

	// FID: processingStart - startTime of the first qualifying input.
	if len(entries.FirstInput) > 0 {
		first := entries.FirstInput[0]
		v := clamp0(first.ProcessingStart - first.StartTime)
		wv.FIDMs = &v
		wv.FIDRating = rate(v, cfg.FIDGoodMS, cfg.FIDPoorMS)
	}

	// INP: worst observed interaction duration, when event timing reported
	// any.
	worst := 0.0
	for _, e := range entries.Interactions {
		if e.Duration > worst {
			worst = e.Duration
		}
	}
	if len(entries.Interactions) > 0 {
		wv.INPMs = &worst
	}
	return wv
}

func buildJSMetrics(events []Event, thresholdMS float64) JSMetrics {
	var js JSMetrics
	for _, ev := range events {
		if ev.Category != CategoryScript {
			continue
		}
		js.TotalExecutionMS += ev.DurationMS
		if ev.DurationMS > thresholdMS {
			js.LongTaskCount++
			if ev.DurationMS > js.LongestTaskMS {
				js.LongestTaskMS = ev.DurationMS
			}
			// Blocking time per the total-blocking-time convention: the
			// portion beyond 50ms.
			js.BlockingTimeMS += clamp0(ev.DurationMS - 50)
		}
	}
	return js
}

func buildLayoutStats(events []Event, entries perfEntries) LayoutStats {
	var ls LayoutStats
	for _, ev := range events {
		switch ev.Category {
		case CategoryLayout:
			ls.LayoutCount++
			ls.LayoutTimeMS += ev.DurationMS
		case CategoryPaint:
			ls.PaintCount++
			ls.PaintTimeMS += ev.DurationMS
		}
	}
	ls.LayoutShiftCount = len(entries.Shifts)
	return ls
}

// rate classifies a metric against its good/poor thresholds.
func rate(v, good, poor float64) string {
	switch {
	case v <= good:
		return "good"
	case v > poor:
		return "poor"
	default:
		return "needs-improvement"
	}
}

func nonZeroMS(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	out := clamp0(v)
	return &out
}

func clamp0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
