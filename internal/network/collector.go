// Package network tracks per-request lifecycle events for one recording and
// distills them into bandwidth, critical-path, cache, parallelism, and
// connection-reuse metrics.
package network

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/dgnsrekt/pageprobe/internal/cdpchannel"
)

// Config holds the network collector's tunables.
type Config struct {
	SlowRequestMS      float64
	LargeResourceBytes int64
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{SlowRequestMS: 1000, LargeResourceBytes: 500 * 1024}
}

// Collector correlates request lifecycle events for one recording at a time.
type Collector struct {
	ch  cdpchannel.Channel
	cfg Config

	mu  sync.Mutex
	rec *recording
}

// recording is the per-recording accumulation state, constructed fresh on
// Start and discarded on Stop.
type recording struct {
	epochSet  bool
	epoch     time.Time
	lastRelMS float64
	requests  map[string]*Request
	order     []string
	// request id -> receiveHeadersEnd offset (ms from fetch start)
	headersEnd map[string]float64
	unsubs     []func()
}

func New(ch cdpchannel.Channel, cfg Config) *Collector {
	return &Collector{ch: ch, cfg: cfg}
}

// Reset drops any accumulated state from a previous recording.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rec != nil {
		unsubscribeAll(c.rec.unsubs)
	}
	c.rec = nil
}

// Start enables the network domain and begins tracking request lifecycles.
func (c *Collector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := &recording{
		requests:   make(map[string]*Request),
		headersEnd: make(map[string]float64),
	}
	rec.unsubs = append(rec.unsubs,
		c.ch.Subscribe("Network.requestWillBeSent", c.onRequestWillBeSent),
		c.ch.Subscribe("Network.responseReceived", c.onResponseReceived),
		c.ch.Subscribe("Network.loadingFinished", c.onLoadingFinished),
		c.ch.Subscribe("Network.loadingFailed", c.onLoadingFailed),
	)

	if err := c.ch.Send(ctx, "Network.enable", nil, nil); err != nil {
		unsubscribeAll(rec.unsubs)
		return fmt.Errorf("network: enable domain: %w", err)
	}

	c.rec = rec
	return nil
}

// Stop removes listeners, finalizes still-pending requests as incomplete
// with a synthesized end time, and returns the report.
func (c *Collector) Stop(ctx context.Context) (*Report, error) {
	_ = ctx

	c.mu.Lock()
	rec := c.rec
	c.rec = nil
	if rec != nil {
		unsubscribeAll(rec.unsubs)
	}
	c.mu.Unlock()

	if rec == nil {
		return nil, fmt.Errorf("network: not started")
	}

	for _, id := range rec.order {
		req := rec.requests[id]
		if req.State != StatePending {
			continue
		}
		req.State = StateIncomplete
		req.EndMS = rec.lastRelMS
		if req.EndMS < req.StartMS {
			req.EndMS = req.StartMS
		}
		req.DurationMS = req.EndMS - req.StartMS
	}

	return buildReport(rec, c.cfg), nil
}

func unsubscribeAll(unsubs []func()) {
	for _, u := range unsubs {
		u()
	}
}

// rel converts a protocol monotonic timestamp to milliseconds relative to
// the first observed request. The first request pins the epoch.
func (rec *recording) rel(t time.Time) float64 {
	if !rec.epochSet {
		rec.epochSet = true
		rec.epoch = t
	}
	ms := t.Sub(rec.epoch).Seconds() * 1000
	if ms < 0 {
		ms = 0
	}
	if ms > rec.lastRelMS {
		rec.lastRelMS = ms
	}
	return ms
}

func (c *Collector) onRequestWillBeSent(params json.RawMessage) {
	var ev network.EventRequestWillBeSent
	if err := json.Unmarshal(params, &ev); err != nil || ev.Request == nil || ev.Timestamp == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.rec
	if rec == nil {
		return
	}

	id := string(ev.RequestID)
	if _, exists := rec.requests[id]; exists {
		// Redirect hop: keep the original entry's start, refresh the URL.
		rec.requests[id].URL = ev.Request.URL
		rec.requests[id].Host = hostOf(ev.Request.URL)
		rec.rel(ev.Timestamp.Time())
		return
	}

	mainDoc := ev.Type == network.ResourceTypeDocument && ev.Request.URL == ev.DocumentURL
	resourceType := ClassifyResource("", ev.Request.URL)
	if mainDoc {
		resourceType = TypeDocument
	}
	req := &Request{
		ID:             id,
		URL:            ev.Request.URL,
		Method:         ev.Request.Method,
		Host:           hostOf(ev.Request.URL),
		State:          StatePending,
		ResourceType:   resourceType,
		RenderBlocking: IsRenderBlocking(resourceType),
		CriticalPath:   IsCriticalPath(resourceType, mainDoc),
		MainDocument:   mainDoc,
		StartMS:        rec.rel(ev.Timestamp.Time()),
	}
	req.EndMS = req.StartMS
	rec.requests[id] = req
	rec.order = append(rec.order, id)
}

func (c *Collector) onResponseReceived(params json.RawMessage) {
	var ev network.EventResponseReceived
	if err := json.Unmarshal(params, &ev); err != nil || ev.Response == nil || ev.Timestamp == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.rec
	if rec == nil {
		return
	}
	req, ok := rec.requests[string(ev.RequestID)]
	if !ok {
		// Event for a request created before this recording: drop.
		slog.Debug("network response for unknown request", "request_id", ev.RequestID)
		return
	}
	rec.rel(ev.Timestamp.Time())

	req.Status = int(ev.Response.Status)
	req.FromCache = ev.Response.FromDiskCache || ev.Response.FromServiceWorker || ev.Response.FromPrefetchCache

	contentType := headerValue(ev.Response.Headers, "content-type")
	req.MimeType = contentType
	if req.MimeType == "" {
		req.MimeType = ev.Response.MimeType
	}
	req.ResourceType = ClassifyResource(contentType, req.URL)
	if req.MainDocument {
		req.ResourceType = TypeDocument
	}
	req.RenderBlocking = IsRenderBlocking(req.ResourceType)
	req.CriticalPath = IsCriticalPath(req.ResourceType, req.MainDocument)

	if t := ev.Response.Timing; t != nil {
		req.Timing.DNSMs = span(t.DNSStart, t.DNSEnd)
		req.Timing.ConnectMs = span(t.ConnectStart, t.ConnectEnd)
		req.Timing.TLSMs = span(t.SslStart, t.SslEnd)
		req.Timing.SendMs = span(t.SendStart, t.SendEnd)
		req.Timing.WaitMs = span(t.SendEnd, t.ReceiveHeadersEnd)
		if t.ReceiveHeadersEnd > 0 {
			rec.headersEnd[req.ID] = t.ReceiveHeadersEnd
		}
	}
}

func (c *Collector) onLoadingFinished(params json.RawMessage) {
	var ev network.EventLoadingFinished
	if err := json.Unmarshal(params, &ev); err != nil || ev.Timestamp == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.rec
	if rec == nil {
		return
	}
	req, ok := rec.requests[string(ev.RequestID)]
	if !ok || req.State != StatePending {
		return
	}

	req.State = StateCompleted
	req.EndMS = rec.rel(ev.Timestamp.Time())
	if req.EndMS < req.StartMS {
		req.EndMS = req.StartMS
	}
	req.DurationMS = req.EndMS - req.StartMS
	req.EncodedBytes = int64(ev.EncodedDataLength)
	// Receive phase approximated as the tail beyond headers-received;
	// requestTime and the request-sent timestamp track closely enough.
	if off, ok := rec.headersEnd[req.ID]; ok && req.DurationMS > off {
		req.Timing.ReceiveMs = req.DurationMS - off
	}
}

func (c *Collector) onLoadingFailed(params json.RawMessage) {
	var ev network.EventLoadingFailed
	if err := json.Unmarshal(params, &ev); err != nil || ev.Timestamp == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.rec
	if rec == nil {
		return
	}
	req, ok := rec.requests[string(ev.RequestID)]
	if !ok || req.State != StatePending {
		return
	}

	req.State = StateFailed
	req.EndMS = rec.rel(ev.Timestamp.Time())
	if req.EndMS < req.StartMS {
		req.EndMS = req.StartMS
	}
	req.DurationMS = req.EndMS - req.StartMS
	req.FailureText = ev.ErrorText
	req.Canceled = ev.Canceled
}

// span returns end-start for a reported timing phase; -1 marks an absent
// phase in the protocol.
func span(start, end float64) float64 {
	if start < 0 || end < start {
		return 0
	}
	return end - start
}

func headerValue(headers network.Headers, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
