package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/dgnsrekt/pageprobe/internal/cdpchannel/channeltest"
)

func newFake() *channeltest.Fake {
	fake := channeltest.New()
	fake.StubResult("Browser.getVersion", `{"product":"Chrome/124.0.0.0","userAgent":"Mozilla/5.0 test"}`)
	fake.StubResult("Runtime.getHeapUsage", `{"usedSize":1048576,"totalSize":2097152}`)
	fake.StubResult("Profiler.stop",
		`{"profile":{"nodes":[{"id":1,"callFrame":{"functionName":"spin","scriptId":"1",`+
			`"url":"https://a.com/app.js","lineNumber":3,"columnNumber":0},"hitCount":4}],`+
			`"startTime":0,"endTime":500000,"samples":[1,1,1,1]}}`)
	fake.StubEval("timeOrigin", "1700000000000")
	fake.StubEval("jsHeapSizeLimit", "4294705152")
	fake.StubEval("innerWidth", `{"w":1280,"h":720,"url":"https://a.com/"}`)
	fake.StubEval("largest-contentful-paint",
		`{"timeOrigin":1700000000000,"url":"https://a.com/","nav":null,"paints":[],`+
			`"lcp":[],"shifts":[],"firstInput":[],"longTasks":[],"interactions":[]}`)
	return fake
}

func testOptions() Options {
	opts := DefaultOptions()
	// Keep the usage poller out of the way so tests stay deterministic.
	opts.Heap.UsagePollIntervalMS = 3_600_000
	opts.ThrottlingProfile = "none"
	return opts
}

func codeOf(t *testing.T, err error) string {
	t.Helper()
	var coded *CodedError
	if !errors.As(err, &coded) {
		t.Fatalf("error %v is not a CodedError", err)
	}
	return coded.Code
}

func TestRecordingLifecycle(t *testing.T) {
	fake := newFake()
	c := NewCoordinator(fake, testOptions())

	if c.State() != StateIdle {
		t.Fatalf("initial state = %q, want idle", c.State())
	}
	if err := c.Start(context.Background(), AllCollectors()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.State() != StateRecording {
		t.Fatalf("state after start = %q, want recording", c.State())
	}

	if err := c.Start(context.Background(), AllCollectors()); codeOf(t, err) != CodeInvalidState {
		t.Fatalf("double start code = %v, want INVALID_STATE", err)
	}

	report, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.State() != StateStopped {
		t.Fatalf("state after stop = %q, want stopped", c.State())
	}

	if report.Timeline == nil || report.Network == nil || report.CPU == nil || report.Memory == nil {
		t.Fatalf("missing report sections: %+v", report)
	}
	if len(report.CollectorErrors) != 0 {
		t.Fatalf("collector errors = %v, want none", report.CollectorErrors)
	}
	if report.Environment.Browser != "Chrome/124.0.0.0" || report.Environment.ViewportWidth != 1280 {
		t.Errorf("environment = %+v", report.Environment)
	}
	if report.Environment.FinalURL != "https://a.com/" {
		t.Errorf("final url = %q, want https://a.com/", report.Environment.FinalURL)
	}

	last, err := c.LastReport()
	if err != nil || last != report {
		t.Fatalf("LastReport = %v, %v", last, err)
	}

	// A stopped coordinator can start again.
	if err := c.Start(context.Background(), AllCollectors()); err != nil {
		t.Fatalf("restart: %v", err)
	}
}

func TestStartCollectorSubset(t *testing.T) {
	fake := newFake()
	c := NewCoordinator(fake, testOptions())
	if err := c.Start(context.Background(), Request{CPU: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, method := range []string{"Page.enable", "Network.enable", "HeapProfiler.enable"} {
		for _, sent := range fake.Sent() {
			if sent == method {
				t.Errorf("%s sent for a cpu-only recording", method)
			}
		}
	}
	for _, method := range []string{"Page.lifecycleEvent", "Network.requestWillBeSent"} {
		if n := fake.HandlerCount(method); n != 0 {
			t.Errorf("%s handlers = %d, want 0", method, n)
		}
	}

	if err := c.TakeSnapshot(context.Background()); codeOf(t, err) != CodeInvalidState {
		t.Fatalf("snapshot without memory collector = %v, want INVALID_STATE", err)
	}

	report, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if report.CPU == nil {
		t.Fatal("cpu section missing from a cpu-only recording")
	}
	if report.Timeline != nil || report.Network != nil || report.Memory != nil {
		t.Fatalf("unrequested sections present: %+v", report)
	}
	if len(report.CollectorErrors) != 0 {
		t.Fatalf("collector errors = %v, want none", report.CollectorErrors)
	}

	data, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{`"timeline"`, `"network"`, `"memory"`} {
		if bytes.Contains(data, []byte(key)) {
			t.Errorf("serialized report carries unrequested section %s: %s", key, data)
		}
	}
}

func TestStartEmptyRequestRunsAllCollectors(t *testing.T) {
	fake := newFake()
	c := NewCoordinator(fake, testOptions())
	if err := c.Start(context.Background(), Request{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, method := range []string{"Page.enable", "Network.enable", "HeapProfiler.enable", "Profiler.enable"} {
		var sent bool
		for _, m := range fake.Sent() {
			if m == method {
				sent = true
			}
		}
		if !sent {
			t.Errorf("%s not sent for an empty request", method)
		}
	}
}

func TestStopBeforeStart(t *testing.T) {
	c := NewCoordinator(newFake(), testOptions())
	_, err := c.Stop(context.Background())
	if codeOf(t, err) != CodeInvalidState {
		t.Fatalf("code = %v, want INVALID_STATE", err)
	}
	if _, err := c.LastReport(); err == nil {
		t.Fatal("LastReport before any recording succeeded, want error")
	}
}

func TestStartRollbackOnFailure(t *testing.T) {
	fake := newFake()
	fake.FailCommand("Profiler.enable", fmt.Errorf("boom"))

	c := NewCoordinator(fake, testOptions())
	err := c.Start(context.Background(), AllCollectors())
	if codeOf(t, err) != CodeProtocol {
		t.Fatalf("code = %v, want PROTOCOL", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("state after failed start = %q, want idle", c.State())
	}
	for _, method := range []string{"Page.lifecycleEvent", "Network.requestWillBeSent"} {
		if n := fake.HandlerCount(method); n != 0 {
			t.Errorf("%s handlers after rollback = %d, want 0", method, n)
		}
	}
}

func TestCollectorFailureIsNonFatal(t *testing.T) {
	fake := newFake()
	c := NewCoordinator(fake, testOptions())
	if err := c.Start(context.Background(), AllCollectors()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	fake.FailCommand("Profiler.stop", fmt.Errorf("profiler went away"))
	report, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if report.CPU != nil {
		t.Error("cpu section present despite stop failure")
	}
	if report.Timeline == nil || report.Network == nil || report.Memory == nil {
		t.Error("healthy collector sections missing")
	}
	if len(report.CollectorErrors) != 1 || report.CollectorErrors[0].Collector != "cpu" ||
		report.CollectorErrors[0].Code != CodeCollection {
		t.Fatalf("collector errors = %+v, want one cpu/COLLECTION entry", report.CollectorErrors)
	}
}

func TestSnapshotLimitSurfacesAsResourceLimit(t *testing.T) {
	fake := newFake()
	opts := testOptions()
	opts.Heap.MaxSnapshots = 1 // consumed by the start trigger

	c := NewCoordinator(fake, opts)
	if err := c.Start(context.Background(), AllCollectors()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := c.TakeSnapshot(context.Background())
	if codeOf(t, err) != CodeResourceLimit {
		t.Fatalf("code = %v, want RESOURCE_LIMIT", err)
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	fake := newFake()
	c := NewCoordinator(fake, testOptions())
	if err := c.Start(context.Background(), AllCollectors()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	c.Cleanup(context.Background())
	c.Cleanup(context.Background())
	if c.State() != StateIdle {
		t.Fatalf("state after cleanup = %q, want idle", c.State())
	}

	var sawDisable bool
	for _, m := range fake.Sent() {
		if m == "Network.disable" {
			sawDisable = true
		}
	}
	if !sawDisable {
		t.Error("cleanup did not disable the network domain")
	}
	if !fake.Closed() {
		t.Error("cleanup did not tear down the channel")
	}
}

func TestReportJSONRoundTrip(t *testing.T) {
	fake := newFake()
	c := NewCoordinator(fake, testOptions())
	if err := c.Start(context.Background(), AllCollectors()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	report, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}

	data, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Report
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Environment.UserAgent != report.Environment.UserAgent {
		t.Error("user agent lost in round trip")
	}
	if back.CPU == nil || back.CPU.TotalSamples != report.CPU.TotalSamples {
		t.Error("cpu section lost in round trip")
	}
	if back.Memory == nil || back.Memory.Growth.Direction != report.Memory.Growth.Direction {
		t.Error("memory growth trend lost in round trip")
	}
}
