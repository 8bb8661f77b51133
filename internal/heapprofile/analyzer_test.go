package heapprofile

import (
	"context"
	"errors"
	"testing"

	"github.com/dgnsrekt/pageprobe/internal/cdpchannel/channeltest"
)

// quietConfig keeps the background poller out of the way so tests stay
// deterministic.
func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.UsagePollIntervalMS = 3_600_000
	return cfg
}

func newFake() *channeltest.Fake {
	fake := channeltest.New()
	fake.StubResult("Runtime.getHeapUsage", `{"usedSize":1048576,"totalSize":2097152}`)
	fake.StubEval("jsHeapSizeLimit", "4294705152")
	return fake
}

func TestSnapshotTriggersAndLimit(t *testing.T) {
	fake := newFake()
	cfg := quietConfig()
	cfg.MaxSnapshots = 2

	a := New(fake, cfg)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The start trigger used one slot; one manual snapshot fits.
	if err := a.TakeSnapshot(context.Background(), "manual"); err != nil {
		t.Fatalf("TakeSnapshot: %v", err)
	}
	if err := a.TakeSnapshot(context.Background(), "manual"); !errors.Is(err, ErrSnapshotLimit) {
		t.Fatalf("third snapshot err = %v, want ErrSnapshotLimit", err)
	}

	report, err := a.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(report.Snapshots) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(report.Snapshots))
	}
	if report.Snapshots[0].Trigger != "start" || report.Snapshots[1].Trigger != "manual" {
		t.Errorf("triggers = %q/%q, want start/manual",
			report.Snapshots[0].Trigger, report.Snapshots[1].Trigger)
	}
	// The end trigger also hit the cap; the report must say so.
	if !report.SnapshotLimitReached {
		t.Error("snapshot limit reached but not reported")
	}
	if report.Snapshots[0].UsedBytes != 1048576 {
		t.Errorf("snapshot used = %d, want 1048576", report.Snapshots[0].UsedBytes)
	}
	if report.HeapLimitBytes != 4294705152 {
		t.Errorf("heap limit = %d, want 4294705152", report.HeapLimitBytes)
	}
}

func TestStopWithoutStart(t *testing.T) {
	a := New(newFake(), quietConfig())
	if _, err := a.Stop(context.Background()); err == nil {
		t.Fatal("Stop before Start succeeded, want error")
	}
}

func TestResetStopsRecording(t *testing.T) {
	fake := newFake()
	a := New(fake, quietConfig())
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	a.Reset()
	a.Reset() // idempotent
	if _, err := a.Stop(context.Background()); err == nil {
		t.Fatal("Stop after Reset succeeded, want error")
	}
}

func TestAllocationSampling(t *testing.T) {
	fake := newFake()
	fake.StubResult("HeapProfiler.stopSampling",
		`{"profile":{"head":{"callFrame":{"functionName":"","scriptId":"0","url":"","lineNumber":0,"columnNumber":0},`+
			`"selfSize":0,"id":1,"children":[`+
			`{"callFrame":{"functionName":"makeBuffers","scriptId":"1","url":"https://a.com/app.js","lineNumber":12,"columnNumber":0},`+
			`"selfSize":524288,"id":2,"children":[]},`+
			`{"callFrame":{"functionName":"","scriptId":"1","url":"https://a.com/app.js","lineNumber":40,"columnNumber":0},`+
			`"selfSize":1024,"id":3,"children":[]}]},"samples":[]}}`)

	cfg := quietConfig()
	cfg.AllocSamplingBytes = 32768
	a := New(fake, cfg)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sent := fake.Sent()
	var sawSampling bool
	for _, m := range sent {
		if m == "HeapProfiler.startSampling" {
			sawSampling = true
		}
	}
	if !sawSampling {
		t.Fatal("HeapProfiler.startSampling not sent")
	}

	report, err := a.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(report.TopAllocators) != 2 {
		t.Fatalf("allocators = %d, want 2", len(report.TopAllocators))
	}
	top := report.TopAllocators[0]
	if top.FunctionName != "makeBuffers" || top.SelfBytes != 524288 {
		t.Errorf("top allocator = %+v, want makeBuffers 524288", top)
	}
	if report.TopAllocators[1].FunctionName != "(anonymous)" {
		t.Errorf("second allocator = %q, want (anonymous)", report.TopAllocators[1].FunctionName)
	}
}
