package cpuprofile

import (
	"context"
	"math"
	"testing"

	"github.com/chromedp/cdproto/profiler"
	"github.com/chromedp/cdproto/runtime"

	"github.com/dgnsrekt/pageprobe/internal/cdpchannel/channeltest"
)

func frame(name, url string, line int64) *runtime.CallFrame {
	return &runtime.CallFrame{FunctionName: name, URL: url, LineNumber: line}
}

func syntheticProfile() *profiler.Profile {
	p := &profiler.Profile{
		Nodes: []*profiler.ProfileNode{
			{ID: 1, CallFrame: frame("alpha", "https://a.com/app.js", 10)},
			{ID: 2, CallFrame: frame("beta", "https://a.com/app.js", 20)},
			{ID: 3, CallFrame: frame("gamma", "https://a.com/app.js", 30)},
			{ID: 4, CallFrame: frame("delta", "https://a.com/app.js", 40)},
		},
		StartTime: 1_000_000,
		EndTime:   2_000_000,
	}
	appendSamples := func(id int64, n int) {
		for i := 0; i < n; i++ {
			p.Samples = append(p.Samples, id)
		}
	}
	appendSamples(1, 900)
	appendSamples(2, 50)
	appendSamples(3, 46)
	appendSamples(4, 4) // 0.4% of samples, below the hotspot floor
	return p
}

func TestHotspotSharesAndFloor(t *testing.T) {
	report := buildReport(syntheticProfile(), 1000)

	if report.TotalSamples != 1000 {
		t.Fatalf("total samples = %d, want 1000", report.TotalSamples)
	}
	if len(report.Hotspots) != 3 {
		t.Fatalf("hotspots = %d, want 3 (delta is below the floor)", len(report.Hotspots))
	}
	top := report.Hotspots[0]
	if top.FunctionName != "alpha" {
		t.Fatalf("top hotspot = %q, want alpha", top.FunctionName)
	}
	if math.Abs(top.SharePct-90) > 1e-9 {
		t.Errorf("alpha share = %v%%, want 90%%", top.SharePct)
	}
	if math.Abs(top.SelfTimeMS-900) > 1e-9 {
		t.Errorf("alpha self time = %vms, want 900ms at 1000us interval", top.SelfTimeMS)
	}
	for _, h := range report.Hotspots {
		if h.FunctionName == "delta" {
			t.Error("delta reported as hotspot despite 0.4% share")
		}
	}
	if math.Abs(report.DurationMS-1000) > 1e-9 {
		t.Errorf("duration = %vms, want 1000ms", report.DurationMS)
	}
}

func TestBreakdownStrictlyDescending(t *testing.T) {
	report := buildReport(syntheticProfile(), 1000)

	if len(report.FunctionBreakdown) != 4 {
		t.Fatalf("breakdown entries = %d, want 4", len(report.FunctionBreakdown))
	}
	for i := 1; i < len(report.FunctionBreakdown); i++ {
		prev, cur := report.FunctionBreakdown[i-1], report.FunctionBreakdown[i]
		if cur.SelfTimeMS > prev.SelfTimeMS {
			t.Fatalf("breakdown not descending: %q (%v) after %q (%v)",
				cur.FunctionName, cur.SelfTimeMS, prev.FunctionName, prev.SelfTimeMS)
		}
	}
}

func TestIdleFramesSeparated(t *testing.T) {
	p := &profiler.Profile{
		Nodes: []*profiler.ProfileNode{
			{ID: 1, CallFrame: frame("(idle)", "", 0)},
			{ID: 2, CallFrame: frame("work", "https://a.com/app.js", 1)},
		},
	}
	for i := 0; i < 50; i++ {
		p.Samples = append(p.Samples, 1, 2)
	}

	report := buildReport(p, 1000)
	if report.IdleTimeMS != 50 || report.ActiveTimeMS != 50 {
		t.Fatalf("idle/active = %v/%v, want 50/50", report.IdleTimeMS, report.ActiveTimeMS)
	}
	if math.Abs(report.ActiveRatio-0.5) > 1e-9 {
		t.Errorf("active ratio = %v, want 0.5", report.ActiveRatio)
	}
	for _, f := range report.FunctionBreakdown {
		if f.FunctionName == "(idle)" {
			t.Error("idle frame leaked into the function breakdown")
		}
	}
}

func TestHitCountFallbackWithoutSamples(t *testing.T) {
	p := &profiler.Profile{
		Nodes: []*profiler.ProfileNode{
			{ID: 1, CallFrame: frame("only", "https://a.com/app.js", 1), HitCount: 7},
		},
	}
	report := buildReport(p, 2000)
	if report.TotalSamples != 7 {
		t.Fatalf("total samples = %d, want 7 from hit counts", report.TotalSamples)
	}
	if math.Abs(report.FunctionBreakdown[0].SelfTimeMS-14) > 1e-9 {
		t.Errorf("self time = %v, want 14ms at 2000us interval", report.FunctionBreakdown[0].SelfTimeMS)
	}
}

func TestStartStopCommandSequence(t *testing.T) {
	fake := channeltest.New()
	fake.StubResult("Profiler.stop",
		`{"profile":{"nodes":[{"id":1,"callFrame":{"functionName":"spin","scriptId":"1",`+
			`"url":"https://a.com/app.js","lineNumber":3,"columnNumber":0},"hitCount":5}],`+
			`"startTime":0,"endTime":100000,"samples":[1,1,1,1,1]}}`)

	a := New(fake, Config{SamplingIntervalUS: 500})
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	want := []string{"Profiler.enable", "Profiler.setSamplingInterval", "Profiler.start"}
	sent := fake.Sent()
	if len(sent) != len(want) {
		t.Fatalf("sent %v, want %v", sent, want)
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Fatalf("sent[%d] = %q, want %q", i, sent[i], want[i])
		}
	}

	report, err := a.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if report.TotalSamples != 5 {
		t.Errorf("total samples = %d, want 5", report.TotalSamples)
	}
	if report.SamplingIntervalUS != 500 {
		t.Errorf("interval = %d, want 500", report.SamplingIntervalUS)
	}

	if _, err := a.Stop(context.Background()); err == nil {
		t.Fatal("second Stop succeeded, want error")
	}
}

func TestDeoptRiskPatterns(t *testing.T) {
	risky := []string{"tryParse", "applyStyles", "asyncLoad", "useArguments"}
	for _, name := range risky {
		if !deoptRisk(name) {
			t.Errorf("deoptRisk(%q) = false, want true", name)
		}
	}
	if deoptRisk("renderFrame") {
		t.Error("deoptRisk(renderFrame) = true, want false")
	}
}

func TestLikelyInlined(t *testing.T) {
	if !likelyInlined(FunctionStat{FunctionName: "get", Hits: 20, SelfTimeMS: 0.4}) {
		t.Error("hot near-zero-cost function not flagged as inlined")
	}
	if likelyInlined(FunctionStat{FunctionName: "computeLayout", Hits: 20, SelfTimeMS: 50}) {
		t.Error("expensive function flagged as inlined")
	}
}

func TestRecommendations(t *testing.T) {
	report := buildReport(syntheticProfile(), 1000)
	// alpha holds 90% of samples and the profile is fully active, so both
	// the concentration and busy-thread rules must fire.
	if len(report.Recommendations) < 2 {
		t.Fatalf("recommendations = %v, want concentration and busy-thread hints", report.Recommendations)
	}
}
