//go:build integration

// Package integration exercises a full recording against a live browser.
// Point PAGEPROBE_TEST_CDP_URL at a Chromium instance started with
// --remote-debugging-port and run with -tags integration.
package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/dgnsrekt/pageprobe/internal/cdpchannel"
	"github.com/dgnsrekt/pageprobe/internal/session"
)

// spinJS burns main-thread CPU long enough for the sampler to see it.
const spinJS = `(() => {
	const until = performance.now() + 1500;
	let acc = 0;
	function hotLoop() {
		while (performance.now() < until) {
			for (let i = 0; i < 1e5; i++) acc += Math.sqrt(i);
		}
		return acc;
	}
	return hotLoop();
})()`

func cdpURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("PAGEPROBE_TEST_CDP_URL")
	if url == "" {
		t.Skip("PAGEPROBE_TEST_CDP_URL not set")
	}
	return url
}

func TestRecordLiveSession(t *testing.T) {
	url := cdpURL(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pt, err := cdpchannel.DiscoverPageTarget(ctx, url, "")
	if err != nil {
		t.Fatalf("discover target: %v", err)
	}

	client := cdpchannel.NewClient(url)
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()
	if err := client.Attach(ctx, pt.ID); err != nil {
		t.Fatalf("attach: %v", err)
	}

	coord := session.NewCoordinator(client, session.DefaultOptions())
	defer coord.Cleanup(ctx)

	if err := coord.Start(ctx, session.AllCollectors()); err != nil {
		t.Fatalf("start recording: %v", err)
	}

	// Generate a known workload through a separate chromedp connection so
	// the recording observes real script execution and network activity.
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, url)
	defer allocCancel()
	workCtx, workCancel := chromedp.NewContext(allocCtx, chromedp.WithTargetID(target.ID(pt.ID)))
	defer workCancel()

	var acc float64
	if err := chromedp.Run(workCtx, chromedp.Evaluate(spinJS, &acc)); err != nil {
		t.Fatalf("run workload: %v", err)
	}
	time.Sleep(2 * time.Second)

	report, err := coord.Stop(ctx)
	if err != nil {
		t.Fatalf("stop recording: %v", err)
	}
	if len(report.CollectorErrors) != 0 {
		t.Fatalf("collector errors: %+v", report.CollectorErrors)
	}

	if report.CPU == nil || report.CPU.TotalSamples == 0 {
		t.Fatal("cpu profile captured no samples despite a busy loop")
	}
	for i := 1; i < len(report.CPU.FunctionBreakdown); i++ {
		prev := report.CPU.FunctionBreakdown[i-1]
		cur := report.CPU.FunctionBreakdown[i]
		if cur.SelfTimeMS > prev.SelfTimeMS {
			t.Fatalf("function breakdown not descending at %d: %v after %v",
				i, cur.SelfTimeMS, prev.SelfTimeMS)
		}
	}

	if report.Memory == nil || len(report.Memory.Samples) == 0 {
		t.Fatal("memory collector produced no usage samples")
	}
	if report.Timeline == nil {
		t.Fatal("timeline section missing")
	}
	t.Logf("recorded %.0fms: %d cpu samples, %d heap samples, %d requests",
		report.DurationMS, report.CPU.TotalSamples,
		len(report.Memory.Samples), totalRequests(report))
}

func totalRequests(r *session.Report) int {
	if r.Network == nil {
		return 0
	}
	return r.Network.TotalRequests
}
