// Command pageprobe records one profiling session against an already-running
// (or freshly launched) browser tab and writes the composed report to stdout.
package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/pageprobe/internal/browser"
	"github.com/dgnsrekt/pageprobe/internal/cdpchannel"
	"github.com/dgnsrekt/pageprobe/internal/config"
	"github.com/dgnsrekt/pageprobe/internal/cpuprofile"
	"github.com/dgnsrekt/pageprobe/internal/heapprofile"
	"github.com/dgnsrekt/pageprobe/internal/network"
	"github.com/dgnsrekt/pageprobe/internal/session"
	"github.com/dgnsrekt/pageprobe/internal/timeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("config loaded",
		"cdp_url", cfg.GetCDPURL(),
		"tab_url_filter", cfg.TabURLFilter,
		"record_duration_ms", cfg.RecordDurationMS,
		"cpu_sampling_interval_us", cfg.CPUSamplingIntervalUS,
	)

	ctx := context.Background()

	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			StartURL:   cfg.StartURL,
			ProfileDir: cfg.BrowserProfileDir,
			LogFileDir: cfg.BrowserLogDir,
			Headless:   cfg.BrowserHeadless,
		})
		if err := launcher.Launch(ctx); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	target, err := cdpchannel.DiscoverPageTarget(ctx, cfg.GetCDPURL(), cfg.TabURLFilter)
	if err != nil {
		slog.Error("failed to discover page target", "error", err)
		os.Exit(1)
	}

	client := cdpchannel.NewClient(cfg.GetCDPURL())
	if err := client.Connect(ctx); err != nil {
		slog.Error("failed to connect to browser", "error", err)
		os.Exit(1)
	}
	defer client.Close()
	if err := client.Attach(ctx, target.ID); err != nil {
		slog.Error("failed to attach to target", "target_id", target.ID, "error", err)
		os.Exit(1)
	}

	coord := session.NewCoordinator(client, optionsFromConfig(cfg))
	defer coord.Cleanup(ctx)

	if err := coord.Start(ctx, requestFromConfig(cfg)); err != nil {
		slog.Error("failed to start recording", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-time.After(time.Duration(cfg.RecordDurationMS) * time.Millisecond):
	case sig := <-sigCh:
		slog.Info("recording interrupted", "signal", sig.String())
	}

	report, err := coord.Stop(ctx)
	if err != nil {
		slog.Error("failed to stop recording", "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		slog.Error("failed to encode report", "error", err)
		os.Exit(1)
	}
}

func requestFromConfig(cfg *config.Config) session.Request {
	var req session.Request
	for _, name := range cfg.Collectors {
		switch name {
		case "timeline":
			req.Timeline = true
		case "network":
			req.Network = true
		case "cpu":
			req.CPU = true
		case "memory":
			req.Memory = true
		}
	}
	return req
}

func optionsFromConfig(cfg *config.Config) session.Options {
	tl := timeline.DefaultConfig()
	tl.LongTaskThresholdMS = cfg.LongTaskThresholdMS
	tl.LCPGoodMS, tl.LCPPoorMS = cfg.LCPGoodMS, cfg.LCPPoorMS
	tl.FIDGoodMS, tl.FIDPoorMS = cfg.FIDGoodMS, cfg.FIDPoorMS
	tl.CLSGood, tl.CLSPoor = cfg.CLSGood, cfg.CLSPoor

	return session.Options{
		Timeline: tl,
		Network: network.Config{
			SlowRequestMS:      cfg.SlowRequestMS,
			LargeResourceBytes: cfg.LargeResourceBytes,
		},
		CPU: cpuprofile.Config{
			SamplingIntervalUS: int64(cfg.CPUSamplingIntervalUS),
			DeepCallStacks:     cfg.DeepCallStacks,
		},
		Heap: heapprofile.Config{
			SnapshotTriggers:    strings.Join(cfg.SnapshotTriggers, ","),
			MaxSnapshots:        cfg.MaxSnapshots,
			UsagePollIntervalMS: cfg.UsagePollIntervalMS,
			SnapshotIntervalMS:  cfg.SnapshotIntervalMS,
			AllocSamplingBytes:  int64(cfg.AllocSamplingBytes),
		},
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll("logs", 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	// The report goes to stdout; logs stay on stderr and in the rotated file.
	h := slog.NewTextHandler(io.MultiWriter(os.Stderr, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
