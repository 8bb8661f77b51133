// Command pageprobe-server exposes the recording lifecycle over HTTP so a
// session can be driven remotely: start, interact with the page, stop,
// fetch the report.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/pageprobe/internal/api"
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

	bindAddr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	slog.Info("config loaded",
		"bind_addr", bindAddr,
		"cdp_url", cfg.GetCDPURL(),
		"tab_url_filter", cfg.TabURLFilter,
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
	srv := &http.Server{Addr: bindAddr, Handler: api.NewServer(coord)}

	go func() {
		slog.Info("server listening", "addr", bindAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	coord.Cleanup(shutdownCtx)
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

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
