package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the page profiler.
type Config struct {
	// CDP connection settings
	CDPAddress   string
	CDPPort      int
	TabURLFilter string

	// Control API server
	APIHost string
	APIPort int

	// Collectors to run per recording (timeline, network, cpu, memory)
	Collectors []string

	// CPU profiling
	CPUSamplingIntervalUS int
	DeepCallStacks        bool

	// Timeline
	LongTaskThresholdMS float64

	// Network thresholds
	SlowRequestMS      float64
	LargeResourceBytes int64

	// Core Web Vitals rating thresholds (ms except CLS, which is unitless)
	LCPGoodMS float64
	LCPPoorMS float64
	FIDGoodMS float64
	FIDPoorMS float64
	CLSGood   float64
	CLSPoor   float64

	// Memory profiling
	SnapshotTriggers    []string
	MaxSnapshots        int
	UsagePollIntervalMS int
	SnapshotIntervalMS  int
	AllocSamplingBytes  int

	// Optional managed browser
	LaunchBrowser     bool
	BrowserHeadless   bool
	StartURL          string
	BrowserProfileDir string
	BrowserLogDir     string

	// One-shot recording length for the CLI
	RecordDurationMS int

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:            getEnvOrDefault("PAGEPROBE_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:               getEnvIntOrDefault("PAGEPROBE_CDP_PORT", 9222),
		TabURLFilter:          getEnvOrDefault("PAGEPROBE_TAB_URL_FILTER", ""),
		APIHost:               getEnvOrDefault("PAGEPROBE_API_HOST", "127.0.0.1"),
		APIPort:               getEnvIntOrDefault("PAGEPROBE_API_PORT", 8420),
		Collectors:            splitList(getEnvOrDefault("PAGEPROBE_COLLECTORS", "timeline,network,cpu,memory")),
		CPUSamplingIntervalUS: getEnvIntOrDefault("PAGEPROBE_CPU_SAMPLING_INTERVAL_US", 1000),
		DeepCallStacks:        getEnvBoolOrDefault("PAGEPROBE_DEEP_CALL_STACKS", false),
		LongTaskThresholdMS:   getEnvFloatOrDefault("PAGEPROBE_LONG_TASK_THRESHOLD_MS", 50),
		SlowRequestMS:         getEnvFloatOrDefault("PAGEPROBE_SLOW_REQUEST_MS", 1000),
		LargeResourceBytes:    int64(getEnvIntOrDefault("PAGEPROBE_LARGE_RESOURCE_BYTES", 500*1024)),
		LCPGoodMS:             getEnvFloatOrDefault("PAGEPROBE_LCP_GOOD_MS", 2500),
		LCPPoorMS:             getEnvFloatOrDefault("PAGEPROBE_LCP_POOR_MS", 4000),
		FIDGoodMS:             getEnvFloatOrDefault("PAGEPROBE_FID_GOOD_MS", 100),
		FIDPoorMS:             getEnvFloatOrDefault("PAGEPROBE_FID_POOR_MS", 300),
		CLSGood:               getEnvFloatOrDefault("PAGEPROBE_CLS_GOOD", 0.1),
		CLSPoor:               getEnvFloatOrDefault("PAGEPROBE_CLS_POOR", 0.25),
		SnapshotTriggers:      splitList(getEnvOrDefault("PAGEPROBE_SNAPSHOT_TRIGGERS", "start,end")),
		MaxSnapshots:          getEnvIntOrDefault("PAGEPROBE_MAX_SNAPSHOTS", 10),
		UsagePollIntervalMS:   getEnvIntOrDefault("PAGEPROBE_USAGE_POLL_INTERVAL_MS", 1000),
		SnapshotIntervalMS:    getEnvIntOrDefault("PAGEPROBE_SNAPSHOT_INTERVAL_MS", 10000),
		AllocSamplingBytes:    getEnvIntOrDefault("PAGEPROBE_ALLOC_SAMPLING_BYTES", 0),
		LaunchBrowser:         getEnvBoolOrDefault("PAGEPROBE_LAUNCH_BROWSER", false),
		BrowserHeadless:       getEnvBoolOrDefault("PAGEPROBE_BROWSER_HEADLESS", false),
		StartURL:              getEnvOrDefault("PAGEPROBE_START_URL", "about:blank"),
		BrowserProfileDir:     getEnvOrDefault("PAGEPROBE_BROWSER_PROFILE_DIR", "./browser_profile"),
		BrowserLogDir:         getEnvOrDefault("PAGEPROBE_BROWSER_LOG_DIR", "./logs"),
		RecordDurationMS:      getEnvIntOrDefault("PAGEPROBE_RECORD_DURATION_MS", 10000),
		LogLevel:              getEnvOrDefault("PAGEPROBE_LOG_LEVEL", "info"),
		LogFile:               getEnvOrDefault("PAGEPROBE_LOG_FILE", "logs/pageprobe.log"),
	}

	if cfg.CPUSamplingIntervalUS <= 0 {
		return nil, fmt.Errorf("config: CPU sampling interval must be positive, got %d", cfg.CPUSamplingIntervalUS)
	}
	if cfg.MaxSnapshots <= 0 {
		return nil, fmt.Errorf("config: max snapshots must be positive, got %d", cfg.MaxSnapshots)
	}
	if len(cfg.Collectors) == 0 {
		return nil, fmt.Errorf("config: at least one collector must be enabled")
	}
	for _, name := range cfg.Collectors {
		switch name {
		case "timeline", "network", "cpu", "memory":
		default:
			return nil, fmt.Errorf("config: unknown collector %q", name)
		}
	}

	return cfg, nil
}

// GetCDPURL returns the browser's HTTP debugging endpoint.
func (c *Config) GetCDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloatOrDefault(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
