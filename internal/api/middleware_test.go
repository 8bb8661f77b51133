package api

import (
	"bytes"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/dgnsrekt/pageprobe/internal/session"
)

func TestRequestLoggerDemotesPolling(t *testing.T) {
	var buf bytes.Buffer
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(old) })

	h := NewServer(&stubService{state: session.StateIdle})

	do(t, h, http.MethodGet, "/health")
	do(t, h, http.MethodGet, "/api/v1/session/status")
	do(t, h, http.MethodPost, "/api/v1/session/start")

	logged := buf.String()
	if strings.Contains(logged, "path=/health") {
		t.Errorf("health poll logged at info:\n%s", logged)
	}
	if strings.Contains(logged, "path=/api/v1/session/status") {
		t.Errorf("status poll logged at info:\n%s", logged)
	}
	if !strings.Contains(logged, "path=/api/v1/session/start") {
		t.Errorf("lifecycle call missing from log:\n%s", logged)
	}
}
