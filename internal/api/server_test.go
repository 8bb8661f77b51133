package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/pageprobe/internal/session"
)

type stubService struct {
	state     session.State
	startErr  error
	startReq  session.Request
	report    *session.Report
	reportErr error
	cleaned   bool
}

func (s *stubService) Start(ctx context.Context, req session.Request) error {
	s.startReq = req
	return s.startErr
}
func (s *stubService) Stop(ctx context.Context) (*session.Report, error) {
	return s.report, s.reportErr
}
func (s *stubService) State() session.State     { return s.state }
func (s *stubService) StartedAt() time.Time     { return time.Time{} }
func (s *stubService) TakeSnapshot(ctx context.Context) error {
	return &session.CodedError{Code: session.CodeResourceLimit, Message: "snapshot limit reached"}
}
func (s *stubService) Screenshot(ctx context.Context, format string, quality int) ([]byte, error) {
	return []byte("image-bytes"), nil
}
func (s *stubService) LastReport() (*session.Report, error) { return s.report, s.reportErr }
func (s *stubService) Cleanup(ctx context.Context)          { s.cleaned = true }

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndStatus(t *testing.T) {
	h := NewServer(&stubService{state: session.StateIdle})

	if rec := do(t, h, http.MethodGet, "/health"); rec.Code != http.StatusOK {
		t.Fatalf("/health = %d, want 200", rec.Code)
	}

	rec := do(t, h, http.MethodGet, "/api/v1/session/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("/status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"idle"`) {
		t.Errorf("status body = %s, want idle state", rec.Body.String())
	}
}

func TestErrorMapping(t *testing.T) {
	svc := &stubService{
		state:    session.StateRecording,
		startErr: &session.CodedError{Code: session.CodeInvalidState, Message: "recording already in progress"},
		reportErr: &session.CodedError{
			Code: session.CodeProtocol, Message: "stop cpu collector",
		},
	}
	h := NewServer(svc)

	if rec := do(t, h, http.MethodPost, "/api/v1/session/start"); rec.Code != http.StatusConflict {
		t.Errorf("double start = %d, want 409", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/session/stop"); rec.Code != http.StatusBadGateway {
		t.Errorf("protocol failure = %d, want 502", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/session/snapshot"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("snapshot limit = %d, want 429", rec.Code)
	}
}

func TestStartForwardsCollectorSelection(t *testing.T) {
	svc := &stubService{state: session.StateIdle}
	h := NewServer(svc)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/session/start", `{"cpu":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("/start = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	want := session.Request{CPU: true}
	if svc.startReq != want {
		t.Errorf("forwarded request = %+v, want %+v", svc.startReq, want)
	}

	// No body keeps the default of all collectors, expressed as the zero
	// request.
	if rec := do(t, h, http.MethodPost, "/api/v1/session/start"); rec.Code != http.StatusOK {
		t.Fatalf("/start without body = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if svc.startReq != (session.Request{}) {
		t.Errorf("bodyless request = %+v, want zero", svc.startReq)
	}
}

func TestStopReturnsReport(t *testing.T) {
	svc := &stubService{
		state:  session.StateRecording,
		report: &session.Report{DurationMS: 1234},
	}
	h := NewServer(svc)

	rec := do(t, h, http.MethodPost, "/api/v1/session/stop")
	if rec.Code != http.StatusOK {
		t.Fatalf("/stop = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"duration_ms":1234`) {
		t.Errorf("stop body = %s, want duration_ms 1234", rec.Body.String())
	}
}

func TestCleanupEndpoint(t *testing.T) {
	svc := &stubService{state: session.StateStopped}
	h := NewServer(svc)

	if rec := do(t, h, http.MethodPost, "/api/v1/session/cleanup"); rec.Code != http.StatusOK {
		t.Fatalf("/cleanup = %d, want 200", rec.Code)
	}
	if !svc.cleaned {
		t.Error("cleanup endpoint did not reach the service")
	}
}

func TestScreenshot(t *testing.T) {
	h := NewServer(&stubService{state: session.StateIdle})

	rec := do(t, h, http.MethodGet, "/api/v1/screenshot?format=png")
	if rec.Code != http.StatusOK {
		t.Fatalf("/screenshot = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "image/png" {
		t.Errorf("content type = %q, want image/png", got)
	}
}
