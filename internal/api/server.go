// Package api exposes the recording lifecycle over HTTP so agents and
// scripts can drive a profiling session remotely.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/pageprobe/internal/session"
)

// Service is the recording surface the server exposes. *session.Coordinator
// satisfies it.
type Service interface {
	Start(ctx context.Context, req session.Request) error
	Stop(ctx context.Context) (*session.Report, error)
	State() session.State
	StartedAt() time.Time
	LastReport() (*session.Report, error)
	TakeSnapshot(ctx context.Context) error
	Screenshot(ctx context.Context, format string, quality int) ([]byte, error)
	Cleanup(ctx context.Context)
}

func NewServer(svc Service) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("PageProbe API", "1.0.0")
	api := humachi.New(router, cfg)

	registerSessionHandlers(api, svc)
	registerReportHandlers(api, svc)

	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	return router
}

type statusBody struct {
	State     session.State `json:"state"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
}

func registerSessionHandlers(api huma.API, svc Service) {
	type statusOutput struct {
		Body statusBody
	}
	status := func() statusBody {
		body := statusBody{State: svc.State()}
		if at := svc.StartedAt(); !at.IsZero() {
			body.StartedAt = &at
		}
		return body
	}

	type startInput struct {
		Body *session.Request `required:"false" doc:"Collectors to run; omit for all"`
	}
	huma.Register(api, huma.Operation{OperationID: "start-session", Method: http.MethodPost, Path: "/api/v1/session/start", Summary: "Start a recording", Tags: []string{"Session"}},
		func(ctx context.Context, input *startInput) (*statusOutput, error) {
			var req session.Request
			if input.Body != nil {
				req = *input.Body
			}
			if err := svc.Start(ctx, req); err != nil {
				return nil, mapErr(err)
			}
			return &statusOutput{Body: status()}, nil
		})

	type stopOutput struct {
		Body *session.Report
	}
	huma.Register(api, huma.Operation{OperationID: "stop-session", Method: http.MethodPost, Path: "/api/v1/session/stop", Summary: "Stop the recording and return the report", Tags: []string{"Session"}},
		func(ctx context.Context, input *struct{}) (*stopOutput, error) {
			report, err := svc.Stop(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &stopOutput{Body: report}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "session-status", Method: http.MethodGet, Path: "/api/v1/session/status", Summary: "Recording state", Tags: []string{"Session"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			return &statusOutput{Body: status()}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "session-snapshot", Method: http.MethodPost, Path: "/api/v1/session/snapshot", Summary: "Take a manual heap snapshot", Tags: []string{"Session"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			if err := svc.TakeSnapshot(ctx); err != nil {
				return nil, mapErr(err)
			}
			return &statusOutput{Body: status()}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "session-cleanup", Method: http.MethodPost, Path: "/api/v1/session/cleanup", Summary: "Release browser state", Tags: []string{"Session"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			svc.Cleanup(ctx)
			return &statusOutput{Body: status()}, nil
		})
}

func registerReportHandlers(api huma.API, svc Service) {
	type reportOutput struct {
		Body *session.Report
	}
	huma.Register(api, huma.Operation{OperationID: "last-report", Method: http.MethodGet, Path: "/api/v1/report", Summary: "Most recent finished report", Tags: []string{"Report"}},
		func(ctx context.Context, input *struct{}) (*reportOutput, error) {
			report, err := svc.LastReport()
			if err != nil {
				return nil, mapErr(err)
			}
			return &reportOutput{Body: report}, nil
		})

	type screenshotInput struct {
		Format  string `query:"format" default:"png" enum:"png,jpeg" doc:"Image format"`
		Quality int    `query:"quality" default:"80" minimum:"1" maximum:"100" doc:"JPEG quality, ignored for png"`
	}
	type screenshotOutput struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}
	huma.Register(api, huma.Operation{OperationID: "screenshot", Method: http.MethodGet, Path: "/api/v1/screenshot", Summary: "Capture the current page", Tags: []string{"Report"}},
		func(ctx context.Context, input *screenshotInput) (*screenshotOutput, error) {
			data, err := svc.Screenshot(ctx, input.Format, input.Quality)
			if err != nil {
				return nil, mapErr(err)
			}
			return &screenshotOutput{ContentType: "image/" + input.Format, Body: data}, nil
		})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *session.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case session.CodeInvalidState:
			return huma.Error409Conflict(coded.Message)
		case session.CodeResourceLimit:
			return huma.Error429TooManyRequests(coded.Message)
		case session.CodeProtocol, session.CodeCDPUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
