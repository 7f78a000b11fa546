// Package api serves the local control and diagnostics HTTP surface the
// native shell talks to: session state, route resolution, lifecycle signal
// injection, trace and error history, manual recovery, and a live
// diagnostics WebSocket stream.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/godlykids/shellkeeper/internal/faults"
	"github.com/godlykids/shellkeeper/internal/lifecycle"
	"github.com/godlykids/shellkeeper/internal/session"
	"github.com/godlykids/shellkeeper/internal/shellbridge"
	"github.com/godlykids/shellkeeper/internal/trace"
)

// Service is the keeper surface the API exposes.
type Service interface {
	Status() session.Status
	Route() session.RouteInfo
	Traces() []trace.Entry
	Reports() []faults.Report
	LatestReport() (faults.Report, bool)
	TriggerRecovery(ctx context.Context) error
	Lifecycle(ctx context.Context, sig lifecycle.Signal) string
	Subscribe() <-chan session.StreamEvent
}

// NewServer builds the control API router.
func NewServer(svc Service) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Shellkeeper Control API", "1.0.0")
	api := humachi.New(router, cfg)

	registerSessionHandlers(api, svc)
	registerDiagnosticsHandlers(api, svc)
	router.Get("/api/v1/diagnostics/stream", streamHandler(svc))

	return router
}

func registerSessionHandlers(api huma.API, svc Service) {
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

	type sessionOutput struct {
		Body session.Status
	}
	huma.Register(api, huma.Operation{OperationID: "get-session", Method: http.MethodGet, Path: "/api/v1/session", Summary: "Get session state", Tags: []string{"Session"}},
		func(ctx context.Context, input *struct{}) (*sessionOutput, error) {
			out := &sessionOutput{}
			out.Body = svc.Status()
			return out, nil
		})

	type routeOutput struct {
		Body session.RouteInfo
	}
	huma.Register(api, huma.Operation{OperationID: "get-route", Method: http.MethodGet, Path: "/api/v1/route", Summary: "Get boot route resolution and live route", Tags: []string{"Session"}},
		func(ctx context.Context, input *struct{}) (*routeOutput, error) {
			out := &routeOutput{}
			out.Body = svc.Route()
			return out, nil
		})

	type lifecycleInput struct {
		Signal string `path:"signal" doc:"One of hidden, visible, focus, blur."`
	}
	type lifecycleOutput struct {
		Body struct {
			Signal string `json:"signal"`
			Phase  string `json:"phase"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "post-lifecycle-signal", Method: http.MethodPost, Path: "/api/v1/lifecycle/{signal}", Summary: "Inject a native-shell lifecycle signal", Tags: []string{"Lifecycle"}},
		func(ctx context.Context, input *lifecycleInput) (*lifecycleOutput, error) {
			sig, ok := lifecycle.ParseSignal(input.Signal)
			if !ok {
				return nil, huma.Error400BadRequest("unknown lifecycle signal: " + input.Signal)
			}
			out := &lifecycleOutput{}
			out.Body.Signal = string(sig)
			out.Body.Phase = svc.Lifecycle(ctx, sig)
			return out, nil
		})

	type recoveryOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "post-recovery", Method: http.MethodPost, Path: "/api/v1/recovery", Summary: "Wipe feature caches and reload the page", Tags: []string{"Recovery"}},
		func(ctx context.Context, input *struct{}) (*recoveryOutput, error) {
			if err := svc.TriggerRecovery(ctx); err != nil {
				return nil, mapErr(err)
			}
			out := &recoveryOutput{}
			out.Body.Status = "recovered"
			return out, nil
		})
}

func registerDiagnosticsHandlers(api huma.API, svc Service) {
	type tracesOutput struct {
		Body struct {
			Traces []trace.Entry `json:"traces"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-traces", Method: http.MethodGet, Path: "/api/v1/traces", Summary: "List trace ring entries, oldest first", Tags: []string{"Diagnostics"}},
		func(ctx context.Context, input *struct{}) (*tracesOutput, error) {
			out := &tracesOutput{}
			out.Body.Traces = svc.Traces()
			return out, nil
		})

	type reportsOutput struct {
		Body struct {
			Reports []faults.Report `json:"reports"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-errors", Method: http.MethodGet, Path: "/api/v1/errors", Summary: "List persisted error reports, oldest first", Tags: []string{"Diagnostics"}},
		func(ctx context.Context, input *struct{}) (*reportsOutput, error) {
			out := &reportsOutput{}
			out.Body.Reports = svc.Reports()
			return out, nil
		})

	type latestOutput struct {
		Body faults.Report
	}
	huma.Register(api, huma.Operation{OperationID: "get-latest-error", Method: http.MethodGet, Path: "/api/v1/errors/latest", Summary: "Get the most recent error report", Tags: []string{"Diagnostics"}},
		func(ctx context.Context, input *struct{}) (*latestOutput, error) {
			report, ok := svc.LatestReport()
			if !ok {
				return nil, huma.Error404NotFound("no error reports recorded")
			}
			out := &latestOutput{}
			out.Body = report
			return out, nil
		})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *shellbridge.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case shellbridge.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case shellbridge.CodePageNotFound:
			return huma.Error404NotFound(coded.Message)
		case shellbridge.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case shellbridge.CodeBridgeUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
