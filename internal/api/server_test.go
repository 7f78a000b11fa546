package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/godlykids/shellkeeper/internal/faults"
	"github.com/godlykids/shellkeeper/internal/lifecycle"
	"github.com/godlykids/shellkeeper/internal/session"
	"github.com/godlykids/shellkeeper/internal/shellbridge"
	"github.com/godlykids/shellkeeper/internal/trace"
)

type fakeService struct {
	status      session.Status
	route       session.RouteInfo
	traces      []trace.Entry
	reports     []faults.Report
	latest      *faults.Report
	recoveryErr error
	signals     []lifecycle.Signal
}

func (f *fakeService) Status() session.Status                  { return f.status }
func (f *fakeService) Route() session.RouteInfo                { return f.route }
func (f *fakeService) Traces() []trace.Entry                   { return f.traces }
func (f *fakeService) Reports() []faults.Report                { return f.reports }
func (f *fakeService) TriggerRecovery(context.Context) error   { return f.recoveryErr }
func (f *fakeService) Subscribe() <-chan session.StreamEvent   { return make(chan session.StreamEvent) }
func (f *fakeService) LatestReport() (faults.Report, bool) {
	if f.latest == nil {
		return faults.Report{}, false
	}
	return *f.latest, true
}
func (f *fakeService) Lifecycle(_ context.Context, sig lifecycle.Signal) string {
	f.signals = append(f.signals, sig)
	return "backgrounded"
}

func doRequest(t *testing.T, handler http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv := NewServer(&fakeService{})
	rec := doRequest(t, srv, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rec.Code)
	}
}

func TestGetSession(t *testing.T) {
	svc := &fakeService{status: session.Status{Phase: "active", Fragment: "/book/9", InShell: true}}
	srv := NewServer(svc)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/session")
	if rec.Code != http.StatusOK {
		t.Fatalf("session status = %d, want 200", rec.Code)
	}
	var got session.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode session body: %v", err)
	}
	if got.Phase != "active" || got.Fragment != "/book/9" || !got.InShell {
		t.Fatalf("session body = %+v", got)
	}
}

func TestLifecycleSignalValidation(t *testing.T) {
	svc := &fakeService{}
	srv := NewServer(svc)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/lifecycle/hibernate")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown signal status = %d, want 400", rec.Code)
	}
	if len(svc.signals) != 0 {
		t.Fatalf("unknown signal reached the keeper: %v", svc.signals)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/lifecycle/hidden")
	if rec.Code != http.StatusOK {
		t.Fatalf("hidden signal status = %d, want 200", rec.Code)
	}
	if len(svc.signals) != 1 || svc.signals[0] != lifecycle.SignalHidden {
		t.Fatalf("delivered signals = %v, want [hidden]", svc.signals)
	}
	var body struct {
		Phase string `json:"phase"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode lifecycle body: %v", err)
	}
	if body.Phase != "backgrounded" {
		t.Fatalf("phase = %q, want backgrounded", body.Phase)
	}
}

func TestLatestErrorNotFound(t *testing.T) {
	srv := NewServer(&fakeService{})
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/errors/latest")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("latest error status = %d, want 404", rec.Code)
	}
}

func TestLatestErrorFound(t *testing.T) {
	report := faults.Report{ID: "r-1", Message: "boom", At: time.Now().UTC()}
	srv := NewServer(&fakeService{latest: &report})

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/errors/latest")
	if rec.Code != http.StatusOK {
		t.Fatalf("latest error status = %d, want 200", rec.Code)
	}
	var got faults.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode report body: %v", err)
	}
	if got.ID != "r-1" || got.Message != "boom" {
		t.Fatalf("report body = %+v", got)
	}
}

func TestRecoveryMapsBridgeErrors(t *testing.T) {
	svc := &fakeService{recoveryErr: &shellbridge.CodedError{Code: shellbridge.CodeBridgeUnavailable, Message: "bridge not connected"}}
	srv := NewServer(svc)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/recovery")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("recovery status = %d, want 502", rec.Code)
	}
}

func TestRecoveryOK(t *testing.T) {
	srv := NewServer(&fakeService{})
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/recovery")
	if rec.Code != http.StatusOK {
		t.Fatalf("recovery status = %d, want 200", rec.Code)
	}
}
