package faults

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/godlykids/shellkeeper/internal/crashloop"
	"github.com/godlykids/shellkeeper/internal/store"
	"github.com/godlykids/shellkeeper/internal/trace"
)

// OverlayPresenter renders the recovery overlay on the page. It must not
// depend on the page's view framework being alive.
type OverlayPresenter interface {
	ShowOverlay(ctx context.Context, html string) error
}

// Interceptor applies the fault policy: classify, persist a bounded report,
// feed the crash window, and raise the overlay. Nothing in here re-throws;
// every storage or bridge failure degrades to a skipped diagnostic step.
type Interceptor struct {
	kv       store.KV
	recorder *trace.Recorder
	detector *crashloop.Detector
	overlay  OverlayPresenter
	pageCtx  func(ctx context.Context) PageContext
	inShell  bool
	// suppressCrashCount reports whether a fault at the given instant must
	// be excluded from crash-loop accounting (expected host teardown near
	// boot).
	suppressCrashCount func(at time.Time) bool
	reportCap          int
	now                func() time.Time
	newID              func() string

	mu     sync.Mutex
	latest *Report
}

// Options configures an Interceptor.
type Options struct {
	KV                 store.KV
	Recorder           *trace.Recorder
	Detector           *crashloop.Detector
	Overlay            OverlayPresenter
	PageContext        func(ctx context.Context) PageContext
	InShell            bool
	SuppressCrashCount func(at time.Time) bool
	ReportCap          int
}

// NewInterceptor builds the interceptor.
func NewInterceptor(opts Options) *Interceptor {
	limit := opts.ReportCap
	if limit <= 0 {
		limit = 5
	}
	return &Interceptor{
		kv:                 opts.KV,
		recorder:           opts.Recorder,
		detector:           opts.Detector,
		overlay:            opts.Overlay,
		pageCtx:            opts.PageContext,
		inShell:            opts.InShell,
		suppressCrashCount: opts.SuppressCrashCount,
		reportCap:          limit,
		now:                time.Now,
		newID:              func() string { return uuid.NewString() },
	}
}

// Intercept handles one observed fault end to end.
func (i *Interceptor) Intercept(ctx context.Context, f PageFault) {
	at := i.now().UTC()
	class := Classify(f)

	// Opaque cross-origin faults inside the shell are overwhelmingly
	// unrelated third-party scripts; surfacing them would make the app look
	// broken for no real fault. Trace only, for later correlation.
	if class == ClassOpaque && i.inShell {
		slog.Debug("fault suppressed as opaque cross-origin", "message", f.Message)
		i.recorder.Record("fault.opaque-suppressed", map[string]any{"message": f.Message})
		return
	}

	report := i.buildReport(ctx, f, class, at)

	if f.Kind == KindResource {
		// Transient network trouble, not an application fault: lighter
		// report, no crash accounting, no overlay.
		report.Trace = nil
		i.persist(report)
		i.recorder.Record("fault.resource-load-failed", map[string]any{
			"url": f.ResourceURL, "type": f.ResourceType,
		})
		slog.Warn("resource load failed", "url", f.ResourceURL, "type", f.ResourceType)
		return
	}

	counted := true
	if i.suppressCrashCount != nil && i.suppressCrashCount(at) {
		counted = false
	}
	if counted {
		i.detector.RecordCrash(at)
	}

	i.persist(report)
	i.recorder.Record("fault.intercepted", map[string]any{
		"kind": string(f.Kind), "class": string(class), "counted": counted,
	})
	slog.Error("fault intercepted",
		"kind", f.Kind, "class", class, "message", f.Message,
		"source", f.Source, "line", f.Line, "counted", counted)

	if i.overlay != nil {
		if err := i.overlay.ShowOverlay(ctx, OverlayHTML(report)); err != nil {
			slog.Warn("recovery overlay render failed", "error", err)
		}
	}
}

// Reports returns the persisted report history, newest last.
func (i *Interceptor) Reports() []Report {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.readLocked()
}

// Latest returns the most recent report held in memory for the overlay's
// copy-details action.
func (i *Interceptor) Latest() (Report, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.latest == nil {
		return Report{}, false
	}
	return *i.latest, true
}

func (i *Interceptor) buildReport(ctx context.Context, f PageFault, class Class, at time.Time) Report {
	var page PageContext
	if i.pageCtx != nil {
		page = i.pageCtx(ctx)
	}
	return Report{
		ID:      i.newID(),
		Kind:    f.Kind,
		Class:   class,
		Name:    f.Name,
		Message: f.Message,
		Source:  firstNonEmpty(f.Source, f.ResourceURL),
		Line:    f.Line,
		Col:     f.Col,
		Stack:   f.Stack,
		Page:    page,
		Trace:   i.recorder.Snapshot(),
		At:      at,
	}
}

// persist appends the report to the bounded persisted list, newest evicting
// oldest beyond the cap, and pins it as the latest in-memory report.
func (i *Interceptor) persist(r Report) {
	i.mu.Lock()
	defer i.mu.Unlock()

	reports := append(i.readLocked(), r)
	if len(reports) > i.reportCap {
		reports = reports[len(reports)-i.reportCap:]
	}
	payload, err := json.Marshal(reports)
	if err != nil {
		slog.Debug("error reports marshal failed", "error", err)
	} else {
		i.kv.Set(store.KeyErrorReports, string(payload))
	}
	i.latest = &r
}

func (i *Interceptor) readLocked() []Report {
	raw, ok := i.kv.Get(store.KeyErrorReports)
	if !ok {
		return nil
	}
	var reports []Report
	if err := json.Unmarshal([]byte(raw), &reports); err != nil {
		slog.Debug("error reports corrupt, starting fresh", "error", err)
		return nil
	}
	return reports
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
