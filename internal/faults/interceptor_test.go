package faults

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/godlykids/shellkeeper/internal/crashloop"
	"github.com/godlykids/shellkeeper/internal/store"
	"github.com/godlykids/shellkeeper/internal/trace"
)

type fakeOverlay struct {
	shown []string
	err   error
}

func (f *fakeOverlay) ShowOverlay(_ context.Context, html string) error {
	f.shown = append(f.shown, html)
	return f.err
}

type harness struct {
	interceptor *Interceptor
	overlay     *fakeOverlay
	records     *store.Records
	recorder    *trace.Recorder
	kv          *store.Store
}

func newHarness(t *testing.T, inShell bool, suppress func(time.Time) bool) *harness {
	t.Helper()
	s := store.OpenMemory(t)
	rec := store.NewRecords(s)
	recorder := trace.NewRecorder(s, 60, func() (string, trace.Visibility) {
		return "https://app.local/#/home", trace.Visible
	})
	detector := crashloop.NewDetector(rec, recorder, crashloop.Config{
		WindowSpan: 30 * time.Second, Threshold: 3, ShellThreshold: 5,
		TeardownGrace: 5 * time.Second, StampCap: 10,
	}, inShell)
	overlay := &fakeOverlay{}
	i := NewInterceptor(Options{
		KV:       s,
		Recorder: recorder,
		Detector: detector,
		Overlay:  overlay,
		PageContext: func(context.Context) PageContext {
			return PageContext{URL: "https://app.local/#/home", UserAgent: "test", Visibility: trace.Visible}
		},
		InShell:            inShell,
		SuppressCrashCount: suppress,
		ReportCap:          5,
	})
	return &harness{interceptor: i, overlay: overlay, records: rec, recorder: recorder, kv: s}
}

func genuineFault(msg string) PageFault {
	return PageFault{
		Kind:    KindException,
		Name:    "TypeError",
		Message: msg,
		Source:  "https://app.local/app.js",
		Line:    120,
		Col:     7,
		Stack:   "TypeError: " + msg + "\n  at render (app.js:120:7)",
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		fault PageFault
		want  Class
	}{
		{"with stack", genuineFault("boom"), ClassGenuine},
		{"opaque placeholder", PageFault{Kind: KindException, Message: "Script error."}, ClassOpaque},
		{"opaque without dot", PageFault{Kind: KindException, Message: "Script error"}, ClassOpaque},
		{"placeholder with source is genuine", PageFault{Kind: KindException, Message: "Script error.", Source: "x.js"}, ClassGenuine},
		{"placeholder with line is genuine", PageFault{Kind: KindException, Message: "Script error.", Line: 1}, ClassGenuine},
		{"resource is genuine", PageFault{Kind: KindResource, ResourceURL: "a.css"}, ClassGenuine},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.fault); got != tt.want {
				t.Fatalf("Classify = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGenuineFaultCountedPersistedAndShown(t *testing.T) {
	h := newHarness(t, false, nil)
	h.recorder.Record("boot", nil)

	h.interceptor.Intercept(context.Background(), genuineFault("boom"))

	if got := len(h.records.CrashTimes()); got != 1 {
		t.Fatalf("crash window length = %d, want 1", got)
	}
	reports := h.interceptor.Reports()
	if len(reports) != 1 {
		t.Fatalf("reports length = %d, want 1", len(reports))
	}
	r := reports[0]
	if r.ID == "" || r.Class != ClassGenuine || r.Message != "boom" {
		t.Fatalf("report = %+v", r)
	}
	if len(r.Trace) == 0 || r.Trace[0].Event != "boot" {
		t.Fatalf("report trace snapshot missing boot entry: %+v", r.Trace)
	}
	if len(h.overlay.shown) != 1 {
		t.Fatalf("overlay shown %d times, want 1", len(h.overlay.shown))
	}
	if latest, ok := h.interceptor.Latest(); !ok || latest.ID != r.ID {
		t.Fatalf("Latest = %+v, %v; want the persisted report", latest, ok)
	}
}

func TestOpaqueSuppressedInsideShell(t *testing.T) {
	h := newHarness(t, true, nil)

	h.interceptor.Intercept(context.Background(), PageFault{Kind: KindException, Message: "Script error."})

	if got := len(h.records.CrashTimes()); got != 0 {
		t.Fatalf("opaque fault incremented crash window: %d", got)
	}
	if got := h.interceptor.Reports(); len(got) != 0 {
		t.Fatalf("opaque fault persisted a report: %+v", got)
	}
	if len(h.overlay.shown) != 0 {
		t.Fatalf("opaque fault raised the overlay")
	}
	ring := h.recorder.Snapshot()
	if len(ring) != 1 || ring[0].Event != "fault.opaque-suppressed" {
		t.Fatalf("trace ring = %+v, want a single opaque-suppressed entry", ring)
	}
}

func TestOpaqueOutsideShellTreatedAsGenuine(t *testing.T) {
	h := newHarness(t, false, nil)

	h.interceptor.Intercept(context.Background(), PageFault{Kind: KindException, Message: "Script error."})

	if got := len(h.records.CrashTimes()); got != 1 {
		t.Fatalf("crash window length = %d, want 1", got)
	}
	if len(h.overlay.shown) != 1 {
		t.Fatalf("overlay shown %d times, want 1", len(h.overlay.shown))
	}
}

func TestResourceFaultLightweight(t *testing.T) {
	h := newHarness(t, false, nil)

	h.interceptor.Intercept(context.Background(), PageFault{
		Kind: KindResource, ResourceURL: "https://cdn.local/app.css", ResourceType: "stylesheet",
	})

	if got := len(h.records.CrashTimes()); got != 0 {
		t.Fatalf("resource fault incremented crash window: %d", got)
	}
	if len(h.overlay.shown) != 0 {
		t.Fatalf("resource fault raised the overlay")
	}
	reports := h.interceptor.Reports()
	if len(reports) != 1 {
		t.Fatalf("reports length = %d, want 1", len(reports))
	}
	if reports[0].Kind != KindResource || len(reports[0].Trace) != 0 {
		t.Fatalf("resource report = %+v, want light report without trace", reports[0])
	}
	if reports[0].Source != "https://cdn.local/app.css" {
		t.Fatalf("resource report source = %q", reports[0].Source)
	}
}

func TestReportsBoundedNewestWins(t *testing.T) {
	h := newHarness(t, false, nil)

	for n := 0; n < 8; n++ {
		h.interceptor.Intercept(context.Background(), genuineFault(fmt.Sprintf("boom-%d", n)))
	}

	reports := h.interceptor.Reports()
	if len(reports) != 5 {
		t.Fatalf("reports length = %d, want 5", len(reports))
	}
	if reports[0].Message != "boom-3" || reports[4].Message != "boom-7" {
		t.Fatalf("report window = [%s .. %s], want [boom-3 .. boom-7]", reports[0].Message, reports[4].Message)
	}
}

func TestSuppressedCrashCountStillReports(t *testing.T) {
	h := newHarness(t, true, func(time.Time) bool { return true })

	h.interceptor.Intercept(context.Background(), genuineFault("near-boot"))

	if got := len(h.records.CrashTimes()); got != 0 {
		t.Fatalf("suppressed fault incremented crash window: %d", got)
	}
	if got := h.interceptor.Reports(); len(got) != 1 {
		t.Fatalf("suppressed fault lost its report: %+v", got)
	}
	if len(h.overlay.shown) != 1 {
		t.Fatalf("suppressed fault hid the overlay")
	}
}

func TestOverlayHTMLSelfContained(t *testing.T) {
	h := newHarness(t, false, nil)
	h.interceptor.Intercept(context.Background(), genuineFault(`boom <script>alert(1)</script>`))

	html := h.overlay.shown[0]
	if strings.Contains(html, "<script>alert(1)</script>") {
		t.Fatalf("report message not escaped in overlay markup")
	}
	for _, want := range []string{"sk-copy", "sk-toggle", "sk-clear", "sk-reload", "clear-cache-reload"} {
		if !strings.Contains(html, want) {
			t.Fatalf("overlay markup missing %q", want)
		}
	}
	if strings.Contains(html, "src=") || strings.Contains(html, "href=") {
		t.Fatalf("overlay markup references external resources")
	}
}
