// Package session owns boot orchestration: crash-loop evaluation, route
// resolution, hook installation, and the single event loop through which
// every page signal flows into the lifecycle components.
package session

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/godlykids/shellkeeper/internal/config"
	"github.com/godlykids/shellkeeper/internal/crashloop"
	"github.com/godlykids/shellkeeper/internal/faults"
	"github.com/godlykids/shellkeeper/internal/lifecycle"
	"github.com/godlykids/shellkeeper/internal/notify"
	"github.com/godlykids/shellkeeper/internal/routing"
	"github.com/godlykids/shellkeeper/internal/shellbridge"
	"github.com/godlykids/shellkeeper/internal/store"
	"github.com/godlykids/shellkeeper/internal/trace"
)

// Status is the session snapshot served by the control API.
type Status struct {
	BootAt           time.Time `json:"boot_at"`
	InShell          bool      `json:"in_shell"`
	ExpectedTeardown bool      `json:"expected_teardown"`
	BootState        string    `json:"boot_state"`
	RecoveryMode     bool      `json:"recovery_mode"`
	CrashWindow      int       `json:"crash_window"`
	Phase            string    `json:"phase"`
	Fragment         string    `json:"fragment"`
	PageURL          string    `json:"page_url"`
	SignedIn         bool      `json:"signed_in"`
	Restoring        bool      `json:"restoring"`
}

// RouteInfo describes the boot-time resolution plus the live route state.
type RouteInfo struct {
	Location   string `json:"location"`
	Fragment   string `json:"fragment"`
	Action     string `json:"action"`
	DeepLinked bool   `json:"deep_linked"`
	Restored   bool   `json:"restored"`
	WipedState bool   `json:"wiped_state"`
	SavedRoute string `json:"saved_route,omitempty"`
}

// StreamEvent is one diagnostics stream frame: a trace append or a
// lifecycle transition.
type StreamEvent struct {
	Type      string           `json:"type"`
	Trace     *trace.Entry     `json:"trace,omitempty"`
	Lifecycle *lifecycle.Event `json:"lifecycle,omitempty"`
}

// Keeper wires the lifecycle components together and runs the event loop.
type Keeper struct {
	cfg      *config.Config
	st       *store.Store
	rec      *store.Records
	recorder *trace.Recorder
	proc     *lifecycle.ProcessState
	bridge   *shellbridge.Bridge
	notifier *notify.Notifier

	detector    *crashloop.Detector
	interceptor *faults.Interceptor
	coordinator *lifecycle.Coordinator

	mu           sync.Mutex
	visibility   trace.Visibility
	bootOutcome  routing.Outcome
	bootDecision crashloop.Decision
	subs         []chan StreamEvent

	loopOnce sync.Once
}

// NewKeeper builds a keeper over an opened store and a connected bridge.
func NewKeeper(cfg *config.Config, st *store.Store, bridge *shellbridge.Bridge, notifier *notify.Notifier) *Keeper {
	k := &Keeper{
		cfg:        cfg,
		st:         st,
		rec:        store.NewRecords(st),
		proc:       lifecycle.NewProcessState(),
		bridge:     bridge,
		notifier:   notifier,
		visibility: trace.Visible,
	}
	k.recorder = trace.NewRecorder(st, cfg.TraceCapacity, k.traceContext)
	return k
}

// Boot runs the boot sequence: shell detection, crash-loop evaluation, route
// resolution and application, then starts the event loop. Degraded bridge
// calls are logged and skipped; the session still comes up.
func (k *Keeper) Boot(ctx context.Context) error {
	now := time.Now().UTC()

	userAgent := ""
	if pc, err := k.bridge.PageContext(ctx); err != nil {
		slog.Warn("session boot page context unavailable", "error", err)
	} else {
		userAgent = pc.UserAgent
		k.setVisibility(pc.Visibility)
	}
	inShell := k.cfg.DetectShell(userAgent)
	k.proc.Reset(now, inShell)

	k.detector = crashloop.NewDetector(k.rec, k.recorder, crashloop.Config{
		WindowSpan:     k.cfg.CrashWindowSpan,
		Threshold:      k.cfg.CrashThreshold,
		ShellThreshold: k.cfg.ShellCrashThreshold,
		TeardownGrace:  k.cfg.TeardownGrace,
		StampCap:       k.cfg.CrashStampCap,
	}, inShell)
	k.coordinator = lifecycle.NewCoordinator(ctx, k.rec, k.recorder, k.proc, k.bridge, lifecycle.Config{
		FocusGainDebounce: k.cfg.FocusGainDebounce,
		FocusLossDebounce: k.cfg.FocusLossDebounce,
		SettleDelay:       k.cfg.SettleDelay,
	})
	k.interceptor = faults.NewInterceptor(faults.Options{
		KV:          k.st,
		Recorder:    k.recorder,
		Detector:    k.detector,
		Overlay:     overlayPresenter{k},
		PageContext: k.pageContext,
		InShell:     inShell,
		SuppressCrashCount: func(at time.Time) bool {
			return k.proc.ExpectedTeardown() && at.Sub(k.proc.BootAt()) <= k.cfg.TeardownGrace
		},
		ReportCap: k.cfg.ReportCapacity,
	})

	decision := k.detector.Evaluate()
	k.proc.SetExpectedTeardown(decision.ExpectedTeardown)
	if decision.State == crashloop.RecoveryTriggered {
		if err := k.bridge.ClearOfflineCaches(ctx); err != nil {
			slog.Warn("session recovery cache clear failed", "error", err)
		}
		if k.notifier != nil {
			k.notifier.RecoveryTriggered(ctx, decision.CrashCount)
		}
	}

	raw, err := k.bridge.Location(ctx)
	if err != nil {
		slog.Warn("session boot location read failed", "error", err)
		raw = k.bridge.PageURL()
	}
	saved, _ := k.rec.LastRoute()
	hiddenAt, _ := k.rec.LastHiddenAt()
	out := routing.Resolve(raw, routing.Input{
		SavedRoute:   saved,
		LastHiddenAt: hiddenAt,
		Now:          now,
		RestoreGrace: k.cfg.RestoreGrace,
	})

	k.mu.Lock()
	k.bootOutcome = out
	k.bootDecision = decision
	k.mu.Unlock()

	k.applyOutcome(ctx, raw, out, decision)

	if out.Restored {
		k.rec.ClearLastHiddenAt()
	}
	k.coordinator.RouteChanged(out.Fragment)

	k.recorder.SetObserver(k.onTrace)
	k.recorder.Record("session.boot", map[string]any{
		"in_shell":    inShell,
		"crash_state": decision.State.String(),
		"route":       out.Fragment,
		"deep_linked": out.DeepLinked,
		"restored":    out.Restored,
		"wiped":       out.WipeState,
	})
	slog.Info("session boot complete",
		"in_shell", inShell, "crash_state", decision.State.String(),
		"route", out.Fragment, "deep_linked", out.DeepLinked,
		"restored", out.Restored, "wiped", out.WipeState)

	k.loopOnce.Do(func() {
		go k.runLoop(ctx)
		go k.forwardLifecycle(ctx)
	})
	return nil
}

// applyOutcome performs the resolver's side effects through store and
// bridge. A logout wipe erases everything persisted, including the auth
// flag, before the forced reload.
func (k *Keeper) applyOutcome(ctx context.Context, raw string, out routing.Outcome, decision crashloop.Decision) {
	if out.WipeState {
		k.st.Clear()
		if err := k.bridge.ClearPageStorage(ctx); err != nil {
			slog.Warn("session logout storage clear failed", "error", err)
		}
		if err := k.bridge.ClearOfflineCaches(ctx); err != nil {
			slog.Warn("session logout cache clear failed", "error", err)
		}
		if err := k.bridge.ReplaceLocation(ctx, out.Location); err != nil {
			slog.Warn("session logout location apply failed", "error", err)
		}
		if err := k.bridge.Reload(ctx); err != nil {
			slog.Warn("session logout reload failed", "error", err)
		}
		return
	}

	if out.Location != raw {
		if err := k.bridge.ReplaceLocation(ctx, out.Location); err != nil {
			slog.Warn("session boot location apply failed", "error", err)
		}
	}
	if decision.State == crashloop.RecoveryTriggered {
		if err := k.bridge.Reload(ctx); err != nil {
			slog.Warn("session recovery reload failed", "error", err)
		}
	}
}

func (k *Keeper) runLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-k.bridge.Events():
			k.handleBridgeEvent(ctx, ev)
		}
	}
}

func (k *Keeper) handleBridgeEvent(ctx context.Context, ev shellbridge.Event) {
	switch ev.Kind {
	case shellbridge.EventException, shellbridge.EventRejection, shellbridge.EventResourceFailed:
		k.interceptor.Intercept(ctx, ev.Fault)
	case shellbridge.EventVisibility:
		k.setVisibility(ev.Visibility)
		sig := lifecycle.SignalVisible
		if ev.Visibility == trace.Hidden {
			sig = lifecycle.SignalHidden
		}
		k.coordinator.HandleSignal(ctx, sig)
	case shellbridge.EventNavigated:
		frag := ev.Fragment
		if frag == "" {
			frag = fragmentOf(ev.URL)
		}
		if frag == "" {
			return
		}
		k.coordinator.RouteChanged(frag)
		k.recorder.Record("route.changed", map[string]any{"fragment": frag})
	case shellbridge.EventOverlayAction:
		if ev.OverlayAction == "clear-cache-reload" {
			k.recorder.Record("recovery.overlay-clear", nil)
			if err := k.clearCachesAndReload(ctx); err != nil {
				slog.Warn("session overlay recovery failed", "error", err)
			}
		}
	case shellbridge.EventDetached:
		k.recorder.Record("bridge.detached", nil)
		slog.Warn("session bridge detached")
	}
}

func (k *Keeper) forwardLifecycle(ctx context.Context) {
	events := k.coordinator.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			e := ev
			k.fanOut(StreamEvent{Type: "lifecycle", Lifecycle: &e})
		}
	}
}

func (k *Keeper) onTrace(entry trace.Entry) {
	e := entry
	k.fanOut(StreamEvent{Type: "trace", Trace: &e})
}

func (k *Keeper) fanOut(ev StreamEvent) {
	k.mu.Lock()
	subs := make([]chan StreamEvent, len(k.subs))
	copy(subs, k.subs)
	k.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns the live diagnostics stream. Slow consumers drop frames.
func (k *Keeper) Subscribe() <-chan StreamEvent {
	ch := make(chan StreamEvent, 32)
	k.mu.Lock()
	k.subs = append(k.subs, ch)
	k.mu.Unlock()
	return ch
}

// Status reports the current session state.
func (k *Keeper) Status() Status {
	k.mu.Lock()
	decision := k.bootDecision
	k.mu.Unlock()
	return Status{
		BootAt:           k.proc.BootAt(),
		InShell:          k.proc.InShell(),
		ExpectedTeardown: k.proc.ExpectedTeardown(),
		BootState:        decision.State.String(),
		RecoveryMode:     k.rec.RecoveryMode(),
		CrashWindow:      len(k.detector.Window()),
		Phase:            k.coordinator.Phase().String(),
		Fragment:         k.coordinator.Fragment(),
		PageURL:          k.bridge.PageURL(),
		SignedIn:         k.rec.SignedIn(),
		Restoring:        k.proc.Restoring(),
	}
}

// Route reports the boot resolution and the live snapshot.
func (k *Keeper) Route() RouteInfo {
	k.mu.Lock()
	out := k.bootOutcome
	k.mu.Unlock()
	saved, _ := k.rec.LastRoute()
	return RouteInfo{
		Location:   out.Location,
		Fragment:   k.coordinator.Fragment(),
		Action:     out.Action.String(),
		DeepLinked: out.DeepLinked,
		Restored:   out.Restored,
		WipedState: out.WipeState,
		SavedRoute: saved,
	}
}

// Traces returns the trace ring, oldest first.
func (k *Keeper) Traces() []trace.Entry {
	return k.recorder.Snapshot()
}

// Reports returns the persisted error reports, oldest first.
func (k *Keeper) Reports() []faults.Report {
	return k.interceptor.Reports()
}

// LatestReport returns the most recent error report.
func (k *Keeper) LatestReport() (faults.Report, bool) {
	return k.interceptor.Latest()
}

// Lifecycle injects one native-shell lifecycle signal and returns the
// resulting phase.
func (k *Keeper) Lifecycle(ctx context.Context, sig lifecycle.Signal) string {
	switch sig {
	case lifecycle.SignalHidden:
		k.setVisibility(trace.Hidden)
	case lifecycle.SignalVisible:
		k.setVisibility(trace.Visible)
	}
	k.coordinator.HandleSignal(ctx, sig)
	return k.coordinator.Phase().String()
}

// TriggerRecovery performs a manual cache wipe and reload.
func (k *Keeper) TriggerRecovery(ctx context.Context) error {
	k.rec.ClearCrashTimes()
	k.recorder.Record("recovery.manual", nil)
	if k.notifier != nil {
		k.notifier.ManualRecovery(ctx)
	}
	return k.clearCachesAndReload(ctx)
}

func (k *Keeper) clearCachesAndReload(ctx context.Context) error {
	k.rec.WipeCaches()
	if err := k.bridge.ClearOfflineCaches(ctx); err != nil {
		return err
	}
	return k.bridge.Reload(ctx)
}

func (k *Keeper) setVisibility(vis trace.Visibility) {
	k.mu.Lock()
	k.visibility = vis
	k.mu.Unlock()
}

// traceContext stamps trace entries without blocking on the page: the
// location comes from the bridge's cached URL and visibility from the last
// observed signal.
func (k *Keeper) traceContext() (string, trace.Visibility) {
	k.mu.Lock()
	vis := k.visibility
	k.mu.Unlock()
	return k.bridge.PageURL(), vis
}

// pageContext snapshots the page for an error report, degrading to the
// cached URL when the page cannot answer.
func (k *Keeper) pageContext(ctx context.Context) faults.PageContext {
	pc, err := k.bridge.PageContext(ctx)
	if err != nil {
		slog.Debug("session page context read failed", "error", err)
		k.mu.Lock()
		vis := k.visibility
		k.mu.Unlock()
		return faults.PageContext{URL: k.bridge.PageURL(), Visibility: vis}
	}
	return pc
}

// overlayPresenter injects the overlay through the bridge and tells the
// operator channel a user is looking at it.
type overlayPresenter struct {
	k *Keeper
}

func (o overlayPresenter) ShowOverlay(ctx context.Context, html string) error {
	if err := o.k.bridge.ShowOverlay(ctx, html); err != nil {
		return err
	}
	if o.k.notifier != nil {
		msg := "page fault"
		if latest, ok := o.k.interceptor.Latest(); ok {
			msg = latest.Message
		}
		o.k.notifier.OverlayShown(ctx, msg)
	}
	return nil
}

func fragmentOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Fragment
}
