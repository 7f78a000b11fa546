package lifecycle

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/godlykids/shellkeeper/internal/routing"
	"github.com/godlykids/shellkeeper/internal/store"
	"github.com/godlykids/shellkeeper/internal/trace"
)

// Phase of the coordinator state machine.
type Phase int

const (
	// Active means the page is foregrounded and interactive.
	Active Phase = iota
	// Backgrounded means the host hid the page; the route snapshot and
	// hidden timestamp are persisted.
	Backgrounded
	// Restoring means a focus restoration is in flight.
	Restoring
)

func (p Phase) String() string {
	switch p {
	case Backgrounded:
		return "backgrounded"
	case Restoring:
		return "restoring"
	default:
		return "active"
	}
}

// Signal is one raw lifecycle signal from the page or the native shell.
type Signal string

const (
	// SignalHidden is the page's visibilitychange to hidden. Applied
	// immediately.
	SignalHidden Signal = "hidden"
	// SignalVisible is the page's visibilitychange to visible. Applied
	// immediately.
	SignalVisible Signal = "visible"
	// SignalFocus is the raw window focus gain. Debounced.
	SignalFocus Signal = "focus"
	// SignalBlur is the raw window focus loss. Debounced with a longer
	// window, since transient system dialogs blur without backgrounding.
	SignalBlur Signal = "blur"
)

// ParseSignal validates a signal name from the control API.
func ParseSignal(s string) (Signal, bool) {
	switch Signal(s) {
	case SignalHidden, SignalVisible, SignalFocus, SignalBlur:
		return Signal(s), true
	}
	return "", false
}

// Event names emitted to subscribers.
const (
	EventBackgrounded    = "backgrounded"
	EventFocusRestored   = "focus-restored"
	EventRestoreComplete = "restore-complete"
)

// Event is one lifecycle transition delivered to subscribers.
type Event struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data,omitempty"`
	At   time.Time      `json:"at"`
}

// PageControl is the slice of the bridge the coordinator needs to read and
// rewrite the live location.
type PageControl interface {
	Location(ctx context.Context) (string, error)
	ReplaceLocation(ctx context.Context, location string) error
}

// Config carries the coordinator timing policy.
type Config struct {
	// FocusGainDebounce delays acting on a raw focus signal.
	FocusGainDebounce time.Duration
	// FocusLossDebounce delays acting on a raw blur signal.
	FocusLossDebounce time.Duration
	// SettleDelay is how long the page gets to settle after resume before
	// its location is read or rewritten.
	SettleDelay time.Duration
}

// Coordinator runs the Active / Backgrounded / Restoring state machine.
type Coordinator struct {
	base     context.Context
	rec      *store.Records
	recorder *trace.Recorder
	proc     *ProcessState
	page     PageControl
	cfg      Config
	now      func() time.Time

	mu        sync.Mutex
	phase     Phase
	fragment  string
	gainTimer *time.Timer
	lossTimer *time.Timer
	subs      []chan Event
}

// NewCoordinator builds a coordinator in the Active phase. ctx bounds the
// coordinator's background restorations and must outlive it; a restoration
// triggered by a short-lived caller (an HTTP signal delivery, a debounce
// timer) keeps running after that caller is gone.
func NewCoordinator(ctx context.Context, rec *store.Records, recorder *trace.Recorder, proc *ProcessState, page PageControl, cfg Config) *Coordinator {
	return &Coordinator{
		base:     ctx,
		rec:      rec,
		recorder: recorder,
		proc:     proc,
		page:     page,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Phase returns the current state machine phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Fragment returns the last route fragment reported by the page.
func (c *Coordinator) Fragment() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fragment
}

// Subscribe returns a channel of lifecycle events. Delivery is best-effort:
// a slow subscriber drops events instead of stalling the coordinator.
func (c *Coordinator) Subscribe() <-chan Event {
	ch := make(chan Event, 16)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}

// HandleSignal feeds one raw lifecycle signal through the debounce policy.
// Visibility signals act immediately; raw focus signals arm a timer, and
// re-arming replaces the prior timer so only the settled state acts. ctx
// scopes only the synchronous handling: a restoration started here runs on
// the coordinator's own lifetime context, so cancelling the signal's context
// (the control API cancels it as soon as the handler returns) cannot abort
// an in-flight restore.
func (c *Coordinator) HandleSignal(ctx context.Context, sig Signal) {
	slog.Debug("lifecycle signal", "signal", sig, "phase", c.Phase().String())
	switch sig {
	case SignalHidden:
		c.stopTimers()
		c.background(c.now().UTC())
	case SignalVisible:
		c.stopTimers()
		c.beginRestore()
	case SignalBlur:
		c.mu.Lock()
		if c.gainTimer != nil {
			c.gainTimer.Stop()
			c.gainTimer = nil
		}
		if c.lossTimer != nil {
			c.lossTimer.Stop()
		}
		c.lossTimer = time.AfterFunc(c.cfg.FocusLossDebounce, func() {
			c.background(c.now().UTC())
		})
		c.mu.Unlock()
	case SignalFocus:
		c.mu.Lock()
		if c.lossTimer != nil {
			c.lossTimer.Stop()
			c.lossTimer = nil
		}
		if c.gainTimer != nil {
			c.gainTimer.Stop()
		}
		c.gainTimer = time.AfterFunc(c.cfg.FocusGainDebounce, func() {
			c.beginRestore()
		})
		c.mu.Unlock()
	}
}

// RouteChanged keeps the persisted route snapshot current as the user
// navigates. Notifications arriving while a restoration is in flight are the
// restoration's own rewrites and are ignored.
func (c *Coordinator) RouteChanged(fragment string) {
	c.mu.Lock()
	if c.phase == Restoring {
		c.mu.Unlock()
		return
	}
	c.fragment = fragment
	c.mu.Unlock()

	if routing.IsRestorable(fragment) {
		c.rec.SetLastRoute(fragment)
	} else {
		c.rec.ClearLastRoute()
	}
}

func (c *Coordinator) stopTimers() {
	c.mu.Lock()
	if c.gainTimer != nil {
		c.gainTimer.Stop()
		c.gainTimer = nil
	}
	if c.lossTimer != nil {
		c.lossTimer.Stop()
		c.lossTimer = nil
	}
	c.mu.Unlock()
}

// background records the hidden timestamp and snapshots the current route so
// a later resume, or a full host teardown and cold boot, can land back here.
func (c *Coordinator) background(at time.Time) {
	c.mu.Lock()
	if c.phase == Backgrounded {
		c.mu.Unlock()
		return
	}
	c.phase = Backgrounded
	frag := c.fragment
	c.mu.Unlock()

	c.rec.SetLastHiddenAt(at)
	if frag != "" && routing.IsRestorable(frag) {
		c.rec.SetLastRoute(frag)
	} else {
		c.rec.ClearLastRoute()
	}

	slog.Info("lifecycle backgrounded", "route", frag)
	c.recorder.Record("lifecycle.backgrounded", map[string]any{"route": frag})
	c.emit(EventBackgrounded, map[string]any{"route": frag})
}

// beginRestore transitions to Restoring synchronously, then completes the
// restoration on its own goroutine so signal delivery never blocks on the
// settle delay.
func (c *Coordinator) beginRestore() {
	c.mu.Lock()
	if c.phase != Backgrounded {
		c.mu.Unlock()
		return
	}
	c.phase = Restoring
	c.mu.Unlock()

	c.proc.SetRestoring(true)
	go c.finishRestore()
}

func (c *Coordinator) finishRestore() {
	defer c.proc.SetRestoring(false)

	hiddenAt, _ := c.rec.LastHiddenAt()

	// Give the page time to settle before touching its location. Only the
	// coordinator's own shutdown aborts the restore.
	select {
	case <-c.base.Done():
		c.mu.Lock()
		c.phase = Active
		c.mu.Unlock()
		return
	case <-time.After(c.cfg.SettleDelay):
	}

	target := routing.DefaultLanding
	if c.rec.SignedIn() {
		if saved, ok := c.rec.LastRoute(); ok && routing.IsRestorable(saved) {
			target = saved
		}
	}

	applied := target
	raw, err := c.page.Location(c.base)
	if err != nil {
		slog.Debug("lifecycle live location read failed", "error", err)
	} else {
		live := fragmentOf(raw)
		if live != "" && live != routing.DefaultLanding {
			// The page resumed somewhere meaningful; leave it alone.
			applied = live
		} else if target != live {
			if err := c.page.ReplaceLocation(c.base, withFragment(raw, target)); err != nil {
				slog.Debug("lifecycle location replace failed", "error", err)
			}
		}
	}

	c.rec.ClearLastHiddenAt()

	c.mu.Lock()
	c.phase = Active
	c.fragment = applied
	c.mu.Unlock()

	slog.Info("lifecycle focus restored", "route", applied, "hidden_at", hiddenAt)
	c.recorder.Record("lifecycle.focus-restored", map[string]any{
		"route":     applied,
		"hidden_at": hiddenAt,
	})
	c.emit(EventFocusRestored, map[string]any{"route": applied, "hidden_at": hiddenAt})
	c.emit(EventRestoreComplete, nil)
}

func (c *Coordinator) emit(name string, data map[string]any) {
	ev := Event{Name: name, Data: data, At: c.now().UTC()}
	c.mu.Lock()
	subs := make([]chan Event, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// fragmentOf extracts the fragment route of a full location, empty when the
// location is unparsable or carries none.
func fragmentOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Fragment
}

// withFragment rewrites the fragment of a full location, falling back to a
// bare fragment location when raw is unparsable.
func withFragment(raw, frag string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "/#" + frag
	}
	u.Fragment = frag
	return u.String()
}
