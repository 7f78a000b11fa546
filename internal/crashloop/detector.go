// Package crashloop decides, once per boot, whether the app is crash-looping
// and must shed suspect cached state, or whether the recent history of
// faults is explained by a benign host-initiated teardown.
package crashloop

import (
	"log/slog"
	"time"

	"github.com/godlykids/shellkeeper/internal/store"
	"github.com/godlykids/shellkeeper/internal/trace"
)

// State of the boot-time evaluation.
type State int

const (
	// Idle means Evaluate has not run yet.
	Idle State = iota
	// Evaluating is the transient in-progress state.
	Evaluating
	// Clean means the boot was judged healthy.
	Clean
	// RecoveryTriggered means suspect caches were wiped this boot.
	RecoveryTriggered
)

func (s State) String() string {
	switch s {
	case Evaluating:
		return "evaluating"
	case Clean:
		return "clean"
	case RecoveryTriggered:
		return "recovery-triggered"
	default:
		return "idle"
	}
}

// Config carries the empirically tuned policy values.
type Config struct {
	// WindowSpan is the rolling window crash timestamps are pruned to.
	WindowSpan time.Duration
	// Threshold is the crash count that triggers recovery.
	Threshold int
	// ShellThreshold replaces Threshold inside the host shell, which
	// produces extra false positives.
	ShellThreshold int
	// TeardownGrace classifies a boot as an expected host teardown when the
	// last hidden timestamp is at most this old.
	TeardownGrace time.Duration
	// StampCap bounds the persisted window at write time.
	StampCap int
}

// Decision is the outcome of the once-per-boot evaluation.
type Decision struct {
	State            State
	CrashCount       int
	ExpectedTeardown bool
}

// Detector owns the crash timestamp window. It is fed by the error
// interceptor at runtime and consulted exactly once per boot.
type Detector struct {
	rec      *store.Records
	recorder *trace.Recorder
	cfg      Config
	inShell  bool
	now      func() time.Time

	state State
}

// NewDetector builds a detector over the persisted records.
func NewDetector(rec *store.Records, recorder *trace.Recorder, cfg Config, inShell bool) *Detector {
	return &Detector{rec: rec, recorder: recorder, cfg: cfg, inShell: inShell, now: time.Now}
}

// State returns the detector state after (or before) evaluation.
func (d *Detector) State() State {
	return d.state
}

// Evaluate runs the boot decision. It prunes the window, classifies an
// expected teardown, and either triggers recovery or records a clean boot.
// Re-running after the first call returns the prior decision unchanged.
func (d *Detector) Evaluate() Decision {
	if d.state != Idle {
		return Decision{State: d.state}
	}
	d.state = Evaluating

	now := d.now()
	window := d.prune(now)

	// Backgrounding the webview can recreate the whole process. A hidden
	// timestamp inside the grace window means this boot is the host
	// rebuilding us, not the app crashing.
	if d.inShell {
		if hiddenAt, ok := d.rec.LastHiddenAt(); ok && now.Sub(hiddenAt) <= d.cfg.TeardownGrace {
			d.rec.ClearCrashTimes()
			d.rec.SetRecoveryMode(false)
			d.state = Clean
			slog.Info("crashloop boot classified as expected teardown",
				"hidden_age_ms", now.Sub(hiddenAt).Milliseconds(), "cleared", len(window))
			d.recorder.Record("crashloop.expected-teardown", map[string]any{"cleared": len(window)})
			return Decision{State: Clean, ExpectedTeardown: true}
		}
	}

	threshold := d.cfg.Threshold
	if d.inShell {
		threshold = d.cfg.ShellThreshold
	}

	if threshold > 0 && len(window) >= threshold {
		d.rec.WipeCaches()
		d.rec.ClearCrashTimes()
		d.rec.SetRecoveryMode(true)
		d.state = RecoveryTriggered
		slog.Warn("crashloop recovery triggered", "crash_count", len(window), "threshold", threshold)
		d.recorder.Record("crashloop.recovery-triggered", map[string]any{
			"crash_count": len(window),
			"threshold":   threshold,
		})
		return Decision{State: RecoveryTriggered, CrashCount: len(window)}
	}

	d.state = Clean
	d.rec.SetRecoveryMode(false)
	slog.Debug("crashloop boot clean", "crash_count", len(window), "threshold", threshold)
	return Decision{State: Clean, CrashCount: len(window)}
}

// RecordCrash appends a crash timestamp to the bounded window. Called by
// the error interceptor for every qualifying fault.
func (d *Detector) RecordCrash(at time.Time) {
	d.rec.AppendCrashTime(at, d.cfg.StampCap)
}

// Window returns the pruned crash window as of now.
func (d *Detector) Window() []time.Time {
	return d.prune(d.now())
}

// prune drops stamps outside the rolling window and persists the trimmed
// set when anything was dropped.
func (d *Detector) prune(now time.Time) []time.Time {
	stamps := d.rec.CrashTimes()
	cutoff := now.Add(-d.cfg.WindowSpan)
	kept := stamps[:0:0]
	for _, s := range stamps {
		if !s.Before(cutoff) && !s.After(now) {
			kept = append(kept, s)
		}
	}
	if len(kept) != len(stamps) {
		d.rec.SetCrashTimes(kept)
	}
	return kept
}
