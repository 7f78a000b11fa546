package store

import (
	"encoding/json"
	"log/slog"
	"time"
)

// Persisted key names. Components that own a structured record (trace ring,
// error reports) serialize it themselves against these keys; Records covers
// the scalar lifecycle records so the data model is enforced at one boundary
// instead of by convention at each call site.
const (
	KeyLastHiddenAt = "lifecycle:last-hidden-at"
	KeyLastRoute    = "route:last-known"
	KeyCrashTimes   = "crash:timestamps"
	KeyRecoveryMode = "crash:recovery-mode"
	KeyTraceRing    = "trace:ring"
	KeyErrorReports = "errors:reports"
	KeySignedIn     = "auth:signed-in"
)

// CacheKeys is the fixed enumerated subset of persisted keys wiped when
// crash-loop recovery triggers. Deliberately not "all keys": auth and the
// lifecycle records survive recovery.
var CacheKeys = []string{
	"cache:books",
	"cache:playlists",
	"cache:lessons",
	"cache:profile",
	"cache:progress",
}

// Records wraps the raw store with one typed accessor per logical record.
type Records struct {
	kv KV
}

// NewRecords wraps kv.
func NewRecords(kv KV) *Records {
	return &Records{kv: kv}
}

// LastHiddenAt returns the most recent "became hidden" timestamp.
func (r *Records) LastHiddenAt() (time.Time, bool) {
	return r.getTime(KeyLastHiddenAt)
}

// SetLastHiddenAt records when the page became hidden.
func (r *Records) SetLastHiddenAt(t time.Time) {
	r.kv.Set(KeyLastHiddenAt, t.UTC().Format(time.RFC3339Nano))
}

// ClearLastHiddenAt removes the hidden timestamp.
func (r *Records) ClearLastHiddenAt() {
	r.kv.Remove(KeyLastHiddenAt)
}

// LastRoute returns the saved route snapshot, if any.
func (r *Records) LastRoute() (string, bool) {
	return r.kv.Get(KeyLastRoute)
}

// SetLastRoute overwrites the route snapshot.
func (r *Records) SetLastRoute(route string) {
	r.kv.Set(KeyLastRoute, route)
}

// ClearLastRoute removes the route snapshot. Used instead of saving when the
// current route is not restorable.
func (r *Records) ClearLastRoute() {
	r.kv.Remove(KeyLastRoute)
}

// CrashTimes returns the recorded crash timestamps, oldest first.
func (r *Records) CrashTimes() []time.Time {
	raw, ok := r.kv.Get(KeyCrashTimes)
	if !ok {
		return nil
	}
	var stamps []time.Time
	if err := json.Unmarshal([]byte(raw), &stamps); err != nil {
		slog.Debug("records crash times corrupt, resetting", "error", err)
		r.kv.Remove(KeyCrashTimes)
		return nil
	}
	return stamps
}

// SetCrashTimes replaces the crash timestamp window.
func (r *Records) SetCrashTimes(stamps []time.Time) {
	if len(stamps) == 0 {
		r.kv.Remove(KeyCrashTimes)
		return
	}
	data, err := json.Marshal(stamps)
	if err != nil {
		slog.Debug("records crash times marshal failed", "error", err)
		return
	}
	r.kv.Set(KeyCrashTimes, string(data))
}

// AppendCrashTime appends t, keeping only the newest max stamps.
func (r *Records) AppendCrashTime(t time.Time, max int) {
	stamps := append(r.CrashTimes(), t.UTC())
	if max > 0 && len(stamps) > max {
		stamps = stamps[len(stamps)-max:]
	}
	r.SetCrashTimes(stamps)
}

// ClearCrashTimes empties the crash window.
func (r *Records) ClearCrashTimes() {
	r.kv.Remove(KeyCrashTimes)
}

// RecoveryMode reports whether the last boot entered recovery.
func (r *Records) RecoveryMode() bool {
	v, ok := r.kv.Get(KeyRecoveryMode)
	return ok && v == "1"
}

// SetRecoveryMode flips the recovery flag.
func (r *Records) SetRecoveryMode(on bool) {
	if on {
		r.kv.Set(KeyRecoveryMode, "1")
		return
	}
	r.kv.Remove(KeyRecoveryMode)
}

// SignedIn reports whether the app last persisted an authenticated session.
// The value is written by the app itself; it is treated as opaque here.
func (r *Records) SignedIn() bool {
	v, ok := r.kv.Get(KeySignedIn)
	return ok && v == "1"
}

// SetSignedIn records the authenticated flag (used by tests and the API).
func (r *Records) SetSignedIn(on bool) {
	if on {
		r.kv.Set(KeySignedIn, "1")
		return
	}
	r.kv.Remove(KeySignedIn)
}

// WipeCaches removes the enumerated feature cache keys.
func (r *Records) WipeCaches() {
	for _, k := range CacheKeys {
		r.kv.Remove(k)
	}
}

func (r *Records) getTime(key string) (time.Time, bool) {
	raw, ok := r.kv.Get(key)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		slog.Debug("records timestamp corrupt", "key", key, "error", err)
		r.kv.Remove(key)
		return time.Time{}, false
	}
	return t, true
}
