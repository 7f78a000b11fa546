// Package trace keeps a bounded, append-only ring of lifecycle events in
// persistent storage so a later error report can answer "what high-level
// steps led here". Recording is best-effort and must never be the cause of
// a failure itself.
package trace

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/godlykids/shellkeeper/internal/store"
)

// Visibility mirrors the page's document.visibilityState.
type Visibility string

const (
	Visible Visibility = "visible"
	Hidden  Visibility = "hidden"
)

// Entry is one recorded lifecycle event. Immutable once appended.
type Entry struct {
	Event      string         `json:"event"`
	Data       map[string]any `json:"data,omitempty"`
	Location   string         `json:"location"`
	Visibility Visibility     `json:"visibility"`
	At         time.Time      `json:"at"`
}

// ContextFunc supplies the location and visibility snapshot stamped onto
// each entry. It must not block.
type ContextFunc func() (location string, vis Visibility)

// Observer is invoked synchronously after each successful append. Used by
// the diagnostics stream.
type Observer func(Entry)

// Recorder appends entries to the persisted ring, rotating out the oldest
// entries beyond capacity.
type Recorder struct {
	kv       store.KV
	capacity int
	pageCtx  ContextFunc
	now      func() time.Time

	mu       sync.Mutex
	observer Observer
}

// NewRecorder builds a Recorder over kv with the given ring capacity.
func NewRecorder(kv store.KV, capacity int, pageCtx ContextFunc) *Recorder {
	if capacity <= 0 {
		capacity = 60
	}
	return &Recorder{kv: kv, capacity: capacity, pageCtx: pageCtx, now: time.Now}
}

// SetObserver registers the single observer notified on each append.
func (r *Recorder) SetObserver(fn Observer) {
	r.mu.Lock()
	r.observer = fn
	r.mu.Unlock()
}

// Record appends one entry. The read-modify-write of the ring holds the
// recorder lock for its full duration so entries never interleave. Every
// failure mode (missing store, corrupt ring, serialization error) degrades
// to dropping the entry.
func (r *Recorder) Record(event string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var location string
	vis := Visible
	if r.pageCtx != nil {
		location, vis = r.pageCtx()
	}

	entry := Entry{
		Event:      event,
		Data:       data,
		Location:   location,
		Visibility: vis,
		At:         r.now().UTC(),
	}

	ring := r.readLocked()
	ring = append(ring, entry)
	if len(ring) > r.capacity {
		ring = ring[len(ring)-r.capacity:]
	}

	payload, err := json.Marshal(ring)
	if err != nil {
		slog.Debug("trace ring marshal failed", "event", event, "error", err)
		return
	}
	if !r.kv.Set(store.KeyTraceRing, string(payload)) {
		return
	}
	if r.observer != nil {
		r.observer(entry)
	}
}

// Snapshot returns the current ring contents, oldest first.
func (r *Recorder) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readLocked()
}

func (r *Recorder) readLocked() []Entry {
	raw, ok := r.kv.Get(store.KeyTraceRing)
	if !ok {
		return nil
	}
	var ring []Entry
	if err := json.Unmarshal([]byte(raw), &ring); err != nil {
		slog.Debug("trace ring corrupt, starting fresh", "error", err)
		return nil
	}
	return ring
}
