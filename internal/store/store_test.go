package store

import (
	"testing"
	"time"
)

func TestGetSetRemove(t *testing.T) {
	s := OpenMemory(t)

	if _, ok := s.Get("missing"); ok {
		t.Fatalf("Get(missing) reported present")
	}
	if !s.Set("k", "v1") {
		t.Fatalf("Set(k, v1) failed")
	}
	if got, ok := s.Get("k"); !ok || got != "v1" {
		t.Fatalf("Get(k) = %q, %v; want v1, true", got, ok)
	}
	if !s.Set("k", "v2") {
		t.Fatalf("Set(k, v2) failed")
	}
	if got, _ := s.Get("k"); got != "v2" {
		t.Fatalf("Get(k) after overwrite = %q, want v2", got)
	}
	if !s.Remove("k") {
		t.Fatalf("Remove(k) failed")
	}
	if _, ok := s.Get("k"); ok {
		t.Fatalf("Get(k) after Remove reported present")
	}
	// Removing an absent key is still a success.
	if !s.Remove("k") {
		t.Fatalf("Remove of absent key failed")
	}
}

func TestRemovePrefixAndClear(t *testing.T) {
	s := OpenMemory(t)
	s.Set("cache:books", "a")
	s.Set("cache:lessons", "b")
	s.Set("route:last-known", "/home")

	if !s.RemovePrefix("cache:") {
		t.Fatalf("RemovePrefix failed")
	}
	if keys := s.Keys(); len(keys) != 1 || keys[0] != "route:last-known" {
		t.Fatalf("Keys after RemovePrefix = %v, want [route:last-known]", keys)
	}

	if !s.Clear() {
		t.Fatalf("Clear failed")
	}
	if keys := s.Keys(); len(keys) != 0 {
		t.Fatalf("Keys after Clear = %v, want empty", keys)
	}
}

func TestRecordsTimestamps(t *testing.T) {
	rec := NewRecords(OpenMemory(t))

	if _, ok := rec.LastHiddenAt(); ok {
		t.Fatalf("LastHiddenAt on empty store reported present")
	}

	hidden := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	rec.SetLastHiddenAt(hidden)
	got, ok := rec.LastHiddenAt()
	if !ok || !got.Equal(hidden) {
		t.Fatalf("LastHiddenAt = %v, %v; want %v, true", got, ok, hidden)
	}

	rec.ClearLastHiddenAt()
	if _, ok := rec.LastHiddenAt(); ok {
		t.Fatalf("LastHiddenAt after clear reported present")
	}
}

func TestRecordsCorruptTimestampIsDropped(t *testing.T) {
	s := OpenMemory(t)
	rec := NewRecords(s)
	s.Set(KeyLastHiddenAt, "not-a-timestamp")

	if _, ok := rec.LastHiddenAt(); ok {
		t.Fatalf("corrupt timestamp reported present")
	}
	if _, ok := s.Get(KeyLastHiddenAt); ok {
		t.Fatalf("corrupt timestamp not removed")
	}
}

func TestRecordsCrashTimesBounded(t *testing.T) {
	rec := NewRecords(OpenMemory(t))
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 15; i++ {
		rec.AppendCrashTime(base.Add(time.Duration(i)*time.Second), 10)
	}

	stamps := rec.CrashTimes()
	if len(stamps) != 10 {
		t.Fatalf("CrashTimes length = %d, want 10", len(stamps))
	}
	if !stamps[0].Equal(base.Add(5 * time.Second)) {
		t.Fatalf("oldest stamp = %v, want %v (oldest evicted first)", stamps[0], base.Add(5*time.Second))
	}

	rec.ClearCrashTimes()
	if got := rec.CrashTimes(); len(got) != 0 {
		t.Fatalf("CrashTimes after clear = %v, want empty", got)
	}
}

func TestRecordsFlagsAndCaches(t *testing.T) {
	s := OpenMemory(t)
	rec := NewRecords(s)

	if rec.RecoveryMode() {
		t.Fatalf("RecoveryMode default = true, want false")
	}
	rec.SetRecoveryMode(true)
	if !rec.RecoveryMode() {
		t.Fatalf("RecoveryMode after set = false, want true")
	}
	rec.SetRecoveryMode(false)
	if rec.RecoveryMode() {
		t.Fatalf("RecoveryMode after unset = true, want false")
	}

	rec.SetSignedIn(true)
	if !rec.SignedIn() {
		t.Fatalf("SignedIn after set = false, want true")
	}

	for _, k := range CacheKeys {
		s.Set(k, "payload")
	}
	s.Set(KeySignedIn, "1")
	rec.WipeCaches()
	for _, k := range CacheKeys {
		if _, ok := s.Get(k); ok {
			t.Fatalf("cache key %q survived WipeCaches", k)
		}
	}
	if !rec.SignedIn() {
		t.Fatalf("WipeCaches removed the auth flag; recovery must not log the user out")
	}
}
