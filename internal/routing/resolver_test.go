package routing

import (
	"strings"
	"testing"
	"time"
)

var resolveNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestResolveDeepLinkConversion(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		fragment string
		location string
	}{
		{"book detail", "https://host/book/42", "/book/42", "https://host/#/book/42"},
		{"item reader", "https://host/read/42", "/read/42", "https://host/#/read/42"},
		{"playlist detail", "https://host/playlist/7", "/playlist/7", "https://host/#/playlist/7"},
		{"playlist playback", "https://host/playlist/7/play/2", "/playlist/7/play/2", "https://host/#/playlist/7/play/2"},
		{"legacy share form one", "https://host/shared-playlist/7", "/playlist/7", "https://host/#/playlist/7"},
		{"legacy share form two", "https://host/playlist-share/7", "/playlist/7", "https://host/#/playlist/7"},
		{"short share s", "https://host/s/abc123", "/s/abc123", "https://host/#/s/abc123"},
		{"short share l", "https://host/l/abc123", "/l/abc123", "https://host/#/l/abc123"},
		{"lesson detail", "https://host/lesson/9", "/lesson/9", "https://host/#/lesson/9"},
		{"lessons index", "https://host/lessons", "/lessons", "https://host/#/lessons"},
		{"bare destination", "https://host/paywall", "/paywall", "https://host/#/paywall"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Resolve(tt.raw, Input{Now: resolveNow})
			if !out.DeepLinked {
				t.Fatalf("Resolve(%q) DeepLinked = false, want true", tt.raw)
			}
			if out.Fragment != tt.fragment {
				t.Fatalf("Resolve(%q) fragment = %q, want %q", tt.raw, out.Fragment, tt.fragment)
			}
			if out.Location != tt.location {
				t.Fatalf("Resolve(%q) location = %q, want %q", tt.raw, out.Location, tt.location)
			}
			if out.Action != ActionReplace {
				t.Fatalf("Resolve(%q) action = %v, want replace", tt.raw, out.Action)
			}
		})
	}
}

func TestResolveDeepLinkIdempotent(t *testing.T) {
	first := Resolve("https://host/book/42?chapter=3", Input{Now: resolveNow})
	second := Resolve(first.Location, Input{Now: resolveNow})

	if second.Location != first.Location {
		t.Fatalf("second pass location = %q, want %q", second.Location, first.Location)
	}
	if second.DeepLinked {
		t.Fatalf("second pass reported a fresh deep-link conversion")
	}
	if !strings.Contains(second.Location, "chapter=3") {
		t.Fatalf("query data lost across passes: %q", second.Location)
	}
}

func TestResolveDeepLinkDoesNotClobberExistingFragment(t *testing.T) {
	out := Resolve("https://host/book/42#/lesson/9", Input{Now: resolveNow})
	if out.Fragment != "/lesson/9" {
		t.Fatalf("fragment = %q, want the pre-existing /lesson/9", out.Fragment)
	}
	if out.DeepLinked {
		t.Fatalf("conversion fired despite an existing fragment route")
	}
}

func TestResolveUnrecognizedPathLeftAlone(t *testing.T) {
	out := Resolve("https://host/totally/unknown/path", Input{Now: resolveNow})
	if out.DeepLinked {
		t.Fatalf("unknown path was deep-link converted")
	}
	if !strings.Contains(out.Location, "/totally/unknown/path") {
		t.Fatalf("unknown path rewritten: %q", out.Location)
	}
	if out.Fragment != DefaultLanding {
		t.Fatalf("fragment = %q, want default landing", out.Fragment)
	}
}

func TestResolveLogout(t *testing.T) {
	out := Resolve("https://host/book/42?logout=1&utm_source=push", Input{Now: resolveNow})

	if !out.WipeState {
		t.Fatalf("WipeState = false, want true")
	}
	if out.Action != ActionReload {
		t.Fatalf("action = %v, want reload", out.Action)
	}
	if out.Fragment != DefaultLanding {
		t.Fatalf("fragment = %q, want default landing", out.Fragment)
	}
	if strings.Contains(out.Location, "logout") {
		t.Fatalf("logout parameter survived: %q", out.Location)
	}
	// Logout terminates the resolver early: the deep link must not win.
	if out.DeepLinked {
		t.Fatalf("deep link converted on the logout path")
	}
}

func TestResolveTrackingParamsStripped(t *testing.T) {
	out := Resolve("https://host/?utm_source=push&utm_campaign=x&pn_id=9&af_link=z&chapter=3", Input{Now: resolveNow})

	for _, leaked := range []string{"utm_source", "utm_campaign", "pn_id", "af_link"} {
		if strings.Contains(out.Location, leaked) {
			t.Fatalf("tracking parameter %q survived: %q", leaked, out.Location)
		}
	}
	if !strings.Contains(out.Location, "chapter=3") {
		t.Fatalf("legitimate parameter stripped: %q", out.Location)
	}
}

func TestResolveBackgroundRestoration(t *testing.T) {
	in := Input{
		SavedRoute:   "/home",
		LastHiddenAt: resolveNow.Add(-3 * time.Second),
		Now:          resolveNow,
		RestoreGrace: 10 * time.Second,
	}
	out := Resolve("https://host/", in)
	if !out.Restored {
		t.Fatalf("Restored = false, want true")
	}
	if out.Fragment != "/home" {
		t.Fatalf("fragment = %q, want /home", out.Fragment)
	}
}

func TestResolveRestorationSkippedWhenStale(t *testing.T) {
	in := Input{
		SavedRoute:   "/home",
		LastHiddenAt: resolveNow.Add(-time.Hour),
		Now:          resolveNow,
		RestoreGrace: 10 * time.Second,
	}
	out := Resolve("https://host/", in)
	if out.Restored {
		t.Fatalf("stale background timestamp still restored the snapshot")
	}
	if out.Fragment != DefaultLanding {
		t.Fatalf("fragment = %q, want default landing", out.Fragment)
	}
}

func TestResolveDeepLinkBeatsRestoration(t *testing.T) {
	in := Input{
		SavedRoute:   "/home",
		LastHiddenAt: resolveNow.Add(-time.Second),
		Now:          resolveNow,
		RestoreGrace: 10 * time.Second,
	}
	out := Resolve("https://host/book/42", in)
	if !out.DeepLinked || out.Restored {
		t.Fatalf("DeepLinked=%v Restored=%v, want true/false", out.DeepLinked, out.Restored)
	}
	if out.Fragment != "/book/42" {
		t.Fatalf("fragment = %q, want /book/42", out.Fragment)
	}
}

func TestResolveFragmentHygiene(t *testing.T) {
	tests := []struct {
		raw      string
		fragment string
	}{
		{"https://host/", "/"},
		{"https://host/#", "/"},
		{"https://host/#/", "/"},
		{"https://host/#/book/42/", "/book/42"},
		{"https://host/#book/42", "/book/42"},
	}
	for _, tt := range tests {
		out := Resolve(tt.raw, Input{Now: resolveNow})
		if out.Fragment != tt.fragment {
			t.Fatalf("Resolve(%q) fragment = %q, want %q", tt.raw, out.Fragment, tt.fragment)
		}
	}
}

func TestResolveFailsClosedOnGarbage(t *testing.T) {
	for _, raw := range []string{"", "://missing-scheme", "not a url at all", "%%%"} {
		out := Resolve(raw, Input{Now: resolveNow})
		if out.Fragment != DefaultLanding {
			t.Fatalf("Resolve(%q) fragment = %q, want default landing", raw, out.Fragment)
		}
		if out.Action != ActionReplace {
			t.Fatalf("Resolve(%q) action = %v, want replace", raw, out.Action)
		}
	}
}

func TestResolveAlwaysTerminatesInGrammar(t *testing.T) {
	inputs := []string{
		"https://host/book/42",
		"https://host/unknown",
		"https://host/?utm_source=x",
		"https://host/#/game?session=abc",
		"",
		"https://host/playlist/1/play/9",
	}
	for _, raw := range inputs {
		out := Resolve(raw, Input{Now: resolveNow})
		base := out.Fragment
		if i := strings.IndexAny(base, "?"); i >= 0 {
			base = base[:i]
		}
		if base != DefaultLanding && !IsKnown(base) && !strings.HasPrefix(base, "/game") {
			// Unrecognized fragments are allowed to pass through to the
			// router's not-found handling, but never empty or unparsable.
			if base == "" || !strings.HasPrefix(base, "/") {
				t.Fatalf("Resolve(%q) produced unusable fragment %q", raw, out.Fragment)
			}
		}
	}
}

func TestIsRestorable(t *testing.T) {
	tests := []struct {
		fragment string
		want     bool
	}{
		{"/home", true},
		{"/book/42", true},
		{"/game", false},
		{"/game/session", false},
		{"/game?session=abc&seed=1", false},
		{"/giving", true},
	}
	for _, tt := range tests {
		if got := IsRestorable(tt.fragment); got != tt.want {
			t.Fatalf("IsRestorable(%q) = %v, want %v", tt.fragment, got, tt.want)
		}
	}
}

func TestIsKnown(t *testing.T) {
	for _, frag := range []string{"/", "/home", "/book/42", "/playlist/7/play/2", "/s/abc", "/lessons", "/giving"} {
		if !IsKnown(frag) {
			t.Fatalf("IsKnown(%q) = false, want true", frag)
		}
	}
	for _, frag := range []string{"/nope", "/book", "/playlist/7/play", "/x/y/z"} {
		if IsKnown(frag) {
			t.Fatalf("IsKnown(%q) = true, want false", frag)
		}
	}
}
