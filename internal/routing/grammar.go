// Package routing normalizes the page's navigable location at boot:
// deep-link conversion, logout handling, tracking-parameter stripping and
// background-snapshot restoration. The resolver is pure and synchronous;
// side effects (state wipes, reloads, history replacement) are applied by
// the session keeper from the returned outcome.
package routing

import "strings"

// DefaultLanding is the router's default landing fragment route.
const DefaultLanding = "/"

// LogoutParam is the query parameter whose presence triggers a full state
// wipe and reload.
const LogoutParam = "logout"

// TrackingPrefixes are query-parameter name prefixes injected by the
// push-notification and attribution integrations, stripped on every boot.
var TrackingPrefixes = []string{"utm_", "pn_", "af_"}

// bareDestinations are top-level destinations reachable as /name deep links.
var bareDestinations = map[string]bool{
	"home":       true,
	"listen":     true,
	"read":       true,
	"signin":     true,
	"onboarding": true,
	"paywall":    true,
	"library":    true,
	"settings":   true,
	"profile":    true,
	"giving":     true,
}

// nonRestorablePrefixes mark fragment routes whose query state cannot be
// reconstructed after a background cycle (e.g. an embedded game session).
var nonRestorablePrefixes = []string{"/game"}

// ConvertDeepLink maps a path-form deep link onto the router's fragment
// form. It reports false for unrecognized paths, which are left untouched
// and fall through to the router's not-found handling.
func ConvertDeepLink(path string) (string, bool) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "", false
	}
	seg := strings.Split(trimmed, "/")

	switch {
	case len(seg) == 1 && bareDestinations[seg[0]]:
		return "/" + seg[0], true
	case len(seg) == 1 && seg[0] == "lessons":
		return "/lessons", true
	case len(seg) == 2 && seg[0] == "book" && seg[1] != "":
		return "/book/" + seg[1], true
	case len(seg) == 2 && seg[0] == "read" && seg[1] != "":
		return "/read/" + seg[1], true
	case len(seg) == 2 && seg[0] == "playlist" && seg[1] != "":
		return "/playlist/" + seg[1], true
	case len(seg) == 4 && seg[0] == "playlist" && seg[2] == "play" && seg[1] != "" && seg[3] != "":
		return "/playlist/" + seg[1] + "/play/" + seg[3], true
	// Legacy playlist share links, both historical forms.
	case len(seg) == 2 && seg[0] == "shared-playlist" && seg[1] != "":
		return "/playlist/" + seg[1], true
	case len(seg) == 2 && seg[0] == "playlist-share" && seg[1] != "":
		return "/playlist/" + seg[1], true
	// Short-form share links keep their prefix; the router expands them.
	case len(seg) == 2 && seg[0] == "s" && seg[1] != "":
		return "/s/" + seg[1], true
	case len(seg) == 2 && seg[0] == "l" && seg[1] != "":
		return "/l/" + seg[1], true
	case len(seg) == 2 && seg[0] == "lesson" && seg[1] != "":
		return "/lesson/" + seg[1], true
	}
	return "", false
}

// IsKnown reports whether a fragment route is a member of the route grammar
// (or the default landing).
func IsKnown(fragment string) bool {
	if fragment == DefaultLanding {
		return true
	}
	_, ok := ConvertDeepLink(fragment)
	return ok
}

// IsRestorable reports whether a fragment route may be saved as a
// background snapshot. Non-restorable routes must clear the snapshot
// instead, so resume never lands on a broken location.
func IsRestorable(fragment string) bool {
	for _, p := range nonRestorablePrefixes {
		if fragment == p || strings.HasPrefix(fragment, p+"/") || strings.HasPrefix(fragment, p+"?") {
			return false
		}
	}
	return true
}
