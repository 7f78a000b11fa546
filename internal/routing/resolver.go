package routing

import (
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Action tells the session keeper how to apply an Outcome.
type Action int

const (
	// ActionNone leaves the location untouched.
	ActionNone Action = iota
	// ActionReplace applies the location via history.replaceState so host
	// back/forward semantics are preserved.
	ActionReplace
	// ActionReload applies the location and forces a full page reload.
	ActionReload
)

func (a Action) String() string {
	switch a {
	case ActionReplace:
		return "replace"
	case ActionReload:
		return "reload"
	default:
		return "none"
	}
}

// Input carries the persisted state the resolver consults.
type Input struct {
	// SavedRoute is the RouteSnapshot from the last background cycle, empty
	// when none was saved.
	SavedRoute string
	// LastHiddenAt is when the page last became hidden; zero when unknown.
	LastHiddenAt time.Time
	// Now is the resolution instant.
	Now time.Time
	// RestoreGrace bounds how old a background timestamp may be for the
	// snapshot to be restored at boot.
	RestoreGrace time.Duration
}

// Outcome is the single normalized location the resolver produces.
type Outcome struct {
	// Location is the full location to apply.
	Location string
	// Fragment is the final fragment route (leading slash, no "#").
	Fragment string
	// Action is how the keeper must apply Location.
	Action Action
	// WipeState demands erasing all persisted application state before the
	// reload (logout).
	WipeState bool
	// DeepLinked reports that a path-form deep link was converted.
	DeepLinked bool
	// Restored reports that the background snapshot was applied.
	Restored bool
}

// Resolve normalizes the raw process-start location. It runs to completion
// synchronously, never returns an error, and fails closed to the default
// landing route on unparsable input.
//
// Priority order: logout wipe, deep-link conversion, tracking-parameter
// stripping, background-snapshot restoration, fragment hygiene. Logout
// terminates resolution early; a deep link converted in this pass blocks
// snapshot restoration in the same pass.
func Resolve(raw string, in Input) Outcome {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		slog.Warn("route resolve failed closed", "raw", raw, "error", err)
		return Outcome{Location: "/#" + DefaultLanding, Fragment: DefaultLanding, Action: ActionReplace}
	}

	q := u.Query()

	// Logout wins over everything, including a simultaneous deep link.
	if q.Has(LogoutParam) {
		q.Del(LogoutParam)
		u.RawQuery = q.Encode()
		u.Path = "/"
		u.Fragment = DefaultLanding
		return Outcome{
			Location:  u.String(),
			Fragment:  DefaultLanding,
			Action:    ActionReload,
			WipeState: true,
		}
	}

	out := Outcome{}

	// Deep-link conversion: path form moves into the fragment, but never
	// clobbers a fragment that already encodes a route.
	frag := normalizeFragment(u.Fragment)
	if frag == DefaultLanding && u.Path != "" && u.Path != "/" {
		if converted, ok := ConvertDeepLink(u.Path); ok {
			u.Fragment = converted
			u.Path = "/"
			frag = converted
			out.DeepLinked = true
		}
	}

	// Tracking parameters are stripped regardless of the path taken above.
	stripped := false
	for name := range q {
		for _, prefix := range TrackingPrefixes {
			if strings.HasPrefix(name, prefix) {
				q.Del(name)
				stripped = true
				break
			}
		}
	}
	if stripped {
		u.RawQuery = q.Encode()
	}

	// Restore the background snapshot only when this cold start is a recent
	// host-initiated recreation and no deep link just fired.
	if !out.DeepLinked && frag == DefaultLanding && in.SavedRoute != "" && !in.LastHiddenAt.IsZero() {
		if in.Now.Sub(in.LastHiddenAt) <= in.RestoreGrace {
			u.Fragment = in.SavedRoute
			frag = normalizeFragment(in.SavedRoute)
			out.Restored = true
		}
	}

	// Fragment hygiene: a fragment always exists, and canonical and
	// de-facto routes compare equal.
	frag = normalizeFragment(frag)
	u.Fragment = frag

	out.Location = u.String()
	out.Fragment = frag
	out.Action = ActionReplace
	return out
}

// normalizeFragment guarantees a leading slash and strips one trailing
// separator, defaulting empty fragments to the landing route.
func normalizeFragment(frag string) string {
	if frag == "" {
		return DefaultLanding
	}
	if !strings.HasPrefix(frag, "/") {
		frag = "/" + frag
	}
	if len(frag) > 1 {
		frag = strings.TrimSuffix(frag, "/")
	}
	return frag
}
