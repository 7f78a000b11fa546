// Package faults intercepts every uncaught exception, unhandled rejection
// and failed sub-resource load observed on the page, classifies it, keeps a
// bounded history of reports, and raises the last-resort recovery overlay so
// the user is never left staring at a blank surface.
package faults

import (
	"time"

	"github.com/godlykids/shellkeeper/internal/trace"
)

// Kind distinguishes how the fault was observed.
type Kind string

const (
	// KindException is an uncaught synchronous exception.
	KindException Kind = "exception"
	// KindRejection is an unhandled promise rejection.
	KindRejection Kind = "rejection"
	// KindResource is a failed script/stylesheet/image load.
	KindResource Kind = "resource"
)

// Class is the diagnostic classification of a fault.
type Class string

const (
	// ClassGenuine faults carry an actionable stack or source location.
	ClassGenuine Class = "genuine"
	// ClassOpaque faults are the generic cross-origin placeholder with no
	// file/line/column/stack detail, typical of third-party scripts failing
	// under strict origin isolation.
	ClassOpaque Class = "opaque-cross-origin"
)

// opaquePlaceholders are the browser-generated messages carried by
// cross-origin errors that were stripped of detail.
var opaquePlaceholders = map[string]bool{
	"Script error.": true,
	"Script error":  true,
}

// PageFault is a raw fault as delivered by the page hooks or CDP events.
type PageFault struct {
	Kind    Kind   `json:"kind"`
	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"`
	Source  string `json:"source,omitempty"`
	Line    int    `json:"line,omitempty"`
	Col     int    `json:"col,omitempty"`
	Stack   string `json:"stack,omitempty"`

	// Resource fields, set only for KindResource.
	ResourceURL  string `json:"resource_url,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`
}

// PageContext snapshots the page environment at fault time.
type PageContext struct {
	URL              string           `json:"url"`
	UserAgent        string           `json:"user_agent"`
	ViewportWidth    int              `json:"viewport_width"`
	ViewportHeight   int              `json:"viewport_height"`
	DevicePixelRatio float64          `json:"device_pixel_ratio"`
	Visibility       trace.Visibility `json:"visibility"`
}

// Report is one persisted fault record. Immutable after creation.
type Report struct {
	ID      string        `json:"id"`
	Kind    Kind          `json:"kind"`
	Class   Class         `json:"class"`
	Name    string        `json:"name,omitempty"`
	Message string        `json:"message"`
	Source  string        `json:"source,omitempty"`
	Line    int           `json:"line,omitempty"`
	Col     int           `json:"col,omitempty"`
	Stack   string        `json:"stack,omitempty"`
	Page    PageContext   `json:"page"`
	Trace   []trace.Entry `json:"trace,omitempty"`
	At      time.Time     `json:"at"`
}

// Classify decides whether a fault carries actionable detail.
func Classify(f PageFault) Class {
	if f.Kind == KindResource {
		return ClassGenuine
	}
	if opaquePlaceholders[f.Message] && f.Source == "" && f.Line == 0 && f.Col == 0 && f.Stack == "" {
		return ClassOpaque
	}
	return ClassGenuine
}
