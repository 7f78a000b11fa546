// Package shellbridge attaches to the embedded webview page over the Chrome
// DevTools Protocol. It installs the in-page bootstrap hooks, fans page
// events out to the session keeper, and exposes the small set of location
// and storage operations the lifecycle subsystem applies back to the page.
package shellbridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/godlykids/shellkeeper/internal/faults"
	"github.com/godlykids/shellkeeper/internal/trace"
)

// EventKind discriminates bridge events.
type EventKind string

const (
	EventException      EventKind = "exception"
	EventRejection      EventKind = "rejection"
	EventResourceFailed EventKind = "resource-failed"
	EventNavigated      EventKind = "navigated"
	EventVisibility     EventKind = "visibility"
	EventOverlayAction  EventKind = "overlay-action"
	EventDetached       EventKind = "detached"
)

// Event is one page signal delivered to the keeper's event loop.
type Event struct {
	Kind          EventKind
	Fault         faults.PageFault
	URL           string
	Fragment      string
	Visibility    trace.Visibility
	OverlayAction string
}

// bindingPayload is the JSON the bootstrap hooks send through the binding.
type bindingPayload struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Message  string `json:"message"`
	Source   string `json:"source"`
	Line     int    `json:"line"`
	Col      int    `json:"col"`
	Stack    string `json:"stack"`
	State    string `json:"state"`
	URL      string `json:"url"`
	Fragment string `json:"fragment"`
	Action   string `json:"action"`
}

// watchedResources are the sub-resource types whose load failures are
// reported. Fetch/XHR failures belong to the app's own retry logic.
var watchedResources = map[network.ResourceType]bool{
	network.ResourceTypeScript:     true,
	network.ResourceTypeStylesheet: true,
	network.ResourceTypeImage:      true,
}

type requestInfo struct {
	url  string
	kind network.ResourceType
}

// Bridge is the CDP attachment to the single app page.
type Bridge struct {
	cdpURL      string
	urlFilter   string
	evalTimeout time.Duration

	mu          sync.Mutex
	allocCancel context.CancelFunc
	pageCtx     context.Context
	pageCancel  context.CancelFunc
	targetID    target.ID
	pageURL     string
	requests    map[network.RequestID]requestInfo

	events chan Event
}

// NewBridge builds an unconnected bridge.
func NewBridge(cdpURL, urlFilter string, evalTimeout time.Duration) *Bridge {
	return &Bridge{
		cdpURL:      cdpURL,
		urlFilter:   strings.ToLower(strings.TrimSpace(urlFilter)),
		evalTimeout: evalTimeout,
		requests:    make(map[network.RequestID]requestInfo),
		events:      make(chan Event, 64),
	}
}

// Connect attaches to the first page target matching the URL filter, enables
// the runtime/page/network domains, registers the callback binding, and
// installs the bootstrap hooks both for future documents and the one already
// loaded.
func (b *Bridge) Connect(ctx context.Context) error {
	if b.cdpURL == "" {
		return newError(CodeBridgeUnavailable, "missing CDP URL", nil)
	}

	slog.Info("shellbridge connect start", "cdp_url", b.cdpURL, "url_filter", b.urlFilter)

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), b.cdpURL)

	tempCtx, tempCancel := chromedp.NewContext(allocCtx)
	defer tempCancel()
	if err := chromedp.Run(tempCtx); err != nil {
		allocCancel()
		return newError(CodeBridgeUnavailable, "connect to CDP failed", err)
	}

	targets, err := chromedp.Targets(tempCtx)
	if err != nil {
		allocCancel()
		return newError(CodeBridgeUnavailable, "failed to enumerate targets", err)
	}

	var found *target.Info
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if b.urlFilter != "" && !strings.Contains(strings.ToLower(t.URL), b.urlFilter) {
			slog.Debug("shellbridge skipping target (url filter)", "url", t.URL)
			continue
		}
		found = t
		break
	}
	if found == nil {
		allocCancel()
		return newError(CodePageNotFound, "no page target matching url filter "+b.urlFilter, nil)
	}

	pageCtx, pageCancel := chromedp.NewContext(allocCtx, chromedp.WithTargetID(found.TargetID))

	err = chromedp.Run(pageCtx,
		runtime.Enable(),
		page.Enable(),
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return runtime.AddBinding(bindingName).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(bootstrapJS).Do(ctx)
			return err
		}),
	)
	if err != nil {
		pageCancel()
		allocCancel()
		return newError(CodeBridgeUnavailable, "failed to enable page domains", err)
	}

	chromedp.ListenTarget(pageCtx, b.handleEvent)

	b.mu.Lock()
	b.allocCancel = allocCancel
	b.pageCtx = pageCtx
	b.pageCancel = pageCancel
	b.targetID = found.TargetID
	b.pageURL = found.URL
	b.requests = make(map[network.RequestID]requestInfo)
	b.mu.Unlock()

	// The current document predates AddScriptToEvaluateOnNewDocument; the
	// guard flag inside the script makes this safe on reload races.
	if err := b.eval(ctx, bootstrapJS+`; JSON.stringify({ok:true})`, nil); err != nil {
		slog.Warn("shellbridge hook install on live document failed", "error", err)
	}

	slog.Info("shellbridge attached", "target_id", found.TargetID, "url", truncateURL(found.URL))
	return nil
}

// Close detaches from the page and releases the allocator.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pageCancel != nil {
		b.pageCancel()
		b.pageCancel = nil
		b.pageCtx = nil
	}
	if b.allocCancel != nil {
		b.allocCancel()
		b.allocCancel = nil
	}
	slog.Info("shellbridge closed")
	return nil
}

// Events returns the page event stream consumed by the keeper loop.
func (b *Bridge) Events() <-chan Event {
	return b.events
}

// PageURL returns the URL the bridge attached to, updated on navigation.
func (b *Bridge) PageURL() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pageURL
}

// Location reads the page's live location.
func (b *Bridge) Location(ctx context.Context) (string, error) {
	var out struct {
		Location string `json:"location"`
	}
	if err := b.eval(ctx, jsReadLocation(), &out); err != nil {
		return "", err
	}
	return out.Location, nil
}

// PageContext snapshots the page environment for error reports.
func (b *Bridge) PageContext(ctx context.Context) (faults.PageContext, error) {
	var out struct {
		URL              string  `json:"url"`
		UserAgent        string  `json:"user_agent"`
		ViewportWidth    int     `json:"viewport_width"`
		ViewportHeight   int     `json:"viewport_height"`
		DevicePixelRatio float64 `json:"device_pixel_ratio"`
		Visibility       string  `json:"visibility"`
	}
	if err := b.eval(ctx, jsReadPageContext(), &out); err != nil {
		return faults.PageContext{}, err
	}
	vis := trace.Visible
	if out.Visibility == string(trace.Hidden) {
		vis = trace.Hidden
	}
	return faults.PageContext{
		URL:              out.URL,
		UserAgent:        out.UserAgent,
		ViewportWidth:    out.ViewportWidth,
		ViewportHeight:   out.ViewportHeight,
		DevicePixelRatio: out.DevicePixelRatio,
		Visibility:       vis,
	}, nil
}

// ReplaceLocation rewrites the location in place via history.replaceState,
// preserving the host's back/forward semantics.
func (b *Bridge) ReplaceLocation(ctx context.Context, location string) error {
	if location == "" {
		return newError(CodeValidation, "location is required", nil)
	}
	var out struct {
		Location string `json:"location"`
	}
	if err := b.eval(ctx, jsReplaceLocation(location), &out); err != nil {
		return err
	}
	slog.Debug("shellbridge location replaced", "location", truncateURL(out.Location))
	return nil
}

// Reload forces a full page reload.
func (b *Bridge) Reload(ctx context.Context) error {
	b.mu.Lock()
	pageCtx := b.pageCtx
	b.mu.Unlock()
	if pageCtx == nil {
		return newError(CodeBridgeUnavailable, "bridge not connected", nil)
	}

	reloadCtx, cancel := context.WithTimeout(pageCtx, b.evalTimeout)
	defer cancel()
	if err := chromedp.Run(reloadCtx, chromedp.Reload()); err != nil {
		return newError(CodeEvalFailure, "reload failed", err)
	}
	slog.Info("shellbridge page reloaded")
	return nil
}

// ClearPageStorage clears localStorage and sessionStorage.
func (b *Bridge) ClearPageStorage(ctx context.Context) error {
	return b.eval(ctx, jsClearPageStorage(), nil)
}

// ClearOfflineCaches deletes every registered CacheStorage cache.
func (b *Bridge) ClearOfflineCaches(ctx context.Context) error {
	var out struct {
		Removed int `json:"removed"`
	}
	if err := b.eval(ctx, jsClearOfflineCaches(), &out); err != nil {
		return err
	}
	slog.Info("shellbridge offline caches cleared", "removed", out.Removed)
	return nil
}

// ShowOverlay injects the recovery overlay markup into the live document.
func (b *Bridge) ShowOverlay(ctx context.Context, html string) error {
	if html == "" {
		return newError(CodeValidation, "overlay html is required", nil)
	}
	return b.eval(ctx, jsShowOverlay(html), nil)
}

// HideOverlay removes an injected overlay, if present.
func (b *Bridge) HideOverlay(ctx context.Context) error {
	return b.eval(ctx, jsHideOverlay(), nil)
}

// VisibilityState reads document.visibilityState.
func (b *Bridge) VisibilityState(ctx context.Context) (trace.Visibility, error) {
	var out struct {
		Visibility string `json:"visibility"`
	}
	if err := b.eval(ctx, jsVisibilityState(), &out); err != nil {
		return trace.Visible, err
	}
	if out.Visibility == string(trace.Hidden) {
		return trace.Hidden, nil
	}
	return trace.Visible, nil
}

// eval runs a wrapped snippet on the page and decodes the envelope.
func (b *Bridge) eval(ctx context.Context, js string, out any) error {
	b.mu.Lock()
	pageCtx := b.pageCtx
	b.mu.Unlock()
	if pageCtx == nil {
		return newError(CodeBridgeUnavailable, "bridge not connected", nil)
	}

	evalCtx, cancel := context.WithTimeout(pageCtx, b.evalTimeout)
	defer cancel()

	var raw string
	err := chromedp.Run(evalCtx, chromedp.Evaluate(js, &raw,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return newError(CodeEvalTimeout, "evaluation timed out", err)
		}
		return newError(CodeEvalFailure, "evaluation failed", err)
	}

	var env evalEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation envelope", err)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == "" {
			code = CodeEvalFailure
		}
		return newError(code, env.ErrorMessage, nil)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation data", err)
	}
	return nil
}

func (b *Bridge) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *runtime.EventBindingCalled:
		if e.Name != bindingName {
			return
		}
		b.handleBinding(e.Payload)
	case *network.EventRequestWillBeSent:
		if !watchedResources[e.Type] {
			return
		}
		b.mu.Lock()
		b.requests[e.RequestID] = requestInfo{url: e.Request.URL, kind: e.Type}
		b.mu.Unlock()
	case *network.EventLoadingFinished:
		b.mu.Lock()
		delete(b.requests, e.RequestID)
		b.mu.Unlock()
	case *network.EventLoadingFailed:
		if e.Canceled || !watchedResources[e.Type] {
			return
		}
		b.mu.Lock()
		info, ok := b.requests[e.RequestID]
		delete(b.requests, e.RequestID)
		b.mu.Unlock()
		if !ok {
			return
		}
		b.emit(Event{
			Kind: EventResourceFailed,
			Fault: faults.PageFault{
				Kind:         faults.KindResource,
				Message:      e.ErrorText,
				ResourceURL:  info.url,
				ResourceType: string(info.kind),
			},
		})
	case *page.EventFrameNavigated:
		if e.Frame.ParentID != "" {
			return
		}
		b.mu.Lock()
		b.pageURL = e.Frame.URL
		b.mu.Unlock()
		b.emit(Event{Kind: EventNavigated, URL: e.Frame.URL})
	case *page.EventNavigatedWithinDocument:
		b.mu.Lock()
		b.pageURL = e.URL
		b.mu.Unlock()
		b.emit(Event{Kind: EventNavigated, URL: e.URL})
	case *inspector.EventDetached:
		slog.Warn("shellbridge target detached", "reason", e.Reason)
		b.emit(Event{Kind: EventDetached})
	}
}

func (b *Bridge) handleBinding(payload string) {
	var p bindingPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		slog.Debug("shellbridge binding payload invalid", "error", err)
		return
	}

	switch p.Type {
	case "error":
		b.emit(Event{Kind: EventException, Fault: faults.PageFault{
			Kind: faults.KindException, Name: p.Name, Message: p.Message,
			Source: p.Source, Line: p.Line, Col: p.Col, Stack: p.Stack,
		}})
	case "rejection":
		b.emit(Event{Kind: EventRejection, Fault: faults.PageFault{
			Kind: faults.KindRejection, Name: p.Name, Message: p.Message, Stack: p.Stack,
		}})
	case "visibility":
		vis := trace.Visible
		if p.State == string(trace.Hidden) {
			vis = trace.Hidden
		}
		b.emit(Event{Kind: EventVisibility, Visibility: vis})
	case "route":
		b.emit(Event{Kind: EventNavigated, URL: p.URL, Fragment: p.Fragment})
	case "overlay":
		b.emit(Event{Kind: EventOverlayAction, OverlayAction: p.Action})
	default:
		slog.Debug("shellbridge binding payload unknown type", "type", p.Type)
	}
}

// emit never blocks the CDP event handler; a full consumer drops the event.
func (b *Bridge) emit(ev Event) {
	select {
	case b.events <- ev:
	default:
		slog.Warn("shellbridge event dropped (consumer backlog)", "kind", ev.Kind)
	}
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
