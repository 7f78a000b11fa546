// Package notify posts plain-text operator notifications to an ntfy-style
// endpoint when the recovery machinery fires in the field. Disabled when no
// endpoint is configured.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Notifier posts notifications to the configured endpoint.
type Notifier struct {
	endpoint string
	client   *http.Client
}

// New builds a notifier. An empty endpoint disables every send.
func New(endpoint string, client *http.Client) *Notifier {
	return &Notifier{endpoint: endpoint, client: client}
}

// Enabled reports whether notifications are configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.endpoint != ""
}

// RecoveryTriggered reports a crash-loop recovery. Failures are logged, not
// propagated; notifications never block the recovery path.
func (n *Notifier) RecoveryTriggered(ctx context.Context, crashCount int) {
	n.post(ctx, fmt.Sprintf("shellkeeper: crash-loop recovery triggered (%d crashes in window), caches wiped", crashCount))
}

// OverlayShown reports that a user hit the recovery overlay.
func (n *Notifier) OverlayShown(ctx context.Context, message string) {
	n.post(ctx, "shellkeeper: recovery overlay shown: "+message)
}

// ManualRecovery reports an operator-initiated recovery.
func (n *Notifier) ManualRecovery(ctx context.Context) {
	n.post(ctx, "shellkeeper: manual recovery triggered via control API")
}

func (n *Notifier) post(ctx context.Context, message string) {
	if !n.Enabled() {
		return
	}
	if err := Send(ctx, n.client, n.endpoint, message); err != nil {
		slog.Warn("notify send failed", "error", err)
	}
}

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
