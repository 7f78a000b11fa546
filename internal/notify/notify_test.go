package notify

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func okClient(t *testing.T, record func(*http.Request, string)) *http.Client {
	t.Helper()
	return &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			rawBody, err := io.ReadAll(r.Body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			record(r, string(rawBody))
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader("ok")),
				Header:     make(http.Header),
			}, nil
		}),
	}
}

func TestSendPostsPlainText(t *testing.T) {
	ctx := context.Background()

	var receivedMethod string
	var receivedPath string
	var receivedBody string
	var receivedContentType string

	client := okClient(t, func(r *http.Request, body string) {
		receivedMethod = r.Method
		receivedPath = r.URL.Path
		receivedContentType = r.Header.Get("Content-Type")
		receivedBody = body
	})

	if err := Send(ctx, client, "http://example.com/notifications", "shellkeeper: test message"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if got, want := receivedMethod, http.MethodPost; got != want {
		t.Fatalf("method = %q; want %q", got, want)
	}
	if got, want := receivedPath, "/notifications"; got != want {
		t.Fatalf("path = %q; want %q", got, want)
	}
	if got, want := receivedContentType, "text/plain"; got != want {
		t.Fatalf("content-type = %q; want %q", got, want)
	}
	if got, want := receivedBody, "shellkeeper: test message"; got != want {
		t.Fatalf("body = %q; want %q", got, want)
	}
}

func TestSendReturnsErrorForServerError(t *testing.T) {
	ctx := context.Background()

	client := &http.Client{
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusInternalServerError,
				Body:       io.NopCloser(strings.NewReader("server failure")),
				Header:     make(http.Header),
			}, nil
		}),
	}

	err := Send(ctx, client, "http://example.com/notifications", "boom")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "ntfy notification failed") {
		t.Fatalf("error = %q; want to contain %q", err, "ntfy notification failed")
	}
}

func TestNotifierDisabledWithoutEndpoint(t *testing.T) {
	called := false
	client := okClient(t, func(*http.Request, string) { called = true })

	n := New("", client)
	n.RecoveryTriggered(context.Background(), 4)
	n.OverlayShown(context.Background(), "boom")
	n.ManualRecovery(context.Background())

	if n.Enabled() {
		t.Fatalf("Enabled() = true without endpoint")
	}
	if called {
		t.Fatalf("disabled notifier still posted")
	}
}

func TestNotifierRecoveryMessage(t *testing.T) {
	var body string
	client := okClient(t, func(_ *http.Request, b string) { body = b })

	n := New("http://example.com/notifications", client)
	n.RecoveryTriggered(context.Background(), 4)

	if !strings.Contains(body, "crash-loop recovery triggered (4 crashes in window)") {
		t.Fatalf("recovery message = %q", body)
	}
}
