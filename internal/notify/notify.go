// Package notify posts short user-facing notices to an ntfy-style
// endpoint. Used to surface routing failures that would otherwise only
// land in the log; a notifier with no endpoint drops everything.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Notifier posts messages to one endpoint. Safe for concurrent use.
type Notifier struct {
	endpoint string
	client   *http.Client
}

func NewNotifier(endpoint string) *Notifier {
	return &Notifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Enabled reports whether an endpoint is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.endpoint != ""
}

// Notify posts fire-and-forget; delivery failures are logged, never
// returned, so a dead notification endpoint cannot break routing.
func (n *Notifier) Notify(title, message string) {
	if !n.Enabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := Send(ctx, n.client, n.endpoint, title, message); err != nil {
			slog.Warn("notification delivery failed", "error", err)
		}
	}()
}

// Send posts one message via HTTP POST with the ntfy title header.
func Send(ctx context.Context, client *http.Client, endpoint, title, message string) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")
	if title != "" {
		req.Header.Set("Title", title)
	}

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
