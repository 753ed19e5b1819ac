// Package notify posts short plain-text alerts to an ntfy topic.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dgnsrekt/perpchart/internal/chart"
)

var ErrNoEndpoint = errors.New("notify: endpoint is required")

// Send posts message to endpoint.
func Send(ctx context.Context, client *http.Client, endpoint, title, message string) error {
	if strings.TrimSpace(endpoint) == "" {
		return ErrNoEndpoint
	}
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

// Notifier sends chart alerts to one ntfy endpoint.
type Notifier struct {
	Endpoint string
	Client   *http.Client
	Timeout  time.Duration
}

// HistoryCapped reports that the upstream has no bars older than the
// loaded range. It runs in the background and only logs failures.
func (n *Notifier) HistoryCapped(market string, g chart.Granularity, bars int) {
	if n == nil || n.Endpoint == "" {
		return
	}
	msg := fmt.Sprintf("%s %s history exhausted at %d bars", market, g, bars)
	go func() {
		timeout := n.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := Send(ctx, n.Client, n.Endpoint, "perpchart", msg); err != nil {
			slog.Warn("notify history capped failed", "market", market, "error", err)
			return
		}
		slog.Debug("notify history capped sent", "market", market, "bars", bars)
	}()
}
