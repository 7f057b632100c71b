// Package notify posts run digests and alerts to a Slack-compatible
// incoming webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Alert is one condition worth a human's attention.
type Alert struct {
	Type      string         `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Message is the webhook payload. Slack and most compatible receivers
// render Text.
type Message struct {
	Text string `json:"text"`
}

// Notifier posts to a webhook. A Notifier with no URL is a no-op.
type Notifier struct {
	url    string
	client *http.Client
}

// New creates a Notifier for url.
func New(url string) *Notifier {
	return &Notifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether a webhook is configured.
func (n *Notifier) Enabled() bool { return n.url != "" }

// Send posts msg. It returns false without error when no webhook is set.
func (n *Notifier) Send(ctx context.Context, msg Message) (bool, error) {
	if !n.Enabled() {
		return false, nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return false, eris.Wrap(err, "notify: marshal message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return false, eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return false, eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return false, eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return true, nil
}

// SendAlerts posts each alert and returns how many were delivered. Delivery
// failures are logged and do not stop the remaining alerts.
func (n *Notifier) SendAlerts(ctx context.Context, alerts []Alert) int {
	if !n.Enabled() || len(alerts) == 0 {
		return 0
	}
	sent := 0
	for _, a := range alerts {
		if _, err := n.Send(ctx, Message{Text: FormatAlert(a)}); err != nil {
			zap.L().Error("notify: failed to send alert",
				zap.String("type", a.Type),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("notify: alert sent",
			zap.String("type", a.Type),
			zap.String("severity", a.Severity),
		)
		sent++
	}
	return sent
}

// FormatAlert renders an alert as one chat line.
func FormatAlert(a Alert) string {
	icon := ":warning:"
	if a.Severity == "high" {
		icon = ":rotating_light:"
	}
	return fmt.Sprintf("%s *%s* %s", icon, strings.ReplaceAll(a.Type, "_", " "), a.Message)
}
