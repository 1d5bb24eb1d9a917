// Package alert delivers keyword movement notifications to chat and webhook
// destinations.
package alert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/respectlytics/respectaso/pkg/trend"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxListed caps how many movements chat messages spell out.
const maxListed = 10

// Notification is the data sent to alert destinations.
type Notification struct {
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Movements []trend.Movement `json:"movements"`
	SentAt    time.Time        `json:"sent_at"`
}

// NewMovementNotification builds the notification for a refresh run.
func NewMovementNotification(movements []trend.Movement) *Notification {
	title := fmt.Sprintf("%d keyword movement", len(movements))
	if len(movements) != 1 {
		title += "s"
	}
	return &Notification{
		Title:     title,
		Body:      "Daily refresh detected significant changes.",
		Movements: movements,
		SentAt:    time.Now().UTC(),
	}
}

// Lines renders up to maxListed movements, one per line.
func (n *Notification) Lines() []string {
	lines := make([]string, 0, min(len(n.Movements), maxListed)+1)
	for i, m := range n.Movements {
		if i == maxListed {
			lines = append(lines, fmt.Sprintf("…and %d more", len(n.Movements)-maxListed))
			break
		}
		lines = append(lines, m.Summary())
	}
	return lines
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return m != nil && len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// postJSON sends payload and expects a 2xx answer.
func postJSON(ctx context.Context, client *http.Client, name, url string, body []byte, header http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", name, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "respectaso/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s status %d", name, resp.StatusCode)
	}
	return nil
}
