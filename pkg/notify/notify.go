// Package notify delivers listing notifications to messaging channels.
package notify

import (
	"context"
	"errors"
	"fmt"
)

// Notification is one rendered listing message bound for a channel.
// ImageB64 carries the inline image payload when one was acquired; channels
// that can't embed raw images fall back to ImageURL.
type Notification struct {
	ChatID   string `json:"chat_id"`
	ThreadID string `json:"thread_id,omitempty"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	URL      string `json:"url"`
	ImageURL string `json:"image_url,omitempty"`
	ImageB64 string `json:"image_base64,omitempty"`
}

// Notifier delivers notifications to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new notification manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers. Every
// notifier is attempted; failures are joined.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}
