package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Webhook posts notifications to a generic HTTP endpoint, for operators who
// feed listings into their own automation instead of a chat channel.
type Webhook struct {
	client *http.Client
	url    string
	secret string
}

// webhookEnvelope is the wire format: the notification plus enough metadata
// for the receiver to dedupe and order deliveries on its own.
type webhookEnvelope struct {
	Event        string        `json:"event"`
	SentAt       time.Time     `json:"sent_at"`
	Notification *Notification `json:"notification"`
}

// NewWebhook creates a webhook notifier. An empty secret disables signing.
func NewWebhook(url, secret string) *Webhook {
	return &Webhook{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    url,
		secret: secret,
	}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, n *Notification) error {
	body, err := json.Marshal(webhookEnvelope{
		Event:        "listing",
		SentAt:       time.Now().UTC(),
		Notification: n,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "marktradar/1.0")

	// Signature over the exact body bytes, so the receiver can verify
	// before parsing.
	if w.secret != "" {
		mac := hmac.New(sha256.New, []byte(w.secret))
		mac.Write(body)
		req.Header.Set("X-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}
