package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// Telegram sends notifications through the Telegram Bot API. Messages with
// an inline image go out as sendPhoto with the text as caption; everything
// else as sendMessage. The thread id routes into forum topics.
type Telegram struct {
	client  *http.Client
	token   string
	apiBase string
}

// NewTelegram creates a new Telegram notifier.
func NewTelegram(botToken string) *Telegram {
	return &Telegram{
		client:  &http.Client{Timeout: 15 * time.Second},
		token:   botToken,
		apiBase: "https://api.telegram.org",
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, n *Notification) error {
	if n.ChatID == "" {
		return fmt.Errorf("telegram: notification has no chat_id")
	}

	text := n.Title
	if n.Body != "" {
		text += "\n" + n.Body
	}
	if n.URL != "" {
		text += "\n" + n.URL
	}

	if n.ImageB64 != "" {
		if img, err := base64.StdEncoding.DecodeString(n.ImageB64); err == nil {
			return t.sendPhoto(ctx, n, img, text)
		}
		// Undecodable payload: deliver the text rather than nothing.
	}
	return t.sendMessage(ctx, n, text)
}

func (t *Telegram) sendMessage(ctx context.Context, n *Notification, text string) error {
	payload := map[string]any{
		"chat_id":                  n.ChatID,
		"text":                     text,
		"disable_web_page_preview": n.ImageURL == "",
	}
	if n.ThreadID != "" {
		payload["message_thread_id"] = n.ThreadID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.methodURL("sendMessage"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return t.do(req)
}

func (t *Telegram) sendPhoto(ctx context.Context, n *Notification, image []byte, caption string) error {
	// Telegram captions cap out at 1024 characters.
	if len(caption) > 1024 {
		caption = caption[:1021] + "..."
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("chat_id", n.ChatID)
	mw.WriteField("caption", caption)
	if n.ThreadID != "" {
		mw.WriteField("message_thread_id", n.ThreadID)
	}
	fw, err := mw.CreateFormFile("photo", "listing.jpg")
	if err != nil {
		return fmt.Errorf("create photo part: %w", err)
	}
	if _, err := fw.Write(image); err != nil {
		return fmt.Errorf("write photo part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.methodURL("sendPhoto"), &buf)
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return t.do(req)
}

func (t *Telegram) do(req *http.Request) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&result); err != nil {
		return fmt.Errorf("decode telegram response (status %d): %w", resp.StatusCode, err)
	}
	if !result.OK {
		return fmt.Errorf("telegram api: status %d: %s", resp.StatusCode, result.Description)
	}
	return nil
}

func (t *Telegram) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.apiBase, t.token, method)
}
