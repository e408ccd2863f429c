package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookSignsEnvelope(t *testing.T) {
	const secret = "s3cret"

	var gotBody []byte
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Signature-256")
	}))
	defer srv.Close()

	n := &Notification{ChatID: "-1", Title: "Bahnrad Rahmen", URL: "https://example.org/ad"}
	if err := NewWebhook(srv.URL, secret).Send(context.Background(), n); err != nil {
		t.Fatalf("send: %v", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Fatalf("signature = %q, want %q", gotSig, want)
	}

	var env webhookEnvelope
	if err := json.Unmarshal(gotBody, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Event != "listing" || env.SentAt.IsZero() {
		t.Fatalf("envelope metadata = %+v", env)
	}
	if env.Notification == nil || env.Notification.Title != n.Title {
		t.Fatalf("notification payload = %+v", env.Notification)
	}
}

func TestWebhookWithoutSecretIsUnsigned(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature-256")
	}))
	defer srv.Close()

	if err := NewWebhook(srv.URL, "").Send(context.Background(), &Notification{Title: "t"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotSig != "" {
		t.Fatalf("unexpected signature: %q", gotSig)
	}
}

func TestWebhookErrorStatusSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhook(srv.URL, "").Send(context.Background(), &Notification{Title: "t"}); err == nil {
		t.Fatal("502 swallowed")
	}
}
