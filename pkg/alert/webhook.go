package alert

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
)

// SignatureHeader carries the HMAC-SHA256 of the body when a secret is set.
const SignatureHeader = "X-Signature-256"

// Webhook sends notifications to a generic HTTP endpoint.
type Webhook struct {
	client *http.Client
	url    string
	secret string
}

// NewWebhook creates a new generic webhook notifier.
func NewWebhook(url, secret string) *Webhook {
	return &Webhook{client: newHTTPClient(), url: url, secret: secret}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, n *Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	header := http.Header{}
	if w.secret != "" {
		header.Set(SignatureHeader, Sign(w.secret, body))
	}
	return postJSON(ctx, w.client, "webhook", w.url, body, header)
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
