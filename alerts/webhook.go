package alerts

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hazyhaar/kseo/kseosafe"
)

// WebhookConfig configures the webhook channel.
type WebhookConfig struct {
	URL string
	// Secret, when set, signs the body: X-Signature-256: sha256=<hex hmac>.
	Secret string
	// AllowPrivate skips the private-address check. Only for endpoints the
	// operator controls.
	AllowPrivate bool
	Timeout      time.Duration
	Client       *http.Client
}

// Webhook posts alerts as JSON.
type Webhook struct {
	cfg WebhookConfig
}

// NewWebhook validates cfg and returns the channel.
func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	if cfg.AllowPrivate {
		if _, err := kseosafe.ValidateScheme(cfg.URL); err != nil {
			return nil, fmt.Errorf("alerts: webhook url: %w", err)
		}
	} else if err := kseosafe.ValidateURL(cfg.URL); err != nil {
		return nil, fmt.Errorf("alerts: webhook url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Webhook{cfg: cfg}, nil
}

func (w *Webhook) Name() string { return "webhook" }

// Notify POSTs the alert. Any non-2xx status is a failure.
func (w *Webhook) Notify(ctx context.Context, a Alert) error {
	body, err := json.Marshal(map[string]any{
		"type":       a.Type,
		"subject_id": a.SubjectID,
		"summary":    a.Summary(),
		"payload":    a.Payload,
		"sent_at":    a.SentAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return &ErrSendFailed{Channel: w.Name(), Cause: fmt.Errorf("marshal: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return &ErrSendFailed{Channel: w.Name(), Cause: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "kseo-alerts/1")
	if w.cfg.Secret != "" {
		req.Header.Set("X-Signature-256", Sign(w.cfg.Secret, body))
	}

	resp, err := w.cfg.Client.Do(req)
	if err != nil {
		return &ErrSendFailed{Channel: w.Name(), Cause: fmt.Errorf("POST: %w", err)}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ErrSendFailed{Channel: w.Name(), Cause: fmt.Errorf("webhook returned %d", resp.StatusCode)}
	}
	return nil
}

// Sign returns the X-Signature-256 header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign.
func Verify(secret string, body []byte, signature string) bool {
	const prefix = "sha256="
	if len(signature) <= len(prefix) || signature[:len(prefix)] != prefix {
		return false
	}
	decoded, err := hex.DecodeString(signature[len(prefix):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), decoded)
}
