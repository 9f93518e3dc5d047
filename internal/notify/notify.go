// Package notify publishes ready notifications. Publishing is
// fire-and-forget: a missing destination is not an error and a failed
// publish never fails the request that produced it.
package notify

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Publisher delivers a payload to a destination with attributes.
type Publisher interface {
	Publish(ctx context.Context, destination string, attributes map[string]string, payload []byte) error
}

// Nop discards every publish. Used when no notification transport is
// configured.
type Nop struct{}

func (Nop) Publish(_ context.Context, destination string, _ map[string]string, _ []byte) error {
	zap.L().Debug("notification dropped, no publisher configured", zap.String("destination", destination))
	return nil
}

// Webhook posts JSON payloads to HTTP destinations. Attributes ride as
// X-Docflow-* headers.
type Webhook struct {
	client *http.Client
}

// NewWebhook creates a webhook publisher.
func NewWebhook(timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{client: &http.Client{Timeout: timeout}}
}

func (w *Webhook) Publish(ctx context.Context, destination string, attributes map[string]string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, destination, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range attributes {
		req.Header.Set("X-Docflow-"+headerKey(k), v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrapf(err, "notify: post %s", destination)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		return eris.Errorf("notify: %s returned status %d", destination, resp.StatusCode)
	}
	return nil
}

// headerKey normalizes an attribute name into a header token.
func headerKey(k string) string {
	out := make([]byte, 0, len(k))
	for i := 0; i < len(k); i++ {
		c := k[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
			out = append(out, c)
		case c == '_', c == '.':
			out = append(out, '-')
		}
	}
	return string(out)
}
