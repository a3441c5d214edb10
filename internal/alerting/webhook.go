package alerting

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	requestTimeout = 5 * time.Second
	maxRetries     = 3
)

// WebhookConfig describes one alert delivery endpoint.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// Enabled reports whether a webhook endpoint is configured.
func (c WebhookConfig) Enabled() bool { return c.URL != "" }

// Webhook posts alert events to an HTTP endpoint with retry on 5xx.
type Webhook struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhook builds a Webhook with a bounded request timeout.
func NewWebhook(cfg WebhookConfig) *Webhook {
	return &Webhook{
		cfg:    cfg,
		client: &http.Client{Timeout: requestTimeout},
	}
}

// Send delivers one event. 4xx responses fail immediately; network errors
// and 5xx responses are retried with linear backoff.
func (w *Webhook) Send(e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("alerting: marshal payload: %w", err)
	}
	return w.post(body)
}

// SendDigest posts the end-of-run summary after the individual alerts.
func (w *Webhook) SendDigest(d Digest) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("alerting: marshal digest: %w", err)
	}
	return w.post(body)
}

func (w *Webhook) post(body []byte) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * time.Second)
		}

		req, err := http.NewRequest(http.MethodPost, w.cfg.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("alerting: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range w.cfg.Headers {
			req.Header.Set(k, v)
		}

		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return fmt.Errorf("alerting: webhook rejected: HTTP %d", resp.StatusCode)
		}
		// 5xx, retry
		lastErr = fmt.Errorf("alerting: webhook server error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("alerting: webhook failed after %d attempts: %w", maxRetries, lastErr)
}
