package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gridsight/gridsight/pkg/telemetry"
)

// WebhookConfig holds the webhook channel configuration.
type WebhookConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// WebhookClient POSTs alert payloads as JSON to a configured URL.
type WebhookClient struct {
	url    string
	client *http.Client
}

// NewWebhookClient creates a client with the configured timeout.
func NewWebhookClient(cfg WebhookConfig) *WebhookClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookClient{
		url:    cfg.URL,
		client: &http.Client{Timeout: timeout},
	}
}

// Post delivers one alert payload. Non-2xx responses are errors.
func (c *WebhookClient) Post(ctx context.Context, p telemetry.AlertPayload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("notify: encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: webhook post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notify: webhook returned %s", resp.Status)
	}
	return nil
}
