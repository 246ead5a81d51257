package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/switchboard-io/switchboard/pkg/bus"
)

// defaultWebhookTimeout bounds each direct webhook delivery.
const defaultWebhookTimeout = 5 * time.Second

// WebhookClient delivers message envelopes directly to assistant
// webhook URLs when the mesh is unavailable. Delivery is at-most-once:
// a failed POST is not retried within the run, only recorded.
type WebhookClient struct {
	httpClient *http.Client
	timeout    time.Duration
}

// NewWebhookClient creates the fallback client. timeout zero means the
// default of five seconds.
func NewWebhookClient(timeout time.Duration) *WebhookClient {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookClient{
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
	}
}

// Deliver posts the envelope to one webhook URL.
func (c *WebhookClient) Deliver(ctx context.Context, webhookURL string, envelope bus.MessageEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	// each target gets its own independent deadline
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook to %s: %w", webhookURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned HTTP %d", webhookURL, resp.StatusCode)
	}
	return nil
}
