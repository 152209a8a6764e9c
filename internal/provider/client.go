package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrRateLimited signals that the provider asked us to slow down. It is not
// a delivery failure: the item stays pending and the campaign backs off.
var ErrRateLimited = errors.New("provider rate limit")

// Client is an HTTP client for the messaging provider's send endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a provider client. The HTTP client timeout is the only
// timeout applied; a timeout surfaces as a generic send error, never as a
// rate-limit signal.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type sendRequest struct {
	To         string `json:"to"`
	Body       string `json:"body"`
	TrackingID string `json:"tracking_id,omitempty"`
}

type sendResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Send delivers one message unit using the tenant's credential.
func (c *Client) Send(ctx context.Context, credential string, msg Message) error {
	payload, err := json.Marshal(sendRequest{To: msg.Phone, Body: msg.Body, TrackingID: msg.TrackingID})
	if err != nil {
		return fmt.Errorf("encode send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var parsed sendResponse
	if json.Unmarshal(body, &parsed) == nil {
		// Some provider deployments report throttling in the body with a 4xx.
		if parsed.Status == "rate_limited" {
			return ErrRateLimited
		}
		if parsed.Error != "" {
			return fmt.Errorf("provider returned %d: %s", resp.StatusCode, parsed.Error)
		}
	}
	return fmt.Errorf("provider returned %d", resp.StatusCode)
}
