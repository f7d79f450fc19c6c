// Package delivery hands finished messages to the ESP's HTTP API. The
// dispatch worker owns message state; this package only performs the send
// call and reports the provider's message ID.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ignite/sequence-engine/internal/config"
	"github.com/ignite/sequence-engine/internal/pkg/httpretry"
)

// SendRequest is one outbound email.
type SendRequest struct {
	To         string `json:"to"`
	TemplateID string `json:"template_id"`
	CampaignID string `json:"campaign_id"`
	MessageID  string `json:"message_id"`
}

// Sender submits a message for delivery and returns the provider's ID.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (string, error)
}

// Client talks to the ESP API with retrying HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	fromDomain string
	httpClient httpretry.HTTPDoer
}

// NewClient creates an ESP delivery client from config.
func NewClient(cfg config.DeliveryConfig) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		fromDomain: cfg.FromDomain,
		httpClient: httpretry.NewRetryClient(&http.Client{Timeout: cfg.Timeout()}, cfg.MaxRetries),
	}
}

// Send submits the message. A non-2xx response after retries is an error;
// the caller decides whether the message fails permanently.
func (c *Client) Send(ctx context.Context, req SendRequest) (string, error) {
	payload := map[string]string{
		"to":          req.To,
		"template_id": req.TemplateID,
		"domain":      c.fromDomain,
		"reference":   req.MessageID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode send request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/send", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build send request: %w", err)
	}
	httpReq.SetBasicAuth("api", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send message %s: %w", req.MessageID, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read send response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("send message %s: status %d: %s", req.MessageID, resp.StatusCode, respBody)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("decode send response: %w", err)
	}
	return out.ID, nil
}
