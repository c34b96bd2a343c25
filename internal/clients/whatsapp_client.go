package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"messaging-gateway-service/internal/config"
)

// WhatsAppClient handles outbound sends against the messaging provider API
type WhatsAppClient struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

// NewWhatsAppClient creates a new messaging provider client. The timeout
// bounds every send so a slow transport cannot hold a quota charge in
// limbo indefinitely.
func NewWhatsAppClient(cfg config.WhatsAppConfig) *WhatsAppClient {
	return &WhatsAppClient{
		baseURL:     cfg.APIBaseURL,
		accessToken: cfg.AccessToken,
		httpClient: &http.Client{
			Timeout: cfg.SendTimeout,
		},
	}
}

// SendTextRequest represents an outbound text message
type SendTextRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             TextBody `json:"text"`
}

// TextBody carries the message body
type TextBody struct {
	Body string `json:"body"`
}

// SendTextResponse represents the provider's send response
type SendTextResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText sends a text message through the tenant's phone-number
// identifier and returns the provider-assigned message id.
func (c *WhatsAppClient) SendText(ctx context.Context, phoneNumberID, to, body string) (string, error) {
	payload := SendTextRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             TextBody{Body: body},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal send request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read send response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("provider returned status %d: %s", resp.StatusCode, truncate(string(respBody), 256))
	}

	var sendResp SendTextResponse
	if err := json.Unmarshal(respBody, &sendResp); err != nil {
		return "", fmt.Errorf("failed to parse send response: %w", err)
	}
	if len(sendResp.Messages) == 0 {
		return "", fmt.Errorf("provider response carried no message id")
	}
	return sendResp.Messages[0].ID, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
