package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const sendMailPath = "/gmail/v1/users/me/messages/send"

// Client dispatches raw messages through the Gmail messages.send API.
// On 401 responses it invalidates the broker's cached token and retries
// once with a fresh one.
type Client struct {
	endpoint string
	client   HTTPClient
	broker   *TokenBroker
}

// NewClient creates a Gmail API client. endpoint overrides the API base
// URL; pass the config default in production.
func NewClient(endpoint string, client HTTPClient, broker *TokenBroker) *Client {
	return &Client{
		endpoint: endpoint,
		client:   client,
		broker:   broker,
	}
}

// Send obtains a delegated token and posts the base64url-encoded raw
// message. It returns the provider-assigned message ID on success; a
// rejected send returns a *DispatchError carrying the classified response.
func (c *Client) Send(ctx context.Context, rawMessage string) (string, error) {
	scopes := []string{ScopeGmailSend}

	id, err := c.sendWithToken(ctx, scopes, rawMessage)
	if err == nil {
		return id, nil
	}

	var de *DispatchError
	if errors.As(err, &de) && de.StatusCode == 401 {
		c.broker.InvalidateToken(scopes)
		return c.sendWithToken(ctx, scopes, rawMessage)
	}

	return "", err
}

func (c *Client) sendWithToken(ctx context.Context, scopes []string, rawMessage string) (string, error) {
	token, err := c.broker.Token(ctx, scopes)
	if err != nil {
		return "", fmt.Errorf("gmail: acquire token: %w", err)
	}

	body, err := json.Marshal(sendRequest{Raw: rawMessage})
	if err != nil {
		return "", fmt.Errorf("gmail: marshal request: %w", err)
	}

	resp, err := c.client.Do(ctx, &HTTPRequest{
		Method: "POST",
		URL:    c.endpoint + sendMailPath,
		Headers: map[string]string{
			"Authorization": "Bearer " + token,
			"Content-Type":  "application/json",
		},
		Body: body,
	})
	if err != nil {
		return "", fmt.Errorf("gmail: send request: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var result sendResponse
		if err := json.Unmarshal(resp.Body, &result); err != nil {
			return "", fmt.Errorf("gmail: parse send response: %w", err)
		}
		return result.ID, nil
	}

	return "", ClassifyHTTPError(resp.StatusCode, string(resp.Body))
}

type sendRequest struct {
	Raw string `json:"raw"`
}

type sendResponse struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}
