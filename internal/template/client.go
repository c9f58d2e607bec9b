// Package template is the client for the external template-render API.
// Rendering is pure string templating and lives outside this service; we
// only speak its request/response contract.
package template

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sungwon/devops-notify/internal/github"
	"github.com/sungwon/devops-notify/internal/gmail"
)

// Rendered is a template API result ready to hand to the composer.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// Client calls the template-render endpoints.
type Client struct {
	prURL    string
	salesURL string
	client   gmail.HTTPClient
}

// NewClient creates a template API client. Either URL may be empty when
// the corresponding pipeline is unused.
func NewClient(prURL, salesURL string, client gmail.HTTPClient) *Client {
	return &Client{
		prURL:    prURL,
		salesURL: salesURL,
		client:   client,
	}
}

// RenderPRNotification renders the merged-PR notification template.
func (c *Client) RenderPRNotification(ctx context.Context, ev *github.PullRequestEvent) (*Rendered, error) {
	return c.render(ctx, c.prURL, map[string]interface{}{"prData": ev})
}

// RenderSales renders the sales template with per-recipient
// personalization params.
func (c *Client) RenderSales(ctx context.Context, params map[string]interface{}) (*Rendered, error) {
	return c.render(ctx, c.salesURL, map[string]interface{}{"salesData": params})
}

func (c *Client) render(ctx context.Context, url string, payload interface{}) (*Rendered, error) {
	if url == "" {
		return nil, fmt.Errorf("template: endpoint not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("template: marshal request: %w", err)
	}

	resp, err := c.client.Do(ctx, &gmail.HTTPRequest{
		Method: "POST",
		URL:    url,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: body,
	})
	if err != nil {
		return nil, fmt.Errorf("template: render request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("template: render returned status %d: %s", resp.StatusCode, string(resp.Body))
	}

	var rendered renderResponse
	if err := json.Unmarshal(resp.Body, &rendered); err != nil {
		return nil, fmt.Errorf("template: parse render response: %w", err)
	}
	if !rendered.Success || rendered.Subject == "" || rendered.HTML == "" {
		return nil, fmt.Errorf("template: incomplete render response")
	}

	return &Rendered{
		Subject: rendered.Subject,
		HTML:    rendered.HTML,
		Text:    rendered.Text,
	}, nil
}

type renderResponse struct {
	Success bool   `json:"success"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}
