// Package delivery runs the notification pipelines: template render,
// message composition, token-brokered dispatch, and per-recipient result
// tracking for bulk runs.
package delivery

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sungwon/devops-notify/internal/github"
	"github.com/sungwon/devops-notify/internal/gmail"
	"github.com/sungwon/devops-notify/internal/template"
)

// Sender dispatches one raw encoded message and returns the provider
// message ID.
type Sender interface {
	Send(ctx context.Context, rawMessage string) (string, error)
}

// Renderer fetches rendered templates from the external template API.
type Renderer interface {
	RenderPRNotification(ctx context.Context, ev *github.PullRequestEvent) (*template.Rendered, error)
	RenderSales(ctx context.Context, params map[string]interface{}) (*template.Rendered, error)
}

// Service sends the merged-PR notification to the configured DevOps list.
type Service struct {
	templates Renderer
	composer  *gmail.Composer
	sender    Sender

	fromName   string
	fromAddr   string
	recipients []string

	log zerolog.Logger
}

// NewService creates the PR notification pipeline. recipients is the
// DevOps distribution list; all of them share one message and one To
// header, so the list is visible to every member. That is intentional
// for an internal team list.
func NewService(
	templates Renderer,
	composer *gmail.Composer,
	sender Sender,
	fromName, fromAddr string,
	recipients []string,
	log zerolog.Logger,
) *Service {
	return &Service{
		templates:  templates,
		composer:   composer,
		sender:     sender,
		fromName:   fromName,
		fromAddr:   fromAddr,
		recipients: recipients,
		log:        log,
	}
}

// NotifyPullRequest renders the notification template for the event,
// composes a single multi-recipient message, and dispatches it. It
// returns the provider message ID.
func (s *Service) NotifyPullRequest(ctx context.Context, ev *github.PullRequestEvent) (string, error) {
	rendered, err := s.templates.RenderPRNotification(ctx, ev)
	if err != nil {
		s.log.Error().Err(err).Int("pr_number", ev.PRNumber).Msg("template render failed")
		return "", fmt.Errorf("render template: %w", err)
	}

	raw, err := s.composer.Compose(s.fromName, s.fromAddr, s.recipients, rendered.Subject, rendered.HTML, rendered.Text)
	if err != nil {
		return "", fmt.Errorf("compose message: %w", err)
	}

	messageID, err := s.sender.Send(ctx, raw)
	if err != nil {
		s.log.Error().Err(err).Int("pr_number", ev.PRNumber).Msg("send failed")
		return "", fmt.Errorf("send message: %w", err)
	}

	s.log.Info().
		Int("pr_number", ev.PRNumber).
		Str("message_id", messageID).
		Int("recipients", len(s.recipients)).
		Msg("PR notification sent")

	return messageID, nil
}
