package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/devops-notify/internal/gmail"
	"github.com/sungwon/devops-notify/internal/quota"
)

// DispatchResult is the outcome of one recipient's send.
type DispatchResult struct {
	Email     string `json:"email"`
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// DispatchSummary aggregates a bulk run. Total == Sent + Failed ==
// len(Results) always holds; results are in input order.
type DispatchSummary struct {
	Total   int              `json:"total"`
	Sent    int              `json:"sent"`
	Failed  int              `json:"failed"`
	Results []DispatchResult `json:"results"`
}

// ErrBatchTooLarge is returned when the valid recipient count exceeds the
// configured batch cap.
var ErrBatchTooLarge = fmt.Errorf("recipient list exceeds max batch size")

// BulkConfig holds pacing and batching parameters for bulk runs.
type BulkConfig struct {
	// SendDelay is the pause between consecutive sends. Sends are
	// strictly sequential; this is the rate-limit compliance strategy
	// and is not adaptive (a 429 is recorded as a failure, not retried).
	SendDelay time.Duration
	// MaxBatchSize caps valid recipients per run.
	MaxBatchSize int
	// SenderNames maps sender addresses to display names; addresses not
	// present fall back to local-part inference.
	SenderNames map[string]string
}

// Bulk coordinates personalized sends to a recipient list.
type Bulk struct {
	templates Renderer
	composer  *gmail.Composer
	sender    Sender
	limiter   *quota.Limiter
	config    BulkConfig
	log       zerolog.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration)
}

// NewBulk creates a bulk coordinator.
func NewBulk(
	templates Renderer,
	composer *gmail.Composer,
	sender Sender,
	limiter *quota.Limiter,
	config BulkConfig,
	log zerolog.Logger,
) *Bulk {
	return &Bulk{
		templates: templates,
		composer:  composer,
		sender:    sender,
		limiter:   limiter,
		config:    config,
		log:       log,
		sleep:     sleepContext,
	}
}

// Send processes each valid recipient in input order: personalize, render,
// compose, dispatch, record, pause. Per-recipient failures are captured in
// that recipient's DispatchResult and never abort the siblings. Earlier
// sends are not rolled back if the run is cancelled partway.
func (b *Bulk) Send(ctx context.Context, from string, recipients []string, params map[string]interface{}) (*DispatchSummary, error) {
	valid := ParseRecipients(recipients)

	if b.config.MaxBatchSize > 0 && len(valid) > b.config.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(valid), b.config.MaxBatchSize)
	}

	if err := b.limiter.Check(ctx, from); err != nil {
		return nil, fmt.Errorf("send quota: %w", err)
	}

	senderName := b.senderName(from)
	summary := &DispatchSummary{
		Total:   len(valid),
		Results: make([]DispatchResult, 0, len(valid)),
	}

	for i, recipient := range valid {
		result := b.sendOne(ctx, from, senderName, recipient, params)
		summary.Results = append(summary.Results, result)
		if result.Success {
			summary.Sent++
			if err := b.limiter.Record(ctx, from); err != nil {
				b.log.Warn().Err(err).Str("sender", from).Msg("quota record failed")
			}
		} else {
			summary.Failed++
		}

		if i < len(valid)-1 {
			b.sleep(ctx, b.config.SendDelay)
		}
		if ctx.Err() != nil {
			// Caller disconnected. Messages already dispatched stay
			// dispatched; remaining recipients are unattempted and do
			// not appear in the results.
			summary.Total = len(summary.Results)
			break
		}
	}

	b.log.Info().
		Str("sender", from).
		Int("total", summary.Total).
		Int("sent", summary.Sent).
		Int("failed", summary.Failed).
		Msg("bulk send complete")

	return summary, nil
}

func (b *Bulk) sendOne(ctx context.Context, from, senderName, recipient string, params map[string]interface{}) DispatchResult {
	personalized := make(map[string]interface{}, len(params)+2)
	for k, v := range params {
		personalized[k] = v
	}
	personalized["recipientName"] = InferName(recipient)
	personalized["senderName"] = senderName

	rendered, err := b.templates.RenderSales(ctx, personalized)
	if err != nil {
		b.log.Error().Err(err).Str("recipient", recipient).Msg("template render failed")
		return DispatchResult{Email: recipient, Error: "failed to generate email template"}
	}

	raw, err := b.composer.Compose(senderName, from, []string{recipient}, rendered.Subject, rendered.HTML, rendered.Text)
	if err != nil {
		return DispatchResult{Email: recipient, Error: err.Error()}
	}

	messageID, err := b.sender.Send(ctx, raw)
	if err != nil {
		b.log.Error().Err(err).Str("recipient", recipient).Msg("send failed")
		return DispatchResult{Email: recipient, Error: err.Error()}
	}

	b.log.Info().Str("recipient", recipient).Str("message_id", messageID).Msg("message sent")
	return DispatchResult{Email: recipient, Success: true, MessageID: messageID}
}

func (b *Bulk) senderName(from string) string {
	if name, ok := b.config.SenderNames[from]; ok {
		return name
	}
	return InferName(from)
}

// sleepContext pauses for d or until the context is done, whichever comes
// first.
func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
