package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sungwon/devops-notify/internal/github"
	"github.com/sungwon/devops-notify/internal/logger"
	"github.com/sungwon/devops-notify/internal/metrics"
)

// maxWebhookBody caps inbound payload size; GitHub's own limit is 25 MB.
const maxWebhookBody = 25 << 20

// PRNotifier runs the merged-PR notification pipeline.
type PRNotifier interface {
	NotifyPullRequest(ctx context.Context, ev *github.PullRequestEvent) (string, error)
}

// WebhookOptions configures the gateway's security and filtering.
type WebhookOptions struct {
	// Secret is the shared webhook secret. Empty is only legal together
	// with InsecureSkipVerify.
	Secret string
	// InsecureSkipVerify accepts unsigned deliveries. Every accepted
	// request is logged at warn level.
	InsecureSkipVerify bool
	// Filter holds the guard chain for pull_request payloads.
	Filter *github.Filter
}

// GitHubWebhookHandler handles POST /api/v1/webhooks/github.
//
// The request walks a fixed guard chain: signature, event type, action,
// merged flag, base branch. Guard misses answer 200 "ignored"; only a bad
// signature (401), an unextractable payload (400), or a pipeline failure
// (500, generic message) are error responses.
func GitHubWebhookHandler(opts WebhookOptions, notifier PRNotifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		// Signature verification needs the raw, unparsed bytes; decoding
		// and re-encoding is not byte-identical.
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			respondError(w, http.StatusBadRequest, "unable to read request body")
			return
		}

		env := github.Envelope{
			Body:       body,
			Signature:  r.Header.Get("X-Hub-Signature-256"),
			Event:      r.Header.Get("X-GitHub-Event"),
			DeliveryID: r.Header.Get("X-GitHub-Delivery"),
		}
		metrics.WebhooksReceivedTotal.WithLabelValues(env.Event).Inc()

		if opts.Secret == "" && opts.InsecureSkipVerify {
			log.Warn().Msg("insecure mode: accepting webhook without signature verification")
		} else if !github.VerifySignature(opts.Secret, env.Body, env.Signature) {
			log.Warn().Str("event", env.Event).Msg("webhook signature verification failed")
			metrics.WebhooksHandledTotal.WithLabelValues("rejected").Inc()
			respondError(w, http.StatusUnauthorized, "invalid signature")
			return
		}

		if env.Event != "pull_request" {
			metrics.WebhooksHandledTotal.WithLabelValues("ignored").Inc()
			respondIgnored(w, fmt.Sprintf("event type %q ignored; only pull_request events are processed", env.Event))
			return
		}

		payload, err := github.ParsePayload(env.Body)
		if err != nil {
			log.Warn().Err(err).Msg("webhook payload unparsable")
			metrics.WebhooksHandledTotal.WithLabelValues("error").Inc()
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if reason := opts.Filter.Ignore(payload); reason != "" {
			log.Info().Str("reason", reason).Msg("webhook ignored")
			metrics.WebhooksHandledTotal.WithLabelValues("ignored").Inc()
			respondIgnored(w, reason)
			return
		}

		event, err := github.ExtractPullRequest(payload)
		if err != nil {
			log.Warn().Err(err).Msg("failed to extract PR data")
			metrics.WebhooksHandledTotal.WithLabelValues("error").Inc()
			respondError(w, http.StatusBadRequest, "failed to extract PR data")
			return
		}

		log.Info().
			Int("pr_number", event.PRNumber).
			Str("title", event.PRTitle).
			Str("base_branch", event.BaseBranch).
			Msg("processing merged PR")

		start := time.Now()
		messageID, err := notifier.NotifyPullRequest(r.Context(), event)
		metrics.SendDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			// Full detail is logged by the pipeline; the caller gets a
			// generic message so credential errors cannot leak.
			metrics.WebhooksHandledTotal.WithLabelValues("error").Inc()
			metrics.EmailsSentTotal.WithLabelValues("failed").Inc()
			respondError(w, http.StatusInternalServerError, "failed to send email notification")
			return
		}

		metrics.WebhooksHandledTotal.WithLabelValues("dispatched").Inc()
		metrics.EmailsSentTotal.WithLabelValues("sent").Inc()
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"message":  fmt.Sprintf("Notification sent for PR #%d", event.PRNumber),
			"prTitle":  event.PRTitle,
			"mergedBy": event.MergedBy.Login,
			"emailId":  messageID,
		})
	}
}
