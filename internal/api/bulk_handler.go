package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sungwon/devops-notify/internal/delivery"
	"github.com/sungwon/devops-notify/internal/logger"
	"github.com/sungwon/devops-notify/internal/metrics"
	"github.com/sungwon/devops-notify/internal/quota"
)

// BulkSender coordinates a paced multi-recipient send.
type BulkSender interface {
	Send(ctx context.Context, from string, recipients []string, params map[string]interface{}) (*delivery.DispatchSummary, error)
}

// bulkSendRequest is the POST /api/v1/bulk-send body. "to" accepts either
// a JSON array of addresses or one comma-separated string.
type bulkSendRequest struct {
	From      string                 `json:"from"`
	To        json.RawMessage        `json:"to"`
	SalesData map[string]interface{} `json:"salesData"`
}

// BulkSendHandler handles POST /api/v1/bulk-send.
func BulkSendHandler(bulk BulkSender) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		var req bulkSendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if req.From == "" {
			respondError(w, http.StatusBadRequest, "missing 'from' field")
			return
		}
		recipients, err := decodeRecipients(req.To)
		if err != nil {
			respondError(w, http.StatusBadRequest, "missing 'to' field")
			return
		}

		if len(delivery.ParseRecipients(recipients)) == 0 {
			respondError(w, http.StatusBadRequest, "no valid email addresses provided")
			return
		}

		summary, err := bulk.Send(r.Context(), req.From, recipients, req.SalesData)
		if err != nil {
			switch {
			case errors.Is(err, delivery.ErrBatchTooLarge):
				respondError(w, http.StatusRequestEntityTooLarge, "recipient list exceeds max batch size")
			case errors.Is(err, quota.ErrLimitExceeded):
				respondError(w, http.StatusTooManyRequests, "monthly send limit exceeded")
			default:
				log.Error().Err(err).Msg("bulk send failed")
				respondError(w, http.StatusInternalServerError, "internal server error")
			}
			return
		}

		metrics.EmailsSentTotal.WithLabelValues("sent").Add(float64(summary.Sent))
		metrics.EmailsSentTotal.WithLabelValues("failed").Add(float64(summary.Failed))

		respondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"summary": map[string]int{
				"total":  summary.Total,
				"sent":   summary.Sent,
				"failed": summary.Failed,
			},
			"results": summary.Results,
		})
	}
}

// decodeRecipients accepts the "to" field as either a string array or a
// comma-separated string.
func decodeRecipients(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, errors.New("missing to field")
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var joined string
	if err := json.Unmarshal(raw, &joined); err == nil && joined != "" {
		return strings.Split(joined, ","), nil
	}

	return nil, errors.New("unsupported to field format")
}
