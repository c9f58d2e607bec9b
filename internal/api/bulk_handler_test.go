package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sungwon/devops-notify/internal/delivery"
	"github.com/sungwon/devops-notify/internal/quota"
)

type fakeBulk struct {
	summary *delivery.DispatchSummary
	err     error

	from       string
	recipients []string
	params     map[string]interface{}
	calls      int
}

func (f *fakeBulk) Send(_ context.Context, from string, recipients []string, params map[string]interface{}) (*delivery.DispatchSummary, error) {
	f.calls++
	f.from = from
	f.recipients = recipients
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return f.summary, nil
}

func bulkRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bulk-send", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestBulkSend_Success(t *testing.T) {
	bulk := &fakeBulk{summary: &delivery.DispatchSummary{
		Total: 2, Sent: 1, Failed: 1,
		Results: []delivery.DispatchResult{
			{Email: "a@x.com", Success: true, MessageID: "m1"},
			{Email: "b@y.com", Error: "gmail: backend error"},
		},
	}}
	handler := BulkSendHandler(bulk)

	rec := httptest.NewRecorder()
	handler(rec, bulkRequest(`{
		"from": "sales@example.com",
		"to": ["a@x.com", "b@y.com"],
		"salesData": {"productName": "Widget Pro"}
	}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success bool `json:"success"`
		Summary struct {
			Total  int `json:"total"`
			Sent   int `json:"sent"`
			Failed int `json:"failed"`
		} `json:"summary"`
		Results []delivery.DispatchResult `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !resp.Success {
		t.Error("expected success true even with partial failures")
	}
	if resp.Summary.Total != 2 || resp.Summary.Sent != 1 || resp.Summary.Failed != 1 {
		t.Errorf("unexpected summary %+v", resp.Summary)
	}
	if len(resp.Results) != 2 || resp.Results[0].MessageID != "m1" {
		t.Errorf("unexpected results %+v", resp.Results)
	}

	if bulk.from != "sales@example.com" {
		t.Errorf("unexpected from %q", bulk.from)
	}
	if bulk.params["productName"] != "Widget Pro" {
		t.Error("expected salesData forwarded")
	}
}

func TestBulkSend_CommaSeparatedTo(t *testing.T) {
	bulk := &fakeBulk{summary: &delivery.DispatchSummary{}}
	handler := BulkSendHandler(bulk)

	rec := httptest.NewRecorder()
	handler(rec, bulkRequest(`{"from": "sales@example.com", "to": "a@x.com, b@y.com"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(bulk.recipients) != 2 {
		t.Errorf("expected comma string split into 2 recipients, got %v", bulk.recipients)
	}
}

func TestBulkSend_InvalidBody(t *testing.T) {
	handler := BulkSendHandler(&fakeBulk{})
	rec := httptest.NewRecorder()
	handler(rec, bulkRequest("not json"))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestBulkSend_MissingFrom(t *testing.T) {
	handler := BulkSendHandler(&fakeBulk{})
	rec := httptest.NewRecorder()
	handler(rec, bulkRequest(`{"to": ["a@x.com"]}`))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestBulkSend_MissingTo(t *testing.T) {
	handler := BulkSendHandler(&fakeBulk{})
	rec := httptest.NewRecorder()
	handler(rec, bulkRequest(`{"from": "sales@example.com"}`))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestBulkSend_NoValidAddresses(t *testing.T) {
	bulk := &fakeBulk{summary: &delivery.DispatchSummary{}}
	handler := BulkSendHandler(bulk)

	rec := httptest.NewRecorder()
	handler(rec, bulkRequest(`{"from": "sales@example.com", "to": ["nope", "also-nope"]}`))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "no valid email addresses") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
	if bulk.calls != 0 {
		t.Error("expected no bulk call without valid addresses")
	}
}

func TestBulkSend_BatchTooLarge(t *testing.T) {
	bulk := &fakeBulk{err: fmt.Errorf("%w: 150 > 100", delivery.ErrBatchTooLarge)}
	handler := BulkSendHandler(bulk)

	rec := httptest.NewRecorder()
	handler(rec, bulkRequest(`{"from": "sales@example.com", "to": ["a@x.com"]}`))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func TestBulkSend_QuotaExceeded(t *testing.T) {
	bulk := &fakeBulk{err: fmt.Errorf("send quota: %w (1000/1000)", quota.ErrLimitExceeded)}
	handler := BulkSendHandler(bulk)

	rec := httptest.NewRecorder()
	handler(rec, bulkRequest(`{"from": "sales@example.com", "to": ["a@x.com"]}`))

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
}

func TestBulkSend_InternalFailureIsGeneric(t *testing.T) {
	bulk := &fakeBulk{err: fmt.Errorf("redis at 10.0.0.5 unreachable")}
	handler := BulkSendHandler(bulk)

	rec := httptest.NewRecorder()
	handler(rec, bulkRequest(`{"from": "sales@example.com", "to": ["a@x.com"]}`))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "10.0.0.5") {
		t.Errorf("response leaks internal error detail: %s", rec.Body.String())
	}
}
