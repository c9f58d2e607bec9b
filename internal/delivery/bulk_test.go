package delivery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/devops-notify/internal/github"
	"github.com/sungwon/devops-notify/internal/gmail"
	"github.com/sungwon/devops-notify/internal/quota"
	"github.com/sungwon/devops-notify/internal/template"
)

// fakeRenderer returns a canned rendering and records every params map it
// was asked to render.
type fakeRenderer struct {
	rendered *template.Rendered
	err      error

	prEvents []*github.PullRequestEvent
	params   []map[string]interface{}
}

func (f *fakeRenderer) RenderPRNotification(_ context.Context, ev *github.PullRequestEvent) (*template.Rendered, error) {
	f.prEvents = append(f.prEvents, ev)
	if f.err != nil {
		return nil, f.err
	}
	return f.rendered, nil
}

func (f *fakeRenderer) RenderSales(_ context.Context, params map[string]interface{}) (*template.Rendered, error) {
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	return f.rendered, nil
}

// fakeSender replays a sequence of outcomes in call order.
type fakeSender struct {
	outcomes []senderOutcome
	calls    int
	raw      []string
}

type senderOutcome struct {
	id  string
	err error
}

func (f *fakeSender) Send(_ context.Context, rawMessage string) (string, error) {
	f.raw = append(f.raw, rawMessage)
	i := f.calls
	f.calls++
	if i >= len(f.outcomes) {
		return "", fmt.Errorf("unexpected send call %d", i)
	}
	return f.outcomes[i].id, f.outcomes[i].err
}

func okRendering() *template.Rendered {
	return &template.Rendered{Subject: "Hello", HTML: "<p>hi</p>", Text: "hi"}
}

func newTestBulk(renderer *fakeRenderer, sender *fakeSender, cfg BulkConfig) *Bulk {
	b := NewBulk(renderer, gmail.NewComposer(), sender, quota.NewLimiter(nil, quota.Config{}), cfg, zerolog.Nop())
	b.sleep = func(context.Context, time.Duration) {}
	return b
}

func TestBulkSend_AllSucceed(t *testing.T) {
	renderer := &fakeRenderer{rendered: okRendering()}
	sender := &fakeSender{outcomes: []senderOutcome{{id: "m1"}, {id: "m2"}, {id: "m3"}}}
	b := newTestBulk(renderer, sender, BulkConfig{MaxBatchSize: 100})

	summary, err := b.Send(context.Background(), "sales@example.com", []string{"a@x.com", "b@y.com", "c@z.com"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Total != 3 || summary.Sent != 3 || summary.Failed != 0 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if len(summary.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(summary.Results))
	}
	if summary.Results[1].Email != "b@y.com" || summary.Results[1].MessageID != "m2" {
		t.Errorf("results not in input order: %+v", summary.Results[1])
	}
}

func TestBulkSend_PartialFailure(t *testing.T) {
	renderer := &fakeRenderer{rendered: okRendering()}
	sender := &fakeSender{outcomes: []senderOutcome{
		{id: "m1"},
		{err: &gmail.DispatchError{StatusCode: 400, Message: "Invalid recipient", Permanent: true}},
		{id: "m3"},
	}}
	b := newTestBulk(renderer, sender, BulkConfig{MaxBatchSize: 100})

	summary, err := b.Send(context.Background(), "sales@example.com", []string{"a@x.com", "b@y.com", "c@z.com"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Total != 3 || summary.Sent != 2 || summary.Failed != 1 {
		t.Errorf("expected 3/2/1, got %d/%d/%d", summary.Total, summary.Sent, summary.Failed)
	}
	if summary.Total != summary.Sent+summary.Failed || summary.Total != len(summary.Results) {
		t.Error("summary counts are inconsistent")
	}

	failed := summary.Results[1]
	if failed.Success || failed.Error == "" {
		t.Errorf("expected recorded failure for second recipient, got %+v", failed)
	}
	// One recipient failing must not stop the rest.
	if !summary.Results[2].Success {
		t.Error("expected third recipient to still be attempted")
	}
}

func TestBulkSend_InvalidRecipientsDropped(t *testing.T) {
	renderer := &fakeRenderer{rendered: okRendering()}
	sender := &fakeSender{outcomes: []senderOutcome{{id: "m1"}, {id: "m2"}}}
	b := newTestBulk(renderer, sender, BulkConfig{MaxBatchSize: 100})

	summary, err := b.Send(context.Background(), "sales@example.com", []string{"a@x.com", "not-an-email", "b@y.com"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Total != 2 {
		t.Errorf("expected invalid address to be dropped, total %d", summary.Total)
	}
}

func TestBulkSend_EmptyList(t *testing.T) {
	b := newTestBulk(&fakeRenderer{rendered: okRendering()}, &fakeSender{}, BulkConfig{MaxBatchSize: 100})

	summary, err := b.Send(context.Background(), "sales@example.com", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Total != 0 || len(summary.Results) != 0 {
		t.Errorf("expected empty summary, got %+v", summary)
	}
}

func TestBulkSend_BatchTooLarge(t *testing.T) {
	b := newTestBulk(&fakeRenderer{rendered: okRendering()}, &fakeSender{}, BulkConfig{MaxBatchSize: 2})

	_, err := b.Send(context.Background(), "sales@example.com", []string{"a@x.com", "b@y.com", "c@z.com"}, nil)
	if !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
}

func TestBulkSend_RenderFailure(t *testing.T) {
	renderer := &fakeRenderer{err: fmt.Errorf("template service down")}
	b := newTestBulk(renderer, &fakeSender{}, BulkConfig{MaxBatchSize: 100})

	summary, err := b.Send(context.Background(), "sales@example.com", []string{"a@x.com"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("expected render failure recorded, got %+v", summary)
	}
	// The internal render error stays out of the per-recipient result.
	if summary.Results[0].Error != "failed to generate email template" {
		t.Errorf("unexpected result error %q", summary.Results[0].Error)
	}
}

func TestBulkSend_Personalization(t *testing.T) {
	renderer := &fakeRenderer{rendered: okRendering()}
	sender := &fakeSender{outcomes: []senderOutcome{{id: "m1"}, {id: "m2"}}}
	b := newTestBulk(renderer, sender, BulkConfig{
		MaxBatchSize: 100,
		SenderNames:  map[string]string{"sales@example.com": "Sales Team"},
	})

	shared := map[string]interface{}{"productName": "Widget Pro"}
	_, err := b.Send(context.Background(), "sales@example.com", []string{"first.last@x.com", "bob@y.com"}, shared)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(renderer.params) != 2 {
		t.Fatalf("expected 2 renders, got %d", len(renderer.params))
	}
	first := renderer.params[0]
	if first["recipientName"] != "First Last" {
		t.Errorf("expected inferred recipient name, got %v", first["recipientName"])
	}
	if first["senderName"] != "Sales Team" {
		t.Errorf("expected configured sender name, got %v", first["senderName"])
	}
	if first["productName"] != "Widget Pro" {
		t.Error("expected shared params carried through")
	}
	if renderer.params[1]["recipientName"] != "Bob" {
		t.Errorf("expected per-recipient personalization, got %v", renderer.params[1]["recipientName"])
	}

	// The caller's map must not be mutated by personalization.
	if _, ok := shared["recipientName"]; ok {
		t.Error("shared params map was mutated")
	}
}

func TestBulkSend_SenderNameInferredWhenUnmapped(t *testing.T) {
	renderer := &fakeRenderer{rendered: okRendering()}
	sender := &fakeSender{outcomes: []senderOutcome{{id: "m1"}}}
	b := newTestBulk(renderer, sender, BulkConfig{MaxBatchSize: 100})

	if _, err := b.Send(context.Background(), "jane.doe@example.com", []string{"a@x.com"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if renderer.params[0]["senderName"] != "Jane Doe" {
		t.Errorf("expected inferred sender name, got %v", renderer.params[0]["senderName"])
	}
}

func TestBulkSend_PausesBetweenSends(t *testing.T) {
	renderer := &fakeRenderer{rendered: okRendering()}
	sender := &fakeSender{outcomes: []senderOutcome{{id: "m1"}, {id: "m2"}, {id: "m3"}}}
	b := NewBulk(renderer, gmail.NewComposer(), sender, quota.NewLimiter(nil, quota.Config{}),
		BulkConfig{MaxBatchSize: 100, SendDelay: 123 * time.Millisecond}, zerolog.Nop())

	var pauses []time.Duration
	b.sleep = func(_ context.Context, d time.Duration) {
		pauses = append(pauses, d)
	}

	if _, err := b.Send(context.Background(), "sales@example.com", []string{"a@x.com", "b@y.com", "c@z.com"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A pause between consecutive sends, none after the last.
	if len(pauses) != 2 {
		t.Fatalf("expected 2 pauses for 3 sends, got %d", len(pauses))
	}
	for _, d := range pauses {
		if d != 123*time.Millisecond {
			t.Errorf("expected configured delay, got %v", d)
		}
	}
}

func TestBulkSend_CancellationTruncates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	renderer := &fakeRenderer{rendered: okRendering()}
	sender := &fakeSender{outcomes: []senderOutcome{{id: "m1"}, {id: "m2"}, {id: "m3"}}}
	b := newTestBulk(renderer, sender, BulkConfig{MaxBatchSize: 100})
	b.sleep = func(context.Context, time.Duration) { cancel() }

	summary, err := b.Send(ctx, "sales@example.com", []string{"a@x.com", "b@y.com", "c@z.com"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(summary.Results) != 1 {
		t.Fatalf("expected run to stop after first send, got %d results", len(summary.Results))
	}
	// Totals reflect what was attempted, keeping the count invariant.
	if summary.Total != 1 || summary.Sent != 1 {
		t.Errorf("unexpected truncated summary %+v", summary)
	}
	if sender.calls != 1 {
		t.Errorf("expected no sends after cancellation, got %d", sender.calls)
	}
}
