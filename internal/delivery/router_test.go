package delivery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ThirdKeyAI/symbiont-sched/internal/job"
	"github.com/ThirdKeyAI/symbiont-sched/internal/security"
)

type fakeChannel struct {
	err   error
	calls []Payload
}

func (f *fakeChannel) Deliver(_ context.Context, _ job.ChannelDescriptor, p Payload) error {
	f.calls = append(f.calls, p)
	return f.err
}

func testRouter(audit *security.AuditLogger) *Router {
	return NewRouter(slog.New(slog.NewTextHandler(io.Discard, nil)), audit)
}

func TestRouter_RegisterDuplicate(t *testing.T) {
	t.Parallel()

	r := testRouter(nil)
	if err := r.Register("stdout", &fakeChannel{}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register("stdout", &fakeChannel{}); !errors.Is(err, ErrDuplicateChannel) {
		t.Fatalf("second register error = %v, want ErrDuplicateChannel", err)
	}
}

func TestRouter_RoutesAllChannels(t *testing.T) {
	t.Parallel()

	r := testRouter(nil)
	stdout := &fakeChannel{}
	webhook := &fakeChannel{}
	_ = r.Register("stdout", stdout)
	_ = r.Register("webhook", webhook)

	def := &job.Definition{
		ID: "job-1",
		Channels: []job.ChannelDescriptor{
			{Type: job.ChannelStdout},
			{Type: job.ChannelWebhook, URL: "https://example.com/hook"},
		},
	}

	results := r.Route(context.Background(), def, Payload{RunID: "run-1", Status: "succeeded"})

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, res := range results {
		if res.Err != nil {
			t.Errorf("channel %s: unexpected error %v", res.Channel, res.Err)
		}
	}
	if len(stdout.calls) != 1 || len(webhook.calls) != 1 {
		t.Errorf("calls = %d/%d, want 1/1", len(stdout.calls), len(webhook.calls))
	}
}

func TestRouter_FailureDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	var events []security.AuditEvent
	audit := security.NewAuditLogger(security.AuditLoggerConfig{
		OnEvent: func(e security.AuditEvent) { events = append(events, e) },
	})

	r := testRouter(audit)
	broken := &fakeChannel{err: errors.New("connection refused")}
	working := &fakeChannel{}
	_ = r.Register("webhook", broken)
	_ = r.Register("stdout", working)

	def := &job.Definition{
		ID: "job-1",
		Channels: []job.ChannelDescriptor{
			{Type: job.ChannelWebhook, URL: "https://example.com/hook"},
			{Type: job.ChannelStdout},
		},
	}

	results := r.Route(context.Background(), def, Payload{RunID: "run-1"})

	if results[0].Err == nil {
		t.Error("expected error from broken channel")
	}
	if results[1].Err != nil {
		t.Errorf("working channel failed: %v", results[1].Err)
	}
	if len(working.calls) != 1 {
		t.Error("working channel should still be routed after a failure")
	}

	if len(events) != 1 {
		t.Fatalf("got %d audit events, want 1", len(events))
	}
	if events[0].Type != security.EventDeliveryFailure {
		t.Errorf("event type = %q, want delivery_failure", events[0].Type)
	}
}

func TestRouter_UnregisteredChannel(t *testing.T) {
	t.Parallel()

	r := testRouter(nil)

	def := &job.Definition{
		ID:       "job-1",
		Channels: []job.ChannelDescriptor{{Type: job.ChannelSlack, Channel: "#alerts"}},
	}

	results := r.Route(context.Background(), def, Payload{})
	if len(results) != 1 || !errors.Is(results[0].Err, ErrNoChannel) {
		t.Fatalf("results = %+v, want single ErrNoChannel", results)
	}
}

func TestRouter_CustomChannelKey(t *testing.T) {
	t.Parallel()

	r := testRouter(nil)
	custom := &fakeChannel{}
	_ = r.Register("pagerduty", custom)

	def := &job.Definition{
		ID:       "job-1",
		Channels: []job.ChannelDescriptor{{Type: job.ChannelCustom, Name: "pagerduty"}},
	}

	results := r.Route(context.Background(), def, Payload{})
	if results[0].Err != nil {
		t.Fatalf("custom channel route failed: %v", results[0].Err)
	}
	if len(custom.calls) != 1 {
		t.Error("custom channel not invoked")
	}
}
