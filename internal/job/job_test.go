package job

import (
	"errors"
	"testing"
	"time"
)

func validDefinition() *Definition {
	return &Definition{
		ID:       "job-1",
		Name:     "nightly report",
		AgentRef: "agents/reporter",
		Trigger:  Trigger{Kind: TriggerCron, Expr: "0 2 * * *"},
	}
}

func TestDefinition_NormalizeDefaults(t *testing.T) {
	t.Parallel()

	d := validDefinition()
	d.Normalize()

	if d.SessionMode != SessionEphemeralWithSummary {
		t.Errorf("default session mode = %q", d.SessionMode)
	}
	if d.MaxConcurrent != 1 {
		t.Errorf("default max_concurrent = %d", d.MaxConcurrent)
	}
	if d.Status != StatusActive {
		t.Errorf("default status = %q", d.Status)
	}
}

func TestDefinition_NormalizeHeartbeat(t *testing.T) {
	t.Parallel()

	d := validDefinition()
	d.SessionMode = SessionFullyEphemeral
	d.Heartbeat = &Heartbeat{Enabled: true}
	d.Normalize()

	if d.Heartbeat.ContextMode != SessionFullyEphemeral {
		t.Errorf("heartbeat context mode = %q, want job's session mode", d.Heartbeat.ContextMode)
	}
	if d.Heartbeat.MaxIterations != DefaultHeartbeatIterations {
		t.Errorf("heartbeat max iterations = %d", d.Heartbeat.MaxIterations)
	}
}

func TestDefinition_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Definition)
		wantErr error
	}{
		{
			name:   "valid",
			mutate: func(*Definition) {},
		},
		{
			name:    "missing agent ref",
			mutate:  func(d *Definition) { d.AgentRef = "" },
			wantErr: ErrMissingAgentRef,
		},
		{
			name: "shared persistent with concurrency",
			mutate: func(d *Definition) {
				d.SessionMode = SessionSharedPersistent
				d.MaxConcurrent = 2
			},
			wantErr: ErrSharedConcurrent,
		},
		{
			name: "shared persistent heartbeat with concurrency",
			mutate: func(d *Definition) {
				d.MaxConcurrent = 3
				d.Heartbeat = &Heartbeat{
					Enabled:       true,
					ContextMode:   SessionSharedPersistent,
					MaxIterations: 5,
				}
			},
			wantErr: ErrSharedConcurrent,
		},
		{
			name:    "bad trigger",
			mutate:  func(d *Definition) { d.Trigger = Trigger{Kind: TriggerCron, Expr: "nope"} },
			wantErr: ErrInvalidTrigger,
		},
		{
			name: "bad channel",
			mutate: func(d *Definition) {
				d.Channels = []ChannelDescriptor{{Type: ChannelWebhook}}
			},
			wantErr: ErrInvalidChannel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := validDefinition()
			d.Normalize()
			tt.mutate(d)

			err := d.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestChannelDescriptor_Key(t *testing.T) {
	t.Parallel()

	if got := (ChannelDescriptor{Type: ChannelSlack, URL: "https://hooks.example"}).Key(); got != "slack" {
		t.Errorf("slack key = %q", got)
	}
	if got := (ChannelDescriptor{Type: ChannelCustom, Name: "pagerduty"}).Key(); got != "pagerduty" {
		t.Errorf("custom key = %q", got)
	}
}

func TestRunRecord_Duration(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r := RunRecord{StartedAt: start, FinishedAt: start.Add(42 * time.Second)}
	if r.Duration() != 42*time.Second {
		t.Errorf("duration = %v", r.Duration())
	}

	if (&RunRecord{StartedAt: start}).Duration() != 0 {
		t.Error("unfinished run should report zero duration")
	}
}

func TestRunError_Error(t *testing.T) {
	t.Parallel()

	e := &RunError{Cause: CauseTimeoutExceeded, Message: "exceeded 30s"}
	if e.Error() != "timeout_exceeded: exceeded 30s" {
		t.Errorf("Error() = %q", e.Error())
	}
	if (&RunError{Cause: CauseExecutorError}).Error() != "executor_error" {
		t.Error("bare cause should render without colon")
	}
}
