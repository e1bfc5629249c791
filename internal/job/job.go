// Package job defines the scheduler's data model: job definitions, their
// triggers and policies, and the append-only run records produced by the
// dispatcher. The package is pure data plus validation — persistence lives
// behind the store interface and execution in the dispatch package.
package job

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a job definition.
type Status string

// Job statuses. Transitions are driven by administrative calls
// (pause/resume/reset/delete) and by the dispatcher's own writes
// (dead-letter, one-shot completion).
const (
	StatusActive     Status = "active"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusDeadLetter Status = "dead_letter"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCompleted, StatusDeadLetter:
		return true
	}
	return false
}

// SessionMode governs how execution state persists across runs of a job.
type SessionMode string

// Session isolation modes.
const (
	// SessionEphemeralWithSummary creates a fresh context per run and
	// injects a short summary of the previous run's output. Default.
	SessionEphemeralWithSummary SessionMode = "ephemeral_with_summary"

	// SessionSharedPersistent reuses one context for the job's lifetime.
	// Implies MaxConcurrent = 1.
	SessionSharedPersistent SessionMode = "shared_persistent"

	// SessionFullyEphemeral creates a fresh context per run with no
	// carry-over. Fully stateless between runs.
	SessionFullyEphemeral SessionMode = "fully_ephemeral"
)

// Valid reports whether m is a known session mode.
func (m SessionMode) Valid() bool {
	switch m {
	case SessionEphemeralWithSummary, SessionSharedPersistent, SessionFullyEphemeral:
		return true
	}
	return false
}

// Policy is the optional pre-execution gate declared on a job definition.
// All fields are optional; the zero value allows everything.
type Policy struct {
	// RequireApproval suspends each run until an administrative approval.
	RequireApproval bool `yaml:"require_approval,omitempty" json:"require_approval,omitempty"`

	// Approvers lists who may resolve a suspended run. Informational —
	// the gate reports it with RequireApproval decisions.
	Approvers []string `yaml:"approvers,omitempty" json:"approvers,omitempty"`

	// MaxRuntime bounds a single executor invocation. Zero = no bound.
	MaxRuntime time.Duration `yaml:"max_runtime,omitempty" json:"max_runtime,omitempty"`

	// RequiredCapabilities must all be present in the execution context
	// descriptor for the run to proceed.
	RequiredCapabilities []string `yaml:"required_capabilities,omitempty" json:"required_capabilities,omitempty"`

	// AllowedHours restricts execution to a daily window, "HH:MM-HH:MM"
	// (24-hour, midnight wrap supported). Empty = always allowed.
	AllowedHours string `yaml:"allowed_hours,omitempty" json:"allowed_hours,omitempty"`

	// AllowedEnvironments restricts execution to deployments whose
	// environment tag is listed. Empty = all environments.
	AllowedEnvironments []string `yaml:"allowed_environments,omitempty" json:"allowed_environments,omitempty"`

	// RequireIdentity forces identity-token verification even when no
	// token is bound to the definition.
	RequireIdentity bool `yaml:"require_identity,omitempty" json:"require_identity,omitempty"`
}

// Heartbeat configures the continuous evaluate/act/sleep pattern that runs
// inside a single scheduled tick.
type Heartbeat struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// ContextMode selects the session mode applied per iteration rather
	// than per external tick. Defaults to the job's SessionMode.
	ContextMode SessionMode `yaml:"context_mode,omitempty" json:"context_mode,omitempty"`

	// MaxIterations caps iterations per external tick. Defaults to
	// DefaultHeartbeatIterations.
	MaxIterations int `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty"`
}

// DefaultHeartbeatIterations bounds heartbeat loops that do not declare
// their own cap.
const DefaultHeartbeatIterations = 10

// Definition is a persisted job definition. It is immutable between
// administrative updates; the dispatcher only writes status transitions and
// the consecutive-failure counter through the store.
type Definition struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`

	// AgentRef is an opaque identifier resolved by the agent executor.
	AgentRef string `yaml:"agent_ref" json:"agent_ref"`

	// Input is the standing instruction handed to the agent on every
	// run. Run-now requests may override it per invocation.
	Input string `yaml:"input,omitempty" json:"input,omitempty"`

	Trigger     Trigger     `yaml:"trigger" json:"trigger"`
	SessionMode SessionMode `yaml:"session_mode" json:"session_mode"`

	// Channels is the ordered set of delivery channel descriptors.
	Channels []ChannelDescriptor `yaml:"channels,omitempty" json:"channels,omitempty"`

	Policy    *Policy    `yaml:"policy,omitempty" json:"policy,omitempty"`
	Heartbeat *Heartbeat `yaml:"heartbeat,omitempty" json:"heartbeat,omitempty"`

	// MaxConcurrent caps simultaneous in-flight runs. Default 1.
	MaxConcurrent int `yaml:"max_concurrent,omitempty" json:"max_concurrent,omitempty"`

	// MaxRetries is the consecutive-failure budget after the original
	// attempt before the job is dead-lettered. Nil defers to the
	// dispatcher's configured default; an explicit 0 dead-letters on the
	// first failure.
	MaxRetries *int `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`

	// IdentityToken is an optional signed caller-identity token bound at
	// definition time, verified before every run.
	IdentityToken string `yaml:"identity_token,omitempty" json:"identity_token,omitempty"`

	Status Status `yaml:"status" json:"status"`

	// ConsecutiveFailures counts failed runs since the last success.
	// Maintained by the dispatcher, reset to 0 on success.
	ConsecutiveFailures int `yaml:"consecutive_failures,omitempty" json:"consecutive_failures,omitempty"`

	// LastFireAt is the trigger time of the most recent selection, used to
	// compute the next fire time for cron triggers.
	LastFireAt time.Time `yaml:"last_fire_at,omitempty" json:"last_fire_at,omitempty"`

	CreatedAt time.Time `yaml:"created_at,omitempty" json:"created_at,omitempty"`
	UpdatedAt time.Time `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// Definition validation errors.
var (
	ErrMissingAgentRef  = errors.New("job: agent_ref is required")
	ErrSharedConcurrent = errors.New("job: shared_persistent session mode requires max_concurrent = 1")
)

// Normalize fills defaults on a freshly parsed definition. Called by the
// administrative surface before Validate.
func (d *Definition) Normalize() {
	if d.SessionMode == "" {
		d.SessionMode = SessionEphemeralWithSummary
	}
	if d.MaxConcurrent <= 0 {
		d.MaxConcurrent = 1
	}
	if d.Status == "" {
		d.Status = StatusActive
	}
	if d.Heartbeat != nil && d.Heartbeat.Enabled {
		if d.Heartbeat.ContextMode == "" {
			d.Heartbeat.ContextMode = d.SessionMode
		}
		if d.Heartbeat.MaxIterations <= 0 {
			d.Heartbeat.MaxIterations = DefaultHeartbeatIterations
		}
	}
}

// Validate checks structural invariants. It assumes Normalize has run.
func (d *Definition) Validate() error {
	if d.AgentRef == "" {
		return ErrMissingAgentRef
	}
	if err := d.Trigger.Validate(); err != nil {
		return err
	}
	if !d.SessionMode.Valid() {
		return fmt.Errorf("job: invalid session_mode %q", d.SessionMode)
	}
	// A shared context cannot serve overlapping runs.
	if d.SessionMode == SessionSharedPersistent && d.MaxConcurrent > 1 {
		return ErrSharedConcurrent
	}
	if !d.Status.Valid() {
		return fmt.Errorf("job: invalid status %q", d.Status)
	}
	if d.MaxRetries != nil && *d.MaxRetries < 0 {
		return fmt.Errorf("job: max_retries must be >= 0, got %d", *d.MaxRetries)
	}
	if d.Heartbeat != nil && d.Heartbeat.Enabled {
		if !d.Heartbeat.ContextMode.Valid() {
			return fmt.Errorf("job: invalid heartbeat context_mode %q", d.Heartbeat.ContextMode)
		}
		if d.Heartbeat.ContextMode == SessionSharedPersistent && d.MaxConcurrent > 1 {
			return ErrSharedConcurrent
		}
	}
	for i := range d.Channels {
		if err := d.Channels[i].Validate(); err != nil {
			return fmt.Errorf("job: channel %d: %w", i, err)
		}
	}
	return nil
}

// EffectiveMaxRuntime returns the run timeout, or 0 when unbounded.
func (d *Definition) EffectiveMaxRuntime() time.Duration {
	if d.Policy == nil {
		return 0
	}
	return d.Policy.MaxRuntime
}

// RequiresIdentity reports whether identity verification must run before
// execution: either a token is bound or the policy demands one.
func (d *Definition) RequiresIdentity() bool {
	if d.IdentityToken != "" {
		return true
	}
	return d.Policy != nil && d.Policy.RequireIdentity
}
