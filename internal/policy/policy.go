// Package policy implements the pre-execution gate: a job's declared policy
// is evaluated against the current time, the proposed execution-context
// descriptor, and the deployment environment before the dispatcher invokes
// the executor.
package policy

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ThirdKeyAI/symbiont-sched/internal/job"
	"github.com/ThirdKeyAI/symbiont-sched/internal/security"
)

// Verdict is the gate's three-way outcome.
type Verdict string

// Gate verdicts.
const (
	Allow           Verdict = "allow"
	Deny            Verdict = "deny"
	RequireApproval Verdict = "require_approval"
)

// Decision is the result of evaluating a job's policy.
type Decision struct {
	Verdict Verdict

	// Reason explains a Deny. Empty for Allow.
	Reason string

	// Approvers lists who may resolve a RequireApproval decision.
	Approvers []string
}

// Allowed reports whether execution may proceed immediately.
func (d Decision) Allowed() bool { return d.Verdict == Allow }

// Descriptor describes the proposed execution context the gate evaluates
// capability requirements against.
type Descriptor struct {
	// Capabilities available to the run's execution context.
	Capabilities []string
}

// Config holds gate construction options.
type Config struct {
	// Environment is the deployment tag checked against
	// allowed_environments (e.g. "production").
	Environment string

	// Timezone for time-window checks. Nil = UTC.
	Timezone *time.Location

	// Audit receives events for Deny and RequireApproval outcomes.
	Audit *security.AuditLogger

	// Now overrides time.Now for testing.
	Now func() time.Time
}

// Gate evaluates job policies. Evaluation is pure except for audit-event
// emission on Deny and RequireApproval.
type Gate struct {
	env   string
	tz    *time.Location
	audit *security.AuditLogger
	now   func() time.Time
}

// NewGate creates a policy gate.
func NewGate(cfg Config) *Gate {
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Gate{
		env:   cfg.Environment,
		tz:    cfg.Timezone,
		audit: cfg.Audit,
		now:   cfg.Now,
	}
}

// Evaluate applies the job's policy checks in order: time window →
// capabilities → environment → approval requirement. The first failing
// check determines the Deny reason; if approval is the only unmet
// condition the verdict is RequireApproval.
func (g *Gate) Evaluate(def *job.Definition, desc Descriptor) Decision {
	p := def.Policy
	if p == nil {
		return Decision{Verdict: Allow}
	}

	if p.AllowedHours != "" {
		w, err := ParseWindow(p.AllowedHours)
		if err != nil {
			return g.deny(def, fmt.Sprintf("unparseable allowed_hours %q", p.AllowedHours))
		}
		now := g.now().In(g.tz)
		if !w.Contains(now) {
			return g.deny(def, fmt.Sprintf(
				"current time %s outside allowed_hours %s",
				now.Format("15:04"), p.AllowedHours))
		}
	}

	if missing := missingCapabilities(p.RequiredCapabilities, desc.Capabilities); len(missing) > 0 {
		return g.deny(def, "missing required capabilities: "+strings.Join(missing, ", "))
	}

	if len(p.AllowedEnvironments) > 0 && !slices.Contains(p.AllowedEnvironments, g.env) {
		return g.deny(def, fmt.Sprintf(
			"environment %q not in allowed_environments %v", g.env, p.AllowedEnvironments))
	}

	if p.RequireApproval {
		g.emit(security.EventApprovalRequired, def, "run suspended pending approval")
		return Decision{Verdict: RequireApproval, Approvers: slices.Clone(p.Approvers)}
	}

	return Decision{Verdict: Allow}
}

func (g *Gate) deny(def *job.Definition, reason string) Decision {
	g.emit(security.EventPolicyDeny, def, reason)
	return Decision{Verdict: Deny, Reason: reason}
}

func (g *Gate) emit(typ security.EventType, def *job.Definition, detail string) {
	if g.audit == nil {
		return
	}
	g.audit.Log(security.AuditEvent{
		Type:     typ,
		JobID:    def.ID,
		AgentRef: def.AgentRef,
		Detail:   detail,
	})
}

func missingCapabilities(required, available []string) []string {
	var missing []string
	for _, name := range required {
		if !slices.Contains(available, name) {
			missing = append(missing, name)
		}
	}
	return missing
}
