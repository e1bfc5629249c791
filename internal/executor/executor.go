// Package executor defines the boundary to the external agent runtime.
// The scheduler hands an agent reference, an execution-context handle,
// and an input to an Executor and gets back output or an error; the
// agent's actual task logic lives outside this module.
package executor

import (
	"context"

	"github.com/ThirdKeyAI/symbiont-sched/internal/session"
)

// Outcome describes how an invocation ended, beyond success/failure.
type Outcome string

// Invocation outcomes.
const (
	// OutcomeDone is a completed discrete run.
	OutcomeDone Outcome = "done"

	// OutcomeSleep is the heartbeat loop's signal to stop iterating
	// until the next external tick.
	OutcomeSleep Outcome = "sleep"
)

// Input is the payload handed to the agent for one invocation.
type Input struct {
	// Task is the job's standing instruction, from the definition.
	Task string

	// Summary is the prior run's derived summary, when the session
	// mode carries one.
	Summary string

	// Iteration is the heartbeat iteration ordinal, zero for discrete runs.
	Iteration int
}

// Output is the agent's result for one invocation.
type Output struct {
	// Content is the externally visible run output.
	Content string

	// Action names what the agent did, recorded in heartbeat metadata.
	Action string

	// Outcome defaults to OutcomeDone when empty.
	Outcome Outcome
}

// Sleeping reports whether the agent asked the heartbeat loop to stop.
func (o Output) Sleeping() bool { return o.Outcome == OutcomeSleep }

// Executor invokes an agent. Implementations must honor ctx cancellation;
// the dispatcher cancels the context when a run exceeds its max runtime.
type Executor interface {
	Execute(ctx context.Context, agentRef string, handle *session.Handle, input Input) (Output, error)
}
