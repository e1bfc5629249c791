package executor

import (
	"context"
	"fmt"

	"github.com/ThirdKeyAI/symbiont-sched/internal/session"
)

// Echo is a built-in executor for local smoke runs. It reflects the task
// back as the run output and reports a sleep outcome so heartbeat loops
// terminate after one iteration.
type Echo struct{}

var _ Executor = (*Echo)(nil)

func (Echo) Execute(_ context.Context, agentRef string, _ *session.Handle, input Input) (Output, error) {
	return Output{
		Content: fmt.Sprintf("echo[%s]: %s", agentRef, input.Task),
		Action:  "echo",
		Outcome: OutcomeSleep,
	}, nil
}
