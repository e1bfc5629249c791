// Package heartbeat runs the continuous evaluate/act/sleep pattern: on
// each external tick of a heartbeat-enabled job, the controller executes
// a bounded loop of agent iterations instead of one discrete invocation.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThirdKeyAI/symbiont-sched/internal/executor"
	"github.com/ThirdKeyAI/symbiont-sched/internal/job"
	"github.com/ThirdKeyAI/symbiont-sched/internal/session"
)

// Result summarizes one tick's worth of heartbeat iterations. The
// dispatcher records it on the tick's single run record.
type Result struct {
	// Iterations actually executed this tick.
	Iterations int

	// LastAction is the action reported by the final iteration.
	LastAction string

	// Output is the final iteration's content, the externally visible
	// run output.
	Output string

	// LimitReached is set when the loop stopped because it hit the
	// job's max_iterations bound rather than a sleep outcome.
	LimitReached bool
}

// Controller drives heartbeat iteration loops.
type Controller struct {
	exec     executor.Executor
	sessions *session.Manager
	logger   *slog.Logger
}

// NewController creates a heartbeat controller.
func NewController(exec executor.Executor, sessions *session.Manager, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{exec: exec, sessions: sessions, logger: logger}
}

// Run executes one external tick for a heartbeat-enabled job: up to
// max_iterations agent invocations, each with its own context per the
// job's heartbeat context_mode, stopping early on a sleep outcome or
// ctx cancellation. On executor error the partial result is returned
// alongside the error so the caller can still record iteration counts.
func (c *Controller) Run(ctx context.Context, def *job.Definition, task string) (Result, error) {
	hb := def.Heartbeat
	if hb == nil || !hb.Enabled {
		return Result{}, fmt.Errorf("heartbeat: job %s has no heartbeat configuration", def.ID)
	}

	var res Result
	for i := 1; i <= hb.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		handle, err := c.sessions.Acquire(def.ID, hb.ContextMode)
		if err != nil {
			return res, fmt.Errorf("heartbeat: acquiring context for job %s: %w", def.ID, err)
		}

		out, err := c.exec.Execute(ctx, def.AgentRef, handle, executor.Input{
			Task:      task,
			Summary:   handle.Summary,
			Iteration: i,
		})
		c.sessions.Release(handle, out.Content)

		if err != nil {
			return res, fmt.Errorf("heartbeat: iteration %d for job %s: %w", i, def.ID, err)
		}

		res.Iterations = i
		res.LastAction = out.Action
		if out.Content != "" {
			res.Output = out.Content
		}

		if out.Sleeping() {
			c.logger.Debug("heartbeat: sleep outcome",
				"job_id", def.ID, "iterations", res.Iterations)
			return res, nil
		}
	}

	res.LimitReached = true
	c.logger.Warn("heartbeat: iteration limit reached",
		"job_id", def.ID, "max_iterations", hb.MaxIterations)
	return res, nil
}
