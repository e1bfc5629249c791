package heartbeat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ThirdKeyAI/symbiont-sched/internal/executor"
	"github.com/ThirdKeyAI/symbiont-sched/internal/executor/executortest"
	"github.com/ThirdKeyAI/symbiont-sched/internal/job"
	"github.com/ThirdKeyAI/symbiont-sched/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func heartbeatJob(maxIter int, mode job.SessionMode) *job.Definition {
	return &job.Definition{
		ID:       "job-hb",
		Name:     "watcher",
		AgentRef: "agents/watcher",
		Heartbeat: &job.Heartbeat{
			Enabled:       true,
			ContextMode:   mode,
			MaxIterations: maxIter,
		},
	}
}

func TestController_StopsOnSleep(t *testing.T) {
	t.Parallel()

	exec := (&executortest.MockExecutor{}).Script(
		executortest.Response{Output: executor.Output{Content: "checked", Action: "check"}},
		executortest.Response{Output: executor.Output{Content: "acted", Action: "remediate"}},
		executortest.Response{Output: executor.Output{Action: "sleep", Outcome: executor.OutcomeSleep}},
	)
	c := NewController(exec, session.NewManager(session.Config{}), testLogger())

	res, err := c.Run(context.Background(), heartbeatJob(10, job.SessionFullyEphemeral), "watch the queue")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.Iterations != 3 {
		t.Errorf("iterations = %d, want 3", res.Iterations)
	}
	if res.LimitReached {
		t.Error("limit should not be reached on sleep outcome")
	}
	if res.LastAction != "sleep" {
		t.Errorf("last action = %q, want sleep", res.LastAction)
	}
	if res.Output != "acted" {
		t.Errorf("output = %q, want last non-empty content", res.Output)
	}
}

func TestController_IterationLimit(t *testing.T) {
	t.Parallel()

	exec := (&executortest.MockExecutor{}).Script(
		executortest.Response{Output: executor.Output{Content: "busy", Action: "work"}},
	)
	c := NewController(exec, session.NewManager(session.Config{}), testLogger())

	res, err := c.Run(context.Background(), heartbeatJob(4, job.SessionFullyEphemeral), "task")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.Iterations != 4 {
		t.Errorf("iterations = %d, want 4", res.Iterations)
	}
	if !res.LimitReached {
		t.Error("expected limit reached")
	}
	if exec.CallCount() != 4 {
		t.Errorf("executor calls = %d, want 4", exec.CallCount())
	}
}

func TestController_ExecutorError_PartialResult(t *testing.T) {
	t.Parallel()

	boom := errors.New("executor exploded")
	exec := (&executortest.MockExecutor{}).Script(
		executortest.Response{Output: executor.Output{Content: "ok", Action: "check"}},
		executortest.Response{Err: boom},
	)
	c := NewController(exec, session.NewManager(session.Config{}), testLogger())

	res, err := c.Run(context.Background(), heartbeatJob(10, job.SessionFullyEphemeral), "task")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped executor error", err)
	}

	if res.Iterations != 1 {
		t.Errorf("iterations = %d, want 1 completed before failure", res.Iterations)
	}
}

func TestController_SummaryFlowsBetweenIterations(t *testing.T) {
	t.Parallel()

	exec := (&executortest.MockExecutor{}).Script(
		executortest.Response{Output: executor.Output{Content: "state is degraded", Action: "evaluate"}},
		executortest.Response{Output: executor.Output{Action: "sleep", Outcome: executor.OutcomeSleep}},
	)
	c := NewController(exec, session.NewManager(session.Config{}), testLogger())

	_, err := c.Run(context.Background(), heartbeatJob(10, job.SessionEphemeralWithSummary), "task")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	calls := exec.Calls()
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	if calls[0].Input.Summary != "" {
		t.Errorf("first iteration summary = %q, want empty", calls[0].Input.Summary)
	}
	if calls[1].Input.Summary != "state is degraded" {
		t.Errorf("second iteration summary = %q, want prior output", calls[1].Input.Summary)
	}
	if calls[1].Input.Iteration != 2 {
		t.Errorf("second iteration ordinal = %d, want 2", calls[1].Input.Iteration)
	}
}

func TestController_SharedPersistentContextReused(t *testing.T) {
	t.Parallel()

	exec := (&executortest.MockExecutor{}).Script(
		executortest.Response{Output: executor.Output{Content: "a", Action: "work"}},
		executortest.Response{Output: executor.Output{Content: "b", Action: "work"}},
		executortest.Response{Output: executor.Output{Outcome: executor.OutcomeSleep}},
	)
	c := NewController(exec, session.NewManager(session.Config{}), testLogger())

	_, err := c.Run(context.Background(), heartbeatJob(10, job.SessionSharedPersistent), "task")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	calls := exec.Calls()
	if calls[0].Handle != calls[1].Handle {
		t.Error("shared_persistent iterations should reuse one context")
	}
}

func TestController_ContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := &executortest.MockExecutor{}
	c := NewController(exec, session.NewManager(session.Config{}), testLogger())

	_, err := c.Run(ctx, heartbeatJob(10, job.SessionFullyEphemeral), "task")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if exec.CallCount() != 0 {
		t.Errorf("executor calls = %d, want 0 after cancellation", exec.CallCount())
	}
}

func TestController_MissingHeartbeatConfig(t *testing.T) {
	t.Parallel()

	c := NewController(&executortest.MockExecutor{}, session.NewManager(session.Config{}), testLogger())

	_, err := c.Run(context.Background(), &job.Definition{ID: "job-1"}, "task")
	if err == nil {
		t.Fatal("expected error for job without heartbeat config")
	}
}
