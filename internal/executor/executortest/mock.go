// Package executortest provides test doubles for the executor package.
package executortest

import (
	"context"
	"sync"

	"github.com/ThirdKeyAI/symbiont-sched/internal/executor"
	"github.com/ThirdKeyAI/symbiont-sched/internal/session"
)

// Call records one Execute invocation.
type Call struct {
	AgentRef string
	Handle   *session.Handle
	Input    executor.Input
}

// MockExecutor is a configurable test double for executor.Executor.
// Responses are consumed in order; when they run out, the last one
// repeats. With no responses configured it returns an empty success.
type MockExecutor struct {
	// ExecuteFunc, if set, overrides the scripted responses entirely.
	ExecuteFunc func(ctx context.Context, agentRef string, handle *session.Handle, input executor.Input) (executor.Output, error)

	// Block, if non-nil, is received from before responding. Used to
	// hold a run in flight or to force a context timeout.
	Block chan struct{}

	mu        sync.Mutex
	responses []Response
	calls     []Call
}

// Response is one scripted Execute result.
type Response struct {
	Output executor.Output
	Err    error
}

// Compile-time interface check.
var _ executor.Executor = (*MockExecutor)(nil)

// Script appends scripted responses.
func (m *MockExecutor) Script(responses ...Response) *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, responses...)
	return m
}

// Execute implements executor.Executor.
func (m *MockExecutor) Execute(ctx context.Context, agentRef string, handle *session.Handle, input executor.Input) (executor.Output, error) {
	if m.Block != nil {
		select {
		case <-m.Block:
		case <-ctx.Done():
			return executor.Output{}, ctx.Err()
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, Call{AgentRef: agentRef, Handle: handle, Input: input})
	var resp Response
	if n := len(m.responses); n > 0 {
		resp = m.responses[0]
		if n > 1 {
			m.responses = m.responses[1:]
		}
	}
	m.mu.Unlock()

	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, agentRef, handle, input)
	}
	return resp.Output, resp.Err
}

// CallCount returns the number of Execute invocations.
func (m *MockExecutor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns a copy of all recorded invocations.
func (m *MockExecutor) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}
