package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ThirdKeyAI/symbiont-sched/internal/dispatch"
	"github.com/ThirdKeyAI/symbiont-sched/internal/executor"
	"github.com/ThirdKeyAI/symbiont-sched/internal/job"
	"github.com/ThirdKeyAI/symbiont-sched/internal/policy"
	"github.com/ThirdKeyAI/symbiont-sched/internal/security"
	"github.com/ThirdKeyAI/symbiont-sched/internal/session"
	"github.com/ThirdKeyAI/symbiont-sched/internal/store"
)

const testToken = "test-admin-token"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestGateway builds a gateway over an in-memory dispatcher. The
// dispatcher's tick loop is not started; tests drive it through the API.
func newTestGateway(t *testing.T, mutate func(cfg *Config)) (*Gateway, *store.MemStore) {
	t.Helper()

	st := store.NewMemStore()
	d := dispatch.New(dispatch.Config{}, dispatch.Deps{
		Store:    st,
		Gate:     policy.NewGate(policy.Config{}),
		Sessions: session.NewManager(session.Config{}),
		Executor: executor.Echo{},
		Logger:   discardLogger(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	})

	g := &Gateway{
		config:     Config{Auth: AuthConfig{BearerToken: testToken}},
		logger:     discardLogger(),
		metrics:    &Metrics{},
		limiter:    security.NewRateLimiter(security.RateLimitConfig{}),
		dispatcher: d,
		startedAt:  time.Now(),
	}
	if mutate != nil {
		mutate(&g.config)
	}
	g.config.defaults()
	g.hooks = NewHookDispatcher(g.logger)
	g.hooks.metrics = g.metrics
	g.hooks.dispatcher = d
	for source, cfg := range g.config.Hooks {
		g.hooks.Register(source, cfg.JobID, cfg.Secret)
	}
	return g, st
}

// doRequest runs one request through the gateway's router with admin auth.
func doRequest(t *testing.T, g *Gateway, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rr := httptest.NewRecorder()
	g.buildRouter().ServeHTTP(rr, req)
	return rr
}

func decodeJSON[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return v
}

func testDefinition(name string) *job.Definition {
	return &job.Definition{
		Name:        name,
		AgentRef:    "agent-1",
		Trigger:     job.Trigger{Kind: job.TriggerCron, Expr: "0 * * * *"},
		SessionMode: job.SessionFullyEphemeral,
	}
}

func waitForRun(t *testing.T, st *store.MemStore, runID string) *job.RunRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := st.GetRun(context.Background(), runID)
		if err == nil && rec.Status != job.RunScheduled && rec.Status != job.RunRunning {
			return rec
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("run did not finish before deadline")
	return nil
}
