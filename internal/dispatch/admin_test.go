package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThirdKeyAI/symbiont-sched/internal/job"
	"github.com/ThirdKeyAI/symbiont-sched/internal/store"
)

func TestAdmin_CreateAssignsIDAndDefaults(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	def := &job.Definition{
		Name:     "nightly sweep",
		AgentRef: "agent-1",
		Trigger:  job.Trigger{Kind: job.TriggerCron, Expr: "0 3 * * *"},
	}

	created, err := env.d.Create(context.Background(), def, "ops-lead")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" {
		t.Error("ID not assigned")
	}
	if created.Status != job.StatusActive {
		t.Errorf("status = %s, want %s", created.Status, job.StatusActive)
	}
	if created.SessionMode != job.SessionEphemeralWithSummary {
		t.Errorf("session mode = %s, want default", created.SessionMode)
	}
	if created.MaxConcurrent != 1 {
		t.Errorf("max concurrent = %d, want 1", created.MaxConcurrent)
	}

	stored := env.job(created.ID)
	if stored.Name != "nightly sweep" {
		t.Errorf("stored name = %q", stored.Name)
	}
}

func TestAdmin_CreateRejectsInvalidDefinition(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	def := &job.Definition{
		Name:    "no agent",
		Trigger: job.Trigger{Kind: job.TriggerCron, Expr: "* * * * *"},
	}

	if _, err := env.d.Create(context.Background(), def, "ops-lead"); !errors.Is(err, job.ErrMissingAgentRef) {
		t.Fatalf("Create err = %v, want ErrMissingAgentRef", err)
	}
}

func TestAdmin_UpdatePreservesLifecycleState(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	def := cronJob("j1", "* * * * *")
	def.ConsecutiveFailures = 2
	def.LastFireAt = baseTime.Add(-time.Minute)
	env.putJob(def)

	updated := cronJob("j1", "*/10 * * * *")
	updated.Input = "new instructions"
	got, err := env.d.Update(context.Background(), updated, "ops-lead")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if got.Trigger.Expr != "*/10 * * * *" {
		t.Errorf("trigger expr = %q", got.Trigger.Expr)
	}
	if got.ConsecutiveFailures != 2 {
		t.Errorf("consecutive failures = %d, want preserved 2", got.ConsecutiveFailures)
	}
	if !got.LastFireAt.Equal(def.LastFireAt) {
		t.Errorf("LastFireAt = %v, want preserved", got.LastFireAt)
	}
	if !got.CreatedAt.Equal(def.CreatedAt) {
		t.Errorf("CreatedAt = %v, want preserved", got.CreatedAt)
	}
}

func TestAdmin_UpdateUnknownJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	if _, err := env.d.Update(context.Background(), cronJob("ghost", "* * * * *"), "ops-lead"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Update err = %v, want ErrNotFound", err)
	}
}

func TestAdmin_PauseResumeCycle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.putJob(cronJob("j1", "* * * * *"))

	if err := env.d.Pause(context.Background(), "j1", "ops-lead"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if got := env.job("j1").Status; got != job.StatusPaused {
		t.Fatalf("status = %s, want %s", got, job.StatusPaused)
	}

	// Paused jobs are not selected.
	env.tickAndWait()
	if recs := env.history("j1"); len(recs) != 0 {
		t.Fatalf("runs while paused = %d, want 0", len(recs))
	}

	// Double pause conflicts.
	if err := env.d.Pause(context.Background(), "j1", "ops-lead"); !errors.Is(err, store.ErrConflict) {
		t.Errorf("second Pause err = %v, want ErrConflict", err)
	}

	if err := env.d.Resume(context.Background(), "j1", "ops-lead"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got := env.job("j1").Status; got != job.StatusActive {
		t.Errorf("status = %s, want %s", got, job.StatusActive)
	}
}

func TestAdmin_ResetDeadLetter(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	def := cronJob("j1", "* * * * *")
	def.Status = job.StatusDeadLetter
	def.ConsecutiveFailures = 4
	env.putJob(def)

	if err := env.d.ResetDeadLetter(context.Background(), "j1", "ops-lead"); err != nil {
		t.Fatalf("ResetDeadLetter: %v", err)
	}

	got := env.job("j1")
	if got.Status != job.StatusActive {
		t.Errorf("status = %s, want %s", got.Status, job.StatusActive)
	}
	if got.ConsecutiveFailures != 0 {
		t.Errorf("consecutive failures = %d, want 0", got.ConsecutiveFailures)
	}

	// Only DeadLetter jobs can be reset.
	if err := env.d.ResetDeadLetter(context.Background(), "j1", "ops-lead"); !errors.Is(err, store.ErrConflict) {
		t.Errorf("reset of active job err = %v, want ErrConflict", err)
	}
}

func TestAdmin_DeleteDropsPendingApprovals(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	def := cronJob("j1", "* * * * *")
	def.Policy = &job.Policy{RequireApproval: true}
	env.putJob(def)

	env.tickAndWait()

	pending := env.d.PendingApprovals()
	if len(pending) != 1 {
		t.Fatalf("pending approvals = %d, want 1", len(pending))
	}

	if err := env.d.DeleteJob(context.Background(), "j1", "ops-lead"); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if got := env.d.PendingApprovals(); len(got) != 0 {
		t.Errorf("pending approvals after delete = %d, want 0", len(got))
	}
	if _, err := env.store.Get(context.Background(), "j1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get after delete err = %v, want ErrNotFound", err)
	}

	// Run history is retained.
	if recs := env.history("j1"); len(recs) != 1 {
		t.Errorf("history after delete = %d, want 1", len(recs))
	}

	// The orphaned approval cannot be replayed.
	if err := env.d.Approve(context.Background(), pending[0], "ops-lead"); err == nil {
		t.Error("Approve after delete succeeded")
	}
}

func TestAdmin_RunNowRespectsPerJobCap(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.exec.Block = make(chan struct{})
	env.putJob(cronJob("j1", "* * * * *"))

	env.d.tick(env.now)
	waitUntil(t, func() bool {
		n, _ := env.store.CountInFlight(context.Background(), "j1")
		return n == 1
	})

	if _, err := env.d.RunNow(context.Background(), "j1", "", "ops-lead"); err == nil {
		t.Error("RunNow succeeded at the per-job concurrency limit")
	}

	close(env.exec.Block)
	env.d.wg.Wait()
}
