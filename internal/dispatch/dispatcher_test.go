package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThirdKeyAI/symbiont-sched/internal/executor"
	"github.com/ThirdKeyAI/symbiont-sched/internal/executor/executortest"
	"github.com/ThirdKeyAI/symbiont-sched/internal/job"
	"github.com/ThirdKeyAI/symbiont-sched/internal/policy"
	"github.com/ThirdKeyAI/symbiont-sched/internal/session"
	"github.com/ThirdKeyAI/symbiont-sched/internal/store"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	t     *testing.T
	store *store.MemStore
	exec  *executortest.MockExecutor
	d     *Dispatcher
	now   time.Time
}

func newTestEnv(t *testing.T, mutate func(cfg *Config, deps *Deps)) *testEnv {
	t.Helper()

	env := &testEnv{
		t:     t,
		store: store.NewMemStore(),
		exec:  &executortest.MockExecutor{},
		now:   baseTime,
	}
	cfg := Config{
		Now:    func() time.Time { return env.now },
		Jitter: func(time.Duration) time.Duration { return 0 },
	}
	deps := Deps{
		Store:    env.store,
		Gate:     policy.NewGate(policy.Config{Environment: "production"}),
		Sessions: session.NewManager(session.Config{}),
		Executor: env.exec,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	env.d = New(cfg, deps)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = env.d.Stop(ctx)
	})
	return env
}

func (env *testEnv) putJob(def *job.Definition) *job.Definition {
	env.t.Helper()
	def.Normalize()
	if err := env.store.Put(context.Background(), def); err != nil {
		env.t.Fatalf("Put: %v", err)
	}
	return def
}

// tickAndWait fires a tick and waits for the spawned run goroutines.
func (env *testEnv) tickAndWait() {
	env.t.Helper()
	env.d.tick(env.now)
	env.d.wg.Wait()
}

func (env *testEnv) history(jobID string) []*job.RunRecord {
	env.t.Helper()
	recs, err := env.store.History(context.Background(), jobID, store.HistoryFilter{})
	if err != nil {
		env.t.Fatalf("History: %v", err)
	}
	return recs
}

func (env *testEnv) job(jobID string) *job.Definition {
	env.t.Helper()
	def, err := env.store.Get(context.Background(), jobID)
	if err != nil {
		env.t.Fatalf("Get: %v", err)
	}
	return def
}

func cronJob(id, expr string) *job.Definition {
	return &job.Definition{
		ID:          id,
		Name:        id,
		AgentRef:    "agent-1",
		Input:       "check the queue",
		Trigger:     job.Trigger{Kind: job.TriggerCron, Expr: expr},
		SessionMode: job.SessionFullyEphemeral,
		Status:      job.StatusActive,
		CreatedAt:   baseTime.Add(-time.Hour),
	}
}

func retries(n int) *int { return &n }

func oneShotJob(id string, at time.Time) *job.Definition {
	return &job.Definition{
		ID:          id,
		Name:        id,
		AgentRef:    "agent-1",
		Trigger:     job.NewOneShotTrigger(at),
		SessionMode: job.SessionFullyEphemeral,
		Status:      job.StatusActive,
		CreatedAt:   baseTime.Add(-time.Hour),
	}
}

func TestDispatcher_FiresDueCronJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.exec.Script(executortest.Response{
		Output: executor.Output{Content: "all clear", Outcome: executor.OutcomeDone},
	})
	env.putJob(cronJob("j1", "*/5 * * * *"))

	env.tickAndWait()

	recs := env.history("j1")
	if len(recs) != 1 {
		t.Fatalf("runs = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Status != job.RunSucceeded {
		t.Errorf("status = %s, want %s", rec.Status, job.RunSucceeded)
	}
	if rec.Output != "all clear" {
		t.Errorf("output = %q", rec.Output)
	}
	if got := env.exec.CallCount(); got != 1 {
		t.Errorf("executor calls = %d, want 1", got)
	}
	if calls := env.exec.Calls(); calls[0].Input.Task != "check the queue" {
		t.Errorf("task = %q", calls[0].Input.Task)
	}
}

func TestDispatcher_NotDueBeforeFireTime(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.putJob(oneShotJob("j1", baseTime.Add(time.Minute)))

	env.tickAndWait()

	if recs := env.history("j1"); len(recs) != 0 {
		t.Fatalf("runs = %d, want 0", len(recs))
	}
}

func TestDispatcher_MissedFiresCoalesce(t *testing.T) {
	t.Parallel()

	// The job was created an hour ago and fires every minute. A single
	// catch-up run covers the backlog.
	env := newTestEnv(t, nil)
	env.putJob(cronJob("j1", "* * * * *"))

	env.tickAndWait()

	if recs := env.history("j1"); len(recs) != 1 {
		t.Fatalf("runs = %d, want 1 coalesced catch-up", len(recs))
	}
	if got := env.exec.CallCount(); got != 1 {
		t.Errorf("executor calls = %d, want 1", got)
	}
}

func TestDispatcher_NoRefireWithinSameMinute(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.putJob(cronJob("j1", "* * * * *"))

	env.tickAndWait()
	env.tickAndWait()

	if recs := env.history("j1"); len(recs) != 1 {
		t.Fatalf("runs = %d, want 1", len(recs))
	}

	// The next minute boundary fires again.
	env.now = env.now.Add(time.Minute)
	env.tickAndWait()
	if recs := env.history("j1"); len(recs) != 2 {
		t.Fatalf("runs = %d, want 2", len(recs))
	}
}

func TestDispatcher_OneShotCompletes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.putJob(oneShotJob("j1", baseTime.Add(-time.Minute)))

	env.tickAndWait()

	if recs := env.history("j1"); len(recs) != 1 {
		t.Fatalf("runs = %d, want 1", len(recs))
	}
	if got := env.job("j1").Status; got != job.StatusCompleted {
		t.Errorf("job status = %s, want %s", got, job.StatusCompleted)
	}

	// Completed jobs never fire again.
	env.now = env.now.Add(time.Hour)
	env.tickAndWait()
	if recs := env.history("j1"); len(recs) != 1 {
		t.Fatalf("runs after completion = %d, want 1", len(recs))
	}
}

func TestDispatcher_OneShotRetriesThenDeadLetters(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.exec.Script(executortest.Response{Err: errors.New("agent unreachable")})
	def := oneShotJob("j1", baseTime.Add(-time.Minute))
	def.MaxRetries = retries(2)
	env.putJob(def)

	// The original attempt and two retries leave the job active, each
	// re-selected on a later tick.
	for i := 0; i < 2; i++ {
		env.tickAndWait()
		if got := env.job("j1").Status; got != job.StatusActive {
			t.Fatalf("after failure %d status = %s, want %s", i+1, got, job.StatusActive)
		}
		env.now = env.now.Add(time.Second)
	}

	// The third consecutive failure exhausts the budget.
	env.tickAndWait()

	got := env.job("j1")
	if got.Status != job.StatusDeadLetter {
		t.Fatalf("status = %s, want %s", got.Status, job.StatusDeadLetter)
	}
	if recs := env.history("j1"); len(recs) != 3 {
		t.Errorf("runs = %d, want 3", len(recs))
	}

	// Dead-lettered one-shots are never selected again.
	env.now = env.now.Add(time.Hour)
	env.tickAndWait()
	if recs := env.history("j1"); len(recs) != 3 {
		t.Errorf("runs after dead-letter = %d, want 3", len(recs))
	}
}

func TestDispatcher_OneShotRetrySuccessCompletes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.exec.Script(
		executortest.Response{Err: errors.New("transient")},
		executortest.Response{Output: executor.Output{Content: "recovered"}},
	)
	def := oneShotJob("j1", baseTime.Add(-time.Minute))
	def.MaxRetries = retries(3)
	env.putJob(def)

	env.tickAndWait()
	if got := env.job("j1").Status; got != job.StatusActive {
		t.Fatalf("status after first failure = %s, want %s", got, job.StatusActive)
	}

	env.now = env.now.Add(time.Second)
	env.tickAndWait()

	got := env.job("j1")
	if got.Status != job.StatusCompleted {
		t.Fatalf("status = %s, want %s", got.Status, job.StatusCompleted)
	}
	if got.ConsecutiveFailures != 0 {
		t.Errorf("consecutive failures = %d, want 0", got.ConsecutiveFailures)
	}
	recs := env.history("j1")
	if len(recs) != 2 {
		t.Fatalf("runs = %d, want 2", len(recs))
	}
	var succeeded *job.RunRecord
	for _, r := range recs {
		if r.Status == job.RunSucceeded {
			succeeded = r
		}
	}
	if succeeded == nil {
		t.Fatal("no succeeded run recorded")
	}
	if succeeded.RetryOrdinal != 1 {
		t.Errorf("retry ordinal = %d, want 1 on the retry attempt", succeeded.RetryOrdinal)
	}
}

func TestDispatcher_ZeroRetriesDeadLettersOnFirstFailure(t *testing.T) {
	t.Parallel()

	// An explicit max_retries of 0 wins over the configured default.
	env := newTestEnv(t, func(cfg *Config, _ *Deps) {
		cfg.DefaultMaxRetries = 5
	})
	env.exec.Script(executortest.Response{Err: errors.New("agent unreachable")})
	def := cronJob("j1", "* * * * *")
	def.MaxRetries = retries(0)
	env.putJob(def)

	env.tickAndWait()

	if got := env.job("j1").Status; got != job.StatusDeadLetter {
		t.Fatalf("status = %s, want %s", got, job.StatusDeadLetter)
	}
	if recs := env.history("j1"); len(recs) != 1 {
		t.Errorf("runs = %d, want 1", len(recs))
	}
}

func TestDispatcher_UnsetRetriesUseConfiguredDefault(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(cfg *Config, _ *Deps) {
		cfg.DefaultMaxRetries = 1
	})
	env.exec.Script(executortest.Response{Err: errors.New("agent unreachable")})
	env.putJob(cronJob("j1", "* * * * *"))

	env.tickAndWait()
	if got := env.job("j1").Status; got != job.StatusActive {
		t.Fatalf("status after first failure = %s, want %s", got, job.StatusActive)
	}

	env.now = env.now.Add(time.Minute)
	env.tickAndWait()
	if got := env.job("j1").Status; got != job.StatusDeadLetter {
		t.Fatalf("status = %s, want %s", got, job.StatusDeadLetter)
	}
}

func TestDispatcher_PerJobConcurrencyCap(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.exec.Block = make(chan struct{})
	env.putJob(cronJob("j1", "* * * * *"))

	// First tick selects and blocks in the executor.
	env.d.tick(env.now)
	waitUntil(t, func() bool {
		n, _ := env.store.CountInFlight(context.Background(), "j1")
		return n == 1
	})

	// Next minute is due, but the in-flight run holds the cap.
	env.now = env.now.Add(time.Minute)
	env.d.tick(env.now)

	close(env.exec.Block)
	env.d.wg.Wait()

	if recs := env.history("j1"); len(recs) != 1 {
		t.Fatalf("runs = %d, want 1", len(recs))
	}
}

func TestDispatcher_GlobalInFlightCap(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(cfg *Config, _ *Deps) {
		cfg.GlobalMaxInFlight = 1
	})
	env.exec.Block = make(chan struct{})
	env.putJob(cronJob("j1", "* * * * *"))

	// j1 occupies the single global slot.
	env.d.tick(env.now)
	waitUntil(t, func() bool {
		n, _ := env.store.CountInFlight(context.Background(), "")
		return n == 1
	})

	if env.d.withinGlobalCap() {
		t.Error("withinGlobalCap = true with the slot occupied")
	}

	// RunNow re-validates the cap before acquiring a context.
	env.putJob(oneShotJob("j2", baseTime.Add(24*time.Hour)))
	if _, err := env.d.RunNow(context.Background(), "j2", "", "ops-lead"); err == nil {
		t.Error("RunNow succeeded at the global in-flight limit")
	}

	close(env.exec.Block)
	env.d.wg.Wait()

	if !env.d.withinGlobalCap() {
		t.Error("withinGlobalCap = false after the run finished")
	}
	if recs := env.history("j2"); len(recs) != 0 {
		t.Errorf("j2 runs = %d, want 0", len(recs))
	}
}

func TestDispatcher_PauseAfterSelectionDropsRun(t *testing.T) {
	t.Parallel()

	jitterEntered := make(chan struct{})
	jitterRelease := make(chan struct{})
	env := newTestEnv(t, func(cfg *Config, _ *Deps) {
		cfg.MaxJitter = time.Minute
		cfg.Jitter = func(time.Duration) time.Duration {
			close(jitterEntered)
			<-jitterRelease
			return 0
		}
	})
	env.putJob(cronJob("j1", "* * * * *"))

	env.d.tick(env.now)
	<-jitterEntered

	// Pause lands while the run sits in its jitter window.
	if err := env.store.UpdateStatus(context.Background(), "j1", job.StatusActive, job.StatusPaused); err != nil {
		t.Fatalf("pause: %v", err)
	}
	close(jitterRelease)
	env.d.wg.Wait()

	if recs := env.history("j1"); len(recs) != 0 {
		t.Fatalf("runs = %d, want 0 after pause", len(recs))
	}
	if got := env.exec.CallCount(); got != 0 {
		t.Errorf("executor calls = %d, want 0", got)
	}
}

func TestDispatcher_PolicyDenyFailsRunWithoutExecution(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	def := cronJob("j1", "* * * * *")
	def.Policy = &job.Policy{AllowedEnvironments: []string{"staging"}}
	def.MaxRetries = retries(5)
	env.putJob(def)

	env.tickAndWait()

	recs := env.history("j1")
	if len(recs) != 1 {
		t.Fatalf("runs = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Status != job.RunFailed {
		t.Fatalf("status = %s, want %s", rec.Status, job.RunFailed)
	}
	if rec.Error == nil || rec.Error.Cause != job.CausePolicyDenied {
		t.Errorf("error = %+v, want cause %s", rec.Error, job.CausePolicyDenied)
	}
	if got := env.exec.CallCount(); got != 0 {
		t.Errorf("executor calls = %d, want 0", got)
	}
	if got := env.job("j1").ConsecutiveFailures; got != 1 {
		t.Errorf("consecutive failures = %d, want 1", got)
	}
}

func TestDispatcher_IdentityRequiredWithoutVerifierFails(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	def := cronJob("j1", "* * * * *")
	def.Policy = &job.Policy{RequireIdentity: true}
	def.IdentityToken = "not-a-token"
	def.MaxRetries = retries(5)
	env.putJob(def)

	env.tickAndWait()

	recs := env.history("j1")
	if len(recs) != 1 {
		t.Fatalf("runs = %d, want 1", len(recs))
	}
	if recs[0].Error == nil || recs[0].Error.Cause != job.CauseIdentityVerification {
		t.Errorf("error = %+v, want cause %s", recs[0].Error, job.CauseIdentityVerification)
	}
	if got := env.exec.CallCount(); got != 0 {
		t.Errorf("executor calls = %d, want 0", got)
	}
}

func TestDispatcher_TimeoutMapsToTimeoutCause(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.exec.Block = make(chan struct{}) // never released; timeout fires
	def := cronJob("j1", "* * * * *")
	def.Policy = &job.Policy{MaxRuntime: 20 * time.Millisecond}
	def.MaxRetries = retries(5)
	env.putJob(def)

	env.tickAndWait()

	recs := env.history("j1")
	if len(recs) != 1 {
		t.Fatalf("runs = %d, want 1", len(recs))
	}
	if recs[0].Error == nil || recs[0].Error.Cause != job.CauseTimeoutExceeded {
		t.Errorf("error = %+v, want cause %s", recs[0].Error, job.CauseTimeoutExceeded)
	}
}

func TestDispatcher_RetryCounterAndDeadLetter(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.exec.Script(executortest.Response{Err: errors.New("agent unreachable")})
	def := cronJob("j1", "* * * * *")
	def.MaxRetries = retries(2)
	env.putJob(def)

	// Original attempt plus two retries leave the job active.
	for i := 0; i < 2; i++ {
		env.tickAndWait()
		if got := env.job("j1").Status; got != job.StatusActive {
			t.Fatalf("after failure %d status = %s, want %s", i+1, got, job.StatusActive)
		}
		env.now = env.now.Add(time.Minute)
	}

	// Third consecutive failure exhausts the budget.
	env.tickAndWait()

	got := env.job("j1")
	if got.Status != job.StatusDeadLetter {
		t.Fatalf("status = %s, want %s", got.Status, job.StatusDeadLetter)
	}
	if got.ConsecutiveFailures != 3 {
		t.Errorf("consecutive failures = %d, want 3", got.ConsecutiveFailures)
	}
	if recs := env.history("j1"); len(recs) != 3 {
		t.Errorf("runs = %d, want 3", len(recs))
	}

	// Dead-lettered jobs are not selected.
	env.now = env.now.Add(time.Minute)
	env.tickAndWait()
	if recs := env.history("j1"); len(recs) != 3 {
		t.Errorf("runs after dead-letter = %d, want 3", len(recs))
	}
}

func TestDispatcher_SuccessResetsFailureCounter(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.exec.Script(
		executortest.Response{Err: errors.New("transient")},
		executortest.Response{Output: executor.Output{Content: "recovered"}},
	)
	def := cronJob("j1", "* * * * *")
	def.MaxRetries = retries(5)
	env.putJob(def)

	env.tickAndWait()
	if got := env.job("j1").ConsecutiveFailures; got != 1 {
		t.Fatalf("consecutive failures = %d, want 1", got)
	}

	env.now = env.now.Add(time.Minute)
	env.tickAndWait()
	if got := env.job("j1").ConsecutiveFailures; got != 0 {
		t.Errorf("consecutive failures = %d, want 0 after success", got)
	}
}

func TestDispatcher_ApprovalSuspendsAndReplays(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.exec.Script(executortest.Response{
		Output: executor.Output{Content: "approved work done"},
	})
	def := cronJob("j1", "* * * * *")
	def.Policy = &job.Policy{
		RequireApproval: true,
		Approvers:       []string{"ops-lead"},
	}
	env.putJob(def)

	events, unsub := env.d.Events().Subscribe()
	defer unsub()

	env.tickAndWait()

	// Suspended: record appended but nothing executed.
	recs := env.history("j1")
	if len(recs) != 1 {
		t.Fatalf("runs = %d, want 1", len(recs))
	}
	if recs[0].Status != job.RunScheduled {
		t.Fatalf("status = %s, want %s while suspended", recs[0].Status, job.RunScheduled)
	}
	if got := env.exec.CallCount(); got != 0 {
		t.Fatalf("executor calls = %d, want 0 before approval", got)
	}
	ev := <-events
	if ev.Type != EventRunSuspended {
		t.Fatalf("event = %s, want %s", ev.Type, EventRunSuspended)
	}
	scheduledFor := recs[0].ScheduledFor

	// Wrong actor is rejected and the suspension survives.
	if err := env.d.Approve(context.Background(), recs[0].RunID, "intern"); err == nil {
		t.Fatal("Approve by non-approver succeeded")
	}

	if err := env.d.Approve(context.Background(), recs[0].RunID, "ops-lead"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	env.d.wg.Wait()

	recs = env.history("j1")
	if len(recs) != 1 {
		t.Fatalf("runs after approval = %d, want the original record replayed", len(recs))
	}
	if recs[0].Status != job.RunSucceeded {
		t.Errorf("status = %s, want %s", recs[0].Status, job.RunSucceeded)
	}
	if !recs[0].ScheduledFor.Equal(scheduledFor) {
		t.Errorf("ScheduledFor changed on replay: %v != %v", recs[0].ScheduledFor, scheduledFor)
	}

	// Second approval of the same run fails.
	if err := env.d.Approve(context.Background(), recs[0].RunID, "ops-lead"); err == nil {
		t.Error("second Approve succeeded")
	}
}

func TestDispatcher_RunNow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.exec.Script(executortest.Response{
		Output: executor.Output{Content: "manual result"},
	})
	// Trigger far in the future; RunNow bypasses it.
	env.putJob(oneShotJob("j1", baseTime.Add(24*time.Hour)))

	runID, err := env.d.RunNow(context.Background(), "j1", "urgent sweep", "ops-lead")
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	env.d.wg.Wait()

	rec, err := env.store.GetRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if rec.Status != job.RunSucceeded {
		t.Errorf("status = %s, want %s", rec.Status, job.RunSucceeded)
	}
	if calls := env.exec.Calls(); calls[0].Input.Task != "urgent sweep" {
		t.Errorf("task = %q, want the per-run override", calls[0].Input.Task)
	}
}

func TestDispatcher_RunNowRejectsPausedJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	def := cronJob("j1", "* * * * *")
	def.Status = job.StatusPaused
	env.putJob(def)

	if _, err := env.d.RunNow(context.Background(), "j1", "", "ops-lead"); err == nil {
		t.Fatal("RunNow on paused job succeeded")
	}
}

func TestDispatcher_ReconcileInterruptedRuns(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	def := cronJob("j1", "* * * * *")
	def.MaxRetries = retries(5)
	env.putJob(def)

	// Simulate a run left Running by a crashed process.
	orphan := &job.RunRecord{
		RunID:        "orphan-1",
		JobID:        "j1",
		ScheduledFor: baseTime.Add(-time.Minute),
		Status:       job.RunRunning,
		StartedAt:    baseTime.Add(-time.Minute),
	}
	if err := env.store.AppendRun(context.Background(), orphan); err != nil {
		t.Fatalf("AppendRun: %v", err)
	}
	if err := env.store.MarkRunning(context.Background(), "orphan-1", orphan.StartedAt); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}

	if err := env.d.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	rec, err := env.store.GetRun(context.Background(), "orphan-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if rec.Status != job.RunFailed {
		t.Errorf("status = %s, want %s", rec.Status, job.RunFailed)
	}
	if rec.Error == nil || rec.Error.Cause != job.CauseInterruptedByRestart {
		t.Errorf("error = %+v, want cause %s", rec.Error, job.CauseInterruptedByRestart)
	}
	if got := env.job("j1").ConsecutiveFailures; got != 1 {
		t.Errorf("consecutive failures = %d, want 1", got)
	}

	// Idempotent: a second sweep finds nothing.
	if err := env.d.Reconcile(context.Background()); err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if got := env.job("j1").ConsecutiveFailures; got != 1 {
		t.Errorf("consecutive failures after resweep = %d, want 1", got)
	}
}

func TestDispatcher_HeartbeatJobRecordsIterations(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.exec.Script(
		executortest.Response{Output: executor.Output{Content: "working", Outcome: executor.OutcomeDone}},
		executortest.Response{Output: executor.Output{Content: "idle", Action: "sleep", Outcome: executor.OutcomeSleep}},
	)
	def := cronJob("j1", "* * * * *")
	def.Heartbeat = &job.Heartbeat{Enabled: true, MaxIterations: 5}
	env.putJob(def)

	env.tickAndWait()

	recs := env.history("j1")
	if len(recs) != 1 {
		t.Fatalf("runs = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Status != job.RunSucceeded {
		t.Fatalf("status = %s, want %s", rec.Status, job.RunSucceeded)
	}
	if got := rec.Meta[job.MetaHeartbeatIterations]; got != "2" {
		t.Errorf("iterations meta = %q, want 2", got)
	}
	if got := rec.Meta[job.MetaHeartbeatLastAction]; got != "sleep" {
		t.Errorf("last action meta = %q, want sleep", got)
	}
}

func TestDispatcher_EventsPublishedForRunLifecycle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.exec.Script(executortest.Response{Output: executor.Output{Content: "ok"}})
	env.putJob(cronJob("j1", "* * * * *"))

	events, unsub := env.d.Events().Subscribe()
	defer unsub()

	env.tickAndWait()

	started := <-events
	if started.Type != EventRunStarted || started.JobID != "j1" {
		t.Fatalf("first event = %+v, want run started for j1", started)
	}
	finished := <-events
	if finished.Type != EventRunFinished || finished.Status != job.RunSucceeded {
		t.Fatalf("second event = %+v, want successful finish", finished)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
