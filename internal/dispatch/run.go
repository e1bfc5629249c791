package dispatch

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ThirdKeyAI/symbiont-sched/internal/delivery"
	"github.com/ThirdKeyAI/symbiont-sched/internal/executor"
	"github.com/ThirdKeyAI/symbiont-sched/internal/job"
	"github.com/ThirdKeyAI/symbiont-sched/internal/policy"
	"github.com/ThirdKeyAI/symbiont-sched/internal/security"
	"github.com/ThirdKeyAI/symbiont-sched/internal/store"
)

func (d *Dispatcher) appendRun(def *job.Definition, fireAt time.Time) (*job.RunRecord, error) {
	rec := &job.RunRecord{
		RunID:        uuid.NewString(),
		JobID:        def.ID,
		ScheduledFor: fireAt,
		Status:       job.RunScheduled,
		RetryOrdinal: def.ConsecutiveFailures,
	}
	if err := d.store.AppendRun(d.baseCtx, rec); err != nil {
		d.logger.Error("dispatch: appending run failed", "job_id", def.ID, "error", err)
		return nil, err
	}
	return rec, nil
}

// process runs the pre-execution gates and then the executor pipeline
// for one run record.
func (d *Dispatcher) process(def *job.Definition, rec *job.RunRecord, inputOverride string) {
	if def.RequiresIdentity() {
		if err := d.verifyIdentity(def); err != nil {
			if d.audit != nil {
				d.audit.Log(security.AuditEvent{
					Type:     security.EventIdentityFailure,
					JobID:    def.ID,
					RunID:    rec.RunID,
					AgentRef: def.AgentRef,
					Detail:   err.Error(),
				})
			}
			d.failRun(def, rec, job.CauseIdentityVerification, err.Error(), "", nil)
			return
		}
	}

	dec := d.gate.Evaluate(def, policy.Descriptor{Capabilities: d.cfg.Capabilities})
	switch dec.Verdict {
	case policy.Deny:
		d.failRun(def, rec, job.CausePolicyDenied, dec.Reason, "", nil)
		return
	case policy.RequireApproval:
		d.suspend(def, rec, inputOverride)
		return
	}

	d.execute(def, rec, inputOverride)
}

func (d *Dispatcher) verifyIdentity(def *job.Definition) error {
	if d.verifier == nil {
		return errors.New("identity verification required but no verifier configured")
	}
	_, err := d.verifier.Verify(def.IdentityToken, def.AgentRef)
	return err
}

// suspend parks an approval-gated run. The record stays Scheduled until
// an administrative approval replays it or restart reconciliation
// sweeps it up.
func (d *Dispatcher) suspend(def *job.Definition, rec *job.RunRecord, inputOverride string) {
	d.mu.Lock()
	d.approvals[rec.RunID] = pendingApproval{jobID: def.ID, input: inputOverride}
	d.mu.Unlock()

	d.logger.Info("dispatch: run suspended pending approval",
		"job_id", def.ID, "run_id", rec.RunID)
	d.bus.Publish(Event{
		Type:   EventRunSuspended,
		JobID:  def.ID,
		RunID:  rec.RunID,
		Status: job.RunScheduled,
	})
}

// execute drives the executor (discrete or heartbeat), finalizes the
// run exactly once, applies success/failure bookkeeping, and routes
// delivery.
func (d *Dispatcher) execute(def *job.Definition, rec *job.RunRecord, inputOverride string) {
	started := d.cfg.Now()
	if err := d.store.MarkRunning(d.baseCtx, rec.RunID, started); err != nil {
		d.logger.Warn("dispatch: marking run running failed",
			"run_id", rec.RunID, "error", err)
		return
	}
	rec.StartedAt = started

	d.metrics.InFlight.Inc()
	defer d.metrics.InFlight.Dec()

	d.bus.Publish(Event{Type: EventRunStarted, JobID: def.ID, RunID: rec.RunID, Status: job.RunRunning})
	if d.audit != nil {
		d.audit.Log(security.AuditEvent{
			Type: security.EventRunStart, JobID: def.ID, RunID: rec.RunID, AgentRef: def.AgentRef,
		})
	}

	runCtx := d.baseCtx
	if maxRuntime := def.EffectiveMaxRuntime(); maxRuntime > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, maxRuntime)
		defer cancel()
	}

	input := def.Input
	if inputOverride != "" {
		input = inputOverride
	}

	output, meta, execErr := d.invoke(runCtx, def, input)
	if execErr != nil {
		cause := job.CauseExecutorError
		if errors.Is(execErr, context.DeadlineExceeded) {
			cause = job.CauseTimeoutExceeded
		}
		d.failRun(def, rec, cause, execErr.Error(), output, meta)
		return
	}

	finished := d.cfg.Now()
	out := store.Outcome{
		Status:     job.RunSucceeded,
		Output:     output,
		FinishedAt: finished,
		Meta:       meta,
	}
	if err := d.store.FinalizeRun(d.baseCtx, rec.RunID, out); err != nil {
		d.logger.Error("dispatch: finalizing run failed", "run_id", rec.RunID, "error", err)
		return
	}
	if err := d.store.ResetFailures(d.baseCtx, def.ID); err != nil {
		d.logger.Warn("dispatch: resetting failure counter failed", "job_id", def.ID, "error", err)
	}

	d.metrics.RunsTotal.WithLabelValues(string(job.RunSucceeded)).Inc()
	d.metrics.RunDuration.Observe(finished.Sub(started).Seconds())
	d.bus.Publish(Event{
		Type: EventRunFinished, JobID: def.ID, RunID: rec.RunID,
		Status: job.RunSucceeded, Meta: meta,
	})
	if d.audit != nil {
		d.audit.Log(security.AuditEvent{
			Type: security.EventRunFinish, JobID: def.ID, RunID: rec.RunID,
			AgentRef: def.AgentRef, Detail: "succeeded", Metadata: meta,
		})
	}

	if def.Trigger.OneShot() {
		if err := d.store.UpdateStatus(d.baseCtx, def.ID, job.StatusActive, job.StatusCompleted); err != nil {
			// A pause or delete raced the completion; the run result
			// stands either way.
			d.logger.Debug("dispatch: one-shot completion transition skipped",
				"job_id", def.ID, "error", err)
		}
	}

	d.deliver(def, rec, out)
}

// invoke calls the executor once for a discrete run or drives the
// heartbeat loop for heartbeat-enabled jobs.
func (d *Dispatcher) invoke(ctx context.Context, def *job.Definition, input string) (string, map[string]string, error) {
	if def.Heartbeat != nil && def.Heartbeat.Enabled {
		res, err := d.hb.Run(ctx, def, input)
		meta := map[string]string{
			job.MetaHeartbeatIterations: strconv.Itoa(res.Iterations),
			job.MetaHeartbeatLastAction: res.LastAction,
		}
		return res.Output, meta, err
	}

	handle, err := d.sessions.Acquire(def.ID, def.SessionMode)
	if err != nil {
		return "", nil, err
	}
	out, err := d.exec.Execute(ctx, def.AgentRef, handle, executor.Input{
		Task:    input,
		Summary: handle.Summary,
	})
	d.sessions.Release(handle, out.Content)
	return out.Content, nil, err
}

// failRun finalizes a run as Failed and applies retry and dead-letter
// bookkeeping.
func (d *Dispatcher) failRun(def *job.Definition, rec *job.RunRecord, cause job.FailureCause, msg, output string, meta map[string]string) {
	finished := d.cfg.Now()
	runErr := &job.RunError{Cause: cause, Message: msg}
	out := store.Outcome{
		Status:     job.RunFailed,
		Output:     output,
		Error:      runErr,
		FinishedAt: finished,
		Meta:       meta,
	}
	if err := d.store.FinalizeRun(d.baseCtx, rec.RunID, out); err != nil {
		d.logger.Error("dispatch: finalizing failed run", "run_id", rec.RunID, "error", err)
		return
	}

	d.metrics.RunsTotal.WithLabelValues(string(job.RunFailed)).Inc()
	d.bus.Publish(Event{
		Type: EventRunFinished, JobID: def.ID, RunID: rec.RunID,
		Status: job.RunFailed, Cause: cause, Detail: msg,
	})
	if d.audit != nil {
		d.audit.Log(security.AuditEvent{
			Type: security.EventRunFinish, JobID: def.ID, RunID: rec.RunID,
			AgentRef: def.AgentRef, Detail: runErr.Error(),
		})
	}
	d.logger.Warn("dispatch: run failed",
		"job_id", def.ID, "run_id", rec.RunID, "cause", cause, "error", msg)

	d.applyRetry(def)
	d.deliver(def, rec, out)
}

// applyRetry bumps the consecutive-failure counter and dead-letters the
// job once the retry budget is exhausted: the original attempt plus
// max_retries further failures.
func (d *Dispatcher) applyRetry(def *job.Definition) {
	n, err := d.store.BumpFailures(d.baseCtx, def.ID)
	if err != nil {
		d.logger.Error("dispatch: bumping failure counter", "job_id", def.ID, "error", err)
		return
	}
	if n <= d.maxRetries(def) {
		return
	}

	err = d.store.UpdateStatus(d.baseCtx, def.ID, job.StatusActive, job.StatusDeadLetter)
	if errors.Is(err, store.ErrConflict) {
		// Paused or deleted since selection; nothing to dead-letter.
		return
	}
	if err != nil {
		d.logger.Error("dispatch: dead-letter transition failed", "job_id", def.ID, "error", err)
		return
	}

	d.metrics.DeadLetters.Inc()
	d.logger.Error("dispatch: job dead-lettered",
		"job_id", def.ID, "consecutive_failures", n)
	d.bus.Publish(Event{Type: EventJobDeadLettered, JobID: def.ID})
	if d.audit != nil {
		d.audit.Log(security.AuditEvent{
			Type: security.EventDeadLetter, JobID: def.ID, AgentRef: def.AgentRef,
			Detail: "consecutive failures " + strconv.Itoa(n),
		})
	}
}

// deliver routes the run result to the job's channels. Delivery never
// affects the run's recorded status.
func (d *Dispatcher) deliver(def *job.Definition, rec *job.RunRecord, out store.Outcome) {
	if d.router == nil || len(def.Channels) == 0 {
		return
	}

	payload := delivery.Payload{
		JobID:        def.ID,
		JobName:      def.Name,
		RunID:        rec.RunID,
		Status:       string(out.Status),
		Output:       out.Output,
		ScheduledFor: rec.ScheduledFor,
		FinishedAt:   out.FinishedAt,
		Meta:         out.Meta,
	}
	if out.Error != nil {
		payload.Error = out.Error.Error()
	}
	d.router.Route(d.baseCtx, def, payload)
}

// Reconcile sweeps runs left Scheduled or Running by a previous process,
// finalizing each as Failed with CauseInterruptedByRestart exactly once
// and applying normal retry logic.
func (d *Dispatcher) Reconcile(ctx context.Context) error {
	recs, err := d.store.ReconcileInterrupted(ctx, d.cfg.Now())
	if err != nil {
		return err
	}

	for _, rec := range recs {
		d.logger.Warn("dispatch: reconciled interrupted run",
			"job_id", rec.JobID, "run_id", rec.RunID)
		d.metrics.RunsTotal.WithLabelValues(string(job.RunFailed)).Inc()
		d.bus.Publish(Event{
			Type: EventRunFinished, JobID: rec.JobID, RunID: rec.RunID,
			Status: job.RunFailed, Cause: job.CauseInterruptedByRestart,
		})

		def, err := d.store.Get(ctx, rec.JobID)
		if err != nil {
			// Definition deleted while the run was in flight.
			continue
		}
		d.applyRetry(def)
	}
	return nil
}
