package dispatch

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/ThirdKeyAI/symbiont-sched/internal/job"
	"github.com/ThirdKeyAI/symbiont-sched/internal/security"
	"github.com/ThirdKeyAI/symbiont-sched/internal/store"
)

// Administrative operations, exposed through the gateway's admin API.
// Every mutation is audited with the acting principal.

// Create registers a new job definition. An empty ID is assigned.
func (d *Dispatcher) Create(ctx context.Context, def *job.Definition, actor string) (*job.Definition, error) {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	def.Status = job.StatusActive
	def.CreatedAt = d.cfg.Now()
	def.UpdatedAt = def.CreatedAt
	def.ConsecutiveFailures = 0
	def.Normalize()
	if err := def.Validate(); err != nil {
		return nil, err
	}

	if err := d.store.Put(ctx, def); err != nil {
		return nil, err
	}
	d.auditChange(actor, def.ID, "job created")
	d.logger.Info("dispatch: job created", "job_id", def.ID, "name", def.Name, "actor", actor)
	return def, nil
}

// Update replaces a definition's configuration while preserving its
// lifecycle state and failure bookkeeping.
func (d *Dispatcher) Update(ctx context.Context, def *job.Definition, actor string) (*job.Definition, error) {
	current, err := d.store.Get(ctx, def.ID)
	if err != nil {
		return nil, err
	}

	def.Status = current.Status
	def.CreatedAt = current.CreatedAt
	def.ConsecutiveFailures = current.ConsecutiveFailures
	def.LastFireAt = current.LastFireAt
	def.UpdatedAt = d.cfg.Now()
	def.Normalize()
	if err := def.Validate(); err != nil {
		return nil, err
	}

	if err := d.store.Put(ctx, def); err != nil {
		return nil, err
	}
	d.auditChange(actor, def.ID, "job updated")
	return def, nil
}

// Pause moves an Active job to Paused. In-flight runs complete; no new
// runs are selected. Session state is handled per the manager's
// reset-on-pause setting.
func (d *Dispatcher) Pause(ctx context.Context, jobID, actor string) error {
	if err := d.store.UpdateStatus(ctx, jobID, job.StatusActive, job.StatusPaused); err != nil {
		return err
	}
	d.sessions.HandlePause(jobID)
	d.auditChange(actor, jobID, "job paused")
	d.logger.Info("dispatch: job paused", "job_id", jobID, "actor", actor)
	return nil
}

// Resume moves a Paused job back to Active.
func (d *Dispatcher) Resume(ctx context.Context, jobID, actor string) error {
	if err := d.store.UpdateStatus(ctx, jobID, job.StatusPaused, job.StatusActive); err != nil {
		return err
	}
	d.auditChange(actor, jobID, "job resumed")
	d.logger.Info("dispatch: job resumed", "job_id", jobID, "actor", actor)
	return nil
}

// ResetDeadLetter moves a DeadLetter job back to Active with a clean
// failure counter and fresh session state.
func (d *Dispatcher) ResetDeadLetter(ctx context.Context, jobID, actor string) error {
	if err := d.store.UpdateStatus(ctx, jobID, job.StatusDeadLetter, job.StatusActive); err != nil {
		return err
	}
	if err := d.store.ResetFailures(ctx, jobID); err != nil {
		return err
	}
	d.sessions.Reset(jobID)
	d.auditChange(actor, jobID, "job reset from dead letter")
	d.logger.Info("dispatch: job reset from dead letter", "job_id", jobID, "actor", actor)
	return nil
}

// DeleteJob removes a definition. Run history is retained; pending
// approvals for the job are discarded.
func (d *Dispatcher) DeleteJob(ctx context.Context, jobID, actor string) error {
	if err := d.store.Delete(ctx, jobID); err != nil {
		return err
	}
	d.sessions.HandleDelete(jobID)

	d.mu.Lock()
	for runID, pa := range d.approvals {
		if pa.jobID == jobID {
			delete(d.approvals, runID)
		}
	}
	d.mu.Unlock()

	d.auditChange(actor, jobID, "job deleted")
	d.logger.Info("dispatch: job deleted", "job_id", jobID, "actor", actor)
	return nil
}

// RunNow fires a job immediately, bypassing its trigger and jitter but
// not its gates or concurrency caps. A non-empty input overrides the
// job's standing input for this run only. Returns the run ID.
func (d *Dispatcher) RunNow(ctx context.Context, jobID, input, actor string) (string, error) {
	def, err := d.store.Get(ctx, jobID)
	if err != nil {
		return "", err
	}
	if def.Status != job.StatusActive {
		return "", fmt.Errorf("dispatch: job %s is %s, not active", jobID, def.Status)
	}

	inFlight, err := d.store.CountInFlight(ctx, jobID)
	if err != nil {
		return "", err
	}
	if inFlight >= def.MaxConcurrent {
		return "", fmt.Errorf("dispatch: job %s at concurrency limit", jobID)
	}
	if !d.withinGlobalCap() {
		return "", fmt.Errorf("dispatch: global in-flight limit reached")
	}

	rec, err := d.appendRun(def, d.cfg.Now())
	if err != nil {
		return "", err
	}
	d.auditChange(actor, jobID, "manual run "+rec.RunID)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.process(def, rec, input)
	}()
	return rec.RunID, nil
}

// Approve releases a run suspended by an approval-gated policy. The
// original run record is replayed; actor must be on the job's approver
// list when one is set.
func (d *Dispatcher) Approve(ctx context.Context, runID, actor string) error {
	d.mu.Lock()
	pa, ok := d.approvals[runID]
	if ok {
		delete(d.approvals, runID)
	}
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("dispatch: no run %s pending approval", runID)
	}

	def, err := d.store.Get(ctx, pa.jobID)
	if err != nil {
		return err
	}
	if def.Status != job.StatusActive {
		return fmt.Errorf("dispatch: job %s is %s, not active", pa.jobID, def.Status)
	}
	if def.Policy != nil && len(def.Policy.Approvers) > 0 &&
		!slices.Contains(def.Policy.Approvers, actor) {
		// Put the suspension back; the run is still approvable.
		d.mu.Lock()
		d.approvals[runID] = pa
		d.mu.Unlock()
		return fmt.Errorf("dispatch: %s is not an approver for job %s", actor, pa.jobID)
	}

	rec, err := d.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if rec.Status != job.RunScheduled {
		return fmt.Errorf("dispatch: run %s already %s", runID, rec.Status)
	}

	if d.audit != nil {
		d.audit.Log(security.AuditEvent{
			Type:     security.EventApprovalGranted,
			JobID:    def.ID,
			RunID:    runID,
			AgentRef: def.AgentRef,
			Actor:    actor,
		})
	}
	d.logger.Info("dispatch: run approved", "job_id", def.ID, "run_id", runID, "actor", actor)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.execute(def, rec, pa.input)
	}()
	return nil
}

// PendingApprovals returns the run IDs currently suspended for approval.
func (d *Dispatcher) PendingApprovals() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.approvals))
	for id := range d.approvals {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Store exposes the backing store for read paths in the admin API.
func (d *Dispatcher) Store() store.Store { return d.store }

func (d *Dispatcher) auditChange(actor, jobID, detail string) {
	if d.audit == nil {
		return
	}
	d.audit.Log(security.AuditEvent{
		Type:   security.EventConfigChange,
		JobID:  jobID,
		Actor:  actor,
		Detail: detail,
	})
}
