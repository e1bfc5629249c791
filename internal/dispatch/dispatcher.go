// Package dispatch implements the tick-loop dispatcher: due-job
// selection, jitter, concurrency enforcement, the identity/policy/
// execute/deliver run pipeline, retry and dead-letter bookkeeping, and
// restart reconciliation.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ThirdKeyAI/symbiont-sched/internal/delivery"
	"github.com/ThirdKeyAI/symbiont-sched/internal/executor"
	"github.com/ThirdKeyAI/symbiont-sched/internal/heartbeat"
	"github.com/ThirdKeyAI/symbiont-sched/internal/identity"
	"github.com/ThirdKeyAI/symbiont-sched/internal/job"
	"github.com/ThirdKeyAI/symbiont-sched/internal/policy"
	"github.com/ThirdKeyAI/symbiont-sched/internal/security"
	"github.com/ThirdKeyAI/symbiont-sched/internal/session"
	"github.com/ThirdKeyAI/symbiont-sched/internal/store"
)

// Config holds dispatcher tuning.
type Config struct {
	// TickInterval between due-job scans. Default 1s.
	TickInterval time.Duration

	// MaxJitter bounds the random pre-run delay. Zero disables jitter.
	MaxJitter time.Duration

	// GlobalMaxInFlight caps in-flight runs across all jobs. Zero is
	// unlimited.
	GlobalMaxInFlight int

	// DefaultMaxRetries applies to jobs that do not set max_retries.
	// Zero, the default, dead-letters such jobs on their first failure.
	DefaultMaxRetries int

	// Capabilities granted to every execution context, checked by the
	// policy gate against required_capabilities.
	Capabilities []string

	// Now overrides time.Now for testing.
	Now func() time.Time

	// Jitter overrides the random delay for testing.
	Jitter func(max time.Duration) time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.DefaultMaxRetries < 0 {
		c.DefaultMaxRetries = 0
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Jitter == nil {
		c.Jitter = func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return rand.N(max)
		}
	}
	return c
}

// Deps are the collaborators the dispatcher drives.
type Deps struct {
	Store    store.Store
	Gate     *policy.Gate
	Verifier *identity.Verifier // nil disables identity verification
	Sessions *session.Manager
	Executor executor.Executor
	Router   *delivery.Router
	Audit    *security.AuditLogger
	Logger   *slog.Logger
	Registry prometheus.Registerer // nil leaves metrics unregistered
}

type pendingApproval struct {
	jobID string
	input string
}

// Dispatcher runs the scheduling loop. Create with New, then Start.
type Dispatcher struct {
	cfg      Config
	store    store.Store
	gate     *policy.Gate
	verifier *identity.Verifier
	sessions *session.Manager
	exec     executor.Executor
	hb       *heartbeat.Controller
	router   *delivery.Router
	audit    *security.AuditLogger
	logger   *slog.Logger
	metrics  *Metrics
	bus      *Bus

	baseCtx context.Context
	cancel  context.CancelFunc

	mu        sync.Mutex
	approvals map[string]pendingApproval // runID -> suspended run

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a dispatcher.
func New(cfg Config, deps Deps) *Dispatcher {
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:       cfg,
		store:     deps.Store,
		gate:      deps.Gate,
		verifier:  deps.Verifier,
		sessions:  deps.Sessions,
		exec:      deps.Executor,
		hb:        heartbeat.NewController(deps.Executor, deps.Sessions, logger),
		router:    deps.Router,
		audit:     deps.Audit,
		logger:    logger,
		metrics:   NewMetrics(deps.Registry),
		bus:       NewBus(),
		baseCtx:   ctx,
		cancel:    cancel,
		approvals: make(map[string]pendingApproval),
		stop:      make(chan struct{}),
	}
}

// Events returns the run-event bus for streaming consumers.
func (d *Dispatcher) Events() *Bus { return d.bus }

// Start reconciles interrupted runs and begins the tick loop.
func (d *Dispatcher) Start() error {
	if err := d.Reconcile(d.baseCtx); err != nil {
		return err
	}

	d.wg.Add(1)
	go d.loop()
	d.logger.Info("dispatch: started",
		"tick_interval", d.cfg.TickInterval, "max_jitter", d.cfg.MaxJitter)
	return nil
}

// Stop halts selection and waits for in-flight runs to finish, up to
// ctx's deadline. Runs still pending after the deadline are abandoned to
// restart reconciliation.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() { close(d.stop) })

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return errors.New("dispatch: shutdown timeout with runs in flight")
	}
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.tick(d.cfg.Now())
		}
	}
}

// tick scans active jobs and fires the due ones. Store unavailability
// abandons the current tick only.
func (d *Dispatcher) tick(now time.Time) {
	d.metrics.Ticks.Inc()

	defs, err := d.store.List(d.baseCtx, store.Filter{Status: job.StatusActive})
	if err != nil {
		d.logger.Warn("dispatch: tick skipped, store list failed", "error", err)
		return
	}

	for _, def := range defs {
		d.maybeFire(def, now)
	}
}

// maybeFire checks due-ness and the per-job concurrency cap, stamps the
// fire, and hands off to an independent run goroutine. Missed fires
// coalesce: one catch-up run regardless of how many fire times elapsed.
func (d *Dispatcher) maybeFire(def *job.Definition, now time.Time) {
	anchor := def.LastFireAt
	if def.Trigger.OneShot() {
		if def.ConsecutiveFailures > 0 {
			// A failed one-shot stays due: a zero anchor re-arms the
			// trigger so it is re-selected each tick until a success
			// completes it or the retry budget dead-letters it.
			anchor = time.Time{}
		}
	} else if anchor.IsZero() {
		// Never-fired cron jobs anchor on creation so elapsed fire
		// times coalesce into one catch-up run.
		anchor = def.CreatedAt
	}
	fireAt, due := def.Trigger.Due(anchor, now)
	if !due {
		return
	}

	inFlight, err := d.store.CountInFlight(d.baseCtx, def.ID)
	if err != nil {
		d.logger.Warn("dispatch: in-flight count failed", "job_id", def.ID, "error", err)
		return
	}
	if inFlight >= def.MaxConcurrent {
		d.logger.Debug("dispatch: concurrency cap reached, skipping tick",
			"job_id", def.ID, "in_flight", inFlight, "max_concurrent", def.MaxConcurrent)
		return
	}

	if err := d.store.MarkFired(d.baseCtx, def.ID, now); err != nil {
		d.logger.Warn("dispatch: marking fire failed", "job_id", def.ID, "error", err)
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runScheduled(def.ID, fireAt)
	}()
}

// runScheduled is the per-run unit for trigger-selected work: jitter,
// re-check, then the shared pipeline.
func (d *Dispatcher) runScheduled(jobID string, fireAt time.Time) {
	if d.cfg.MaxJitter > 0 {
		select {
		case <-time.After(d.cfg.Jitter(d.cfg.MaxJitter)):
		case <-d.stop:
			return
		}
	}

	// Re-read after the jitter window: a pause or delete issued since
	// selection must prevent execution.
	def, err := d.store.Get(d.baseCtx, jobID)
	if err != nil {
		d.logger.Warn("dispatch: job vanished after selection", "job_id", jobID, "error", err)
		return
	}
	if def.Status != job.StatusActive {
		d.logger.Debug("dispatch: job no longer active, dropping selection",
			"job_id", jobID, "status", def.Status)
		return
	}

	if !d.withinGlobalCap() {
		d.logger.Debug("dispatch: global in-flight cap reached, skipping", "job_id", jobID)
		return
	}

	rec, err := d.appendRun(def, fireAt)
	if err != nil {
		return
	}
	d.process(def, rec, "")
}

func (d *Dispatcher) withinGlobalCap() bool {
	if d.cfg.GlobalMaxInFlight <= 0 {
		return true
	}
	total, err := d.store.CountInFlight(d.baseCtx, "")
	if err != nil {
		d.logger.Warn("dispatch: global in-flight count failed", "error", err)
		return false
	}
	return total < d.cfg.GlobalMaxInFlight
}

func (d *Dispatcher) maxRetries(def *job.Definition) int {
	if def.MaxRetries != nil {
		return *def.MaxRetries
	}
	return d.cfg.DefaultMaxRetries
}
