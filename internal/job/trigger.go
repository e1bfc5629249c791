package job

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerKind discriminates the trigger variant.
type TriggerKind string

// Trigger kinds.
const (
	TriggerCron TriggerKind = "cron"
	TriggerAt   TriggerKind = "at"
)

// cronParser accepts the standard 5-field expression
// (minute hour day-of-month month day-of-week).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Trigger is the tagged cron/one-shot variant. Exactly one of Expr or At is
// set, selected by Kind.
type Trigger struct {
	Kind TriggerKind `yaml:"kind" json:"kind"`

	// Expr is a 5-field cron expression. Set when Kind == TriggerCron.
	Expr string `yaml:"expr,omitempty" json:"expr,omitempty"`

	// At is the single absolute fire time. Set when Kind == TriggerAt.
	At time.Time `yaml:"at,omitempty" json:"at,omitempty"`
}

// ErrInvalidTrigger reports a structurally invalid trigger.
var ErrInvalidTrigger = errors.New("job: invalid trigger")

// NewCronTrigger builds a cron trigger, validating the expression.
func NewCronTrigger(expr string) (Trigger, error) {
	if _, err := cronParser.Parse(expr); err != nil {
		return Trigger{}, fmt.Errorf("%w: cron expression %q: %v", ErrInvalidTrigger, expr, err)
	}
	return Trigger{Kind: TriggerCron, Expr: expr}, nil
}

// NewOneShotTrigger builds a one-shot trigger firing once at t.
func NewOneShotTrigger(t time.Time) Trigger {
	return Trigger{Kind: TriggerAt, At: t}
}

// Validate checks the trigger variant is well-formed.
func (t Trigger) Validate() error {
	switch t.Kind {
	case TriggerCron:
		if _, err := cronParser.Parse(t.Expr); err != nil {
			return fmt.Errorf("%w: cron expression %q: %v", ErrInvalidTrigger, t.Expr, err)
		}
		return nil
	case TriggerAt:
		if t.At.IsZero() {
			return fmt.Errorf("%w: one-shot trigger requires a timestamp", ErrInvalidTrigger)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTrigger, t.Kind)
	}
}

// OneShot reports whether the trigger fires at most once.
func (t Trigger) OneShot() bool { return t.Kind == TriggerAt }

// NextFireAfter returns the first fire time strictly after lastFire.
// Callers pass the job's creation time as lastFire for jobs that have never
// fired; a zero or future lastFire anchors on now. For one-shot triggers the
// single timestamp is returned until it has fired (non-zero lastFire), after
// which ok is false; passing a zero lastFire re-arms the timestamp, which is
// how the dispatcher retries a failed one-shot.
func (t Trigger) NextFireAfter(lastFire, now time.Time) (next time.Time, ok bool) {
	switch t.Kind {
	case TriggerCron:
		sched, err := cronParser.Parse(t.Expr)
		if err != nil {
			return time.Time{}, false
		}
		anchor := lastFire
		if anchor.IsZero() || anchor.After(now) {
			anchor = now
		}
		return sched.Next(anchor), true
	case TriggerAt:
		if !lastFire.IsZero() {
			return time.Time{}, false
		}
		return t.At, true
	default:
		return time.Time{}, false
	}
}

// Due reports whether the trigger has a fire time at or before now, and
// returns that fire time.
func (t Trigger) Due(lastFire, now time.Time) (fireAt time.Time, due bool) {
	next, ok := t.NextFireAfter(lastFire, now)
	if !ok {
		return time.Time{}, false
	}
	if next.After(now) {
		return time.Time{}, false
	}
	return next, true
}
