// Package delivery routes run results to a job's configured output
// channels. Concrete transports (webhook, slack, email, local) register
// as modules under modules/delivery.
package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/ThirdKeyAI/symbiont-sched/internal/job"
)

// Sentinel errors for channel registration and routing.
var (
	ErrNoChannel        = errors.New("delivery: no channel registered")
	ErrDuplicateChannel = errors.New("delivery: channel already registered")
)

// Payload is the run result handed to each channel.
type Payload struct {
	JobID        string            `json:"job_id"`
	JobName      string            `json:"job_name"`
	RunID        string            `json:"run_id"`
	Status       string            `json:"status"`
	Output       string            `json:"output,omitempty"`
	Error        string            `json:"error,omitempty"`
	ScheduledFor time.Time         `json:"scheduled_for"`
	FinishedAt   time.Time         `json:"finished_at"`
	Meta         map[string]string `json:"meta,omitempty"`
}

// Channel delivers a run payload over one transport. Implementations
// receive the job's channel descriptor for per-job addressing (URL,
// recipients, file path) and must honor ctx cancellation.
type Channel interface {
	// Deliver sends the payload. An error marks this channel's route
	// failed; it never fails the run itself.
	Deliver(ctx context.Context, desc job.ChannelDescriptor, payload Payload) error
}

// Result is one channel's routing outcome.
type Result struct {
	Channel string
	Err     error
}
