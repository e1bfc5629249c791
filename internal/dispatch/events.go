package dispatch

import (
	"sync"
	"time"

	"github.com/ThirdKeyAI/symbiont-sched/internal/job"
)

// EventType identifies a run-stream event.
type EventType string

// Run-stream event types.
const (
	EventRunStarted      EventType = "run_started"
	EventRunFinished     EventType = "run_finished"
	EventRunSuspended    EventType = "run_suspended"
	EventJobDeadLettered EventType = "job_dead_lettered"
)

// Event is a run lifecycle notification, consumed by the admin API's
// websocket stream.
type Event struct {
	Type   EventType         `json:"type"`
	Time   time.Time         `json:"time"`
	JobID  string            `json:"job_id"`
	RunID  string            `json:"run_id,omitempty"`
	Status job.RunStatus     `json:"status,omitempty"`
	Cause  job.FailureCause  `json:"cause,omitempty"`
	Detail string            `json:"detail,omitempty"`
	Meta   map[string]string `json:"meta,omitempty"`
}

// Bus is a fan-out publisher for run events. Subscribers receive on
// buffered channels; a slow subscriber drops events rather than blocking
// the dispatcher.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. The channel is closed on unsubscribe.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, 64)
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// Publish delivers an event to all subscribers without blocking.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is not keeping up; drop.
		}
	}
}
