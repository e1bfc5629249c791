package gateway

import "sync/atomic"

// Metrics tracks gateway-level counters using atomic operations for
// lock-free concurrency. Run-level metrics live in the dispatcher's
// Prometheus registry; these cover the HTTP surface itself and feed the
// /status snapshot.
type Metrics struct {
	requests     atomic.Int64
	errors       atomic.Int64
	authFailures atomic.Int64
	wsClients    atomic.Int64
	hooksFired   atomic.Int64
}

// RecordRequest records an authenticated API request.
func (m *Metrics) RecordRequest() {
	m.requests.Add(1)
}

// RecordError records a request that ended in an error response.
func (m *Metrics) RecordError() {
	m.errors.Add(1)
}

// RecordAuthFailure records a rejected authentication attempt.
func (m *Metrics) RecordAuthFailure() {
	m.authFailures.Add(1)
}

// RecordHookFired records an accepted inbound trigger hook.
func (m *Metrics) RecordHookFired() {
	m.hooksFired.Add(1)
}

// AddWSClient tracks a WebSocket subscriber; the returned func releases it.
func (m *Metrics) AddWSClient() func() {
	m.wsClients.Add(1)
	return func() { m.wsClients.Add(-1) }
}

// Snapshot returns a consistent point-in-time view of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Requests:     m.requests.Load(),
		Errors:       m.errors.Load(),
		AuthFailures: m.authFailures.Load(),
		WSClients:    m.wsClients.Load(),
		HooksFired:   m.hooksFired.Load(),
	}
}

// MetricsSnapshot is a serializable point-in-time metrics view.
type MetricsSnapshot struct {
	Requests     int64 `json:"requests"`
	Errors       int64 `json:"errors"`
	AuthFailures int64 `json:"auth_failures"`
	WSClients    int64 `json:"ws_clients"`
	HooksFired   int64 `json:"hooks_fired"`
}
