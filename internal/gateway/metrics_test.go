package gateway

import (
	"sync"
	"testing"
)

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	m := &Metrics{}
	m.RecordRequest()
	m.RecordRequest()
	m.RecordError()
	m.RecordAuthFailure()
	m.RecordHookFired()

	snap := m.Snapshot()
	if snap.Requests != 2 {
		t.Errorf("Requests = %d, want 2", snap.Requests)
	}
	if snap.Errors != 1 {
		t.Errorf("Errors = %d, want 1", snap.Errors)
	}
	if snap.AuthFailures != 1 {
		t.Errorf("AuthFailures = %d, want 1", snap.AuthFailures)
	}
	if snap.HooksFired != 1 {
		t.Errorf("HooksFired = %d, want 1", snap.HooksFired)
	}
}

func TestMetrics_WSClientRelease(t *testing.T) {
	t.Parallel()

	m := &Metrics{}
	release1 := m.AddWSClient()
	release2 := m.AddWSClient()

	if got := m.Snapshot().WSClients; got != 2 {
		t.Errorf("WSClients = %d, want 2", got)
	}

	release1()
	if got := m.Snapshot().WSClients; got != 1 {
		t.Errorf("WSClients after release = %d, want 1", got)
	}

	release2()
	if got := m.Snapshot().WSClients; got != 0 {
		t.Errorf("WSClients after both released = %d, want 0", got)
	}
}

func TestMetrics_SnapshotEmpty(t *testing.T) {
	t.Parallel()

	m := &Metrics{}
	snap := m.Snapshot()

	if snap.Requests != 0 || snap.Errors != 0 || snap.AuthFailures != 0 ||
		snap.WSClients != 0 || snap.HooksFired != 0 {
		t.Errorf("empty snapshot should be all zeros: %+v", snap)
	}
}

func TestMetrics_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	m := &Metrics{}
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			m.RecordRequest()
		}()
		go func() {
			defer wg.Done()
			m.RecordError()
		}()
		go func() {
			defer wg.Done()
			m.AddWSClient()()
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	if snap.Requests != 100 {
		t.Errorf("Requests = %d, want 100", snap.Requests)
	}
	if snap.Errors != 100 {
		t.Errorf("Errors = %d, want 100", snap.Errors)
	}
	if snap.WSClients != 0 {
		t.Errorf("WSClients = %d, want 0", snap.WSClients)
	}
}
