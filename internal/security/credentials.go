// Package security provides centralized credential management, log
// redaction, rate limiting, request-body validation, delivery URL
// filtering, and the audit log.
package security

import (
	"maps"
	"slices"
	"sync"
)

// CredentialStore holds the runtime secrets of the scheduler: channel
// transport credentials, hook HMAC secrets, the admin bearer token.
// Modules register theirs during provisioning; the redactor then syncs
// the stored values so none of them can appear in a log line. Safe for
// concurrent use.
type CredentialStore struct {
	mu    sync.RWMutex
	creds map[string]string
}

// NewCredentialStore creates an empty store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{creds: make(map[string]string)}
}

// Set stores a credential under name, replacing any previous value.
// Names are conventionally dotted module paths ("gateway.bearer_token",
// "delivery.email.smtp_password").
func (s *CredentialStore) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[name] = value
}

// Get returns the credential value and whether it exists.
func (s *CredentialStore) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.creds[name]
	return v, ok
}

// Has reports whether a credential named name exists.
func (s *CredentialStore) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Names returns all credential names, sorted. Names are safe to display;
// values never are.
func (s *CredentialStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.creds))
}

// Values returns every non-empty credential value, for registration as
// redaction literals. Order is unspecified.
func (s *CredentialStore) Values() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values := make([]string, 0, len(s.creds))
	for _, v := range s.creds {
		if v != "" {
			values = append(values, v)
		}
	}
	return values
}

// Delete removes a credential. Deleting an absent name is a no-op.
func (s *CredentialStore) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, name)
}

// Len returns the number of stored credentials.
func (s *CredentialStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.creds)
}
