package security

import (
	"regexp"
	"strings"
	"sync"
)

// RedactPlaceholder replaces every recognized secret in logs and audit
// output.
const RedactPlaceholder = "***REDACTED***"

// Redactor scrubs secrets from strings before they reach a log line or
// an audit record. It combines shape-based regex matching for token
// formats the scheduler handles (identity tokens, channel credentials)
// with literal matching for values registered in the credential store.
// Safe for concurrent use.
type Redactor struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	literals []string
}

// NewRedactor returns a Redactor pre-loaded with DefaultPatterns.
func NewRedactor() *Redactor {
	return &Redactor{patterns: DefaultPatterns()}
}

// DefaultPatterns covers the secret shapes that flow through the
// scheduler: signed identity tokens bound to job definitions, bearer
// tokens on administrative requests, hook HMAC signatures, and the
// credentials of the delivery channels.
func DefaultPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		// Identity tokens: base64url claims JSON followed by one or two
		// dot-separated segments (the scheduler's claims.signature form
		// and standard three-part JWTs).
		regexp.MustCompile(`eyJ[A-Za-z0-9_-]{6,}(\.[A-Za-z0-9_-]{6,}){1,2}`),
		// Bearer credentials quoted verbatim from an Authorization header.
		regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]{16,}=*`),
		// Inbound hook signatures; the digest would let a reader forge
		// replays of the same body.
		regexp.MustCompile(`sha256=[0-9a-f]{64}`),
		// Slack incoming-webhook paths and bot/user tokens.
		regexp.MustCompile(`hooks\.slack\.com/services/[A-Za-z0-9/]+`),
		regexp.MustCompile(`xox[bp]-[0-9]+-[a-zA-Z0-9-]+`),
		// GitHub tokens, commonly seen in webhook destinations.
		regexp.MustCompile(`(ghp_|gho_|ghs_|github_pat_)[a-zA-Z0-9_]{20,}`),
	}
}

// AddPattern registers an additional secret shape.
func (r *Redactor) AddPattern(pattern *regexp.Regexp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, pattern)
}

// AddLiteral registers an exact secret value. Empty strings are ignored.
func (r *Redactor) AddLiteral(secret string) {
	if secret == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.literals = append(r.literals, secret)
}

// SyncCredentials swaps the literal set for the credential store's
// current values. Called after modules have registered their transport
// secrets so later registrations are not missed.
func (r *Redactor) SyncCredentials(store *CredentialStore) {
	values := store.Values()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.literals = values
}

// Redact returns s with every matched pattern and literal replaced by
// RedactPlaceholder.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}

	r.mu.RLock()
	patterns := r.patterns
	literals := r.literals
	r.mu.RUnlock()

	for _, p := range patterns {
		s = p.ReplaceAllString(s, RedactPlaceholder)
	}
	for _, lit := range literals {
		s = strings.ReplaceAll(s, lit, RedactPlaceholder)
	}
	return s
}
