package security

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrURLBlocked reports a delivery destination rejected by the filter.
var ErrURLBlocked = errors.New("URL blocked by filter")

// URLFilterConfig restricts where run results may be delivered. Webhook
// channels consult a filter before posting, so a job definition cannot
// point a delivery at an arbitrary internal host.
type URLFilterConfig struct {
	// AllowDomains lists the permitted destination domains. An empty
	// list blocks every destination (default-deny). A domain also
	// admits its subdomains: "example.com" covers "hooks.example.com".
	AllowDomains []string `yaml:"allow_domains"`

	// DenyDomains are rejected even when covered by an allow entry,
	// which carves specific subdomains out of an allowed domain.
	DenyDomains []string `yaml:"deny_domains"`
}

// URLFilter is a compiled, default-deny destination filter.
type URLFilter struct {
	allow []string
	deny  []string
}

// NewURLFilter compiles cfg into a filter.
func NewURLFilter(cfg URLFilterConfig) *URLFilter {
	return &URLFilter{
		allow: normalizeDomains(cfg.AllowDomains),
		deny:  normalizeDomains(cfg.DenyDomains),
	}
}

func normalizeDomains(domains []string) []string {
	out := make([]string, len(domains))
	for i, d := range domains {
		out[i] = strings.ToLower(strings.TrimSpace(d))
	}
	return out
}

// Check returns nil when rawURL points at an allowed destination, and an
// error wrapping ErrURLBlocked otherwise.
func (f *URLFilter) Check(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL: %w", ErrURLBlocked, err)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return fmt.Errorf("%w: empty hostname", ErrURLBlocked)
	}

	for _, d := range f.deny {
		if matchDomain(host, d) {
			return fmt.Errorf("%w: %s (denied)", ErrURLBlocked, host)
		}
	}

	if len(f.allow) == 0 {
		return fmt.Errorf("%w: %s (no domains allowed)", ErrURLBlocked, host)
	}
	for _, a := range f.allow {
		if matchDomain(host, a) {
			return nil
		}
	}

	return fmt.Errorf("%w: %s (not in allow list)", ErrURLBlocked, host)
}

// IsConfigured reports whether any allow or deny entries exist.
func (f *URLFilter) IsConfigured() bool {
	return len(f.allow) > 0 || len(f.deny) > 0
}

// matchDomain reports whether host equals domain or sits under it.
// "hooks.example.com" matches "example.com"; "notexample.com" does not.
func matchDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}
