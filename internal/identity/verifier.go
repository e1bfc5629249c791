package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// VerificationError is the single failure type for token verification.
// Callers treat any verification failure uniformly; Reason is for logs
// and audit detail only.
type VerificationError struct {
	Reason string
}

func (e *VerificationError) Error() string {
	return "identity: verification failed: " + e.Reason
}

func verificationFailed(format string, args ...any) error {
	return &VerificationError{Reason: fmt.Sprintf(format, args...)}
}

// VerifyConfig controls identity-token verification.
type VerifyConfig struct {
	// TrustedKeys is a list of hex-encoded Ed25519 public keys.
	TrustedKeys []string

	// Issuer is the expected claims issuer. Empty accepts any issuer.
	Issuer string

	// Audience is the expected claims audience. Empty accepts any audience.
	Audience string

	// Now overrides time.Now for testing.
	Now func() time.Time
}

// Verifier checks Ed25519 identity tokens against trusted keys.
type Verifier struct {
	keys     []ed25519.PublicKey
	issuer   string
	audience string
	now      func() time.Time
}

// NewVerifier creates a Verifier from the given config.
// At least one valid trusted key is required.
func NewVerifier(cfg VerifyConfig) (*Verifier, error) {
	keys := make([]ed25519.PublicKey, 0, len(cfg.TrustedKeys))
	for _, hexKey := range cfg.TrustedKeys {
		raw, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("identity: invalid trusted key %q: %w", hexKey, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("identity: invalid key size for %q: got %d, want %d",
				hexKey, len(raw), ed25519.PublicKeySize)
		}
		keys = append(keys, ed25519.PublicKey(raw))
	}
	if len(keys) == 0 {
		return nil, errors.New("identity: no trusted keys provided")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Verifier{
		keys:     keys,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		now:      now,
	}, nil
}

// Verify decodes and checks a token. agentRef must match the token's
// subject claim. Returns the verified claims, or a *VerificationError.
func (v *Verifier) Verify(token, agentRef string) (*Claims, error) {
	if token == "" {
		return nil, verificationFailed("token required but not provided")
	}

	payloadPart, sigPart, ok := strings.Cut(token, ".")
	if !ok {
		return nil, verificationFailed("malformed token: missing signature separator")
	}

	payload, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return nil, verificationFailed("malformed claims encoding")
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return nil, verificationFailed("malformed signature encoding")
	}

	digest := claimsDigest(payload)
	trusted := false
	for _, key := range v.keys {
		if ed25519.Verify(key, digest, sig) {
			trusted = true
			break
		}
	}
	if !trusted {
		return nil, verificationFailed("no trusted key verified the signature")
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, verificationFailed("undecodable claims")
	}

	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, verificationFailed("issuer %q does not match expected %q", claims.Issuer, v.issuer)
	}
	if v.audience != "" && claims.Audience != v.audience {
		return nil, verificationFailed("audience %q does not match expected %q", claims.Audience, v.audience)
	}
	if claims.Subject != agentRef {
		return nil, verificationFailed("subject %q does not match agent %q", claims.Subject, agentRef)
	}
	if !claims.ExpiresAt.IsZero() && !v.now().Before(claims.ExpiresAt) {
		return nil, verificationFailed("token expired at %s", claims.ExpiresAt.Format(time.RFC3339))
	}

	return &claims, nil
}
