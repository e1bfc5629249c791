// Package identity implements Ed25519 caller-identity tokens bound to job
// definitions. A token carries signed claims naming the issuer, the agent
// the job may run as, the audience, and an expiry; the verifier checks the
// signature against a set of trusted public keys before a run is allowed
// to execute.
package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Claims are the signed assertions embedded in an identity token.
type Claims struct {
	Issuer    string    `json:"iss"`
	Subject   string    `json:"sub"`
	Audience  string    `json:"aud"`
	ExpiresAt time.Time `json:"exp"`
}

// Token wire format: base64url(claims JSON) "." base64url(signature).
// The signature covers the SHA-256 digest of the claims JSON bytes.

// Mint signs claims with the given private key and returns the encoded token.
func Mint(privateKey ed25519.PrivateKey, claims Claims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("identity: encoding claims: %w", err)
	}
	sig := ed25519.Sign(privateKey, claimsDigest(payload))
	return base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString(sig), nil
}

// claimsDigest returns the SHA-256 hash of the claims JSON bytes.
func claimsDigest(payload []byte) []byte {
	hash := sha256.Sum256(payload)
	return hash[:]
}
