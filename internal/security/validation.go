package security

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Limits applied to administrative request bodies and inbound hook
// payloads before they are parsed.
const (
	DefaultMaxBodyBytes = 1 << 20 // 1 MiB
	DefaultMaxJSONDepth = 32
)

// Body validation errors.
var (
	ErrBodyTooLarge = errors.New("request body exceeds maximum size")
	ErrJSONTooDeep  = errors.New("JSON nesting exceeds maximum depth")
	ErrInvalidJSON  = errors.New("invalid JSON")
)

// ValidateBodySize checks that body does not exceed limit bytes. A limit
// of 0 or below applies DefaultMaxBodyBytes.
func ValidateBodySize(body []byte, limit int) error {
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	if len(body) > limit {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrBodyTooLarge, len(body), limit)
	}
	return nil
}

// ValidateJSONDepth rejects JSON nested deeper than limit levels, so a
// crafted job definition or hook payload cannot exhaust the stack during
// decoding. A limit of 0 or below applies DefaultMaxJSONDepth. Empty
// input passes; it is the caller's concern whether a body is required.
func ValidateJSONDepth(body []byte, limit int) error {
	if limit <= 0 {
		limit = DefaultMaxJSONDepth
	}
	if len(body) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%w: %w", ErrInvalidJSON, err)
		}

		switch tok {
		case json.Delim('{'), json.Delim('['):
			depth++
			if depth > limit {
				return fmt.Errorf("%w: depth %d (max %d)", ErrJSONTooDeep, depth, limit)
			}
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
	}
}
