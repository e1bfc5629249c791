package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidWindow reports a malformed time-window expression.
var ErrInvalidWindow = errors.New("policy: invalid time window format")

// Window is a daily time-of-day window during which execution is allowed.
// Format: "HH:MM-HH:MM" (24-hour). Supports midnight wrap (e.g., "22:00-06:00").
type Window struct {
	Start time.Duration // offset from midnight
	End   time.Duration
}

// ParseWindow parses a "HH:MM-HH:MM" string into a Window.
func ParseWindow(s string) (Window, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return Window{}, fmt.Errorf("%w: expected HH:MM-HH:MM, got %q", ErrInvalidWindow, s)
	}

	start, err := parseTimeOffset(strings.TrimSpace(parts[0]))
	if err != nil {
		return Window{}, fmt.Errorf("%w: start: %w", ErrInvalidWindow, err)
	}

	end, err := parseTimeOffset(strings.TrimSpace(parts[1]))
	if err != nil {
		return Window{}, fmt.Errorf("%w: end: %w", ErrInvalidWindow, err)
	}

	return Window{Start: start, End: end}, nil
}

// parseTimeOffset parses "HH:MM" into a Duration from midnight.
func parseTimeOffset(s string) (time.Duration, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}

	var h, m int
	if _, err := fmt.Sscanf(parts[0], "%d", &h); err != nil {
		return 0, fmt.Errorf("invalid hour: %q", parts[0])
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &m); err != nil {
		return 0, fmt.Errorf("invalid minute: %q", parts[1])
	}

	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("out of range: %02d:%02d", h, m)
	}

	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

// Contains reports whether t falls within the window.
// The caller is responsible for converting t to the desired timezone.
func (w Window) Contains(t time.Time) bool {
	offset := time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second

	if w.Start <= w.End {
		// Normal range: e.g., 09:00-17:00
		return offset >= w.Start && offset < w.End
	}
	// Midnight wrap: e.g., 22:00-06:00
	return offset >= w.Start || offset < w.End
}
