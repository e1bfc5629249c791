// Package session manages execution contexts for job runs. A context is
// the isolated state an executor runs against; the job's session mode
// decides whether that state is discarded, summarized, or carried whole
// across consecutive runs.
package session

import (
	"errors"
	"strings"
	"time"

	"github.com/ThirdKeyAI/symbiont-sched/internal/job"
)

// ErrContextBusy is returned when a shared persistent context is already
// held by a live run. Shared persistent jobs allow exactly one live handle.
var ErrContextBusy = errors.New("session: context already acquired")

// DefaultMaxSummaryLen bounds the derived summary carried between runs.
const DefaultMaxSummaryLen = 512

// Handle is a live execution context. Ephemeral handles are destroyed on
// release; shared persistent handles survive release and are handed back
// on the next acquire for the same job.
type Handle struct {
	ID      string
	JobID   string
	Mode    job.SessionMode
	Created time.Time

	// Summary is the prior run's derived summary, set only for
	// ephemeral_with_summary acquisitions after the first run.
	Summary string

	// History accumulates released outputs for shared_persistent contexts.
	History []string
}

// Summarize derives the short cross-run summary from a run's output:
// whitespace-collapsed and truncated to maxLen runes.
func Summarize(output string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxSummaryLen
	}
	s := strings.Join(strings.Fields(output), " ")
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}
