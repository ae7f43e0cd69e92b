package sync

import (
	"fmt"
	"math"
	"time"
)

// Outcome is the terminal state of a RunSync call.
type Outcome string

const (
	// OutcomeSynced: the attempt ran; per-task failures may be non-zero.
	OutcomeSynced Outcome = "synced"
	// OutcomeSkipped: the scheduler refused the attempt.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed: a snapshot could not be fetched, or the local store
	// belongs to another account.
	OutcomeFailed Outcome = "failed_attempt"
)

// Status messages shown to the user.
const (
	MessageSyncing = "Syncing..."
	MessageError   = "Sync error"
)

// Report summarizes one RunSync call.
type Report struct {
	AttemptID string
	Outcome   Outcome

	// Skip and Remaining are set with OutcomeSkipped.
	Skip      SkipReason
	Remaining time.Duration

	Published int
	Pulled    int
	Failed    int

	Duration time.Duration
	// Err is set with OutcomeFailed.
	Err error
}

// Synced is the number of tasks transferred successfully.
func (r Report) Synced() int {
	return r.Published + r.Pulled
}

// Message renders the report as a short status line.
func (r Report) Message() string {
	switch r.Outcome {
	case OutcomeSkipped:
		switch r.Skip {
		case SkipInFlight:
			return "Sync already in progress"
		case SkipTooSoon:
			return fmt.Sprintf("Sync too soon (wait %ds)", int(math.Ceil(r.Remaining.Seconds())))
		case SkipOffline:
			return "Offline mode"
		case SkipUnauthenticated:
			return "Not logged in"
		}
		return "Sync skipped"
	case OutcomeFailed:
		return MessageError
	case OutcomeSynced:
		if r.Failed > 0 {
			return fmt.Sprintf("Synced: %d, Failed: %d", r.Synced(), r.Failed)
		}
		return fmt.Sprintf("All tasks synced (%d)", r.Synced())
	}
	return ""
}

func skipReport(a Admission) Report {
	return Report{Outcome: OutcomeSkipped, Skip: a.Reason, Remaining: a.Remaining}
}
