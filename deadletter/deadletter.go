// Package deadletter records watermark sub-ranges that kept failing to
// transform after their retry budget, so they stop blocking the run but
// remain inspectable and replayable.
//
// The runner retries a failed shard range on subsequent ticks; once a
// range has failed MaxAttempts consecutive ticks, it is dead-lettered:
// removed from the run state's failed-range list and persisted here.
// Replay puts the range back on the run state so the next tick
// reprocesses it; loads are idempotent, so replaying a range that
// partially succeeded before is safe.
package deadletter

import (
	"time"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/id"
)

// Entry is one dead-lettered watermark range.
type Entry struct {
	ID         id.DeadLetterID         `json:"id"`
	JobName    string                  `json:"job_name"`
	Range      syncline.WatermarkRange `json:"range"`
	Kind       syncline.Kind           `json:"kind"`
	Error      string                  `json:"error"`
	Attempts   int                     `json:"attempts"`
	FailedAt   time.Time               `json:"failed_at"`
	ReplayedAt *time.Time              `json:"replayed_at,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
}
