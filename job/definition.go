package job

import (
	"fmt"
	"time"

	"github.com/syncline/syncline"
)

// Definition describes a sync job: what to pull, how often, and where the
// results land. Keyed by Name; one RunState exists per Definition.
type Definition struct {
	syncline.Entity

	// Name is the unique job identity. The run lease is taken on it.
	Name string `json:"name"`

	// Schedule is a cron expression ("*/5 * * * *") or an interval
	// descriptor ("@every 30s").
	Schedule string `json:"schedule"`

	// Enabled gates scheduling. Disabled jobs keep their state but are
	// never ticked.
	Enabled bool `json:"enabled"`

	// Collection is the target document store collection.
	Collection string `json:"collection"`

	// KeyField names the source record field the idempotency key is
	// derived from when the transform does not set one explicitly.
	KeyField string `json:"key_field"`

	// MaxBatchSize bounds each extraction. Zero means DefaultBatchSize.
	MaxBatchSize int `json:"max_batch_size,omitempty"`

	// ShardSize is the record-count quantum for transform fan-out.
	// Batches at or below one shard run inline. Zero means DefaultShardSize.
	ShardSize int `json:"shard_size,omitempty"`

	// MaxAttempts bounds in-run retries of retryable failures.
	// Zero means the pipeline default.
	MaxAttempts int `json:"max_attempts,omitempty"`

	// RatePerSec throttles extraction calls for this job. Zero means
	// unlimited.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`

	// Timeout bounds a whole run. Zero means no run timeout.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Defaults for unset Definition fields.
const (
	DefaultBatchSize = 500
	DefaultShardSize = 100
)

// Validate checks the definition is well-formed enough to schedule.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("job: definition missing name")
	}
	if d.Schedule == "" {
		return fmt.Errorf("job %q: missing schedule", d.Name)
	}
	if d.Collection == "" {
		return fmt.Errorf("job %q: missing target collection", d.Name)
	}
	return nil
}

// BatchSize returns MaxBatchSize or the default.
func (d *Definition) BatchSize() int {
	if d.MaxBatchSize > 0 {
		return d.MaxBatchSize
	}
	return DefaultBatchSize
}

// ShardQuantum returns ShardSize or the default.
func (d *Definition) ShardQuantum() int {
	if d.ShardSize > 0 {
		return d.ShardSize
	}
	return DefaultShardSize
}
