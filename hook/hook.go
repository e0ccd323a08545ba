// Package hook defines the extension system for Syncline.
// Extensions are notified of run lifecycle events (run started, batch
// loaded, watermark advanced, shard failed, etc.) and can react to
// them: logging, metrics, alerting.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package hook

import (
	"context"
	"time"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/deadletter"
	"github.com/syncline/syncline/id"
	"github.com/syncline/syncline/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Run lifecycle hooks
// ──────────────────────────────────────────────────

// RunStarted is called when the scheduler acquires a job's lease and
// begins a run.
type RunStarted interface {
	OnRunStarted(ctx context.Context, d *job.Definition, runID id.RunID) error
}

// BatchLoaded is called after a batch's documents are durably written
// to the target store.
type BatchLoaded interface {
	OnBatchLoaded(ctx context.Context, jobName string, r syncline.WatermarkRange, docs int) error
}

// ShardFailed is called when a transform shard fails and its watermark
// range is recorded for reprocessing.
type ShardFailed interface {
	OnShardFailed(ctx context.Context, jobName string, r syncline.WatermarkRange, err error) error
}

// WatermarkAdvanced is called after a watermark commit is confirmed.
type WatermarkAdvanced interface {
	OnWatermarkAdvanced(ctx context.Context, jobName string, w syncline.Watermark) error
}

// RunCompleted is called after a run finishes with every extracted batch
// loaded and committed.
type RunCompleted interface {
	OnRunCompleted(ctx context.Context, d *job.Definition, runID id.RunID, elapsed time.Duration) error
}

// RunFailed is called when a run ends with a terminal failure.
type RunFailed interface {
	OnRunFailed(ctx context.Context, d *job.Definition, runID id.RunID, err error) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// TickSkipped is called when a due tick is skipped because another
// instance holds the job's lease. A skip is normal operation, not a
// failure.
type TickSkipped interface {
	OnTickSkipped(ctx context.Context, jobName string) error
}

// DeadLettered is called when a failed range exhausts its attempt
// budget and is parked as a dead letter.
type DeadLettered interface {
	OnDeadLettered(ctx context.Context, entry *deadletter.Entry) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
