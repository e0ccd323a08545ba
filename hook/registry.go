package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/deadletter"
	"github.com/syncline/syncline/id"
	"github.com/syncline/syncline/job"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type runStartedEntry struct {
	name string
	hook RunStarted
}

type batchLoadedEntry struct {
	name string
	hook BatchLoaded
}

type shardFailedEntry struct {
	name string
	hook ShardFailed
}

type watermarkAdvancedEntry struct {
	name string
	hook WatermarkAdvanced
}

type runCompletedEntry struct {
	name string
	hook RunCompleted
}

type runFailedEntry struct {
	name string
	hook RunFailed
}

type tickSkippedEntry struct {
	name string
	hook TickSkipped
}

type deadLetteredEntry struct {
	name string
	hook DeadLettered
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	runStarted        []runStartedEntry
	batchLoaded       []batchLoadedEntry
	shardFailed       []shardFailedEntry
	watermarkAdvanced []watermarkAdvancedEntry
	runCompleted      []runCompletedEntry
	runFailed         []runFailedEntry
	tickSkipped       []tickSkippedEntry
	deadLettered      []deadLetteredEntry
	shutdown          []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(RunStarted); ok {
		r.runStarted = append(r.runStarted, runStartedEntry{name, h})
	}
	if h, ok := e.(BatchLoaded); ok {
		r.batchLoaded = append(r.batchLoaded, batchLoadedEntry{name, h})
	}
	if h, ok := e.(ShardFailed); ok {
		r.shardFailed = append(r.shardFailed, shardFailedEntry{name, h})
	}
	if h, ok := e.(WatermarkAdvanced); ok {
		r.watermarkAdvanced = append(r.watermarkAdvanced, watermarkAdvancedEntry{name, h})
	}
	if h, ok := e.(RunCompleted); ok {
		r.runCompleted = append(r.runCompleted, runCompletedEntry{name, h})
	}
	if h, ok := e.(RunFailed); ok {
		r.runFailed = append(r.runFailed, runFailedEntry{name, h})
	}
	if h, ok := e.(TickSkipped); ok {
		r.tickSkipped = append(r.tickSkipped, tickSkippedEntry{name, h})
	}
	if h, ok := e.(DeadLettered); ok {
		r.deadLettered = append(r.deadLettered, deadLetteredEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Run event emitters
// ──────────────────────────────────────────────────

// EmitRunStarted notifies all extensions that implement RunStarted.
func (r *Registry) EmitRunStarted(ctx context.Context, d *job.Definition, runID id.RunID) {
	for _, e := range r.runStarted {
		if err := e.hook.OnRunStarted(ctx, d, runID); err != nil {
			r.logHookError("OnRunStarted", e.name, err)
		}
	}
}

// EmitBatchLoaded notifies all extensions that implement BatchLoaded.
func (r *Registry) EmitBatchLoaded(ctx context.Context, jobName string, rng syncline.WatermarkRange, docs int) {
	for _, e := range r.batchLoaded {
		if err := e.hook.OnBatchLoaded(ctx, jobName, rng, docs); err != nil {
			r.logHookError("OnBatchLoaded", e.name, err)
		}
	}
}

// EmitShardFailed notifies all extensions that implement ShardFailed.
func (r *Registry) EmitShardFailed(ctx context.Context, jobName string, rng syncline.WatermarkRange, shardErr error) {
	for _, e := range r.shardFailed {
		if err := e.hook.OnShardFailed(ctx, jobName, rng, shardErr); err != nil {
			r.logHookError("OnShardFailed", e.name, err)
		}
	}
}

// EmitWatermarkAdvanced notifies all extensions that implement WatermarkAdvanced.
func (r *Registry) EmitWatermarkAdvanced(ctx context.Context, jobName string, w syncline.Watermark) {
	for _, e := range r.watermarkAdvanced {
		if err := e.hook.OnWatermarkAdvanced(ctx, jobName, w); err != nil {
			r.logHookError("OnWatermarkAdvanced", e.name, err)
		}
	}
}

// EmitRunCompleted notifies all extensions that implement RunCompleted.
func (r *Registry) EmitRunCompleted(ctx context.Context, d *job.Definition, runID id.RunID, elapsed time.Duration) {
	for _, e := range r.runCompleted {
		if err := e.hook.OnRunCompleted(ctx, d, runID, elapsed); err != nil {
			r.logHookError("OnRunCompleted", e.name, err)
		}
	}
}

// EmitRunFailed notifies all extensions that implement RunFailed.
func (r *Registry) EmitRunFailed(ctx context.Context, d *job.Definition, runID id.RunID, runErr error) {
	for _, e := range r.runFailed {
		if err := e.hook.OnRunFailed(ctx, d, runID, runErr); err != nil {
			r.logHookError("OnRunFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitTickSkipped notifies all extensions that implement TickSkipped.
func (r *Registry) EmitTickSkipped(ctx context.Context, jobName string) {
	for _, e := range r.tickSkipped {
		if err := e.hook.OnTickSkipped(ctx, jobName); err != nil {
			r.logHookError("OnTickSkipped", e.name, err)
		}
	}
}

// EmitDeadLettered notifies all extensions that implement DeadLettered.
func (r *Registry) EmitDeadLettered(ctx context.Context, entry *deadletter.Entry) {
	for _, e := range r.deadLettered {
		if err := e.hook.OnDeadLettered(ctx, entry); err != nil {
			r.logHookError("OnDeadLettered", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated; they must not block a run.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
