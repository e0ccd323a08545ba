package sched

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/backoff"
	"github.com/syncline/syncline/deadletter"
	"github.com/syncline/syncline/hook"
	"github.com/syncline/syncline/id"
	"github.com/syncline/syncline/job"
	"github.com/syncline/syncline/load"
	"github.com/syncline/syncline/middleware"
	"github.com/syncline/syncline/source"
	"github.com/syncline/syncline/transform"
)

// Binding ties a job definition to the extractor and transform that
// serve it on this instance. Definitions live in the store; bindings
// are in-process only, so an instance only runs jobs it has code for.
type Binding struct {
	Def       *job.Definition
	Extractor source.Extractor
	Transform transform.Func
}

// Runner executes a single sync run through the middleware chain:
// drain leftover failed ranges, then extract → transform → load →
// commit until the source is caught up or the per-tick batch budget is
// spent.
type Runner struct {
	jobStore job.Store
	loader   *load.Loader
	pool     *transform.Pool
	dlq      *deadletter.Service
	hooks    *hook.Registry
	mw       middleware.Middleware
	cfg      syncline.Config
	retry    backoff.Strategy
	logger   *slog.Logger

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

// NewRunner creates a Runner with the given dependencies.
func NewRunner(
	jobStore job.Store,
	loader *load.Loader,
	pool *transform.Pool,
	dlq *deadletter.Service,
	hooks *hook.Registry,
	cfg syncline.Config,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		jobStore: jobStore,
		loader:   loader,
		pool:     pool,
		dlq:      dlq,
		hooks:    hooks,
		mw:       middleware.Chain(mws...),
		cfg:      cfg,
		retry:    backoff.NewExponentialWithJitter(cfg.RetryInitial, cfg.RetryMax),
		logger:   logger,
	}
}

// Run executes one run of a bound job. The caller must hold the job's
// lease. The run outcome is persisted in the job's run state; the
// returned error mirrors it.
func (r *Runner) Run(ctx context.Context, b *Binding, runID id.RunID) error {
	d := b.Def
	state, err := r.loadState(ctx, d.Name)
	if err != nil {
		return err
	}

	state.BeginRun(runID)
	if err := r.jobStore.SaveRunState(ctx, state); err != nil {
		return err
	}
	r.hooks.EmitRunStarted(ctx, d, runID)

	start := time.Now()
	run := &middleware.Run{ID: runID, Def: d}
	runErr := r.mw(ctx, run, func(ctx context.Context) error {
		return r.execute(ctx, b, state)
	})

	state.FinishRun(runErr)
	// The terminal state must land even when the run ended on a
	// cancelled context.
	if saveErr := r.jobStore.SaveRunState(context.WithoutCancel(ctx), state); saveErr != nil {
		r.logger.Error("failed to save run state",
			slog.String("job_name", d.Name),
			slog.String("run_id", runID.String()),
			slog.String("error", saveErr.Error()),
		)
		if runErr == nil {
			runErr = saveErr
		}
	}

	if runErr != nil {
		r.hooks.EmitRunFailed(ctx, d, runID, runErr)
	} else {
		r.hooks.EmitRunCompleted(ctx, d, runID, time.Since(start))
	}
	return runErr
}

// execute is the run body: reprocess failed ranges first, then sync
// forward from the committed watermark.
func (r *Runner) execute(ctx context.Context, b *Binding, state *job.RunState) error {
	drainErr := r.drainFailedRanges(ctx, b, state)
	forwardErr := r.syncForward(ctx, b, state)
	if drainErr != nil {
		return drainErr
	}
	return forwardErr
}

// ──────────────────────────────────────────────────
// Failed range reprocessing
// ──────────────────────────────────────────────────

// drainFailedRanges re-runs every recorded failed sub-range. A range
// that fails again consumes one more attempt; a range out of attempts
// moves to the dead letter store. One range's failure never blocks the
// others.
func (r *Runner) drainFailedRanges(ctx context.Context, b *Binding, state *job.RunState) error {
	if len(state.FailedRanges) == 0 {
		return nil
	}
	d := b.Def

	pending := make([]job.FailedRange, len(state.FailedRanges))
	copy(pending, state.FailedRanges)

	var firstErr error
	for _, fr := range pending {
		if ctx.Err() != nil {
			if firstErr == nil {
				firstErr = ctx.Err()
			}
			break
		}

		err := r.reprocessRange(ctx, b, fr.Range)
		if err == nil {
			state.ClearFailedRange(fr.Range)
			r.logger.Info("failed range reprocessed",
				slog.String("job_name", d.Name),
				slog.String("range", fr.Range.String()),
			)
		} else {
			attempts := state.AddFailedRange(fr.Range)
			r.hooks.EmitShardFailed(ctx, d.Name, fr.Range, err)
			if attempts >= r.maxAttempts(d) {
				r.deadLetter(ctx, state, d, fr.Range, attempts, err)
			}
			if firstErr == nil {
				firstErr = err
			}
		}

		if saveErr := r.jobStore.SaveRunState(ctx, state); saveErr != nil {
			if firstErr == nil {
				firstErr = saveErr
			}
			break
		}
	}
	return firstErr
}

// reprocessRange extracts exactly one failed sub-range and pushes it
// through transform and load. The range was carved out of a batch whose
// watermark is already committed, so no commit happens here.
func (r *Runner) reprocessRange(ctx context.Context, b *Binding, rng syncline.WatermarkRange) error {
	d := b.Def

	batch, err := r.extract(ctx, b, rng.From)
	if err != nil {
		return err
	}

	// Drop records past the range end; the extractor returns a full
	// batch starting at rng.From.
	n := 0
	for i := range batch.Records {
		if batch.Marks[i].Compare(rng.To) > 0 {
			break
		}
		n = i + 1
	}
	batch.Records = batch.Records[:n]
	batch.Marks = batch.Marks[:n]
	batch.To = rng.To
	if batch.Empty() {
		// The source no longer has rows in this range.
		return nil
	}

	outcomes := r.pool.Transform(ctx, transform.Partition(batch, d.ShardQuantum()), b.Transform)

	var docs []syncline.TargetDocument
	var shardErr error
	for _, o := range outcomes {
		if o.Err != nil {
			if shardErr == nil {
				shardErr = o.Err
			}
			continue
		}
		docs = append(docs, o.Docs...)
	}

	// Load what transformed cleanly even when a shard failed again;
	// upserts are idempotent, so the eventual retry of the whole range
	// converges.
	if len(docs) > 0 {
		if err := r.loadDocs(ctx, d, docs); err != nil {
			return err
		}
	}
	return shardErr
}

// ──────────────────────────────────────────────────
// Forward sync
// ──────────────────────────────────────────────────

// syncForward pulls batches from the committed watermark until the
// source is caught up, the batch budget is spent, or the context is
// cancelled. The watermark commits only after the batch's documents are
// durably loaded, and it advances past failed shards too: their
// sub-ranges are recorded for the next run instead of blocking this
// one.
func (r *Runner) syncForward(ctx context.Context, b *Binding, state *job.RunState) error {
	d := b.Def

	var runErr error
	for i := 0; i < r.cfg.MaxBatchesPerTick; i++ {
		if ctx.Err() != nil {
			if runErr == nil {
				runErr = ctx.Err()
			}
			break
		}

		batch, err := r.extract(ctx, b, state.Watermark)
		if err != nil {
			if runErr == nil {
				runErr = err
			}
			break
		}
		if batch.Empty() {
			break // caught up
		}

		outcomes := r.pool.Transform(ctx, transform.Partition(batch, d.ShardQuantum()), b.Transform)

		var docs []syncline.TargetDocument
		var failed []transform.Outcome
		for _, o := range outcomes {
			if o.Err != nil {
				failed = append(failed, o)
				continue
			}
			docs = append(docs, o.Docs...)
		}

		if len(docs) > 0 {
			if err := r.loadDocs(ctx, d, docs); err != nil {
				// Nothing committed: the whole batch is re-extracted
				// on the next run.
				if runErr == nil {
					runErr = err
				}
				break
			}
		}

		// Failed sub-ranges must be durable before the watermark moves
		// past them: a crash between the two writes leaves the range
		// queued for retry, never skipped.
		for _, o := range failed {
			attempts := state.AddFailedRange(o.Shard.Range)
			r.hooks.EmitShardFailed(ctx, d.Name, o.Shard.Range, o.Err)
			if attempts >= r.maxAttempts(d) {
				r.deadLetter(ctx, state, d, o.Shard.Range, attempts, o.Err)
			}
			if runErr == nil {
				runErr = o.Err
			}
		}
		if err := r.jobStore.SaveRunState(ctx, state); err != nil {
			if runErr == nil {
				runErr = err
			}
			break
		}

		if err := r.commit(ctx, d.Name, batch.To); err != nil {
			if runErr == nil {
				runErr = err
			}
			break
		}
		state.Watermark = batch.To
		r.hooks.EmitWatermarkAdvanced(ctx, d.Name, batch.To)
		r.hooks.EmitBatchLoaded(ctx, d.Name,
			syncline.WatermarkRange{From: batch.From, To: batch.To}, len(docs))

		if len(batch.Records) < d.BatchSize() {
			break // short batch, source exhausted
		}
	}
	return runErr
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// extract pulls one batch with per-job rate limiting and bounded retry
// of transient failures.
func (r *Runner) extract(ctx context.Context, b *Binding, from syncline.Watermark) (*syncline.Batch, error) {
	if lim := r.limiter(b.Def); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var batch *syncline.Batch
	err := backoff.Retry(ctx, r.retry, r.maxAttempts(b.Def), syncline.Retryable, func(ctx context.Context) error {
		var err error
		batch, err = b.Extractor.Extract(ctx, from, b.Def.BatchSize())
		return err
	})
	if err != nil {
		return nil, err
	}
	if batch.Empty() {
		// An empty extraction claims no progress.
		batch.From, batch.To = from, from
	}
	return batch, nil
}

// loadDocs upserts into the job's target collection with bounded retry
// of transient failures.
func (r *Runner) loadDocs(ctx context.Context, d *job.Definition, docs []syncline.TargetDocument) error {
	return backoff.Retry(ctx, r.retry, r.maxAttempts(d), syncline.Retryable, func(ctx context.Context) error {
		_, err := r.loader.Load(ctx, d.Collection, docs)
		return err
	})
}

// commit durably advances the watermark with bounded retry.
func (r *Runner) commit(ctx context.Context, name string, w syncline.Watermark) error {
	return backoff.Retry(ctx, r.retry, r.cfg.MaxAttempts, syncline.Retryable, func(ctx context.Context) error {
		return r.jobStore.CommitWatermark(ctx, name, w)
	})
}

// deadLetter parks a range that is out of attempts. The range stays in
// the run state if the push itself fails, so it is retried instead of
// silently lost.
func (r *Runner) deadLetter(ctx context.Context, state *job.RunState, d *job.Definition, rng syncline.WatermarkRange, attempts int, cause error) {
	entry, err := r.dlq.Push(ctx, d.Name, rng, attempts, cause)
	if err != nil {
		r.logger.Error("dead letter push failed",
			slog.String("job_name", d.Name),
			slog.String("range", rng.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	state.ClearFailedRange(rng)
	r.hooks.EmitDeadLettered(ctx, entry)
	r.logger.Warn("range moved to dead letters after exhausting attempts",
		slog.String("job_name", d.Name),
		slog.String("range", rng.String()),
		slog.Int("attempts", attempts),
		slog.String("error", cause.Error()),
	)
}

func (r *Runner) loadState(ctx context.Context, name string) (*job.RunState, error) {
	state, err := r.jobStore.GetRunState(ctx, name)
	if err == nil {
		return state, nil
	}
	if errors.Is(err, syncline.ErrRunNotFound) {
		return job.NewRunState(name), nil
	}
	return nil, err
}

func (r *Runner) maxAttempts(d *job.Definition) int {
	if d.MaxAttempts > 0 {
		return d.MaxAttempts
	}
	return r.cfg.MaxAttempts
}

// limiter returns the job's extraction rate limiter, or nil when the
// job is unthrottled. Limiters persist across runs so a tight schedule
// cannot defeat the throttle by restarting it.
func (r *Runner) limiter(d *job.Definition) *rate.Limiter {
	if d.RatePerSec <= 0 {
		return nil
	}
	r.limitersMu.Lock()
	defer r.limitersMu.Unlock()
	if r.limiters == nil {
		r.limiters = make(map[string]*rate.Limiter)
	}
	lim, ok := r.limiters[d.Name]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(d.RatePerSec), 1)
		r.limiters[d.Name] = lim
	}
	return lim
}
