package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/cluster"
	"github.com/syncline/syncline/deadletter"
	"github.com/syncline/syncline/hook"
	"github.com/syncline/syncline/id"
	"github.com/syncline/syncline/job"
	"github.com/syncline/syncline/load"
	mw "github.com/syncline/syncline/middleware"
	"github.com/syncline/syncline/observability"
	"github.com/syncline/syncline/sched"
	"github.com/syncline/syncline/source"
	"github.com/syncline/syncline/transform"
)

// Engine holds the wired subsystems of one Syncline instance.
type Engine struct {
	p      *syncline.Pipeline
	logger *slog.Logger
	cfg    syncline.Config

	jobStore     job.Store
	docStore     load.DocumentStore
	clusterStore cluster.Store

	hooks      *hook.Registry
	dlqService *deadletter.Service
	runner     *sched.Runner
	scheduler  *sched.Scheduler
	workerID   id.WorkerID

	mws []mw.Middleware

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers a lifecycle extension with the engine.
func WithExtension(e hook.Extension) Option {
	return func(eng *Engine) {
		eng.hooks.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's run chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Pipeline. The Pipeline's
// store must implement the job, document, cluster, and dead letter
// store interfaces (store.Store does).
func Build(p *syncline.Pipeline, opts ...Option) (*Engine, error) {
	logger := p.Logger()
	store := p.Store()

	if store == nil {
		return nil, syncline.ErrNoStore
	}

	js, ok := store.(job.Store)
	if !ok {
		return nil, fmt.Errorf("syncline: store does not implement job.Store")
	}
	ds, ok := store.(load.DocumentStore)
	if !ok {
		return nil, fmt.Errorf("syncline: store does not implement load.DocumentStore")
	}
	cls, ok := store.(cluster.Store)
	if !ok {
		return nil, fmt.Errorf("syncline: store does not implement cluster.Store")
	}
	dls, ok := store.(deadletter.Store)
	if !ok {
		return nil, fmt.Errorf("syncline: store does not implement deadletter.Store")
	}

	eng := &Engine{
		p:            p,
		logger:       logger,
		cfg:          p.Config(),
		jobStore:     js,
		docStore:     ds,
		clusterStore: cls,
		hooks:        hook.NewRegistry(logger),
		workerID:     id.NewWorkerID(),
	}

	for _, opt := range opts {
		opt(eng)
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/syncline/syncline")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/syncline/syncline")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/syncline/syncline/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.hooks.Register(obsExt)

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	eng.dlqService = deadletter.NewService(dls, js)
	eng.runner = sched.NewRunner(
		js,
		load.NewLoader(ds, logger),
		transform.NewPool(eng.cfg.TransformConcurrency, logger),
		eng.dlqService,
		eng.hooks,
		eng.cfg,
		logger,
		allMws...,
	)
	eng.scheduler = sched.NewScheduler(js, eng.runner, eng.hooks, eng.workerID, eng.cfg, logger)

	// Wire back into the Pipeline so Start/Stop reach the scheduler and
	// the shutdown hooks.
	p.SetScheduler(eng.scheduler)
	p.SetHooks(eng.hooks)

	return eng, nil
}

// Register persists a job definition and binds its extractor and
// transform on this instance. A nil transform derives documents from
// the definition's KeyField.
func (eng *Engine) Register(ctx context.Context, d *job.Definition, ex source.Extractor, tf transform.Func) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if tf == nil {
		if d.KeyField == "" {
			return fmt.Errorf("job %q: nil transform requires a key field", d.Name)
		}
		tf = transform.KeyFromField(d.KeyField)
	}

	if d.CreatedAt.IsZero() {
		d.Entity = syncline.NewEntity()
	}
	if err := eng.jobStore.PutDefinition(ctx, d); err != nil {
		return err
	}
	return eng.scheduler.Bind(&sched.Binding{Def: d, Extractor: ex, Transform: tf})
}

// TriggerNow starts a run immediately, outside the schedule, honoring
// the same lease discipline as scheduled ticks.
func (eng *Engine) TriggerNow(ctx context.Context, name string) (id.RunID, error) {
	return eng.scheduler.TriggerNow(ctx, name)
}

// Status returns the run state for a job.
func (eng *Engine) Status(ctx context.Context, name string) (*job.RunState, error) {
	return eng.jobStore.GetRunState(ctx, name)
}

// Jobs returns all registered job definitions.
func (eng *Engine) Jobs(ctx context.Context) ([]*job.Definition, error) {
	return eng.jobStore.ListDefinitions(ctx)
}

// DeadLetters returns the dead letter service for list and replay
// operations.
func (eng *Engine) DeadLetters() *deadletter.Service {
	return eng.dlqService
}

// WorkerID returns this instance's identity in the cluster registry.
func (eng *Engine) WorkerID() id.WorkerID {
	return eng.workerID
}

// Hooks returns the engine's extension registry.
func (eng *Engine) Hooks() *hook.Registry {
	return eng.hooks
}

// Start registers this instance in the cluster registry, launches the
// heartbeat and reaper loops, and begins scheduling sync runs.
func (eng *Engine) Start(ctx context.Context) error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	w := &cluster.Worker{
		ID:                   eng.workerID,
		Hostname:             hostname,
		TransformConcurrency: eng.cfg.TransformConcurrency,
		State:                cluster.WorkerActive,
		LastSeen:             time.Now().UTC(),
		CreatedAt:            time.Now().UTC(),
	}
	if regErr := eng.clusterStore.RegisterWorker(ctx, w); regErr != nil {
		eng.logger.Warn("failed to register worker in cluster store",
			slog.String("error", regErr.Error()),
		)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	eng.loopCancel = cancel
	eng.loopDone = make(chan struct{})
	go eng.maintenanceLoop(loopCtx)

	return eng.p.Start(ctx)
}

// Stop gracefully shuts the instance down: the maintenance loops stop,
// the instance deregisters, and the pipeline stops scheduling,
// finishing in-flight runs at their next batch boundary.
func (eng *Engine) Stop(ctx context.Context) error {
	if eng.loopCancel != nil {
		eng.loopCancel()
		<-eng.loopDone
	}

	if err := eng.clusterStore.DeregisterWorker(ctx, eng.workerID); err != nil {
		eng.logger.Warn("failed to deregister worker",
			slog.String("worker_id", eng.workerID.String()),
			slog.String("error", err.Error()),
		)
	}

	return eng.p.Stop(ctx)
}

// maintenanceLoop heartbeats this instance and reaps instances that
// stopped heartbeating. Reaping is best-effort on every instance; the
// store-side update is idempotent.
func (eng *Engine) maintenanceLoop(ctx context.Context) {
	defer close(eng.loopDone)

	interval := eng.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// A worker missing three heartbeats is dead.
	staleThreshold := 3 * interval

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := eng.clusterStore.HeartbeatWorker(ctx, eng.workerID); err != nil {
				eng.logger.Warn("worker heartbeat failed",
					slog.String("error", err.Error()),
				)
			}
			reaped, err := eng.clusterStore.ReapDeadWorkers(ctx, staleThreshold)
			if err != nil {
				eng.logger.Warn("dead worker reap failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			for _, w := range reaped {
				eng.logger.Info("reaped dead worker",
					slog.String("worker_id", w.ID.String()),
					slog.String("hostname", w.Hostname),
				)
			}
		}
	}
}
