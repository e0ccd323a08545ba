package syncline

import (
	"context"
	"log/slog"
)

// Option configures a Pipeline.
type Option func(*Pipeline) error

// Storer is the minimal store interface held by the Pipeline.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles. Implementations satisfy store.Store which embeds all
// subsystem stores.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// schedRunner is an internal interface for scheduler lifecycle.
type schedRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// hookEmitter is an internal interface for lifecycle shutdown events.
type hookEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Pipeline is the central coordinator for scheduled data synchronization.
//
// Create one with New() and functional options. The Pipeline holds
// references to subsystem components via internal interfaces to avoid
// import cycles; engine.Build wires everything together.
type Pipeline struct {
	config Config
	logger *slog.Logger
	store  Storer
	hooks  hookEmitter
	sched  schedRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Pipeline with the given options.
func New(opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Logger returns the pipeline's logger.
func (p *Pipeline) Logger() *slog.Logger { return p.logger }

// Store returns the pipeline's store.
func (p *Pipeline) Store() Storer { return p.store }

// Config returns a copy of the pipeline's configuration.
func (p *Pipeline) Config() Config { return p.config }

// SetScheduler sets the scheduler (called by the engine package).
func (p *Pipeline) SetScheduler(s schedRunner) { p.sched = s }

// SetHooks sets the hook emitter (called by the engine package).
func (p *Pipeline) SetHooks(h hookEmitter) { p.hooks = h }

// Start begins scheduling sync runs.
func (p *Pipeline) Start(ctx context.Context) error {
	if p.store == nil {
		return ErrNoStore
	}
	if p.sched == nil {
		return ErrNoBinding
	}
	if err := p.sched.Start(ctx); err != nil {
		return err
	}
	p.started = true
	return nil
}

// Stop gracefully shuts down the pipeline: pending ticks are cancelled,
// in-flight runs stop at the next batch boundary, and held leases are
// released before the store closes.
func (p *Pipeline) Stop(ctx context.Context) error {
	if p.sched != nil && p.started {
		if err := p.sched.Stop(ctx); err != nil {
			p.logger.Error("scheduler stop error", "error", err)
		}
	}
	if p.hooks != nil {
		p.hooks.EmitShutdown(ctx)
	}
	if p.store != nil {
		return p.store.Close()
	}
	return nil
}

// WithConfig replaces the entire configuration.
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) error {
		p.config = cfg
		return nil
	}
}

// WithTransformConcurrency sets the number of transform workers available
// for shard fan-out within a batch.
func WithTransformConcurrency(n int) Option {
	return func(p *Pipeline) error {
		p.config.TransformConcurrency = n
		return nil
	}
}

// WithLogger sets the structured logger for the pipeline.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) error {
		p.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the pipeline.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(p *Pipeline) error {
		p.store = s
		return nil
	}
}
