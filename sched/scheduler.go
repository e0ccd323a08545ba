package sched

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/hook"
	"github.com/syncline/syncline/id"
	"github.com/syncline/syncline/job"
)

// Scheduler runs sync jobs on a tick loop. Every enabled, locally
// bound job whose schedule has elapsed gets one run attempt per tick;
// the cross-process lease decides which instance actually runs it.
type Scheduler struct {
	jobStore job.Store
	runner   *Runner
	hooks    *hook.Registry
	workerID id.WorkerID
	logger   *slog.Logger
	cfg      syncline.Config

	schedules *scheduleCache

	bindingsMu sync.RWMutex
	bindings   map[string]*Binding

	// inflight tracks jobs this instance is currently running, so a
	// slow run is never doubled up locally while it still holds the
	// lease.
	inflightMu sync.Mutex
	inflight   map[string]bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	jobStore job.Store,
	runner *Runner,
	hooks *hook.Registry,
	workerID id.WorkerID,
	cfg syncline.Config,
	logger *slog.Logger,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobStore:  jobStore,
		runner:    runner,
		hooks:     hooks,
		workerID:  workerID,
		logger:    logger,
		cfg:       cfg,
		schedules: newScheduleCache(),
		bindings:  make(map[string]*Binding),
		inflight:  make(map[string]bool),
	}
}

// Bind registers the extractor and transform serving a job on this
// instance. The schedule is validated here so a bad expression fails at
// startup, not on the first tick.
func (s *Scheduler) Bind(b *Binding) error {
	if err := b.Def.Validate(); err != nil {
		return err
	}
	if _, err := ParseSchedule(b.Def.Schedule); err != nil {
		return err
	}
	if b.Extractor == nil {
		return syncline.Ef(syncline.KindInternal, "sched.bind",
			"job %q has no extractor", b.Def.Name)
	}
	s.bindingsMu.Lock()
	defer s.bindingsMu.Unlock()
	s.bindings[b.Def.Name] = b
	return nil
}

func (s *Scheduler) binding(name string) *Binding {
	s.bindingsMu.RLock()
	defer s.bindingsMu.RUnlock()
	return s.bindings[name]
}

// Start launches the tick loop.
func (s *Scheduler) Start(_ context.Context) error {
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.tickLoop(s.baseCtx)
	s.logger.Info("scheduler started",
		slog.String("worker_id", s.workerID.String()),
		slog.Duration("tick_interval", s.cfg.TickInterval),
	)
	return nil
}

// Stop cancels in-flight runs at their next batch boundary and waits
// for them, up to the configured shutdown timeout.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-time.After(s.cfg.ShutdownTimeout):
		s.logger.Warn("scheduler shutdown timeout elapsed with runs in flight")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tickLoop fires on each tick interval and processes due jobs.
func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	defs, err := s.jobStore.ListDefinitions(ctx)
	if err != nil {
		s.logger.Error("list definitions error", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, d := range defs {
		if !d.Enabled {
			continue
		}
		bound := s.binding(d.Name)
		if bound == nil {
			continue // not bound on this instance
		}
		if s.isInflight(d.Name) {
			continue
		}

		due, err := s.due(ctx, d, now)
		if err != nil {
			s.logger.Error("due check error",
				slog.String("job_name", d.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !due {
			continue
		}

		// The stored definition wins over the one captured at Bind
		// time, so schedule or batching edits apply from the next tick.
		s.launch(ctx, &Binding{
			Def:       d,
			Extractor: bound.Extractor,
			Transform: bound.Transform,
		})
	}
}

// due reports whether the job's schedule has elapsed since its last run
// started. A job that has never run is due immediately.
func (s *Scheduler) due(ctx context.Context, d *job.Definition, now time.Time) (bool, error) {
	state, err := s.jobStore.GetRunState(ctx, d.Name)
	if err != nil {
		if errors.Is(err, syncline.ErrRunNotFound) {
			return true, nil
		}
		return false, err
	}
	if state.StartedAt == nil {
		return true, nil
	}

	sched, err := s.schedules.get(d.Schedule)
	if err != nil {
		return false, err
	}
	return !sched.Next(*state.StartedAt).After(now), nil
}

// launch starts one run attempt in the background.
func (s *Scheduler) launch(ctx context.Context, b *Binding) {
	name := b.Def.Name
	if !s.tryMarkInflight(name) {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.clearInflight(name)

		acquired, err := s.jobStore.AcquireLease(ctx, name, s.workerID, s.cfg.LeaseTTL)
		if err != nil {
			s.logger.Error("lease acquire error",
				slog.String("job_name", name),
				slog.String("error", err.Error()),
			)
			return
		}
		if !acquired {
			// Another instance is running it; normal skip.
			s.hooks.EmitTickSkipped(ctx, name)
			s.logger.Debug("tick skipped, lease held elsewhere",
				slog.String("job_name", name),
			)
			return
		}

		s.runLeased(ctx, b, id.NewRunID())
	}()
}

// runLeased executes one run while keeping the already-acquired lease
// alive, and releases it afterwards. Losing the lease mid-run cancels
// the run at its next batch boundary.
func (s *Scheduler) runLeased(ctx context.Context, b *Binding, runID id.RunID) {
	name := b.Def.Name

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		s.keepLease(runCtx, name, cancel)
	}()

	// The run outcome lands in the run state; errors are logged by the
	// middleware chain.
	_ = s.runner.Run(runCtx, b, runID)

	cancel()
	<-renewDone

	releaseCtx := context.WithoutCancel(ctx)
	if err := s.jobStore.ReleaseLease(releaseCtx, name, s.workerID); err != nil {
		s.logger.Error("lease release error",
			slog.String("job_name", name),
			slog.String("error", err.Error()),
		)
	}
}

// keepLease renews the run lease until ctx is cancelled. If a renewal
// reports the lease lost, cancel is called so the run stops before
// another instance can start a conflicting one.
func (s *Scheduler) keepLease(ctx context.Context, name string, cancel context.CancelFunc) {
	interval := s.cfg.LeaseTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := s.jobStore.RenewLease(ctx, name, s.workerID, s.cfg.LeaseTTL)
			if err != nil {
				s.logger.Warn("lease renew error",
					slog.String("job_name", name),
					slog.String("error", err.Error()),
				)
				continue
			}
			if !ok {
				s.logger.Warn("lease lost mid-run, cancelling",
					slog.String("job_name", name),
				)
				cancel()
				return
			}
		}
	}
}

// TriggerNow starts a run immediately, outside the schedule. It returns
// ErrLeaseHeld when the job is already running here or elsewhere,
// ErrNoBinding when this instance has no code for the job, and
// ErrJobNotFound for unknown names. The run itself proceeds in the
// background; its ID is returned for status polling.
func (s *Scheduler) TriggerNow(ctx context.Context, name string) (id.RunID, error) {
	d, err := s.jobStore.GetDefinition(ctx, name)
	if err != nil {
		return id.Nil, err
	}
	bound := s.binding(name)
	if bound == nil {
		return id.Nil, syncline.ErrNoBinding
	}

	// Claim the local slot before the lease: AcquireLease is
	// re-entrant for the same owner, so it alone cannot stop this
	// instance from doubling up.
	if !s.tryMarkInflight(name) {
		return id.Nil, syncline.ErrLeaseHeld
	}

	acquired, err := s.jobStore.AcquireLease(ctx, name, s.workerID, s.cfg.LeaseTTL)
	if err != nil {
		s.clearInflight(name)
		return id.Nil, err
	}
	if !acquired {
		s.clearInflight(name)
		return id.Nil, syncline.ErrLeaseHeld
	}

	runID := id.NewRunID()
	runBinding := &Binding{Def: d, Extractor: bound.Extractor, Transform: bound.Transform}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.clearInflight(name)
		// Tied to the scheduler lifetime, not the caller's request.
		s.runLeased(s.runCtx(), runBinding, runID)
	}()

	return runID, nil
}

// runCtx returns the context background runs attach to. Before Start
// it falls back to context.Background so TriggerNow works on an
// unstarted scheduler (tests, one-shot tools).
func (s *Scheduler) runCtx() context.Context {
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}

func (s *Scheduler) isInflight(name string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	return s.inflight[name]
}

// tryMarkInflight claims the local run slot for a job. It returns
// false when a run is already in flight on this instance.
func (s *Scheduler) tryMarkInflight(name string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if s.inflight[name] {
		return false
	}
	s.inflight[name] = true
	return true
}

func (s *Scheduler) clearInflight(name string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, name)
}
