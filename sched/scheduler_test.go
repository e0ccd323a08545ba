package sched_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/id"
	"github.com/syncline/syncline/job"
	"github.com/syncline/syncline/sched"
	"github.com/syncline/syncline/source"
	"github.com/syncline/syncline/transform"
)

func newScheduler(t *testing.T, r *rig) *sched.Scheduler {
	t.Helper()
	return sched.NewScheduler(r.store, r.runner, r.hooks, id.NewWorkerID(), r.cfg, nil)
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestScheduler_BindValidation(t *testing.T) {
	t.Parallel()
	r := newRig(t, nil)
	s := newScheduler(t, r)
	src := &sliceSource{}

	cases := []struct {
		name string
		b    *sched.Binding
	}{
		{"missing schedule", &sched.Binding{
			Def:       &job.Definition{Name: "j", Collection: "c"},
			Extractor: src,
		}},
		{"bad cron expression", &sched.Binding{
			Def:       &job.Definition{Name: "j", Schedule: "not cron", Collection: "c"},
			Extractor: src,
		}},
		{"nil extractor", &sched.Binding{
			Def: &job.Definition{Name: "j", Schedule: "@every 1m", Collection: "c"},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := s.Bind(tc.b); err == nil {
				t.Error("expected bind error")
			}
		})
	}

	ok := &sched.Binding{
		Def:       userJob(),
		Extractor: src,
		Transform: transform.KeyFromField("id"),
	}
	if err := s.Bind(ok); err != nil {
		t.Errorf("valid binding rejected: %v", err)
	}
}

func TestScheduler_TriggerNow(t *testing.T) {
	t.Parallel()
	r := newRig(t, nil)
	s := newScheduler(t, r)
	d := userJob()
	r.put(t, d)
	src := &sliceSource{records: []syncline.SourceRecord{rec(1, "u1"), rec(2, "u2"), rec(3, "u3")}}
	if err := s.Bind(&sched.Binding{Def: d, Extractor: src, Transform: transform.KeyFromField("id")}); err != nil {
		t.Fatalf("bind: %v", err)
	}

	runID, err := s.TriggerNow(context.Background(), d.Name)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if runID.IsNil() {
		t.Fatal("trigger returned nil run id")
	}

	waitFor(t, 2*time.Second, "run to finish", func() bool {
		return r.state(t, d.Name).Status == job.StatusSucceeded
	})

	state := r.state(t, d.Name)
	if state.LastRunID != runID {
		t.Errorf("run id: want %s, got %s", runID, state.LastRunID)
	}
	if state.Watermark.Seq != 3 {
		t.Errorf("watermark: want 3, got %d", state.Watermark.Seq)
	}

	// The lease was released: another worker can take it straight away.
	waitFor(t, time.Second, "lease release", func() bool {
		ok, err := r.store.AcquireLease(context.Background(), d.Name, id.NewWorkerID(), time.Minute)
		return err == nil && ok
	})
}

func TestScheduler_TriggerNowUnknownJob(t *testing.T) {
	t.Parallel()
	r := newRig(t, nil)
	s := newScheduler(t, r)

	_, err := s.TriggerNow(context.Background(), "no-such-job")
	if !errors.Is(err, syncline.ErrJobNotFound) {
		t.Errorf("want ErrJobNotFound, got %v", err)
	}
}

func TestScheduler_TriggerNowUnboundJob(t *testing.T) {
	t.Parallel()
	r := newRig(t, nil)
	s := newScheduler(t, r)
	d := userJob()
	r.put(t, d)

	_, err := s.TriggerNow(context.Background(), d.Name)
	if !errors.Is(err, syncline.ErrNoBinding) {
		t.Errorf("want ErrNoBinding, got %v", err)
	}
}

func TestScheduler_TriggerNowLeaseHeldElsewhere(t *testing.T) {
	t.Parallel()
	r := newRig(t, nil)
	s := newScheduler(t, r)
	d := userJob()
	r.put(t, d)
	src := &sliceSource{records: []syncline.SourceRecord{rec(1, "u1")}}
	if err := s.Bind(&sched.Binding{Def: d, Extractor: src, Transform: transform.KeyFromField("id")}); err != nil {
		t.Fatalf("bind: %v", err)
	}

	// Another instance holds the run lease.
	other := id.NewWorkerID()
	ok, err := r.store.AcquireLease(context.Background(), d.Name, other, time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire foreign lease: ok=%v err=%v", ok, err)
	}

	_, err = s.TriggerNow(context.Background(), d.Name)
	if !errors.Is(err, syncline.ErrLeaseHeld) {
		t.Errorf("want ErrLeaseHeld, got %v", err)
	}

	state := r.state(t, d.Name)
	if state.Status == job.StatusRunning {
		t.Error("run started despite foreign lease")
	}
}

func TestScheduler_TriggerNowWhileRunning(t *testing.T) {
	t.Parallel()
	r := newRig(t, nil)
	s := newScheduler(t, r)
	d := userJob()
	r.put(t, d)

	// An extractor that blocks until released, keeping the first run in
	// flight.
	gate := make(chan struct{})
	src := source.Func{
		SourceName: "gated",
		Fn: func(ctx context.Context, from syncline.Watermark, _ int) (*syncline.Batch, error) {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return &syncline.Batch{From: from, To: from}, nil
		},
	}
	if err := s.Bind(&sched.Binding{Def: d, Extractor: src, Transform: transform.KeyFromField("id")}); err != nil {
		t.Fatalf("bind: %v", err)
	}

	if _, err := s.TriggerNow(context.Background(), d.Name); err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	waitFor(t, time.Second, "first run to start", func() bool {
		return r.state(t, d.Name).Status == job.StatusRunning
	})

	// Same instance, same lease owner: the local in-flight slot must
	// still refuse a second concurrent run.
	if _, err := s.TriggerNow(context.Background(), d.Name); !errors.Is(err, syncline.ErrLeaseHeld) {
		t.Errorf("want ErrLeaseHeld while running, got %v", err)
	}

	close(gate)
	waitFor(t, 2*time.Second, "first run to finish", func() bool {
		return r.state(t, d.Name).Status == job.StatusSucceeded
	})

	// The slot and lease are released shortly after the run state
	// flips; a later trigger succeeds.
	waitFor(t, time.Second, "slot release", func() bool {
		_, err := s.TriggerNow(context.Background(), d.Name)
		return err == nil
	})
}

func TestScheduler_TickRunsDueJob(t *testing.T) {
	t.Parallel()
	r := newRig(t, nil)
	s := newScheduler(t, r)
	d := userJob()
	r.put(t, d)
	src := &sliceSource{records: []syncline.SourceRecord{rec(1, "u1"), rec(2, "u2")}}
	if err := s.Bind(&sched.Binding{Def: d, Extractor: src, Transform: transform.KeyFromField("id")}); err != nil {
		t.Fatalf("bind: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		if err := s.Stop(context.Background()); err != nil {
			t.Errorf("stop: %v", err)
		}
	}()

	// Never-run jobs are due on the first tick.
	waitFor(t, 2*time.Second, "scheduled run", func() bool {
		return r.state(t, d.Name).Status == job.StatusSucceeded
	})
	if got := r.state(t, d.Name).Watermark.Seq; got != 2 {
		t.Errorf("watermark: want 2, got %d", got)
	}
}

func TestScheduler_DisabledJobNeverTicks(t *testing.T) {
	t.Parallel()
	r := newRig(t, nil)
	s := newScheduler(t, r)
	d := userJob()
	d.Enabled = false
	r.put(t, d)
	src := &sliceSource{records: []syncline.SourceRecord{rec(1, "u1")}}
	if err := s.Bind(&sched.Binding{Def: d, Extractor: src, Transform: transform.KeyFromField("id")}); err != nil {
		t.Fatalf("bind: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())

	time.Sleep(5 * r.cfg.TickInterval)

	state := r.state(t, d.Name)
	if state.StartedAt != nil {
		t.Error("disabled job ran")
	}
	if src.calls != 0 {
		t.Errorf("extractor called %d times for a disabled job", src.calls)
	}
}

func TestScheduler_TickSkippedEmitsHook(t *testing.T) {
	t.Parallel()
	r := newRig(t, nil)

	skipped := make(chan string, 1)
	r.hooks.Register(&tickSkipSpy{ch: skipped})

	s := newScheduler(t, r)
	d := userJob()
	r.put(t, d)
	src := &sliceSource{records: []syncline.SourceRecord{rec(1, "u1")}}
	if err := s.Bind(&sched.Binding{Def: d, Extractor: src, Transform: transform.KeyFromField("id")}); err != nil {
		t.Fatalf("bind: %v", err)
	}

	// A foreign lease forces every tick into the skip path.
	other := id.NewWorkerID()
	if ok, err := r.store.AcquireLease(context.Background(), d.Name, other, time.Minute); err != nil || !ok {
		t.Fatalf("acquire foreign lease: ok=%v err=%v", ok, err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())

	select {
	case name := <-skipped:
		if name != d.Name {
			t.Errorf("skipped job: want %s, got %s", d.Name, name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no tick skipped event")
	}

	if src.calls != 0 {
		t.Errorf("extractor called %d times without the lease", src.calls)
	}
}

type tickSkipSpy struct {
	ch chan string
}

func (s *tickSkipSpy) Name() string { return "tick-skip-spy" }

func (s *tickSkipSpy) OnTickSkipped(_ context.Context, jobName string) error {
	select {
	case s.ch <- jobName:
	default:
	}
	return nil
}
