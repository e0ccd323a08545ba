package hook_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/deadletter"
	"github.com/syncline/syncline/hook"
	"github.com/syncline/syncline/id"
	"github.com/syncline/syncline/job"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnRunStarted(_ context.Context, _ *job.Definition, _ id.RunID) error {
	e.calls = append(e.calls, "OnRunStarted")
	return nil
}

func (e *allHooksExt) OnBatchLoaded(_ context.Context, _ string, _ syncline.WatermarkRange, _ int) error {
	e.calls = append(e.calls, "OnBatchLoaded")
	return nil
}

func (e *allHooksExt) OnShardFailed(_ context.Context, _ string, _ syncline.WatermarkRange, _ error) error {
	e.calls = append(e.calls, "OnShardFailed")
	return nil
}

func (e *allHooksExt) OnWatermarkAdvanced(_ context.Context, _ string, _ syncline.Watermark) error {
	e.calls = append(e.calls, "OnWatermarkAdvanced")
	return nil
}

func (e *allHooksExt) OnRunCompleted(_ context.Context, _ *job.Definition, _ id.RunID, _ time.Duration) error {
	e.calls = append(e.calls, "OnRunCompleted")
	return nil
}

func (e *allHooksExt) OnRunFailed(_ context.Context, _ *job.Definition, _ id.RunID, _ error) error {
	e.calls = append(e.calls, "OnRunFailed")
	return nil
}

func (e *allHooksExt) OnTickSkipped(_ context.Context, _ string) error {
	e.calls = append(e.calls, "OnTickSkipped")
	return nil
}

func (e *allHooksExt) OnDeadLettered(_ context.Context, _ *deadletter.Entry) error {
	e.calls = append(e.calls, "OnDeadLettered")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// runOnlyExt only implements run start/completion hooks.
type runOnlyExt struct {
	calls []string
}

func (e *runOnlyExt) Name() string { return "run-only" }

func (e *runOnlyExt) OnRunStarted(_ context.Context, _ *job.Definition, _ id.RunID) error {
	e.calls = append(e.calls, "OnRunStarted")
	return nil
}

func (e *runOnlyExt) OnRunCompleted(_ context.Context, _ *job.Definition, _ id.RunID, _ time.Duration) error {
	e.calls = append(e.calls, "OnRunCompleted")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnRunStarted(_ context.Context, _ *job.Definition, _ id.RunID) error {
	return errors.New("boom")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

func testDefinition() *job.Definition {
	return &job.Definition{
		Name:       "sync-users",
		Schedule:   "@every 30s",
		Collection: "users",
		KeyField:   "id",
	}
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_EmitsAllEvents(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	e := &allHooksExt{}
	r.Register(e)

	ctx := context.Background()
	d := testDefinition()
	runID := id.NewRunID()
	rng := syncline.WatermarkRange{
		From: syncline.Watermark{Seq: 0},
		To:   syncline.Watermark{Seq: 10},
	}

	r.EmitRunStarted(ctx, d, runID)
	r.EmitBatchLoaded(ctx, d.Name, rng, 10)
	r.EmitShardFailed(ctx, d.Name, rng, errors.New("bad shard"))
	r.EmitWatermarkAdvanced(ctx, d.Name, rng.To)
	r.EmitRunCompleted(ctx, d, runID, time.Second)
	r.EmitRunFailed(ctx, d, runID, errors.New("bad run"))
	r.EmitTickSkipped(ctx, d.Name)
	r.EmitDeadLettered(ctx, &deadletter.Entry{JobName: d.Name, Range: rng})
	r.EmitShutdown(ctx)

	want := []string{
		"OnRunStarted", "OnBatchLoaded", "OnShardFailed",
		"OnWatermarkAdvanced", "OnRunCompleted", "OnRunFailed",
		"OnTickSkipped", "OnDeadLettered", "OnShutdown",
	}
	if len(e.calls) != len(want) {
		t.Fatalf("expected %d calls, got %d: %v", len(want), len(e.calls), e.calls)
	}
	for i, name := range want {
		if e.calls[i] != name {
			t.Errorf("call %d: want %s, got %s", i, name, e.calls[i])
		}
	}
}

func TestRegistry_PartialExtensionSkipsUnimplemented(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	e := &runOnlyExt{}
	r.Register(e)

	ctx := context.Background()
	d := testDefinition()
	runID := id.NewRunID()

	r.EmitRunStarted(ctx, d, runID)
	r.EmitShutdown(ctx) // not implemented; must not panic
	r.EmitRunCompleted(ctx, d, runID, time.Second)

	want := []string{"OnRunStarted", "OnRunCompleted"}
	if len(e.calls) != len(want) {
		t.Fatalf("expected %d calls, got %d: %v", len(want), len(e.calls), e.calls)
	}
}

func TestRegistry_HookErrorDoesNotStopSiblings(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	r.Register(&failingExt{})
	second := &runOnlyExt{}
	r.Register(second)

	r.EmitRunStarted(context.Background(), testDefinition(), id.NewRunID())

	if len(second.calls) != 1 || second.calls[0] != "OnRunStarted" {
		t.Fatalf("second extension not notified after first errored: %v", second.calls)
	}
}

func TestRegistry_RegistrationOrder(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	a := &allHooksExt{}
	b := &runOnlyExt{}
	r.Register(a)
	r.Register(b)

	exts := r.Extensions()
	if len(exts) != 2 {
		t.Fatalf("expected 2 extensions, got %d", len(exts))
	}
	if exts[0].Name() != "all-hooks" || exts[1].Name() != "run-only" {
		t.Errorf("unexpected registration order: %s, %s", exts[0].Name(), exts[1].Name())
	}
}
