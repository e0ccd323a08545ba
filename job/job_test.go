package job_test

import (
	"testing"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/id"
	"github.com/syncline/syncline/job"
)

func TestDefinitionValidate(t *testing.T) {
	t.Parallel()

	valid := func() *job.Definition {
		return &job.Definition{
			Name:       "sync-users",
			Schedule:   "@every 5m",
			Collection: "users",
		}
	}

	if err := valid().Validate(); err != nil {
		t.Errorf("valid definition rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*job.Definition)
	}{
		{"missing name", func(d *job.Definition) { d.Name = "" }},
		{"missing schedule", func(d *job.Definition) { d.Schedule = "" }},
		{"missing collection", func(d *job.Definition) { d.Collection = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := valid()
			tc.mutate(d)
			if err := d.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDefinitionSizingDefaults(t *testing.T) {
	t.Parallel()
	d := &job.Definition{}
	if got := d.BatchSize(); got != job.DefaultBatchSize {
		t.Errorf("BatchSize() = %d, want default %d", got, job.DefaultBatchSize)
	}
	if got := d.ShardQuantum(); got != job.DefaultShardSize {
		t.Errorf("ShardQuantum() = %d, want default %d", got, job.DefaultShardSize)
	}

	d = &job.Definition{MaxBatchSize: 50, ShardSize: 10}
	if got := d.BatchSize(); got != 50 {
		t.Errorf("BatchSize() = %d, want 50", got)
	}
	if got := d.ShardQuantum(); got != 10 {
		t.Errorf("ShardQuantum() = %d, want 10", got)
	}
}

func TestRunStateTransitions(t *testing.T) {
	t.Parallel()
	s := job.NewRunState("sync-users")
	if s.Status != job.StatusIdle {
		t.Fatalf("initial status = %s, want idle", s.Status)
	}

	runID := id.NewRunID()
	s.BeginRun(runID)
	if s.Status != job.StatusRunning || s.LastRunID != runID || s.StartedAt == nil {
		t.Fatalf("after BeginRun: status=%s lastRunID=%s startedAt=%v", s.Status, s.LastRunID, s.StartedAt)
	}

	s.FinishRun(nil)
	if s.Status != job.StatusSucceeded || s.FinishedAt == nil || s.ErrorKind != "" {
		t.Fatalf("after success: status=%s finishedAt=%v errorKind=%q", s.Status, s.FinishedAt, s.ErrorKind)
	}

	s.BeginRun(id.NewRunID())
	if s.FinishedAt != nil || s.ErrorKind != "" {
		t.Fatal("BeginRun did not clear the previous outcome")
	}

	s.FinishRun(syncline.Ef(syncline.KindSourceUnavailable, "extract", "source down"))
	if s.Status != job.StatusFailed {
		t.Errorf("after failure: status = %s, want failed", s.Status)
	}
	if s.ErrorKind != syncline.KindSourceUnavailable || s.ErrorDetail == "" {
		t.Errorf("failure not recorded: kind=%s detail=%q", s.ErrorKind, s.ErrorDetail)
	}
}

func TestFailedRangeBookkeeping(t *testing.T) {
	t.Parallel()
	s := job.NewRunState("sync-users")

	r1 := syncline.WatermarkRange{
		From: syncline.Watermark{Seq: 0},
		To:   syncline.Watermark{Seq: 100},
	}
	r2 := syncline.WatermarkRange{
		From: syncline.Watermark{Seq: 100},
		To:   syncline.Watermark{Seq: 200},
	}

	if got := s.AddFailedRange(r1); got != 1 {
		t.Errorf("first failure attempts = %d, want 1", got)
	}
	if got := s.AddFailedRange(r2); got != 1 {
		t.Errorf("distinct range attempts = %d, want 1", got)
	}
	if got := s.AddFailedRange(r1); got != 2 {
		t.Errorf("repeat failure attempts = %d, want 2", got)
	}
	if len(s.FailedRanges) != 2 {
		t.Fatalf("failed ranges = %d, want 2", len(s.FailedRanges))
	}

	s.ClearFailedRange(r1)
	if len(s.FailedRanges) != 1 || s.FailedRanges[0].Range != r2 {
		t.Fatalf("after clear: %+v, want only %v", s.FailedRanges, r2)
	}

	s.ClearFailedRange(r2)
	if s.FailedRanges != nil {
		t.Errorf("after clearing all: %+v, want nil", s.FailedRanges)
	}
}
