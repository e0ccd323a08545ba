package job

import (
	"time"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/id"
)

// Status represents the lifecycle state of a job's most recent run.
type Status string

const (
	// StatusIdle means no run is in flight and none has completed yet.
	StatusIdle Status = "idle"
	// StatusRunning means an instance holds the lease and is mid-run.
	StatusRunning Status = "running"
	// StatusSucceeded means the last run completed with the watermark
	// advanced past all loaded batches.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the last run hit a terminal failure. The
	// watermark stops at the last durably loaded batch.
	StatusFailed Status = "failed"
)

// RunState is the single persisted record of a job's progress. Owned
// exclusively by the scheduler; survives process restarts so a reclaimed
// job resumes from the last durable watermark instead of reprocessing or
// skipping data.
type RunState struct {
	syncline.Entity

	JobName   string             `json:"job_name"`
	Watermark syncline.Watermark `json:"watermark"`
	Status    Status             `json:"status"`

	// FailedRanges holds watermark sub-ranges whose transform shards
	// failed. The next run drains them before extracting new data.
	FailedRanges []FailedRange `json:"failed_ranges,omitempty"`

	LastRunID   id.RunID      `json:"last_run_id,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
	ErrorKind   syncline.Kind `json:"error_kind,omitempty"`
	ErrorDetail string        `json:"error_detail,omitempty"`

	// Lease fields. LeaseUntil is compared against the store's wall
	// clock (UTC, NTP-synchronized across instances) in an atomic
	// conditional write.
	LeaseOwner string     `json:"lease_owner,omitempty"`
	LeaseUntil *time.Time `json:"lease_until,omitempty"`
}

// NewRunState returns the initial idle state for a job.
func NewRunState(jobName string) *RunState {
	return &RunState{
		Entity:  syncline.NewEntity(),
		JobName: jobName,
		Status:  StatusIdle,
	}
}

// BeginRun transitions the state to running for a new run ID.
func (s *RunState) BeginRun(runID id.RunID) {
	now := time.Now().UTC()
	s.Status = StatusRunning
	s.LastRunID = runID
	s.StartedAt = &now
	s.FinishedAt = nil
	s.ErrorKind = ""
	s.ErrorDetail = ""
	s.Touch()
}

// FinishRun records a terminal outcome. err may be nil on success.
func (s *RunState) FinishRun(err error) {
	now := time.Now().UTC()
	s.FinishedAt = &now
	if err != nil {
		s.Status = StatusFailed
		s.ErrorKind = syncline.KindOf(err)
		s.ErrorDetail = err.Error()
	} else {
		s.Status = StatusSucceeded
	}
	s.Touch()
}

// FailedRange is a shard sub-range awaiting reprocessing, together with
// the number of failed attempts consumed against the job's attempt
// budget.
type FailedRange struct {
	Range    syncline.WatermarkRange `json:"range"`
	Attempts int                     `json:"attempts"`
}

// AddFailedRange records a failed attempt for a shard sub-range and
// returns the accumulated attempt count. The first failure adds the
// range with one attempt; later failures on the same range increment
// the count.
func (s *RunState) AddFailedRange(r syncline.WatermarkRange) int {
	for i := range s.FailedRanges {
		if s.FailedRanges[i].Range == r {
			s.FailedRanges[i].Attempts++
			return s.FailedRanges[i].Attempts
		}
	}
	s.FailedRanges = append(s.FailedRanges, FailedRange{Range: r, Attempts: 1})
	return 1
}

// ClearFailedRange removes a reprocessed sub-range.
func (s *RunState) ClearFailedRange(r syncline.WatermarkRange) {
	out := s.FailedRanges[:0]
	for _, existing := range s.FailedRanges {
		if existing.Range != r {
			out = append(out, existing)
		}
	}
	s.FailedRanges = out
	if len(s.FailedRanges) == 0 {
		s.FailedRanges = nil
	}
}
