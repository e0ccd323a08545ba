package deadletter

import (
	"context"
	"time"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/id"
	"github.com/syncline/syncline/job"
)

// Service provides high-level dead letter operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
}

// NewService creates a dead letter service.
func NewService(store Store, jobStore job.Store) *Service {
	return &Service{store: store, jobStore: jobStore}
}

// Push dead-letters a failed range: persists the entry and returns it.
// The caller (the runner) removes the range from the run state.
func (s *Service) Push(ctx context.Context, jobName string, r syncline.WatermarkRange, attempts int, cause error) (*Entry, error) {
	now := time.Now().UTC()
	entry := &Entry{
		ID:        id.NewDeadLetterID(),
		JobName:   jobName,
		Range:     r,
		Kind:      syncline.KindOf(cause),
		Error:     cause.Error(),
		Attempts:  attempts,
		FailedAt:  now,
		CreatedAt: now,
	}
	if err := s.store.PushDeadLetter(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Replay hands a dead-lettered range back to its job's run state so the
// next tick reprocesses it, then marks the entry replayed. Idempotent
// loads make replaying a partially loaded range safe.
func (s *Service) Replay(ctx context.Context, entryID id.DeadLetterID) (*Entry, error) {
	entry, err := s.store.GetDeadLetter(ctx, entryID)
	if err != nil {
		return nil, err
	}

	state, err := s.jobStore.GetRunState(ctx, entry.JobName)
	if err != nil {
		return nil, err
	}
	state.AddFailedRange(entry.Range)
	if err := s.jobStore.SaveRunState(ctx, state); err != nil {
		return nil, err
	}

	if err := s.store.MarkReplayed(ctx, entryID); err != nil {
		// The range is already queued for reprocessing; surface the
		// bookkeeping error without undoing that.
		return entry, err
	}
	return entry, nil
}

// DeadLetterStore returns the underlying store for direct access to
// List, Get, Purge, and Count operations.
func (s *Service) DeadLetterStore() Store {
	return s.store
}
