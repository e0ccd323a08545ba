package job

import (
	"context"
	"time"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/id"
)

// Store defines the persistence contract for job definitions, run state,
// and the cross-process run lease.
type Store interface {
	// PutDefinition inserts or replaces a job definition by name.
	PutDefinition(ctx context.Context, d *Definition) error

	// GetDefinition retrieves a definition by name.
	GetDefinition(ctx context.Context, name string) (*Definition, error)

	// ListDefinitions returns all definitions.
	ListDefinitions(ctx context.Context) ([]*Definition, error)

	// DeleteDefinition removes a definition and its run state.
	DeleteDefinition(ctx context.Context, name string) error

	// GetRunState retrieves the run state for a job.
	GetRunState(ctx context.Context, name string) (*RunState, error)

	// SaveRunState persists run status, error detail, and failed ranges.
	// It never moves the watermark; only CommitWatermark does that.
	SaveRunState(ctx context.Context, s *RunState) error

	// CommitWatermark durably advances the watermark for a job. The
	// write must be confirmed before the runner extracts the next
	// batch. Implementations must reject regressions: the stored
	// watermark only ever moves forward.
	CommitWatermark(ctx context.Context, name string, w syncline.Watermark) error

	// AcquireLease attempts to take the run lease for a job with an
	// atomic conditional write: it succeeds iff no unexpired lease
	// exists or the caller already owns it. Returns false (not an
	// error) when another instance holds the lease.
	AcquireLease(ctx context.Context, name string, owner id.WorkerID, ttl time.Duration) (bool, error)

	// RenewLease extends a held lease. Returns false if the caller no
	// longer owns it (expired and reclaimed elsewhere).
	RenewLease(ctx context.Context, name string, owner id.WorkerID, ttl time.Duration) (bool, error)

	// ReleaseLease drops the lease if the caller owns it. Releasing a
	// lease owned by someone else is a no-op.
	ReleaseLease(ctx context.Context, name string, owner id.WorkerID) error
}
