package cluster

import (
	"context"
	"time"

	"github.com/syncline/syncline/id"
)

// Store defines the persistence contract for the instance registry.
type Store interface {
	// RegisterWorker adds an instance to the registry. Re-registration
	// with the same ID replaces the existing record.
	RegisterWorker(ctx context.Context, w *Worker) error

	// DeregisterWorker removes an instance from the registry.
	DeregisterWorker(ctx context.Context, workerID id.WorkerID) error

	// HeartbeatWorker updates the last-seen timestamp for an instance,
	// indicating it is still alive.
	HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error

	// ListWorkers returns all registered instances.
	ListWorkers(ctx context.Context) ([]*Worker, error)

	// ReapDeadWorkers marks instances whose last-seen timestamp is older
	// than the threshold as dead and returns them.
	ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*Worker, error)
}
