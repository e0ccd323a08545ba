package store

import (
	"context"

	"github.com/syncline/syncline/cluster"
	"github.com/syncline/syncline/deadletter"
	"github.com/syncline/syncline/job"
	"github.com/syncline/syncline/load"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// implements all of them. The target document collections live in the
// same backend as the pipeline's own bookkeeping, so a batch load and
// its watermark commit land in one place.
type Store interface {
	job.Store
	load.DocumentStore
	cluster.Store
	deadletter.Store

	// Migrate creates collections and indexes.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
