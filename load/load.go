// Package load defines the document store write contract: idempotent,
// key-addressed upserts.
//
// A batch write is one logical unit: the runner commits the batch's
// watermark only after the whole write is confirmed. Partially written
// documents from an aborted attempt are tolerated: a retry with the
// same keys re-upserts instead of re-inserting, so the retried batch
// converges on exactly one logical document per key.
package load

import (
	"context"
	"log/slog"

	"github.com/syncline/syncline"
)

// DocumentStore is the upsert-by-key write interface the pipeline
// requires of its target store. Implementations classify transient
// faults as syncline.KindLoad (retryable) and schema/type conflicts on
// an existing document as syncline.KindConstraint (terminal).
type DocumentStore interface {
	// UpsertDocuments writes every document keyed by its idempotency
	// key: existing documents are replaced, new ones inserted. Returns
	// the number of documents written.
	UpsertDocuments(ctx context.Context, collection string, docs []syncline.TargetDocument) (int, error)

	// GetDocument retrieves one document by key.
	GetDocument(ctx context.Context, collection, key string) (*syncline.TargetDocument, error)

	// CountDocuments returns the number of documents in a collection.
	CountDocuments(ctx context.Context, collection string) (int64, error)
}

// Loader validates and writes transformed documents. It is a thin layer
// over the DocumentStore: retry policy lives in the runner, which knows
// the job's attempt budget.
type Loader struct {
	store  DocumentStore
	logger *slog.Logger
}

// NewLoader creates a Loader over a document store.
func NewLoader(store DocumentStore, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{store: store, logger: logger}
}

// Load upserts docs into collection and returns the count written.
// Documents without a key are rejected before any write is attempted;
// a keyless document could never be re-upserted idempotently.
func (l *Loader) Load(ctx context.Context, collection string, docs []syncline.TargetDocument) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	for i, d := range docs {
		if d.Key == "" {
			return 0, syncline.Ef(syncline.KindConstraint, "load",
				"document %d of %d has no idempotency key", i, len(docs))
		}
	}

	n, err := l.store.UpsertDocuments(ctx, collection, docs)
	if err != nil {
		return n, err
	}

	l.logger.Debug("batch loaded",
		slog.String("collection", collection),
		slog.Int("documents", n),
	)
	return n, nil
}
