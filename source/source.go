// Package source defines the extraction contract for sync jobs.
//
// An Extractor pulls a bounded batch of source records given a watermark
// describing "already processed up to here". Extraction is read-only and
// monotonic: the returned batch's To watermark is never before From, and
// an empty result returns To == From; no progress is claimed without
// data. Concrete extractors live in source/warehouse (SQL) and
// source/objstore (object listings).
package source

import (
	"context"

	"github.com/syncline/syncline"
)

// Extractor pulls bounded batches from an external source.
//
// Implementations fail with syncline.KindSourceUnavailable (retryable)
// for transient faults and syncline.KindSchemaMismatch (terminal) when
// rows do not match the expected shape. They never mutate source state.
type Extractor interface {
	// Name identifies the source in logs and run state.
	Name() string

	// Extract returns up to limit records strictly after the from
	// watermark, in watermark order, with per-record marks filled in.
	Extract(ctx context.Context, from syncline.Watermark, limit int) (*syncline.Batch, error)
}

// Func adapts a function to the Extractor interface. Used by tests and
// in-process sources.
type Func struct {
	SourceName string
	Fn         func(ctx context.Context, from syncline.Watermark, limit int) (*syncline.Batch, error)
}

func (f Func) Name() string {
	if f.SourceName == "" {
		return "func"
	}
	return f.SourceName
}

func (f Func) Extract(ctx context.Context, from syncline.Watermark, limit int) (*syncline.Batch, error) {
	return f.Fn(ctx, from, limit)
}
