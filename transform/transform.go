// Package transform maps batches of source records to target documents.
//
// Transforms are pure functions of their input. Batches above the job's
// shard quantum are partitioned into independent shards and dispatched to
// a bounded worker pool; partitioning is deterministic (same batch, same
// shard assignment) so a retry after partial failure resumes at shard
// granularity instead of restarting the whole batch.
package transform

import (
	"context"
	"fmt"

	"github.com/syncline/syncline"
)

// Func maps one source record to one target document. It must be pure
// and side-effect-free, and must derive the same idempotency key for
// the same record every time.
type Func func(ctx context.Context, rec syncline.SourceRecord) (syncline.TargetDocument, error)

// KeyFromField returns a Func that copies the record's fields verbatim
// and derives the idempotency key from the named field. This is the
// default binding when a job configures KeyField and no custom
// transform.
func KeyFromField(field string) Func {
	return func(_ context.Context, rec syncline.SourceRecord) (syncline.TargetDocument, error) {
		v, ok := rec[field]
		if !ok {
			return syncline.TargetDocument{}, fmt.Errorf("record missing key field %q", field)
		}
		key := fmt.Sprintf("%v", v)
		if key == "" {
			return syncline.TargetDocument{}, fmt.Errorf("record has empty key field %q", field)
		}

		fields := make(map[string]any, len(rec))
		for k, val := range rec {
			fields[k] = val
		}
		return syncline.TargetDocument{Key: key, Fields: fields}, nil
	}
}

// Shard is an independently processable partition of a batch. Range is
// the watermark sub-range the shard covers, used to reprocess exactly
// this slice of the source on a later tick if the shard fails.
type Shard struct {
	Index   int
	Records []syncline.SourceRecord
	Range   syncline.WatermarkRange
}

// Partition splits a batch into contiguous shards of at most quantum
// records, preserving record order. The assignment depends only on the
// batch contents and the quantum, never on scheduling, so repeated calls
// shard identically.
func Partition(b *syncline.Batch, quantum int) []Shard {
	if b.Empty() {
		return nil
	}
	if quantum <= 0 {
		quantum = len(b.Records)
	}

	n := (len(b.Records) + quantum - 1) / quantum
	shards := make([]Shard, 0, n)
	for i := 0; i < len(b.Records); i += quantum {
		end := i + quantum
		if end > len(b.Records) {
			end = len(b.Records)
		}
		shards = append(shards, Shard{
			Index:   len(shards),
			Records: b.Records[i:end],
			Range: syncline.WatermarkRange{
				From: b.MarkBefore(i),
				To:   b.Marks[end-1],
			},
		})
	}
	return shards
}
