package transform_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/transform"
)

// makeBatch builds a batch of n records with sequential watermarks
// starting after from.
func makeBatch(t *testing.T, from int64, n int) *syncline.Batch {
	t.Helper()

	b := &syncline.Batch{
		From: syncline.Watermark{Seq: from},
		To:   syncline.Watermark{Seq: from},
	}
	for i := range n {
		seq := from + int64(i) + 1
		b.Records = append(b.Records, syncline.SourceRecord{"user_id": seq})
		b.Marks = append(b.Marks, syncline.Watermark{Seq: seq})
		b.To = syncline.Watermark{Seq: seq}
	}
	return b
}

func TestPartitionIsDeterministic(t *testing.T) {
	b := makeBatch(t, 0, 10)

	first := transform.Partition(b, 3)
	second := transform.Partition(b, 3)

	if len(first) != 4 {
		t.Fatalf("shards = %d, want 4", len(first))
	}
	for i := range first {
		if first[i].Index != second[i].Index ||
			first[i].Range != second[i].Range ||
			len(first[i].Records) != len(second[i].Records) {
			t.Fatalf("partition not deterministic at shard %d", i)
		}
	}
}

func TestPartitionRangesTileTheBatch(t *testing.T) {
	b := makeBatch(t, 5, 10)
	shards := transform.Partition(b, 4)

	if shards[0].Range.From != b.From {
		t.Fatalf("first shard starts at %v, want batch start %v", shards[0].Range.From, b.From)
	}
	for i := 1; i < len(shards); i++ {
		if shards[i].Range.From != shards[i-1].Range.To {
			t.Fatalf("gap between shard %d and %d: %v != %v",
				i-1, i, shards[i-1].Range.To, shards[i].Range.From)
		}
	}
	if last := shards[len(shards)-1]; last.Range.To != b.To {
		t.Fatalf("last shard ends at %v, want batch end %v", last.Range.To, b.To)
	}
}

func TestPartitionEmptyBatch(t *testing.T) {
	b := &syncline.Batch{From: syncline.Watermark{Seq: 3}, To: syncline.Watermark{Seq: 3}}
	if shards := transform.Partition(b, 10); shards != nil {
		t.Fatalf("Partition(empty) = %v, want nil", shards)
	}
}

func TestKeyFromField(t *testing.T) {
	fn := transform.KeyFromField("user_id")

	doc, err := fn(context.Background(), syncline.SourceRecord{"user_id": int64(42), "name": "ada"})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if doc.Key != "42" {
		t.Fatalf("key = %q, want %q", doc.Key, "42")
	}
	if doc.Fields["name"] != "ada" {
		t.Fatalf("fields not copied: %v", doc.Fields)
	}

	if _, err := fn(context.Background(), syncline.SourceRecord{"name": "no-key"}); err == nil {
		t.Fatal("transform accepted a record without the key field")
	}
}

func TestKeyFromFieldIsDeterministic(t *testing.T) {
	fn := transform.KeyFromField("id")
	rec := syncline.SourceRecord{"id": "abc", "v": 1}

	a, err := fn(context.Background(), rec)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	b, err := fn(context.Background(), rec)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if a.Key != b.Key {
		t.Fatalf("same record produced different keys: %q %q", a.Key, b.Key)
	}
}

func TestPoolTransformsAllShards(t *testing.T) {
	b := makeBatch(t, 0, 20)
	shards := transform.Partition(b, 5)
	pool := transform.NewPool(3, slog.Default())

	outcomes := pool.Transform(context.Background(), shards, transform.KeyFromField("user_id"))

	if len(outcomes) != len(shards) {
		t.Fatalf("outcomes = %d, want %d", len(outcomes), len(shards))
	}
	total := 0
	for i, o := range outcomes {
		if o.Shard.Index != i {
			t.Fatalf("outcomes out of order: index %d at position %d", o.Shard.Index, i)
		}
		if o.Err != nil {
			t.Fatalf("shard %d failed: %v", i, o.Err)
		}
		total += len(o.Docs)
	}
	if total != 20 {
		t.Fatalf("documents = %d, want 20", total)
	}
}

func TestShardFailureDoesNotAbortSiblings(t *testing.T) {
	b := makeBatch(t, 0, 12)
	shards := transform.Partition(b, 4) // 3 shards: records 1-4, 5-8, 9-12
	pool := transform.NewPool(2, slog.Default())

	poison := errors.New("bad record")
	fn := func(_ context.Context, rec syncline.SourceRecord) (syncline.TargetDocument, error) {
		if rec["user_id"].(int64) == 6 { // lands in the middle shard
			return syncline.TargetDocument{}, poison
		}
		return syncline.TargetDocument{Key: "k"}, nil
	}

	outcomes := pool.Transform(context.Background(), shards, fn)

	if outcomes[0].Err != nil || outcomes[2].Err != nil {
		t.Fatalf("sibling shards failed: %v, %v", outcomes[0].Err, outcomes[2].Err)
	}
	if outcomes[1].Err == nil {
		t.Fatal("poisoned shard reported no error")
	}
	if kind := syncline.KindOf(outcomes[1].Err); kind != syncline.KindTransform {
		t.Fatalf("kind = %q, want %q", kind, syncline.KindTransform)
	}
	if !errors.Is(outcomes[1].Err, poison) {
		t.Fatalf("cause not preserved: %v", outcomes[1].Err)
	}
}

func TestShardPanicIsIsolated(t *testing.T) {
	b := makeBatch(t, 0, 8)
	shards := transform.Partition(b, 4)
	pool := transform.NewPool(2, slog.Default())

	fn := func(_ context.Context, rec syncline.SourceRecord) (syncline.TargetDocument, error) {
		if rec["user_id"].(int64) == 2 {
			panic("transform exploded")
		}
		return syncline.TargetDocument{Key: "k"}, nil
	}

	outcomes := pool.Transform(context.Background(), shards, fn)

	if outcomes[0].Err == nil {
		t.Fatal("panicked shard reported no error")
	}
	if outcomes[1].Err != nil {
		t.Fatalf("sibling shard failed: %v", outcomes[1].Err)
	}
}
