package syncline

import "fmt"

// Watermark is an opaque, monotonically advancing cursor marking
// extraction progress. Seq is the primary position (a row sequence number
// or timestamp); Key breaks ties for lexically ordered sources such as
// object-store listings. The zero value marks the beginning of a source.
type Watermark struct {
	Seq int64  `json:"seq" bson:"seq"`
	Key string `json:"key,omitempty" bson:"key,omitempty"`
}

// Compare orders watermarks by (Seq, Key). It returns -1, 0, or +1.
func (w Watermark) Compare(o Watermark) int {
	switch {
	case w.Seq < o.Seq:
		return -1
	case w.Seq > o.Seq:
		return 1
	case w.Key < o.Key:
		return -1
	case w.Key > o.Key:
		return 1
	}
	return 0
}

// Before reports whether w is strictly before o.
func (w Watermark) Before(o Watermark) bool { return w.Compare(o) < 0 }

// IsZero reports whether w marks the beginning of a source.
func (w Watermark) IsZero() bool { return w.Seq == 0 && w.Key == "" }

func (w Watermark) String() string {
	if w.Key == "" {
		return fmt.Sprintf("%d", w.Seq)
	}
	return fmt.Sprintf("%d/%s", w.Seq, w.Key)
}

// WatermarkRange is a half-open extraction range (From, To]. A failed
// transform shard records its range here so the next tick can reprocess
// exactly that sub-range.
type WatermarkRange struct {
	From Watermark `json:"from" bson:"from"`
	To   Watermark `json:"to" bson:"to"`
}

func (r WatermarkRange) String() string {
	return fmt.Sprintf("(%s, %s]", r.From, r.To)
}

// SourceRecord is a schema-agnostic key-value payload read from a source.
type SourceRecord map[string]any

// TargetDocument is the transformed form of a SourceRecord, destined for
// the document store. Key is the deterministic idempotency key: the same
// source record always yields the same key, so re-upserting after a retry
// results in exactly one logical document.
type TargetDocument struct {
	Key    string         `json:"key" bson:"_id"`
	Fields map[string]any `json:"fields" bson:"fields"`
}

// Batch is a bounded, ordered sequence of source records tagged with the
// watermark range it covers. Marks holds the per-record watermark: Marks[i]
// is the position after record i is processed, so Marks[len-1] == To.
// Batches are transient; they live only for the duration of one run.
type Batch struct {
	Records []SourceRecord
	Marks   []Watermark
	From    Watermark
	To      Watermark
}

// Empty reports whether the batch claimed no progress. An empty extraction
// must return To == From, so no watermark movement is possible without data.
func (b *Batch) Empty() bool { return len(b.Records) == 0 }

// MarkBefore returns the watermark preceding record i: the batch start for
// the first record, otherwise the previous record's mark.
func (b *Batch) MarkBefore(i int) Watermark {
	if i <= 0 {
		return b.From
	}
	return b.Marks[i-1]
}
