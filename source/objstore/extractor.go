// Package objstore extracts source records from an S3-compatible object
// store: a key-prefix listing ordered by key, with each object
// deserialized from JSON into one source record.
package objstore

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/broker"
	"github.com/syncline/syncline/source"
)

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(x *Extractor) { x.logger = l }
}

// Extractor lists objects under a prefix in lexical key order and reads
// each as one JSON-encoded source record. The watermark Key holds the
// last processed object key; Seq counts processed objects so the
// (Seq, Key) pair stays totally ordered.
type Extractor struct {
	broker *broker.Broker
	bucket string
	prefix string
	logger *slog.Logger
}

var _ source.Extractor = (*Extractor)(nil)

// New creates an object store extractor over bucket/prefix.
func New(b *broker.Broker, bucket, prefix string, opts ...Option) *Extractor {
	x := &Extractor{
		broker: b,
		bucket: bucket,
		prefix: prefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Name identifies the source in logs and run state.
func (x *Extractor) Name() string {
	return "objstore." + x.bucket + "/" + x.prefix
}

// Extract lists up to limit objects with keys strictly after from.Key
// and deserializes each. Objects are never modified or deleted. An empty
// listing returns To == From.
func (x *Extractor) Extract(ctx context.Context, from syncline.Watermark, limit int) (*syncline.Batch, error) {
	batch := &syncline.Batch{From: from, To: from}

	err := broker.WithObjectStore(ctx, x.broker, func(client *minio.Client) error {
		listCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		objects := client.ListObjects(listCtx, x.bucket, minio.ListObjectsOptions{
			Prefix:     x.prefix,
			Recursive:  true,
			StartAfter: from.Key,
		})

		seq := from.Seq
		for obj := range objects {
			if obj.Err != nil {
				return syncline.E(syncline.KindSourceUnavailable, "objstore.list", obj.Err)
			}
			if len(batch.Records) >= limit {
				break
			}
			// Some S3-compatible backends ignore StartAfter.
			if obj.Key <= from.Key {
				continue
			}

			rec, err := x.fetch(ctx, client, obj.Key)
			if err != nil {
				return err
			}

			seq++
			mark := syncline.Watermark{Seq: seq, Key: obj.Key}
			batch.Records = append(batch.Records, rec)
			batch.Marks = append(batch.Marks, mark)
			batch.To = mark
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	x.logger.Debug("object batch extracted",
		slog.String("bucket", x.bucket),
		slog.String("prefix", x.prefix),
		slog.Int("records", len(batch.Records)),
		slog.String("to", batch.To.String()),
	)
	return batch, nil
}

// fetch reads and deserializes one object. Malformed JSON is a schema
// mismatch (terminal); a failed read is transient.
func (x *Extractor) fetch(ctx context.Context, client *minio.Client, key string) (syncline.SourceRecord, error) {
	obj, err := client.GetObject(ctx, x.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, syncline.E(syncline.KindSourceUnavailable, "objstore.get", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, syncline.E(syncline.KindSourceUnavailable, "objstore.read", err)
	}

	var rec syncline.SourceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, syncline.Ef(syncline.KindSchemaMismatch, "objstore.decode",
			"object %s: %v", key, err)
	}
	return rec, nil
}
