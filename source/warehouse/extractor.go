// Package warehouse extracts source records from a SQL warehouse through
// a read-only, watermark-parameterized query over pgx.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/broker"
	"github.com/syncline/syncline/source"
)

// Postgres error codes that indicate the source schema does not match
// what the job expects. These are terminal, not transient.
const (
	pgUndefinedTable   = "42P01"
	pgUndefinedColumn  = "42703"
	pgDatatypeMismatch = "42804"
)

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(x *Extractor) { x.logger = l }
}

// WithQuery overrides the generated query. The query must accept the
// watermark sequence as $1 and the row limit as $2, select the sequence
// column, and order by it ascending.
func WithQuery(q string) Option {
	return func(x *Extractor) { x.query = q }
}

// Extractor reads rows strictly after a watermark sequence from one
// warehouse table. Reads go through the broker so every extraction gets
// a health-checked pool and the handle is released on every exit path.
type Extractor struct {
	broker    *broker.Broker
	table     string
	seqColumn string
	query     string
	logger    *slog.Logger
}

var _ source.Extractor = (*Extractor)(nil)

// New creates a warehouse extractor for table, using seqColumn as the
// monotonic watermark source.
func New(b *broker.Broker, table, seqColumn string, opts ...Option) *Extractor {
	x := &Extractor{
		broker:    b,
		table:     table,
		seqColumn: seqColumn,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(x)
	}
	if x.query == "" {
		x.query = fmt.Sprintf(
			"SELECT * FROM %s WHERE %s > $1 ORDER BY %s ASC LIMIT $2",
			table, seqColumn, seqColumn,
		)
	}
	return x
}

// Name identifies the source in logs and run state.
func (x *Extractor) Name() string {
	return "warehouse." + x.table
}

// Extract returns up to limit rows with seqColumn strictly greater than
// from.Seq, in ascending order, and never mutates source state. An empty
// result returns To == From.
func (x *Extractor) Extract(ctx context.Context, from syncline.Watermark, limit int) (*syncline.Batch, error) {
	batch := &syncline.Batch{From: from, To: from}

	err := broker.WithWarehouse(ctx, x.broker, func(pool *pgxpool.Pool) error {
		rows, err := pool.Query(ctx, x.query, from.Seq, limit)
		if err != nil {
			return x.classify("query", err)
		}
		defer rows.Close()

		fields := rows.FieldDescriptions()
		for rows.Next() {
			values, err := rows.Values()
			if err != nil {
				return x.classify("scan", err)
			}

			rec := make(syncline.SourceRecord, len(fields))
			for i, fd := range fields {
				rec[string(fd.Name)] = values[i]
			}

			seq, err := seqOf(rec, x.seqColumn)
			if err != nil {
				return syncline.E(syncline.KindSchemaMismatch, "warehouse.extract", err)
			}
			mark := syncline.Watermark{Seq: seq}
			if !batch.To.Before(mark) {
				return syncline.Ef(syncline.KindSchemaMismatch, "warehouse.extract",
					"non-monotonic %s: %d after %s", x.seqColumn, seq, batch.To)
			}

			batch.Records = append(batch.Records, rec)
			batch.Marks = append(batch.Marks, mark)
			batch.To = mark
		}
		if err := rows.Err(); err != nil {
			return x.classify("rows", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	x.logger.Debug("warehouse batch extracted",
		slog.String("table", x.table),
		slog.Int("records", len(batch.Records)),
		slog.String("from", from.String()),
		slog.String("to", batch.To.String()),
	)
	return batch, nil
}

// classify maps pgx errors onto the pipeline taxonomy: schema errors are
// terminal, everything else is a transient source fault. Broker
// connection errors pass through already classified.
func (x *Extractor) classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUndefinedTable, pgUndefinedColumn, pgDatatypeMismatch:
			return syncline.E(syncline.KindSchemaMismatch, "warehouse."+op, err)
		}
	}
	return syncline.E(syncline.KindSourceUnavailable, "warehouse."+op, err)
}

// seqOf pulls the watermark sequence out of a record, accepting the
// integer widths pgx produces for serial/bigserial/int columns.
func seqOf(rec syncline.SourceRecord, column string) (int64, error) {
	v, ok := rec[column]
	if !ok {
		return 0, fmt.Errorf("row missing sequence column %q", column)
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int:
		return int64(n), nil
	}
	return 0, fmt.Errorf("sequence column %q has non-integer type %T", column, v)
}
