package mongo

import (
	"fmt"
	"time"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/cluster"
	"github.com/syncline/syncline/deadletter"
	"github.com/syncline/syncline/id"
	"github.com/syncline/syncline/job"
)

// ── Job definition model ──────────────────────────────────────────

type definitionModel struct {
	Name         string  `bson:"_id"`
	Schedule     string  `bson:"schedule"`
	Enabled      bool    `bson:"enabled"`
	Collection   string  `bson:"collection"`
	KeyField     string  `bson:"key_field"`
	MaxBatchSize int     `bson:"max_batch_size,omitempty"`
	ShardSize    int     `bson:"shard_size,omitempty"`
	MaxAttempts  int     `bson:"max_attempts,omitempty"`
	RatePerSec   float64 `bson:"rate_per_sec,omitempty"`
	// Timeout is stored in nanoseconds.
	Timeout   int64     `bson:"timeout,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func toDefinitionModel(d *job.Definition) *definitionModel {
	return &definitionModel{
		Name:         d.Name,
		Schedule:     d.Schedule,
		Enabled:      d.Enabled,
		Collection:   d.Collection,
		KeyField:     d.KeyField,
		MaxBatchSize: d.MaxBatchSize,
		ShardSize:    d.ShardSize,
		MaxAttempts:  d.MaxAttempts,
		RatePerSec:   d.RatePerSec,
		Timeout:      d.Timeout.Nanoseconds(),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func fromDefinitionModel(m *definitionModel) *job.Definition {
	return &job.Definition{
		Entity: syncline.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		Name:         m.Name,
		Schedule:     m.Schedule,
		Enabled:      m.Enabled,
		Collection:   m.Collection,
		KeyField:     m.KeyField,
		MaxBatchSize: m.MaxBatchSize,
		ShardSize:    m.ShardSize,
		MaxAttempts:  m.MaxAttempts,
		RatePerSec:   m.RatePerSec,
		Timeout:      time.Duration(m.Timeout),
	}
}

// ── Run state model ───────────────────────────────────────────────

type failedRangeModel struct {
	Range    syncline.WatermarkRange `bson:"range"`
	Attempts int                     `bson:"attempts"`
}

type runStateModel struct {
	JobName      string             `bson:"_id"`
	Watermark    syncline.Watermark `bson:"watermark"`
	Status       string             `bson:"status"`
	FailedRanges []failedRangeModel `bson:"failed_ranges,omitempty"`
	LastRunID    string             `bson:"last_run_id,omitempty"`
	StartedAt    *time.Time         `bson:"started_at,omitempty"`
	FinishedAt   *time.Time         `bson:"finished_at,omitempty"`
	ErrorKind    string             `bson:"error_kind,omitempty"`
	ErrorDetail  string             `bson:"error_detail,omitempty"`
	LeaseOwner   string             `bson:"lease_owner,omitempty"`
	LeaseUntil   *time.Time         `bson:"lease_until,omitempty"`
	CreatedAt    time.Time          `bson:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at"`
}

func toFailedRangeModels(ranges []job.FailedRange) []failedRangeModel {
	if len(ranges) == 0 {
		return nil
	}
	out := make([]failedRangeModel, len(ranges))
	for i, fr := range ranges {
		out[i] = failedRangeModel{Range: fr.Range, Attempts: fr.Attempts}
	}
	return out
}

func fromRunStateModel(m *runStateModel) (*job.RunState, error) {
	s := &job.RunState{
		Entity: syncline.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		JobName:     m.JobName,
		Watermark:   m.Watermark,
		Status:      job.Status(m.Status),
		StartedAt:   m.StartedAt,
		FinishedAt:  m.FinishedAt,
		ErrorKind:   syncline.Kind(m.ErrorKind),
		ErrorDetail: m.ErrorDetail,
		LeaseOwner:  m.LeaseOwner,
		LeaseUntil:  m.LeaseUntil,
	}

	for _, fr := range m.FailedRanges {
		s.FailedRanges = append(s.FailedRanges, job.FailedRange{
			Range:    fr.Range,
			Attempts: fr.Attempts,
		})
	}

	if m.LastRunID != "" {
		runID, err := id.ParseRunID(m.LastRunID)
		if err != nil {
			return nil, fmt.Errorf("syncline/mongo: parse run id %q: %w", m.LastRunID, err)
		}
		s.LastRunID = runID
	}
	return s, nil
}

// ── Target document model ─────────────────────────────────────────

type documentModel struct {
	Key       string         `bson:"_id"`
	Fields    map[string]any `bson:"fields"`
	UpdatedAt time.Time      `bson:"updated_at"`
}

func toDocumentModel(d syncline.TargetDocument, at time.Time) *documentModel {
	return &documentModel{
		Key:       d.Key,
		Fields:    d.Fields,
		UpdatedAt: at,
	}
}

func fromDocumentModel(m *documentModel) *syncline.TargetDocument {
	return &syncline.TargetDocument{Key: m.Key, Fields: m.Fields}
}

// ── Worker model ──────────────────────────────────────────────────

type workerModel struct {
	ID                   string            `bson:"_id"`
	Hostname             string            `bson:"hostname"`
	TransformConcurrency int               `bson:"transform_concurrency"`
	State                string            `bson:"state"`
	LastSeen             time.Time         `bson:"last_seen"`
	Metadata             map[string]string `bson:"metadata,omitempty"`
	CreatedAt            time.Time         `bson:"created_at"`
}

func toWorkerModel(w *cluster.Worker) *workerModel {
	return &workerModel{
		ID:                   w.ID.String(),
		Hostname:             w.Hostname,
		TransformConcurrency: w.TransformConcurrency,
		State:                string(w.State),
		LastSeen:             w.LastSeen,
		Metadata:             w.Metadata,
		CreatedAt:            w.CreatedAt,
	}
}

func fromWorkerModel(m *workerModel) (*cluster.Worker, error) {
	parsedID, err := id.ParseWorkerID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("syncline/mongo: parse worker id %q: %w", m.ID, err)
	}

	return &cluster.Worker{
		ID:                   parsedID,
		Hostname:             m.Hostname,
		TransformConcurrency: m.TransformConcurrency,
		State:                cluster.WorkerState(m.State),
		LastSeen:             m.LastSeen,
		Metadata:             m.Metadata,
		CreatedAt:            m.CreatedAt,
	}, nil
}

// ── Dead letter model ─────────────────────────────────────────────

type deadLetterModel struct {
	ID         string                  `bson:"_id"`
	JobName    string                  `bson:"job_name"`
	Range      syncline.WatermarkRange `bson:"range"`
	Kind       string                  `bson:"kind"`
	Error      string                  `bson:"error"`
	Attempts   int                     `bson:"attempts"`
	FailedAt   time.Time               `bson:"failed_at"`
	ReplayedAt *time.Time              `bson:"replayed_at,omitempty"`
	CreatedAt  time.Time               `bson:"created_at"`
}

func toDeadLetterModel(e *deadletter.Entry) *deadLetterModel {
	return &deadLetterModel{
		ID:         e.ID.String(),
		JobName:    e.JobName,
		Range:      e.Range,
		Kind:       string(e.Kind),
		Error:      e.Error,
		Attempts:   e.Attempts,
		FailedAt:   e.FailedAt,
		ReplayedAt: e.ReplayedAt,
		CreatedAt:  e.CreatedAt,
	}
}

func fromDeadLetterModel(m *deadLetterModel) (*deadletter.Entry, error) {
	parsedID, err := id.ParseDeadLetterID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("syncline/mongo: parse dead letter id %q: %w", m.ID, err)
	}

	return &deadletter.Entry{
		ID:         parsedID,
		JobName:    m.JobName,
		Range:      m.Range,
		Kind:       syncline.Kind(m.Kind),
		Error:      m.Error,
		Attempts:   m.Attempts,
		FailedAt:   m.FailedAt,
		ReplayedAt: m.ReplayedAt,
		CreatedAt:  m.CreatedAt,
	}, nil
}
