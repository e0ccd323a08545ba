package syncline

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore         = errors.New("syncline: no store configured")
	ErrStoreClosed     = errors.New("syncline: store closed")
	ErrMigrationFailed = errors.New("syncline: migration failed")

	// Not found errors.
	ErrJobNotFound        = errors.New("syncline: job not found")
	ErrRunNotFound        = errors.New("syncline: run state not found")
	ErrDeadLetterNotFound = errors.New("syncline: dead letter not found")
	ErrWorkerNotFound     = errors.New("syncline: worker not found")
	ErrDocumentNotFound   = errors.New("syncline: document not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("syncline: job already exists")

	// ErrLeaseHeld means another instance holds the run lease for a job.
	// A scheduled tick treats this as a normal skip, not a failure.
	ErrLeaseHeld = errors.New("syncline: lease held by another instance")

	// ErrNoBinding means a job definition has no registered source and
	// transform binding on this instance.
	ErrNoBinding = errors.New("syncline: no binding registered for job")
)

// Kind classifies pipeline failures. Retryable kinds are retried in-run
// with bounded backoff before surfacing; the rest surface immediately.
type Kind string

const (
	// KindConnection means a backing service was unreachable after
	// bounded retry-with-backoff.
	KindConnection Kind = "connection_error"

	// KindSourceUnavailable means an extraction call to a source failed
	// transiently.
	KindSourceUnavailable Kind = "source_unavailable"

	// KindSchemaMismatch means extracted rows did not match the expected
	// shape. Never retried.
	KindSchemaMismatch Kind = "schema_mismatch"

	// KindTransform means a transform shard failed. The failed shard's
	// watermark range is recorded for reprocessing on the next tick.
	KindTransform Kind = "transform_error"

	// KindLoad means a document store write failed transiently.
	KindLoad Kind = "load_error"

	// KindConstraint means a document store write conflicted with an
	// existing document's schema or type. Never retried.
	KindConstraint Kind = "constraint_violation"

	// KindLeaseHeld marks a skipped tick due to lease contention.
	// It is reported, never retried, and never a run failure.
	KindLeaseHeld Kind = "lease_held"

	// Auth kinds.
	KindTokenExpired   Kind = "token_expired"
	KindTokenSignature Kind = "invalid_signature"
	KindTokenRevoked   Kind = "token_revoked"

	// KindInternal covers unexpected failures.
	KindInternal Kind = "internal"
)

// Retryable reports whether failures of this kind may be retried with
// backoff inside a run.
func (k Kind) Retryable() bool {
	switch k {
	case KindConnection, KindSourceUnavailable, KindLoad:
		return true
	}
	return false
}

// Error is a classified pipeline error. Op names the operation that
// failed ("warehouse.extract", "mongo.upsert", ...).
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("syncline: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("syncline: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and operation name.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Ef wraps a formatted message with a kind and operation name.
func Ef(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err, walking the wrap chain.
// Unclassified errors report KindInternal; nil reports "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Retryable reports whether err is classified as retryable.
func Retryable(err error) bool {
	return KindOf(err).Retryable()
}
