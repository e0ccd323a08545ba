package syncline

import "time"

// Config holds configuration for the Pipeline.
type Config struct {
	// TickInterval is how often the scheduler checks for due jobs.
	TickInterval time.Duration

	// LeaseTTL is how long a run lease is held before it must be renewed.
	// A crashed instance's lease expires after this long, letting another
	// instance reclaim the job and resume from the last durable watermark.
	LeaseTTL time.Duration

	// TransformConcurrency is the number of transform workers available
	// for shard fan-out within a batch.
	TransformConcurrency int

	// MaxBatchesPerTick bounds how many batches a single run may process
	// before yielding back to the scheduler.
	MaxBatchesPerTick int

	// MaxAttempts is the default bound on in-run retries of a retryable
	// failure before it is treated as terminal. Job definitions may
	// override it.
	MaxAttempts int

	// RetryInitial and RetryMax bound the exponential retry backoff.
	RetryInitial time.Duration
	RetryMax     time.Duration

	// HeartbeatInterval is how often this instance refreshes its worker
	// registration.
	HeartbeatInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight runs to
	// reach a batch boundary during graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:         1 * time.Second,
		LeaseTTL:             30 * time.Second,
		TransformConcurrency: 4,
		MaxBatchesPerTick:    16,
		MaxAttempts:          3,
		RetryInitial:         500 * time.Millisecond,
		RetryMax:             30 * time.Second,
		HeartbeatInterval:    10 * time.Second,
		ShutdownTimeout:      30 * time.Second,
	}
}
