package middleware

import (
	"context"
	"log/slog"
)

// Timeout returns middleware that enforces a per-run execution deadline.
// If the job has a non-zero Timeout, a context.WithTimeout wraps the run.
// When the deadline is exceeded the context is cancelled and the run
// stops at the next batch boundary with context.DeadlineExceeded.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, r *Run, next Handler) error {
		if r.Def.Timeout > 0 {
			logger.Debug("run timeout set",
				slog.String("run_id", r.ID.String()),
				slog.Duration("timeout", r.Def.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.Def.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
