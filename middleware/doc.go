// Package middleware provides composable middleware for sync run
// execution.
//
// A [Middleware] is a function that wraps a run body. Middleware are
// composed into a chain using [Chain] and applied around each run.
// They are applied right-to-left: the first middleware in the slice is
// the outermost wrapper.
//
//	// logging → recover → run body
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] — logs job name, run ID, duration, and outcome per run
//   - [Recover] — catches panics and converts them to errors
//   - [Timeout] — cancels the run context after the job's configured timeout
//   - [Tracing] — wraps the run in an OpenTelemetry span
//   - [Metrics] — records per-run duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, r *middleware.Run, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., circuit breaker, rate limiting).
package middleware
