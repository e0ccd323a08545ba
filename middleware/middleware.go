package middleware

import (
	"context"

	"github.com/syncline/syncline/id"
	"github.com/syncline/syncline/job"
)

// Run identifies one execution of a job, passed through the middleware
// chain alongside the context.
type Run struct {
	ID  id.RunID
	Def *job.Definition
}

// Handler is the terminal function that executes the run body.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the run being executed, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, r *Run, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, timeout) executes as:
//
//	logging → recover → timeout → run body
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, r *Run, next Handler) error {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, r, prev)
			}
		}
		return h(ctx)
	}
}
