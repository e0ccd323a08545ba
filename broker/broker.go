// Package broker holds pooled, lazily-initialized clients for the
// warehouse, object store, document store, and revocation set. It owns
// their lifecycle (open, health-check, close) and never hands out a
// client whose backing connection is known to be invalid.
//
// Acquisition is scoped: With guarantees release on every exit path,
// including panics. A handle held past the configured hold timeout is
// forcibly reclaimed and its pool entry marked unhealthy, so a leaked
// handle cannot wedge the resource forever.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/backoff"
)

// Resource names a brokered backing service.
type Resource string

const (
	ResourceDocumentStore Resource = "document-store"
	ResourceWarehouse     Resource = "warehouse"
	ResourceObjectStore   Resource = "object-store"
	ResourceRevocations   Resource = "revocations"
)

// Client is the minimal lifecycle contract a brokered client must satisfy.
// Concrete adapters in clients.go wrap the driver types.
type Client interface {
	// Ping verifies the backing connection is alive.
	Ping(ctx context.Context) error
	// Close releases the client and its connections.
	Close(ctx context.Context) error
}

// Factory opens a new client for a resource.
type Factory func(ctx context.Context) (Client, error)

// entry tracks one resource's client and health.
type entry struct {
	factory Factory

	mu         sync.Mutex
	client     Client
	healthy    bool
	inUse      int
	acquiredAt time.Time
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// WithRetry sets the open retry policy: attempts bounded acquisition
// with the given backoff before failing with a connection error.
func WithRetry(s backoff.Strategy, attempts int) Option {
	return func(b *Broker) {
		b.bo = s
		b.attempts = attempts
	}
}

// WithHoldTimeout sets how long a handle may be held before the broker
// forcibly reclaims it and marks the entry unhealthy.
func WithHoldTimeout(d time.Duration) Option {
	return func(b *Broker) { b.holdTimeout = d }
}

// Broker manages lazily-initialized clients keyed by resource.
type Broker struct {
	mu      sync.RWMutex
	entries map[Resource]*entry

	bo          backoff.Strategy
	attempts    int
	holdTimeout time.Duration
	logger      *slog.Logger
}

// New creates a Broker. Register factories before acquiring.
func New(opts ...Option) *Broker {
	b := &Broker{
		entries:     make(map[Resource]*entry),
		bo:          backoff.NewExponential(250*time.Millisecond, 5*time.Second),
		attempts:    3,
		holdTimeout: 5 * time.Minute,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register installs the factory for a resource. The client is not opened
// until first acquisition.
func (b *Broker) Register(res Resource, f Factory) {
	b.mu.Lock()
	b.entries[res] = &entry{factory: f}
	b.mu.Unlock()
}

// Handle is a checked-out client. Callers must Release it; prefer With,
// which does so on every exit path.
type Handle struct {
	res    Resource
	client Client
}

// Resource returns the resource this handle belongs to.
func (h *Handle) Resource() Resource { return h.res }

// Client returns the underlying adapter. Typed helpers in clients.go
// unwrap it to the driver type.
func (h *Handle) Client() Client { return h.client }

// Acquire returns a health-checked client for the resource, opening it
// lazily on first use with bounded retry-with-backoff. It fails with a
// syncline.KindConnection error when the backing service stays
// unreachable.
func (b *Broker) Acquire(ctx context.Context, res Resource) (*Handle, error) {
	b.mu.RLock()
	e, ok := b.entries[res]
	b.mu.RUnlock()
	if !ok {
		return nil, syncline.Ef(syncline.KindConnection, "broker.acquire", "unknown resource %q", res)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// An entry held past the hold timeout is presumed leaked: reclaim
	// it and reopen below.
	if e.inUse > 0 && b.holdTimeout > 0 && time.Since(e.acquiredAt) > b.holdTimeout {
		b.logger.Warn("broker reclaiming stale handle",
			slog.String("resource", string(res)),
			slog.Duration("held", time.Since(e.acquiredAt)),
		)
		b.closeEntryLocked(ctx, e)
		e.inUse = 0
	}

	if e.client == nil || !e.healthy {
		if err := b.openLocked(ctx, res, e); err != nil {
			return nil, err
		}
	}

	// Health-check before handing out. A failed ping marks the entry
	// unhealthy and attempts one reopen.
	if err := e.client.Ping(ctx); err != nil {
		b.logger.Warn("broker health check failed, reopening",
			slog.String("resource", string(res)),
			slog.String("error", err.Error()),
		)
		b.closeEntryLocked(ctx, e)
		if err := b.openLocked(ctx, res, e); err != nil {
			return nil, err
		}
		if err := e.client.Ping(ctx); err != nil {
			b.closeEntryLocked(ctx, e)
			return nil, syncline.E(syncline.KindConnection, "broker.acquire", fmt.Errorf("%s: %w", res, err))
		}
	}

	e.inUse++
	if e.inUse == 1 {
		e.acquiredAt = time.Now()
	}
	return &Handle{res: res, client: e.client}, nil
}

// Release returns a handle to the pool.
func (b *Broker) Release(h *Handle) {
	if h == nil {
		return
	}
	b.mu.RLock()
	e, ok := b.entries[h.res]
	b.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	if e.inUse > 0 {
		e.inUse--
	}
	e.mu.Unlock()
}

// With runs fn with an acquired client and releases it on every exit
// path, including panics.
func (b *Broker) With(ctx context.Context, res Resource, fn func(Client) error) error {
	h, err := b.Acquire(ctx, res)
	if err != nil {
		return err
	}
	defer b.Release(h)
	return fn(h.client)
}

// Ping health-checks every opened resource. Unopened resources are
// skipped; they will be checked on first acquisition.
func (b *Broker) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for res, e := range b.entries {
		e.mu.Lock()
		c, healthy := e.client, e.healthy
		e.mu.Unlock()
		if c == nil || !healthy {
			continue
		}
		if err := c.Ping(ctx); err != nil {
			return syncline.E(syncline.KindConnection, "broker.ping", fmt.Errorf("%s: %w", res, err))
		}
	}
	return nil
}

// Close closes all opened clients. Safe to call more than once.
func (b *Broker) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for res, e := range b.entries {
		e.mu.Lock()
		if e.client != nil {
			if err := e.client.Close(ctx); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("broker: close %s: %w", res, err)
			}
			e.client = nil
			e.healthy = false
		}
		e.mu.Unlock()
	}
	return firstErr
}

// openLocked opens the entry's client with bounded retry. e.mu held.
func (b *Broker) openLocked(ctx context.Context, res Resource, e *entry) error {
	err := backoff.Retry(ctx, b.bo, b.attempts,
		func(error) bool { return true }, // all open failures are transient until attempts run out
		func(ctx context.Context) error {
			c, openErr := e.factory(ctx)
			if openErr != nil {
				b.logger.Debug("broker open attempt failed",
					slog.String("resource", string(res)),
					slog.String("error", openErr.Error()),
				)
				return openErr
			}
			e.client = c
			return nil
		})
	if err != nil {
		return syncline.E(syncline.KindConnection, "broker.open", fmt.Errorf("%s: %w", res, err))
	}
	e.healthy = true
	return nil
}

// closeEntryLocked closes and clears the entry's client. e.mu held.
func (b *Broker) closeEntryLocked(ctx context.Context, e *entry) {
	if e.client != nil {
		if err := e.client.Close(ctx); err != nil {
			b.logger.Debug("broker close error", slog.String("error", err.Error()))
		}
	}
	e.client = nil
	e.healthy = false
}
