package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/cluster"
	"github.com/syncline/syncline/deadletter"
	"github.com/syncline/syncline/id"
	"github.com/syncline/syncline/job"
	"github.com/syncline/syncline/load"
)

// Ensure Store implements every subsystem interface at compile time.
var (
	_ job.Store          = (*Store)(nil)
	_ load.DocumentStore = (*Store)(nil)
	_ cluster.Store      = (*Store)(nil)
	_ deadletter.Store   = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	defs        map[string]*job.Definition
	states      map[string]*job.RunState
	docs        map[string]map[string]*syncline.TargetDocument // collection → key → doc
	workers     map[string]*cluster.Worker
	deadletters map[string]*deadletter.Entry
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		defs:        make(map[string]*job.Definition),
		states:      make(map[string]*job.RunState),
		docs:        make(map[string]map[string]*syncline.TargetDocument),
		workers:     make(map[string]*cluster.Worker),
		deadletters: make(map[string]*deadletter.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// PutDefinition inserts or replaces a definition and ensures its run
// state row exists.
func (m *Store) PutDefinition(_ context.Context, d *job.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *d
	m.defs[d.Name] = &cp
	if _, ok := m.states[d.Name]; !ok {
		m.states[d.Name] = job.NewRunState(d.Name)
	}
	return nil
}

// GetDefinition retrieves a definition by name.
func (m *Store) GetDefinition(_ context.Context, name string) (*job.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.defs[name]
	if !ok {
		return nil, syncline.ErrJobNotFound
	}
	cp := *d
	return &cp, nil
}

// ListDefinitions returns all definitions sorted by name.
func (m *Store) ListDefinitions(_ context.Context) ([]*job.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*job.Definition, 0, len(m.defs))
	for _, d := range m.defs {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteDefinition removes a definition and its run state.
func (m *Store) DeleteDefinition(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.defs[name]; !ok {
		return syncline.ErrJobNotFound
	}
	delete(m.defs, name)
	delete(m.states, name)
	return nil
}

// GetRunState retrieves the run state for a job.
func (m *Store) GetRunState(_ context.Context, name string) (*job.RunState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.states[name]
	if !ok {
		return nil, syncline.ErrRunNotFound
	}
	return copyRunState(s), nil
}

// SaveRunState persists run status and failed ranges. The stored
// watermark and lease fields are authoritative and survive the save:
// only CommitWatermark and the lease operations touch them.
func (m *Store) SaveRunState(_ context.Context, s *job.RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := copyRunState(s)
	if old, ok := m.states[s.JobName]; ok {
		cp.Watermark = old.Watermark
		cp.LeaseOwner = old.LeaseOwner
		cp.LeaseUntil = old.LeaseUntil
	}
	m.states[s.JobName] = cp
	return nil
}

// CommitWatermark durably advances the watermark. Regressions are
// rejected: the stored watermark only ever moves forward.
func (m *Store) CommitWatermark(_ context.Context, name string, w syncline.Watermark) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.states[name]
	if !ok {
		return syncline.ErrRunNotFound
	}
	if w.Before(s.Watermark) {
		return syncline.Ef(syncline.KindInternal, "memory.commit_watermark",
			"watermark regression for %s: %s -> %s", name, s.Watermark, w)
	}
	s.Watermark = w
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// AcquireLease takes the run lease iff no unexpired lease exists or the
// caller already owns it.
func (m *Store) AcquireLease(_ context.Context, name string, owner id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.states[name]
	if !ok {
		s = job.NewRunState(name)
		m.states[name] = s
	}

	now := time.Now().UTC()
	if s.LeaseOwner != "" && s.LeaseOwner != owner.String() &&
		s.LeaseUntil != nil && s.LeaseUntil.After(now) {
		return false, nil
	}

	until := now.Add(ttl)
	s.LeaseOwner = owner.String()
	s.LeaseUntil = &until
	return true, nil
}

// RenewLease extends a held lease. Returns false if the caller no
// longer owns it.
func (m *Store) RenewLease(_ context.Context, name string, owner id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.states[name]
	if !ok || s.LeaseOwner != owner.String() {
		return false, nil
	}

	until := time.Now().UTC().Add(ttl)
	s.LeaseUntil = &until
	return true, nil
}

// ReleaseLease drops the lease if the caller owns it.
func (m *Store) ReleaseLease(_ context.Context, name string, owner id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.states[name]
	if !ok || s.LeaseOwner != owner.String() {
		return nil
	}
	s.LeaseOwner = ""
	s.LeaseUntil = nil
	return nil
}

func copyRunState(s *job.RunState) *job.RunState {
	cp := *s
	if s.FailedRanges != nil {
		cp.FailedRanges = make([]job.FailedRange, len(s.FailedRanges))
		copy(cp.FailedRanges, s.FailedRanges)
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		cp.StartedAt = &t
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		cp.FinishedAt = &t
	}
	if s.LeaseUntil != nil {
		t := *s.LeaseUntil
		cp.LeaseUntil = &t
	}
	return &cp
}

// ──────────────────────────────────────────────────
// Document Store
// ──────────────────────────────────────────────────

// UpsertDocuments writes every document keyed by its idempotency key.
func (m *Store) UpsertDocuments(_ context.Context, collection string, docs []syncline.TargetDocument) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	coll, ok := m.docs[collection]
	if !ok {
		coll = make(map[string]*syncline.TargetDocument)
		m.docs[collection] = coll
	}
	for _, d := range docs {
		coll[d.Key] = copyDocument(d)
	}
	return len(docs), nil
}

// GetDocument retrieves one document by key.
func (m *Store) GetDocument(_ context.Context, collection, key string) (*syncline.TargetDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	coll, ok := m.docs[collection]
	if !ok {
		return nil, syncline.ErrDocumentNotFound
	}
	d, ok := coll[key]
	if !ok {
		return nil, syncline.ErrDocumentNotFound
	}
	return copyDocument(*d), nil
}

// CountDocuments returns the number of documents in a collection.
func (m *Store) CountDocuments(_ context.Context, collection string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.docs[collection])), nil
}

func copyDocument(d syncline.TargetDocument) *syncline.TargetDocument {
	cp := syncline.TargetDocument{Key: d.Key}
	if d.Fields != nil {
		cp.Fields = make(map[string]any, len(d.Fields))
		for k, v := range d.Fields {
			cp.Fields[k] = v
		}
	}
	return &cp
}

// ──────────────────────────────────────────────────
// Cluster Store
// ──────────────────────────────────────────────────

// RegisterWorker adds an instance to the registry.
func (m *Store) RegisterWorker(_ context.Context, w *cluster.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *w
	m.workers[w.ID.String()] = &cp
	return nil
}

// DeregisterWorker removes an instance from the registry.
func (m *Store) DeregisterWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workers[workerID.String()]; !ok {
		return syncline.ErrWorkerNotFound
	}
	delete(m.workers, workerID.String())
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for an instance.
func (m *Store) HeartbeatWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID.String()]
	if !ok {
		return syncline.ErrWorkerNotFound
	}
	w.LastSeen = time.Now().UTC()
	return nil
}

// ListWorkers returns all registered instances.
func (m *Store) ListWorkers(_ context.Context) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*cluster.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// ReapDeadWorkers marks instances whose last-seen timestamp is older
// than the threshold as dead and returns them.
func (m *Store) ReapDeadWorkers(_ context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var reaped []*cluster.Worker
	for _, w := range m.workers {
		if w.State != cluster.WorkerDead && w.LastSeen.Before(cutoff) {
			w.State = cluster.WorkerDead
			cp := *w
			reaped = append(reaped, &cp)
		}
	}
	return reaped, nil
}

// ──────────────────────────────────────────────────
// Dead Letter Store
// ──────────────────────────────────────────────────

// PushDeadLetter persists a dead-lettered range.
func (m *Store) PushDeadLetter(_ context.Context, entry *deadletter.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.deadletters[entry.ID.String()] = &cp
	return nil
}

// ListDeadLetters returns entries matching the given options, newest
// failures first.
func (m *Store) ListDeadLetters(_ context.Context, opts deadletter.ListOpts) ([]*deadletter.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*deadletter.Entry, 0, len(m.deadletters))
	for _, e := range m.deadletters {
		if opts.JobName != "" && e.JobName != opts.JobName {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FailedAt.After(out[j].FailedAt) })

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// GetDeadLetter retrieves an entry by ID.
func (m *Store) GetDeadLetter(_ context.Context, entryID id.DeadLetterID) (*deadletter.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.deadletters[entryID.String()]
	if !ok {
		return nil, syncline.ErrDeadLetterNotFound
	}
	cp := *e
	return &cp, nil
}

// MarkReplayed records that an entry's range was handed back for
// reprocessing.
func (m *Store) MarkReplayed(_ context.Context, entryID id.DeadLetterID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.deadletters[entryID.String()]
	if !ok {
		return syncline.ErrDeadLetterNotFound
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

// PurgeDeadLetters removes entries with FailedAt before the given time.
func (m *Store) PurgeDeadLetters(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k, e := range m.deadletters {
		if e.FailedAt.Before(before) {
			delete(m.deadletters, k)
			n++
		}
	}
	return n, nil
}

// CountDeadLetters returns the total number of entries.
func (m *Store) CountDeadLetters(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.deadletters)), nil
}
