package load_test

import (
	"context"
	"errors"
	"testing"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/load"
)

// spyDocStore records upsert calls and can fail on demand.
type spyDocStore struct {
	calls [][]syncline.TargetDocument
	err   error
}

func (s *spyDocStore) UpsertDocuments(_ context.Context, _ string, docs []syncline.TargetDocument) (int, error) {
	s.calls = append(s.calls, docs)
	if s.err != nil {
		return 0, s.err
	}
	return len(docs), nil
}

func (s *spyDocStore) GetDocument(context.Context, string, string) (*syncline.TargetDocument, error) {
	return nil, syncline.ErrDocumentNotFound
}

func (s *spyDocStore) CountDocuments(context.Context, string) (int64, error) {
	return 0, nil
}

func doc(key string) syncline.TargetDocument {
	return syncline.TargetDocument{Key: key, Fields: syncline.SourceRecord{"id": key}}
}

func TestLoadReturnsWrittenCount(t *testing.T) {
	t.Parallel()
	store := &spyDocStore{}
	l := load.NewLoader(store, nil)

	n, err := l.Load(context.Background(), "users", []syncline.TargetDocument{doc("u1"), doc("u2")})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != 2 {
		t.Errorf("written = %d, want 2", n)
	}
	if len(store.calls) != 1 {
		t.Errorf("upsert calls = %d, want 1", len(store.calls))
	}
}

func TestLoadEmptyBatchSkipsStore(t *testing.T) {
	t.Parallel()
	store := &spyDocStore{}
	l := load.NewLoader(store, nil)

	n, err := l.Load(context.Background(), "users", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != 0 || len(store.calls) != 0 {
		t.Errorf("empty batch: written=%d calls=%d, want 0/0", n, len(store.calls))
	}
}

func TestLoadRejectsKeylessDocumentBeforeWriting(t *testing.T) {
	t.Parallel()
	store := &spyDocStore{}
	l := load.NewLoader(store, nil)

	_, err := l.Load(context.Background(), "users", []syncline.TargetDocument{doc("u1"), {Fields: syncline.SourceRecord{}}})
	if err == nil {
		t.Fatal("expected error for keyless document")
	}
	if kind := syncline.KindOf(err); kind != syncline.KindConstraint {
		t.Errorf("kind = %s, want %s", kind, syncline.KindConstraint)
	}
	if len(store.calls) != 0 {
		t.Errorf("store was called %d times despite invalid batch", len(store.calls))
	}
}

func TestLoadPropagatesStoreError(t *testing.T) {
	t.Parallel()
	boom := syncline.Ef(syncline.KindLoad, "store", "write timeout")
	store := &spyDocStore{err: boom}
	l := load.NewLoader(store, nil)

	_, err := l.Load(context.Background(), "users", []syncline.TargetDocument{doc("u1")})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped store error", err)
	}
}
