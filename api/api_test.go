package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/api"
	"github.com/syncline/syncline/auth"
	"github.com/syncline/syncline/deadletter"
	"github.com/syncline/syncline/engine"
	"github.com/syncline/syncline/id"
	"github.com/syncline/syncline/job"
	"github.com/syncline/syncline/source"
	"github.com/syncline/syncline/store/memory"
)

// rig assembles an engine over a memory store, a gateway, and the API
// handler. The memory store is kept so tests can manipulate state
// underneath the engine, e.g. holding a lease from a foreign worker.
type rig struct {
	store   *memory.Store
	eng     *engine.Engine
	gateway *auth.Gateway
	handler http.Handler
	revoked *auth.MemoryRevocations
}

func newRig(t *testing.T) *rig {
	t.Helper()

	cfg := syncline.DefaultConfig()
	cfg.TickInterval = 10 * time.Millisecond
	cfg.LeaseTTL = 250 * time.Millisecond
	cfg.RetryInitial = time.Millisecond
	cfg.RetryMax = 2 * time.Millisecond

	st := memory.New()
	p, err := syncline.New(
		syncline.WithConfig(cfg),
		syncline.WithStore(st),
	)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	eng, err := engine.Build(p)
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}

	revoked := auth.NewMemoryRevocations()
	gateway, err := auth.NewGateway([]byte("api-test-secret"),
		auth.WithRevocationSet(revoked),
	)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}

	a := api.New(eng, gateway, nil)
	return &rig{
		store:   st,
		eng:     eng,
		gateway: gateway,
		handler: a.Handler(),
		revoked: revoked,
	}
}

func (r *rig) registerJob(t *testing.T, name string) {
	t.Helper()
	d := &job.Definition{
		Name:       name,
		Schedule:   "@every 1h",
		Enabled:    true,
		Collection: "users",
		KeyField:   "id",
	}
	ex := source.Func{
		SourceName: "fixture",
		Fn: func(_ context.Context, from syncline.Watermark, limit int) (*syncline.Batch, error) {
			batch := &syncline.Batch{From: from, To: from}
			for seq := from.Seq + 1; seq <= 3 && len(batch.Records) < limit; seq++ {
				batch.Records = append(batch.Records, syncline.SourceRecord{"id": seq, "seq": seq})
				batch.Marks = append(batch.Marks, syncline.Watermark{Seq: seq})
			}
			if !batch.Empty() {
				batch.To = batch.Marks[len(batch.Marks)-1]
			}
			return batch, nil
		},
	}
	if err := r.eng.Register(context.Background(), d, ex, nil); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
}

func (r *rig) token(t *testing.T, scopes ...string) string {
	t.Helper()
	issued, err := r.gateway.Issue("test-operator", scopes...)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return issued.Raw
}

// do performs a request against the handler and returns the recorder.
func (r *rig) do(method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return body
}

func TestAPI_MissingTokenUnauthorized(t *testing.T) {
	t.Parallel()
	r := newRig(t)

	if w := r.do(http.MethodGet, "/v1/jobs", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: got %d, want 401", w.Code)
	}
	if w := r.do(http.MethodGet, "/v1/jobs", "not-a-jwt"); w.Code != http.StatusUnauthorized {
		t.Errorf("garbage token: got %d, want 401", w.Code)
	}
}

func TestAPI_ExpiredTokenUnauthorized(t *testing.T) {
	t.Parallel()
	r := newRig(t)

	expired, err := auth.NewGateway([]byte("api-test-secret"),
		auth.WithTokenExpiry(-time.Minute),
	)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	issued, err := expired.Issue("test-operator", auth.ScopeJobsRead)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if w := r.do(http.MethodGet, "/v1/jobs", issued.Raw); w.Code != http.StatusUnauthorized {
		t.Errorf("expired token: got %d, want 401", w.Code)
	}
}

func TestAPI_WrongSecretUnauthorized(t *testing.T) {
	t.Parallel()
	r := newRig(t)

	other, err := auth.NewGateway([]byte("some-other-secret"))
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	issued, err := other.Issue("test-operator", auth.ScopeJobsRead)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if w := r.do(http.MethodGet, "/v1/jobs", issued.Raw); w.Code != http.StatusUnauthorized {
		t.Errorf("foreign signature: got %d, want 401", w.Code)
	}
}

func TestAPI_MissingScopeForbidden(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	r.registerJob(t, "sync-users")

	readOnly := r.token(t, auth.ScopeJobsRead)
	if w := r.do(http.MethodPost, "/v1/jobs/sync-users/run-now", readOnly); w.Code != http.StatusForbidden {
		t.Errorf("run-now with read scope: got %d, want 403", w.Code)
	}

	runOnly := r.token(t, auth.ScopeJobsRun)
	if w := r.do(http.MethodGet, "/v1/jobs", runOnly); w.Code != http.StatusForbidden {
		t.Errorf("list with run scope: got %d, want 403", w.Code)
	}
}

func TestAPI_RevokedTokenForbidden(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	ctx := context.Background()

	token := r.token(t, auth.ScopeJobsRead)
	ident, err := r.gateway.Validate(ctx, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := r.gateway.Revoke(ctx, ident); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	if w := r.do(http.MethodGet, "/v1/jobs", token); w.Code != http.StatusForbidden {
		t.Errorf("revoked token: got %d, want 403", w.Code)
	}
}

func TestAPI_WildcardScopeCoversAll(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	r.registerJob(t, "sync-users")
	admin := r.token(t, auth.ScopeAll)

	if w := r.do(http.MethodGet, "/v1/jobs", admin); w.Code != http.StatusOK {
		t.Errorf("list: got %d, want 200", w.Code)
	}
	if w := r.do(http.MethodPost, "/v1/jobs/sync-users/run-now", admin); w.Code != http.StatusAccepted {
		t.Errorf("run-now: got %d, want 202", w.Code)
	}
}

func TestAPI_ListJobs(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	r.registerJob(t, "sync-users")
	r.registerJob(t, "sync-orders")

	w := r.do(http.MethodGet, "/v1/jobs", r.token(t, auth.ScopeJobsRead))
	if w.Code != http.StatusOK {
		t.Fatalf("list jobs: got %d, want 200: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	jobs, ok := body["jobs"].([]any)
	if !ok || len(jobs) != 2 {
		t.Errorf("expected 2 jobs, got %v", body["jobs"])
	}
}

func TestAPI_JobStatus(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	r.registerJob(t, "sync-users")

	w := r.do(http.MethodGet, "/v1/jobs/sync-users/status", r.token(t, auth.ScopeJobsRead))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["status"] != string(job.StatusIdle) {
		t.Errorf("status = %v, want %s", body["status"], job.StatusIdle)
	}
}

func TestAPI_UnknownJobNotFound(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	token := r.token(t, auth.ScopeAll)

	if w := r.do(http.MethodGet, "/v1/jobs/no-such-job/status", token); w.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", w.Code)
	}
	if w := r.do(http.MethodPost, "/v1/jobs/no-such-job/run-now", token); w.Code != http.StatusNotFound {
		t.Errorf("run-now: got %d, want 404", w.Code)
	}
}

func TestAPI_RunNow(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	r.registerJob(t, "sync-users")
	token := r.token(t, auth.ScopeAll)

	w := r.do(http.MethodPost, "/v1/jobs/sync-users/run-now", token)
	if w.Code != http.StatusAccepted {
		t.Fatalf("run-now: got %d, want 202: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	runID, _ := body["run_id"].(string)
	if _, err := id.ParseRunID(runID); err != nil {
		t.Errorf("run_id %q: %v", runID, err)
	}

	// The run finishes in the background; the status endpoint
	// eventually reports the advanced watermark.
	deadline := time.Now().Add(2 * time.Second)
	for {
		sw := r.do(http.MethodGet, "/v1/jobs/sync-users/status", token)
		if sw.Code == http.StatusOK {
			body := decodeBody(t, sw)
			if body["status"] == string(job.StatusSucceeded) {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("run never succeeded, last body: %s", sw.Body.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAPI_RunNowLeaseHeldConflict(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	r.registerJob(t, "sync-users")

	// A foreign worker holds the run lease.
	foreign := id.NewWorkerID()
	ok, err := r.store.AcquireLease(context.Background(), "sync-users", foreign, time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire foreign lease: ok=%v err=%v", ok, err)
	}

	w := r.do(http.MethodPost, "/v1/jobs/sync-users/run-now", r.token(t, auth.ScopeJobsRun))
	if w.Code != http.StatusConflict {
		t.Errorf("run-now under foreign lease: got %d, want 409: %s", w.Code, w.Body.String())
	}
}

func TestAPI_DeadLetters(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	r.registerJob(t, "sync-users")
	token := r.token(t, auth.ScopeAll)
	ctx := context.Background()

	entry := &deadletter.Entry{
		ID:      id.NewDeadLetterID(),
		JobName: "sync-users",
		Range: syncline.WatermarkRange{
			From: syncline.Watermark{Seq: 1},
			To:   syncline.Watermark{Seq: 2},
		},
		Kind:      syncline.KindTransform,
		Error:     "boom",
		Attempts:  3,
		FailedAt:  time.Now().UTC(),
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.PushDeadLetter(ctx, entry); err != nil {
		t.Fatalf("push: %v", err)
	}

	w := r.do(http.MethodGet, "/v1/deadletters?job=sync-users", token)
	if w.Code != http.StatusOK {
		t.Fatalf("list: got %d, want 200: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	entries, ok := body["entries"].([]any)
	if !ok || len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %v", body["entries"])
	}

	w = r.do(http.MethodPost, "/v1/deadletters/"+entry.ID.String()+"/replay", token)
	if w.Code != http.StatusOK {
		t.Fatalf("replay: got %d, want 200: %s", w.Code, w.Body.String())
	}

	// Replay puts the range back on the run state for reprocessing.
	state, err := r.store.GetRunState(ctx, "sync-users")
	if err != nil {
		t.Fatalf("run state: %v", err)
	}
	if len(state.FailedRanges) != 1 {
		t.Errorf("failed ranges = %d, want 1", len(state.FailedRanges))
	}
}

func TestAPI_DeadLetterBadQuery(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	token := r.token(t, auth.ScopeJobsRead)

	if w := r.do(http.MethodGet, "/v1/deadletters?limit=abc", token); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: got %d, want 400", w.Code)
	}
	if w := r.do(http.MethodGet, "/v1/deadletters?offset=-1", token); w.Code != http.StatusBadRequest {
		t.Errorf("negative offset: got %d, want 400", w.Code)
	}
}

func TestAPI_ReplayUnknownDeadLetter(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	token := r.token(t, auth.ScopeJobsRun)

	missing := id.NewDeadLetterID()
	if w := r.do(http.MethodPost, "/v1/deadletters/"+missing.String()+"/replay", token); w.Code != http.StatusNotFound {
		t.Errorf("replay missing: got %d, want 404", w.Code)
	}
	if w := r.do(http.MethodPost, "/v1/deadletters/garbage/replay", token); w.Code != http.StatusBadRequest {
		t.Errorf("replay bad id: got %d, want 400", w.Code)
	}
}
