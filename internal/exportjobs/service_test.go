package exportjobs

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ── In-memory job store ──────────────────────────────────────────────────

type memStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[uuid.UUID]*Job)}
}

func (m *memStore) Enqueue(_ context.Context, j *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j.ID = uuid.New()
	j.Status = JobPending
	j.CreatedAt = time.Now().UTC()
	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

func (m *memStore) NextPending(_ context.Context, limit int) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Job
	for _, j := range m.jobs {
		if j.Status == JobPending && len(out) < limit {
			now := time.Now().UTC()
			j.Status = JobClaimed
			j.ClaimedAt = &now
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) MarkDone(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.Status = JobDone
	j.LastError = ""
	return nil
}

func (m *memStore) MarkFailed(_ context.Context, id uuid.UUID, lastError string, maxAttempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.Attempts++
	j.LastError = lastError
	j.ClaimedAt = nil
	if j.Attempts >= maxAttempts {
		j.Status = JobFailed
	} else {
		j.Status = JobPending
	}
	return nil
}

func (m *memStore) RequeueStale(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, j := range m.jobs {
		if j.Status == JobClaimed && j.ClaimedAt != nil && j.ClaimedAt.Before(cutoff) {
			j.Status = JobPending
			j.ClaimedAt = nil
			n++
		}
	}
	return n, nil
}

func (m *memStore) get(id uuid.UUID) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.jobs[id]
	return &cp
}

func (m *memStore) single(t *testing.T) *Job {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.jobs) != 1 {
		t.Fatalf("store holds %d jobs, want 1", len(m.jobs))
	}
	for _, j := range m.jobs {
		cp := *j
		return &cp
	}
	return nil
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestEnqueueDomainActivated(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, "http://worker.internal/jobs", "secret", zap.NewNop())
	brand := uuid.New()

	if err := svc.EnqueueDomainActivated(context.Background(), brand, "passport.nike.com"); err != nil {
		t.Fatal(err)
	}

	j := store.single(t)
	if j.Kind != KindDomainActivated || j.Status != JobPending {
		t.Errorf("job = %+v", j)
	}
	if j.Payload["domain"] != "passport.nike.com" {
		t.Errorf("payload = %v", j.Payload)
	}
}

func TestDispatchPending_deliversSignedEvent(t *testing.T) {
	var (
		gotSig  string
		gotBody []byte
	)
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Avelero-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer worker.Close()

	store := newMemStore()
	svc := NewService(store, worker.URL, "secret", zap.NewNop())
	brand := uuid.New()
	svc.EnqueueDomainActivated(context.Background(), brand, "passport.nike.com")

	if err := svc.DispatchPending(context.Background()); err != nil {
		t.Fatal(err)
	}

	j := store.single(t)
	if j.Status != JobDone {
		t.Errorf("status = %q, want done", j.Status)
	}

	if !hmac.Equal([]byte(gotSig), []byte(SignPayload(gotBody, "secret"))) {
		t.Error("delivery signature does not verify against the shared secret")
	}

	var event Event
	if err := json.Unmarshal(gotBody, &event); err != nil {
		t.Fatalf("delivered body is not a valid event: %v", err)
	}
	if event.Kind != KindDomainActivated || event.BrandID != brand {
		t.Errorf("event = %+v", event)
	}
	if event.Payload["domain"] != "passport.nike.com" {
		t.Errorf("event payload = %v", event.Payload)
	}
}

func TestDispatchPending_retriesThenFails(t *testing.T) {
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer worker.Close()

	store := newMemStore()
	svc := NewService(store, worker.URL, "secret", zap.NewNop())
	svc.maxAttempts = 2
	svc.EnqueueDomainActivated(context.Background(), uuid.New(), "passport.nike.com")
	id := store.single(t).ID

	if err := svc.DispatchPending(context.Background()); err != nil {
		t.Fatal(err)
	}
	if j := store.get(id); j.Status != JobPending || j.Attempts != 1 {
		t.Errorf("after first pass: %+v", j)
	}

	if err := svc.DispatchPending(context.Background()); err != nil {
		t.Fatal(err)
	}
	j := store.get(id)
	if j.Status != JobFailed {
		t.Errorf("status = %q, want failed after exhausting attempts", j.Status)
	}
	if j.LastError != "HTTP 502" {
		t.Errorf("last error = %q", j.LastError)
	}
}

func TestNextPending_claimedJobsHiddenFromSecondPass(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, "http://worker.internal/jobs", "secret", zap.NewNop())
	for range 3 {
		svc.EnqueueDomainActivated(context.Background(), uuid.New(), "passport.nike.com")
	}

	first, err := store.NextPending(context.Background(), 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 3 {
		t.Fatalf("first pass claimed %d jobs, want 3", len(first))
	}
	for _, j := range first {
		if j.Status != JobClaimed || j.ClaimedAt == nil {
			t.Errorf("job %s not claimed: %+v", j.ID, j)
		}
	}

	// A concurrent instance polling the queue must come up empty until the
	// claims are resolved or expire.
	second, err := store.NextPending(context.Background(), 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 0 {
		t.Fatalf("second pass claimed %d jobs, want 0", len(second))
	}
}

func TestDispatchPending_requeuesStaleClaims(t *testing.T) {
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer worker.Close()

	store := newMemStore()
	svc := NewService(store, worker.URL, "secret", zap.NewNop())
	svc.EnqueueDomainActivated(context.Background(), uuid.New(), "passport.nike.com")
	id := store.single(t).ID

	// Simulate an instance that claimed the job and then died.
	store.mu.Lock()
	stale := time.Now().UTC().Add(-time.Hour)
	store.jobs[id].Status = JobClaimed
	store.jobs[id].ClaimedAt = &stale
	store.mu.Unlock()

	if err := svc.DispatchPending(context.Background()); err != nil {
		t.Fatal(err)
	}
	if j := store.get(id); j.Status != JobDone {
		t.Errorf("status = %q, want done after stale claim recovery", j.Status)
	}
}

func TestDispatchPending_recordsMetrics(t *testing.T) {
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer worker.Close()

	store := newMemStore()
	svc := NewService(store, worker.URL, "secret", zap.NewNop())
	var outcomes []bool
	svc.SetMetricsRecorder(func(success bool) { outcomes = append(outcomes, success) })

	svc.EnqueueDomainActivated(context.Background(), uuid.New(), "passport.nike.com")
	if err := svc.DispatchPending(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(outcomes) != 1 || !outcomes[0] {
		t.Errorf("outcomes = %v", outcomes)
	}
}
