package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avelero/avelero/internal/controlplane/model"
	"github.com/avelero/avelero/internal/controlplane/repository"
	"github.com/avelero/avelero/internal/controlplane/service"
	"github.com/avelero/avelero/internal/dnsverify"
)

// ── In-memory stub for domainStore ─────────────────────────────────────────

type stubDomainStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*model.CustomDomain
}

func newStubStore() *stubDomainStore {
	return &stubDomainStore{rows: make(map[uuid.UUID]*model.CustomDomain)}
}

func (s *stubDomainStore) Create(_ context.Context, d *model.CustomDomain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = uuid.New()
	d.CreatedAt = time.Now().UTC()
	d.Status = model.StatusPending
	cp := *d
	s.rows[d.ID] = &cp
	return nil
}

func (s *stubDomainStore) GetByID(_ context.Context, id uuid.UUID) (*model.CustomDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.rows[id]
	if !ok {
		return nil, repository.ErrDomainNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *stubDomainStore) GetByDomain(_ context.Context, domain string) (*model.CustomDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.rows {
		if d.Domain == domain {
			cp := *d
			return &cp, nil
		}
	}
	return nil, repository.ErrDomainNotFound
}

func (s *stubDomainStore) ListByBrand(_ context.Context, brandID uuid.UUID) ([]*model.CustomDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.CustomDomain
	for _, d := range s.rows {
		if d.BrandID == brandID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *stubDomainStore) MarkVerified(_ context.Context, id uuid.UUID, found []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.rows[id]
	if !ok {
		return repository.ErrDomainNotFound
	}
	d.Status = model.StatusVerified
	d.LastError = ""
	d.FoundRecords = found
	now := time.Now().UTC()
	d.VerifiedAt = &now
	return nil
}

func (s *stubDomainStore) MarkFailed(_ context.Context, id uuid.UUID, lastError string, found []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.rows[id]
	if !ok {
		return repository.ErrDomainNotFound
	}
	d.Status = model.StatusFailed
	d.LastError = lastError
	d.FoundRecords = found
	return nil
}

func (s *stubDomainStore) CountByStatus(_ context.Context) (map[model.DomainStatus]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[model.DomainStatus]int64)
	for _, d := range s.rows {
		counts[d.Status]++
	}
	return counts, nil
}

func (s *stubDomainStore) DeleteAbandoned(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, d := range s.rows {
		if d.Status != model.StatusVerified && d.CreatedAt.Before(cutoff) {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

// ── Stub verifier / export enqueuer ────────────────────────────────────────

type stubVerifier struct {
	result dnsverify.Result
	calls  int
}

func (v *stubVerifier) Verify(_ context.Context, _, _ string, _ ...dnsverify.VerifyOption) dnsverify.Result {
	v.calls++
	return v.result
}

type stubEnqueuer struct {
	domains []string
}

func (e *stubEnqueuer) EnqueueDomainActivated(_ context.Context, _ uuid.UUID, domain string) error {
	e.domains = append(e.domains, domain)
	return nil
}

func newSvc(store *stubDomainStore, v service.DomainVerifier, e service.ExportEnqueuer) *service.DomainService {
	return service.NewDomainService(store, v, e, zap.NewNop())
}

// ── Tests ──────────────────────────────────────────────────────────────────

func TestStart_createsPendingRecordWithInstructions(t *testing.T) {
	store := newStubStore()
	svc := newSvc(store, &stubVerifier{}, nil)
	brand := uuid.New()

	d, pair, err := svc.Start(context.Background(), brand, "Passport.Nike.COM.")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if d.Domain != "passport.nike.com" {
		t.Errorf("Domain = %q, want canonicalized hostname", d.Domain)
	}
	if d.Status != model.StatusPending {
		t.Errorf("Status = %q, want pending", d.Status)
	}
	if !dnsverify.ValidTokenFormat(d.Token) {
		t.Errorf("Token %q is not a well-formed verification token", d.Token)
	}
	if pair.TXT.Host != "_avelero-verification.passport" {
		t.Errorf("TXT host = %q", pair.TXT.Host)
	}
	if pair.TXT.Value != d.Token {
		t.Error("instruction TXT value must be the issued token")
	}
}

func TestStart_invalidDomain(t *testing.T) {
	svc := newSvc(newStubStore(), &stubVerifier{}, nil)
	_, _, err := svc.Start(context.Background(), uuid.New(), "https://nike.com")
	if !errors.Is(err, dnsverify.ErrInvalidDomain) {
		t.Errorf("got %v, want ErrInvalidDomain", err)
	}
}

func TestStart_domainTakenByOtherBrand(t *testing.T) {
	store := newStubStore()
	svc := newSvc(store, &stubVerifier{}, nil)

	if _, _, err := svc.Start(context.Background(), uuid.New(), "passport.nike.com"); err != nil {
		t.Fatal(err)
	}
	_, _, err := svc.Start(context.Background(), uuid.New(), "passport.nike.com")
	if !errors.Is(err, service.ErrDomainTaken) {
		t.Errorf("got %v, want ErrDomainTaken", err)
	}
}

func TestStart_sameBrandReissuesToken(t *testing.T) {
	store := newStubStore()
	svc := newSvc(store, &stubVerifier{}, nil)
	brand := uuid.New()

	first, _, err := svc.Start(context.Background(), brand, "passport.nike.com")
	if err != nil {
		t.Fatal(err)
	}
	second, _, err := svc.Start(context.Background(), brand, "passport.nike.com")
	if err != nil {
		t.Fatalf("re-registering own domain: %v", err)
	}
	if first.Token == second.Token {
		t.Error("re-registration must issue a fresh token")
	}
}

func TestVerify_successMarksVerifiedAndEnqueuesExport(t *testing.T) {
	store := newStubStore()
	verifier := &stubVerifier{result: dnsverify.Result{Success: true, FoundRecords: []string{"tok"}}}
	exports := &stubEnqueuer{}
	svc := newSvc(store, verifier, exports)

	d, _, _ := svc.Start(context.Background(), uuid.New(), "passport.nike.com")

	got, res, err := svc.Verify(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Success || got.Status != model.StatusVerified {
		t.Errorf("status = %q result = %+v", got.Status, res)
	}
	if got.VerifiedAt == nil {
		t.Error("VerifiedAt must be set")
	}
	if len(exports.domains) != 1 || exports.domains[0] != "passport.nike.com" {
		t.Errorf("export enqueue = %v, want the verified domain", exports.domains)
	}

	stored, _ := store.GetByID(context.Background(), d.ID)
	if stored.Status != model.StatusVerified {
		t.Errorf("stored status = %q", stored.Status)
	}
}

func TestVerify_failureMarksFailedWithDiagnostics(t *testing.T) {
	store := newStubStore()
	verifier := &stubVerifier{result: dnsverify.Result{
		Success:      false,
		Error:        "verification token does not match",
		FoundRecords: []string{"avelero-verification-wrong"},
	}}
	svc := newSvc(store, verifier, &stubEnqueuer{})

	d, _, _ := svc.Start(context.Background(), uuid.New(), "passport.nike.com")

	got, res, err := svc.Verify(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("a failed check is not a service error: %v", err)
	}
	if res.Success || got.Status != model.StatusFailed {
		t.Errorf("status = %q result = %+v", got.Status, res)
	}
	if !strings.Contains(got.LastError, "does not match") {
		t.Errorf("LastError = %q", got.LastError)
	}
	if len(got.FoundRecords) != 1 {
		t.Errorf("FoundRecords = %v", got.FoundRecords)
	}
}

func TestVerify_idempotentOnceVerified(t *testing.T) {
	store := newStubStore()
	verifier := &stubVerifier{result: dnsverify.Result{Success: true}}
	svc := newSvc(store, verifier, nil)

	d, _, _ := svc.Start(context.Background(), uuid.New(), "passport.nike.com")
	if _, _, err := svc.Verify(context.Background(), d.ID); err != nil {
		t.Fatal(err)
	}

	if _, res, err := svc.Verify(context.Background(), d.ID); err != nil || !res.Success {
		t.Fatalf("second verify: err=%v res=%+v", err, res)
	}
	if verifier.calls != 1 {
		t.Errorf("verifier ran %d times, want 1 (no DNS on already-verified records)", verifier.calls)
	}
}

func TestVerify_notFound(t *testing.T) {
	svc := newSvc(newStubStore(), &stubVerifier{}, nil)
	_, _, err := svc.Verify(context.Background(), uuid.New())
	if !errors.Is(err, service.ErrDomainNotFound) {
		t.Errorf("got %v, want ErrDomainNotFound", err)
	}
}

func TestInstructions_matchesStartOutput(t *testing.T) {
	store := newStubStore()
	svc := newSvc(store, &stubVerifier{}, nil)

	d, startPair, _ := svc.Start(context.Background(), uuid.New(), "eu.passport.nike.com")

	pair, err := svc.Instructions(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("Instructions: %v", err)
	}
	if pair != startPair {
		t.Errorf("recomputed instructions differ:\n%+v\n%+v", pair, startPair)
	}
}

func TestStatusCounts(t *testing.T) {
	store := newStubStore()
	svc := newSvc(store, &stubVerifier{result: dnsverify.Result{Success: true}}, nil)

	svc.Start(context.Background(), uuid.New(), "a.nike.com")
	svc.Start(context.Background(), uuid.New(), "b.nike.com")
	verified, _, _ := svc.Start(context.Background(), uuid.New(), "c.nike.com")
	if _, _, err := svc.Verify(context.Background(), verified.ID); err != nil {
		t.Fatal(err)
	}

	counts, err := svc.StatusCounts(context.Background())
	if err != nil {
		t.Fatalf("StatusCounts: %v", err)
	}
	if counts[model.StatusPending] != 2 || counts[model.StatusVerified] != 1 {
		t.Errorf("counts = %v", counts)
	}
	// Statuses with no records still appear so gauges reset to zero.
	if n, ok := counts[model.StatusFailed]; !ok || n != 0 {
		t.Errorf("failed count = %d present=%v, want explicit zero", n, ok)
	}
}

func TestPruneAbandoned(t *testing.T) {
	store := newStubStore()
	svc := newSvc(store, &stubVerifier{result: dnsverify.Result{Success: true}}, nil)

	stale, _, _ := svc.Start(context.Background(), uuid.New(), "old.nike.com")
	verified, _, _ := svc.Start(context.Background(), uuid.New(), "kept.nike.com")
	if _, _, err := svc.Verify(context.Background(), verified.ID); err != nil {
		t.Fatal(err)
	}

	// Age both records past the abandonment window.
	store.mu.Lock()
	for _, d := range store.rows {
		d.CreatedAt = time.Now().Add(-31 * 24 * time.Hour)
	}
	store.mu.Unlock()

	n, err := svc.PruneAbandoned(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want only the unverified record", n)
	}
	if _, err := store.GetByID(context.Background(), stale.ID); !errors.Is(err, repository.ErrDomainNotFound) {
		t.Error("stale pending record should be gone")
	}
	if _, err := store.GetByID(context.Background(), verified.ID); err != nil {
		t.Error("verified record must survive pruning")
	}
}
