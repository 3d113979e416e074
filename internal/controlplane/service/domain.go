package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avelero/avelero/internal/controlplane/model"
	"github.com/avelero/avelero/internal/controlplane/repository"
	"github.com/avelero/avelero/internal/dnsverify"
)

// Sentinel errors for the domain service.
var (
	ErrDomainNotFound = errors.New("custom domain not found")
	ErrDomainTaken    = errors.New("domain already registered by another brand")
)

// domainStore is the storage interface required by DomainService.
// *repository.CustomDomainRepository satisfies this interface.
type domainStore interface {
	Create(ctx context.Context, d *model.CustomDomain) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.CustomDomain, error)
	GetByDomain(ctx context.Context, domain string) (*model.CustomDomain, error)
	ListByBrand(ctx context.Context, brandID uuid.UUID) ([]*model.CustomDomain, error)
	MarkVerified(ctx context.Context, id uuid.UUID, foundRecords []string) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string, foundRecords []string) error
	CountByStatus(ctx context.Context) (map[model.DomainStatus]int64, error)
	DeleteAbandoned(ctx context.Context, cutoff time.Time) (int64, error)
}

// DomainVerifier runs one ownership check. *dnsverify.Verifier satisfies this.
type DomainVerifier interface {
	Verify(ctx context.Context, domain, expectedToken string, opts ...dnsverify.VerifyOption) dnsverify.Result
}

// ExportEnqueuer schedules a bulk passport re-export after a domain flips to
// verified, so existing QR codes start resolving to the brand's own hostname.
type ExportEnqueuer interface {
	EnqueueDomainActivated(ctx context.Context, brandID uuid.UUID, domain string) error
}

// DomainService coordinates the custom-domain lifecycle: issue a token,
// hand out DNS instructions, run the ownership check, persist the verdict.
type DomainService struct {
	store    domainStore
	verifier DomainVerifier
	exports  ExportEnqueuer
	logger   *zap.Logger

	// abandonAfter is how long an unverified record may linger before
	// PruneAbandoned removes it.
	abandonAfter time.Duration
}

// NewDomainService creates a DomainService. exports may be nil when no
// export pipeline is wired (e.g. in the CLI).
func NewDomainService(store domainStore, verifier DomainVerifier, exports ExportEnqueuer, logger *zap.Logger) *DomainService {
	return &DomainService{
		store:        store,
		verifier:     verifier,
		exports:      exports,
		logger:       logger,
		abandonAfter: 30 * 24 * time.Hour,
	}
}

// Start registers domain for brandID: canonicalizes the hostname, issues a
// fresh verification token, persists the pending record, and returns the DNS
// records the brand must create. The token is generated once per record;
// re-registering the same domain issues a new token.
func (s *DomainService) Start(ctx context.Context, brandID uuid.UUID, domain string) (*model.CustomDomain, dnsverify.InstructionPair, error) {
	canonical, err := dnsverify.CanonicalDomain(domain)
	if err != nil {
		return nil, dnsverify.InstructionPair{}, err
	}

	if existing, err := s.store.GetByDomain(ctx, canonical); err == nil && existing.BrandID != brandID {
		return nil, dnsverify.InstructionPair{}, ErrDomainTaken
	}

	d := &model.CustomDomain{
		BrandID: brandID,
		Domain:  canonical,
		Token:   dnsverify.GenerateToken(),
	}

	pair, err := dnsverify.BuildInstructions(canonical, d.Token)
	if err != nil {
		return nil, dnsverify.InstructionPair{}, err
	}

	if err := s.store.Create(ctx, d); err != nil {
		return nil, dnsverify.InstructionPair{}, fmt.Errorf("persist custom domain: %w", err)
	}

	s.logger.Info("custom domain registered",
		zap.String("domain", canonical),
		zap.String("brand_id", brandID.String()),
		zap.String("txt_host", pair.TXT.Host),
	)
	return d, pair, nil
}

// Get returns the current state of a custom-domain record.
func (s *DomainService) Get(ctx context.Context, id uuid.UUID) (*model.CustomDomain, error) {
	d, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrDomainNotFound) {
			return nil, ErrDomainNotFound
		}
		return nil, fmt.Errorf("get custom domain: %w", err)
	}
	return d, nil
}

// ListByBrand returns a brand's custom-domain records, newest first.
func (s *DomainService) ListByBrand(ctx context.Context, brandID uuid.UUID) ([]*model.CustomDomain, error) {
	ds, err := s.store.ListByBrand(ctx, brandID)
	if err != nil {
		return nil, fmt.Errorf("list custom domains: %w", err)
	}
	return ds, nil
}

// Instructions recomputes the DNS setup records for an existing registration.
// Pure derivation from the stored domain and token; nothing is persisted.
func (s *DomainService) Instructions(ctx context.Context, id uuid.UUID) (dnsverify.InstructionPair, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return dnsverify.InstructionPair{}, err
	}
	return dnsverify.BuildInstructions(d.Domain, d.Token)
}

// Verify runs one ownership check for the record and persists the verdict.
// Verified records are idempotent: repeat calls return the stored state
// without touching DNS. The returned domain carries the check's outcome;
// a failed check is not an error at this layer.
func (s *DomainService) Verify(ctx context.Context, id uuid.UUID) (*model.CustomDomain, dnsverify.Result, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, dnsverify.Result{}, err
	}

	if d.Status == model.StatusVerified {
		return d, dnsverify.Result{Success: true, FoundRecords: d.FoundRecords}, nil
	}

	res := s.verifier.Verify(ctx, d.Domain, d.Token)

	if res.Success {
		if err := s.store.MarkVerified(ctx, id, res.FoundRecords); err != nil {
			return nil, dnsverify.Result{}, fmt.Errorf("mark verified: %w", err)
		}
		d.Status = model.StatusVerified
		d.LastError = ""
		d.FoundRecords = res.FoundRecords
		now := time.Now().UTC()
		d.VerifiedAt = &now

		s.logger.Info("custom domain verified",
			zap.String("domain", d.Domain),
			zap.String("brand_id", d.BrandID.String()),
		)

		if s.exports != nil {
			if err := s.exports.EnqueueDomainActivated(ctx, d.BrandID, d.Domain); err != nil {
				// The domain is verified either way; the export pipeline has
				// its own retry loop.
				s.logger.Warn("enqueue passport re-export failed",
					zap.String("domain", d.Domain),
					zap.Error(err),
				)
			}
		}
		return d, res, nil
	}

	if err := s.store.MarkFailed(ctx, id, res.Error, res.FoundRecords); err != nil {
		return nil, dnsverify.Result{}, fmt.Errorf("mark failed: %w", err)
	}
	d.Status = model.StatusFailed
	d.LastError = res.Error
	d.FoundRecords = res.FoundRecords
	return d, res, nil
}

// StatusCounts reports how many records sit in each lifecycle state. Every
// known status is present in the result, zero-valued when no records hold it,
// so gauges fed from it drop back to 0 instead of going stale.
func (s *DomainService) StatusCounts(ctx context.Context) (map[model.DomainStatus]int64, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count domains by status: %w", err)
	}
	for _, st := range []model.DomainStatus{model.StatusPending, model.StatusVerified, model.StatusFailed} {
		if _, ok := counts[st]; !ok {
			counts[st] = 0
		}
	}
	return counts, nil
}

// PruneAbandoned removes unverified registrations older than the abandonment
// window. Safe to call from a background goroutine.
func (s *DomainService) PruneAbandoned(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteAbandoned(ctx, time.Now().UTC().Add(-s.abandonAfter))
	if err != nil {
		return 0, fmt.Errorf("prune abandoned domains: %w", err)
	}
	if n > 0 {
		s.logger.Info("pruned abandoned custom domains", zap.Int64("count", n))
	}
	return n, nil
}
