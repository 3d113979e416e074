package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avelero/avelero/internal/controlplane/model"
)

// ErrDomainNotFound is returned when no custom-domain record matches.
var ErrDomainNotFound = errors.New("custom domain not found")

// CustomDomainRepository provides Postgres persistence for custom domains.
type CustomDomainRepository struct {
	db *pgxpool.Pool
}

// NewCustomDomainRepository creates a CustomDomainRepository.
func NewCustomDomainRepository(db *pgxpool.Pool) *CustomDomainRepository {
	return &CustomDomainRepository{db: db}
}

const domainColumns = `id, brand_id, domain, token, status, last_error, found_records, created_at, verified_at`

func scanDomain(row pgx.Row) (*model.CustomDomain, error) {
	d := &model.CustomDomain{}
	err := row.Scan(&d.ID, &d.BrandID, &d.Domain, &d.Token, &d.Status,
		&d.LastError, &d.FoundRecords, &d.CreatedAt, &d.VerifiedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDomainNotFound
		}
		return nil, err
	}
	return d, nil
}

// Create inserts a new pending custom-domain record.
func (r *CustomDomainRepository) Create(ctx context.Context, d *model.CustomDomain) error {
	d.ID = uuid.New()
	d.CreatedAt = time.Now().UTC()
	d.Status = model.StatusPending

	_, err := r.db.Exec(ctx,
		`INSERT INTO custom_domains (id, brand_id, domain, token, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.BrandID, d.Domain, d.Token, d.Status, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert custom domain: %w", err)
	}
	return nil
}

// GetByID returns a single custom-domain record by its UUID.
func (r *CustomDomainRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.CustomDomain, error) {
	d, err := scanDomain(r.db.QueryRow(ctx,
		`SELECT `+domainColumns+` FROM custom_domains WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, ErrDomainNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get custom domain: %w", err)
	}
	return d, nil
}

// GetByDomain returns the most recent record for the given hostname.
func (r *CustomDomainRepository) GetByDomain(ctx context.Context, domain string) (*model.CustomDomain, error) {
	d, err := scanDomain(r.db.QueryRow(ctx,
		`SELECT `+domainColumns+` FROM custom_domains
		 WHERE domain = $1 ORDER BY created_at DESC LIMIT 1`, domain))
	if err != nil {
		if errors.Is(err, ErrDomainNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get custom domain by name: %w", err)
	}
	return d, nil
}

// ListByBrand returns every custom-domain record belonging to a brand,
// newest first.
func (r *CustomDomainRepository) ListByBrand(ctx context.Context, brandID uuid.UUID) ([]*model.CustomDomain, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+domainColumns+` FROM custom_domains
		 WHERE brand_id = $1 ORDER BY created_at DESC`, brandID)
	if err != nil {
		return nil, fmt.Errorf("list custom domains: %w", err)
	}
	defer rows.Close()

	var out []*model.CustomDomain
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, fmt.Errorf("scan custom domain: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkVerified flips the record to verified and stores the TXT values that
// satisfied the check.
func (r *CustomDomainRepository) MarkVerified(ctx context.Context, id uuid.UUID, foundRecords []string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE custom_domains
		 SET status = $2, last_error = '', found_records = $3, verified_at = now()
		 WHERE id = $1`,
		id, model.StatusVerified, foundRecords,
	)
	if err != nil {
		return fmt.Errorf("mark domain verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDomainNotFound
	}
	return nil
}

// MarkFailed records the outcome of an unsuccessful check. The record stays
// retryable: a later check can still flip it to verified.
func (r *CustomDomainRepository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string, foundRecords []string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE custom_domains
		 SET status = $2, last_error = $3, found_records = $4
		 WHERE id = $1 AND status <> $5`,
		id, model.StatusFailed, lastError, foundRecords, model.StatusVerified,
	)
	if err != nil {
		return fmt.Errorf("mark domain failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDomainNotFound
	}
	return nil
}

// CountByStatus returns how many custom-domain records sit in each status.
func (r *CustomDomainRepository) CountByStatus(ctx context.Context) (map[model.DomainStatus]int64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT status, count(*) FROM custom_domains GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count domains by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.DomainStatus]int64)
	for rows.Next() {
		var (
			status model.DomainStatus
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// DeleteAbandoned removes unverified records created before the cutoff.
// Returns the number of rows deleted.
func (r *CustomDomainRepository) DeleteAbandoned(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM custom_domains WHERE status <> $1 AND created_at < $2`,
		model.StatusVerified, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete abandoned domains: %w", err)
	}
	return tag.RowsAffected(), nil
}
