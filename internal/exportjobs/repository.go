package exportjobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrJobNotFound is returned when an export job does not exist.
var ErrJobNotFound = errors.New("export job not found")

// Repository provides persistence for export jobs.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Enqueue inserts a new pending job.
func (r *Repository) Enqueue(ctx context.Context, j *Job) error {
	j.ID = uuid.New()
	j.Status = JobPending
	j.CreatedAt = time.Now().UTC()

	query := `INSERT INTO export_jobs (id, kind, brand_id, payload, status, attempts, last_error, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.Exec(ctx, query,
		j.ID, j.Kind, j.BrandID, j.Payload, j.Status, j.Attempts, j.LastError, j.CreatedAt,
	)
	return err
}

// NextPending claims up to limit pending jobs, oldest first. The claim is a
// single atomic UPDATE: rows flip to 'claimed' before the query returns, so a
// concurrent worker's pass cannot see them. SKIP LOCKED in the inner select
// keeps two simultaneous claims from blocking on each other's row locks.
func (r *Repository) NextPending(ctx context.Context, limit int) ([]*Job, error) {
	query := `UPDATE export_jobs
	          SET status = 'claimed', claimed_at = now()
	          WHERE id IN (
	              SELECT id FROM export_jobs
	              WHERE status = 'pending'
	              ORDER BY created_at
	              LIMIT $1
	              FOR UPDATE SKIP LOCKED
	          )
	          RETURNING id, kind, brand_id, payload, status, attempts, last_error, created_at, done_at`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.Kind, &j.BrandID, &j.Payload, &j.Status, &j.Attempts, &j.LastError, &j.CreatedAt, &j.DoneAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// MarkDone records a successful dispatch.
func (r *Repository) MarkDone(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE export_jobs SET status = 'done', last_error = '', done_at = now() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// MarkFailed bumps the attempt counter and releases the claim. Jobs that
// exhaust maxAttempts flip to failed; the rest go back to pending for the
// next worker pass.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string, maxAttempts int) error {
	query := `UPDATE export_jobs
	          SET attempts = attempts + 1,
	              last_error = $2,
	              claimed_at = NULL,
	              status = CASE WHEN attempts + 1 >= $3 THEN 'failed' ELSE 'pending' END
	          WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, lastError, maxAttempts)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// RequeueStale releases claims older than the cutoff back to pending. A worker
// that crashed between claiming and marking leaves its rows 'claimed'; the
// next dispatch pass on any instance recovers them. Returns rows requeued.
func (r *Repository) RequeueStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE export_jobs
		 SET status = 'pending', claimed_at = NULL
		 WHERE status = 'claimed' AND claimed_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListByBrand returns a brand's jobs, newest first.
func (r *Repository) ListByBrand(ctx context.Context, brandID uuid.UUID) ([]*Job, error) {
	query := `SELECT id, kind, brand_id, payload, status, attempts, last_error, created_at, done_at
	          FROM export_jobs WHERE brand_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, brandID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.Kind, &j.BrandID, &j.Payload, &j.Status, &j.Attempts, &j.LastError, &j.CreatedAt, &j.DoneAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}
