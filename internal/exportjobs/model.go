package exportjobs

import (
	"time"

	"github.com/google/uuid"
)

// Job kinds dispatched by the control plane.
const (
	KindDomainActivated = "domain.activated"
)

// JobStatus is the lifecycle state of an export job.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobClaimed JobStatus = "claimed"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Job is one queued passport re-export. When a brand's custom domain flips to
// verified, existing QR bundles must be regenerated so the printed links
// resolve to the brand's own hostname instead of the platform default.
type Job struct {
	ID        uuid.UUID         `json:"id"         db:"id"`
	Kind      string            `json:"kind"       db:"kind"`
	BrandID   uuid.UUID         `json:"brand_id"   db:"brand_id"`
	Payload   map[string]string `json:"payload"    db:"payload"`
	Status    JobStatus         `json:"status"     db:"status"`
	Attempts  int               `json:"attempts"   db:"attempts"`
	LastError string            `json:"last_error" db:"last_error"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
	ClaimedAt *time.Time        `json:"claimed_at,omitempty" db:"claimed_at"`
	DoneAt    *time.Time        `json:"done_at,omitempty" db:"done_at"`
}

// Event is the envelope POSTed to the export worker.
type Event struct {
	ID        uuid.UUID         `json:"id"`
	Kind      string            `json:"kind"`
	BrandID   uuid.UUID         `json:"brand_id"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}
