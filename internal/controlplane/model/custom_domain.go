package model

import (
	"time"

	"github.com/google/uuid"
)

// DomainStatus is the lifecycle state of a custom-domain record.
type DomainStatus string

const (
	StatusPending  DomainStatus = "pending"
	StatusVerified DomainStatus = "verified"
	StatusFailed   DomainStatus = "failed"
)

// CustomDomain associates a brand with a domain it wants passport pages
// served from, the verification token it must publish, and the outcome of the
// latest ownership check. This is the only persisted state of the
// verification flow; every check itself is stateless.
type CustomDomain struct {
	ID           uuid.UUID    `json:"id"`
	BrandID      uuid.UUID    `json:"brand_id"`
	Domain       string       `json:"domain"`
	Token        string       `json:"token"`
	Status       DomainStatus `json:"status"`
	LastError    string       `json:"last_error,omitempty"`
	FoundRecords []string     `json:"found_records,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	VerifiedAt   *time.Time   `json:"verified_at,omitempty"`
}
