package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter selects user packages for bulk operations and listings. All fields
// are optional and combined with AND.
type Filter struct {
	Status       *Status
	CatalogID    *uuid.UUID
	ExpiresFrom  *time.Time
	ExpiresTo    *time.Time
	MinRemaining *int
	MaxRemaining *int
	UserSearch   string
	AutoRenew    *bool
}

// Validate rejects malformed filter input before any matching occurs.
func (f Filter) Validate() error {
	if f.Status != nil && !f.Status.IsValid() {
		return ErrInvalidFilter
	}
	if f.MinRemaining != nil && *f.MinRemaining < 0 {
		return ErrInvalidFilter
	}
	if f.MaxRemaining != nil && *f.MaxRemaining < 0 {
		return ErrInvalidFilter
	}
	if f.MinRemaining != nil && f.MaxRemaining != nil && *f.MinRemaining > *f.MaxRemaining {
		return ErrInvalidFilter
	}
	if f.ExpiresFrom != nil && f.ExpiresTo != nil && f.ExpiresFrom.After(*f.ExpiresTo) {
		return ErrInvalidFilter
	}
	return nil
}

// Repository defines the interface for user package persistence.
type Repository interface {
	// Create persists a new package.
	Create(ctx context.Context, p *UserPackage) error

	// Save persists changes to an existing package. It checks the aggregate
	// version against the stored row and returns ErrVersionConflict when a
	// concurrent writer got there first.
	Save(ctx context.Context, p *UserPackage) error

	// FindByID finds a package by its ID.
	FindByID(ctx context.Context, id uuid.UUID) (*UserPackage, error)

	// FindByUserID finds all packages for a member.
	FindByUserID(ctx context.Context, userID uuid.UUID) ([]*UserPackage, error)

	// FindMatching resolves the packages a filter selects, ordered by
	// expiry date then ID for deterministic batch processing.
	FindMatching(ctx context.Context, f Filter) ([]*UserPackage, error)

	// FindSweepCandidates returns open packages the expiry sweep must look
	// at: not renewed out, expiring at or before the cutoff, and either not
	// yet at the expired stage or flagged for auto-renewal.
	FindSweepCandidates(ctx context.Context, cutoff time.Time) ([]*UserPackage, error)
}

// HistoryRepository records and reads the append-only audit log.
type HistoryRepository interface {
	// Record appends one entry. It participates in the caller's transaction:
	// if the primary mutation committed, the audit entry did too.
	Record(ctx context.Context, entry *HistoryEntry) error

	// ListByPackage returns entries for a package, newest first.
	ListByPackage(ctx context.Context, packageID uuid.UUID) ([]*HistoryEntry, error)
}

// NotificationLogRepository records and reads delivery attempts.
type NotificationLogRepository interface {
	// Record appends one attempt row.
	Record(ctx context.Context, log *NotificationLog) error

	// ListByPackage returns attempts for a package, newest first.
	ListByPackage(ctx context.Context, packageID uuid.UUID) ([]*NotificationLog, error)
}
