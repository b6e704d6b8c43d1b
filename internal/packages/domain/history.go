package domain

import (
	"time"

	"github.com/google/uuid"
)

// History actions. Each lifecycle mutation writes exactly one entry per
// affected package, in the same transaction as the mutation itself.
const (
	HistoryFrozen        = "frozen"
	HistoryUnfrozen      = "unfrozen"
	HistoryRenewedOut    = "renewed_out"
	HistoryRenewedIn     = "renewed_in"
	HistoryExtended      = "extended"
	HistoryPriceAdjusted = "price_adjusted"
	HistoryExpired       = "expired"
)

// HistoryEntry is one append-only audit row. Entries are never updated or
// deleted; the log must reconstruct who changed what and why after the fact.
type HistoryEntry struct {
	ID              uuid.UUID
	PackageID       uuid.UUID
	UserID          uuid.UUID
	Action          string
	PreviousStatus  Status
	NewStatus       Status
	SessionsBefore  int
	SessionsAfter   int
	ExpiryBefore    time.Time
	ExpiryAfter     time.Time
	Notes           string
	ActorID         uuid.UUID
	BulkOperationID *uuid.UUID
	CreatedAt       time.Time
}

// NewHistoryEntry builds an audit entry for a mutation on the given package.
func NewHistoryEntry(p *UserPackage, action string, previousStatus, newStatus Status, sessionsBefore int, expiryBefore time.Time, actorID uuid.UUID, notes string) *HistoryEntry {
	return &HistoryEntry{
		ID:             uuid.New(),
		PackageID:      p.ID(),
		UserID:         p.UserID(),
		Action:         action,
		PreviousStatus: previousStatus,
		NewStatus:      newStatus,
		SessionsBefore: sessionsBefore,
		SessionsAfter:  p.RemainingSessions(),
		ExpiryBefore:   expiryBefore,
		ExpiryAfter:    p.ExpiresAt(),
		Notes:          notes,
		ActorID:        actorID,
		CreatedAt:      time.Now().UTC(),
	}
}

// TagBulkOperation attributes the entry to an originating batch job.
func (e *HistoryEntry) TagBulkOperation(jobID uuid.UUID) *HistoryEntry {
	e.BulkOperationID = &jobID
	return e
}
