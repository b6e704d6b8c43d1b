package domain

import (
	"time"

	sharedDomain "github.com/fitstack/backoffice/internal/shared/domain"
	"github.com/google/uuid"
)

const aggregateType = "UserPackage"

// PackageAssigned is emitted when a package is assigned to a member.
type PackageAssigned struct {
	sharedDomain.BaseEvent
	PackageID uuid.UUID `json:"package_id"`
	UserID    uuid.UUID `json:"user_id"`
	CatalogID uuid.UUID `json:"catalog_id"`
	Name      string    `json:"name"`
	Sessions  int       `json:"sessions"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewPackageAssigned creates a PackageAssigned event.
func NewPackageAssigned(p *UserPackage) *PackageAssigned {
	return &PackageAssigned{
		BaseEvent: sharedDomain.NewBaseEvent(p.ID(), aggregateType, "packages.package.assigned"),
		PackageID: p.ID(),
		UserID:    p.UserID(),
		CatalogID: p.CatalogID(),
		Name:      p.Name(),
		Sessions:  p.TotalSessions(),
		ExpiresAt: p.ExpiresAt(),
	}
}

// PackageFrozen is emitted when a package is frozen.
type PackageFrozen struct {
	sharedDomain.BaseEvent
	PackageID    uuid.UUID `json:"package_id"`
	UserID       uuid.UUID `json:"user_id"`
	FrozenAt     time.Time `json:"frozen_at"`
	DurationDays *int      `json:"duration_days,omitempty"`
}

// NewPackageFrozen creates a PackageFrozen event.
func NewPackageFrozen(p *UserPackage) *PackageFrozen {
	var frozenAt time.Time
	if p.FrozenAt() != nil {
		frozenAt = *p.FrozenAt()
	}
	return &PackageFrozen{
		BaseEvent:    sharedDomain.NewBaseEvent(p.ID(), aggregateType, "packages.package.frozen"),
		PackageID:    p.ID(),
		UserID:       p.UserID(),
		FrozenAt:     frozenAt,
		DurationDays: p.FreezeDurationDays(),
	}
}

// PackageUnfrozen is emitted when a package is unfrozen.
type PackageUnfrozen struct {
	sharedDomain.BaseEvent
	PackageID  uuid.UUID `json:"package_id"`
	UserID     uuid.UUID `json:"user_id"`
	UnfrozenAt time.Time `json:"unfrozen_at"`
	Status     string    `json:"status"`
}

// NewPackageUnfrozen creates a PackageUnfrozen event.
func NewPackageUnfrozen(p *UserPackage, now time.Time) *PackageUnfrozen {
	return &PackageUnfrozen{
		BaseEvent:  sharedDomain.NewBaseEvent(p.ID(), aggregateType, "packages.package.unfrozen"),
		PackageID:  p.ID(),
		UserID:     p.UserID(),
		UnfrozenAt: now,
		Status:     string(p.Status(now)),
	}
}

// PackageRenewed is emitted on the old package when a renewal replaces it.
type PackageRenewed struct {
	sharedDomain.BaseEvent
	PackageID    uuid.UUID `json:"package_id"`
	UserID       uuid.UUID `json:"user_id"`
	SuccessorID  uuid.UUID `json:"successor_id"`
	NewExpiresAt time.Time `json:"new_expires_at"`
	NewSessions  int       `json:"new_sessions"`
}

// NewPackageRenewed creates a PackageRenewed event.
func NewPackageRenewed(old, successor *UserPackage) *PackageRenewed {
	return &PackageRenewed{
		BaseEvent:    sharedDomain.NewBaseEvent(old.ID(), aggregateType, "packages.package.renewed"),
		PackageID:    old.ID(),
		UserID:       old.UserID(),
		SuccessorID:  successor.ID(),
		NewExpiresAt: successor.ExpiresAt(),
		NewSessions:  successor.TotalSessions(),
	}
}

// PackageExpired is emitted the first time the sweep observes a package past
// its expiry cutoff.
type PackageExpired struct {
	sharedDomain.BaseEvent
	PackageID uuid.UUID `json:"package_id"`
	UserID    uuid.UUID `json:"user_id"`
	ExpiredAt time.Time `json:"expired_at"`
}

// NewPackageExpired creates a PackageExpired event.
func NewPackageExpired(p *UserPackage, now time.Time) *PackageExpired {
	return &PackageExpired{
		BaseEvent: sharedDomain.NewBaseEvent(p.ID(), aggregateType, "packages.package.expired"),
		PackageID: p.ID(),
		UserID:    p.UserID(),
		ExpiredAt: now,
	}
}

// PackageExtended is emitted when an extension changes expiry or sessions.
type PackageExtended struct {
	sharedDomain.BaseEvent
	PackageID    uuid.UUID `json:"package_id"`
	UserID       uuid.UUID `json:"user_id"`
	OldExpiresAt time.Time `json:"old_expires_at"`
	NewExpiresAt time.Time `json:"new_expires_at"`
	OldSessions  int       `json:"old_sessions"`
	NewSessions  int       `json:"new_sessions"`
}

// NewPackageExtended creates a PackageExtended event.
func NewPackageExtended(p *UserPackage, diff ExtensionDiff) *PackageExtended {
	return &PackageExtended{
		BaseEvent:    sharedDomain.NewBaseEvent(p.ID(), aggregateType, "packages.package.extended"),
		PackageID:    p.ID(),
		UserID:       p.UserID(),
		OldExpiresAt: diff.OldExpiresAt,
		NewExpiresAt: diff.NewExpiresAt,
		OldSessions:  diff.OldRemainingSessions,
		NewSessions:  diff.NewRemainingSessions,
	}
}

// PackagePriceAdjusted is emitted when a pricing adjustment is recorded
// against a package.
type PackagePriceAdjusted struct {
	sharedDomain.BaseEvent
	PackageID       uuid.UUID `json:"package_id"`
	UserID          uuid.UUID `json:"user_id"`
	AdjustmentCents int64     `json:"adjustment_cents"`
}

// NewPackagePriceAdjusted creates a PackagePriceAdjusted event.
func NewPackagePriceAdjusted(p *UserPackage, adjustmentCents int64) *PackagePriceAdjusted {
	return &PackagePriceAdjusted{
		BaseEvent:       sharedDomain.NewBaseEvent(p.ID(), aggregateType, "packages.package.price_adjusted"),
		PackageID:       p.ID(),
		UserID:          p.UserID(),
		AdjustmentCents: adjustmentCents,
	}
}
