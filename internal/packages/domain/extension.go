package domain

import (
	"errors"
	"time"
)

var (
	ErrEmptyExtension  = errors.New("extension changes nothing")
	ErrInvalidPricing  = errors.New("pricing spec must carry a flat amount or a percentage")
	ErrNegativePercent = errors.New("discount percentage must be between 0 and 100")
)

// ExtensionSpec describes a change to a package's expiry date and session
// counts. Day/week/month deltas are additive to the current expiry unless
// SetExpiresAt overrides; AddSessions is additive unless SetSessions
// overrides.
type ExtensionSpec struct {
	ExtendDays   int        `json:"extend_days,omitempty"`
	ExtendWeeks  int        `json:"extend_weeks,omitempty"`
	ExtendMonths int        `json:"extend_months,omitempty"`
	SetExpiresAt *time.Time `json:"set_expiry_date,omitempty"`
	AddSessions  int        `json:"add_sessions,omitempty"`
	SetSessions  *int       `json:"set_sessions,omitempty"`
}

// Validate rejects a spec that would change nothing.
func (s ExtensionSpec) Validate() error {
	if s.ExtendDays == 0 && s.ExtendWeeks == 0 && s.ExtendMonths == 0 &&
		s.SetExpiresAt == nil && s.AddSessions == 0 && s.SetSessions == nil {
		return ErrEmptyExtension
	}
	return nil
}

// ExtensionDiff is the before/after pair an extension produces. Preview and
// execute both derive their values from this computation, so the numbers an
// operator approves are exactly the numbers that get persisted.
type ExtensionDiff struct {
	OldExpiresAt         time.Time `json:"old_expiry_date"`
	NewExpiresAt         time.Time `json:"new_expiry_date"`
	OldRemainingSessions int       `json:"old_remaining_sessions"`
	NewRemainingSessions int       `json:"new_remaining_sessions"`
	OldTotalSessions     int       `json:"old_total_sessions"`
	NewTotalSessions     int       `json:"new_total_sessions"`
}

// DaysExtended returns the whole days between the old and new expiry.
func (d ExtensionDiff) DaysExtended() int {
	return int(d.NewExpiresAt.Sub(d.OldExpiresAt) / (24 * time.Hour))
}

// SessionsAdded returns the change in remaining sessions.
func (d ExtensionDiff) SessionsAdded() int {
	return d.NewRemainingSessions - d.OldRemainingSessions
}

// Apply computes the effect of the spec on the given package values without
// touching any state. Remaining sessions are clamped to zero or more and the
// total is raised to at least the new remaining count.
func (s ExtensionSpec) Apply(expiresAt time.Time, remainingSessions, totalSessions int) ExtensionDiff {
	newExpiry := expiresAt
	if s.SetExpiresAt != nil {
		newExpiry = *s.SetExpiresAt
	} else {
		newExpiry = newExpiry.AddDate(0, s.ExtendMonths, s.ExtendDays+7*s.ExtendWeeks)
	}

	newRemaining := remainingSessions
	if s.SetSessions != nil {
		newRemaining = *s.SetSessions
	} else {
		newRemaining += s.AddSessions
	}
	if newRemaining < 0 {
		newRemaining = 0
	}

	newTotal := totalSessions
	if newRemaining > newTotal {
		newTotal = newRemaining
	}

	return ExtensionDiff{
		OldExpiresAt:         expiresAt,
		NewExpiresAt:         newExpiry,
		OldRemainingSessions: remainingSessions,
		NewRemainingSessions: newRemaining,
		OldTotalSessions:     totalSessions,
		NewTotalSessions:     newTotal,
	}
}

// PricingSpec describes a price adjustment: either a flat discount in cents
// or a percentage of the package's source-catalog price. Pricing has no
// column on the package row; it exists purely as an auditable history event.
type PricingSpec struct {
	DiscountCents   int64    `json:"discount_cents,omitempty"`
	DiscountPercent *float64 `json:"discount_percent,omitempty"`
}

// Validate rejects a spec carrying neither or both adjustment kinds.
func (s PricingSpec) Validate() error {
	hasFlat := s.DiscountCents != 0
	hasPercent := s.DiscountPercent != nil
	if hasFlat == hasPercent {
		return ErrInvalidPricing
	}
	if hasPercent && (*s.DiscountPercent < 0 || *s.DiscountPercent > 100) {
		return ErrNegativePercent
	}
	return nil
}

// Apply computes the signed adjustment in cents against the catalog price.
// Discounts come back negative.
func (s PricingSpec) Apply(catalogPriceCents int64) int64 {
	if s.DiscountPercent != nil {
		return -int64(float64(catalogPriceCents)**s.DiscountPercent/100 + 0.5)
	}
	return -s.DiscountCents
}
