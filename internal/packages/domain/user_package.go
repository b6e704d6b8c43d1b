package domain

import (
	"errors"
	"time"

	catalogDomain "github.com/fitstack/backoffice/internal/catalog/domain"
	sharedDomain "github.com/fitstack/backoffice/internal/shared/domain"
	"github.com/google/uuid"
)

var (
	ErrPackageNotFound   = errors.New("package not found")
	ErrAlreadyFrozen     = errors.New("package is already frozen")
	ErrNotFrozen         = errors.New("package is not frozen")
	ErrRenewedOut        = errors.New("package has been renewed and is closed")
	ErrRenewalNotAllowed = errors.New("package is not eligible for renewal")
	ErrRenewalFailed     = errors.New("renewal preconditions not met")
	ErrVersionConflict   = errors.New("package was modified concurrently")
	ErrInvalidSessions   = errors.New("session counts must be non-negative")
	ErrInvalidFilter     = errors.New("invalid package filter")
)

// Status represents the lifecycle state of a user package.
type Status string

const (
	StatusActive       Status = "active"
	StatusExpiringSoon Status = "expiring_soon"
	StatusExpired      Status = "expired"
	StatusFrozen       Status = "frozen"
	// StatusPaused is reserved for a future suspension flow and is never
	// produced by the lifecycle itself.
	StatusPaused Status = "paused"
)

// IsValid checks if the status is a known lifecycle state.
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusExpiringSoon, StatusExpired, StatusFrozen, StatusPaused:
		return true
	default:
		return false
	}
}

// expiringSoonDays is the window before expiry in which a package with
// remaining sessions reads as expiring_soon.
const expiringSoonDays = 7

// ComputeStatus derives the date-driven lifecycle state, ignoring freeze.
// The expiry instant itself is an exclusive cutoff: a package is expired at
// or after expiresAt. Session exhaustion deliberately does not drive status;
// a package with zero remaining sessions stays active until its date runs
// out.
func ComputeStatus(expiresAt time.Time, remainingSessions int, now time.Time) Status {
	if !now.Before(expiresAt) {
		return StatusExpired
	}
	if remainingSessions > 0 && !now.Before(expiresAt.AddDate(0, 0, -expiringSoonDays)) {
		return StatusExpiringSoon
	}
	return StatusActive
}

// DaysUntil returns the number of whole calendar days from now until the
// given instant, negative once the instant has passed.
func DaysUntil(expiresAt, now time.Time) int {
	nowDay := truncateToDay(now)
	expiryDay := truncateToDay(expiresAt)
	return int(expiryDay.Sub(nowDay) / (24 * time.Hour))
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// UserPackage is a member's purchased session-package instance. Its status
// is derived from the expiry date and freeze flag on read; the persisted
// status column is a queryability cache, never the source of truth.
type UserPackage struct {
	sharedDomain.BaseAggregateRoot
	userID             uuid.UUID
	catalogID          uuid.UUID
	name               string // snapshot at assignment, does not follow catalog edits
	totalSessions      int
	remainingSessions  int
	assignedAt         time.Time
	expiresAt          time.Time
	frozen             bool
	frozenAt           *time.Time
	unfrozenAt         *time.Time
	freezeDurationDays *int
	stage              NotificationStage
	lastNotifiedAt     *time.Time
	autoRenew          bool
	renewedFromID      *uuid.UUID
	renewedAt          *time.Time
}

// NewUserPackage assigns a catalog template to a member.
func NewUserPackage(userID uuid.UUID, tpl *catalogDomain.Template, assignedAt time.Time) (*UserPackage, error) {
	if tpl.SessionCount < 0 {
		return nil, ErrInvalidSessions
	}

	p := &UserPackage{
		BaseAggregateRoot: sharedDomain.NewBaseAggregateRoot(),
		userID:            userID,
		catalogID:         tpl.ID,
		name:              tpl.Name,
		totalSessions:     tpl.SessionCount,
		remainingSessions: tpl.SessionCount,
		assignedAt:        assignedAt,
		expiresAt:         assignedAt.AddDate(0, 0, tpl.DurationDays),
		stage:             StageNone,
	}

	p.AddDomainEvent(NewPackageAssigned(p))

	return p, nil
}

// Getters
func (p *UserPackage) UserID() uuid.UUID          { return p.userID }
func (p *UserPackage) CatalogID() uuid.UUID       { return p.catalogID }
func (p *UserPackage) Name() string               { return p.name }
func (p *UserPackage) TotalSessions() int         { return p.totalSessions }
func (p *UserPackage) RemainingSessions() int     { return p.remainingSessions }
func (p *UserPackage) AssignedAt() time.Time      { return p.assignedAt }
func (p *UserPackage) ExpiresAt() time.Time       { return p.expiresAt }
func (p *UserPackage) IsFrozen() bool             { return p.frozen }
func (p *UserPackage) FrozenAt() *time.Time       { return p.frozenAt }
func (p *UserPackage) UnfrozenAt() *time.Time     { return p.unfrozenAt }
func (p *UserPackage) FreezeDurationDays() *int   { return p.freezeDurationDays }
func (p *UserPackage) Stage() NotificationStage   { return p.stage }
func (p *UserPackage) LastNotifiedAt() *time.Time { return p.lastNotifiedAt }
func (p *UserPackage) AutoRenew() bool            { return p.autoRenew }
func (p *UserPackage) RenewedFromID() *uuid.UUID  { return p.renewedFromID }
func (p *UserPackage) RenewedAt() *time.Time      { return p.renewedAt }

// IsRenewedOut reports whether this instance has been replaced by a
// successor and is terminally expired.
func (p *UserPackage) IsRenewedOut() bool { return p.renewedAt != nil }

// Status returns the lifecycle state at the given instant. An explicit
// freeze overrides the computed value; a renewed-out package is terminally
// expired regardless of its dates.
func (p *UserPackage) Status(now time.Time) Status {
	if p.IsRenewedOut() {
		return StatusExpired
	}
	if p.frozen {
		return StatusFrozen
	}
	return ComputeStatus(p.expiresAt, p.remainingSessions, now)
}

// DaysUntilExpiry returns whole calendar days until expiry, negative once
// the package has expired.
func (p *UserPackage) DaysUntilExpiry(now time.Time) int {
	return DaysUntil(p.expiresAt, now)
}

// SetAutoRenew toggles automatic renewal.
func (p *UserPackage) SetAutoRenew(enabled bool) {
	p.autoRenew = enabled
	p.Touch()
}

// Freeze pauses the package. Duration, when given, caps how long the freeze
// may extend the expiry clock on unfreeze (see Unfreeze).
func (p *UserPackage) Freeze(now time.Time, durationDays *int) error {
	if p.IsRenewedOut() {
		return ErrRenewedOut
	}
	if p.frozen {
		return ErrAlreadyFrozen
	}

	frozenAt := now
	p.frozen = true
	p.frozenAt = &frozenAt
	p.unfrozenAt = nil
	p.freezeDurationDays = durationDays
	p.Touch()

	p.AddDomainEvent(NewPackageFrozen(p))

	return nil
}

// Unfreeze resumes the package. The status is recomputed from the current
// clock, never restored from the value cached before freezing. When
// extendExpiry is set the expiry date shifts by the time spent frozen,
// capped at freezeDurationDays when one was recorded.
func (p *UserPackage) Unfreeze(now time.Time, extendExpiry bool) error {
	if !p.frozen {
		return ErrNotFrozen
	}

	if extendExpiry && p.frozenAt != nil {
		frozenFor := now.Sub(*p.frozenAt)
		if p.freezeDurationDays != nil {
			if limit := time.Duration(*p.freezeDurationDays) * 24 * time.Hour; frozenFor > limit {
				frozenFor = limit
			}
		}
		if frozenFor > 0 {
			p.expiresAt = p.expiresAt.Add(frozenFor)
		}
	}

	unfrozenAt := now
	p.frozen = false
	p.unfrozenAt = &unfrozenAt
	p.Touch()

	p.AddDomainEvent(NewPackageUnfrozen(p, now))

	return nil
}

// autoRenewWindowDays is how close to expiry a package must be before it can
// be renewed ahead of its expiry date.
const autoRenewWindowDays = 1

// CanRenew reports whether the package is expired or close enough to expiry
// to renew early.
func (p *UserPackage) CanRenew(now time.Time) bool {
	if p.IsRenewedOut() {
		return false
	}
	return p.DaysUntilExpiry(now) <= autoRenewWindowDays
}

// RenewTo replaces this package with a fresh instance built from the given
// catalog template. The old instance is closed terminally; the successor
// records the chain linkage. The caller persists both rows.
func (p *UserPackage) RenewTo(tpl *catalogDomain.Template, extraSessions int, now time.Time) (*UserPackage, error) {
	if p.IsRenewedOut() {
		return nil, ErrRenewedOut
	}
	if !p.CanRenew(now) {
		return nil, ErrRenewalNotAllowed
	}
	if p.frozen {
		return nil, ErrRenewalFailed
	}
	if !tpl.Active {
		return nil, ErrRenewalFailed
	}
	if extraSessions < 0 {
		return nil, ErrInvalidSessions
	}

	successor, err := NewUserPackage(p.userID, tpl, now)
	if err != nil {
		return nil, err
	}
	oldID := p.ID()
	successor.renewedFromID = &oldID
	successor.totalSessions += extraSessions
	successor.remainingSessions += extraSessions
	successor.autoRenew = p.autoRenew

	renewedAt := now
	p.renewedAt = &renewedAt
	p.Touch()

	p.AddDomainEvent(NewPackageRenewed(p, successor))

	return successor, nil
}

// Extend applies an extension spec to the package. The mutation uses the
// same pure diff computation the bulk preview path uses, so the two can
// never diverge.
func (p *UserPackage) Extend(spec ExtensionSpec) (ExtensionDiff, error) {
	if p.IsRenewedOut() {
		return ExtensionDiff{}, ErrRenewedOut
	}
	if err := spec.Validate(); err != nil {
		return ExtensionDiff{}, err
	}

	diff := spec.Apply(p.expiresAt, p.remainingSessions, p.totalSessions)
	p.expiresAt = diff.NewExpiresAt
	p.remainingSessions = diff.NewRemainingSessions
	p.totalSessions = diff.NewTotalSessions
	p.Touch()

	p.AddDomainEvent(NewPackageExtended(p, diff))

	return diff, nil
}

// AdvanceStage moves the notification ratchet forward. It never moves
// backwards; re-applying the current or an earlier stage is a no-op and
// reports false.
func (p *UserPackage) AdvanceStage(target NotificationStage, sentAt time.Time) bool {
	if !target.After(p.stage) {
		return false
	}
	p.stage = target
	p.lastNotifiedAt = &sentAt
	p.Touch()
	return true
}

// MarkExpired records the expired state onto the aggregate after the sweep
// observes the expiry cutoff. Emits an event only on the first observation.
func (p *UserPackage) MarkExpired(now time.Time) {
	if p.stage == StageExpired {
		return
	}
	p.AddDomainEvent(NewPackageExpired(p, now))
}

// RehydrateUserPackage recreates a package from persisted state without
// generating events.
func RehydrateUserPackage(
	id uuid.UUID,
	userID uuid.UUID,
	catalogID uuid.UUID,
	name string,
	totalSessions int,
	remainingSessions int,
	assignedAt time.Time,
	expiresAt time.Time,
	frozen bool,
	frozenAt *time.Time,
	unfrozenAt *time.Time,
	freezeDurationDays *int,
	stage NotificationStage,
	lastNotifiedAt *time.Time,
	autoRenew bool,
	renewedFromID *uuid.UUID,
	renewedAt *time.Time,
	version int,
	createdAt time.Time,
	updatedAt time.Time,
) *UserPackage {
	baseEntity := sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt)
	baseAggregate := sharedDomain.RehydrateBaseAggregateRoot(baseEntity, version)

	return &UserPackage{
		BaseAggregateRoot:  baseAggregate,
		userID:             userID,
		catalogID:          catalogID,
		name:               name,
		totalSessions:      totalSessions,
		remainingSessions:  remainingSessions,
		assignedAt:         assignedAt,
		expiresAt:          expiresAt,
		frozen:             frozen,
		frozenAt:           frozenAt,
		unfrozenAt:         unfrozenAt,
		freezeDurationDays: freezeDurationDays,
		stage:              stage,
		lastNotifiedAt:     lastNotifiedAt,
		autoRenew:          autoRenew,
		renewedFromID:      renewedFromID,
		renewedAt:          renewedAt,
	}
}
