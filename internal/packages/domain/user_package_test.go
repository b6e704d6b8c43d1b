package domain

import (
	"testing"
	"time"

	catalogDomain "github.com/fitstack/backoffice/internal/catalog/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTemplate() *catalogDomain.Template {
	return &catalogDomain.Template{
		ID:           uuid.New(),
		Name:         "10 Sessions / 30 Days",
		PriceCents:   14900,
		SessionCount: 10,
		DurationDays: 30,
		Active:       true,
	}
}

func testPackage(t *testing.T, assignedAt time.Time) *UserPackage {
	t.Helper()
	p, err := NewUserPackage(uuid.New(), testTemplate(), assignedAt)
	require.NoError(t, err)
	p.ClearDomainEvents()
	return p
}

func TestNewUserPackage(t *testing.T) {
	userID := uuid.New()
	tpl := testTemplate()
	assignedAt := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	p, err := NewUserPackage(userID, tpl, assignedAt)
	require.NoError(t, err)

	assert.Equal(t, userID, p.UserID())
	assert.Equal(t, tpl.ID, p.CatalogID())
	assert.Equal(t, "10 Sessions / 30 Days", p.Name())
	assert.Equal(t, 10, p.TotalSessions())
	assert.Equal(t, 10, p.RemainingSessions())
	assert.Equal(t, assignedAt.AddDate(0, 0, 30), p.ExpiresAt())
	assert.Equal(t, StageNone, p.Stage())
	assert.False(t, p.IsFrozen())
	assert.False(t, p.IsRenewedOut())

	events := p.DomainEvents()
	require.Len(t, events, 1)
	assigned, ok := events[0].(*PackageAssigned)
	require.True(t, ok)
	assert.Equal(t, p.ID(), assigned.PackageID)
}

func TestComputeStatus(t *testing.T) {
	expiry := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		now       time.Time
		remaining int
		want      Status
	}{
		{"well before expiry", expiry.AddDate(0, 0, -20), 5, StatusActive},
		{"inside warn window", expiry.AddDate(0, 0, -5), 5, StatusExpiringSoon},
		{"exactly seven days out", expiry.AddDate(0, 0, -7), 5, StatusExpiringSoon},
		{"warn window but no sessions", expiry.AddDate(0, 0, -5), 0, StatusActive},
		{"at expiry instant", expiry, 5, StatusExpired},
		{"after expiry", expiry.AddDate(0, 0, 1), 5, StatusExpired},
		{"zero sessions before window stays active", expiry.AddDate(0, 0, -20), 0, StatusActive},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ComputeStatus(expiry, tc.remaining, tc.now))
		})
	}
}

func TestDaysUntil(t *testing.T) {
	expiry := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)

	assert.Equal(t, 7, DaysUntil(expiry, time.Date(2025, 1, 3, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0, DaysUntil(expiry, time.Date(2025, 1, 10, 1, 0, 0, 0, time.UTC)))
	assert.Equal(t, -2, DaysUntil(expiry, time.Date(2025, 1, 12, 1, 0, 0, 0, time.UTC)))
}

func TestUserPackage_Freeze(t *testing.T) {
	now := time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC)
	p := testPackage(t, now.AddDate(0, 0, -10))

	err := p.Freeze(now, nil)
	require.NoError(t, err)

	assert.True(t, p.IsFrozen())
	require.NotNil(t, p.FrozenAt())
	assert.Equal(t, now, *p.FrozenAt())
	assert.Equal(t, StatusFrozen, p.Status(now))

	events := p.DomainEvents()
	require.Len(t, events, 1)
	_, ok := events[0].(*PackageFrozen)
	assert.True(t, ok)
}

func TestUserPackage_Freeze_AlreadyFrozen(t *testing.T) {
	now := time.Now().UTC()
	p := testPackage(t, now)

	require.NoError(t, p.Freeze(now, nil))
	err := p.Freeze(now, nil)
	assert.ErrorIs(t, err, ErrAlreadyFrozen)
}

func TestUserPackage_Unfreeze_NotFrozen(t *testing.T) {
	p := testPackage(t, time.Now().UTC())
	err := p.Unfreeze(time.Now().UTC(), false)
	assert.ErrorIs(t, err, ErrNotFrozen)
}

func TestUserPackage_Unfreeze_RecomputesFromCurrentClock(t *testing.T) {
	assigned := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p := testPackage(t, assigned) // expires 2025-01-31

	// Frozen while active, unfrozen inside the warn window: the restored
	// status must reflect the clock at unfreeze time, not the state cached
	// before freezing.
	freezeAt := assigned.AddDate(0, 0, 5)
	require.NoError(t, p.Freeze(freezeAt, nil))
	assert.Equal(t, StatusFrozen, p.Status(freezeAt))

	unfreezeAt := assigned.AddDate(0, 0, 26)
	require.NoError(t, p.Unfreeze(unfreezeAt, false))
	assert.Equal(t, StatusExpiringSoon, p.Status(unfreezeAt))
	assert.Equal(t, p.Status(unfreezeAt), ComputeStatus(p.ExpiresAt(), p.RemainingSessions(), unfreezeAt))
}

func TestUserPackage_Unfreeze_ExtendsExpiryWhenConfigured(t *testing.T) {
	assigned := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p := testPackage(t, assigned)
	originalExpiry := p.ExpiresAt()

	freezeAt := assigned.AddDate(0, 0, 5)
	require.NoError(t, p.Freeze(freezeAt, nil))

	unfreezeAt := freezeAt.AddDate(0, 0, 10)
	require.NoError(t, p.Unfreeze(unfreezeAt, true))

	assert.Equal(t, originalExpiry.AddDate(0, 0, 10), p.ExpiresAt())
}

func TestUserPackage_Unfreeze_ExtensionCappedByFreezeDuration(t *testing.T) {
	assigned := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p := testPackage(t, assigned)
	originalExpiry := p.ExpiresAt()

	const capDays = 7
	duration := capDays
	freezeAt := assigned.AddDate(0, 0, 5)
	require.NoError(t, p.Freeze(freezeAt, &duration))

	// Frozen for 20 days but capped at 7.
	unfreezeAt := freezeAt.AddDate(0, 0, 20)
	require.NoError(t, p.Unfreeze(unfreezeAt, true))

	assert.Equal(t, originalExpiry.AddDate(0, 0, capDays), p.ExpiresAt())
}

func TestUserPackage_RenewTo(t *testing.T) {
	assigned := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p := testPackage(t, assigned)
	now := assigned.AddDate(0, 0, 35) // past expiry

	tpl := testTemplate()
	successor, err := p.RenewTo(tpl, 3, now)
	require.NoError(t, err)

	assert.True(t, p.IsRenewedOut())
	assert.Equal(t, StatusExpired, p.Status(now))
	require.NotNil(t, successor.RenewedFromID())
	assert.Equal(t, p.ID(), *successor.RenewedFromID())
	assert.Equal(t, tpl.SessionCount+3, successor.TotalSessions())
	assert.Equal(t, tpl.SessionCount+3, successor.RemainingSessions())
	assert.Equal(t, now, successor.AssignedAt())
	assert.Equal(t, now.AddDate(0, 0, tpl.DurationDays), successor.ExpiresAt())
}

func TestUserPackage_RenewTo_TerminalOldStatus(t *testing.T) {
	assigned := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p := testPackage(t, assigned)
	now := assigned.AddDate(0, 0, 35)

	_, err := p.RenewTo(testTemplate(), 0, now)
	require.NoError(t, err)

	// Even far in the "future" of a long extension the old row stays expired.
	assert.Equal(t, StatusExpired, p.Status(assigned))
	_, err = p.RenewTo(testTemplate(), 0, now)
	assert.ErrorIs(t, err, ErrRenewedOut)
}

func TestUserPackage_RenewTo_NotEligible(t *testing.T) {
	assigned := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p := testPackage(t, assigned)

	// 20 days before expiry is outside the renewal window.
	_, err := p.RenewTo(testTemplate(), 0, assigned.AddDate(0, 0, 10))
	assert.ErrorIs(t, err, ErrRenewalNotAllowed)
}

func TestUserPackage_RenewTo_WithinAutoRenewWindow(t *testing.T) {
	assigned := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p := testPackage(t, assigned) // expires 01-31

	_, err := p.RenewTo(testTemplate(), 0, time.Date(2025, 1, 30, 12, 0, 0, 0, time.UTC))
	assert.NoError(t, err)
}

func TestUserPackage_RenewTo_InactiveTemplate(t *testing.T) {
	assigned := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p := testPackage(t, assigned)

	tpl := testTemplate()
	tpl.Active = false
	_, err := p.RenewTo(tpl, 0, assigned.AddDate(0, 0, 35))
	assert.ErrorIs(t, err, ErrRenewalFailed)
}

func TestUserPackage_RenewTo_FrozenBlocked(t *testing.T) {
	assigned := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p := testPackage(t, assigned)
	now := assigned.AddDate(0, 0, 35)

	require.NoError(t, p.Freeze(now, nil))
	_, err := p.RenewTo(testTemplate(), 0, now)
	assert.ErrorIs(t, err, ErrRenewalFailed)
}

func TestUserPackage_Extend(t *testing.T) {
	assigned := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p := testPackage(t, assigned)
	originalExpiry := p.ExpiresAt()

	diff, err := p.Extend(ExtensionSpec{ExtendDays: 10, AddSessions: 3})
	require.NoError(t, err)

	assert.Equal(t, originalExpiry.AddDate(0, 0, 10), p.ExpiresAt())
	assert.Equal(t, 13, p.RemainingSessions())
	assert.Equal(t, 13, p.TotalSessions())
	assert.Equal(t, 10, diff.DaysExtended())
	assert.Equal(t, 3, diff.SessionsAdded())
}

func TestUserPackage_Extend_InvariantSessionsBounded(t *testing.T) {
	assigned := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p := testPackage(t, assigned)

	_, err := p.Extend(ExtensionSpec{AddSessions: -100})
	require.NoError(t, err)
	assert.Equal(t, 0, p.RemainingSessions())
	assert.GreaterOrEqual(t, p.TotalSessions(), p.RemainingSessions())

	set := 25
	_, err = p.Extend(ExtensionSpec{SetSessions: &set})
	require.NoError(t, err)
	assert.Equal(t, 25, p.RemainingSessions())
	assert.Equal(t, 25, p.TotalSessions())
}

func TestUserPackage_Extend_EmptySpec(t *testing.T) {
	p := testPackage(t, time.Now().UTC())
	_, err := p.Extend(ExtensionSpec{})
	assert.ErrorIs(t, err, ErrEmptyExtension)
}

func TestUserPackage_AdvanceStage(t *testing.T) {
	p := testPackage(t, time.Now().UTC())
	now := time.Now().UTC()

	assert.True(t, p.AdvanceStage(StageExpiring7, now))
	assert.Equal(t, StageExpiring7, p.Stage())
	require.NotNil(t, p.LastNotifiedAt())

	// Re-applying the same stage is a no-op: the ratchet is the sweep's
	// idempotency guard.
	assert.False(t, p.AdvanceStage(StageExpiring7, now))

	// Moving backwards never happens.
	assert.False(t, p.AdvanceStage(StageNone, now))

	assert.True(t, p.AdvanceStage(StageExpired, now))
	assert.Equal(t, StageExpired, p.Stage())
}

func TestRehydrateUserPackage(t *testing.T) {
	id := uuid.New()
	userID := uuid.New()
	catalogID := uuid.New()
	assigned := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	expiry := assigned.AddDate(0, 0, 30)

	p := RehydrateUserPackage(
		id, userID, catalogID, "Test", 10, 4, assigned, expiry,
		false, nil, nil, nil, StageExpiring7, nil, true, nil, nil,
		3, assigned, assigned,
	)

	assert.Equal(t, id, p.ID())
	assert.Equal(t, 3, p.Version())
	assert.Equal(t, StageExpiring7, p.Stage())
	assert.True(t, p.AutoRenew())
	assert.Empty(t, p.DomainEvents())
}
