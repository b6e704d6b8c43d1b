package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtensionSpec_Apply(t *testing.T) {
	expiry := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	t.Run("days and sessions", func(t *testing.T) {
		diff := ExtensionSpec{ExtendDays: 10, AddSessions: 3}.Apply(expiry, 5, 10)

		assert.Equal(t, time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC), diff.NewExpiresAt)
		assert.Equal(t, 8, diff.NewRemainingSessions)
		assert.Equal(t, 10, diff.NewTotalSessions)
	})

	t.Run("weeks and months are additive", func(t *testing.T) {
		diff := ExtensionSpec{ExtendWeeks: 2, ExtendMonths: 1}.Apply(expiry, 5, 10)
		assert.Equal(t, expiry.AddDate(0, 1, 14), diff.NewExpiresAt)
	})

	t.Run("set expiry overrides deltas", func(t *testing.T) {
		target := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		diff := ExtensionSpec{ExtendDays: 99, SetExpiresAt: &target}.Apply(expiry, 5, 10)
		assert.Equal(t, target, diff.NewExpiresAt)
	})

	t.Run("set sessions overrides add", func(t *testing.T) {
		set := 2
		diff := ExtensionSpec{AddSessions: 99, SetSessions: &set}.Apply(expiry, 5, 10)
		assert.Equal(t, 2, diff.NewRemainingSessions)
		assert.Equal(t, 10, diff.NewTotalSessions)
	})

	t.Run("remaining clamped at zero", func(t *testing.T) {
		diff := ExtensionSpec{AddSessions: -50}.Apply(expiry, 5, 10)
		assert.Equal(t, 0, diff.NewRemainingSessions)
	})

	t.Run("total raised to remaining", func(t *testing.T) {
		set := 40
		diff := ExtensionSpec{SetSessions: &set}.Apply(expiry, 5, 10)
		assert.Equal(t, 40, diff.NewRemainingSessions)
		assert.Equal(t, 40, diff.NewTotalSessions)
	})
}

func TestExtensionSpec_Validate(t *testing.T) {
	assert.ErrorIs(t, ExtensionSpec{}.Validate(), ErrEmptyExtension)
	assert.NoError(t, ExtensionSpec{ExtendDays: 1}.Validate())

	set := 0
	assert.NoError(t, ExtensionSpec{SetSessions: &set}.Validate())
}

func TestPricingSpec_Validate(t *testing.T) {
	pct := 10.0
	over := 150.0

	assert.ErrorIs(t, PricingSpec{}.Validate(), ErrInvalidPricing)
	assert.ErrorIs(t, PricingSpec{DiscountCents: 100, DiscountPercent: &pct}.Validate(), ErrInvalidPricing)
	assert.ErrorIs(t, PricingSpec{DiscountPercent: &over}.Validate(), ErrNegativePercent)
	assert.NoError(t, PricingSpec{DiscountCents: 500}.Validate())
	assert.NoError(t, PricingSpec{DiscountPercent: &pct}.Validate())
}

func TestPricingSpec_Apply(t *testing.T) {
	assert.Equal(t, int64(-500), PricingSpec{DiscountCents: 500}.Apply(14900))

	pct := 10.0
	assert.Equal(t, int64(-1490), PricingSpec{DiscountPercent: &pct}.Apply(14900))

	// Percentage adjustments round half up.
	third := 33.333
	require.Equal(t, int64(-33), PricingSpec{DiscountPercent: &third}.Apply(100))
}

func TestStageFor(t *testing.T) {
	tests := []struct {
		days int
		want NotificationStage
	}{
		{30, StageNone},
		{8, StageNone},
		{7, StageExpiring7},
		{4, StageExpiring7},
		{3, StageExpiring3},
		{0, StageExpiring3},
		{-1, StageExpired},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, StageFor(tc.days, 7, 3), "days=%d", tc.days)
	}
}

func TestNotificationStage_After(t *testing.T) {
	assert.True(t, StageExpiring7.After(StageNone))
	assert.True(t, StageExpired.After(StageExpiring3))
	assert.False(t, StageNone.After(StageNone))
	assert.False(t, StageExpiring7.After(StageExpired))
}
