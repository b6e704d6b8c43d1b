package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	catalogDomain "github.com/fitstack/backoffice/internal/catalog/domain"
	"github.com/fitstack/backoffice/internal/packages/domain"
	"github.com/fitstack/backoffice/internal/shared/infrastructure/migrations"

	_ "modernc.org/sqlite"
)

// setupTestDB creates an in-memory SQLite database with the schema applied.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, migrations.RunSQLiteMigrations(context.Background(), sqlDB))

	return sqlDB
}

func testTemplate() *catalogDomain.Template {
	now := time.Now().UTC()
	return &catalogDomain.Template{
		ID:           uuid.New(),
		Name:         "10 Session Pack",
		PriceCents:   45000,
		SessionCount: 10,
		DurationDays: 90,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// newStoredPackage creates and persists a package expiring at the given time.
func newStoredPackage(t *testing.T, repo *SQLitePackageRepository, expiresAt time.Time) *domain.UserPackage {
	t.Helper()

	tpl := testTemplate()
	assignedAt := expiresAt.AddDate(0, 0, -tpl.DurationDays)
	p, err := domain.NewUserPackage(uuid.New(), tpl, assignedAt)
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), p))
	return p
}

func TestSQLitePackageRepository_CreateAndFindByID(t *testing.T) {
	sqlDB := setupTestDB(t)
	repo := NewSQLitePackageRepository(sqlDB)
	ctx := context.Background()

	tpl := testTemplate()
	userID := uuid.New()
	assignedAt := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

	p, err := domain.NewUserPackage(userID, tpl, assignedAt)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, p))

	found, err := repo.FindByID(ctx, p.ID())
	require.NoError(t, err)

	assert.Equal(t, p.ID(), found.ID())
	assert.Equal(t, userID, found.UserID())
	assert.Equal(t, tpl.ID, found.CatalogID())
	assert.Equal(t, "10 Session Pack", found.Name())
	assert.Equal(t, 10, found.TotalSessions())
	assert.Equal(t, 10, found.RemainingSessions())
	assert.True(t, found.ExpiresAt().Equal(assignedAt.AddDate(0, 0, 90)))
	assert.Equal(t, domain.StageNone, found.Stage())
	assert.False(t, found.IsFrozen())
	assert.Equal(t, 1, found.Version())
}

func TestSQLitePackageRepository_FindByID_NotFound(t *testing.T) {
	sqlDB := setupTestDB(t)
	repo := NewSQLitePackageRepository(sqlDB)

	_, err := repo.FindByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrPackageNotFound)
}

func TestSQLitePackageRepository_Save_RoundTripsFreeze(t *testing.T) {
	sqlDB := setupTestDB(t)
	repo := NewSQLitePackageRepository(sqlDB)
	ctx := context.Background()

	p := newStoredPackage(t, repo, time.Now().UTC().AddDate(0, 0, 30))

	days := 14
	require.NoError(t, p.Freeze(time.Now().UTC(), &days))
	require.NoError(t, repo.Save(ctx, p))

	found, err := repo.FindByID(ctx, p.ID())
	require.NoError(t, err)
	assert.True(t, found.IsFrozen())
	require.NotNil(t, found.FrozenAt())
	require.NotNil(t, found.FreezeDurationDays())
	assert.Equal(t, 14, *found.FreezeDurationDays())
	assert.Equal(t, 2, found.Version())
}

// The status column is a cache derived at write time for ad-hoc queries;
// rehydration and filtering never trust it.
func TestSQLitePackageRepository_WritesStatusCache(t *testing.T) {
	sqlDB := setupTestDB(t)
	repo := NewSQLitePackageRepository(sqlDB)
	ctx := context.Background()

	storedStatus := func(id uuid.UUID) string {
		var s string
		require.NoError(t, sqlDB.QueryRow(
			`SELECT status FROM user_packages WHERE id = ?`, id.String()).Scan(&s))
		return s
	}

	p := newStoredPackage(t, repo, time.Now().UTC().AddDate(0, 0, 60))
	assert.Equal(t, "active", storedStatus(p.ID()))

	require.NoError(t, p.Freeze(time.Now().UTC(), nil))
	require.NoError(t, repo.Save(ctx, p))
	assert.Equal(t, "frozen", storedStatus(p.ID()))

	require.NoError(t, p.Unfreeze(time.Now().UTC(), false))
	require.NoError(t, repo.Save(ctx, p))
	assert.Equal(t, "active", storedStatus(p.ID()))

	lapsed := newStoredPackage(t, repo, time.Now().UTC().AddDate(0, 0, -1))
	assert.Equal(t, "expired", storedStatus(lapsed.ID()))
}

func TestSQLitePackageRepository_Save_VersionConflict(t *testing.T) {
	sqlDB := setupTestDB(t)
	repo := NewSQLitePackageRepository(sqlDB)
	ctx := context.Background()

	p := newStoredPackage(t, repo, time.Now().UTC().AddDate(0, 0, 30))

	first, err := repo.FindByID(ctx, p.ID())
	require.NoError(t, err)
	second, err := repo.FindByID(ctx, p.ID())
	require.NoError(t, err)

	first.SetAutoRenew(true)
	require.NoError(t, repo.Save(ctx, first))

	second.SetAutoRenew(false)
	err = repo.Save(ctx, second)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
}

func TestSQLitePackageRepository_Save_NotFound(t *testing.T) {
	sqlDB := setupTestDB(t)
	repo := NewSQLitePackageRepository(sqlDB)

	tpl := testTemplate()
	p, err := domain.NewUserPackage(uuid.New(), tpl, time.Now().UTC())
	require.NoError(t, err)

	err = repo.Save(context.Background(), p)
	assert.ErrorIs(t, err, domain.ErrPackageNotFound)
}

func TestSQLitePackageRepository_FindByUserID(t *testing.T) {
	sqlDB := setupTestDB(t)
	repo := NewSQLitePackageRepository(sqlDB)
	ctx := context.Background()

	userID := uuid.New()
	tpl := testTemplate()

	older, err := domain.NewUserPackage(userID, tpl, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	newer, err := domain.NewUserPackage(userID, tpl, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	other, err := domain.NewUserPackage(uuid.New(), tpl, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.NoError(t, repo.Create(ctx, older))
	require.NoError(t, repo.Create(ctx, newer))
	require.NoError(t, repo.Create(ctx, other))

	found, err := repo.FindByUserID(ctx, userID)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, newer.ID(), found[0].ID())
	assert.Equal(t, older.ID(), found[1].ID())
}

func TestSQLitePackageRepository_FindMatching_ExpiryRange(t *testing.T) {
	sqlDB := setupTestDB(t)
	repo := NewSQLitePackageRepository(sqlDB)
	ctx := context.Background()

	now := time.Now().UTC()
	inside := newStoredPackage(t, repo, now.AddDate(0, 0, 10))
	newStoredPackage(t, repo, now.AddDate(0, 0, 60))

	from := now
	to := now.AddDate(0, 0, 30)
	found, err := repo.FindMatching(ctx, domain.Filter{ExpiresFrom: &from, ExpiresTo: &to})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, inside.ID(), found[0].ID())
}

func TestSQLitePackageRepository_FindMatching_StatusFrozen(t *testing.T) {
	sqlDB := setupTestDB(t)
	repo := NewSQLitePackageRepository(sqlDB)
	ctx := context.Background()

	now := time.Now().UTC()
	frozen := newStoredPackage(t, repo, now.AddDate(0, 0, 30))
	require.NoError(t, frozen.Freeze(now, nil))
	require.NoError(t, repo.Save(ctx, frozen))

	newStoredPackage(t, repo, now.AddDate(0, 0, 30))

	status := domain.StatusFrozen
	found, err := repo.FindMatching(ctx, domain.Filter{Status: &status})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, frozen.ID(), found[0].ID())
}

func TestSQLitePackageRepository_FindMatching_UserSearch(t *testing.T) {
	sqlDB := setupTestDB(t)
	repo := NewSQLitePackageRepository(sqlDB)
	ctx := context.Background()

	p := newStoredPackage(t, repo, time.Now().UTC().AddDate(0, 0, 30))

	found, err := repo.FindMatching(ctx, domain.Filter{UserSearch: "session pack"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, p.ID(), found[0].ID())

	found, err = repo.FindMatching(ctx, domain.Filter{UserSearch: "no such member"})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestSQLitePackageRepository_FindMatching_OrderedByExpiry(t *testing.T) {
	sqlDB := setupTestDB(t)
	repo := NewSQLitePackageRepository(sqlDB)
	ctx := context.Background()

	now := time.Now().UTC()
	late := newStoredPackage(t, repo, now.AddDate(0, 0, 60))
	early := newStoredPackage(t, repo, now.AddDate(0, 0, 10))

	found, err := repo.FindMatching(ctx, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, early.ID(), found[0].ID())
	assert.Equal(t, late.ID(), found[1].ID())
}

func TestSQLitePackageRepository_FindSweepCandidates(t *testing.T) {
	sqlDB := setupTestDB(t)
	repo := NewSQLitePackageRepository(sqlDB)
	ctx := context.Background()

	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, 7)

	expiringSoon := newStoredPackage(t, repo, now.AddDate(0, 0, 3))
	newStoredPackage(t, repo, now.AddDate(0, 0, 60)) // outside cutoff

	// Already swept to the expired stage without auto-renew: nothing more to do.
	sweptOut := newStoredPackage(t, repo, now.AddDate(0, 0, -2))
	sweptOut.AdvanceStage(domain.StageExpired, now)
	require.NoError(t, repo.Save(ctx, sweptOut))

	// Expired stage but flagged for auto-renew: still a candidate.
	autoRenewing := newStoredPackage(t, repo, now.AddDate(0, 0, -2))
	autoRenewing.AdvanceStage(domain.StageExpired, now)
	autoRenewing.SetAutoRenew(true)
	require.NoError(t, repo.Save(ctx, autoRenewing))

	found, err := repo.FindSweepCandidates(ctx, cutoff)
	require.NoError(t, err)

	ids := make([]uuid.UUID, 0, len(found))
	for _, p := range found {
		ids = append(ids, p.ID())
	}
	assert.Contains(t, ids, expiringSoon.ID())
	assert.Contains(t, ids, autoRenewing.ID())
	assert.NotContains(t, ids, sweptOut.ID())
	assert.Len(t, found, 2)
}
