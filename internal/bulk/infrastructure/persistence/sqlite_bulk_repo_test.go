package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitstack/backoffice/internal/bulk/domain"
	packagesDomain "github.com/fitstack/backoffice/internal/packages/domain"
	"github.com/fitstack/backoffice/internal/shared/infrastructure/migrations"

	_ "modernc.org/sqlite"
)

func setupBulkTestDB(t *testing.T) *SQLiteBulkRepository {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, migrations.RunSQLiteMigrations(context.Background(), sqlDB))

	return NewSQLiteBulkRepository(sqlDB)
}

func newExtensionJob(t *testing.T, targetCount int) *domain.BulkOperation {
	t.Helper()

	min := 1
	op, err := domain.NewBulkOperation(
		domain.TypeExtension,
		uuid.New(),
		packagesDomain.Filter{MinRemaining: &min, UserSearch: "monthly"},
		domain.OperationSpec{Extension: &packagesDomain.ExtensionSpec{ExtendDays: 14, AddSessions: 2}},
		targetCount,
	)
	require.NoError(t, err)
	return op
}

func TestSQLiteBulkRepository_CreateAndFindByID(t *testing.T) {
	repo := setupBulkTestDB(t)
	ctx := context.Background()

	op := newExtensionJob(t, 5)
	require.NoError(t, repo.Create(ctx, op))

	found, err := repo.FindByID(ctx, op.ID())
	require.NoError(t, err)

	assert.Equal(t, domain.TypeExtension, found.Type())
	assert.Equal(t, domain.StatusPending, found.Status())
	assert.Equal(t, 5, found.TargetCount())
	assert.Equal(t, op.ActorID(), found.ActorID())
	assert.Equal(t, "monthly", found.Filters().UserSearch)
	require.NotNil(t, found.Spec().Extension)
	assert.Equal(t, 14, found.Spec().Extension.ExtendDays)
	assert.Empty(t, found.ItemErrors())
}

func TestSQLiteBulkRepository_SaveProgress(t *testing.T) {
	repo := setupBulkTestDB(t)
	ctx := context.Background()

	op := newExtensionJob(t, 3)
	require.NoError(t, repo.Create(ctx, op))

	now := time.Now().UTC()
	require.NoError(t, op.Start(now))
	op.RecordSuccess()
	op.RecordFailure(uuid.New(), "Monthly 12", "state conflict")
	require.NoError(t, repo.Save(ctx, op))

	found, err := repo.FindByID(ctx, op.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, found.Status())
	assert.Equal(t, 1, found.SuccessfulCount())
	assert.Equal(t, 1, found.FailedCount())
	require.Len(t, found.ItemErrors(), 1)
	assert.Equal(t, "state conflict", found.ItemErrors()[0].Message)
	require.NotNil(t, found.StartedAt())
}

func TestSQLiteBulkRepository_SaveRejectedOnTerminalRow(t *testing.T) {
	repo := setupBulkTestDB(t)
	ctx := context.Background()

	op := newExtensionJob(t, 1)
	require.NoError(t, repo.Create(ctx, op))

	// Another writer cancels the job.
	require.NoError(t, repo.RequestCancel(ctx, op.ID(), time.Now().UTC()))

	// The processing loop's stale copy can no longer write.
	now := time.Now().UTC()
	require.NoError(t, op.Start(now))
	err := repo.Save(ctx, op)
	assert.ErrorIs(t, err, domain.ErrAlreadyTerminal)

	found, err := repo.FindByID(ctx, op.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, found.Status())
}

func TestSQLiteBulkRepository_RequestCancel(t *testing.T) {
	repo := setupBulkTestDB(t)
	ctx := context.Background()

	op := newExtensionJob(t, 2)
	require.NoError(t, repo.Create(ctx, op))

	requested, err := repo.IsCancelRequested(ctx, op.ID())
	require.NoError(t, err)
	assert.False(t, requested)

	require.NoError(t, repo.RequestCancel(ctx, op.ID(), time.Now().UTC()))

	requested, err = repo.IsCancelRequested(ctx, op.ID())
	require.NoError(t, err)
	assert.True(t, requested)

	// Cancelling twice is rejected.
	err = repo.RequestCancel(ctx, op.ID(), time.Now().UTC())
	assert.ErrorIs(t, err, domain.ErrNotCancellable)
}

func TestSQLiteBulkRepository_List(t *testing.T) {
	repo := setupBulkTestDB(t)
	ctx := context.Background()

	for range 3 {
		require.NoError(t, repo.Create(ctx, newExtensionJob(t, 1)))
	}

	pct := 10.0
	pricing, err := domain.NewBulkOperation(
		domain.TypePricingAdjustment,
		uuid.New(),
		packagesDomain.Filter{},
		domain.OperationSpec{Pricing: &packagesDomain.PricingSpec{DiscountPercent: &pct}},
		2,
	)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, pricing))

	ops, total, err := repo.List(ctx, domain.ListFilter{Page: 1, PerPage: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, ops, 4)

	extType := domain.TypeExtension
	ops, total, err = repo.List(ctx, domain.ListFilter{Type: &extType, Page: 1, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, ops, 2)

	pending := domain.StatusPending
	_, total, err = repo.List(ctx, domain.ListFilter{Status: &pending})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
}

func TestSQLiteBulkRepository_FindByID_NotFound(t *testing.T) {
	repo := setupBulkTestDB(t)

	_, err := repo.FindByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}
