package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitstack/backoffice/internal/packages/domain"
)

func TestSQLiteHistoryRepository_RecordAndList(t *testing.T) {
	sqlDB := setupTestDB(t)
	pkgRepo := NewSQLitePackageRepository(sqlDB)
	repo := NewSQLiteHistoryRepository(sqlDB)
	ctx := context.Background()

	p := newStoredPackage(t, pkgRepo, time.Now().UTC().AddDate(0, 0, 30))
	actorID := uuid.New()

	first := domain.NewHistoryEntry(p, domain.HistoryFrozen,
		domain.StatusActive, domain.StatusFrozen,
		p.RemainingSessions(), p.ExpiresAt(), actorID, "member request")
	require.NoError(t, repo.Record(ctx, first))

	second := domain.NewHistoryEntry(p, domain.HistoryUnfrozen,
		domain.StatusFrozen, domain.StatusActive,
		p.RemainingSessions(), p.ExpiresAt(), actorID, "")
	second.CreatedAt = second.CreatedAt.Add(time.Second)
	jobID := uuid.New()
	second.TagBulkOperation(jobID)
	require.NoError(t, repo.Record(ctx, second))

	entries, err := repo.ListByPackage(ctx, p.ID())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first.
	assert.Equal(t, domain.HistoryUnfrozen, entries[0].Action)
	assert.Equal(t, domain.HistoryFrozen, entries[1].Action)

	require.NotNil(t, entries[0].BulkOperationID)
	assert.Equal(t, jobID, *entries[0].BulkOperationID)
	assert.Nil(t, entries[1].BulkOperationID)

	assert.Equal(t, p.ID(), entries[1].PackageID)
	assert.Equal(t, p.UserID(), entries[1].UserID)
	assert.Equal(t, actorID, entries[1].ActorID)
	assert.Equal(t, domain.StatusActive, entries[1].PreviousStatus)
	assert.Equal(t, domain.StatusFrozen, entries[1].NewStatus)
	assert.Equal(t, "member request", entries[1].Notes)
}

func TestSQLiteNotificationLogRepository_RecordAndList(t *testing.T) {
	sqlDB := setupTestDB(t)
	pkgRepo := NewSQLitePackageRepository(sqlDB)
	repo := NewSQLiteNotificationLogRepository(sqlDB)
	ctx := context.Background()

	p := newStoredPackage(t, pkgRepo, time.Now().UTC().AddDate(0, 0, 5))

	ok := domain.NewNotificationLog(p, domain.NotifyExpiring7, "email", 5, nil)
	require.NoError(t, repo.Record(ctx, ok))

	failed := domain.NewNotificationLog(p, domain.NotifyExpiring3, "email", 2, assert.AnError)
	failed.SentAt = failed.SentAt.Add(time.Second)
	require.NoError(t, repo.Record(ctx, failed))

	logs, err := repo.ListByPackage(ctx, p.ID())
	require.NoError(t, err)
	require.Len(t, logs, 2)

	assert.Equal(t, domain.NotifyExpiring3, logs[0].Type)
	assert.False(t, logs[0].Success)
	assert.NotEmpty(t, logs[0].Error)

	assert.Equal(t, domain.NotifyExpiring7, logs[1].Type)
	assert.True(t, logs[1].Success)
	assert.Empty(t, logs[1].Error)
	assert.Equal(t, 5, logs[1].DaysUntilExpiry)
	assert.Equal(t, "email", logs[1].Channel)
}
