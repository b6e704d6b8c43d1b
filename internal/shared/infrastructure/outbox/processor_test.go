package outbox

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitstack/backoffice/internal/shared/infrastructure/migrations"

	_ "modernc.org/sqlite"
)

// flakyPublisher records publishes and fails the first failUntil attempts
// per routing key.
type flakyPublisher struct {
	mu        sync.Mutex
	published []string
	failUntil int
	attempts  map[string]int
}

func newFlakyPublisher(failUntil int) *flakyPublisher {
	return &flakyPublisher{failUntil: failUntil, attempts: map[string]int{}}
}

func (p *flakyPublisher) Publish(_ context.Context, routingKey string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.attempts[routingKey]++
	if p.attempts[routingKey] <= p.failUntil {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, routingKey)
	return nil
}

func (p *flakyPublisher) Close() error { return nil }

func setupOutbox(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.RunSQLiteMigrations(context.Background(), db))

	return NewSQLiteRepository(db)
}

func storeMessage(t *testing.T, repo *SQLiteRepository, routingKey string) *Message {
	t.Helper()

	msg := &Message{
		EventID:       uuid.New(),
		AggregateType: "UserPackage",
		AggregateID:   uuid.New(),
		EventType:     routingKey,
		RoutingKey:    routingKey,
		Payload:       []byte(`{"ok":true}`),
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, repo.Save(context.Background(), msg))
	return msg
}

func TestProcessor_PublishesBatch(t *testing.T) {
	repo := setupOutbox(t)
	ctx := context.Background()

	storeMessage(t, repo, "package.frozen")
	storeMessage(t, repo, "package.renewed")

	pub := newFlakyPublisher(0)
	p := NewProcessor(repo, pub, DefaultProcessorConfig(), nil)

	require.NoError(t, p.ProcessOnce(ctx))

	assert.ElementsMatch(t, []string{"package.frozen", "package.renewed"}, pub.published)

	remaining, err := repo.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	stats := p.GetStats()
	assert.Equal(t, uint64(2), stats.PublishedCount)
	assert.Zero(t, stats.FailedCount)
}

func TestProcessor_RetriesWithBackoff(t *testing.T) {
	repo := setupOutbox(t)
	ctx := context.Background()

	msg := storeMessage(t, repo, "package.extended")

	pub := newFlakyPublisher(1)
	p := NewProcessor(repo, pub, DefaultProcessorConfig(), nil)

	// First pass fails and schedules a retry in the future.
	require.NoError(t, p.ProcessOnce(ctx))
	assert.Empty(t, pub.published)

	pending, err := repo.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "message should be backing off")

	// Pull the retry forward and process again; the second attempt lands.
	require.NoError(t, repo.MarkFailed(ctx, msg.ID, "broker unavailable", time.Now().UTC().Add(-time.Second)))
	require.NoError(t, p.ProcessOnce(ctx))
	assert.Equal(t, []string{"package.extended"}, pub.published)

	stats := p.GetStats()
	assert.Equal(t, uint64(1), stats.PublishedCount)
	assert.Equal(t, "broker unavailable", stats.LastError)
}

func TestProcessor_DeadLettersAfterMaxRetries(t *testing.T) {
	repo := setupOutbox(t)
	ctx := context.Background()

	msg := storeMessage(t, repo, "bulk.operation.completed")

	pub := newFlakyPublisher(100)
	cfg := DefaultProcessorConfig()
	cfg.MaxRetries = 2
	p := NewProcessor(repo, pub, cfg, nil)

	// Attempt 1 fails and backs off; pull the retry forward, attempt 2
	// hits the retry limit and dead-letters.
	require.NoError(t, p.ProcessOnce(ctx))
	require.NoError(t, repo.MarkFailed(ctx, msg.ID, "broker unavailable", time.Now().UTC().Add(-time.Second)))
	require.NoError(t, p.ProcessOnce(ctx))

	pending, err := repo.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "dead-lettered message must not be retried")

	stats := p.GetStats()
	assert.Equal(t, uint64(1), stats.DeadCount)
}

func TestProcessor_StartStop(t *testing.T) {
	repo := setupOutbox(t)
	ctx := context.Background()

	storeMessage(t, repo, "package.unfrozen")

	pub := newFlakyPublisher(0)
	cfg := DefaultProcessorConfig()
	cfg.PollInterval = 5 * time.Millisecond
	p := NewProcessor(repo, pub, cfg, nil)

	require.NoError(t, p.Start(ctx))
	assert.True(t, p.IsRunning())

	require.Eventually(t, func() bool {
		return p.GetStats().PublishedCount == 1
	}, time.Second, 5*time.Millisecond)

	p.Stop()
	assert.False(t, p.IsRunning())
}

func TestProcessor_DeleteOldKeepsUnpublished(t *testing.T) {
	repo := setupOutbox(t)
	ctx := context.Background()

	published := storeMessage(t, repo, "package.expired")
	storeMessage(t, repo, "package.frozen")
	require.NoError(t, repo.MarkPublished(ctx, published.ID))

	// Nothing old enough yet.
	deleted, err := repo.DeleteOld(ctx, 14)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	// With zero retention the published row goes, the pending one stays.
	deleted, err = repo.DeleteOld(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	pending, err := repo.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "package.frozen", pending[0].RoutingKey)
}
