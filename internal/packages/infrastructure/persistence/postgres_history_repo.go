package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fitstack/backoffice/internal/packages/domain"
	sharedPersistence "github.com/fitstack/backoffice/internal/shared/infrastructure/persistence"
)

// PostgresHistoryRepository implements domain.HistoryRepository using PostgreSQL.
type PostgresHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresHistoryRepository creates a new PostgreSQL history repository.
func NewPostgresHistoryRepository(pool *pgxpool.Pool) *PostgresHistoryRepository {
	return &PostgresHistoryRepository{pool: pool}
}

// Record appends one audit entry, joining the caller's transaction when one
// is in the context.
func (r *PostgresHistoryRepository) Record(ctx context.Context, entry *domain.HistoryEntry) error {
	query := `
		INSERT INTO package_history (
			id, package_id, user_id, action, previous_status, new_status,
			sessions_before, sessions_after, expiry_before, expiry_after,
			notes, actor_id, bulk_operation_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	execer := sharedPersistence.Executor(ctx, r.pool)
	_, err := execer.Exec(ctx, query,
		entry.ID,
		entry.PackageID,
		entry.UserID,
		entry.Action,
		string(entry.PreviousStatus),
		string(entry.NewStatus),
		entry.SessionsBefore,
		entry.SessionsAfter,
		entry.ExpiryBefore,
		entry.ExpiryAfter,
		entry.Notes,
		entry.ActorID,
		entry.BulkOperationID,
		entry.CreatedAt,
	)
	return err
}

// ListByPackage returns entries for a package, newest first.
func (r *PostgresHistoryRepository) ListByPackage(ctx context.Context, packageID uuid.UUID) ([]*domain.HistoryEntry, error) {
	query := `
		SELECT id, package_id, user_id, action, previous_status, new_status,
		       sessions_before, sessions_after, expiry_before, expiry_after,
		       notes, actor_id, bulk_operation_id, created_at
		FROM package_history
		WHERE package_id = $1
		ORDER BY created_at DESC
	`

	execer := sharedPersistence.Executor(ctx, r.pool)
	rows, err := execer.Query(ctx, query, packageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.HistoryEntry
	for rows.Next() {
		entry, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func scanHistoryEntry(row pgx.Row) (*domain.HistoryEntry, error) {
	var (
		entry                     domain.HistoryEntry
		previousStatus, newStatus string
	)
	err := row.Scan(
		&entry.ID,
		&entry.PackageID,
		&entry.UserID,
		&entry.Action,
		&previousStatus,
		&newStatus,
		&entry.SessionsBefore,
		&entry.SessionsAfter,
		&entry.ExpiryBefore,
		&entry.ExpiryAfter,
		&entry.Notes,
		&entry.ActorID,
		&entry.BulkOperationID,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.PreviousStatus = domain.Status(previousStatus)
	entry.NewStatus = domain.Status(newStatus)
	return &entry, nil
}
