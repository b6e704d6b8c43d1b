package persistence

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/fitstack/backoffice/internal/packages/domain"
	sharedPersistence "github.com/fitstack/backoffice/internal/shared/infrastructure/persistence"
)

// SQLiteHistoryRepository implements domain.HistoryRepository using SQLite.
type SQLiteHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteHistoryRepository creates a new SQLite history repository.
func NewSQLiteHistoryRepository(db *sql.DB) *SQLiteHistoryRepository {
	return &SQLiteHistoryRepository{db: db}
}

// Record appends one audit entry, joining the caller's transaction when one
// is in the context.
func (r *SQLiteHistoryRepository) Record(ctx context.Context, entry *domain.HistoryEntry) error {
	query := `
		INSERT INTO package_history (
			id, package_id, user_id, action, previous_status, new_status,
			sessions_before, sessions_after, expiry_before, expiry_after,
			notes, actor_id, bulk_operation_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	db := sharedPersistence.SQLiteExecutor(ctx, r.db)
	_, err := db.ExecContext(ctx, query,
		entry.ID.String(),
		entry.PackageID.String(),
		entry.UserID.String(),
		entry.Action,
		string(entry.PreviousStatus),
		string(entry.NewStatus),
		entry.SessionsBefore,
		entry.SessionsAfter,
		formatTime(entry.ExpiryBefore),
		formatTime(entry.ExpiryAfter),
		entry.Notes,
		entry.ActorID.String(),
		formatNullUUID(entry.BulkOperationID),
		formatTime(entry.CreatedAt),
	)
	return err
}

// ListByPackage returns entries for a package, newest first.
func (r *SQLiteHistoryRepository) ListByPackage(ctx context.Context, packageID uuid.UUID) ([]*domain.HistoryEntry, error) {
	query := `
		SELECT id, package_id, user_id, action, previous_status, new_status,
		       sessions_before, sessions_after, expiry_before, expiry_after,
		       notes, actor_id, bulk_operation_id, created_at
		FROM package_history
		WHERE package_id = ?
		ORDER BY created_at DESC
	`

	db := sharedPersistence.SQLiteExecutor(ctx, r.db)
	rows, err := db.QueryContext(ctx, query, packageID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.HistoryEntry
	for rows.Next() {
		entry, err := scanSQLiteHistoryEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func scanSQLiteHistoryEntry(row rowScanner) (*domain.HistoryEntry, error) {
	var (
		entry                        domain.HistoryEntry
		idStr, packageIDStr          string
		userIDStr, actorIDStr        string
		previousStatus, newStatus    string
		expiryBeforeStr              string
		expiryAfterStr, createdAtStr string
		bulkOperationIDStr           sql.NullString
	)

	err := row.Scan(
		&idStr,
		&packageIDStr,
		&userIDStr,
		&entry.Action,
		&previousStatus,
		&newStatus,
		&entry.SessionsBefore,
		&entry.SessionsAfter,
		&expiryBeforeStr,
		&expiryAfterStr,
		&entry.Notes,
		&actorIDStr,
		&bulkOperationIDStr,
		&createdAtStr,
	)
	if err != nil {
		return nil, err
	}

	if entry.ID, err = uuid.Parse(idStr); err != nil {
		return nil, err
	}
	if entry.PackageID, err = uuid.Parse(packageIDStr); err != nil {
		return nil, err
	}
	if entry.UserID, err = uuid.Parse(userIDStr); err != nil {
		return nil, err
	}
	if entry.ActorID, err = uuid.Parse(actorIDStr); err != nil {
		return nil, err
	}
	if bulkOperationIDStr.Valid {
		parsed, err := uuid.Parse(bulkOperationIDStr.String)
		if err != nil {
			return nil, err
		}
		entry.BulkOperationID = &parsed
	}

	if entry.ExpiryBefore, err = parseTime(expiryBeforeStr); err != nil {
		return nil, err
	}
	if entry.ExpiryAfter, err = parseTime(expiryAfterStr); err != nil {
		return nil, err
	}
	if entry.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, err
	}

	entry.PreviousStatus = domain.Status(previousStatus)
	entry.NewStatus = domain.Status(newStatus)
	return &entry, nil
}
