package persistence

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/fitstack/backoffice/internal/packages/domain"
	sharedPersistence "github.com/fitstack/backoffice/internal/shared/infrastructure/persistence"
)

// SQLiteNotificationLogRepository implements domain.NotificationLogRepository
// using SQLite.
type SQLiteNotificationLogRepository struct {
	db *sql.DB
}

// NewSQLiteNotificationLogRepository creates a new SQLite notification log repository.
func NewSQLiteNotificationLogRepository(db *sql.DB) *SQLiteNotificationLogRepository {
	return &SQLiteNotificationLogRepository{db: db}
}

// Record appends one delivery attempt row.
func (r *SQLiteNotificationLogRepository) Record(ctx context.Context, log *domain.NotificationLog) error {
	query := `
		INSERT INTO package_notification_logs (
			id, package_id, user_id, notification_type, channel, success,
			error, days_until_expiry, sent_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	db := sharedPersistence.SQLiteExecutor(ctx, r.db)
	_, err := db.ExecContext(ctx, query,
		log.ID.String(),
		log.PackageID.String(),
		log.UserID.String(),
		string(log.Type),
		log.Channel,
		log.Success,
		log.Error,
		log.DaysUntilExpiry,
		formatTime(log.SentAt),
	)
	return err
}

// ListByPackage returns attempts for a package, newest first.
func (r *SQLiteNotificationLogRepository) ListByPackage(ctx context.Context, packageID uuid.UUID) ([]*domain.NotificationLog, error) {
	query := `
		SELECT id, package_id, user_id, notification_type, channel, success,
		       error, days_until_expiry, sent_at
		FROM package_notification_logs
		WHERE package_id = ?
		ORDER BY sent_at DESC
	`

	db := sharedPersistence.SQLiteExecutor(ctx, r.db)
	rows, err := db.QueryContext(ctx, query, packageID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*domain.NotificationLog
	for rows.Next() {
		var (
			log                 domain.NotificationLog
			idStr, packageIDStr string
			userIDStr           string
			notifType           string
			sentAtStr           string
		)
		err := rows.Scan(
			&idStr,
			&packageIDStr,
			&userIDStr,
			&notifType,
			&log.Channel,
			&log.Success,
			&log.Error,
			&log.DaysUntilExpiry,
			&sentAtStr,
		)
		if err != nil {
			return nil, err
		}

		if log.ID, err = uuid.Parse(idStr); err != nil {
			return nil, err
		}
		if log.PackageID, err = uuid.Parse(packageIDStr); err != nil {
			return nil, err
		}
		if log.UserID, err = uuid.Parse(userIDStr); err != nil {
			return nil, err
		}
		if log.SentAt, err = parseTime(sentAtStr); err != nil {
			return nil, err
		}
		log.Type = domain.NotificationType(notifType)
		logs = append(logs, &log)
	}

	return logs, rows.Err()
}
