package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fitstack/backoffice/internal/packages/domain"
	sharedPersistence "github.com/fitstack/backoffice/internal/shared/infrastructure/persistence"
)

// PostgresNotificationLogRepository implements domain.NotificationLogRepository
// using PostgreSQL.
type PostgresNotificationLogRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresNotificationLogRepository creates a new PostgreSQL notification log repository.
func NewPostgresNotificationLogRepository(pool *pgxpool.Pool) *PostgresNotificationLogRepository {
	return &PostgresNotificationLogRepository{pool: pool}
}

// Record appends one delivery attempt row.
func (r *PostgresNotificationLogRepository) Record(ctx context.Context, log *domain.NotificationLog) error {
	query := `
		INSERT INTO package_notification_logs (
			id, package_id, user_id, notification_type, channel, success,
			error, days_until_expiry, sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	execer := sharedPersistence.Executor(ctx, r.pool)
	_, err := execer.Exec(ctx, query,
		log.ID,
		log.PackageID,
		log.UserID,
		string(log.Type),
		log.Channel,
		log.Success,
		log.Error,
		log.DaysUntilExpiry,
		log.SentAt,
	)
	return err
}

// ListByPackage returns attempts for a package, newest first.
func (r *PostgresNotificationLogRepository) ListByPackage(ctx context.Context, packageID uuid.UUID) ([]*domain.NotificationLog, error) {
	query := `
		SELECT id, package_id, user_id, notification_type, channel, success,
		       error, days_until_expiry, sent_at
		FROM package_notification_logs
		WHERE package_id = $1
		ORDER BY sent_at DESC
	`

	execer := sharedPersistence.Executor(ctx, r.pool)
	rows, err := execer.Query(ctx, query, packageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*domain.NotificationLog
	for rows.Next() {
		var (
			log       domain.NotificationLog
			notifType string
		)
		err := rows.Scan(
			&log.ID,
			&log.PackageID,
			&log.UserID,
			&notifType,
			&log.Channel,
			&log.Success,
			&log.Error,
			&log.DaysUntilExpiry,
			&log.SentAt,
		)
		if err != nil {
			return nil, err
		}
		log.Type = domain.NotificationType(notifType)
		logs = append(logs, &log)
	}

	return logs, rows.Err()
}
