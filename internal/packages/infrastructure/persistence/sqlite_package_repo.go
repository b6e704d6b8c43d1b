package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fitstack/backoffice/internal/packages/domain"
	sharedPersistence "github.com/fitstack/backoffice/internal/shared/infrastructure/persistence"
)

// SQLitePackageRepository implements domain.Repository using SQLite.
type SQLitePackageRepository struct {
	db *sql.DB
}

// NewSQLitePackageRepository creates a new SQLite package repository.
func NewSQLitePackageRepository(db *sql.DB) *SQLitePackageRepository {
	return &SQLitePackageRepository{db: db}
}

const sqlitePackageColumns = `id, user_id, catalog_id, name, total_sessions, remaining_sessions,
	assigned_at, expires_at, frozen, frozen_at, unfrozen_at, freeze_duration_days,
	notification_stage, last_notified_at, auto_renew, renewed_from_id, renewed_at,
	version, created_at, updated_at`

// Create persists a new package.
func (r *SQLitePackageRepository) Create(ctx context.Context, p *domain.UserPackage) error {
	query := `
		INSERT INTO user_packages (
			id, user_id, catalog_id, name, total_sessions, remaining_sessions,
			assigned_at, expires_at, status, frozen, frozen_at, unfrozen_at, freeze_duration_days,
			notification_stage, last_notified_at, auto_renew, renewed_from_id, renewed_at,
			version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	db := sharedPersistence.SQLiteExecutor(ctx, r.db)
	_, err := db.ExecContext(ctx, query,
		p.ID().String(),
		p.UserID().String(),
		p.CatalogID().String(),
		p.Name(),
		p.TotalSessions(),
		p.RemainingSessions(),
		formatTime(p.AssignedAt()),
		formatTime(p.ExpiresAt()),
		string(p.Status(time.Now().UTC())),
		p.IsFrozen(),
		formatNullTime(p.FrozenAt()),
		formatNullTime(p.UnfrozenAt()),
		p.FreezeDurationDays(),
		string(p.Stage()),
		formatNullTime(p.LastNotifiedAt()),
		p.AutoRenew(),
		formatNullUUID(p.RenewedFromID()),
		formatNullTime(p.RenewedAt()),
		p.Version(),
		formatTime(p.CreatedAt()),
		formatTime(p.UpdatedAt()),
	)
	return err
}

// Save persists changes to an existing package under an optimistic version
// check.
func (r *SQLitePackageRepository) Save(ctx context.Context, p *domain.UserPackage) error {
	query := `
		UPDATE user_packages SET
			total_sessions = ?,
			remaining_sessions = ?,
			expires_at = ?,
			status = ?,
			frozen = ?,
			frozen_at = ?,
			unfrozen_at = ?,
			freeze_duration_days = ?,
			notification_stage = ?,
			last_notified_at = ?,
			auto_renew = ?,
			renewed_from_id = ?,
			renewed_at = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ?
	`

	db := sharedPersistence.SQLiteExecutor(ctx, r.db)
	res, err := db.ExecContext(ctx, query,
		p.TotalSessions(),
		p.RemainingSessions(),
		formatTime(p.ExpiresAt()),
		string(p.Status(time.Now().UTC())),
		p.IsFrozen(),
		formatNullTime(p.FrozenAt()),
		formatNullTime(p.UnfrozenAt()),
		p.FreezeDurationDays(),
		string(p.Stage()),
		formatNullTime(p.LastNotifiedAt()),
		p.AutoRenew(),
		formatNullUUID(p.RenewedFromID()),
		formatNullTime(p.RenewedAt()),
		formatTime(p.UpdatedAt()),
		p.ID().String(),
		p.Version(),
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		checkErr := db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM user_packages WHERE id = ?)`, p.ID().String(),
		).Scan(&exists)
		if checkErr != nil {
			return checkErr
		}
		if !exists {
			return domain.ErrPackageNotFound
		}
		return domain.ErrVersionConflict
	}

	p.SetVersion(p.Version() + 1)
	return nil
}

// FindByID finds a package by its ID.
func (r *SQLitePackageRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.UserPackage, error) {
	query := `SELECT ` + sqlitePackageColumns + ` FROM user_packages WHERE id = ?`

	db := sharedPersistence.SQLiteExecutor(ctx, r.db)
	p, err := scanSQLitePackage(db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPackageNotFound
		}
		return nil, err
	}
	return p, nil
}

// FindByUserID finds all packages for a member, newest assignment first.
func (r *SQLitePackageRepository) FindByUserID(ctx context.Context, userID uuid.UUID) ([]*domain.UserPackage, error) {
	query := `SELECT ` + sqlitePackageColumns + ` FROM user_packages WHERE user_id = ? ORDER BY assigned_at DESC`

	db := sharedPersistence.SQLiteExecutor(ctx, r.db)
	rows, err := db.QueryContext(ctx, query, userID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSQLitePackages(rows)
}

// FindMatching resolves the packages a filter selects, ordered by expiry
// then ID. The status predicate is applied in memory, same as the Postgres
// implementation: the stored status column is a write-time cache and can lag
// behind the clock, so decisions recompute from expires_at.
func (r *SQLitePackageRepository) FindMatching(ctx context.Context, f domain.Filter) ([]*domain.UserPackage, error) {
	query := `SELECT ` + sqlitePackageColumns + ` FROM user_packages WHERE 1=1`
	var args []any

	if f.CatalogID != nil {
		query += ` AND catalog_id = ?`
		args = append(args, f.CatalogID.String())
	}
	if f.ExpiresFrom != nil {
		query += ` AND expires_at >= ?`
		args = append(args, formatTime(*f.ExpiresFrom))
	}
	if f.ExpiresTo != nil {
		query += ` AND expires_at <= ?`
		args = append(args, formatTime(*f.ExpiresTo))
	}
	if f.MinRemaining != nil {
		query += ` AND remaining_sessions >= ?`
		args = append(args, *f.MinRemaining)
	}
	if f.MaxRemaining != nil {
		query += ` AND remaining_sessions <= ?`
		args = append(args, *f.MaxRemaining)
	}
	if f.UserSearch != "" {
		pattern := "%" + strings.ToLower(f.UserSearch) + "%"
		query += ` AND (LOWER(name) LIKE ? OR LOWER(user_id) LIKE ?)`
		args = append(args, pattern, pattern)
	}
	if f.AutoRenew != nil {
		query += ` AND auto_renew = ?`
		args = append(args, *f.AutoRenew)
	}

	query += ` ORDER BY expires_at, id`

	db := sharedPersistence.SQLiteExecutor(ctx, r.db)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pkgs, err := collectSQLitePackages(rows)
	if err != nil {
		return nil, err
	}

	return filterByStatus(pkgs, f.Status, time.Now().UTC()), nil
}

// FindSweepCandidates returns open packages the expiry sweep must look at.
func (r *SQLitePackageRepository) FindSweepCandidates(ctx context.Context, cutoff time.Time) ([]*domain.UserPackage, error) {
	query := `
		SELECT ` + sqlitePackageColumns + `
		FROM user_packages
		WHERE renewed_at IS NULL
		  AND expires_at <= ?
		  AND (notification_stage <> ? OR auto_renew = 1)
		ORDER BY expires_at, id
	`

	db := sharedPersistence.SQLiteExecutor(ctx, r.db)
	rows, err := db.QueryContext(ctx, query, formatTime(cutoff), string(domain.StageExpired))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSQLitePackages(rows)
}

func collectSQLitePackages(rows *sql.Rows) ([]*domain.UserPackage, error) {
	var pkgs []*domain.UserPackage
	for rows.Next() {
		p, err := scanSQLitePackage(rows)
		if err != nil {
			return nil, err
		}
		pkgs = append(pkgs, p)
	}
	return pkgs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLitePackage(row rowScanner) (*domain.UserPackage, error) {
	var (
		idStr, userIDStr, catalogIDStr string
		name                           string
		totalSessions                  int
		remainingSessions              int
		assignedAtStr, expiresAtStr    string
		frozen                         bool
		frozenAtStr, unfrozenAtStr     sql.NullString
		freezeDurationDays             sql.NullInt64
		stage                          string
		lastNotifiedAtStr              sql.NullString
		autoRenew                      bool
		renewedFromIDStr               sql.NullString
		renewedAtStr                   sql.NullString
		version                        int
		createdAtStr, updatedAtStr     string
	)

	err := row.Scan(
		&idStr, &userIDStr, &catalogIDStr, &name, &totalSessions, &remainingSessions,
		&assignedAtStr, &expiresAtStr, &frozen, &frozenAtStr, &unfrozenAtStr, &freezeDurationDays,
		&stage, &lastNotifiedAtStr, &autoRenew, &renewedFromIDStr, &renewedAtStr,
		&version, &createdAtStr, &updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil, err
	}
	catalogID, err := uuid.Parse(catalogIDStr)
	if err != nil {
		return nil, err
	}

	assignedAt, err := parseTime(assignedAtStr)
	if err != nil {
		return nil, err
	}
	expiresAt, err := parseTime(expiresAtStr)
	if err != nil {
		return nil, err
	}
	createdAt, err := parseTime(createdAtStr)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime(updatedAtStr)
	if err != nil {
		return nil, err
	}

	frozenAt, err := parseNullTime(frozenAtStr)
	if err != nil {
		return nil, err
	}
	unfrozenAt, err := parseNullTime(unfrozenAtStr)
	if err != nil {
		return nil, err
	}
	lastNotifiedAt, err := parseNullTime(lastNotifiedAtStr)
	if err != nil {
		return nil, err
	}
	renewedAt, err := parseNullTime(renewedAtStr)
	if err != nil {
		return nil, err
	}

	var renewedFromID *uuid.UUID
	if renewedFromIDStr.Valid {
		parsed, err := uuid.Parse(renewedFromIDStr.String)
		if err != nil {
			return nil, err
		}
		renewedFromID = &parsed
	}

	var freezeDays *int
	if freezeDurationDays.Valid {
		d := int(freezeDurationDays.Int64)
		freezeDays = &d
	}

	return domain.RehydrateUserPackage(
		id, userID, catalogID, name, totalSessions, remainingSessions,
		assignedAt, expiresAt, frozen, frozenAt, unfrozenAt, freezeDays,
		domain.NotificationStage(stage), lastNotifiedAt, autoRenew, renewedFromID, renewedAt,
		version, createdAt, updatedAt,
	), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func formatNullUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
