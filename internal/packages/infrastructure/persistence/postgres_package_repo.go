package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fitstack/backoffice/internal/packages/domain"
	sharedPersistence "github.com/fitstack/backoffice/internal/shared/infrastructure/persistence"
)

// PostgresPackageRepository implements domain.Repository using PostgreSQL.
type PostgresPackageRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresPackageRepository creates a new PostgreSQL package repository.
func NewPostgresPackageRepository(pool *pgxpool.Pool) *PostgresPackageRepository {
	return &PostgresPackageRepository{pool: pool}
}

const pgPackageColumns = `id, user_id, catalog_id, name, total_sessions, remaining_sessions,
	assigned_at, expires_at, frozen, frozen_at, unfrozen_at, freeze_duration_days,
	notification_stage, last_notified_at, auto_renew, renewed_from_id, renewed_at,
	version, created_at, updated_at`

// Create persists a new package.
func (r *PostgresPackageRepository) Create(ctx context.Context, p *domain.UserPackage) error {
	query := `
		INSERT INTO user_packages (
			id, user_id, catalog_id, name, total_sessions, remaining_sessions,
			assigned_at, expires_at, status, frozen, frozen_at, unfrozen_at, freeze_duration_days,
			notification_stage, last_notified_at, auto_renew, renewed_from_id, renewed_at,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`

	execer := sharedPersistence.Executor(ctx, r.pool)
	_, err := execer.Exec(ctx, query,
		p.ID(),
		p.UserID(),
		p.CatalogID(),
		p.Name(),
		p.TotalSessions(),
		p.RemainingSessions(),
		p.AssignedAt(),
		p.ExpiresAt(),
		string(p.Status(time.Now().UTC())),
		p.IsFrozen(),
		p.FrozenAt(),
		p.UnfrozenAt(),
		p.FreezeDurationDays(),
		string(p.Stage()),
		p.LastNotifiedAt(),
		p.AutoRenew(),
		p.RenewedFromID(),
		p.RenewedAt(),
		p.Version(),
		p.CreatedAt(),
		p.UpdatedAt(),
	)
	return err
}

// Save persists changes to an existing package. The update only lands when
// the stored version still matches the one this aggregate was loaded at.
func (r *PostgresPackageRepository) Save(ctx context.Context, p *domain.UserPackage) error {
	query := `
		UPDATE user_packages SET
			total_sessions = $2,
			remaining_sessions = $3,
			expires_at = $4,
			status = $5,
			frozen = $6,
			frozen_at = $7,
			unfrozen_at = $8,
			freeze_duration_days = $9,
			notification_stage = $10,
			last_notified_at = $11,
			auto_renew = $12,
			renewed_from_id = $13,
			renewed_at = $14,
			version = version + 1,
			updated_at = $15
		WHERE id = $1 AND version = $16
	`

	execer := sharedPersistence.Executor(ctx, r.pool)
	tag, err := execer.Exec(ctx, query,
		p.ID(),
		p.TotalSessions(),
		p.RemainingSessions(),
		p.ExpiresAt(),
		string(p.Status(time.Now().UTC())),
		p.IsFrozen(),
		p.FrozenAt(),
		p.UnfrozenAt(),
		p.FreezeDurationDays(),
		string(p.Stage()),
		p.LastNotifiedAt(),
		p.AutoRenew(),
		p.RenewedFromID(),
		p.RenewedAt(),
		p.UpdatedAt(),
		p.Version(),
	)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		checkErr := execer.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM user_packages WHERE id = $1)`, p.ID(),
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
func (r *PostgresPackageRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.UserPackage, error) {
	query := `SELECT ` + pgPackageColumns + ` FROM user_packages WHERE id = $1`

	execer := sharedPersistence.Executor(ctx, r.pool)
	p, err := scanPackage(execer.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPackageNotFound
		}
		return nil, err
	}
	return p, nil
}

// FindByUserID finds all packages for a member, newest assignment first.
func (r *PostgresPackageRepository) FindByUserID(ctx context.Context, userID uuid.UUID) ([]*domain.UserPackage, error) {
	query := `SELECT ` + pgPackageColumns + ` FROM user_packages WHERE user_id = $1 ORDER BY assigned_at DESC`

	execer := sharedPersistence.Executor(ctx, r.pool)
	rows, err := execer.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectPackages(rows)
}

// FindMatching resolves the packages a filter selects, ordered by expiry
// then ID. Column predicates run in SQL; the status predicate is derived
// state and is applied in memory so it lives in one place.
func (r *PostgresPackageRepository) FindMatching(ctx context.Context, f domain.Filter) ([]*domain.UserPackage, error) {
	query := `SELECT ` + pgPackageColumns + ` FROM user_packages WHERE 1=1`
	var args []any

	addArg := func(clause string, value any) {
		args = append(args, value)
		query += fmt.Sprintf(clause, len(args))
	}

	if f.CatalogID != nil {
		addArg(" AND catalog_id = $%d", *f.CatalogID)
	}
	if f.ExpiresFrom != nil {
		addArg(" AND expires_at >= $%d", *f.ExpiresFrom)
	}
	if f.ExpiresTo != nil {
		addArg(" AND expires_at <= $%d", *f.ExpiresTo)
	}
	if f.MinRemaining != nil {
		addArg(" AND remaining_sessions >= $%d", *f.MinRemaining)
	}
	if f.MaxRemaining != nil {
		addArg(" AND remaining_sessions <= $%d", *f.MaxRemaining)
	}
	if f.UserSearch != "" {
		addArg(" AND (name ILIKE $%d", "%"+f.UserSearch+"%")
		addArg(" OR user_id::text ILIKE $%d)", "%"+f.UserSearch+"%")
	}
	if f.AutoRenew != nil {
		addArg(" AND auto_renew = $%d", *f.AutoRenew)
	}

	query += " ORDER BY expires_at, id"

	execer := sharedPersistence.Executor(ctx, r.pool)
	rows, err := execer.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pkgs, err := collectPackages(rows)
	if err != nil {
		return nil, err
	}

	return filterByStatus(pkgs, f.Status, time.Now().UTC()), nil
}

// FindSweepCandidates returns open packages the expiry sweep must look at.
func (r *PostgresPackageRepository) FindSweepCandidates(ctx context.Context, cutoff time.Time) ([]*domain.UserPackage, error) {
	query := `
		SELECT ` + pgPackageColumns + `
		FROM user_packages
		WHERE renewed_at IS NULL
		  AND expires_at <= $1
		  AND (notification_stage <> $2 OR auto_renew)
		ORDER BY expires_at, id
	`

	execer := sharedPersistence.Executor(ctx, r.pool)
	rows, err := execer.Query(ctx, query, cutoff, string(domain.StageExpired))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectPackages(rows)
}

func collectPackages(rows pgx.Rows) ([]*domain.UserPackage, error) {
	var pkgs []*domain.UserPackage
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		pkgs = append(pkgs, p)
	}
	return pkgs, rows.Err()
}

func filterByStatus(pkgs []*domain.UserPackage, status *domain.Status, now time.Time) []*domain.UserPackage {
	if status == nil {
		return pkgs
	}
	matched := make([]*domain.UserPackage, 0, len(pkgs))
	for _, p := range pkgs {
		if p.Status(now) == *status {
			matched = append(matched, p)
		}
	}
	return matched
}

func scanPackage(row pgx.Row) (*domain.UserPackage, error) {
	var (
		id, userID, catalogID uuid.UUID
		name                  string
		totalSessions         int
		remainingSessions     int
		assignedAt, expiresAt time.Time
		frozen                bool
		frozenAt, unfrozenAt  *time.Time
		freezeDurationDays    *int
		stage                 string
		lastNotifiedAt        *time.Time
		autoRenew             bool
		renewedFromID         *uuid.UUID
		renewedAt             *time.Time
		version               int
		createdAt, updatedAt  time.Time
	)

	err := row.Scan(
		&id, &userID, &catalogID, &name, &totalSessions, &remainingSessions,
		&assignedAt, &expiresAt, &frozen, &frozenAt, &unfrozenAt, &freezeDurationDays,
		&stage, &lastNotifiedAt, &autoRenew, &renewedFromID, &renewedAt,
		&version, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	return domain.RehydrateUserPackage(
		id, userID, catalogID, name, totalSessions, remainingSessions,
		assignedAt, expiresAt, frozen, frozenAt, unfrozenAt, freezeDurationDays,
		domain.NotificationStage(stage), lastNotifiedAt, autoRenew, renewedFromID, renewedAt,
		version, createdAt, updatedAt,
	), nil
}
