package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fitstack/backoffice/internal/catalog/domain"
	sharedPersistence "github.com/fitstack/backoffice/internal/shared/infrastructure/persistence"
)

// SQLiteTemplateRepository implements domain.Repository using SQLite.
type SQLiteTemplateRepository struct {
	db *sql.DB
}

// NewSQLiteTemplateRepository creates a new SQLite template repository.
func NewSQLiteTemplateRepository(db *sql.DB) *SQLiteTemplateRepository {
	return &SQLiteTemplateRepository{db: db}
}

const sqliteTemplateColumns = `id, name, price_cents, session_count, duration_days, active, created_at, updated_at`

// FindByID finds a template by its ID.
func (r *SQLiteTemplateRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Template, error) {
	query := `SELECT ` + sqliteTemplateColumns + ` FROM package_templates WHERE id = ?`

	db := sharedPersistence.SQLiteExecutor(ctx, r.db)
	tpl, err := scanSQLiteTemplate(db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTemplateNotFound
		}
		return nil, err
	}

	return tpl, nil
}

// ListActive returns templates currently offered for sale.
func (r *SQLiteTemplateRepository) ListActive(ctx context.Context) ([]*domain.Template, error) {
	query := `SELECT ` + sqliteTemplateColumns + ` FROM package_templates WHERE active = 1 ORDER BY name`

	db := sharedPersistence.SQLiteExecutor(ctx, r.db)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []*domain.Template
	for rows.Next() {
		tpl, err := scanSQLiteTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}

	return templates, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTemplate(row rowScanner) (*domain.Template, error) {
	var (
		tpl                  domain.Template
		idStr                string
		createdAt, updatedAt string
	)
	err := row.Scan(
		&idStr,
		&tpl.Name,
		&tpl.PriceCents,
		&tpl.SessionCount,
		&tpl.DurationDays,
		&tpl.Active,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	tpl.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	if tpl.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if tpl.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, err
	}

	return &tpl, nil
}

// Seed inserts a template if it does not already exist. Used by the migrate
// command to provision a starter catalog.
func (r *SQLiteTemplateRepository) Seed(ctx context.Context, tpl *domain.Template) error {
	query := `
		INSERT OR IGNORE INTO package_templates (
			id, name, price_cents, session_count, duration_days, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	db := sharedPersistence.SQLiteExecutor(ctx, r.db)
	_, err := db.ExecContext(ctx, query,
		tpl.ID.String(),
		tpl.Name,
		tpl.PriceCents,
		tpl.SessionCount,
		tpl.DurationDays,
		tpl.Active,
		tpl.CreatedAt.UTC().Format(time.RFC3339Nano),
		tpl.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}
