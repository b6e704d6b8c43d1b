package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fitstack/backoffice/internal/catalog/domain"
	sharedPersistence "github.com/fitstack/backoffice/internal/shared/infrastructure/persistence"
)

// PostgresTemplateRepository implements domain.Repository using PostgreSQL.
type PostgresTemplateRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresTemplateRepository creates a new PostgreSQL template repository.
func NewPostgresTemplateRepository(pool *pgxpool.Pool) *PostgresTemplateRepository {
	return &PostgresTemplateRepository{pool: pool}
}

const pgTemplateColumns = `id, name, price_cents, session_count, duration_days, active, created_at, updated_at`

// FindByID finds a template by its ID.
func (r *PostgresTemplateRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Template, error) {
	query := `SELECT ` + pgTemplateColumns + ` FROM package_templates WHERE id = $1`

	db := sharedPersistence.Executor(ctx, r.pool)
	tpl, err := scanTemplate(db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTemplateNotFound
		}
		return nil, err
	}

	return tpl, nil
}

// ListActive returns templates currently offered for sale.
func (r *PostgresTemplateRepository) ListActive(ctx context.Context) ([]*domain.Template, error) {
	query := `SELECT ` + pgTemplateColumns + ` FROM package_templates WHERE active = TRUE ORDER BY name`

	db := sharedPersistence.Executor(ctx, r.pool)
	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []*domain.Template
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}

	return templates, rows.Err()
}

// Seed inserts a template if it does not already exist. Used by the migrate
// command to provision a starter catalog.
func (r *PostgresTemplateRepository) Seed(ctx context.Context, tpl *domain.Template) error {
	query := `
		INSERT INTO package_templates (
			id, name, price_cents, session_count, duration_days, active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	db := sharedPersistence.Executor(ctx, r.pool)
	_, err := db.Exec(ctx, query,
		tpl.ID,
		tpl.Name,
		tpl.PriceCents,
		tpl.SessionCount,
		tpl.DurationDays,
		tpl.Active,
		tpl.CreatedAt,
		tpl.UpdatedAt,
	)
	return err
}

func scanTemplate(row pgx.Row) (*domain.Template, error) {
	var tpl domain.Template
	err := row.Scan(
		&tpl.ID,
		&tpl.Name,
		&tpl.PriceCents,
		&tpl.SessionCount,
		&tpl.DurationDays,
		&tpl.Active,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}
