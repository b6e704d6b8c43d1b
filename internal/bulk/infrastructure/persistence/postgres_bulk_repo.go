package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fitstack/backoffice/internal/bulk/domain"
	packagesDomain "github.com/fitstack/backoffice/internal/packages/domain"
	sharedPersistence "github.com/fitstack/backoffice/internal/shared/infrastructure/persistence"
)

// PostgresBulkRepository implements domain.Repository using PostgreSQL.
type PostgresBulkRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresBulkRepository creates a new PostgreSQL bulk operation repository.
func NewPostgresBulkRepository(pool *pgxpool.Pool) *PostgresBulkRepository {
	return &PostgresBulkRepository{pool: pool}
}

const pgBulkColumns = `id, operation_type, actor_id, target_count, successful_count, failed_count,
	status, filters, operation_data, item_errors, started_at, completed_at,
	version, created_at, updated_at`

var terminalStatuses = []string{
	string(domain.StatusCompleted),
	string(domain.StatusCompletedWithErrors),
	string(domain.StatusCancelled),
	string(domain.StatusFailed),
}

// Create persists a new pending job.
func (r *PostgresBulkRepository) Create(ctx context.Context, op *domain.BulkOperation) error {
	filters, operationData, itemErrors, err := marshalJob(op)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO bulk_operations (
			id, operation_type, actor_id, target_count, successful_count, failed_count,
			status, filters, operation_data, item_errors, started_at, completed_at,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	execer := sharedPersistence.Executor(ctx, r.pool)
	_, err = execer.Exec(ctx, query,
		op.ID(),
		string(op.Type()),
		op.ActorID(),
		op.TargetCount(),
		op.SuccessfulCount(),
		op.FailedCount(),
		string(op.Status()),
		filters,
		operationData,
		itemErrors,
		op.StartedAt(),
		op.CompletedAt(),
		op.Version(),
		op.CreatedAt(),
		op.UpdatedAt(),
	)
	return err
}

// Save persists progress. The update only lands while the stored row is
// non-terminal; a row another writer already closed rejects it.
func (r *PostgresBulkRepository) Save(ctx context.Context, op *domain.BulkOperation) error {
	filters, operationData, itemErrors, err := marshalJob(op)
	if err != nil {
		return err
	}

	query := `
		UPDATE bulk_operations SET
			successful_count = $2,
			failed_count = $3,
			status = $4,
			filters = $5,
			operation_data = $6,
			item_errors = $7,
			started_at = $8,
			completed_at = $9,
			version = version + 1,
			updated_at = $10
		WHERE id = $1 AND NOT (status = ANY($11))
	`

	execer := sharedPersistence.Executor(ctx, r.pool)
	tag, err := execer.Exec(ctx, query,
		op.ID(),
		op.SuccessfulCount(),
		op.FailedCount(),
		string(op.Status()),
		filters,
		operationData,
		itemErrors,
		op.StartedAt(),
		op.CompletedAt(),
		op.UpdatedAt(),
		terminalStatuses,
	)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		checkErr := execer.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM bulk_operations WHERE id = $1)`, op.ID(),
		).Scan(&exists)
		if checkErr != nil {
			return checkErr
		}
		if !exists {
			return domain.ErrJobNotFound
		}
		return domain.ErrAlreadyTerminal
	}

	op.SetVersion(op.Version() + 1)
	return nil
}

// FindByID finds a job by its ID.
func (r *PostgresBulkRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.BulkOperation, error) {
	query := `SELECT ` + pgBulkColumns + ` FROM bulk_operations WHERE id = $1`

	execer := sharedPersistence.Executor(ctx, r.pool)
	op, err := scanBulkOperation(execer.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	return op, nil
}

// List returns a page of jobs, newest first, plus the total match count.
func (r *PostgresBulkRepository) List(ctx context.Context, f domain.ListFilter) ([]*domain.BulkOperation, int, error) {
	where := ` WHERE 1=1`
	var args []any

	addArg := func(clause string, value any) {
		args = append(args, value)
		where += fmt.Sprintf(clause, len(args))
	}

	if f.Type != nil {
		addArg(" AND operation_type = $%d", string(*f.Type))
	}
	if f.Status != nil {
		addArg(" AND status = $%d", string(*f.Status))
	}
	if f.From != nil {
		addArg(" AND created_at >= $%d", *f.From)
	}
	if f.To != nil {
		addArg(" AND created_at <= $%d", *f.To)
	}

	execer := sharedPersistence.Executor(ctx, r.pool)
	var total int
	if err := execer.QueryRow(ctx, `SELECT COUNT(*) FROM bulk_operations`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := f.Page
	if page < 1 {
		page = 1
	}
	perPage := f.PerPage
	if perPage < 1 {
		perPage = 20
	}

	query := `SELECT ` + pgBulkColumns + ` FROM bulk_operations` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, perPage, (page-1)*perPage)

	rows, err := execer.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var ops []*domain.BulkOperation
	for rows.Next() {
		op, err := scanBulkOperation(rows)
		if err != nil {
			return nil, 0, err
		}
		ops = append(ops, op)
	}

	return ops, total, rows.Err()
}

// RequestCancel atomically flips a pending or in_progress job to cancelled.
func (r *PostgresBulkRepository) RequestCancel(ctx context.Context, id uuid.UUID, now time.Time) error {
	query := `
		UPDATE bulk_operations SET
			status = $2,
			cancel_requested = TRUE,
			completed_at = $3,
			version = version + 1,
			updated_at = $3
		WHERE id = $1 AND status IN ($4, $5)
	`

	execer := sharedPersistence.Executor(ctx, r.pool)
	tag, err := execer.Exec(ctx, query, id,
		string(domain.StatusCancelled), now,
		string(domain.StatusPending), string(domain.StatusInProgress),
	)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		checkErr := execer.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM bulk_operations WHERE id = $1)`, id,
		).Scan(&exists)
		if checkErr != nil {
			return checkErr
		}
		if !exists {
			return domain.ErrJobNotFound
		}
		return domain.ErrNotCancellable
	}

	return nil
}

// IsCancelRequested reports whether the stored job has been cancelled.
func (r *PostgresBulkRepository) IsCancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	var requested bool
	execer := sharedPersistence.Executor(ctx, r.pool)
	err := execer.QueryRow(ctx,
		`SELECT cancel_requested OR status = $2 FROM bulk_operations WHERE id = $1`,
		id, string(domain.StatusCancelled),
	).Scan(&requested)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, domain.ErrJobNotFound
		}
		return false, err
	}
	return requested, nil
}

func marshalJob(op *domain.BulkOperation) (filters, operationData, itemErrors []byte, err error) {
	filters, err = json.Marshal(op.Filters())
	if err != nil {
		return nil, nil, nil, err
	}
	operationData, err = json.Marshal(op.Spec())
	if err != nil {
		return nil, nil, nil, err
	}
	itemErrors, err = json.Marshal(op.ItemErrors())
	if err != nil {
		return nil, nil, nil, err
	}
	return filters, operationData, itemErrors, nil
}

func scanBulkOperation(row pgx.Row) (*domain.BulkOperation, error) {
	var (
		id, actorID            uuid.UUID
		opType, status         string
		targetCount            int
		successCount, failed   int
		filtersJSON            []byte
		operationJSON          []byte
		errorsJSON             []byte
		startedAt, completedAt *time.Time
		version                int
		createdAt, updatedAt   time.Time
	)

	err := row.Scan(
		&id, &opType, &actorID, &targetCount, &successCount, &failed,
		&status, &filtersJSON, &operationJSON, &errorsJSON, &startedAt, &completedAt,
		&version, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	var filters packagesDomain.Filter
	if err := json.Unmarshal(filtersJSON, &filters); err != nil {
		return nil, err
	}
	var spec domain.OperationSpec
	if err := json.Unmarshal(operationJSON, &spec); err != nil {
		return nil, err
	}
	var itemErrors []domain.ItemError
	if err := json.Unmarshal(errorsJSON, &itemErrors); err != nil {
		return nil, err
	}

	return domain.RehydrateBulkOperation(
		id, domain.OperationType(opType), actorID, targetCount, successCount, failed,
		domain.OperationStatus(status), filters, spec, itemErrors,
		startedAt, completedAt, version, createdAt, updatedAt,
	), nil
}
