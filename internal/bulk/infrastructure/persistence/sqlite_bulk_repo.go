package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fitstack/backoffice/internal/bulk/domain"
	packagesDomain "github.com/fitstack/backoffice/internal/packages/domain"
	sharedPersistence "github.com/fitstack/backoffice/internal/shared/infrastructure/persistence"
)

// SQLiteBulkRepository implements domain.Repository using SQLite.
type SQLiteBulkRepository struct {
	db *sql.DB
}

// NewSQLiteBulkRepository creates a new SQLite bulk operation repository.
func NewSQLiteBulkRepository(db *sql.DB) *SQLiteBulkRepository {
	return &SQLiteBulkRepository{db: db}
}

const sqliteBulkColumns = `id, operation_type, actor_id, target_count, successful_count, failed_count,
	status, filters, operation_data, item_errors, started_at, completed_at,
	version, created_at, updated_at`

const sqliteNonTerminal = `status NOT IN ('completed', 'completed_with_errors', 'cancelled', 'failed')`

// Create persists a new pending job.
func (r *SQLiteBulkRepository) Create(ctx context.Context, op *domain.BulkOperation) error {
	filters, operationData, itemErrors, err := marshalJob(op)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO bulk_operations (
			id, operation_type, actor_id, target_count, successful_count, failed_count,
			status, filters, operation_data, item_errors, started_at, completed_at,
			version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	db := sharedPersistence.SQLiteExecutor(ctx, r.db)
	_, err = db.ExecContext(ctx, query,
		op.ID().String(),
		string(op.Type()),
		op.ActorID().String(),
		op.TargetCount(),
		op.SuccessfulCount(),
		op.FailedCount(),
		string(op.Status()),
		string(filters),
		string(operationData),
		string(itemErrors),
		formatNullTime(op.StartedAt()),
		formatNullTime(op.CompletedAt()),
		op.Version(),
		formatTime(op.CreatedAt()),
		formatTime(op.UpdatedAt()),
	)
	return err
}

// Save persists progress. The update only lands while the stored row is
// non-terminal.
func (r *SQLiteBulkRepository) Save(ctx context.Context, op *domain.BulkOperation) error {
	filters, operationData, itemErrors, err := marshalJob(op)
	if err != nil {
		return err
	}

	query := `
		UPDATE bulk_operations SET
			successful_count = ?,
			failed_count = ?,
			status = ?,
			filters = ?,
			operation_data = ?,
			item_errors = ?,
			started_at = ?,
			completed_at = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND ` + sqliteNonTerminal

	db := sharedPersistence.SQLiteExecutor(ctx, r.db)
	res, err := db.ExecContext(ctx, query,
		op.SuccessfulCount(),
		op.FailedCount(),
		string(op.Status()),
		string(filters),
		string(operationData),
		string(itemErrors),
		formatNullTime(op.StartedAt()),
		formatNullTime(op.CompletedAt()),
		formatTime(op.UpdatedAt()),
		op.ID().String(),
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
			`SELECT EXISTS (SELECT 1 FROM bulk_operations WHERE id = ?)`, op.ID().String(),
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
func (r *SQLiteBulkRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.BulkOperation, error) {
	query := `SELECT ` + sqliteBulkColumns + ` FROM bulk_operations WHERE id = ?`

	db := sharedPersistence.SQLiteExecutor(ctx, r.db)
	op, err := scanSQLiteBulkOperation(db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	return op, nil
}

// List returns a page of jobs, newest first, plus the total match count.
func (r *SQLiteBulkRepository) List(ctx context.Context, f domain.ListFilter) ([]*domain.BulkOperation, int, error) {
	where := ` WHERE 1=1`
	var args []any

	if f.Type != nil {
		where += ` AND operation_type = ?`
		args = append(args, string(*f.Type))
	}
	if f.Status != nil {
		where += ` AND status = ?`
		args = append(args, string(*f.Status))
	}
	if f.From != nil {
		where += ` AND created_at >= ?`
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		where += ` AND created_at <= ?`
		args = append(args, formatTime(*f.To))
	}

	db := sharedPersistence.SQLiteExecutor(ctx, r.db)
	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bulk_operations`+where, args...).Scan(&total); err != nil {
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

	query := `SELECT ` + sqliteBulkColumns + ` FROM bulk_operations` + where +
		` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, perPage, (page-1)*perPage)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var ops []*domain.BulkOperation
	for rows.Next() {
		op, err := scanSQLiteBulkOperation(rows)
		if err != nil {
			return nil, 0, err
		}
		ops = append(ops, op)
	}

	return ops, total, rows.Err()
}

// RequestCancel atomically flips a pending or in_progress job to cancelled.
func (r *SQLiteBulkRepository) RequestCancel(ctx context.Context, id uuid.UUID, now time.Time) error {
	query := `
		UPDATE bulk_operations SET
			status = ?,
			cancel_requested = 1,
			completed_at = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`

	db := sharedPersistence.SQLiteExecutor(ctx, r.db)
	res, err := db.ExecContext(ctx, query,
		string(domain.StatusCancelled),
		formatTime(now),
		formatTime(now),
		id.String(),
		string(domain.StatusPending),
		string(domain.StatusInProgress),
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
			`SELECT EXISTS (SELECT 1 FROM bulk_operations WHERE id = ?)`, id.String(),
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
func (r *SQLiteBulkRepository) IsCancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	db := sharedPersistence.SQLiteExecutor(ctx, r.db)
	var requested bool
	err := db.QueryRowContext(ctx,
		`SELECT cancel_requested OR status = ? FROM bulk_operations WHERE id = ?`,
		string(domain.StatusCancelled), id.String(),
	).Scan(&requested)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, domain.ErrJobNotFound
		}
		return false, err
	}
	return requested, nil
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

func scanSQLiteBulkOperation(row interface{ Scan(dest ...any) error }) (*domain.BulkOperation, error) {
	var (
		idStr, actorIDStr          string
		opType, status             string
		targetCount                int
		successCount, failedCount  int
		filtersJSON                string
		operationJSON              string
		errorsJSON                 string
		startedAtStr               sql.NullString
		completedAtStr             sql.NullString
		version                    int
		createdAtStr, updatedAtStr string
	)

	err := row.Scan(
		&idStr, &opType, &actorIDStr, &targetCount, &successCount, &failedCount,
		&status, &filtersJSON, &operationJSON, &errorsJSON, &startedAtStr, &completedAtStr,
		&version, &createdAtStr, &updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	actorID, err := uuid.Parse(actorIDStr)
	if err != nil {
		return nil, err
	}

	var filters packagesDomain.Filter
	if err := json.Unmarshal([]byte(filtersJSON), &filters); err != nil {
		return nil, err
	}
	var spec domain.OperationSpec
	if err := json.Unmarshal([]byte(operationJSON), &spec); err != nil {
		return nil, err
	}
	var itemErrors []domain.ItemError
	if err := json.Unmarshal([]byte(errorsJSON), &itemErrors); err != nil {
		return nil, err
	}

	createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, err
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, updatedAtStr)
	if err != nil {
		return nil, err
	}

	var startedAt, completedAt *time.Time
	if startedAtStr.Valid {
		t, err := time.Parse(time.RFC3339Nano, startedAtStr.String)
		if err != nil {
			return nil, err
		}
		startedAt = &t
	}
	if completedAtStr.Valid {
		t, err := time.Parse(time.RFC3339Nano, completedAtStr.String)
		if err != nil {
			return nil, err
		}
		completedAt = &t
	}

	return domain.RehydrateBulkOperation(
		id, domain.OperationType(opType), actorID, targetCount, successCount, failedCount,
		domain.OperationStatus(status), filters, spec, itemErrors,
		startedAt, completedAt, version, createdAt, updatedAt,
	), nil
}
