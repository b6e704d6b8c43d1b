package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListFilter selects jobs for the paginated history listing.
type ListFilter struct {
	Type    *OperationType
	Status  *OperationStatus
	From    *time.Time
	To      *time.Time
	Page    int
	PerPage int
}

// Repository defines the interface for bulk operation persistence.
//
// Writes to a job row are only accepted while the row is non-terminal, so a
// cancel request and the processing loop cannot overwrite each other's
// terminal state: whichever lands first wins and the loser observes
// ErrAlreadyTerminal.
type Repository interface {
	// Create persists a new pending job.
	Create(ctx context.Context, op *BulkOperation) error

	// Save persists progress and state changes. Returns ErrAlreadyTerminal
	// when the stored row has already reached a terminal state.
	Save(ctx context.Context, op *BulkOperation) error

	// FindByID finds a job by its ID.
	FindByID(ctx context.Context, id uuid.UUID) (*BulkOperation, error)

	// List returns a page of jobs plus the total match count.
	List(ctx context.Context, f ListFilter) ([]*BulkOperation, int, error)

	// RequestCancel atomically flips a pending or in_progress job to
	// cancelled. Returns ErrNotCancellable when the job is already terminal.
	RequestCancel(ctx context.Context, id uuid.UUID, now time.Time) error

	// IsCancelRequested reports whether the stored job has been cancelled.
	// The processing loop polls this between items.
	IsCancelRequested(ctx context.Context, id uuid.UUID) (bool, error)
}
