package domain

import (
	"errors"
	"math"
	"time"

	packagesDomain "github.com/fitstack/backoffice/internal/packages/domain"
	sharedDomain "github.com/fitstack/backoffice/internal/shared/domain"
	"github.com/google/uuid"
)

var (
	ErrJobNotFound     = errors.New("bulk operation not found")
	ErrNotCancellable  = errors.New("bulk operation is already terminal")
	ErrAlreadyStarted  = errors.New("bulk operation already started")
	ErrAlreadyTerminal = errors.New("bulk operation already reached a terminal state")
	ErrMissingSpec     = errors.New("bulk operation carries no operation spec")
)

// OperationType identifies what a batch job does to each matched package.
type OperationType string

const (
	TypeExtension         OperationType = "extension"
	TypePricingAdjustment OperationType = "pricing_adjustment"
)

// IsValid checks if the operation type is known.
func (t OperationType) IsValid() bool {
	return t == TypeExtension || t == TypePricingAdjustment
}

// OperationStatus is the batch job lifecycle state. Transitions are
// one-directional; no terminal state is re-enterable.
type OperationStatus string

const (
	StatusPending             OperationStatus = "pending"
	StatusInProgress          OperationStatus = "in_progress"
	StatusCompleted           OperationStatus = "completed"
	StatusCompletedWithErrors OperationStatus = "completed_with_errors"
	StatusCancelled           OperationStatus = "cancelled"
	StatusFailed              OperationStatus = "failed"
)

// IsValid checks if the status is known.
func (s OperationStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCompletedWithErrors, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status accepts no further transitions.
func (s OperationStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithErrors, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// ItemError records one matched package whose mutation failed. The batch
// keeps going; the error list is the operator's view of what was skipped.
type ItemError struct {
	ItemID    uuid.UUID `json:"item_id"`
	ItemLabel string    `json:"item_label"`
	Message   string    `json:"error_message"`
}

// OperationSpec is the parameters snapshot a job carries: exactly one of
// Extension or Pricing, matching the operation type.
type OperationSpec struct {
	Extension *packagesDomain.ExtensionSpec `json:"extension,omitempty"`
	Pricing   *packagesDomain.PricingSpec   `json:"pricing,omitempty"`
}

// Validate checks the spec against the given type.
func (s OperationSpec) Validate(t OperationType) error {
	switch t {
	case TypeExtension:
		if s.Extension == nil {
			return ErrMissingSpec
		}
		return s.Extension.Validate()
	case TypePricingAdjustment:
		if s.Pricing == nil {
			return ErrMissingSpec
		}
		return s.Pricing.Validate()
	default:
		return ErrMissingSpec
	}
}

// BulkOperation is one batch job: a filter snapshot, an operation parameters
// snapshot, and live per-item progress. The error list is owned by the job
// as an embedded value.
type BulkOperation struct {
	sharedDomain.BaseAggregateRoot
	opType          OperationType
	actorID         uuid.UUID
	targetCount     int
	successfulCount int
	failedCount     int
	status          OperationStatus
	filters         packagesDomain.Filter
	spec            OperationSpec
	itemErrors      []ItemError
	startedAt       *time.Time
	completedAt     *time.Time
}

// NewBulkOperation creates a pending job over a resolved match set. The
// target count is fixed once computed and never changes afterwards.
func NewBulkOperation(opType OperationType, actorID uuid.UUID, filters packagesDomain.Filter, spec OperationSpec, targetCount int) (*BulkOperation, error) {
	if !opType.IsValid() {
		return nil, ErrMissingSpec
	}
	if err := spec.Validate(opType); err != nil {
		return nil, err
	}

	return &BulkOperation{
		BaseAggregateRoot: sharedDomain.NewBaseAggregateRoot(),
		opType:            opType,
		actorID:           actorID,
		targetCount:       targetCount,
		status:            StatusPending,
		filters:           filters,
		spec:              spec,
		itemErrors:        make([]ItemError, 0),
	}, nil
}

// Getters
func (b *BulkOperation) Type() OperationType            { return b.opType }
func (b *BulkOperation) ActorID() uuid.UUID             { return b.actorID }
func (b *BulkOperation) TargetCount() int               { return b.targetCount }
func (b *BulkOperation) SuccessfulCount() int           { return b.successfulCount }
func (b *BulkOperation) FailedCount() int               { return b.failedCount }
func (b *BulkOperation) Status() OperationStatus        { return b.status }
func (b *BulkOperation) Filters() packagesDomain.Filter { return b.filters }
func (b *BulkOperation) Spec() OperationSpec            { return b.spec }
func (b *BulkOperation) ItemErrors() []ItemError        { return b.itemErrors }
func (b *BulkOperation) StartedAt() *time.Time          { return b.startedAt }
func (b *BulkOperation) CompletedAt() *time.Time        { return b.completedAt }

// AttemptedCount returns how many items have been processed so far.
func (b *BulkOperation) AttemptedCount() int {
	return b.successfulCount + b.failedCount
}

// ProgressPercentage returns attempted/target as a percentage rounded to
// two decimal places. An empty job reads as fully processed.
func (b *BulkOperation) ProgressPercentage() float64 {
	if b.targetCount == 0 {
		return 100
	}
	pct := 100 * float64(b.AttemptedCount()) / float64(b.targetCount)
	return math.Round(pct*100) / 100
}

// Start flips the job to in_progress when the first item is picked up.
func (b *BulkOperation) Start(now time.Time) error {
	if b.status != StatusPending {
		return ErrAlreadyStarted
	}
	b.status = StatusInProgress
	b.startedAt = &now
	b.Touch()
	return nil
}

// RecordSuccess counts one successfully mutated item.
func (b *BulkOperation) RecordSuccess() {
	if b.AttemptedCount() >= b.targetCount {
		return
	}
	b.successfulCount++
	b.Touch()
}

// RecordFailure counts one failed item and appends it to the error list.
func (b *BulkOperation) RecordFailure(itemID uuid.UUID, itemLabel, message string) {
	if b.AttemptedCount() >= b.targetCount {
		return
	}
	b.failedCount++
	b.itemErrors = append(b.itemErrors, ItemError{ItemID: itemID, ItemLabel: itemLabel, Message: message})
	b.Touch()
}

// Complete moves the job to its terminal state once every matched item has
// been attempted.
func (b *BulkOperation) Complete(now time.Time) error {
	if b.status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	if b.failedCount == 0 {
		b.status = StatusCompleted
	} else {
		b.status = StatusCompletedWithErrors
	}
	b.completedAt = &now
	b.Touch()
	b.AddDomainEvent(NewBulkOperationCompleted(b))
	return nil
}

// Cancel marks the job cancelled. Only pending and in_progress jobs can be
// cancelled; the processing loop observes the flag between items.
func (b *BulkOperation) Cancel(now time.Time) error {
	if b.status.IsTerminal() {
		return ErrNotCancellable
	}
	b.status = StatusCancelled
	b.completedAt = &now
	b.Touch()
	b.AddDomainEvent(NewBulkOperationCompleted(b))
	return nil
}

// Fail records an engine-level fault: every unattempted item is wrapped as
// failed so counts still account for the whole matched set.
func (b *BulkOperation) Fail(now time.Time, reason string, remaining []ItemError) error {
	if b.status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	for _, item := range remaining {
		if b.AttemptedCount() >= b.targetCount {
			break
		}
		b.failedCount++
		msg := item.Message
		if msg == "" {
			msg = reason
		}
		b.itemErrors = append(b.itemErrors, ItemError{ItemID: item.ItemID, ItemLabel: item.ItemLabel, Message: msg})
	}
	b.status = StatusFailed
	b.completedAt = &now
	b.Touch()
	b.AddDomainEvent(NewBulkOperationCompleted(b))
	return nil
}

// RehydrateBulkOperation recreates a job from persisted state.
func RehydrateBulkOperation(
	id uuid.UUID,
	opType OperationType,
	actorID uuid.UUID,
	targetCount int,
	successfulCount int,
	failedCount int,
	status OperationStatus,
	filters packagesDomain.Filter,
	spec OperationSpec,
	itemErrors []ItemError,
	startedAt *time.Time,
	completedAt *time.Time,
	version int,
	createdAt time.Time,
	updatedAt time.Time,
) *BulkOperation {
	if itemErrors == nil {
		itemErrors = make([]ItemError, 0)
	}
	baseEntity := sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt)
	baseAggregate := sharedDomain.RehydrateBaseAggregateRoot(baseEntity, version)

	return &BulkOperation{
		BaseAggregateRoot: baseAggregate,
		opType:            opType,
		actorID:           actorID,
		targetCount:       targetCount,
		successfulCount:   successfulCount,
		failedCount:       failedCount,
		status:            status,
		filters:           filters,
		spec:              spec,
		itemErrors:        itemErrors,
		startedAt:         startedAt,
		completedAt:       completedAt,
	}
}
