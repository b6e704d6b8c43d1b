package domain

import (
	sharedDomain "github.com/fitstack/backoffice/internal/shared/domain"
)

// BulkOperationCompleted is emitted when a job reaches any terminal state,
// including cancelled and failed.
type BulkOperationCompleted struct {
	sharedDomain.BaseEvent
	OperationType   OperationType   `json:"operation_type"`
	FinalStatus     OperationStatus `json:"final_status"`
	TargetCount     int             `json:"target_count"`
	SuccessfulCount int             `json:"successful_count"`
	FailedCount     int             `json:"failed_count"`
}

// NewBulkOperationCompleted creates a BulkOperationCompleted event.
func NewBulkOperationCompleted(b *BulkOperation) *BulkOperationCompleted {
	return &BulkOperationCompleted{
		BaseEvent:       sharedDomain.NewBaseEvent(b.ID(), "BulkOperation", "bulk.operation.completed"),
		OperationType:   b.Type(),
		FinalStatus:     b.Status(),
		TargetCount:     b.TargetCount(),
		SuccessfulCount: b.SuccessfulCount(),
		FailedCount:     b.FailedCount(),
	}
}
