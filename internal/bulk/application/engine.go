// Package application runs batch jobs over filtered package sets: preview
// computes the would-be changes without writing, execute applies them item
// by item with per-item isolation, progress tracking, and cooperative
// cancellation.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fitstack/backoffice/internal/bulk/domain"
	catalogDomain "github.com/fitstack/backoffice/internal/catalog/domain"
	packagesApplication "github.com/fitstack/backoffice/internal/packages/application"
	packagesDomain "github.com/fitstack/backoffice/internal/packages/domain"
	"github.com/fitstack/backoffice/internal/shared/infrastructure/outbox"
)

// PreviewItem is one matched package's before/after under the proposed
// operation. Nothing is persisted to produce it.
type PreviewItem struct {
	PackageID            uuid.UUID `json:"package_id"`
	UserID               uuid.UUID `json:"user_id"`
	Label                string    `json:"label"`
	OldExpiresAt         time.Time `json:"old_expires_at"`
	NewExpiresAt         time.Time `json:"new_expires_at"`
	OldRemainingSessions int       `json:"old_remaining_sessions"`
	NewRemainingSessions int       `json:"new_remaining_sessions"`
	PriceDeltaCents      int64     `json:"price_delta_cents"`
}

// PreviewSummary aggregates a preview across all matched packages.
type PreviewSummary struct {
	Count                int     `json:"count"`
	AvgDaysExtended      float64 `json:"avg_days_extended"`
	TotalSessionsAdded   int     `json:"total_sessions_added"`
	TotalPriceDeltaCents int64   `json:"total_price_delta_cents"`
}

// Preview is the full dry-run result. An empty filter match yields an empty
// item list, not an error.
type Preview struct {
	Items   []PreviewItem  `json:"items"`
	Summary PreviewSummary `json:"summary"`
}

// StatusProjection is the read-only view of a job's progress.
type StatusProjection struct {
	ID                 uuid.UUID              `json:"id"`
	Type               domain.OperationType   `json:"type"`
	Status             domain.OperationStatus `json:"status"`
	TargetCount        int                    `json:"target_count"`
	SuccessfulCount    int                    `json:"successful_count"`
	FailedCount        int                    `json:"failed_count"`
	ProgressPercentage float64                `json:"progress_percentage"`
	Errors             []domain.ItemError     `json:"errors"`
	StartedAt          *time.Time             `json:"started_at,omitempty"`
	CompletedAt        *time.Time             `json:"completed_at,omitempty"`
}

// Engine coordinates bulk jobs. Execute runs each job in its own goroutine;
// a batch is not one transaction, each item commits alone.
type Engine struct {
	jobs     domain.Repository
	packages packagesDomain.Repository
	catalog  catalogDomain.Repository
	ledger   *packagesApplication.LedgerService
	outbox   outbox.Repository
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewEngine creates a new bulk job engine.
func NewEngine(
	jobs domain.Repository,
	packages packagesDomain.Repository,
	catalog catalogDomain.Repository,
	ledger *packagesApplication.LedgerService,
	outboxRepo outbox.Repository,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		jobs:     jobs,
		packages: packages,
		catalog:  catalog,
		ledger:   ledger,
		outbox:   outboxRepo,
		logger:   logger,
	}
}

// Preview resolves the matched set and computes per-item before/after with
// the same pure functions Execute applies, so the two can never diverge.
func (e *Engine) Preview(ctx context.Context, opType domain.OperationType, filters packagesDomain.Filter, spec domain.OperationSpec) (*Preview, error) {
	if err := filters.Validate(); err != nil {
		return nil, err
	}
	if err := spec.Validate(opType); err != nil {
		return nil, err
	}

	matches, err := e.packages.FindMatching(ctx, filters)
	if err != nil {
		return nil, err
	}

	preview := &Preview{Items: make([]PreviewItem, 0, len(matches))}
	prices := map[uuid.UUID]int64{}
	var totalDays int

	for _, p := range matches {
		item := PreviewItem{
			PackageID:            p.ID(),
			UserID:               p.UserID(),
			Label:                p.Name(),
			OldExpiresAt:         p.ExpiresAt(),
			NewExpiresAt:         p.ExpiresAt(),
			OldRemainingSessions: p.RemainingSessions(),
			NewRemainingSessions: p.RemainingSessions(),
		}

		switch opType {
		case domain.TypeExtension:
			diff := spec.Extension.Apply(p.ExpiresAt(), p.RemainingSessions(), p.TotalSessions())
			item.NewExpiresAt = diff.NewExpiresAt
			item.NewRemainingSessions = diff.NewRemainingSessions

			totalDays += diff.DaysExtended()
			preview.Summary.TotalSessionsAdded += diff.SessionsAdded()

		case domain.TypePricingAdjustment:
			price, ok := prices[p.CatalogID()]
			if !ok {
				tpl, err := e.catalog.FindByID(ctx, p.CatalogID())
				if err != nil {
					return nil, err
				}
				price = tpl.PriceCents
				prices[p.CatalogID()] = price
			}
			item.PriceDeltaCents = spec.Pricing.Apply(price)
			preview.Summary.TotalPriceDeltaCents += item.PriceDeltaCents
		}

		preview.Items = append(preview.Items, item)
	}

	preview.Summary.Count = len(preview.Items)
	if opType == domain.TypeExtension && len(preview.Items) > 0 {
		preview.Summary.AvgDaysExtended = float64(totalDays) / float64(len(preview.Items))
	}

	return preview, nil
}

// Execute re-resolves the matched set, creates the job row, and processes
// it asynchronously. The returned job is the pending row; poll Status for
// progress.
func (e *Engine) Execute(ctx context.Context, opType domain.OperationType, filters packagesDomain.Filter, spec domain.OperationSpec, actorID uuid.UUID) (*domain.BulkOperation, error) {
	if err := filters.Validate(); err != nil {
		return nil, err
	}
	if err := spec.Validate(opType); err != nil {
		return nil, err
	}

	// A stale preview list is never reused: the set is resolved again at
	// execution time.
	matches, err := e.packages.FindMatching(ctx, filters)
	if err != nil {
		return nil, err
	}

	job, err := domain.NewBulkOperation(opType, actorID, filters, spec, len(matches))
	if err != nil {
		return nil, err
	}
	if err := e.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	e.logger.Info("bulk job created",
		"job_id", job.ID(),
		"type", opType,
		"target_count", len(matches),
		"actor_id", actorID,
	)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		// The job outlives the request that started it.
		e.process(context.Background(), job, matches, actorID)
	}()

	return job, nil
}

// Wait blocks until every in-flight job goroutine has finished. Used on
// shutdown and in tests.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Status returns the read-only progress projection for a job.
func (e *Engine) Status(ctx context.Context, id uuid.UUID) (*StatusProjection, error) {
	job, err := e.jobs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return &StatusProjection{
		ID:                 job.ID(),
		Type:               job.Type(),
		Status:             job.Status(),
		TargetCount:        job.TargetCount(),
		SuccessfulCount:    job.SuccessfulCount(),
		FailedCount:        job.FailedCount(),
		ProgressPercentage: job.ProgressPercentage(),
		Errors:             job.ItemErrors(),
		StartedAt:          job.StartedAt(),
		CompletedAt:        job.CompletedAt(),
	}, nil
}

// Cancel flips a pending or in_progress job to cancelled. The processing
// loop observes it between items and stops promptly.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID) error {
	if err := e.jobs.RequestCancel(ctx, id, time.Now().UTC()); err != nil {
		return err
	}
	e.logger.Info("bulk job cancel requested", "job_id", id)
	return nil
}

// List returns a page of job history.
func (e *Engine) List(ctx context.Context, f domain.ListFilter) ([]*domain.BulkOperation, int, error) {
	if f.Type != nil && !f.Type.IsValid() {
		return nil, 0, packagesDomain.ErrInvalidFilter
	}
	if f.Status != nil && !f.Status.IsValid() {
		return nil, 0, packagesDomain.ErrInvalidFilter
	}
	return e.jobs.List(ctx, f)
}

// process runs the batch loop. Item failures are recorded and the loop
// keeps going; only an engine-level fault fails the whole job.
func (e *Engine) process(ctx context.Context, job *domain.BulkOperation, matches []*packagesDomain.UserPackage, actorID uuid.UUID) {
	attempted := 0

	defer func() {
		if r := recover(); r != nil {
			e.failJob(ctx, job, matches[attempted:], fmt.Sprintf("engine fault: %v", r))
		}
	}()

	now := time.Now().UTC()
	if err := job.Start(now); err != nil {
		e.logger.Error("bulk job could not start", "job_id", job.ID(), "error", err)
		return
	}
	if err := e.jobs.Save(ctx, job); err != nil {
		// Cancelled before the first item was picked up.
		e.logger.Warn("bulk job not started", "job_id", job.ID(), "error", err)
		return
	}

	for _, p := range matches {
		cancelled, err := e.jobs.IsCancelRequested(ctx, job.ID())
		if err != nil {
			e.failJob(ctx, job, matches[attempted:], fmt.Sprintf("engine fault: %v", err))
			return
		}
		if cancelled {
			e.logger.Info("bulk job stopped on cancel",
				"job_id", job.ID(),
				"attempted", attempted,
			)
			return
		}

		if err := e.applyItem(ctx, job, p, actorID); err != nil {
			job.RecordFailure(p.ID(), p.Name(), err.Error())
		} else {
			job.RecordSuccess()
		}
		attempted++

		if err := e.jobs.Save(ctx, job); err != nil {
			// A concurrent cancel landed; its terminal state wins.
			e.logger.Warn("bulk job progress write rejected",
				"job_id", job.ID(),
				"error", err,
			)
			return
		}
	}

	if err := job.Complete(time.Now().UTC()); err != nil {
		e.logger.Error("bulk job completion failed", "job_id", job.ID(), "error", err)
		return
	}
	if err := e.jobs.Save(ctx, job); err != nil {
		e.logger.Warn("bulk job completion write rejected", "job_id", job.ID(), "error", err)
		return
	}
	e.publishJobEvents(ctx, job)

	e.logger.Info("bulk job finished",
		"job_id", job.ID(),
		"status", job.Status(),
		"successful", job.SuccessfulCount(),
		"failed", job.FailedCount(),
	)
}

// applyItem mutates one package in its own unit of work via the ledger.
func (e *Engine) applyItem(ctx context.Context, job *domain.BulkOperation, p *packagesDomain.UserPackage, actorID uuid.UUID) error {
	jobID := job.ID()

	switch job.Type() {
	case domain.TypeExtension:
		_, err := e.ledger.ApplyExtension(ctx, p.ID(), *job.Spec().Extension, actorID, &jobID)
		return err
	case domain.TypePricingAdjustment:
		_, err := e.ledger.ApplyPricingAdjustment(ctx, p.ID(), *job.Spec().Pricing, actorID, &jobID)
		return err
	default:
		return domain.ErrMissingSpec
	}
}

// failJob closes the job after an engine-level fault, wrapping every
// unattempted item as failed.
func (e *Engine) failJob(ctx context.Context, job *domain.BulkOperation, remaining []*packagesDomain.UserPackage, reason string) {
	items := make([]domain.ItemError, 0, len(remaining))
	for _, p := range remaining {
		items = append(items, domain.ItemError{ItemID: p.ID(), ItemLabel: p.Name()})
	}

	if err := job.Fail(time.Now().UTC(), reason, items); err != nil {
		return
	}
	if err := e.jobs.Save(ctx, job); err != nil {
		e.logger.Error("bulk job failure write rejected", "job_id", job.ID(), "error", err)
		return
	}
	e.publishJobEvents(ctx, job)

	e.logger.Error("bulk job failed", "job_id", job.ID(), "reason", reason)
}

// publishJobEvents stages the job's terminal event for the outbox worker.
func (e *Engine) publishJobEvents(ctx context.Context, job *domain.BulkOperation) {
	events := job.DomainEvents()
	if len(events) == 0 {
		return
	}
	msgs, err := outbox.FromEvents(events)
	if err != nil {
		e.logger.Error("bulk job events not staged", "job_id", job.ID(), "error", err)
		return
	}
	if err := e.outbox.SaveBatch(ctx, msgs); err != nil {
		e.logger.Error("bulk job events not staged", "job_id", job.ID(), "error", err)
		return
	}
	job.ClearDomainEvents()
}
