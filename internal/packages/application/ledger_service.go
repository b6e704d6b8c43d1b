// Package application orchestrates package lifecycle mutations: each
// operation loads the aggregate, applies the domain transition, and commits
// the row, its audit entry, and its outbox events as one transaction.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	catalogDomain "github.com/fitstack/backoffice/internal/catalog/domain"
	"github.com/fitstack/backoffice/internal/packages/domain"
	sharedApplication "github.com/fitstack/backoffice/internal/shared/application"
	sharedDomain "github.com/fitstack/backoffice/internal/shared/domain"
	"github.com/fitstack/backoffice/internal/shared/infrastructure/outbox"
)

// LedgerService mutates user packages. All writes go through here so every
// change lands with a history entry and its domain events.
type LedgerService struct {
	packages domain.Repository
	catalog  catalogDomain.Repository
	history  domain.HistoryRepository
	outbox   outbox.Repository
	uow      sharedApplication.UnitOfWork
	logger   *slog.Logger

	// freezeExtendsExpiry controls whether unfreezing shifts the expiry
	// date by the frozen duration. Default off: the clock keeps running
	// while frozen.
	freezeExtendsExpiry bool
}

// NewLedgerService creates a new ledger service.
func NewLedgerService(
	packages domain.Repository,
	catalog catalogDomain.Repository,
	history domain.HistoryRepository,
	outboxRepo outbox.Repository,
	uow sharedApplication.UnitOfWork,
	freezeExtendsExpiry bool,
	logger *slog.Logger,
) *LedgerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerService{
		packages:            packages,
		catalog:             catalog,
		history:             history,
		outbox:              outboxRepo,
		uow:                 uow,
		freezeExtendsExpiry: freezeExtendsExpiry,
		logger:              logger,
	}
}

// GetPackage returns a package by ID.
func (s *LedgerService) GetPackage(ctx context.Context, id uuid.UUID) (*domain.UserPackage, error) {
	return s.packages.FindByID(ctx, id)
}

// ListHistory returns the audit trail for a package, newest first.
func (s *LedgerService) ListHistory(ctx context.Context, packageID uuid.UUID) ([]*domain.HistoryEntry, error) {
	if _, err := s.packages.FindByID(ctx, packageID); err != nil {
		return nil, err
	}
	return s.history.ListByPackage(ctx, packageID)
}

// Freeze suspends a package.
func (s *LedgerService) Freeze(ctx context.Context, packageID, actorID uuid.UUID, durationDays *int) (*domain.UserPackage, error) {
	var result *domain.UserPackage

	err := sharedApplication.WithUnitOfWork(ctx, s.uow, func(txCtx context.Context) error {
		p, err := s.packages.FindByID(txCtx, packageID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		prevStatus := p.Status(now)
		sessionsBefore := p.RemainingSessions()
		expiryBefore := p.ExpiresAt()

		if err := p.Freeze(now, durationDays); err != nil {
			return err
		}
		if err := s.packages.Save(txCtx, p); err != nil {
			return err
		}

		entry := domain.NewHistoryEntry(p, domain.HistoryFrozen,
			prevStatus, p.Status(now), sessionsBefore, expiryBefore, actorID, "")
		if err := s.history.Record(txCtx, entry); err != nil {
			return err
		}
		if err := s.stageEvents(txCtx, p); err != nil {
			return err
		}

		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("package frozen", "package_id", packageID, "actor_id", actorID)
	return result, nil
}

// Unfreeze lifts a freeze and recomputes status from the current clock.
func (s *LedgerService) Unfreeze(ctx context.Context, packageID, actorID uuid.UUID) (*domain.UserPackage, error) {
	var result *domain.UserPackage

	err := sharedApplication.WithUnitOfWork(ctx, s.uow, func(txCtx context.Context) error {
		p, err := s.packages.FindByID(txCtx, packageID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		prevStatus := p.Status(now)
		sessionsBefore := p.RemainingSessions()
		expiryBefore := p.ExpiresAt()

		if err := p.Unfreeze(now, s.freezeExtendsExpiry); err != nil {
			return err
		}
		if err := s.packages.Save(txCtx, p); err != nil {
			return err
		}

		entry := domain.NewHistoryEntry(p, domain.HistoryUnfrozen,
			prevStatus, p.Status(now), sessionsBefore, expiryBefore, actorID, "")
		if err := s.history.Record(txCtx, entry); err != nil {
			return err
		}
		if err := s.stageEvents(txCtx, p); err != nil {
			return err
		}

		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("package unfrozen", "package_id", packageID, "actor_id", actorID)
	return result, nil
}

// Renew closes a package and creates its successor from a catalog template.
// When templateID is nil the successor reuses the old package's template.
func (s *LedgerService) Renew(ctx context.Context, packageID, actorID uuid.UUID, templateID *uuid.UUID, extraSessions int) (*domain.UserPackage, error) {
	var successor *domain.UserPackage

	err := sharedApplication.WithUnitOfWork(ctx, s.uow, func(txCtx context.Context) error {
		p, err := s.packages.FindByID(txCtx, packageID)
		if err != nil {
			return err
		}

		tplID := p.CatalogID()
		if templateID != nil {
			tplID = *templateID
		}
		tpl, err := s.catalog.FindByID(txCtx, tplID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		prevStatus := p.Status(now)
		sessionsBefore := p.RemainingSessions()
		expiryBefore := p.ExpiresAt()

		next, err := p.RenewTo(tpl, extraSessions, now)
		if err != nil {
			return err
		}

		if err := s.packages.Save(txCtx, p); err != nil {
			return err
		}
		if err := s.packages.Create(txCtx, next); err != nil {
			return err
		}

		outEntry := domain.NewHistoryEntry(p, domain.HistoryRenewedOut,
			prevStatus, p.Status(now), sessionsBefore, expiryBefore, actorID,
			fmt.Sprintf("renewed to %s", next.ID()))
		if err := s.history.Record(txCtx, outEntry); err != nil {
			return err
		}
		inEntry := domain.NewHistoryEntry(next, domain.HistoryRenewedIn,
			prevStatus, next.Status(now), sessionsBefore, expiryBefore, actorID,
			fmt.Sprintf("renewed from %s", p.ID()))
		if err := s.history.Record(txCtx, inEntry); err != nil {
			return err
		}

		if err := s.stageEvents(txCtx, p, next); err != nil {
			return err
		}

		successor = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("package renewed",
		"package_id", packageID,
		"successor_id", successor.ID(),
		"actor_id", actorID,
	)
	return successor, nil
}

// ApplyExtension mutates one package with an extension spec. Used by both
// the manual path and the bulk engine; jobID tags the audit entry when the
// mutation originates from a batch.
func (s *LedgerService) ApplyExtension(ctx context.Context, packageID uuid.UUID, spec domain.ExtensionSpec, actorID uuid.UUID, jobID *uuid.UUID) (domain.ExtensionDiff, error) {
	if err := spec.Validate(); err != nil {
		return domain.ExtensionDiff{}, err
	}

	var diff domain.ExtensionDiff

	err := sharedApplication.WithUnitOfWork(ctx, s.uow, func(txCtx context.Context) error {
		p, err := s.packages.FindByID(txCtx, packageID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		prevStatus := p.Status(now)
		sessionsBefore := p.RemainingSessions()
		expiryBefore := p.ExpiresAt()

		diff, err = p.Extend(spec)
		if err != nil {
			return err
		}
		if err := s.packages.Save(txCtx, p); err != nil {
			return err
		}

		entry := domain.NewHistoryEntry(p, domain.HistoryExtended,
			prevStatus, p.Status(now), sessionsBefore, expiryBefore, actorID, "")
		if jobID != nil {
			entry.TagBulkOperation(*jobID)
		}
		if err := s.history.Record(txCtx, entry); err != nil {
			return err
		}
		return s.stageEvents(txCtx, p)
	})
	if err != nil {
		return domain.ExtensionDiff{}, err
	}

	return diff, nil
}

// ApplyPricingAdjustment records a signed price adjustment against one
// package. Pricing never touches expiry or sessions; the adjustment exists
// purely as an auditable event.
func (s *LedgerService) ApplyPricingAdjustment(ctx context.Context, packageID uuid.UUID, spec domain.PricingSpec, actorID uuid.UUID, jobID *uuid.UUID) (int64, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}

	var adjustment int64

	err := sharedApplication.WithUnitOfWork(ctx, s.uow, func(txCtx context.Context) error {
		p, err := s.packages.FindByID(txCtx, packageID)
		if err != nil {
			return err
		}
		tpl, err := s.catalog.FindByID(txCtx, p.CatalogID())
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		adjustment = spec.Apply(tpl.PriceCents)
		status := p.Status(now)

		entry := domain.NewHistoryEntry(p, domain.HistoryPriceAdjusted,
			status, status, p.RemainingSessions(), p.ExpiresAt(), actorID,
			fmt.Sprintf("adjustment %d cents", adjustment))
		if jobID != nil {
			entry.TagBulkOperation(*jobID)
		}
		if err := s.history.Record(txCtx, entry); err != nil {
			return err
		}

		p.AddDomainEvent(domain.NewPackagePriceAdjusted(p, adjustment))
		return s.stageEvents(txCtx, p)
	})
	if err != nil {
		return 0, err
	}

	return adjustment, nil
}

// stageEvents drains uncommitted domain events into the outbox inside the
// current transaction.
func (s *LedgerService) stageEvents(ctx context.Context, aggs ...sharedDomain.AggregateRoot) error {
	var events []sharedDomain.DomainEvent
	for _, agg := range aggs {
		events = append(events, agg.DomainEvents()...)
	}
	if len(events) == 0 {
		return nil
	}

	msgs, err := outbox.FromEvents(events)
	if err != nil {
		return err
	}
	if err := s.outbox.SaveBatch(ctx, msgs); err != nil {
		return err
	}

	for _, agg := range aggs {
		agg.ClearDomainEvents()
	}
	return nil
}
