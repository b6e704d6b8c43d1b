// Package application runs the expiry sweep: one periodic pass over every
// open package that is close to or past its expiry date, sending staged
// warnings, flipping expired packages, and attempting auto-renewals.
package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fitstack/backoffice/internal/notifications/domain"
	packagesApplication "github.com/fitstack/backoffice/internal/packages/application"
	packagesDomain "github.com/fitstack/backoffice/internal/packages/domain"
	sharedApplication "github.com/fitstack/backoffice/internal/shared/application"
	"github.com/fitstack/backoffice/internal/shared/infrastructure/outbox"
)

// ErrNoPendingNotification is returned by Notify when the package's stage
// already matches the applicable warning tier.
var ErrNoPendingNotification = errors.New("no notification due for package")

// systemActor attributes sweep-driven mutations in the audit log.
var systemActor = uuid.Nil

// Report summarizes one sweep pass.
type Report struct {
	Scanned  int `json:"scanned"`
	Notified int `json:"notified"`
	Renewed  int `json:"renewed"`
	Failed   int `json:"failed"`
}

// SweepService drives the notification stage ratchet. Per-package failures
// never abort the pass; a failed send leaves the stage untouched so the
// next sweep retries it.
type SweepService struct {
	packages  packagesDomain.Repository
	notifLogs packagesDomain.NotificationLogRepository
	ledger    *packagesApplication.LedgerService
	sender    domain.Sender
	outbox    outbox.Repository
	uow       sharedApplication.UnitOfWork
	logger    *slog.Logger

	warnWindowDays  int
	finalWindowDays int
	channel         string
}

// NewSweepService creates a new sweep service.
func NewSweepService(
	packages packagesDomain.Repository,
	notifLogs packagesDomain.NotificationLogRepository,
	ledger *packagesApplication.LedgerService,
	sender domain.Sender,
	outboxRepo outbox.Repository,
	uow sharedApplication.UnitOfWork,
	warnWindowDays, finalWindowDays int,
	channel string,
	logger *slog.Logger,
) *SweepService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepService{
		packages:        packages,
		notifLogs:       notifLogs,
		ledger:          ledger,
		sender:          sender,
		outbox:          outboxRepo,
		uow:             uow,
		warnWindowDays:  warnWindowDays,
		finalWindowDays: finalWindowDays,
		channel:         channel,
		logger:          logger,
	}
}

// Sweep runs one full pass. It always completes for every eligible package
// and only reports counters; errors inside the pass are logged and counted.
func (s *SweepService) Sweep(ctx context.Context) (Report, error) {
	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, s.warnWindowDays)

	candidates, err := s.packages.FindSweepCandidates(ctx, cutoff)
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, p := range candidates {
		report.Scanned++

		// Frozen packages are suspended memberships; they neither receive
		// expiry warnings nor auto-renew until unfrozen.
		if p.IsFrozen() {
			continue
		}

		// Each package counts exactly one outcome per pass. A failed
		// auto-renewal is retried on the next sweep; its warning tier is
		// not attempted in the same pass.
		if p.AutoRenew() && !p.IsRenewedOut() && p.DaysUntilExpiry(now) <= 1 {
			if s.attemptAutoRenew(ctx, p, now) {
				report.Renewed++
			} else {
				report.Failed++
			}
			continue
		}

		attempt, err := s.notifyPackage(ctx, p, now)
		switch {
		case err != nil:
			s.logger.Error("sweep item failed",
				"package_id", p.ID(),
				"error", err,
			)
			report.Failed++
		case attempt == nil:
			// nothing due
		case attempt.Success:
			report.Notified++
		default:
			report.Failed++
		}
	}

	s.logger.Info("expiry sweep finished",
		"scanned", report.Scanned,
		"notified", report.Notified,
		"renewed", report.Renewed,
		"failed", report.Failed,
	)
	return report, nil
}

// Notify manually re-runs the stage check for one package, used by the
// operator resend endpoint. The ratchet still guards it: when the stage
// already matches the applicable tier nothing is sent.
func (s *SweepService) Notify(ctx context.Context, packageID uuid.UUID) (*packagesDomain.NotificationLog, error) {
	p, err := s.packages.FindByID(ctx, packageID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	target := s.targetStage(p, now)
	if !target.After(p.Stage()) {
		return nil, ErrNoPendingNotification
	}

	return s.sendAndAdvance(ctx, p, target, now)
}

// targetStage returns the tier the package should have reached by now.
func (s *SweepService) targetStage(p *packagesDomain.UserPackage, now time.Time) packagesDomain.NotificationStage {
	if packagesDomain.ComputeStatus(p.ExpiresAt(), p.RemainingSessions(), now) == packagesDomain.StatusExpired {
		return packagesDomain.StageExpired
	}
	return packagesDomain.StageFor(p.DaysUntilExpiry(now), s.warnWindowDays, s.finalWindowDays)
}

// notifyPackage advances one package through the ratchet if a tier is due.
// Returns nil when no tier is due; otherwise the logged attempt, whose
// Success flag tells the caller whether the send went out.
func (s *SweepService) notifyPackage(ctx context.Context, p *packagesDomain.UserPackage, now time.Time) (*packagesDomain.NotificationLog, error) {
	target := s.targetStage(p, now)
	if !target.After(p.Stage()) {
		return nil, nil
	}

	return s.sendAndAdvance(ctx, p, target, now)
}

// sendAndAdvance performs the send, records the attempt, and advances the
// ratchet only when the send succeeded.
func (s *SweepService) sendAndAdvance(ctx context.Context, p *packagesDomain.UserPackage, target packagesDomain.NotificationStage, now time.Time) (*packagesDomain.NotificationLog, error) {
	days := p.DaysUntilExpiry(now)
	notifType := packagesDomain.TypeForStage(target)

	sendErr := s.sender.Send(ctx, domain.NewNotification(p, notifType, s.channel, days))

	attempt := packagesDomain.NewNotificationLog(p, notifType, s.channel, days, sendErr)
	if err := s.notifLogs.Record(ctx, attempt); err != nil {
		return nil, err
	}

	if sendErr != nil {
		s.logger.Warn("notification send failed",
			"package_id", p.ID(),
			"type", notifType,
			"error", sendErr,
		)
		return attempt, nil
	}

	err := sharedApplication.WithUnitOfWork(ctx, s.uow, func(txCtx context.Context) error {
		if target == packagesDomain.StageExpired {
			p.MarkExpired(now)
		}
		p.AdvanceStage(target, now)

		if err := s.packages.Save(txCtx, p); err != nil {
			return err
		}

		events := p.DomainEvents()
		if len(events) == 0 {
			return nil
		}
		msgs, err := outbox.FromEvents(events)
		if err != nil {
			return err
		}
		if err := s.outbox.SaveBatch(txCtx, msgs); err != nil {
			return err
		}
		p.ClearDomainEvents()
		return nil
	})
	if err != nil {
		return nil, err
	}

	return attempt, nil
}

// attemptAutoRenew renews one package and sends the renewal notice. Renewal
// failures are logged, never raised.
func (s *SweepService) attemptAutoRenew(ctx context.Context, p *packagesDomain.UserPackage, now time.Time) bool {
	successor, err := s.ledger.Renew(ctx, p.ID(), systemActor, nil, 0)
	if err != nil {
		s.logger.Warn("auto-renewal failed",
			"package_id", p.ID(),
			"error", err,
		)
		return false
	}

	days := successor.DaysUntilExpiry(now)
	sendErr := s.sender.Send(ctx, domain.NewNotification(successor, packagesDomain.NotifyRenewed, s.channel, days))

	attempt := packagesDomain.NewNotificationLog(successor, packagesDomain.NotifyRenewed, s.channel, days, sendErr)
	if err := s.notifLogs.Record(ctx, attempt); err != nil {
		s.logger.Error("failed to record renewal notification",
			"package_id", successor.ID(),
			"error", err,
		)
	}

	return true
}
