package infrastructure

import (
	"context"
	"log/slog"

	"github.com/fitstack/backoffice/internal/notifications/domain"
)

// NoopSender logs and discards, used when no dispatcher is configured.
type NoopSender struct {
	logger *slog.Logger
}

// NewNoopSender creates a sender that logs and discards.
func NewNoopSender(logger *slog.Logger) *NoopSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopSender{logger: logger}
}

func (s *NoopSender) Send(_ context.Context, n domain.Notification) error {
	s.logger.Info("notification discarded, no dispatcher configured",
		"package_id", n.PackageID,
		"user_id", n.UserID,
		"type", n.Type,
	)
	return nil
}
