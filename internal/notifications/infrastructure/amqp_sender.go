// Package infrastructure provides notification senders: an AMQP sender
// that hands payloads to the external dispatcher, a circuit-breaker
// decorator, and a noop sender for development.
package infrastructure

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/fitstack/backoffice/internal/notifications/domain"
	"github.com/fitstack/backoffice/internal/shared/infrastructure/eventbus"
)

// AMQPSender publishes notifications to the notifications exchange, where
// the external dispatcher picks them up for actual delivery.
type AMQPSender struct {
	publisher eventbus.Publisher
	logger    *slog.Logger
}

// NewAMQPSender creates a sender backed by the given publisher.
func NewAMQPSender(publisher eventbus.Publisher, logger *slog.Logger) *AMQPSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQPSender{publisher: publisher, logger: logger}
}

// Send publishes the notification with a routing key derived from its type,
// e.g. "notifications.package.expiring_7".
func (s *AMQPSender) Send(ctx context.Context, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}

	routingKey := "notifications.package." + string(n.Type)
	if err := s.publisher.Publish(ctx, routingKey, payload); err != nil {
		return err
	}

	s.logger.Debug("notification dispatched",
		"package_id", n.PackageID,
		"type", n.Type,
		"channel", n.Channel,
	)
	return nil
}
