package infrastructure

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/fitstack/backoffice/internal/notifications/domain"
)

// BreakerSender wraps another sender with a circuit breaker and a per-send
// timeout. When the dispatcher is down the breaker opens and sends fail
// fast instead of stalling every sweep pass; the stage ratchet retries them
// on the next sweep.
type BreakerSender struct {
	inner   domain.Sender
	breaker *gobreaker.CircuitBreaker[any]
	timeout time.Duration
}

// NewBreakerSender decorates inner with a circuit breaker. Timeout bounds
// each individual send.
func NewBreakerSender(inner domain.Sender, timeout time.Duration, logger *slog.Logger) *BreakerSender {
	if logger == nil {
		logger = slog.Default()
	}

	settings := gobreaker.Settings{
		Name:        "notification-sender",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("notification breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}

	return &BreakerSender{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
		timeout: timeout,
	}
}

// Send forwards to the wrapped sender through the breaker.
func (s *BreakerSender) Send(ctx context.Context, n domain.Notification) error {
	_, err := s.breaker.Execute(func() (any, error) {
		sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return nil, s.inner.Send(sendCtx, n)
	})
	return err
}
