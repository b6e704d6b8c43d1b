// Package eventbus connects the back office to its message broker. Domain
// events drained from the outbox and member notifications both leave the
// process through publishers defined here.
package eventbus

import "context"

// Publisher defines the interface for publishing events to a message broker.
type Publisher interface {
	// Publish sends a message to the event bus.
	Publish(ctx context.Context, routingKey string, payload []byte) error

	// Close closes the publisher connection.
	Close() error
}
