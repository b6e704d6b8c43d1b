// Package domain defines the outbound notification contract. Delivery
// itself is an external collaborator; this core only hands a payload to a
// Sender and records the attempt.
package domain

import (
	"context"
	"time"

	"github.com/google/uuid"

	packagesDomain "github.com/fitstack/backoffice/internal/packages/domain"
)

// Notification is one message for a member about one of their packages.
type Notification struct {
	PackageID       uuid.UUID                       `json:"package_id"`
	UserID          uuid.UUID                       `json:"user_id"`
	PackageName     string                          `json:"package_name"`
	Type            packagesDomain.NotificationType `json:"type"`
	Channel         string                          `json:"channel"`
	DaysUntilExpiry int                             `json:"days_until_expiry"`
	ExpiresAt       time.Time                       `json:"expires_at"`
}

// NewNotification builds the payload for a package at the given tier.
func NewNotification(p *packagesDomain.UserPackage, notifType packagesDomain.NotificationType, channel string, daysUntilExpiry int) Notification {
	return Notification{
		PackageID:       p.ID(),
		UserID:          p.UserID(),
		PackageName:     p.Name(),
		Type:            notifType,
		Channel:         channel,
		DaysUntilExpiry: daysUntilExpiry,
		ExpiresAt:       p.ExpiresAt(),
	}
}

// Sender hands a notification to the delivery system. Send must be
// time-bounded; a slow or failing dispatcher must not stall the sweep.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}
