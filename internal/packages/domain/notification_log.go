package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType identifies what a notification attempt was about.
type NotificationType string

const (
	NotifyExpiring7 NotificationType = "expiring_7"
	NotifyExpiring3 NotificationType = "expiring_3"
	NotifyExpired   NotificationType = "expired"
	NotifyRenewed   NotificationType = "renewed"
)

// TypeForStage maps a warning tier to its notification type.
func TypeForStage(stage NotificationStage) NotificationType {
	switch stage {
	case StageExpiring7:
		return NotifyExpiring7
	case StageExpiring3:
		return NotifyExpiring3
	default:
		return NotifyExpired
	}
}

// NotificationLog is one row per delivery attempt, successful or not. It is
// the evidence trail behind the stage ratchet: a failed attempt leaves a row
// but does not advance the stage, so the next sweep retries.
type NotificationLog struct {
	ID              uuid.UUID
	PackageID       uuid.UUID
	UserID          uuid.UUID
	Type            NotificationType
	Channel         string
	Success         bool
	Error           string
	DaysUntilExpiry int
	SentAt          time.Time
}

// NewNotificationLog records a delivery attempt for the given package.
func NewNotificationLog(p *UserPackage, notifType NotificationType, channel string, daysUntilExpiry int, sendErr error) *NotificationLog {
	log := &NotificationLog{
		ID:              uuid.New(),
		PackageID:       p.ID(),
		UserID:          p.UserID(),
		Type:            notifType,
		Channel:         channel,
		Success:         sendErr == nil,
		DaysUntilExpiry: daysUntilExpiry,
		SentAt:          time.Now().UTC(),
	}
	if sendErr != nil {
		log.Error = sendErr.Error()
	}
	return log
}
