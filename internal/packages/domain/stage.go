package domain

// NotificationStage is a monotonic ratchet recording which expiry-warning
// tier has already been sent for a package. It only ever moves forward:
// none -> expiring_7 -> expiring_3 -> expired. The ratchet, not calendar-day
// equality, is the sweep's idempotency guard, so a sweep that runs late or
// twice neither skips nor duplicates a notification.
type NotificationStage string

const (
	StageNone      NotificationStage = "none"
	StageExpiring7 NotificationStage = "expiring_7"
	StageExpiring3 NotificationStage = "expiring_3"
	StageExpired   NotificationStage = "expired"
)

var stageRank = map[NotificationStage]int{
	StageNone:      0,
	StageExpiring7: 1,
	StageExpiring3: 2,
	StageExpired:   3,
}

// IsValid checks if the stage is a known tier.
func (s NotificationStage) IsValid() bool {
	_, ok := stageRank[s]
	return ok
}

// After reports whether s is a later tier than other.
func (s NotificationStage) After(other NotificationStage) bool {
	return stageRank[s] > stageRank[other]
}

// StageFor returns the warning tier a package with the given days until
// expiry should have reached, using the configured warn and final windows.
func StageFor(daysUntilExpiry, warnWindowDays, finalWindowDays int) NotificationStage {
	switch {
	case daysUntilExpiry < 0:
		return StageExpired
	case daysUntilExpiry <= finalWindowDays:
		return StageExpiring3
	case daysUntilExpiry <= warnWindowDays:
		return StageExpiring7
	default:
		return StageNone
	}
}
