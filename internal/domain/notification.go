package domain

import "time"

type NotificationKind string

const (
	KindTPSL           NotificationKind = "TP_SL"
	KindRuleAlert      NotificationKind = "RULE_ALERT"
	KindPositionOpened NotificationKind = "POSITION_OPENED"
)

// Notification is a transient on-screen alert. ID doubles as the dedup key:
// the active queue holds at most one notification per ID.
type Notification struct {
	ID         string
	Kind       NotificationKind
	PositionID string
	Pair       string
	Title      string
	Message    string
	Value      float64 // triggering price or P/L metric
	CreatedAt  time.Time
}

// NotificationID derives the dedup key for a notification from its kind and
// the ID of the event source (position or alert rule).
func NotificationID(kind NotificationKind, sourceID string) string {
	return string(kind) + ":" + sourceID
}
