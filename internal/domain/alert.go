package domain

import "time"

type ConditionType string

const (
	ConditionPrice        ConditionType = "PRICE"
	ConditionPLPercentage ConditionType = "PL_PERCENTAGE"
	ConditionPLUSD        ConditionType = "PL_USD"
)

// AlertRule is a user-defined threshold bound to a position. The sign of
// Value selects the crossing direction: non-negative fires when the live
// metric rises to or above Value, negative fires when it falls to or below.
type AlertRule struct {
	ID          string
	PositionID  string
	Condition   ConditionType
	Value       float64
	IsActive    bool
	TriggeredAt *time.Time
	CreatedAt   time.Time
}

// Dormant reports whether the rule is excluded from evaluation.
func (r *AlertRule) Dormant() bool {
	return !r.IsActive || r.TriggeredAt != nil
}
