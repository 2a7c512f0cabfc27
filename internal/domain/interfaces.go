package domain

import (
	"context"
	"time"
)

// PriceFeed delivers live market prices for a dynamic set of symbols.
// Implementations never surface connection errors to the caller; callers
// observe only the evolving tick map.
type PriceFeed interface {
	// SetSymbols replaces the subscribed symbol set (app pair format).
	// Symbols that remain subscribed keep their last known tick across the
	// resubscription.
	SetSymbols(symbols []string) error
	// LastTick returns the latest tick for a pair, if one has arrived.
	LastTick(pair string) (PriceTick, bool)
	// Snapshot returns a copy of the full symbol -> tick map.
	Snapshot() map[string]PriceTick
	// OnTick registers a callback invoked for every normalized tick.
	OnTick(func(PriceTick))
	Close() error
}

// PositionRepository defines storage operations for positions.
type PositionRepository interface {
	SavePosition(ctx context.Context, pos *Position) error
	GetPosition(ctx context.Context, id string) (*Position, error)
	ListActivePositions(ctx context.Context) ([]*Position, error)
	// UpdatePosition applies a partial update; called by the threshold
	// monitor for status transitions and throttled revaluation writes.
	UpdatePosition(ctx context.Context, id string, update PositionUpdate) error
}

// AlertRuleRepository defines storage operations for alert rules.
type AlertRuleRepository interface {
	SaveAlertRule(ctx context.Context, rule *AlertRule) error
	ListActiveAlertRules(ctx context.Context) ([]*AlertRule, error)
	// DeactivateAlertRule marks a rule as fired. Called exactly once per
	// rule activation.
	DeactivateAlertRule(ctx context.Context, id string, triggeredAt time.Time) error
	DeleteAlertRule(ctx context.Context, id string) error
}

// SystemNotifier mirrors notifications to an external channel. Best effort:
// failures are logged and otherwise ignored.
type SystemNotifier interface {
	Send(ctx context.Context, title, message string) error
}

// Navigator is invoked when the user activates a notification.
type Navigator interface {
	GoToPosition(id string)
}
