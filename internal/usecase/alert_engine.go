package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/position_monitor/internal/domain"
	"go.uber.org/zap"
)

// AlertEngine evaluates user-defined alert rules against live valuations.
// A rule fires at most once per activation: the per-rule processed marker is
// set before the deactivation write so an overlapping evaluation pass cannot
// fire the same rule twice.
type AlertEngine struct {
	rules         domain.AlertRuleRepository
	feed          domain.PriceFeed
	valuator      *Valuator
	notifications *NotificationCenter
	logger        *zap.Logger

	mu        sync.Mutex
	processed map[string]bool
}

func NewAlertEngine(
	rules domain.AlertRuleRepository,
	feed domain.PriceFeed,
	notifications *NotificationCenter,
	logger *zap.Logger,
) *AlertEngine {
	return &AlertEngine{
		rules:         rules,
		feed:          feed,
		valuator:      NewValuator(),
		notifications: notifications,
		logger:        logger,
		processed:     make(map[string]bool),
	}
}

// EvaluatePass runs one pass over the active rule set. positions maps
// position ID to the currently ACTIVE positions; rules referencing anything
// else are skipped silently and re-evaluated once data is available.
func (e *AlertEngine) EvaluatePass(ctx context.Context, rules []*domain.AlertRule, positions map[string]*domain.Position) {
	e.purge(rules)

	for _, rule := range rules {
		if rule.Dormant() {
			continue
		}

		e.mu.Lock()
		if e.processed[rule.ID] {
			e.mu.Unlock()
			continue
		}
		e.mu.Unlock()

		pos, ok := positions[rule.PositionID]
		if !ok {
			continue
		}

		tick, ok := e.feed.LastTick(pos.Pair)
		if !ok || tick.Price <= 0 {
			continue
		}

		val := e.valuator.Valuate(pos, tick.Price)
		if !conditionMet(rule, val) {
			continue
		}

		e.fire(ctx, rule, pos, val)
	}
}

// conditionMet checks the rule against the valuation. For P/L conditions the
// sign of the rule value selects the direction: "alert me at +5%" fires on
// the way up, "alert me at -20 USD" fires on the way down.
func conditionMet(rule *domain.AlertRule, val Valuation) bool {
	switch rule.Condition {
	case domain.ConditionPrice:
		return val.Price >= rule.Value
	case domain.ConditionPLPercentage:
		return crossed(val.PLPct, rule.Value)
	case domain.ConditionPLUSD:
		return crossed(val.PLUSD, rule.Value)
	default:
		return false
	}
}

func crossed(metric, value float64) bool {
	if value >= 0 {
		return metric >= value
	}
	return metric <= value
}

func (e *AlertEngine) fire(ctx context.Context, rule *domain.AlertRule, pos *domain.Position, val Valuation) {
	// Marker first: prevents re-entrancy while the write is outstanding.
	e.mu.Lock()
	e.processed[rule.ID] = true
	e.mu.Unlock()

	now := time.Now()
	if err := e.rules.DeactivateAlertRule(ctx, rule.ID, now); err != nil {
		e.logger.Error("failed to deactivate alert rule, will retry on next pass",
			zap.String("rule", rule.ID), zap.Error(err))
		e.mu.Lock()
		delete(e.processed, rule.ID)
		e.mu.Unlock()
		return
	}

	e.logger.Info("alert rule fired",
		zap.String("rule", rule.ID), zap.String("position", pos.ID),
		zap.String("condition", string(rule.Condition)), zap.Float64("value", rule.Value))

	e.notifications.Show(&domain.Notification{
		ID:         domain.NotificationID(domain.KindRuleAlert, rule.ID),
		Kind:       domain.KindRuleAlert,
		PositionID: pos.ID,
		Pair:       pos.Pair,
		Title:      "Alert triggered",
		Message:    alertMessage(rule, pos, val),
		Value:      rule.Value,
		CreatedAt:  now,
	})
}

func alertMessage(rule *domain.AlertRule, pos *domain.Position, val Valuation) string {
	switch rule.Condition {
	case domain.ConditionPrice:
		return fmt.Sprintf("%s reached %.4f (target %.4f)", pos.Pair, val.Price, rule.Value)
	case domain.ConditionPLPercentage:
		return fmt.Sprintf("%s %s P/L at %+.2f%% (target %+.2f%%)", pos.Pair, pos.Side, val.PLPct, rule.Value)
	default:
		return fmt.Sprintf("%s %s P/L at %+.2f USD (target %+.2f USD)", pos.Pair, pos.Side, val.PLUSD, rule.Value)
	}
}

// purge drops processed markers for rules no longer in the active set, so
// deleted or externally reactivated rules do not pin memory.
func (e *AlertEngine) purge(rules []*domain.AlertRule) {
	current := make(map[string]bool, len(rules))
	for _, r := range rules {
		current[r.ID] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.processed {
		if !current[id] {
			delete(e.processed, id)
		}
	}
}
