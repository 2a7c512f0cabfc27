package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vitos/position_monitor/internal/domain"
	"go.uber.org/zap"
)

// MockAlertRuleRepo records deactivations for alert engine tests
type MockAlertRuleRepo struct {
	mu            sync.Mutex
	Deactivated   []string
	DeactivateErr error
}

func (m *MockAlertRuleRepo) SaveAlertRule(ctx context.Context, rule *domain.AlertRule) error {
	return nil
}

func (m *MockAlertRuleRepo) ListActiveAlertRules(ctx context.Context) ([]*domain.AlertRule, error) {
	return nil, nil
}

func (m *MockAlertRuleRepo) DeactivateAlertRule(ctx context.Context, id string, triggeredAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeactivateErr != nil {
		return m.DeactivateErr
	}
	m.Deactivated = append(m.Deactivated, id)
	return nil
}

func (m *MockAlertRuleRepo) DeleteAlertRule(ctx context.Context, id string) error {
	return nil
}

func (m *MockAlertRuleRepo) DeactivateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Deactivated)
}

func activeRule(id, positionID string, cond domain.ConditionType, value float64) *domain.AlertRule {
	return &domain.AlertRule{
		ID:         id,
		PositionID: positionID,
		Condition:  cond,
		Value:      value,
		IsActive:   true,
		CreatedAt:  time.Now(),
	}
}

func positionSet(positions ...*domain.Position) map[string]*domain.Position {
	out := make(map[string]*domain.Position, len(positions))
	for _, p := range positions {
		out[p.ID] = p
	}
	return out
}

func TestAlertEngine_FiresOnce(t *testing.T) {
	rules := &MockAlertRuleRepo{}
	feed := NewMockPriceFeed()
	center := newTestCenter()
	defer center.Stop()
	engine := NewAlertEngine(rules, feed, center, zap.NewNop())

	pos := activeLong("pos-1", 100, 0, 0)
	rule := activeRule("rule-1", "pos-1", domain.ConditionPrice, 105)
	feed.SetTick("BTC/USDT", 106)

	// The condition stays true across passes; the rule fires once.
	for i := 0; i < 3; i++ {
		engine.EvaluatePass(context.Background(), []*domain.AlertRule{rule}, positionSet(pos))
	}

	if got := rules.DeactivateCount(); got != 1 {
		t.Fatalf("expected 1 deactivation, got %d", got)
	}
	if rules.Deactivated[0] != "rule-1" {
		t.Errorf("wrong rule deactivated: %s", rules.Deactivated[0])
	}

	active := center.Active()
	if len(active) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(active))
	}
	if active[0].Kind != domain.KindRuleAlert {
		t.Errorf("expected RULE_ALERT, got %s", active[0].Kind)
	}
}

func TestAlertEngine_ConditionDirections(t *testing.T) {
	// LONG entry 100, margin 50, leverage 4 at price 95: P/L -5% / -10 USD.
	tests := []struct {
		name  string
		cond  domain.ConditionType
		value float64
		price float64
		fires bool
	}{
		{"price reached", domain.ConditionPrice, 105, 106, true},
		{"price not reached", domain.ConditionPrice, 105, 104, false},
		{"pl pct gain reached", domain.ConditionPLPercentage, 5, 106, true},
		{"pl pct gain not reached", domain.ConditionPLPercentage, 5, 104, false},
		{"pl pct loss reached", domain.ConditionPLPercentage, -5, 95, true},
		{"pl pct loss not reached", domain.ConditionPLPercentage, -5, 96, false},
		{"pl usd gain reached", domain.ConditionPLUSD, 10, 106, true},
		{"pl usd loss reached", domain.ConditionPLUSD, -10, 95, true},
		{"pl usd loss not reached", domain.ConditionPLUSD, -10, 96, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := &MockAlertRuleRepo{}
			feed := NewMockPriceFeed()
			center := newTestCenter()
			defer center.Stop()
			engine := NewAlertEngine(rules, feed, center, zap.NewNop())

			pos := activeLong("pos-1", 100, 0, 0)
			rule := activeRule("rule-1", "pos-1", tt.cond, tt.value)
			feed.SetTick("BTC/USDT", tt.price)

			engine.EvaluatePass(context.Background(), []*domain.AlertRule{rule}, positionSet(pos))

			fired := rules.DeactivateCount() == 1
			if fired != tt.fires {
				t.Errorf("fired = %v, want %v", fired, tt.fires)
			}
		})
	}
}

func TestAlertEngine_FailedDeactivationRetries(t *testing.T) {
	rules := &MockAlertRuleRepo{DeactivateErr: errors.New("db locked")}
	feed := NewMockPriceFeed()
	center := newTestCenter()
	defer center.Stop()
	engine := NewAlertEngine(rules, feed, center, zap.NewNop())

	pos := activeLong("pos-1", 100, 0, 0)
	rule := activeRule("rule-1", "pos-1", domain.ConditionPrice, 105)
	feed.SetTick("BTC/USDT", 106)

	engine.EvaluatePass(context.Background(), []*domain.AlertRule{rule}, positionSet(pos))
	if rules.DeactivateCount() != 0 {
		t.Fatal("failed deactivation must not be recorded")
	}
	if len(center.Active()) != 0 {
		t.Fatal("no notification on failed deactivation")
	}

	rules.mu.Lock()
	rules.DeactivateErr = nil
	rules.mu.Unlock()

	engine.EvaluatePass(context.Background(), []*domain.AlertRule{rule}, positionSet(pos))
	if got := rules.DeactivateCount(); got != 1 {
		t.Fatalf("expected 1 deactivation after recovery, got %d", got)
	}
	if len(center.Active()) != 1 {
		t.Fatal("expected notification after recovery")
	}
}

func TestAlertEngine_SkipsDormantAndOrphanedRules(t *testing.T) {
	rules := &MockAlertRuleRepo{}
	feed := NewMockPriceFeed()
	center := newTestCenter()
	defer center.Stop()
	engine := NewAlertEngine(rules, feed, center, zap.NewNop())

	pos := activeLong("pos-1", 100, 0, 0)
	feed.SetTick("BTC/USDT", 106)

	triggered := time.Now()
	alreadyFired := activeRule("rule-fired", "pos-1", domain.ConditionPrice, 105)
	alreadyFired.TriggeredAt = &triggered

	inactive := activeRule("rule-inactive", "pos-1", domain.ConditionPrice, 105)
	inactive.IsActive = false

	orphan := activeRule("rule-orphan", "pos-missing", domain.ConditionPrice, 105)

	engine.EvaluatePass(context.Background(),
		[]*domain.AlertRule{alreadyFired, inactive, orphan}, positionSet(pos))

	if rules.DeactivateCount() != 0 {
		t.Error("dormant and orphaned rules must not fire")
	}
	if len(center.Active()) != 0 {
		t.Error("no notifications expected")
	}
}

func TestAlertEngine_NoTickSkipsRule(t *testing.T) {
	rules := &MockAlertRuleRepo{}
	feed := NewMockPriceFeed()
	center := newTestCenter()
	defer center.Stop()
	engine := NewAlertEngine(rules, feed, center, zap.NewNop())

	pos := activeLong("pos-1", 100, 0, 0)
	rule := activeRule("rule-1", "pos-1", domain.ConditionPrice, 105)

	engine.EvaluatePass(context.Background(), []*domain.AlertRule{rule}, positionSet(pos))

	if rules.DeactivateCount() != 0 {
		t.Error("rule must wait for a live tick")
	}
}

func TestAlertEngine_PurgesRemovedRules(t *testing.T) {
	rules := &MockAlertRuleRepo{}
	feed := NewMockPriceFeed()
	center := newTestCenter()
	defer center.Stop()
	engine := NewAlertEngine(rules, feed, center, zap.NewNop())

	pos := activeLong("pos-1", 100, 0, 0)
	rule := activeRule("rule-1", "pos-1", domain.ConditionPrice, 105)
	feed.SetTick("BTC/USDT", 106)

	engine.EvaluatePass(context.Background(), []*domain.AlertRule{rule}, positionSet(pos))
	if rules.DeactivateCount() != 1 {
		t.Fatal("rule should have fired")
	}

	// Rule leaves the active set, then returns (deleted and recreated with
	// the same ID). The stale marker must not suppress the new activation.
	engine.EvaluatePass(context.Background(), nil, positionSet(pos))

	fresh := activeRule("rule-1", "pos-1", domain.ConditionPrice, 105)
	engine.EvaluatePass(context.Background(), []*domain.AlertRule{fresh}, positionSet(pos))

	if got := rules.DeactivateCount(); got != 2 {
		t.Errorf("expected recreated rule to fire, got %d deactivations", got)
	}
}
