package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/position_monitor/internal/domain"
	"go.uber.org/zap"
)

// ThresholdConfig carries the tuning constants for TP/SL detection. The
// defaults match the values the monitor has always shipped with; they are
// configurable, not re-derived.
type ThresholdConfig struct {
	// Tolerance widens the crossing band to absorb tick jitter at the exact
	// boundary. Expressed as a fraction: 0.0001 = one basis point.
	Tolerance float64
	// RevalueAfter is the delay before a non-triggering revaluation write is
	// persisted. It bounds the write rate to at most one per position per
	// interval regardless of tick frequency.
	RevalueAfter time.Duration
}

func DefaultThresholdConfig() ThresholdConfig {
	return ThresholdConfig{
		Tolerance:    0.0001,
		RevalueAfter: 30 * time.Second,
	}
}

// ThresholdMonitor watches ACTIVE positions for take-profit / stop-loss
// crossings. Each position is driven through a small state machine: evaluable
// -> in-flight (a write is pending) -> terminal (hit persisted, never
// re-entered). The in-flight and terminal sets are the concurrency guard
// against overlapping check passes.
type ThresholdMonitor struct {
	positions     domain.PositionRepository
	feed          domain.PriceFeed
	valuator      *Valuator
	notifications *NotificationCenter
	logger        *zap.Logger
	cfg           ThresholdConfig

	mu       sync.Mutex
	inFlight map[string]bool
	terminal map[string]bool
	pending  map[string]*time.Timer
	stopped  bool
}

func NewThresholdMonitor(
	positions domain.PositionRepository,
	feed domain.PriceFeed,
	notifications *NotificationCenter,
	logger *zap.Logger,
	cfg ThresholdConfig,
) *ThresholdMonitor {
	return &ThresholdMonitor{
		positions:     positions,
		feed:          feed,
		valuator:      NewValuator(),
		notifications: notifications,
		logger:        logger,
		cfg:           cfg,
		inFlight:      make(map[string]bool),
		terminal:      make(map[string]bool),
		pending:       make(map[string]*time.Timer),
	}
}

// Check runs one evaluation pass over the given positions. Positions without
// a live tick are skipped for the cycle and picked up again once the stream
// has data for them.
func (m *ThresholdMonitor) Check(ctx context.Context, positions []*domain.Position) {
	for _, pos := range positions {
		if pos.Terminal() {
			continue
		}

		m.mu.Lock()
		if m.stopped || m.inFlight[pos.ID] || m.terminal[pos.ID] {
			m.mu.Unlock()
			continue
		}
		m.mu.Unlock()

		tick, ok := m.feed.LastTick(pos.Pair)
		if !ok || tick.Price <= 0 {
			continue
		}

		val := m.valuator.Valuate(pos, tick.Price)

		if status, hit := m.crossing(pos, tick.Price); hit {
			m.trigger(ctx, pos, status, val)
			continue
		}

		m.scheduleRevaluation(pos)
	}
}

// crossing applies the tolerance band from the config. A long take-profit at
// 100 counts as hit from 99.99 upward; stop-loss is symmetric.
func (m *ThresholdMonitor) crossing(pos *domain.Position, price float64) (domain.PositionStatus, bool) {
	tol := m.cfg.Tolerance

	if pos.TakeProfit > 0 {
		if pos.Side == domain.SideLong && price >= pos.TakeProfit*(1-tol) {
			return domain.StatusTakeProfitHit, true
		}
		if pos.Side == domain.SideShort && price <= pos.TakeProfit*(1+tol) {
			return domain.StatusTakeProfitHit, true
		}
	}

	if pos.StopLoss > 0 {
		if pos.Side == domain.SideLong && price <= pos.StopLoss*(1+tol) {
			return domain.StatusStopLossHit, true
		}
		if pos.Side == domain.SideShort && price >= pos.StopLoss*(1-tol) {
			return domain.StatusStopLossHit, true
		}
	}

	return "", false
}

// trigger persists the terminal transition exactly once and emits the TP_SL
// notification. A failed write clears the in-flight marker so the position
// re-enters evaluation on the next pass; there is no tight retry loop.
func (m *ThresholdMonitor) trigger(ctx context.Context, pos *domain.Position, status domain.PositionStatus, val Valuation) {
	m.mu.Lock()
	m.inFlight[pos.ID] = true
	if t, ok := m.pending[pos.ID]; ok {
		t.Stop()
		delete(m.pending, pos.ID)
	}
	m.mu.Unlock()

	now := time.Now()
	update := domain.PositionUpdate{
		Status:        &status,
		CurrentPrice:  &val.Price,
		ProfitLossPct: &val.PLPct,
		ProfitLossUSD: &val.PLUSD,
		ClosedAt:      &now,
	}

	if err := m.positions.UpdatePosition(ctx, pos.ID, update); err != nil {
		m.logger.Error("failed to persist threshold hit, will retry on next pass",
			zap.String("position", pos.ID), zap.String("status", string(status)), zap.Error(err))
		m.mu.Lock()
		delete(m.inFlight, pos.ID)
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	m.terminal[pos.ID] = true
	m.mu.Unlock()

	m.logger.Info("threshold hit",
		zap.String("position", pos.ID), zap.String("pair", pos.Pair),
		zap.String("status", string(status)), zap.Float64("price", val.Price),
		zap.Float64("pl_pct", val.PLPct))

	title := "Take Profit hit"
	if status == domain.StatusStopLossHit {
		title = "Stop Loss hit"
	}
	m.notifications.Show(&domain.Notification{
		ID:         domain.NotificationID(domain.KindTPSL, pos.ID),
		Kind:       domain.KindTPSL,
		PositionID: pos.ID,
		Pair:       pos.Pair,
		Title:      title,
		Message:    fmt.Sprintf("%s %s @ %.4f (%+.2f%% / %+.2f USD)", pos.Pair, pos.Side, val.Price, val.PLPct, val.PLUSD),
		Value:      val.Price,
		CreatedAt:  time.Now(),
	})
}

// scheduleRevaluation arms one background write for the position unless one
// is already pending. The write fires after RevalueAfter and is dropped if
// the position has gone in-flight or terminal in the meantime.
func (m *ThresholdMonitor) scheduleRevaluation(pos *domain.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	if _, ok := m.pending[pos.ID]; ok {
		return
	}

	p := pos
	m.pending[p.ID] = time.AfterFunc(m.cfg.RevalueAfter, func() {
		m.revalue(p)
	})
}

func (m *ThresholdMonitor) revalue(pos *domain.Position) {
	m.mu.Lock()
	delete(m.pending, pos.ID)
	if m.stopped || m.inFlight[pos.ID] || m.terminal[pos.ID] {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	tick, ok := m.feed.LastTick(pos.Pair)
	price := m.valuator.ResolvePrice(pos, tick, ok)
	val := m.valuator.Valuate(pos, price)

	update := domain.PositionUpdate{
		CurrentPrice:  &val.Price,
		ProfitLossPct: &val.PLPct,
		ProfitLossUSD: &val.PLUSD,
	}

	if err := m.positions.UpdatePosition(context.Background(), pos.ID, update); err != nil {
		m.logger.Warn("background revaluation write failed",
			zap.String("position", pos.ID), zap.Error(err))
	}
}

// Forget drops all runtime state for a position. Called when a position
// disappears from the active set so the marker maps stay bounded.
func (m *ThresholdMonitor) Forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.pending[id]; ok {
		t.Stop()
		delete(m.pending, id)
	}
	delete(m.inFlight, id)
	delete(m.terminal, id)
}

// PendingUpdates returns the number of scheduled background writes.
func (m *ThresholdMonitor) PendingUpdates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Stop cancels all pending background writes. The monitor accepts no further
// work after Stop.
func (m *ThresholdMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	for id, t := range m.pending {
		t.Stop()
		delete(m.pending, id)
	}
}
