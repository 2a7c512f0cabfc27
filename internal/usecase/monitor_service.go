package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vitos/position_monitor/internal/domain"
	"go.uber.org/zap"
)

// MonitorConfig carries the cadences of the orchestration loop.
type MonitorConfig struct {
	// CheckInterval is the fixed evaluation cadence. A position is evaluated
	// at most once per interval regardless of tick arrival rate.
	CheckInterval time.Duration
	// ReloadInterval is how often positions and rules are re-read from
	// storage and the feed subscription is refreshed.
	ReloadInterval time.Duration
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		CheckInterval:  1 * time.Second,
		ReloadInterval: 10 * time.Second,
	}
}

// PositionValuation pairs a position with its live valuation for the
// presentation layer. The core exposes plain data; rendering lives elsewhere.
type PositionValuation struct {
	Position domain.Position `json:"position"`
	Price    float64         `json:"price"`
	PLPct    float64         `json:"pl_pct"`
	PLUSD    float64         `json:"pl_usd"`
	Live     bool            `json:"live"` // false when falling back to persisted price
}

// MonitorService wires the price feed to the threshold monitor and the alert
// engine. All evaluation runs on one loop goroutine; the check cadence is
// independent of tick arrival rate.
type MonitorService struct {
	positions     domain.PositionRepository
	rules         domain.AlertRuleRepository
	feed          domain.PriceFeed
	threshold     *ThresholdMonitor
	alerts        *AlertEngine
	notifications *NotificationCenter
	valuator      *Valuator
	logger        *zap.Logger
	cfg           MonitorConfig

	mu        sync.RWMutex
	posCache  []*domain.Position
	ruleCache []*domain.AlertRule
	known     map[string]bool // announced position IDs
	loaded    bool
}

func NewMonitorService(
	positions domain.PositionRepository,
	rules domain.AlertRuleRepository,
	feed domain.PriceFeed,
	threshold *ThresholdMonitor,
	alerts *AlertEngine,
	notifications *NotificationCenter,
	logger *zap.Logger,
	cfg MonitorConfig,
) *MonitorService {
	return &MonitorService{
		positions:     positions,
		rules:         rules,
		feed:          feed,
		threshold:     threshold,
		alerts:        alerts,
		notifications: notifications,
		valuator:      NewValuator(),
		logger:        logger,
		cfg:           cfg,
		known:         make(map[string]bool),
	}
}

// Run drives the reload and check loops until ctx is cancelled, then tears
// everything down: pending timers are cancelled and the stream is closed.
func (m *MonitorService) Run(ctx context.Context) {
	if err := m.Reload(ctx); err != nil {
		m.logger.Error("initial reload failed", zap.Error(err))
	}

	reload := time.NewTicker(m.cfg.ReloadInterval)
	check := time.NewTicker(m.cfg.CheckInterval)
	defer reload.Stop()
	defer check.Stop()

	for {
		select {
		case <-ctx.Done():
			m.teardown()
			return
		case <-reload.C:
			if err := m.Reload(ctx); err != nil {
				m.logger.Error("reload failed", zap.Error(err))
			}
		case <-check.C:
			m.checkPass(ctx)
		}
	}
}

func (m *MonitorService) teardown() {
	m.threshold.Stop()
	m.notifications.Stop()
	if err := m.feed.Close(); err != nil {
		m.logger.Warn("feed close failed", zap.Error(err))
	}
	m.logger.Info("monitor stopped")
}

// Reload refreshes the position and rule caches from storage and adjusts the
// feed subscription to the current pair set. Newly observed ACTIVE positions
// are announced with a POSITION_OPENED notification.
func (m *MonitorService) Reload(ctx context.Context) error {
	positions, err := m.positions.ListActivePositions(ctx)
	if err != nil {
		return fmt.Errorf("list positions: %w", err)
	}
	rules, err := m.rules.ListActiveAlertRules(ctx)
	if err != nil {
		return fmt.Errorf("list alert rules: %w", err)
	}

	current := make(map[string]bool, len(positions))
	pairs := make(map[string]bool)
	var opened []*domain.Position

	m.mu.Lock()
	wasLoaded := m.loaded
	for _, p := range positions {
		current[p.ID] = true
		pairs[p.Pair] = true
		if !m.known[p.ID] {
			m.known[p.ID] = true
			if wasLoaded {
				opened = append(opened, p)
			}
		}
	}
	var gone []string
	for id := range m.known {
		if !current[id] {
			delete(m.known, id)
			gone = append(gone, id)
		}
	}
	m.posCache = positions
	m.ruleCache = rules
	m.loaded = true
	m.mu.Unlock()

	for _, id := range gone {
		m.threshold.Forget(id)
	}

	symbols := make([]string, 0, len(pairs))
	for p := range pairs {
		symbols = append(symbols, p)
	}
	sort.Strings(symbols)
	if err := m.feed.SetSymbols(symbols); err != nil {
		m.logger.Error("feed resubscription failed", zap.Error(err))
	}

	for _, p := range opened {
		m.notifications.Show(&domain.Notification{
			ID:         domain.NotificationID(domain.KindPositionOpened, p.ID),
			Kind:       domain.KindPositionOpened,
			PositionID: p.ID,
			Pair:       p.Pair,
			Title:      "Position opened",
			Message:    fmt.Sprintf("%s %s @ %.4f (%dx)", p.Pair, p.Side, p.EntryPrice, p.Leverage),
			Value:      p.EntryPrice,
			CreatedAt:  time.Now(),
		})
	}

	return nil
}

func (m *MonitorService) checkPass(ctx context.Context) {
	m.mu.RLock()
	positions := m.posCache
	rules := m.ruleCache
	m.mu.RUnlock()

	m.threshold.Check(ctx, positions)

	byID := make(map[string]*domain.Position, len(positions))
	for _, p := range positions {
		if !p.Terminal() {
			byID[p.ID] = p
		}
	}
	m.alerts.EvaluatePass(ctx, rules, byID)
}

// Valuations returns the cached positions revalued at the latest known
// prices, falling back to the last persisted price when the stream has no
// tick yet.
func (m *MonitorService) Valuations() []PositionValuation {
	m.mu.RLock()
	positions := m.posCache
	m.mu.RUnlock()

	out := make([]PositionValuation, 0, len(positions))
	for _, p := range positions {
		tick, ok := m.feed.LastTick(p.Pair)
		price := m.valuator.ResolvePrice(p, tick, ok)
		val := m.valuator.Valuate(p, price)
		out = append(out, PositionValuation{
			Position: *p,
			Price:    val.Price,
			PLPct:    val.PLPct,
			PLUSD:    val.PLUSD,
			Live:     ok,
		})
	}
	return out
}

// Ticks exposes the latest tick per subscribed pair.
func (m *MonitorService) Ticks() map[string]domain.PriceTick {
	return m.feed.Snapshot()
}

// Notifications exposes the active notification queue for the web layer.
func (m *MonitorService) Notifications() *NotificationCenter {
	return m.notifications
}
