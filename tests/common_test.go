package tests

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vitos/position_monitor/internal/domain"
	"github.com/vitos/position_monitor/internal/infrastructure/storage"
	"github.com/vitos/position_monitor/internal/usecase"
	"go.uber.org/zap"
)

// MockFeed replaces the exchange stream with a settable tick map.
type MockFeed struct {
	mu        sync.Mutex
	ticks     map[string]domain.PriceTick
	symbols   []string
	callbacks []func(domain.PriceTick)
	closed    bool
}

func NewMockFeed() *MockFeed {
	return &MockFeed{ticks: make(map[string]domain.PriceTick)}
}

func (m *MockFeed) SetSymbols(symbols []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.symbols = symbols
	return nil
}

func (m *MockFeed) LastTick(pair string) (domain.PriceTick, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.ticks[pair]
	return t, ok
}

func (m *MockFeed) Snapshot() map[string]domain.PriceTick {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.PriceTick, len(m.ticks))
	for k, v := range m.ticks {
		out[k] = v
	}
	return out
}

func (m *MockFeed) OnTick(cb func(domain.PriceTick)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

func (m *MockFeed) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockFeed) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockFeed) Symbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.symbols))
	copy(out, m.symbols)
	return out
}

// Push updates a tick and fans it out like the real feed.
func (m *MockFeed) Push(pair string, price float64) {
	tick := domain.PriceTick{Symbol: pair, Price: price}
	m.mu.Lock()
	m.ticks[pair] = tick
	callbacks := make([]func(domain.PriceTick), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()
	for _, cb := range callbacks {
		cb(tick)
	}
}

// RecordingNavigator captures navigation targets.
type RecordingNavigator struct {
	mu      sync.Mutex
	Targets []string
}

func (n *RecordingNavigator) GoToPosition(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Targets = append(n.Targets, id)
}

// MonitorHarness wires the full monitor against an in-memory store and a
// mock feed, with cadences short enough for scenario tests.
type MonitorHarness struct {
	t         *testing.T
	Store     *storage.SQLiteStore
	Feed      *MockFeed
	Center    *usecase.NotificationCenter
	Threshold *usecase.ThresholdMonitor
	Engine    *usecase.AlertEngine
	Service   *usecase.MonitorService
	Navigator *RecordingNavigator
	ctx       context.Context
}

func NewMonitorHarness(t *testing.T) *MonitorHarness {
	store, err := storage.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to init store: %v", err)
	}

	logger := zap.NewNop()
	feed := NewMockFeed()
	nav := &RecordingNavigator{}

	center := usecase.NewNotificationCenter(nil, nav, logger,
		usecase.NotificationConfig{DismissAfter: time.Hour})
	threshold := usecase.NewThresholdMonitor(store, feed, center, logger,
		usecase.ThresholdConfig{Tolerance: 0.0001, RevalueAfter: 25 * time.Millisecond})
	engine := usecase.NewAlertEngine(store, feed, center, logger)
	service := usecase.NewMonitorService(store, store, feed, threshold, engine, center, logger,
		usecase.MonitorConfig{CheckInterval: 10 * time.Millisecond, ReloadInterval: 30 * time.Millisecond})

	return &MonitorHarness{
		t:         t,
		Store:     store,
		Feed:      feed,
		Center:    center,
		Threshold: threshold,
		Engine:    engine,
		Service:   service,
		Navigator: nav,
		ctx:       context.Background(),
	}
}

func (h *MonitorHarness) SavePosition(pos *domain.Position) {
	if err := h.Store.SavePosition(h.ctx, pos); err != nil {
		h.t.Fatalf("failed to save position: %v", err)
	}
}

func (h *MonitorHarness) SaveRule(rule *domain.AlertRule) {
	if err := h.Store.SaveAlertRule(h.ctx, rule); err != nil {
		h.t.Fatalf("failed to save alert rule: %v", err)
	}
}

// RunFor drives the monitor loop for the given duration, then cancels and
// waits for teardown to finish.
func (h *MonitorHarness) RunFor(d time.Duration) {
	ctx, cancel := context.WithCancel(h.ctx)
	done := make(chan struct{})
	go func() {
		h.Service.Run(ctx)
		close(done)
	}()
	time.Sleep(d)
	cancel()
	<-done
}

func longPosition(id string, entry, tp, sl float64) *domain.Position {
	return &domain.Position{
		ID:           id,
		Pair:         "BTC/USDT",
		Side:         domain.SideLong,
		EntryPrice:   entry,
		Margin:       50,
		Leverage:     4,
		TakeProfit:   tp,
		StopLoss:     sl,
		Status:       domain.StatusActive,
		CurrentPrice: entry,
		CreatedAt:    time.Now(),
	}
}

func priceRule(id, positionID string, value float64) *domain.AlertRule {
	return &domain.AlertRule{
		ID:         id,
		PositionID: positionID,
		Condition:  domain.ConditionPrice,
		Value:      value,
		IsActive:   true,
		CreatedAt:  time.Now(),
	}
}
