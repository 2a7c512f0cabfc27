package domain

import "time"

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

type PositionStatus string

const (
	StatusActive        PositionStatus = "ACTIVE"
	StatusTakeProfitHit PositionStatus = "TAKE_PROFIT_HIT"
	StatusStopLossHit   PositionStatus = "STOP_LOSS_HIT"
	StatusClosed        PositionStatus = "CLOSED"
)

// Position represents a leveraged market exposure tracked by the monitor.
// Status transitions are one-directional: once a position leaves ACTIVE it is
// never re-evaluated.
type Position struct {
	ID            string
	Pair          string // app format, e.g. "BTC/USDT"
	Side          Side
	EntryPrice    float64
	Margin        float64
	Leverage      int
	TakeProfit    float64 // 0 = not set
	StopLoss      float64 // 0 = not set
	Status        PositionStatus
	CurrentPrice  float64 // last persisted price
	ProfitLossPct float64
	ProfitLossUSD float64
	CreatedAt     time.Time
	ClosedAt      *time.Time
}

// Terminal reports whether the position has left the ACTIVE state.
func (p *Position) Terminal() bool {
	return p.Status != StatusActive
}

// PositionUpdate is a partial update applied by the monitor. Nil fields are
// left untouched in storage.
type PositionUpdate struct {
	Status        *PositionStatus
	CurrentPrice  *float64
	ProfitLossPct *float64
	ProfitLossUSD *float64
	ClosedAt      *time.Time
}
