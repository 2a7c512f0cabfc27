package usecase

import "github.com/vitos/position_monitor/internal/domain"

// Valuation is the result of revaluing a position at a price.
type Valuation struct {
	Price float64
	PLPct float64
	PLUSD float64
}

type Valuator struct{}

func NewValuator() *Valuator {
	return &Valuator{}
}

// Valuate computes percentage and absolute P/L for a position at the given
// price. Pure, no side effects. A zero entry price yields zero P/L by
// definition rather than an error.
func (v *Valuator) Valuate(pos *domain.Position, price float64) Valuation {
	if pos.EntryPrice == 0 {
		return Valuation{Price: price}
	}

	var plPct float64
	if pos.Side == domain.SideShort {
		plPct = (pos.EntryPrice - price) / pos.EntryPrice * 100
	} else {
		plPct = (price - pos.EntryPrice) / pos.EntryPrice * 100
	}

	plUSD := plPct / 100 * pos.Margin * float64(pos.Leverage)

	return Valuation{Price: price, PLPct: plPct, PLUSD: plUSD}
}

// ResolvePrice picks the price to valuate against: the live tick when the
// stream has one, otherwise the last persisted price, otherwise the entry
// price.
func (v *Valuator) ResolvePrice(pos *domain.Position, tick domain.PriceTick, haveTick bool) float64 {
	if haveTick && tick.Price > 0 {
		return tick.Price
	}
	if pos.CurrentPrice > 0 {
		return pos.CurrentPrice
	}
	return pos.EntryPrice
}
