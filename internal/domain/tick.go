package domain

// PriceTick is a single price update for one symbol. Ticks are held only in
// the in-memory symbol map, last value wins; they are never persisted.
type PriceTick struct {
	Symbol       string // app pair format, e.g. "BTC/USDT"
	Price        float64
	High24h      float64
	Low24h       float64
	ChangePct24h float64
	Change24h    float64
}
