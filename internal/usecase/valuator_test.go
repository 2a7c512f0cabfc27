package usecase_test

import (
	"testing"

	"github.com/vitos/position_monitor/internal/domain"
	"github.com/vitos/position_monitor/internal/usecase"
)

const epsilon = 0.000001

func floatEquals(a, b float64) bool {
	return (a-b) < epsilon && (b-a) < epsilon
}

func TestValuate(t *testing.T) {
	valuator := usecase.NewValuator()

	tests := []struct {
		name      string
		side      domain.Side
		entry     float64
		current   float64
		margin    float64
		leverage  int
		wantPct   float64
		wantUSD   float64
	}{
		{"Long in profit", domain.SideLong, 100, 110, 50, 4, 10.0, 20.0},
		{"Short in profit", domain.SideShort, 100, 90, 50, 4, 10.0, 20.0},
		{"Long in loss", domain.SideLong, 100, 95, 50, 4, -5.0, -10.0},
		{"Short in loss", domain.SideShort, 100, 105, 50, 4, -5.0, -10.0},
		{"Zero entry -> defined zero", domain.SideLong, 0, 110, 50, 4, 0, 0},
		{"Flat", domain.SideLong, 100, 100, 50, 4, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := &domain.Position{
				Side:       tt.side,
				EntryPrice: tt.entry,
				Margin:     tt.margin,
				Leverage:   tt.leverage,
			}
			val := valuator.Valuate(pos, tt.current)
			if !floatEquals(val.PLPct, tt.wantPct) {
				t.Errorf("PLPct = %f, want %f", val.PLPct, tt.wantPct)
			}
			if !floatEquals(val.PLUSD, tt.wantUSD) {
				t.Errorf("PLUSD = %f, want %f", val.PLUSD, tt.wantUSD)
			}
		})
	}
}

func TestResolvePrice_FallbackChain(t *testing.T) {
	valuator := usecase.NewValuator()
	pos := &domain.Position{EntryPrice: 100, CurrentPrice: 105}

	// Live tick wins.
	got := valuator.ResolvePrice(pos, domain.PriceTick{Price: 110}, true)
	if got != 110 {
		t.Errorf("expected live price 110, got %f", got)
	}

	// No tick -> last persisted price.
	got = valuator.ResolvePrice(pos, domain.PriceTick{}, false)
	if got != 105 {
		t.Errorf("expected persisted price 105, got %f", got)
	}

	// No tick, never persisted -> entry price.
	pos.CurrentPrice = 0
	got = valuator.ResolvePrice(pos, domain.PriceTick{}, false)
	if got != 100 {
		t.Errorf("expected entry price 100, got %f", got)
	}
}
