package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"hybridbot/internal/domain"
)

// Momentum trades oscillator extremes anticipating a reversal: long below
// the oversold bound, short above the overbought bound.
type Momentum struct {
	Oversold   float64
	Overbought float64
	Fraction   decimal.Decimal
}

// NewMomentum creates the momentum generator.
func NewMomentum(oversold, overbought float64, fraction decimal.Decimal) *Momentum {
	return &Momentum{Oversold: oversold, Overbought: overbought, Fraction: fraction}
}

func (m *Momentum) Kind() domain.StrategyKind { return domain.StrategyMomentum }

func (m *Momentum) Evaluate(snap *domain.MarketSnapshot, view View) *domain.TradeSignal {
	rsi := snap.Spot.Oscillator
	confidence := clamp01(math.Abs(50-rsi) / 50)

	switch {
	case rsi < m.Oversold:
		if view.SpotPosition != nil {
			return nil
		}
		return &domain.TradeSignal{
			Symbol:     snap.Symbol,
			Kind:       domain.StrategyMomentum,
			Venue:      domain.VenueSpot,
			Direction:  domain.DirectionLong,
			Confidence: confidence,
			Fraction:   m.Fraction.Mul(decimal.NewFromFloat(confidence)),
		}
	case rsi > m.Overbought:
		if view.FuturesPosition != nil {
			return nil
		}
		return &domain.TradeSignal{
			Symbol:     snap.Symbol,
			Kind:       domain.StrategyMomentum,
			Venue:      domain.VenueFutures,
			Direction:  domain.DirectionShort,
			Confidence: confidence,
			Fraction:   m.Fraction.Mul(decimal.NewFromFloat(confidence)),
		}
	}
	return nil
}
