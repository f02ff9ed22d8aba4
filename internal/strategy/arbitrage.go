package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"hybridbot/internal/domain"
)

// Arbitrage signals when the futures premium over spot exceeds a threshold:
// buy the cheap leg, sell the rich leg, and collect the spread as it closes.
type Arbitrage struct {
	// Threshold is the minimum |premium| as a fraction (0.002 = 0.2%).
	Threshold float64
	// Fraction is the base capital fraction suggested at full confidence.
	Fraction decimal.Decimal
}

// NewArbitrage creates the arbitrage generator.
func NewArbitrage(threshold float64, fraction decimal.Decimal) *Arbitrage {
	return &Arbitrage{Threshold: threshold, Fraction: fraction}
}

func (a *Arbitrage) Kind() domain.StrategyKind { return domain.StrategyArbitrage }

func (a *Arbitrage) Evaluate(snap *domain.MarketSnapshot, view View) *domain.TradeSignal {
	premium := snap.Premium
	if math.Abs(premium) <= a.Threshold || a.Threshold <= 0 {
		return nil
	}
	// Don't stack a second arbitrage pair on an existing one.
	if view.SpotPosition != nil && view.SpotPosition.Strategy == domain.StrategyArbitrage {
		return nil
	}

	// Scales linearly with the spread, saturating at twice the threshold.
	confidence := clamp01(math.Abs(premium) / (2 * a.Threshold))
	sig := &domain.TradeSignal{
		Symbol:     snap.Symbol,
		Kind:       domain.StrategyArbitrage,
		Confidence: confidence,
		Fraction:   a.Fraction.Mul(decimal.NewFromFloat(confidence)),
	}
	if premium > 0 {
		// Futures rich: long the spot leg, short the futures leg.
		sig.Venue = domain.VenueSpot
		sig.Direction = domain.DirectionLong
		sig.Extra = &domain.SignalLeg{Venue: domain.VenueFutures, Direction: domain.DirectionShort}
	} else {
		// Spot rich: long the futures leg, short spot only if we hold it.
		sig.Venue = domain.VenueFutures
		sig.Direction = domain.DirectionLong
		if view.SpotPosition != nil && view.SpotPosition.Side == domain.SideLong {
			sig.Extra = &domain.SignalLeg{Venue: domain.VenueSpot, Direction: domain.DirectionClose}
		}
	}
	return sig
}
