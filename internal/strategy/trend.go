package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"hybridbot/internal/domain"
)

// Trend signals when the spot and futures combined indicators point the same
// way with enough strength on both legs. Bullish trends take the spot leg
// with a mirrored futures leg; bearish trends short futures only.
type Trend struct {
	// Sensitivity is the minimum |combined| required on each venue.
	Sensitivity float64
	Fraction    decimal.Decimal
}

// NewTrend creates the trend-following generator.
func NewTrend(sensitivity float64, fraction decimal.Decimal) *Trend {
	return &Trend{Sensitivity: sensitivity, Fraction: fraction}
}

func (t *Trend) Kind() domain.StrategyKind { return domain.StrategyTrend }

func (t *Trend) Evaluate(snap *domain.MarketSnapshot, view View) *domain.TradeSignal {
	spot, fut := snap.Spot.Combined, snap.Futures.Combined
	if math.Abs(spot) < t.Sensitivity || math.Abs(fut) < t.Sensitivity {
		return nil
	}
	if spot*fut <= 0 { // venues disagree
		return nil
	}
	// Require the direction to persist from the previous cycle when we have one.
	if view.Prev != nil && view.Prev.Spot.Combined*spot < 0 {
		return nil
	}

	confidence := clamp01((math.Abs(spot) + math.Abs(fut)) / 2)
	sig := &domain.TradeSignal{
		Symbol:     snap.Symbol,
		Kind:       domain.StrategyTrend,
		Confidence: confidence,
		Fraction:   t.Fraction.Mul(decimal.NewFromFloat(confidence)),
	}
	if spot > 0 {
		if view.SpotPosition != nil {
			return nil // already long the trend
		}
		sig.Venue = domain.VenueSpot
		sig.Direction = domain.DirectionLong
		sig.Extra = &domain.SignalLeg{Venue: domain.VenueFutures, Direction: domain.DirectionLong}
	} else {
		if view.FuturesPosition != nil {
			return nil
		}
		sig.Venue = domain.VenueFutures
		sig.Direction = domain.DirectionShort
	}
	return sig
}
