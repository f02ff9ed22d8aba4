package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"hybridbot/internal/domain"
)

// Hedge protects an open spot position with an offsetting futures leg once
// the unrealized loss or the market volatility crosses the protection
// trigger. The hedge is sized to Ratio times the spot notional, not 1:1.
type Hedge struct {
	// ProtectionTrigger is the unrealized loss fraction that arms the hedge
	// (0.03 = hedge at -3%).
	ProtectionTrigger float64
	// VolatilityBound arms the hedge regardless of PnL when exceeded.
	VolatilityBound float64
	Ratio           decimal.Decimal
}

// NewHedge creates the hedging generator.
func NewHedge(protectionTrigger, volatilityBound float64, ratio decimal.Decimal) *Hedge {
	return &Hedge{ProtectionTrigger: protectionTrigger, VolatilityBound: volatilityBound, Ratio: ratio}
}

func (h *Hedge) Kind() domain.StrategyKind { return domain.StrategyHedge }

func (h *Hedge) Evaluate(snap *domain.MarketSnapshot, view View) *domain.TradeSignal {
	spot := view.SpotPosition
	if spot == nil {
		return nil
	}
	if view.FuturesPosition != nil {
		return nil // already hedged (or exposed) on futures
	}

	pnlPct := spot.UnrealizedPnLPct(snap.SpotPrice)
	lossTriggered := pnlPct <= -h.ProtectionTrigger
	volTriggered := h.VolatilityBound > 0 && snap.Spot.Volatility > h.VolatilityBound
	if !lossTriggered && !volTriggered {
		return nil
	}

	confidence := clamp01(math.Abs(pnlPct) / h.ProtectionTrigger)
	if volTriggered && !lossTriggered {
		confidence = clamp01(snap.Spot.Volatility / h.VolatilityBound)
	}

	direction := domain.DirectionShort
	if spot.Side == domain.SideShort {
		direction = domain.DirectionLong
	}

	fraction := decimal.Zero
	if view.TotalEquity.IsPositive() {
		fraction = spot.Notional().Mul(h.Ratio).Div(view.TotalEquity)
	}
	return &domain.TradeSignal{
		Symbol:     snap.Symbol,
		Kind:       domain.StrategyHedge,
		Venue:      domain.VenueFutures,
		Direction:  direction,
		Confidence: confidence,
		Fraction:   fraction,
	}
}
