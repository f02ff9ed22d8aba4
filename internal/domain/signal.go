package domain

import "github.com/shopspring/decimal"

// StrategyKind tags the closed set of signal generators.
type StrategyKind string

const (
	StrategyArbitrage StrategyKind = "ARBITRAGE"
	StrategyHedge     StrategyKind = "HEDGE"
	StrategyTrend     StrategyKind = "TREND"
	StrategyMomentum  StrategyKind = "MOMENTUM"
	StrategyRebalance StrategyKind = "REBALANCE"
)

// Direction of a trade signal.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
	DirectionClose Direction = "CLOSE"
)

// SignalLeg is a secondary leg carried by paired signals (arbitrage takes the
// opposite side on the other venue, trend mirrors the primary on futures).
type SignalLeg struct {
	Venue     Venue
	Direction Direction
}

// TradeSignal is a candidate trade produced by one generator for one cycle.
// Ephemeral: consumed by the arbiter and discarded.
type TradeSignal struct {
	Symbol     Symbol
	Kind       StrategyKind
	Venue      Venue
	Direction  Direction
	Confidence float64 // 0..1
	// Fraction is the suggested notional as a fraction of total equity.
	// The risk manager may shrink it, never grow it.
	Fraction decimal.Decimal
	// Extra is an optional second leg submitted with the same size.
	Extra *SignalLeg
}
