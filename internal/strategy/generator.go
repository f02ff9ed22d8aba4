package strategy

import (
	"github.com/shopspring/decimal"

	"hybridbot/internal/domain"
)

// View is the read-only context a generator evaluates against. Generators
// never mutate shared state and never touch the execution boundary.
type View struct {
	// Prev is the symbol's snapshot from the previous cycle, nil on the first.
	Prev *domain.MarketSnapshot
	// SpotPosition and FuturesPosition are copies of the open positions for
	// the symbol, nil when the venue is flat.
	SpotPosition    *domain.Position
	FuturesPosition *domain.Position
	// TotalEquity lets generators express notionals as capital fractions.
	TotalEquity decimal.Decimal
}

// Generator maps a market snapshot to at most one candidate trade signal.
// The four implementations form a closed set; the arbiter switches on Kind.
type Generator interface {
	Kind() domain.StrategyKind
	// Evaluate returns nil when the strategy sees no opportunity.
	Evaluate(snap *domain.MarketSnapshot, view View) *domain.TradeSignal
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
