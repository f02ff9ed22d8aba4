package domain

import "github.com/shopspring/decimal"

// RiskLimits is the read-only risk configuration for a run.
type RiskLimits struct {
	// PerTradeRisk is the fraction of total equity a single trade may consume.
	PerTradeRisk decimal.Decimal
	// MaxPositionFraction caps aggregate exposure per symbol.
	MaxPositionFraction decimal.Decimal
	// MaxDrawdown freezes all new entries when breached.
	MaxDrawdown decimal.Decimal
	// DrawdownResume is the level drawdown must recover below before new
	// entries are allowed again. Must be <= MaxDrawdown.
	DrawdownResume decimal.Decimal
	MaxLeverage    int
	StopLossPct    decimal.Decimal
	TakeProfitPct  decimal.Decimal
	// KellyCap bounds the Kelly-derived fraction from above.
	KellyCap decimal.Decimal
	// MinTradesForKelly is the trade count below which sizing falls back to
	// PerTradeRisk instead of the Kelly estimate.
	MinTradesForKelly int
	// FeeTolerance is the slack allowed by post-execution reconciliation,
	// as a fraction of total equity.
	FeeTolerance decimal.Decimal
}

// AllocationTarget is the desired spot/futures capital split.
type AllocationTarget struct {
	Spot    decimal.Decimal
	Futures decimal.Decimal
}
