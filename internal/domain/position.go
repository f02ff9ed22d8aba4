package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side of an open position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Position is an open holding on one venue. Owned exclusively by the
// PortfolioState; every position carries both bracket prices from creation.
type Position struct {
	Symbol     Symbol
	Venue      Venue
	Side       Side
	Size       decimal.Decimal // base units
	EntryPrice decimal.Decimal
	Leverage   int // 1 for spot
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Strategy   StrategyKind
	OpenedAt   time.Time
}

// Notional returns size * entry price.
func (p *Position) Notional() decimal.Decimal {
	return p.Size.Mul(p.EntryPrice)
}

// Margin returns the capital consumed by the position: full notional for
// spot, notional / leverage for futures.
func (p *Position) Margin() decimal.Decimal {
	if p.Venue == VenueFutures && p.Leverage > 1 {
		return p.Notional().Div(decimal.NewFromInt(int64(p.Leverage)))
	}
	return p.Notional()
}

// UnrealizedPnL at the given mark price.
func (p *Position) UnrealizedPnL(mark decimal.Decimal) decimal.Decimal {
	diff := mark.Sub(p.EntryPrice)
	if p.Side == SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(p.Size)
}

// UnrealizedPnLPct returns the unrealized return relative to entry notional.
func (p *Position) UnrealizedPnLPct(mark decimal.Decimal) float64 {
	notional := p.Notional()
	if notional.IsZero() {
		return 0
	}
	pct, _ := p.UnrealizedPnL(mark).Div(notional).Float64()
	return pct
}

// StopHit reports whether the mark price crossed the stop-loss level.
func (p *Position) StopHit(mark decimal.Decimal) bool {
	if p.StopLoss.IsZero() {
		return false
	}
	if p.Side == SideLong {
		return mark.LessThanOrEqual(p.StopLoss)
	}
	return mark.GreaterThanOrEqual(p.StopLoss)
}

// TakeProfitHit reports whether the mark price crossed the take-profit level.
func (p *Position) TakeProfitHit(mark decimal.Decimal) bool {
	if p.TakeProfit.IsZero() {
		return false
	}
	if p.Side == SideLong {
		return mark.GreaterThanOrEqual(p.TakeProfit)
	}
	return mark.LessThanOrEqual(p.TakeProfit)
}

// CloseSide returns the order side that reduces this position.
func (p *Position) CloseSide() Side {
	if p.Side == SideLong {
		return SideShort
	}
	return SideLong
}
