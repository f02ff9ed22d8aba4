package risk

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"hybridbot/internal/domain"
)

// Manager validates accepted signals against the configured risk limits and
// turns them into order specifications. Vetoes are non-fatal: the signal is
// dropped for the cycle.
type Manager struct {
	limits    domain.RiskLimits
	portfolio *domain.PortfolioState

	mu     sync.Mutex
	frozen bool // latched drawdown freeze
}

// NewManager creates a risk manager bound to the portfolio state it reads.
func NewManager(limits domain.RiskLimits, portfolio *domain.PortfolioState) *Manager {
	return &Manager{limits: limits, portfolio: portfolio}
}

// Frozen reports whether new entries are currently vetoed system-wide.
func (m *Manager) Frozen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frozen
}

// entryAllowed updates the drawdown latch and reports whether new entries
// may proceed. The freeze engages above MaxDrawdown and releases only once
// drawdown recovers below DrawdownResume.
func (m *Manager) entryAllowed() bool {
	dd := m.portfolio.Drawdown()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen {
		if dd.LessThan(m.limits.DrawdownResume) {
			m.frozen = false
		}
	} else if dd.GreaterThan(m.limits.MaxDrawdown) {
		m.frozen = true
	}
	return !m.frozen
}

// Approve validates a signal and returns an approved order spec, or a veto.
// Close signals bypass sizing and the drawdown freeze: existing positions can
// always be closed.
func (m *Manager) Approve(sig *domain.TradeSignal, snap *domain.MarketSnapshot) (*domain.OrderSpec, error) {
	if sig.Direction == domain.DirectionClose {
		return m.approveClose(sig)
	}
	if !m.entryAllowed() {
		return nil, fmt.Errorf("%w: %s entry vetoed", domain.ErrDrawdownBreach, sig.Symbol)
	}

	equity := m.portfolio.TotalEquity()
	if !equity.IsPositive() {
		return nil, domain.NewVeto(sig.Symbol, "no equity")
	}

	fraction := m.sizeFraction(sig, snap)
	notional := equity.Mul(fraction)

	// Per-symbol exposure cap, counting what is already open.
	maxExposure := equity.Mul(m.limits.MaxPositionFraction)
	headroom := maxExposure.Sub(m.portfolio.SymbolExposure(sig.Symbol))
	if !headroom.IsPositive() {
		return nil, domain.NewVeto(sig.Symbol, "symbol exposure cap reached")
	}
	if notional.GreaterThan(headroom) {
		notional = headroom
	}

	price := snap.Price(sig.Venue)
	if !price.IsPositive() {
		return nil, domain.NewVeto(sig.Symbol, "no price for venue")
	}
	size := notional.Div(price).Round(8)
	if !size.IsPositive() {
		return nil, domain.NewVeto(sig.Symbol, "size rounds to zero")
	}

	leverage := 1
	if sig.Venue == domain.VenueFutures {
		leverage = m.leverageFor(sig.Confidence)
	}

	side := domain.SideLong
	if sig.Direction == domain.DirectionShort {
		side = domain.SideShort
	}
	vol := snap.Spot.Volatility
	if sig.Venue == domain.VenueFutures {
		vol = snap.Futures.Volatility
	}
	stop, take := m.Brackets(side, price, vol, sig.Confidence)

	return &domain.OrderSpec{
		ClientID:   uuid.NewString(),
		Symbol:     sig.Symbol,
		Venue:      sig.Venue,
		Side:       side,
		Size:       size,
		Leverage:   leverage,
		StopLoss:   stop,
		TakeProfit: take,
		Strategy:   sig.Kind,
	}, nil
}

func (m *Manager) approveClose(sig *domain.TradeSignal) (*domain.OrderSpec, error) {
	pos, ok := m.portfolio.Position(sig.Symbol, sig.Venue)
	if !ok {
		return nil, domain.NewVeto(sig.Symbol, "close signal without open position")
	}
	return &domain.OrderSpec{
		ClientID:   uuid.NewString(),
		Symbol:     sig.Symbol,
		Venue:      sig.Venue,
		Side:       pos.CloseSide(),
		Size:       pos.Size,
		Leverage:   pos.Leverage,
		Strategy:   sig.Kind,
		ReduceOnly: true,
	}, nil
}

// ApproveRebalance validates a rebalancing order. Rebalancing is exempt from
// the per-trade risk cap but still honors the drawdown freeze for anything
// that is not reduce-only.
func (m *Manager) ApproveRebalance(spec *domain.OrderSpec, price decimal.Decimal, volatility float64) error {
	if spec.ReduceOnly {
		return nil
	}
	if !m.entryAllowed() {
		return fmt.Errorf("%w: rebalance entry vetoed", domain.ErrDrawdownBreach)
	}
	if spec.Leverage > m.limits.MaxLeverage {
		spec.Leverage = m.limits.MaxLeverage
	}
	if spec.Leverage < 1 {
		spec.Leverage = 1
	}
	if spec.StopLoss.IsZero() || spec.TakeProfit.IsZero() {
		stop, take := m.Brackets(spec.Side, price, volatility, 1)
		spec.StopLoss, spec.TakeProfit = stop, take
	}
	return nil
}

// sizeFraction returns the capital fraction for a signal: the Kelly-derived
// estimate damped by volatility, bounded by the generator's suggestion and
// the hard per-trade cap.
func (m *Manager) sizeFraction(sig *domain.TradeSignal, snap *domain.MarketSnapshot) decimal.Decimal {
	kelly := m.kellyFraction()
	damp := 1 / (1 + 10*snap.Spot.Volatility)
	fraction := kelly.Mul(decimal.NewFromFloat(sig.Confidence * damp))

	if sig.Fraction.IsPositive() && sig.Fraction.LessThan(fraction) {
		fraction = sig.Fraction
	}
	if fraction.GreaterThan(m.limits.PerTradeRisk) {
		fraction = m.limits.PerTradeRisk
	}
	return fraction
}

// kellyFraction estimates the Kelly capital fraction from the rolling trade
// statistics: (w*avgWin - (1-w)*avgLoss) / avgWin, clamped to [0, KellyCap].
// With too little history the estimator degenerates, so it falls back to the
// configured per-trade fraction instead.
func (m *Manager) kellyFraction() decimal.Decimal {
	if m.portfolio.TradeCount() < m.limits.MinTradesForKelly {
		return m.limits.PerTradeRisk
	}
	w := m.portfolio.WinRate()
	avgWin := m.portfolio.AvgWinPct()
	avgLoss := m.portfolio.AvgLossPct()
	if avgWin <= 0 {
		return m.limits.PerTradeRisk
	}
	kelly := (w*avgWin - (1-w)*avgLoss) / avgWin
	if kelly <= 0 {
		return decimal.Zero
	}
	f := decimal.NewFromFloat(kelly)
	if f.GreaterThan(m.limits.KellyCap) {
		return m.limits.KellyCap
	}
	return f
}

// leverageFor scales leverage with confidence, at least 1, capped at the limit.
func (m *Manager) leverageFor(confidence float64) int {
	lev := int(confidence * float64(m.limits.MaxLeverage))
	if lev < 1 {
		lev = 1
	}
	if lev > m.limits.MaxLeverage {
		lev = m.limits.MaxLeverage
	}
	return lev
}

// Brackets computes the stop-loss and take-profit prices for an entry.
// The stop widens with volatility up to twice the configured distance; the
// take-profit grows with confidence but keeps at most a 2:1 reward ratio.
func (m *Manager) Brackets(side domain.Side, entry decimal.Decimal, volatility, confidence float64) (stop, take decimal.Decimal) {
	stopDist := m.limits.StopLossPct
	volDist := decimal.NewFromFloat(2 * volatility)
	maxDist := m.limits.StopLossPct.Mul(decimal.NewFromInt(2))
	if volDist.GreaterThan(stopDist) {
		stopDist = volDist
	}
	if stopDist.GreaterThan(maxDist) {
		stopDist = maxDist
	}

	takeDist := m.limits.TakeProfitPct.Mul(decimal.NewFromFloat(1 + confidence))
	if rr := stopDist.Mul(decimal.NewFromInt(2)); takeDist.GreaterThan(rr) {
		takeDist = rr
	}

	one := decimal.NewFromInt(1)
	if side == domain.SideLong {
		return entry.Mul(one.Sub(stopDist)), entry.Mul(one.Add(takeDist))
	}
	return entry.Mul(one.Add(stopDist)), entry.Mul(one.Sub(takeDist))
}
