package domain

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type positionKey struct {
	Symbol Symbol
	Venue  Venue
}

// PortfolioState is the single process-wide portfolio. It is mutated only by
// the execution coordinator and the rebalancer; everything else gets
// read-only copies. All access is serialized by the internal lock.
type PortfolioState struct {
	mu          sync.RWMutex
	spotCash    decimal.Decimal
	futuresCash decimal.Decimal
	positions   map[positionKey]*Position
	marks       map[positionKey]decimal.Decimal

	realizedPnL decimal.Decimal
	peakEquity  decimal.Decimal
	trades      int
	wins        int
	losses      int
	sumWinPct   decimal.Decimal // sum of winning trade returns (fractions)
	sumLossPct  decimal.Decimal // sum of losing trade return magnitudes
}

// PortfolioSummary is the serializable snapshot of the portfolio, used for
// persistence and crash recovery of the performance statistics.
type PortfolioSummary struct {
	TotalEquity   decimal.Decimal
	SpotEquity    decimal.Decimal
	FuturesEquity decimal.Decimal
	RealizedPnL   decimal.Decimal
	PeakEquity    decimal.Decimal
	Trades        int
	Wins          int
	Losses        int
	SumWinPct     decimal.Decimal
	SumLossPct    decimal.Decimal
	OpenPositions int
	At            time.Time
}

// NewPortfolioState seeds the portfolio from the venue cash balances.
func NewPortfolioState(spotCash, futuresCash decimal.Decimal) *PortfolioState {
	ps := &PortfolioState{
		spotCash:    spotCash,
		futuresCash: futuresCash,
		positions:   make(map[positionKey]*Position),
		marks:       make(map[positionKey]decimal.Decimal),
	}
	ps.peakEquity = spotCash.Add(futuresCash)
	return ps
}

// RestoreStats rehydrates the performance counters from a saved summary.
// Cash and positions always come from the live exchange, never from disk.
func (ps *PortfolioState) RestoreStats(s *PortfolioSummary) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.realizedPnL = s.RealizedPnL
	ps.trades = s.Trades
	ps.wins = s.Wins
	ps.losses = s.Losses
	ps.sumWinPct = s.SumWinPct
	ps.sumLossPct = s.SumLossPct
	if s.PeakEquity.GreaterThan(ps.peakEquity) {
		ps.peakEquity = s.PeakEquity
	}
}

func (ps *PortfolioState) mark(k positionKey) decimal.Decimal {
	if m, ok := ps.marks[k]; ok && !m.IsZero() {
		return m
	}
	if p, ok := ps.positions[k]; ok {
		return p.EntryPrice
	}
	return decimal.Zero
}

// lock must be held
func (ps *PortfolioState) venueEquity(venue Venue) decimal.Decimal {
	eq := ps.spotCash
	if venue == VenueFutures {
		eq = ps.futuresCash
	}
	for k, p := range ps.positions {
		if k.Venue != venue {
			continue
		}
		eq = eq.Add(p.Margin()).Add(p.UnrealizedPnL(ps.mark(k)))
	}
	return eq
}

// Cash returns the free (unallocated) cash on a venue.
func (ps *PortfolioState) Cash(venue Venue) decimal.Decimal {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	if venue == VenueFutures {
		return ps.futuresCash
	}
	return ps.spotCash
}

// SpotEquity returns spot cash plus the value of spot holdings.
func (ps *PortfolioState) SpotEquity() decimal.Decimal {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.venueEquity(VenueSpot)
}

// FuturesEquity returns futures cash plus margin and unrealized PnL.
func (ps *PortfolioState) FuturesEquity() decimal.Decimal {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.venueEquity(VenueFutures)
}

// TotalEquity is spot equity + futures equity, both marked to market.
func (ps *PortfolioState) TotalEquity() decimal.Decimal {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.venueEquity(VenueSpot).Add(ps.venueEquity(VenueFutures))
}

// SpotRatio returns spot equity / total equity, or zero when empty.
func (ps *PortfolioState) SpotRatio() decimal.Decimal {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	spot := ps.venueEquity(VenueSpot)
	total := spot.Add(ps.venueEquity(VenueFutures))
	if total.IsZero() {
		return decimal.Zero
	}
	return spot.Div(total)
}

// Drawdown is the peak-to-current equity decline as a fraction, never negative.
func (ps *PortfolioState) Drawdown() decimal.Decimal {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	if ps.peakEquity.IsZero() {
		return decimal.Zero
	}
	total := ps.venueEquity(VenueSpot).Add(ps.venueEquity(VenueFutures))
	dd := ps.peakEquity.Sub(total).Div(ps.peakEquity)
	if dd.IsNegative() {
		return decimal.Zero
	}
	return dd
}

// UpdateMark records the latest price for a venue position and advances the
// equity peak. No-op when the position does not exist.
func (ps *PortfolioState) UpdateMark(symbol Symbol, venue Venue, price decimal.Decimal) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	k := positionKey{symbol, venue}
	if _, ok := ps.positions[k]; !ok {
		return
	}
	ps.marks[k] = price
	total := ps.venueEquity(VenueSpot).Add(ps.venueEquity(VenueFutures))
	if total.GreaterThan(ps.peakEquity) {
		ps.peakEquity = total
	}
}

// Position returns a copy of the open position for symbol+venue.
func (ps *PortfolioState) Position(symbol Symbol, venue Venue) (Position, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	p, ok := ps.positions[positionKey{symbol, venue}]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// HasPosition reports whether any venue holds the symbol.
func (ps *PortfolioState) HasPosition(symbol Symbol) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	for k := range ps.positions {
		if k.Symbol == symbol {
			return true
		}
	}
	return false
}

// Positions returns copies of all open positions.
func (ps *PortfolioState) Positions() []Position {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make([]Position, 0, len(ps.positions))
	for _, p := range ps.positions {
		out = append(out, *p)
	}
	return out
}

// SymbolExposure returns the aggregate entry notional across venues.
func (ps *PortfolioState) SymbolExposure(symbol Symbol) decimal.Decimal {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	total := decimal.Zero
	for k, p := range ps.positions {
		if k.Symbol == symbol {
			total = total.Add(p.Notional())
		}
	}
	return total
}

// OpenPosition adds a new position, debiting the venue cash by its margin.
// At most one position per symbol and venue may exist.
func (ps *PortfolioState) OpenPosition(p *Position) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	k := positionKey{p.Symbol, p.Venue}
	if _, ok := ps.positions[k]; ok {
		return fmt.Errorf("%w: %s %s", ErrPositionExists, p.Symbol, p.Venue)
	}
	margin := p.Margin()
	if err := ps.debit(p.Venue, margin); err != nil {
		return err
	}
	cp := *p
	ps.positions[k] = &cp
	ps.marks[k] = p.EntryPrice
	return nil
}

// IncreasePosition adds size to an existing same-side position at the given
// fill price, averaging the entry.
func (ps *PortfolioState) IncreasePosition(symbol Symbol, venue Venue, size, price decimal.Decimal) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	k := positionKey{symbol, venue}
	p, ok := ps.positions[k]
	if !ok {
		return fmt.Errorf("no position to increase: %s %s", symbol, venue)
	}
	addNotional := size.Mul(price)
	addMargin := addNotional
	if venue == VenueFutures && p.Leverage > 1 {
		addMargin = addNotional.Div(decimal.NewFromInt(int64(p.Leverage)))
	}
	if err := ps.debit(venue, addMargin); err != nil {
		return err
	}
	newSize := p.Size.Add(size)
	p.EntryPrice = p.Notional().Add(addNotional).Div(newSize)
	p.Size = newSize
	return nil
}

// ReducePosition closes size units at the given price, realizing PnL and
// crediting the venue cash. Returns the realized PnL and whether the
// position is fully closed.
func (ps *PortfolioState) ReducePosition(symbol Symbol, venue Venue, size, price decimal.Decimal) (decimal.Decimal, bool, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	k := positionKey{symbol, venue}
	p, ok := ps.positions[k]
	if !ok {
		return decimal.Zero, false, fmt.Errorf("no position to reduce: %s %s", symbol, venue)
	}
	if size.GreaterThan(p.Size) {
		size = p.Size
	}
	closed := &Position{Symbol: symbol, Venue: venue, Side: p.Side,
		Size: size, EntryPrice: p.EntryPrice, Leverage: p.Leverage}
	pnl := closed.UnrealizedPnL(price)
	ps.credit(venue, closed.Margin().Add(pnl))
	ps.recordRealized(pnl, closed.Notional())

	p.Size = p.Size.Sub(size)
	if p.Size.IsZero() || p.Size.IsNegative() {
		delete(ps.positions, k)
		delete(ps.marks, k)
		return pnl, true, nil
	}
	return pnl, false, nil
}

// ApplyTransfer moves cash between venues.
func (ps *PortfolioState) ApplyTransfer(from, to Venue, amount decimal.Decimal) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if err := ps.debit(from, amount); err != nil {
		return err
	}
	ps.credit(to, amount)
	return nil
}

// lock must be held
func (ps *PortfolioState) debit(venue Venue, amount decimal.Decimal) error {
	cash := &ps.spotCash
	if venue == VenueFutures {
		cash = &ps.futuresCash
	}
	if amount.GreaterThan(*cash) {
		return fmt.Errorf("insufficient %s cash: need %s, have %s", venue, amount, *cash)
	}
	*cash = cash.Sub(amount)
	return nil
}

// lock must be held
func (ps *PortfolioState) credit(venue Venue, amount decimal.Decimal) {
	if venue == VenueFutures {
		ps.futuresCash = ps.futuresCash.Add(amount)
		return
	}
	ps.spotCash = ps.spotCash.Add(amount)
}

// lock must be held
func (ps *PortfolioState) recordRealized(pnl, notional decimal.Decimal) {
	ps.realizedPnL = ps.realizedPnL.Add(pnl)
	ps.trades++
	if notional.IsZero() {
		return
	}
	ret := pnl.Div(notional)
	if pnl.IsPositive() {
		ps.wins++
		ps.sumWinPct = ps.sumWinPct.Add(ret)
	} else if pnl.IsNegative() {
		ps.losses++
		ps.sumLossPct = ps.sumLossPct.Add(ret.Abs())
	}
}

// TradeCount returns the number of realized trades.
func (ps *PortfolioState) TradeCount() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.trades
}

// WinRate returns the fraction of realized trades that were profitable.
func (ps *PortfolioState) WinRate() float64 {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	if ps.wins+ps.losses == 0 {
		return 0
	}
	return float64(ps.wins) / float64(ps.wins+ps.losses)
}

// AvgWinPct returns the mean winning return, as a fraction.
func (ps *PortfolioState) AvgWinPct() float64 {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	if ps.wins == 0 {
		return 0
	}
	v, _ := ps.sumWinPct.Div(decimal.NewFromInt(int64(ps.wins))).Float64()
	return v
}

// AvgLossPct returns the mean losing return magnitude, as a fraction.
func (ps *PortfolioState) AvgLossPct() float64 {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	if ps.losses == 0 {
		return 0
	}
	v, _ := ps.sumLossPct.Div(decimal.NewFromInt(int64(ps.losses))).Float64()
	return v
}

// Reconcile verifies the equity state right after execution. Negative total
// equity or cash is unrecoverable corruption and stops the engine.
func (ps *PortfolioState) Reconcile(tolerance decimal.Decimal) error {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	total := ps.venueEquity(VenueSpot).Add(ps.venueEquity(VenueFutures))
	slack := total.Abs().Mul(tolerance)
	if total.IsNegative() {
		return fmt.Errorf("%w: total equity %s", ErrStateCorrupted, total)
	}
	if ps.spotCash.Add(slack).IsNegative() || ps.futuresCash.Add(slack).IsNegative() {
		return fmt.Errorf("%w: spot cash %s, futures cash %s",
			ErrStateCorrupted, ps.spotCash, ps.futuresCash)
	}
	return nil
}

// Summary returns a serializable snapshot for persistence.
func (ps *PortfolioState) Summary() PortfolioSummary {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	spot := ps.venueEquity(VenueSpot)
	fut := ps.venueEquity(VenueFutures)
	return PortfolioSummary{
		TotalEquity:   spot.Add(fut),
		SpotEquity:    spot,
		FuturesEquity: fut,
		RealizedPnL:   ps.realizedPnL,
		PeakEquity:    ps.peakEquity,
		Trades:        ps.trades,
		Wins:          ps.wins,
		Losses:        ps.losses,
		SumWinPct:     ps.sumWinPct,
		SumLossPct:    ps.sumLossPct,
		OpenPositions: len(ps.positions),
		At:            time.Now(),
	}
}
