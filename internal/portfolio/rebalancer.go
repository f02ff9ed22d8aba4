package portfolio

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"hybridbot/internal/domain"
)

// TransferAction moves free cash between the spot and futures wallets.
type TransferAction struct {
	From   domain.Venue
	To     domain.Venue
	Amount decimal.Decimal
}

// Plan is one rebalancing correction: optional reduce-only closes to free
// cash on the overweight venue, followed by a wallet transfer.
type Plan struct {
	Orders   []*domain.OrderSpec
	Transfer *TransferAction
}

// Rebalancer keeps the spot/futures capital split near the target ratio.
// It runs on its own period, independent of the signal cycle, and corrects
// only a fraction of the gap per invocation to limit slippage.
type Rebalancer struct {
	state           *domain.PortfolioState
	target          domain.AllocationTarget
	threshold       decimal.Decimal
	step            decimal.Decimal
	volatilityBound float64

	mu       sync.Mutex
	deferred bool
}

// NewRebalancer creates a rebalancer. step is the fraction of the deviation
// corrected per invocation (0 < step <= 1).
func NewRebalancer(state *domain.PortfolioState, target domain.AllocationTarget, threshold, step decimal.Decimal, volatilityBound float64) *Rebalancer {
	if step.IsZero() || step.IsNegative() || step.GreaterThan(decimal.NewFromInt(1)) {
		step = decimal.NewFromFloat(0.5)
	}
	return &Rebalancer{
		state:           state,
		target:          target,
		threshold:       threshold,
		step:            step,
		volatilityBound: volatilityBound,
	}
}

// Deferred reports whether the last invocation was postponed by volatility.
func (r *Rebalancer) Deferred() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deferred
}

// NextPlan computes the corrective plan for the current portfolio state.
// Returns nil when the split is within tolerance (idempotent at target) and
// sets deferred when the market is too volatile to rebalance safely; the
// correction is retried on the next period, never dropped.
func (r *Rebalancer) NextPlan(marketVolatility float64, snaps map[domain.Symbol]*domain.MarketSnapshot) *Plan {
	total := r.state.TotalEquity()
	if !total.IsPositive() {
		return nil
	}
	deviation := r.state.SpotRatio().Sub(r.target.Spot)
	if deviation.Abs().LessThanOrEqual(r.threshold) {
		r.setDeferred(false)
		return nil
	}

	if r.volatilityBound > 0 && marketVolatility > r.volatilityBound {
		r.setDeferred(true)
		slog.Info("rebalance deferred, market too volatile",
			slog.Float64("volatility", marketVolatility),
			slog.String("deviation", deviation.String()))
		return nil
	}
	r.setDeferred(false)

	amount := deviation.Abs().Mul(total).Mul(r.step)
	from, to := domain.VenueSpot, domain.VenueFutures
	if deviation.IsNegative() { // spot underweight
		from, to = domain.VenueFutures, domain.VenueSpot
	}

	plan := &Plan{}
	cash := r.state.Cash(from)
	if cash.LessThan(amount) {
		// Free the shortfall by shrinking the overweight venue's positions.
		plan.Orders = r.freeCashOrders(from, amount.Sub(cash), snaps)
		amount = cash.Add(r.plannedProceeds(plan.Orders, snaps))
	}
	if amount.IsPositive() {
		plan.Transfer = &TransferAction{From: from, To: to, Amount: amount}
	}
	if plan.Transfer == nil && len(plan.Orders) == 0 {
		return nil
	}
	return plan
}

// freeCashOrders emits reduce-only closes on the venue, largest position
// first, until the needed margin is covered.
func (r *Rebalancer) freeCashOrders(venue domain.Venue, needed decimal.Decimal, snaps map[domain.Symbol]*domain.MarketSnapshot) []*domain.OrderSpec {
	var orders []*domain.OrderSpec
	for _, pos := range r.state.Positions() {
		if pos.Venue != venue || !needed.IsPositive() {
			continue
		}
		snap, ok := snaps[pos.Symbol]
		if !ok {
			continue
		}
		price := snap.Price(venue)
		if !price.IsPositive() {
			continue
		}
		unitMargin := pos.Margin().Div(pos.Size)
		size := needed.Div(unitMargin).Round(8)
		if size.GreaterThan(pos.Size) {
			size = pos.Size
		}
		if !size.IsPositive() {
			continue
		}
		orders = append(orders, &domain.OrderSpec{
			ClientID:   uuid.NewString(),
			Symbol:     pos.Symbol,
			Venue:      venue,
			Side:       pos.CloseSide(),
			Size:       size,
			Leverage:   pos.Leverage,
			Strategy:   domain.StrategyRebalance,
			ReduceOnly: true,
		})
		needed = needed.Sub(size.Mul(unitMargin))
	}
	return orders
}

// plannedProceeds estimates the margin released by the reduce-only orders.
func (r *Rebalancer) plannedProceeds(orders []*domain.OrderSpec, snaps map[domain.Symbol]*domain.MarketSnapshot) decimal.Decimal {
	total := decimal.Zero
	for _, o := range orders {
		pos, ok := r.state.Position(o.Symbol, o.Venue)
		if !ok {
			continue
		}
		total = total.Add(pos.Margin().Div(pos.Size).Mul(o.Size))
	}
	return total
}

func (r *Rebalancer) setDeferred(v bool) {
	r.mu.Lock()
	r.deferred = v
	r.mu.Unlock()
}
