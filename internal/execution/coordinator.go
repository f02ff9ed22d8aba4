package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"hybridbot/internal/domain"
	"hybridbot/internal/portfolio"
)

// Coordinator serializes order submission per symbol and is the only writer
// of PortfolioState besides the rebalancer's transfers. No two in-flight
// orders for the same symbol may exist concurrently.
type Coordinator struct {
	exchange     domain.Exchange
	state        *domain.PortfolioState
	store        domain.TradeStore // nil disables persistence
	notifier     domain.Notifier
	timeout      time.Duration
	feeTolerance decimal.Decimal

	mu    sync.Mutex
	locks map[domain.Symbol]*sync.Mutex
}

// NewCoordinator creates an execution coordinator.
func NewCoordinator(exchange domain.Exchange, state *domain.PortfolioState, store domain.TradeStore, notifier domain.Notifier, timeout time.Duration, feeTolerance decimal.Decimal) *Coordinator {
	return &Coordinator{
		exchange:     exchange,
		state:        state,
		store:        store,
		notifier:     notifier,
		timeout:      timeout,
		feeTolerance: feeTolerance,
		locks:        make(map[domain.Symbol]*sync.Mutex),
	}
}

// SymbolLock returns the critical-section lock for a symbol. The rebalancer
// and the strategy path both go through it, so they can never race on the
// same symbol's position.
func (c *Coordinator) SymbolLock(symbol domain.Symbol) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		c.locks[symbol] = l
	}
	return l
}

// Execute submits an approved order and applies the fill to the portfolio.
// Venue rejections drop the order (reported, not retried this cycle); a
// partial fill gets exactly one resubmission of the remainder.
func (c *Coordinator) Execute(ctx context.Context, spec *domain.OrderSpec) error {
	lock := c.SymbolLock(spec.Symbol)
	lock.Lock()
	defer lock.Unlock()
	return c.execute(ctx, spec)
}

func (c *Coordinator) execute(ctx context.Context, spec *domain.OrderSpec) error {
	// An already-submitted order must complete even during shutdown, so the
	// submission context survives engine cancellation.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	res, err := c.exchange.SubmitOrder(sctx, *spec)
	if err != nil {
		var rej *domain.RejectionError
		if errors.As(err, &rej) {
			c.notify(domain.EventError, spec.Symbol, rej.Error())
			return rej
		}
		return fmt.Errorf("submit %s %s: %w", spec.Symbol, spec.Venue, err)
	}

	if res.FilledSize.LessThan(spec.Size) {
		return c.handlePartialFill(sctx, spec, res)
	}
	if err := c.applyFill(spec, res.FilledSize, res.AvgPrice); err != nil {
		return err
	}
	c.notify(eventFor(spec), spec.Symbol,
		fmt.Sprintf("%s %s %s %s @ %s", spec.Strategy, spec.Side, res.FilledSize, spec.Symbol, res.AvgPrice))
	return c.state.Reconcile(c.feeTolerance)
}

// handlePartialFill books the filled portion, cancels the remainder and
// resubmits it once. A second shortfall is abandoned and reported.
func (c *Coordinator) handlePartialFill(ctx context.Context, spec *domain.OrderSpec, res domain.FillResult) error {
	if res.FilledSize.IsPositive() {
		if err := c.applyFill(spec, res.FilledSize, res.AvgPrice); err != nil {
			return err
		}
	}
	if err := c.exchange.CancelOrder(ctx, spec.Symbol, spec.ClientID); err != nil {
		slog.Warn("cancel of partial remainder failed",
			slog.String("symbol", string(spec.Symbol)), slog.Any("error", err))
	}

	remainder := *spec
	remainder.ClientID = uuid.NewString()
	remainder.Size = spec.Size.Sub(res.FilledSize)
	res2, err := c.exchange.SubmitOrder(ctx, remainder)
	if err != nil {
		pf := &domain.PartialFillError{Symbol: spec.Symbol, Requested: spec.Size, Filled: res.FilledSize, Err: err}
		c.notify(domain.EventError, spec.Symbol, pf.Error())
		return pf
	}
	if res2.FilledSize.IsPositive() {
		if err := c.applyFill(&remainder, res2.FilledSize, res2.AvgPrice); err != nil {
			return err
		}
	}
	total := res.FilledSize.Add(res2.FilledSize)
	if total.LessThan(spec.Size) {
		pf := &domain.PartialFillError{Symbol: spec.Symbol, Requested: spec.Size, Filled: total}
		c.notify(domain.EventError, spec.Symbol, pf.Error())
		return pf
	}
	c.notify(eventFor(spec), spec.Symbol,
		fmt.Sprintf("%s %s %s %s (resubmitted remainder)", spec.Strategy, spec.Side, total, spec.Symbol))
	return c.state.Reconcile(c.feeTolerance)
}

// applyFill updates the portfolio for one fill and writes the trade record.
func (c *Coordinator) applyFill(spec *domain.OrderSpec, size, price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("fill for %s reported non-positive price %s", spec.Symbol, price)
	}
	pnl := decimal.Zero
	if spec.ReduceOnly {
		realized, _, err := c.state.ReducePosition(spec.Symbol, spec.Venue, size, price)
		if err != nil {
			return err
		}
		pnl = realized
	} else if pos, ok := c.state.Position(spec.Symbol, spec.Venue); ok {
		if pos.Side == spec.Side {
			if err := c.state.IncreasePosition(spec.Symbol, spec.Venue, size, price); err != nil {
				return err
			}
		} else {
			realized, _, err := c.state.ReducePosition(spec.Symbol, spec.Venue, size, price)
			if err != nil {
				return err
			}
			pnl = realized
		}
	} else {
		err := c.state.OpenPosition(&domain.Position{
			Symbol:     spec.Symbol,
			Venue:      spec.Venue,
			Side:       spec.Side,
			Size:       size,
			EntryPrice: price,
			Leverage:   spec.Leverage,
			StopLoss:   spec.StopLoss,
			TakeProfit: spec.TakeProfit,
			Strategy:   spec.Strategy,
			OpenedAt:   time.Now(),
		})
		if err != nil {
			return err
		}
	}
	c.record(domain.Trade{
		ID:          spec.ClientID,
		Symbol:      spec.Symbol,
		Venue:       spec.Venue,
		Side:        spec.Side,
		Size:        size,
		Price:       price,
		Strategy:    spec.Strategy,
		RealizedPnL: pnl,
		ExecutedAt:  time.Now(),
	})
	return nil
}

// CheckBrackets marks open positions to the latest snapshots and closes any
// whose stop-loss or take-profit level was crossed.
func (c *Coordinator) CheckBrackets(ctx context.Context, snaps map[domain.Symbol]*domain.MarketSnapshot) error {
	for _, pos := range c.state.Positions() {
		snap, ok := snaps[pos.Symbol]
		if !ok {
			continue
		}
		mark := snap.Price(pos.Venue)
		c.state.UpdateMark(pos.Symbol, pos.Venue, mark)

		var reason string
		switch {
		case pos.StopHit(mark):
			reason = "stop-loss"
		case pos.TakeProfitHit(mark):
			reason = "take-profit"
		default:
			continue
		}
		spec := &domain.OrderSpec{
			ClientID:   uuid.NewString(),
			Symbol:     pos.Symbol,
			Venue:      pos.Venue,
			Side:       pos.CloseSide(),
			Size:       pos.Size,
			Leverage:   pos.Leverage,
			Strategy:   pos.Strategy,
			ReduceOnly: true,
		}
		slog.Info("bracket hit, closing position",
			slog.String("symbol", string(pos.Symbol)),
			slog.String("venue", string(pos.Venue)),
			slog.String("reason", reason),
			slog.String("mark", mark.String()))
		if err := c.Execute(ctx, spec); err != nil {
			if errors.Is(err, domain.ErrStateCorrupted) {
				return err
			}
			slog.Warn("bracket close failed", slog.String("symbol", string(pos.Symbol)), slog.Any("error", err))
		}
	}
	return nil
}

// ExecuteRebalance applies a rebalancing plan: reduce-only closes first to
// free cash, then the wallet transfer, mirrored into the portfolio state.
// The transfer is skipped when any close failed short of its proceeds.
func (c *Coordinator) ExecuteRebalance(ctx context.Context, plan *portfolio.Plan) error {
	closesOK := true
	for _, spec := range plan.Orders {
		if err := c.Execute(ctx, spec); err != nil {
			if errors.Is(err, domain.ErrStateCorrupted) {
				return err
			}
			slog.Warn("rebalance close failed, deferring transfer",
				slog.String("symbol", string(spec.Symbol)), slog.Any("error", err))
			closesOK = false
		}
	}
	if plan.Transfer == nil {
		return nil
	}
	if !closesOK {
		return nil
	}

	tr := plan.Transfer
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	if err := c.exchange.Transfer(sctx, tr.From, tr.To, tr.Amount); err != nil {
		c.notify(domain.EventError, "", fmt.Sprintf("wallet transfer %s failed: %v", tr.Amount, err))
		return fmt.Errorf("transfer %s -> %s: %w", tr.From, tr.To, err)
	}
	if err := c.state.ApplyTransfer(tr.From, tr.To, tr.Amount); err != nil {
		return err
	}
	c.notify(domain.EventRebalance, "",
		fmt.Sprintf("moved %s from %s to %s", tr.Amount, tr.From, tr.To))
	return c.state.Reconcile(c.feeTolerance)
}

func (c *Coordinator) record(trade domain.Trade) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.store.RecordTrade(ctx, trade); err != nil {
		// Best-effort write-through: never let persistence break execution.
		slog.Warn("trade record failed", slog.String("id", trade.ID), slog.Any("error", err))
	}
}

func (c *Coordinator) notify(t domain.EventType, symbol domain.Symbol, msg string) {
	if c.notifier == nil {
		return
	}
	c.notifier.Notify(domain.Event{Type: t, Symbol: symbol, Message: msg, At: time.Now()})
}

func eventFor(spec *domain.OrderSpec) domain.EventType {
	if spec.Strategy == domain.StrategyRebalance {
		return domain.EventRebalance
	}
	return domain.EventTrade
}
