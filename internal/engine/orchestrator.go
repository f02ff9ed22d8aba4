package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"hybridbot/internal/domain"
	"hybridbot/internal/execution"
	"hybridbot/internal/market"
	"hybridbot/internal/portfolio"
	"hybridbot/internal/risk"
	"hybridbot/internal/strategy"
)

// State is the orchestrator's lifecycle phase. Transitions happen on a
// single goroutine; EXECUTING and REBALANCING are therefore never active at
// the same time.
type State int32

const (
	StateIdle State = iota
	StateScanning
	StateArbitrating
	StateRiskCheck
	StateExecuting
	StateRebalancing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateScanning:
		return "SCANNING"
	case StateArbitrating:
		return "ARBITRATING"
	case StateRiskCheck:
		return "RISK_CHECK"
	case StateExecuting:
		return "EXECUTING"
	case StateRebalancing:
		return "REBALANCING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config is the orchestrator's runtime tuning.
type Config struct {
	Symbols                []domain.Symbol
	CycleInterval          time.Duration
	RebalanceInterval      time.Duration
	RebalanceSymbol        domain.Symbol // symbol whose volatility gates rebalancing
	MaxConsecutiveFailures int
}

// Orchestrator drives the trade cycle and the rebalance cycle from one
// select loop. It owns the only goroutine that moves signals toward the
// execution boundary.
type Orchestrator struct {
	cfg        Config
	builder    *market.Builder
	generators []strategy.Generator
	arbiter    *strategy.Arbiter
	risk       *risk.Manager
	rebalancer *portfolio.Rebalancer
	exec       *execution.Coordinator
	state      *domain.PortfolioState
	store      domain.TradeStore
	notifier   domain.Notifier

	phase    atomic.Int32
	failures int

	mu        sync.RWMutex
	lastSnaps map[domain.Symbol]*domain.MarketSnapshot
}

// New wires the orchestrator. store and notifier may be nil.
func New(cfg Config, builder *market.Builder, generators []strategy.Generator, arbiter *strategy.Arbiter, riskMgr *risk.Manager, rebalancer *portfolio.Rebalancer, exec *execution.Coordinator, state *domain.PortfolioState, store domain.TradeStore, notifier domain.Notifier) *Orchestrator {
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 5
	}
	return &Orchestrator{
		cfg:        cfg,
		builder:    builder,
		generators: generators,
		arbiter:    arbiter,
		risk:       riskMgr,
		rebalancer: rebalancer,
		exec:       exec,
		state:      state,
		store:      store,
		notifier:   notifier,
	}
}

// State returns the current phase. Safe from any goroutine.
func (o *Orchestrator) State() State {
	return State(o.phase.Load())
}

func (o *Orchestrator) setState(s State) {
	o.phase.Store(int32(s))
}

// Run drives cycles until ctx is cancelled or a fatal condition stops the
// engine. It runs one trade cycle immediately, then on every tick.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.setState(StateIdle)
	o.event(domain.EventStatus, fmt.Sprintf("engine started, %d symbols, cycle %s", len(o.cfg.Symbols), o.cfg.CycleInterval))

	cycleTicker := time.NewTicker(o.cfg.CycleInterval)
	defer cycleTicker.Stop()
	rebalTicker := time.NewTicker(o.cfg.RebalanceInterval)
	defer rebalTicker.Stop()

	if err := o.step(ctx, o.cycle); err != nil {
		return o.halt(err)
	}
	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return nil
		case <-cycleTicker.C:
			if err := o.step(ctx, o.cycle); err != nil {
				return o.halt(err)
			}
		case <-rebalTicker.C:
			if err := o.rebalance(ctx); err != nil {
				return o.halt(err)
			}
		}
	}
}

// step runs one trade cycle and applies the consecutive-failure policy:
// retriable cycle errors are tolerated up to the configured limit, fatal
// ones stop the engine at once.
func (o *Orchestrator) step(ctx context.Context, cycle func(context.Context) error) error {
	err := cycle(ctx)
	if err == nil {
		o.failures = 0
		return nil
	}
	if errors.Is(err, domain.ErrStateCorrupted) {
		return err
	}
	o.failures++
	slog.Warn("cycle failed",
		slog.Int("consecutive", o.failures),
		slog.Int("limit", o.cfg.MaxConsecutiveFailures),
		slog.Any("error", err))
	if o.failures >= o.cfg.MaxConsecutiveFailures {
		return fmt.Errorf("%w: %d consecutive cycle failures: %v",
			domain.ErrCollaboratorUnavailable, o.failures, err)
	}
	return nil
}

func (o *Orchestrator) cycle(ctx context.Context) error {
	o.setState(StateScanning)
	snaps, err := o.builder.BuildAll(ctx, o.cfg.Symbols)
	if err != nil {
		o.setState(StateIdle)
		return err
	}
	o.rememberSnaps(snaps)

	// Marks and protective exits first, before new entries are considered.
	if err := o.exec.CheckBrackets(ctx, snaps); err != nil {
		return err
	}

	o.setState(StateArbitrating)
	chosen := o.arbitrate(snaps)

	for _, sig := range chosen {
		snap := snaps[sig.Symbol]
		o.setState(StateRiskCheck)
		specs, err := o.approve(sig, snap)
		if err != nil {
			o.logVeto(sig, err)
			continue
		}
		o.setState(StateExecuting)
		for _, spec := range specs {
			if err := o.exec.Execute(ctx, spec); err != nil {
				if errors.Is(err, domain.ErrStateCorrupted) {
					return err
				}
				slog.Warn("order failed",
					slog.String("symbol", string(spec.Symbol)),
					slog.String("strategy", string(spec.Strategy)),
					slog.Any("error", err))
			}
		}
	}

	o.persist(ctx)
	o.setState(StateIdle)
	return nil
}

// arbitrate evaluates all generators per symbol concurrently and lets the
// arbiter pick at most one winner per symbol.
func (o *Orchestrator) arbitrate(snaps map[domain.Symbol]*domain.MarketSnapshot) []*domain.TradeSignal {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		chosen []*domain.TradeSignal
	)
	for sym, snap := range snaps {
		wg.Add(1)
		go func(sym domain.Symbol, snap *domain.MarketSnapshot) {
			defer wg.Done()
			view := o.viewFor(sym)
			candidates := make([]*domain.TradeSignal, 0, len(o.generators))
			for _, g := range o.generators {
				if sig := g.Evaluate(snap, view); sig != nil {
					candidates = append(candidates, sig)
				}
			}
			winner := o.arbiter.Select(candidates, o.state.HasPosition(sym))
			if winner == nil {
				return
			}
			mu.Lock()
			chosen = append(chosen, winner)
			mu.Unlock()
		}(sym, snap)
	}
	wg.Wait()
	return chosen
}

func (o *Orchestrator) viewFor(sym domain.Symbol) strategy.View {
	view := strategy.View{
		Prev:        o.builder.Previous(sym),
		TotalEquity: o.state.TotalEquity(),
	}
	if pos, ok := o.state.Position(sym, domain.VenueSpot); ok {
		view.SpotPosition = &pos
	}
	if pos, ok := o.state.Position(sym, domain.VenueFutures); ok {
		view.FuturesPosition = &pos
	}
	return view
}

// approve runs the primary leg and, when present, the paired extra leg
// through the risk manager. The extra leg inherits the signal's confidence
// and fraction so both legs size to the same notional.
func (o *Orchestrator) approve(sig *domain.TradeSignal, snap *domain.MarketSnapshot) ([]*domain.OrderSpec, error) {
	primary, err := o.risk.Approve(sig, snap)
	if err != nil {
		return nil, err
	}
	specs := []*domain.OrderSpec{primary}
	if sig.Extra != nil {
		leg := *sig
		leg.Venue = sig.Extra.Venue
		leg.Direction = sig.Extra.Direction
		leg.Extra = nil
		spec, err := o.risk.Approve(&leg, snap)
		if err != nil {
			o.logVeto(&leg, err)
		} else {
			specs = append(specs, spec)
		}
	}
	return specs, nil
}

func (o *Orchestrator) rebalance(ctx context.Context) error {
	snaps := o.snapshots()
	if len(snaps) == 0 {
		return nil
	}
	o.setState(StateRebalancing)
	defer o.setState(StateIdle)

	plan := o.rebalancer.NextPlan(o.marketVolatility(snaps), snaps)
	if plan == nil {
		return nil
	}
	for _, spec := range plan.Orders {
		snap, ok := snaps[spec.Symbol]
		if !ok {
			continue
		}
		price := snap.Price(spec.Venue)
		vol := snap.Spot.Volatility
		if spec.Venue == domain.VenueFutures {
			vol = snap.Futures.Volatility
		}
		if err := o.risk.ApproveRebalance(spec, price, vol); err != nil {
			slog.Warn("rebalance order vetoed",
				slog.String("symbol", string(spec.Symbol)), slog.Any("error", err))
			return nil
		}
	}
	if err := o.exec.ExecuteRebalance(ctx, plan); err != nil {
		if errors.Is(err, domain.ErrStateCorrupted) {
			return err
		}
		slog.Warn("rebalance incomplete", slog.Any("error", err))
		return nil
	}
	o.persist(ctx)
	return nil
}

// marketVolatility returns the gating symbol's spot volatility, falling
// back to the highest observed one when that symbol has no snapshot.
func (o *Orchestrator) marketVolatility(snaps map[domain.Symbol]*domain.MarketSnapshot) float64 {
	if snap, ok := snaps[o.cfg.RebalanceSymbol]; ok {
		return snap.Spot.Volatility
	}
	max := 0.0
	for _, snap := range snaps {
		if snap.Spot.Volatility > max {
			max = snap.Spot.Volatility
		}
	}
	return max
}

func (o *Orchestrator) rememberSnaps(snaps map[domain.Symbol]*domain.MarketSnapshot) {
	o.mu.Lock()
	o.lastSnaps = snaps
	o.mu.Unlock()
}

func (o *Orchestrator) snapshots() map[domain.Symbol]*domain.MarketSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastSnaps
}

func (o *Orchestrator) persist(ctx context.Context) {
	if o.store == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.store.SavePortfolio(sctx, o.state.Summary()); err != nil {
		slog.Warn("portfolio save failed", slog.Any("error", err))
	}
}

func (o *Orchestrator) halt(err error) error {
	o.setState(StateStopped)
	o.event(domain.EventError, fmt.Sprintf("engine stopped: %v", err))
	slog.Error("engine stopped", slog.Any("error", err))
	return err
}

func (o *Orchestrator) shutdown() {
	o.setState(StateStopped)
	o.persist(context.Background())
	o.event(domain.EventStatus, "engine stopped")
	slog.Info("engine stopped")
}

func (o *Orchestrator) logVeto(sig *domain.TradeSignal, err error) {
	var veto *domain.VetoError
	switch {
	case errors.As(err, &veto):
		slog.Debug("signal vetoed",
			slog.String("symbol", string(sig.Symbol)),
			slog.String("strategy", string(sig.Kind)),
			slog.String("reason", veto.Reason))
	case errors.Is(err, domain.ErrDrawdownBreach):
		slog.Info("entry frozen by drawdown", slog.String("symbol", string(sig.Symbol)))
	default:
		slog.Warn("risk check failed",
			slog.String("symbol", string(sig.Symbol)), slog.Any("error", err))
	}
}

func (o *Orchestrator) event(t domain.EventType, msg string) {
	if o.notifier == nil {
		return
	}
	o.notifier.Notify(domain.Event{Type: t, Message: msg, At: time.Now()})
}
