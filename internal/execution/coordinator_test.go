package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybridbot/internal/domain"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// fakeExchange replays scripted fills and records every call.
type fakeExchange struct {
	mu        sync.Mutex
	fills     []domain.FillResult
	errs      []error
	submitted []domain.OrderSpec
	cancelled []string
	transfers int
}

func (f *fakeExchange) SubmitOrder(ctx context.Context, spec domain.OrderSpec) (domain.FillResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, spec)
	i := len(f.submitted) - 1
	if i < len(f.errs) && f.errs[i] != nil {
		return domain.FillResult{}, f.errs[i]
	}
	if i < len(f.fills) {
		return f.fills[i], nil
	}
	return domain.FillResult{FilledSize: spec.Size, AvgPrice: d(100)}, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol domain.Symbol, clientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, clientID)
	return nil
}

func (f *fakeExchange) GetQuote(ctx context.Context, symbol domain.Symbol) (domain.Quote, error) {
	return domain.Quote{}, errors.New("not implemented")
}

func (f *fakeExchange) GetHistory(ctx context.Context, symbol domain.Symbol, venue domain.Venue, window int) ([]domain.Candle, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeExchange) GetAccountBalances(ctx context.Context) (domain.AccountBalances, error) {
	return domain.AccountBalances{}, nil
}

func (f *fakeExchange) Transfer(ctx context.Context, from, to domain.Venue, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers++
	return nil
}

// captureNotifier records events for assertions.
type captureNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (n *captureNotifier) Notify(e domain.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *captureNotifier) count(t domain.EventType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Type == t {
			c++
		}
	}
	return c
}

func entrySpec(size float64) *domain.OrderSpec {
	return &domain.OrderSpec{
		ClientID:   "order-1",
		Symbol:     "BTCUSDT",
		Venue:      domain.VenueSpot,
		Side:       domain.SideLong,
		Size:       d(size),
		Leverage:   1,
		StopLoss:   d(95),
		TakeProfit: d(110),
		Strategy:   domain.StrategyTrend,
	}
}

func newCoordinator(ex domain.Exchange, state *domain.PortfolioState, n domain.Notifier) *Coordinator {
	return NewCoordinator(ex, state, nil, n, 5*time.Second, d(0.002))
}

func TestExecute_FullFillOpensPosition(t *testing.T) {
	state := domain.NewPortfolioState(d(1000), d(0))
	ex := &fakeExchange{fills: []domain.FillResult{{FilledSize: d(2), AvgPrice: d(100)}}}
	notifier := &captureNotifier{}
	c := newCoordinator(ex, state, notifier)

	err := c.Execute(context.Background(), entrySpec(2))
	require.NoError(t, err)

	pos, ok := state.Position("BTCUSDT", domain.VenueSpot)
	require.True(t, ok, "position must be open after the fill")
	assert.True(t, pos.Size.Equal(d(2)))
	assert.True(t, state.Cash(domain.VenueSpot).Equal(d(800)))
	assert.Equal(t, 1, notifier.count(domain.EventTrade))
}

func TestExecute_RejectionDropsOrder(t *testing.T) {
	state := domain.NewPortfolioState(d(1000), d(0))
	ex := &fakeExchange{errs: []error{
		domain.NewRejection("BTCUSDT", domain.RejectInsufficientBalance, nil),
	}}
	notifier := &captureNotifier{}
	c := newCoordinator(ex, state, notifier)

	err := c.Execute(context.Background(), entrySpec(2))
	var rej *domain.RejectionError
	require.ErrorAs(t, err, &rej)

	assert.False(t, state.HasPosition("BTCUSDT"), "rejected order must not touch the portfolio")
	assert.True(t, state.Cash(domain.VenueSpot).Equal(d(1000)))
	assert.Equal(t, 1, notifier.count(domain.EventError))
	assert.Len(t, ex.submitted, 1, "rejections are not retried within the cycle")
}

func TestExecute_PartialFillResubmitsOnce(t *testing.T) {
	state := domain.NewPortfolioState(d(1000), d(0))
	// First submission fills 1.5 of 2, the resubmission fills the rest.
	ex := &fakeExchange{fills: []domain.FillResult{
		{FilledSize: d(1.5), AvgPrice: d(100)},
		{FilledSize: d(0.5), AvgPrice: d(101)},
	}}
	notifier := &captureNotifier{}
	c := newCoordinator(ex, state, notifier)

	err := c.Execute(context.Background(), entrySpec(2))
	require.NoError(t, err)

	require.Len(t, ex.submitted, 2)
	assert.True(t, ex.submitted[1].Size.Equal(d(0.5)), "remainder only")
	assert.NotEqual(t, ex.submitted[0].ClientID, ex.submitted[1].ClientID, "fresh client id for the remainder")
	assert.Equal(t, []string{"order-1"}, ex.cancelled, "original remainder must be cancelled first")

	pos, ok := state.Position("BTCUSDT", domain.VenueSpot)
	require.True(t, ok)
	assert.True(t, pos.Size.Equal(d(2)))
}

func TestExecute_PartialFillAbandonedAfterRetry(t *testing.T) {
	state := domain.NewPortfolioState(d(1000), d(0))
	// Both submissions fill short: keep what filled, abandon the rest.
	ex := &fakeExchange{fills: []domain.FillResult{
		{FilledSize: d(1), AvgPrice: d(100)},
		{FilledSize: d(0.2), AvgPrice: d(100)},
	}}
	notifier := &captureNotifier{}
	c := newCoordinator(ex, state, notifier)

	err := c.Execute(context.Background(), entrySpec(2))
	var pf *domain.PartialFillError
	require.ErrorAs(t, err, &pf)
	assert.True(t, pf.Filled.Equal(d(1.2)))

	require.Len(t, ex.submitted, 2, "exactly one resubmission, never more")
	pos, ok := state.Position("BTCUSDT", domain.VenueSpot)
	require.True(t, ok, "the filled portion is kept")
	assert.True(t, pos.Size.Equal(d(1.2)))
}

func TestExecute_PartialFillKeepsRejectionCause(t *testing.T) {
	state := domain.NewPortfolioState(d(1000), d(0))
	// First submission fills short, the resubmission is rejected outright.
	ex := &fakeExchange{
		fills: []domain.FillResult{{FilledSize: d(1), AvgPrice: d(100)}},
		errs: []error{
			nil,
			domain.NewRejection("BTCUSDT", domain.RejectInsufficientBalance, nil),
		},
	}
	c := newCoordinator(ex, state, &captureNotifier{})

	err := c.Execute(context.Background(), entrySpec(2))
	var pf *domain.PartialFillError
	require.ErrorAs(t, err, &pf)
	assert.True(t, pf.Filled.Equal(d(1)))

	var rej *domain.RejectionError
	require.ErrorAs(t, err, &rej, "the venue rejection must survive inside the partial-fill report")
	assert.Equal(t, domain.RejectInsufficientBalance, rej.Reason)

	pos, ok := state.Position("BTCUSDT", domain.VenueSpot)
	require.True(t, ok, "the filled portion is kept")
	assert.True(t, pos.Size.Equal(d(1)))
}

func TestExecute_ReduceOnlyRealizesPnL(t *testing.T) {
	state := domain.NewPortfolioState(d(1000), d(0))
	require.NoError(t, state.OpenPosition(&domain.Position{
		Symbol: "BTCUSDT", Venue: domain.VenueSpot, Side: domain.SideLong,
		Size: d(2), EntryPrice: d(100), Leverage: 1,
	}))

	ex := &fakeExchange{fills: []domain.FillResult{{FilledSize: d(2), AvgPrice: d(110)}}}
	c := newCoordinator(ex, state, &captureNotifier{})

	spec := entrySpec(2)
	spec.Side = domain.SideShort
	spec.ReduceOnly = true
	require.NoError(t, c.Execute(context.Background(), spec))

	assert.False(t, state.HasPosition("BTCUSDT"))
	// 800 cash + 200 margin back + 20 pnl
	assert.True(t, state.Cash(domain.VenueSpot).Equal(d(1020)))
}

func TestExecute_SerializesPerSymbol(t *testing.T) {
	c := newCoordinator(&fakeExchange{}, domain.NewPortfolioState(d(1000), d(0)), nil)

	if c.SymbolLock("BTCUSDT") != c.SymbolLock("BTCUSDT") {
		t.Error("same symbol must share one lock")
	}
	if c.SymbolLock("BTCUSDT") == c.SymbolLock("ETHUSDT") {
		t.Error("different symbols must not share a lock")
	}
}

func TestCheckBrackets_ClosesStoppedPosition(t *testing.T) {
	state := domain.NewPortfolioState(d(1000), d(0))
	require.NoError(t, state.OpenPosition(&domain.Position{
		Symbol: "BTCUSDT", Venue: domain.VenueSpot, Side: domain.SideLong,
		Size: d(2), EntryPrice: d(100), Leverage: 1,
		StopLoss: d(95), TakeProfit: d(110), Strategy: domain.StrategyTrend,
	}))

	ex := &fakeExchange{fills: []domain.FillResult{{FilledSize: d(2), AvgPrice: d(94)}}}
	c := newCoordinator(ex, state, &captureNotifier{})

	snaps := map[domain.Symbol]*domain.MarketSnapshot{
		"BTCUSDT": {Symbol: "BTCUSDT", SpotPrice: d(94), FuturesPrice: d(94)},
	}
	require.NoError(t, c.CheckBrackets(context.Background(), snaps))

	assert.False(t, state.HasPosition("BTCUSDT"), "stop at 95 must close on a 94 mark")
	require.Len(t, ex.submitted, 1)
	assert.True(t, ex.submitted[0].ReduceOnly)
	assert.Equal(t, domain.SideShort, ex.submitted[0].Side)
}
