package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the current spot/futures price pair for a symbol.
type Quote struct {
	Symbol       Symbol
	SpotPrice    decimal.Decimal
	FuturesPrice decimal.Decimal
	SpotVolume   decimal.Decimal
}

// OrderSpec is an approved order ready for submission.
type OrderSpec struct {
	ClientID   string
	Symbol     Symbol
	Venue      Venue
	Side       Side
	Size       decimal.Decimal // base units
	Leverage   int             // futures only, 1 otherwise
	StopLoss   decimal.Decimal // zero for reduce-only orders
	TakeProfit decimal.Decimal
	Strategy   StrategyKind
	// ReduceOnly marks orders that close or shrink an existing position.
	// They bypass the per-trade risk cap and the drawdown freeze.
	ReduceOnly bool
}

// FillResult reports how an order filled at the venue.
type FillResult struct {
	FilledSize decimal.Decimal
	AvgPrice   decimal.Decimal
}

// AccountBalances are the per-venue equity totals from the exchange.
type AccountBalances struct {
	SpotEquity    decimal.Decimal
	FuturesEquity decimal.Decimal
}

// Exchange is the trading collaborator. All calls must honor the context
// deadline; a timeout is a per-cycle failure, never fatal by itself.
type Exchange interface {
	GetQuote(ctx context.Context, symbol Symbol) (Quote, error)
	GetHistory(ctx context.Context, symbol Symbol, venue Venue, window int) ([]Candle, error)
	SubmitOrder(ctx context.Context, spec OrderSpec) (FillResult, error)
	CancelOrder(ctx context.Context, symbol Symbol, clientID string) error
	GetAccountBalances(ctx context.Context) (AccountBalances, error)
	// Transfer moves margin between the spot and futures wallets. Used only
	// by the rebalancer.
	Transfer(ctx context.Context, from, to Venue, amount decimal.Decimal) error
}

// EventType classifies notification events.
type EventType string

const (
	EventTrade     EventType = "TRADE"
	EventRebalance EventType = "REBALANCE"
	EventError     EventType = "ERROR"
	EventStatus    EventType = "STATUS"
)

// Event is a one-way notification. Delivery is fire-and-forget.
type Event struct {
	Type    EventType
	Symbol  Symbol
	Message string
	At      time.Time
}

// Notifier is the push notification collaborator. Failures never affect
// trading state.
type Notifier interface {
	Notify(event Event)
}

// Trade is one executed fill, recorded for history and Kelly statistics.
type Trade struct {
	ID          string
	Symbol      Symbol
	Venue       Venue
	Side        Side
	Size        decimal.Decimal
	Price       decimal.Decimal
	Strategy    StrategyKind
	RealizedPnL decimal.Decimal
	ExecutedAt  time.Time
}

// TradeStore is the best-effort persistence collaborator. Writes are
// write-through, not transactional with execution.
type TradeStore interface {
	RecordTrade(ctx context.Context, trade Trade) error
	SavePortfolio(ctx context.Context, summary PortfolioSummary) error
	// LoadPortfolio returns the latest saved summary, or nil when none exists.
	LoadPortfolio(ctx context.Context) (*PortfolioSummary, error)
}
