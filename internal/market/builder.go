package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"hybridbot/internal/domain"
	"hybridbot/internal/indicator"
)

// Builder pulls current and historical market data per symbol and produces
// normalized snapshots. Fetches for independent symbols run concurrently;
// results are read-only for the rest of the cycle.
type Builder struct {
	exchange    domain.Exchange
	indicators  indicator.Config
	window      int // history bars requested per venue
	keep        int // snapshots retained per symbol for trend detection
	concurrency int
	timeout     time.Duration

	mu     sync.RWMutex
	recent map[domain.Symbol][]*domain.MarketSnapshot
}

// NewBuilder creates a snapshot builder.
func NewBuilder(exchange domain.Exchange, indicators indicator.Config, window, concurrency int, timeout time.Duration) *Builder {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Builder{
		exchange:    exchange,
		indicators:  indicators,
		window:      window,
		keep:        8,
		concurrency: concurrency,
		timeout:     timeout,
		recent:      make(map[domain.Symbol][]*domain.MarketSnapshot),
	}
}

// Build fetches the quote and both histories for one symbol concurrently and
// computes the indicator vectors. Fetch failures surface as
// domain.ErrDataUnavailable; short histories as domain.ErrInsufficientHistory.
func (b *Builder) Build(ctx context.Context, symbol domain.Symbol) (*domain.MarketSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var (
		quote            domain.Quote
		spotHist         []domain.Candle
		futHist          []domain.Candle
		quoteErr, sErr   error
		fErr             error
		wg               sync.WaitGroup
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		quote, quoteErr = b.exchange.GetQuote(ctx, symbol)
	}()
	go func() {
		defer wg.Done()
		spotHist, sErr = b.exchange.GetHistory(ctx, symbol, domain.VenueSpot, b.window)
	}()
	go func() {
		defer wg.Done()
		futHist, fErr = b.exchange.GetHistory(ctx, symbol, domain.VenueFutures, b.window)
	}()
	wg.Wait()

	if err := errors.Join(quoteErr, sErr, fErr); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrDataUnavailable, symbol, err)
	}
	if quote.SpotPrice.IsZero() {
		return nil, fmt.Errorf("%w: %s: zero spot price", domain.ErrDataUnavailable, symbol)
	}

	spotSet, err := indicator.Compute(closes(spotHist), b.indicators)
	if err != nil {
		return nil, err
	}
	futSet, err := indicator.Compute(closes(futHist), b.indicators)
	if err != nil {
		return nil, err
	}

	premium, _ := quote.FuturesPrice.Sub(quote.SpotPrice).Div(quote.SpotPrice).Float64()
	snap := &domain.MarketSnapshot{
		Symbol:       symbol,
		SpotPrice:    quote.SpotPrice,
		FuturesPrice: quote.FuturesPrice,
		SpotVolume:   quote.SpotVolume,
		Premium:      premium,
		Spot:         spotSet,
		Futures:      futSet,
		CreatedAt:    time.Now(),
	}
	b.remember(snap)
	return snap, nil
}

// BuildAll fans out Build over all symbols with bounded concurrency. Failed
// symbols are skipped for the cycle; an empty result reports the whole fetch
// round as unavailable so the orchestrator can count collaborator failures.
func (b *Builder) BuildAll(ctx context.Context, symbols []domain.Symbol) (map[domain.Symbol]*domain.MarketSnapshot, error) {
	out := make(map[domain.Symbol]*domain.MarketSnapshot, len(symbols))
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, b.concurrency)
	)
	for _, symbol := range symbols {
		wg.Add(1)
		go func(sym domain.Symbol) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
			}
			defer func() { <-sem }()

			snap, err := b.Build(ctx, sym)
			if err != nil {
				if errors.Is(err, domain.ErrInsufficientHistory) {
					slog.Debug("symbol skipped, short history", slog.String("symbol", string(sym)))
				} else {
					slog.Warn("snapshot failed", slog.String("symbol", string(sym)), slog.Any("error", err))
				}
				return
			}
			mu.Lock()
			out[sym] = snap
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()

	if len(out) == 0 && len(symbols) > 0 {
		return nil, fmt.Errorf("%w: all %d symbols failed", domain.ErrDataUnavailable, len(symbols))
	}
	return out, nil
}

// Previous returns the snapshot from the cycle before the most recent one,
// or nil. Used by the trend generator for direction persistence.
func (b *Builder) Previous(symbol domain.Symbol) *domain.MarketSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	hist := b.recent[symbol]
	if len(hist) < 2 {
		return nil
	}
	return hist[len(hist)-2]
}

func (b *Builder) remember(snap *domain.MarketSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	hist := append(b.recent[snap.Symbol], snap)
	if len(hist) > b.keep {
		hist = hist[len(hist)-b.keep:]
	}
	b.recent[snap.Symbol] = hist
}

func closes(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i], _ = c.Close.Float64()
	}
	return out
}
