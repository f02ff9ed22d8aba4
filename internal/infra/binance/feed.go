package binance

import (
	"context"
	"time"

	"hybridbot/internal/domain"
)

// quoteTTL is how long a streamed tick stays preferable to a REST round trip.
const quoteTTL = 5 * time.Second

// LiveExchange layers the websocket streams over the REST client. GetQuote
// is served from the streams while both legs are fresh; everything else
// passes through to REST.
type LiveExchange struct {
	*Client
	spot    *Stream
	futures *Stream
}

// NewLiveExchange wires the streams around a REST client. Empty stream URLs
// select the production endpoints.
func NewLiveExchange(client *Client, symbols []domain.Symbol, spotWS, futuresWS string) *LiveExchange {
	return &LiveExchange{
		Client:  client,
		spot:    NewStream(domain.VenueSpot, symbols, spotWS),
		futures: NewStream(domain.VenueFutures, symbols, futuresWS),
	}
}

// Start connects both stream workers.
func (e *LiveExchange) Start(ctx context.Context) error {
	if err := e.spot.Connect(ctx); err != nil {
		return err
	}
	return e.futures.Connect(ctx)
}

// Close stops both stream workers.
func (e *LiveExchange) Close() {
	e.spot.Close()
	e.futures.Close()
}

// GetQuote prefers streamed ticks and falls back to REST when either leg is
// stale or missing.
func (e *LiveExchange) GetQuote(ctx context.Context, symbol domain.Symbol) (domain.Quote, error) {
	now := time.Now()
	spotPx, spotVol, spotAt, ok1 := e.spot.Tick(symbol)
	futPx, _, futAt, ok2 := e.futures.Tick(symbol)
	if ok1 && ok2 && now.Sub(spotAt) < quoteTTL && now.Sub(futAt) < quoteTTL {
		return domain.Quote{
			Symbol:       symbol,
			SpotPrice:    spotPx,
			FuturesPrice: futPx,
			SpotVolume:   spotVol,
		}, nil
	}
	return e.Client.GetQuote(ctx, symbol)
}
