package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Symbol identifies a tradable instrument pair (e.g. "BTCUSDT").
type Symbol string

// Venue distinguishes the two capital pools of the hybrid portfolio.
type Venue string

const (
	VenueSpot    Venue = "SPOT"
	VenueFutures Venue = "FUTURES"
)

// IndicatorSet is the fixed indicator vector computed from one price series.
// All values are dimensionless analytics; money stays in decimal elsewhere.
type IndicatorSet struct {
	Oscillator   float64 // RSI, 0..100
	MACDHist     float64 // MACD histogram, price units
	BandPosition float64 // position inside Bollinger bands, -1 (lower) .. +1 (upper)
	SMAShort     float64
	SMALong      float64
	Trend        float64 // (SMAShort - SMALong) / SMALong
	Volatility   float64 // stddev of recent simple returns
	Combined     float64 // mean of sub-signals, -1 (strong sell) .. +1 (strong buy)
}

// MarketSnapshot is the per-symbol, per-cycle view of the market. It is
// created by the snapshot builder and immutable once produced.
type MarketSnapshot struct {
	Symbol       Symbol
	SpotPrice    decimal.Decimal
	FuturesPrice decimal.Decimal
	SpotVolume   decimal.Decimal
	Premium      float64 // (futures - spot) / spot
	Spot         IndicatorSet
	Futures      IndicatorSet
	CreatedAt    time.Time
}

// Price returns the snapshot price for a venue.
func (s *MarketSnapshot) Price(venue Venue) decimal.Decimal {
	if venue == VenueFutures {
		return s.FuturesPrice
	}
	return s.SpotPrice
}

// Candle is one bar of exchange history. Only close and volume are consumed
// by the indicator engine.
type Candle struct {
	OpenTime time.Time
	Close    decimal.Decimal
	Volume   decimal.Decimal
}
