package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybridbot/internal/domain"
)

func newStore(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return s
}

func TestRecordTrade(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	trade := domain.Trade{
		ID:          "trade-1",
		Symbol:      "BTCUSDT",
		Venue:       domain.VenueSpot,
		Side:        domain.SideLong,
		Size:        decimal.NewFromFloat(0.5),
		Price:       decimal.NewFromInt(100),
		Strategy:    domain.StrategyMomentum,
		RealizedPnL: decimal.Zero,
		ExecutedAt:  time.Now(),
	}
	require.NoError(t, s.RecordTrade(ctx, trade))

	recs, err := s.RecentTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "trade-1", recs[0].ID)
	assert.Equal(t, "BTCUSDT", recs[0].Symbol)
	assert.Equal(t, "0.5", recs[0].Size)
}

func TestLoadPortfolio_EmptyIsNilNotError(t *testing.T) {
	s := newStore(t)

	sum, err := s.LoadPortfolio(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sum)
}

func TestSaveAndLoadPortfolio(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	older := domain.PortfolioSummary{
		TotalEquity: decimal.NewFromInt(900),
		PeakEquity:  decimal.NewFromInt(1000),
		Trades:      3,
		At:          time.Now().Add(-time.Hour),
	}
	latest := domain.PortfolioSummary{
		TotalEquity: decimal.NewFromInt(1100),
		SpotEquity:  decimal.NewFromInt(650),
		PeakEquity:  decimal.NewFromInt(1100),
		RealizedPnL: decimal.NewFromInt(100),
		Trades:      5,
		Wins:        3,
		Losses:      2,
		SumWinPct:   decimal.NewFromFloat(0.3),
		SumLossPct:  decimal.NewFromFloat(0.1),
		At:          time.Now(),
	}
	require.NoError(t, s.SavePortfolio(ctx, older))
	require.NoError(t, s.SavePortfolio(ctx, latest))

	got, err := s.LoadPortfolio(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)

	// The newest snapshot wins.
	assert.Equal(t, 5, got.Trades)
	assert.True(t, got.TotalEquity.Equal(decimal.NewFromInt(1100)))
	assert.True(t, got.SumWinPct.Equal(decimal.NewFromFloat(0.3)))
	assert.Equal(t, 3, got.Wins)
}
