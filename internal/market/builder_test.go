package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hybridbot/internal/domain"
	"hybridbot/internal/indicator"
)

type fakeExchange struct {
	spot    decimal.Decimal
	futures decimal.Decimal
	fail    bool
}

func (f *fakeExchange) GetQuote(ctx context.Context, symbol domain.Symbol) (domain.Quote, error) {
	if f.fail {
		return domain.Quote{}, errors.New("quote feed down")
	}
	return domain.Quote{
		Symbol:       symbol,
		SpotPrice:    f.spot,
		FuturesPrice: f.futures,
		SpotVolume:   decimal.NewFromInt(1000),
	}, nil
}

func (f *fakeExchange) GetHistory(ctx context.Context, symbol domain.Symbol, venue domain.Venue, window int) ([]domain.Candle, error) {
	if f.fail {
		return nil, errors.New("history feed down")
	}
	candles := make([]domain.Candle, window)
	base := time.Now().Add(-time.Duration(window) * time.Minute)
	for i := range candles {
		candles[i] = domain.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Minute),
			Close:    decimal.NewFromFloat(100 + float64(i%7)),
			Volume:   decimal.NewFromInt(5),
		}
	}
	return candles, nil
}

func (f *fakeExchange) SubmitOrder(ctx context.Context, spec domain.OrderSpec) (domain.FillResult, error) {
	return domain.FillResult{}, errors.New("not implemented")
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol domain.Symbol, clientID string) error {
	return errors.New("not implemented")
}

func (f *fakeExchange) GetAccountBalances(ctx context.Context) (domain.AccountBalances, error) {
	return domain.AccountBalances{}, nil
}

func (f *fakeExchange) Transfer(ctx context.Context, from, to domain.Venue, amount decimal.Decimal) error {
	return errors.New("not implemented")
}

func TestBuild_PremiumAndIndicators(t *testing.T) {
	ex := &fakeExchange{
		spot:    decimal.NewFromInt(100),
		futures: decimal.NewFromFloat(100.15),
	}
	b := NewBuilder(ex, indicator.DefaultConfig(), 80, 2, 5*time.Second)

	snap, err := b.Build(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// premium = (100.15 - 100) / 100
	if snap.Premium < 0.00149 || snap.Premium > 0.00151 {
		t.Errorf("premium = %v, want 0.0015", snap.Premium)
	}
	if snap.Spot.SMAShort == 0 || snap.Futures.SMAShort == 0 {
		t.Error("both venue indicator sets must be populated")
	}
	if !snap.Price(domain.VenueFutures).Equal(ex.futures) {
		t.Errorf("futures price = %s, want %s", snap.Price(domain.VenueFutures), ex.futures)
	}
}

func TestBuild_FetchFailure(t *testing.T) {
	b := NewBuilder(&fakeExchange{fail: true}, indicator.DefaultConfig(), 80, 2, 5*time.Second)

	_, err := b.Build(context.Background(), "BTCUSDT")
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestBuildAll_AllSymbolsFailed(t *testing.T) {
	b := NewBuilder(&fakeExchange{fail: true}, indicator.DefaultConfig(), 80, 2, 5*time.Second)

	_, err := b.BuildAll(context.Background(), []domain.Symbol{"BTCUSDT", "ETHUSDT"})
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable when every symbol fails, got %v", err)
	}
}

func TestPrevious_NeedsTwoCycles(t *testing.T) {
	ex := &fakeExchange{spot: decimal.NewFromInt(100), futures: decimal.NewFromInt(100)}
	b := NewBuilder(ex, indicator.DefaultConfig(), 80, 2, 5*time.Second)

	if b.Previous("BTCUSDT") != nil {
		t.Error("no snapshots yet")
	}

	first, err := b.Build(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if b.Previous("BTCUSDT") != nil {
		t.Error("one snapshot is not enough for a previous")
	}

	if _, err := b.Build(context.Background(), "BTCUSDT"); err != nil {
		t.Fatal(err)
	}
	if b.Previous("BTCUSDT") != first {
		t.Error("previous must return the second-most-recent snapshot")
	}
}
