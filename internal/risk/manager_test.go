package risk

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"hybridbot/internal/domain"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func limits() domain.RiskLimits {
	return domain.RiskLimits{
		PerTradeRisk:        d(0.02),
		MaxPositionFraction: d(0.2),
		MaxDrawdown:         d(0.20),
		DrawdownResume:      d(0.16),
		MaxLeverage:         5,
		StopLossPct:         d(0.05),
		TakeProfitPct:       d(0.10),
		KellyCap:            d(0.25),
		MinTradesForKelly:   20,
		FeeTolerance:        d(0.002),
	}
}

func snap(spot, futures float64) *domain.MarketSnapshot {
	return &domain.MarketSnapshot{
		Symbol:       "BTCUSDT",
		SpotPrice:    d(spot),
		FuturesPrice: d(futures),
	}
}

func longSignal(confidence float64) *domain.TradeSignal {
	return &domain.TradeSignal{
		Symbol:     "BTCUSDT",
		Kind:       domain.StrategyTrend,
		Venue:      domain.VenueSpot,
		Direction:  domain.DirectionLong,
		Confidence: confidence,
		Fraction:   d(0.3),
	}
}

func TestApprove_SizeRespectsPerTradeCap(t *testing.T) {
	ps := domain.NewPortfolioState(d(10000), d(0))
	m := NewManager(limits(), ps)

	spec, err := m.Approve(longSignal(1), snap(100, 100))
	if err != nil {
		t.Fatalf("approve: %v", err)
	}

	// No Kelly history: fallback per-trade fraction. 2% of 10000 = 200
	// notional, so at most 2 units at price 100.
	maxSize := d(2)
	if spec.Size.GreaterThan(maxSize) {
		t.Errorf("size = %s, exceeds per-trade cap %s", spec.Size, maxSize)
	}
	if spec.Size.IsZero() || spec.Size.IsNegative() {
		t.Errorf("size = %s, want positive", spec.Size)
	}
	if spec.Leverage != 1 {
		t.Errorf("spot leverage = %d, want 1", spec.Leverage)
	}
	if spec.StopLoss.IsZero() || spec.TakeProfit.IsZero() {
		t.Error("entry orders must carry both brackets")
	}
}

func TestApprove_SymbolExposureCap(t *testing.T) {
	ps := domain.NewPortfolioState(d(10000), d(0))
	m := NewManager(limits(), ps)

	// Existing exposure at the 20% cap: 2000 notional.
	if err := ps.OpenPosition(&domain.Position{
		Symbol: "BTCUSDT", Venue: domain.VenueSpot, Side: domain.SideLong,
		Size: d(20), EntryPrice: d(100), Leverage: 1,
	}); err != nil {
		t.Fatal(err)
	}

	_, err := m.Approve(longSignal(1), snap(100, 100))
	var veto *domain.VetoError
	if !errors.As(err, &veto) {
		t.Fatalf("expected a veto at the exposure cap, got %v", err)
	}
}

func TestApprove_DrawdownFreezeAndResume(t *testing.T) {
	ps := domain.NewPortfolioState(d(1000), d(0))
	m := NewManager(limits(), ps)

	if err := ps.OpenPosition(&domain.Position{
		Symbol: "BTCUSDT", Venue: domain.VenueSpot, Side: domain.SideLong,
		Size: d(5), EntryPrice: d(100), Leverage: 1,
	}); err != nil {
		t.Fatal(err)
	}

	// 25% drawdown from the 1000 peak freezes entries.
	ps.UpdateMark("BTCUSDT", domain.VenueSpot, d(50))
	_, err := m.Approve(longSignal(1), snap(50, 50))
	if !errors.Is(err, domain.ErrDrawdownBreach) {
		t.Fatalf("expected ErrDrawdownBreach at 25%% drawdown, got %v", err)
	}
	if !m.Frozen() {
		t.Error("freeze latch must be engaged")
	}

	// Recovery to 18% drawdown is inside the hysteresis band: still frozen.
	ps.UpdateMark("BTCUSDT", domain.VenueSpot, d(64))
	if _, err := m.Approve(longSignal(1), snap(64, 64)); !errors.Is(err, domain.ErrDrawdownBreach) {
		t.Fatalf("expected freeze to hold at 18%%, got %v", err)
	}

	// Below the 16% resume level the latch releases.
	ps.UpdateMark("BTCUSDT", domain.VenueSpot, d(75))
	if _, err := m.Approve(longSignal(1), snap(75, 75)); errors.Is(err, domain.ErrDrawdownBreach) {
		t.Fatal("expected entries to resume below the resume threshold")
	}
	if m.Frozen() {
		t.Error("freeze latch must be released")
	}
}

func TestApprove_CloseBypassesFreeze(t *testing.T) {
	ps := domain.NewPortfolioState(d(1000), d(0))
	m := NewManager(limits(), ps)

	if err := ps.OpenPosition(&domain.Position{
		Symbol: "BTCUSDT", Venue: domain.VenueSpot, Side: domain.SideLong,
		Size: d(5), EntryPrice: d(100), Leverage: 1,
	}); err != nil {
		t.Fatal(err)
	}
	ps.UpdateMark("BTCUSDT", domain.VenueSpot, d(50))

	spec, err := m.Approve(&domain.TradeSignal{
		Symbol:    "BTCUSDT",
		Kind:      domain.StrategyMomentum,
		Venue:     domain.VenueSpot,
		Direction: domain.DirectionClose,
	}, snap(50, 50))
	if err != nil {
		t.Fatalf("closes must bypass the freeze: %v", err)
	}
	if !spec.ReduceOnly {
		t.Error("close spec must be reduce-only")
	}
	if spec.Side != domain.SideShort {
		t.Errorf("closing a long sells, got %s", spec.Side)
	}
	if !spec.Size.Equal(d(5)) {
		t.Errorf("close size = %s, want full 5", spec.Size)
	}
}

func TestApprove_LeverageScalesWithConfidence(t *testing.T) {
	ps := domain.NewPortfolioState(d(0), d(10000))
	m := NewManager(limits(), ps)

	futSig := func(conf float64) *domain.TradeSignal {
		s := longSignal(conf)
		s.Venue = domain.VenueFutures
		s.Direction = domain.DirectionShort
		return s
	}

	spec, err := m.Approve(futSig(1), snap(100, 100))
	if err != nil {
		t.Fatal(err)
	}
	if spec.Leverage != 5 {
		t.Errorf("full confidence leverage = %d, want max 5", spec.Leverage)
	}

	spec, err = m.Approve(futSig(0.4), snap(100, 100))
	if err != nil {
		t.Fatal(err)
	}
	if spec.Leverage != 2 {
		t.Errorf("0.4 confidence leverage = %d, want 2", spec.Leverage)
	}

	spec, err = m.Approve(futSig(0.31), snap(100, 100))
	if err != nil {
		t.Fatal(err)
	}
	if spec.Leverage != 1 {
		t.Errorf("low confidence leverage = %d, want floor 1", spec.Leverage)
	}
}

func TestKellyFallbackWithThinHistory(t *testing.T) {
	ps := domain.NewPortfolioState(d(10000), d(0))
	m := NewManager(limits(), ps)

	// Zero realized trades: kelly falls back to the per-trade fraction.
	got := m.kellyFraction()
	if !got.Equal(limits().PerTradeRisk) {
		t.Errorf("kelly fallback = %s, want per-trade %s", got, limits().PerTradeRisk)
	}
}

func TestKellyFromStatistics(t *testing.T) {
	lim := limits()
	lim.MinTradesForKelly = 2
	ps := domain.NewPortfolioState(d(100000), d(0))
	m := NewManager(lim, ps)

	// Two symmetric round trips: one +10%, one -5%.
	mustOpen := func(entry float64) {
		if err := ps.OpenPosition(&domain.Position{
			Symbol: "BTCUSDT", Venue: domain.VenueSpot, Side: domain.SideLong,
			Size: d(1), EntryPrice: d(entry), Leverage: 1,
		}); err != nil {
			t.Fatal(err)
		}
	}
	mustOpen(100)
	ps.ReducePosition("BTCUSDT", domain.VenueSpot, d(1), d(110))
	mustOpen(100)
	ps.ReducePosition("BTCUSDT", domain.VenueSpot, d(1), d(95))

	// w=0.5, avgWin=0.1, avgLoss=0.05:
	// kelly = (0.5*0.1 - 0.5*0.05) / 0.1 = 0.25
	got := m.kellyFraction()
	if !got.Equal(d(0.25)) {
		t.Errorf("kelly = %s, want 0.25", got)
	}

	// The cap binds when the edge estimate is larger.
	lim.KellyCap = d(0.1)
	m2 := NewManager(lim, ps)
	if got := m2.kellyFraction(); !got.Equal(d(0.1)) {
		t.Errorf("capped kelly = %s, want 0.1", got)
	}
}

func TestBrackets(t *testing.T) {
	m := NewManager(limits(), domain.NewPortfolioState(d(1000), d(0)))

	// Calm market: the configured 5% stop distance holds.
	stop, take := m.Brackets(domain.SideLong, d(100), 0.01, 0)
	if !stop.Equal(d(95)) {
		t.Errorf("long stop = %s, want 95", stop)
	}
	if !take.Equal(d(110)) {
		t.Errorf("long take = %s, want 110", take)
	}

	// Violent market: the stop widens but never past twice the base.
	stop, _ = m.Brackets(domain.SideLong, d(100), 0.2, 0)
	if !stop.Equal(d(90)) {
		t.Errorf("volatile stop = %s, want the 10%% floor at 90", stop)
	}

	// Confidence grows the target but reward stays at most 2:1 vs the stop.
	_, take = m.Brackets(domain.SideLong, d(100), 0.01, 1)
	if !take.Equal(d(110)) {
		t.Errorf("take = %s, want capped at 110 (2x the 5%% stop)", take)
	}

	// Short side mirrors.
	stop, take = m.Brackets(domain.SideShort, d(100), 0.01, 0)
	if !stop.Equal(d(105)) || !take.Equal(d(90)) {
		t.Errorf("short brackets = %s / %s, want 105 / 90", stop, take)
	}
}

func TestApproveRebalance(t *testing.T) {
	ps := domain.NewPortfolioState(d(1000), d(0))
	m := NewManager(limits(), ps)

	// Reduce-only passes untouched even while frozen.
	if err := ps.OpenPosition(&domain.Position{
		Symbol: "BTCUSDT", Venue: domain.VenueSpot, Side: domain.SideLong,
		Size: d(5), EntryPrice: d(100), Leverage: 1,
	}); err != nil {
		t.Fatal(err)
	}
	ps.UpdateMark("BTCUSDT", domain.VenueSpot, d(50))

	ro := &domain.OrderSpec{Symbol: "BTCUSDT", ReduceOnly: true}
	if err := m.ApproveRebalance(ro, d(50), 0.01); err != nil {
		t.Fatalf("reduce-only rebalance vetoed: %v", err)
	}

	// Entry-side rebalance orders honor the freeze.
	entry := &domain.OrderSpec{Symbol: "BTCUSDT", Side: domain.SideLong, Leverage: 9}
	if err := m.ApproveRebalance(entry, d(50), 0.01); !errors.Is(err, domain.ErrDrawdownBreach) {
		t.Fatalf("expected freeze veto, got %v", err)
	}
}
