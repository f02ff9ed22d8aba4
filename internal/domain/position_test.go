package domain

import (
	"testing"
)

func TestPosition_Margin(t *testing.T) {
	spot := Position{Venue: VenueSpot, Size: d(2), EntryPrice: d(100), Leverage: 1}
	if !spot.Margin().Equal(d(200)) {
		t.Errorf("spot margin = %s, want full notional 200", spot.Margin())
	}

	fut := Position{Venue: VenueFutures, Size: d(2), EntryPrice: d(100), Leverage: 5}
	if !fut.Margin().Equal(d(40)) {
		t.Errorf("futures margin = %s, want 40", fut.Margin())
	}
}

func TestPosition_Brackets(t *testing.T) {
	long := Position{Side: SideLong, Size: d(1), EntryPrice: d(100),
		StopLoss: d(95), TakeProfit: d(110)}

	if long.StopHit(d(96)) {
		t.Error("96 above the 95 stop")
	}
	if !long.StopHit(d(95)) {
		t.Error("stop must trigger at the level, not only below it")
	}
	if !long.TakeProfitHit(d(110)) {
		t.Error("take-profit must trigger at 110")
	}

	short := Position{Side: SideShort, Size: d(1), EntryPrice: d(100),
		StopLoss: d(105), TakeProfit: d(90)}

	if !short.StopHit(d(106)) {
		t.Error("short stop triggers above the level")
	}
	if !short.TakeProfitHit(d(89)) {
		t.Error("short take-profit triggers below the level")
	}

	// Reduce-only positions carry no brackets.
	bare := Position{Side: SideLong, Size: d(1), EntryPrice: d(100)}
	if bare.StopHit(d(1)) || bare.TakeProfitHit(d(1000)) {
		t.Error("zero bracket levels must never trigger")
	}
}

func TestPosition_PnL(t *testing.T) {
	long := Position{Side: SideLong, Size: d(2), EntryPrice: d(100)}
	if !long.UnrealizedPnL(d(110)).Equal(d(20)) {
		t.Errorf("long pnl = %s, want 20", long.UnrealizedPnL(d(110)))
	}
	if got := long.UnrealizedPnLPct(d(110)); got != 0.1 {
		t.Errorf("long pnl pct = %v, want 0.1", got)
	}

	short := Position{Side: SideShort, Size: d(2), EntryPrice: d(100)}
	if !short.UnrealizedPnL(d(110)).Equal(d(-20)) {
		t.Errorf("short pnl = %s, want -20", short.UnrealizedPnL(d(110)))
	}
	if short.CloseSide() != SideLong {
		t.Error("closing a short buys")
	}
}
