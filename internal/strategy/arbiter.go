package strategy

import (
	"sort"

	"hybridbot/internal/domain"
)

// DefaultPrecedence breaks confidence ties: arbitrage beats hedge beats trend
// beats momentum. The order is configurable because the relative priority of
// simultaneous arbitrage and trend signals is a policy choice.
var DefaultPrecedence = []domain.StrategyKind{
	domain.StrategyArbitrage,
	domain.StrategyHedge,
	domain.StrategyTrend,
	domain.StrategyMomentum,
}

// Arbiter selects at most one signal per symbol per cycle. This is the
// concurrency-safety boundary that prevents conflicting orders on the same
// symbol within a cycle.
type Arbiter struct {
	minConfidence float64
	rank          map[domain.StrategyKind]int
}

// NewArbiter creates an arbiter with the given minimum confidence and
// precedence order. An empty order falls back to DefaultPrecedence.
func NewArbiter(minConfidence float64, precedence []domain.StrategyKind) *Arbiter {
	if len(precedence) == 0 {
		precedence = DefaultPrecedence
	}
	rank := make(map[domain.StrategyKind]int, len(precedence))
	for i, kind := range precedence {
		rank[kind] = i
	}
	return &Arbiter{minConfidence: minConfidence, rank: rank}
}

// Select picks the winning signal for one symbol, or nil when every
// candidate is rejected. Hedge signals win outright when the symbol already
// has an open position, since they reduce risk rather than add it.
func (a *Arbiter) Select(candidates []*domain.TradeSignal, hasOpenPosition bool) *domain.TradeSignal {
	eligible := make([]*domain.TradeSignal, 0, len(candidates))
	for _, sig := range candidates {
		if sig == nil || sig.Confidence < a.minConfidence {
			continue
		}
		eligible = append(eligible, sig)
	}
	if len(eligible) == 0 {
		return nil
	}

	if hasOpenPosition {
		var hedge *domain.TradeSignal
		for _, sig := range eligible {
			if sig.Kind != domain.StrategyHedge {
				continue
			}
			if hedge == nil || sig.Confidence > hedge.Confidence {
				hedge = sig
			}
		}
		if hedge != nil {
			return hedge
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Confidence != eligible[j].Confidence {
			return eligible[i].Confidence > eligible[j].Confidence
		}
		return a.kindRank(eligible[i].Kind) < a.kindRank(eligible[j].Kind)
	})
	return eligible[0]
}

func (a *Arbiter) kindRank(kind domain.StrategyKind) int {
	if r, ok := a.rank[kind]; ok {
		return r
	}
	return len(a.rank)
}
