package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"hybridbot/internal/domain"
	"hybridbot/internal/engine"
	"hybridbot/internal/execution"
	"hybridbot/internal/infra"
	"hybridbot/internal/infra/binance"
	"hybridbot/internal/infra/storage"
	"hybridbot/internal/market"
	"hybridbot/internal/notify"
	"hybridbot/internal/portfolio"
	"hybridbot/internal/risk"
	"hybridbot/internal/strategy"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config       *infra.Config
	Storage      *storage.Storage
	Exchange     *binance.LiveExchange
	Notifier     domain.Notifier
	Orchestrator *engine.Orchestrator
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads configuration and wires every component up to the
// orchestrator. The portfolio is seeded from live balances plus the last
// saved statistics so Kelly sizing survives restarts.
func (b *Bootstrap) Initialize(ctx context.Context, configPath string) error {
	slog.Info("🚀 Bootstrapping hybrid engine...")

	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized")

	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		b.Notifier = notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, "")
		slog.Info("✅ Telegram notifier ready")
	} else {
		b.Notifier = notify.Nop{}
	}

	client := binance.NewClient(cfg.Exchange.APIKey, cfg.Exchange.APISecret, binance.Options{
		SpotURL:         cfg.Exchange.RestURL,
		FuturesURL:      cfg.Exchange.FuturesRestURL,
		Timeout:         time.Duration(cfg.Exchange.TimeoutSec) * time.Second,
		RateLimitPerSec: cfg.Exchange.RateLimitPerSec,
		RateLimitBurst:  cfg.Exchange.RateLimitBurst,
	})
	b.Exchange = binance.NewLiveExchange(client, cfg.SymbolList(), cfg.Exchange.WSURL, cfg.Exchange.FuturesWSURL)

	state, err := b.seedPortfolio(ctx)
	if err != nil {
		return fmt.Errorf("portfolio seed failed: %w", err)
	}

	b.Orchestrator = b.wire(state)
	slog.Info("✅ Engine wired", slog.Int("symbols", len(cfg.Symbols)))
	return nil
}

// seedPortfolio reads venue balances and restores trade statistics from the
// last saved summary.
func (b *Bootstrap) seedPortfolio(ctx context.Context) (*domain.PortfolioState, error) {
	bctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	balances, err := b.Exchange.GetAccountBalances(bctx)
	if err != nil {
		return nil, err
	}
	state := domain.NewPortfolioState(balances.SpotEquity, balances.FuturesEquity)

	saved, err := b.Storage.LoadPortfolio(bctx)
	if err != nil {
		slog.Warn("saved portfolio unreadable, starting fresh", slog.Any("error", err))
	} else if saved != nil {
		state.RestoreStats(saved)
		slog.Info("portfolio statistics restored",
			slog.Int("trades", saved.Trades),
			slog.String("realized_pnl", saved.RealizedPnL.String()))
	}
	return state, nil
}

func (b *Bootstrap) wire(state *domain.PortfolioState) *engine.Orchestrator {
	cfg := b.Config

	builder := market.NewBuilder(
		b.Exchange,
		cfg.Indicators,
		cfg.Engine.HistoryWindow,
		cfg.Engine.Concurrency,
		time.Duration(cfg.Exchange.TimeoutSec)*time.Second,
	)

	generators := []strategy.Generator{
		strategy.NewArbitrage(cfg.Strategy.Arbitrage.PremiumThreshold, cfg.Strategy.Arbitrage.Fraction),
		strategy.NewHedge(cfg.Strategy.Hedge.ProtectionTrigger, cfg.Strategy.Hedge.VolatilityBound, cfg.Strategy.Hedge.Ratio),
		strategy.NewTrend(cfg.Strategy.Trend.Sensitivity, cfg.Strategy.Trend.Fraction),
		strategy.NewMomentum(cfg.Strategy.Momentum.Oversold, cfg.Strategy.Momentum.Overbought, cfg.Strategy.Momentum.Fraction),
	}

	arbiter := strategy.NewArbiter(cfg.Strategy.MinConfidence, cfg.Precedence())
	riskMgr := risk.NewManager(cfg.RiskLimits(), state)
	rebalancer := portfolio.NewRebalancer(
		state,
		cfg.AllocationTarget(),
		cfg.Rebalance.Threshold,
		cfg.Rebalance.Step,
		cfg.Rebalance.VolatilityBound,
	)
	coordinator := execution.NewCoordinator(
		b.Exchange,
		state,
		b.Storage,
		b.Notifier,
		time.Duration(cfg.Exchange.TimeoutSec)*time.Second,
		cfg.Risk.FeeTolerance,
	)

	return engine.New(
		engine.Config{
			Symbols:                cfg.SymbolList(),
			CycleInterval:          time.Duration(cfg.Engine.CycleSec) * time.Second,
			RebalanceInterval:      time.Duration(cfg.Rebalance.IntervalMin) * time.Minute,
			RebalanceSymbol:        domain.Symbol(cfg.Rebalance.Symbol),
			MaxConsecutiveFailures: cfg.Engine.MaxConsecutiveFailures,
		},
		builder, generators, arbiter, riskMgr, rebalancer, coordinator,
		state, b.Storage, b.Notifier,
	)
}
