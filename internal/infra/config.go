package infra

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"hybridbot/internal/domain"
	"hybridbot/internal/indicator"
)

// Config holds every setting for a run. Loaded once from YAML, sensitive
// values overridden from the environment, then validated.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Exchange struct {
		RestURL         string `yaml:"rest_url"`
		FuturesRestURL  string `yaml:"futures_rest_url"`
		WSURL           string `yaml:"ws_url"`
		FuturesWSURL    string `yaml:"futures_ws_url"`
		APIKey          string `yaml:"api_key"`
		APISecret       string `yaml:"api_secret"`
		TimeoutSec      int    `yaml:"timeout_sec"`
		RateLimitPerSec int    `yaml:"rate_limit_per_sec"`
		RateLimitBurst  int    `yaml:"rate_limit_burst"`
	} `yaml:"exchange"`

	Symbols []string `yaml:"symbols"`

	Allocation struct {
		Spot    decimal.Decimal `yaml:"spot"`
		Futures decimal.Decimal `yaml:"futures"`
	} `yaml:"allocation"`

	Strategy struct {
		MinConfidence float64  `yaml:"min_confidence"`
		Precedence    []string `yaml:"precedence"`
		Arbitrage     struct {
			PremiumThreshold float64         `yaml:"premium_threshold"`
			Fraction         decimal.Decimal `yaml:"fraction"`
		} `yaml:"arbitrage"`
		Trend struct {
			Sensitivity float64         `yaml:"sensitivity"`
			Fraction    decimal.Decimal `yaml:"fraction"`
		} `yaml:"trend"`
		Hedge struct {
			ProtectionTrigger float64         `yaml:"protection_trigger"`
			VolatilityBound   float64         `yaml:"volatility_bound"`
			Ratio             decimal.Decimal `yaml:"ratio"`
		} `yaml:"hedge"`
		Momentum struct {
			Oversold   float64         `yaml:"oversold"`
			Overbought float64         `yaml:"overbought"`
			Fraction   decimal.Decimal `yaml:"fraction"`
		} `yaml:"momentum"`
	} `yaml:"strategy"`

	Risk struct {
		PerTradeRisk        decimal.Decimal `yaml:"per_trade_risk"`
		MaxPositionFraction decimal.Decimal `yaml:"max_position_fraction"`
		MaxDrawdown         decimal.Decimal `yaml:"max_drawdown"`
		DrawdownResume      decimal.Decimal `yaml:"drawdown_resume"`
		MaxLeverage         int             `yaml:"max_leverage"`
		StopLossPct         decimal.Decimal `yaml:"stop_loss_pct"`
		TakeProfitPct       decimal.Decimal `yaml:"take_profit_pct"`
		KellyCap            decimal.Decimal `yaml:"kelly_cap"`
		MinTradesForKelly   int             `yaml:"min_trades_for_kelly"`
		FeeTolerance        decimal.Decimal `yaml:"fee_tolerance"`
	} `yaml:"risk"`

	Rebalance struct {
		Threshold       decimal.Decimal `yaml:"threshold"`
		Step            decimal.Decimal `yaml:"step"`
		IntervalMin     int             `yaml:"interval_min"`
		VolatilityBound float64         `yaml:"volatility_bound"`
		Symbol          string          `yaml:"symbol"`
	} `yaml:"rebalance"`

	Engine struct {
		CycleSec               int `yaml:"cycle_sec"`
		HistoryWindow          int `yaml:"history_window"`
		MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`
		Concurrency            int `yaml:"concurrency"`
	} `yaml:"engine"`

	Indicators indicator.Config `yaml:"indicators"`

	Notify struct {
		TelegramToken  string `yaml:"telegram_token"`
		TelegramChatID string `yaml:"telegram_chat_id"`
	} `yaml:"notify"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Exchange.RestURL == "" {
		return fmt.Errorf("exchange rest_url is required")
	}
	for _, u := range []string{c.Exchange.WSURL, c.Exchange.FuturesWSURL} {
		if u != "" && !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
			return fmt.Errorf("invalid exchange WS URL: %s", u)
		}
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}

	one := decimal.NewFromInt(1)
	if !c.Allocation.Spot.Add(c.Allocation.Futures).Equal(one) {
		return fmt.Errorf("allocation targets must sum to 1, got %s + %s",
			c.Allocation.Spot, c.Allocation.Futures)
	}
	if c.Allocation.Spot.IsNegative() || c.Allocation.Futures.IsNegative() {
		return fmt.Errorf("allocation targets must be non-negative")
	}

	if c.Risk.MaxLeverage < 1 {
		return fmt.Errorf("max_leverage must be at least 1")
	}
	if c.Risk.DrawdownResume.GreaterThan(c.Risk.MaxDrawdown) {
		return fmt.Errorf("drawdown_resume %s must not exceed max_drawdown %s",
			c.Risk.DrawdownResume, c.Risk.MaxDrawdown)
	}
	if !c.Risk.PerTradeRisk.IsPositive() || c.Risk.PerTradeRisk.GreaterThan(one) {
		return fmt.Errorf("per_trade_risk must be in (0, 1]")
	}
	if !c.Risk.StopLossPct.IsPositive() || !c.Risk.TakeProfitPct.IsPositive() {
		return fmt.Errorf("stop_loss_pct and take_profit_pct must be positive")
	}

	if c.Rebalance.Threshold.IsNegative() {
		return fmt.Errorf("rebalance threshold must be non-negative")
	}
	if c.Engine.CycleSec <= 0 {
		return fmt.Errorf("cycle_sec must be positive")
	}
	if c.Engine.HistoryWindow < c.Indicators.MinHistory() {
		return fmt.Errorf("history_window %d is shorter than the indicator minimum %d",
			c.Engine.HistoryWindow, c.Indicators.MinHistory())
	}

	for _, kind := range c.Strategy.Precedence {
		switch domain.StrategyKind(kind) {
		case domain.StrategyArbitrage, domain.StrategyHedge, domain.StrategyTrend, domain.StrategyMomentum:
		default:
			return fmt.Errorf("unknown strategy in precedence: %s", kind)
		}
	}

	return nil
}

// RiskLimits maps the risk section to the domain type.
func (c *Config) RiskLimits() domain.RiskLimits {
	return domain.RiskLimits{
		PerTradeRisk:        c.Risk.PerTradeRisk,
		MaxPositionFraction: c.Risk.MaxPositionFraction,
		MaxDrawdown:         c.Risk.MaxDrawdown,
		DrawdownResume:      c.Risk.DrawdownResume,
		MaxLeverage:         c.Risk.MaxLeverage,
		StopLossPct:         c.Risk.StopLossPct,
		TakeProfitPct:       c.Risk.TakeProfitPct,
		KellyCap:            c.Risk.KellyCap,
		MinTradesForKelly:   c.Risk.MinTradesForKelly,
		FeeTolerance:        c.Risk.FeeTolerance,
	}
}

// AllocationTarget maps the allocation section to the domain type.
func (c *Config) AllocationTarget() domain.AllocationTarget {
	return domain.AllocationTarget{Spot: c.Allocation.Spot, Futures: c.Allocation.Futures}
}

// SymbolList converts the configured symbols to the domain type.
func (c *Config) SymbolList() []domain.Symbol {
	out := make([]domain.Symbol, len(c.Symbols))
	for i, s := range c.Symbols {
		out[i] = domain.Symbol(s)
	}
	return out
}

// Precedence converts the configured strategy order, falling back to nil so
// the arbiter applies its default when the list is empty.
func (c *Config) Precedence() []domain.StrategyKind {
	if len(c.Strategy.Precedence) == 0 {
		return nil
	}
	out := make([]domain.StrategyKind, len(c.Strategy.Precedence))
	for i, s := range c.Strategy.Precedence {
		out[i] = domain.StrategyKind(s)
	}
	return out
}

// overrideWithEnv replaces sensitive values from the environment when set.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("HYBRIDBOT_API_KEY"); key != "" {
		cfg.Exchange.APIKey = key
	}
	if secret := os.Getenv("HYBRIDBOT_API_SECRET"); secret != "" {
		cfg.Exchange.APISecret = secret
	}
	if token := os.Getenv("HYBRIDBOT_TELEGRAM_TOKEN"); token != "" {
		cfg.Notify.TelegramToken = token
	}
	if chat := os.Getenv("HYBRIDBOT_TELEGRAM_CHAT"); chat != "" {
		cfg.Notify.TelegramChatID = chat
	}
}
