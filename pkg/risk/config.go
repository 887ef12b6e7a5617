package risk

import (
	"errors"
	"fmt"
)

// Tier buckets capital into the micro/small/standard regimes that drive grid
// density, sizing boosts and exposure limits.
type Tier int

const (
	TierMicro Tier = iota
	TierSmall
	TierStandard
)

func (t Tier) String() string {
	switch t {
	case TierMicro:
		return "micro"
	case TierSmall:
		return "small"
	default:
		return "standard"
	}
}

// Tiers holds the capital thresholds separating the tiers.
type Tiers struct {
	Micro float64 `yaml:"micro_capital_threshold"`
	Small float64 `yaml:"small_capital_threshold"`
}

// DefaultTiers mirrors the production thresholds ($500 / $1000).
func DefaultTiers() Tiers {
	return Tiers{Micro: 500, Small: 1000}
}

// Of classifies capital into a tier.
func (t Tiers) Of(capital float64) Tier {
	switch {
	case capital < t.Micro:
		return TierMicro
	case capital < t.Small:
		return TierSmall
	default:
		return TierStandard
	}
}

// ExposureLimitPct returns the share of capital that may be exposed in a tier.
func ExposureLimitPct(tier Tier) float64 {
	switch tier {
	case TierMicro:
		return 0.90
	case TierSmall:
		return 0.85
	default:
		return 0.80
	}
}

// Limit returns the absolute exposure ceiling for capital.
func (t Tiers) Limit(capital float64) float64 {
	if capital <= 0 {
		return 0
	}
	return capital * ExposureLimitPct(t.Of(capital))
}

// Config captures sizing and breaker policy.
type Config struct {
	Tiers `yaml:",inline"`

	Capital          float64 `yaml:"capital"`
	RiskPerTrade     float64 `yaml:"risk_per_trade"`
	MinRiskPerTrade  float64 `yaml:"min_risk_per_trade"`
	MaxRiskPerTrade  float64 `yaml:"max_risk_per_trade"`
	MicroRiskCeiling float64 `yaml:"micro_risk_ceiling"`
	FallbackRiskCap  float64 `yaml:"fallback_risk_cap"`

	DynamicSizing   *bool `yaml:"dynamic_sizing"`
	CompoundProfits *bool `yaml:"compound_profits"`

	WinRateHigh         float64 `yaml:"win_rate_threshold_high"`
	WinRateLow          float64 `yaml:"win_rate_threshold_low"`
	RiskScalingFactor   float64 `yaml:"risk_scaling_factor"`
	SmallAccountBoost   float64 `yaml:"small_account_boost"`
	MinTradesForScaling int     `yaml:"min_trades_for_scaling"`
	MomentumWindow      int     `yaml:"momentum_window"`
	HistoryWindow       int     `yaml:"history_window"`

	MaxDailyLossPct float64 `yaml:"max_daily_loss_pct"`
	StopLossPct     float64 `yaml:"stop_loss_pct"`
	MaxDrawdownPct  float64 `yaml:"max_drawdown_pct"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	cfg := Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values with production defaults.
func (c *Config) ApplyDefaults() {
	if c.Micro == 0 && c.Small == 0 {
		c.Tiers = DefaultTiers()
	}
	setDefault(&c.Capital, 250)
	setDefault(&c.RiskPerTrade, 0.02)
	setDefault(&c.MinRiskPerTrade, 0.01)
	setDefault(&c.MaxRiskPerTrade, 0.05)
	setDefault(&c.MicroRiskCeiling, 0.04)
	setDefault(&c.FallbackRiskCap, 0.02)
	setDefault(&c.WinRateHigh, 0.7)
	setDefault(&c.WinRateLow, 0.5)
	setDefault(&c.RiskScalingFactor, 1.5)
	setDefault(&c.SmallAccountBoost, 1.2)
	setDefault(&c.MaxDailyLossPct, 0.05)
	setDefault(&c.StopLossPct, 0.05)
	setDefault(&c.MaxDrawdownPct, 0.15)
	if c.MinTradesForScaling == 0 {
		c.MinTradesForScaling = 10
	}
	if c.MomentumWindow == 0 {
		c.MomentumWindow = 20
	}
	if c.HistoryWindow == 0 {
		c.HistoryWindow = 50
	}
	if c.DynamicSizing == nil {
		c.DynamicSizing = boolPtr(true)
	}
	if c.CompoundProfits == nil {
		c.CompoundProfits = boolPtr(true)
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Capital <= 0 {
		return errors.New("risk config: capital must be positive")
	}
	if c.RiskPerTrade <= 0 || c.RiskPerTrade > 0.1 {
		return fmt.Errorf("risk config: risk_per_trade must be in (0, 0.1], got %v", c.RiskPerTrade)
	}
	if c.MinRiskPerTrade > c.MaxRiskPerTrade {
		return errors.New("risk config: min_risk_per_trade exceeds max_risk_per_trade")
	}
	if c.WinRateLow > c.WinRateHigh {
		return errors.New("risk config: win_rate_threshold_low exceeds win_rate_threshold_high")
	}
	if c.Micro <= 0 || c.Small <= c.Micro {
		return errors.New("risk config: capital thresholds must satisfy 0 < micro < small")
	}
	if c.MaxDailyLossPct <= 0 || c.MaxDailyLossPct >= 1 {
		return fmt.Errorf("risk config: max_daily_loss_pct must be in (0, 1), got %v", c.MaxDailyLossPct)
	}
	if c.StopLossPct < 0 || c.MaxDrawdownPct < 0 {
		return errors.New("risk config: stop_loss_pct and max_drawdown_pct cannot be negative")
	}
	return nil
}

func (c *Config) dynamicSizing() bool   { return c.DynamicSizing == nil || *c.DynamicSizing }
func (c *Config) compoundProfits() bool { return c.CompoundProfits == nil || *c.CompoundProfits }

func setDefault(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}

func boolPtr(v bool) *bool { return &v }

// TierLimit is the exposure ceiling for capital under the default tiers.
func TierLimit(capital float64) float64 {
	return DefaultTiers().Limit(capital)
}
