package grid

import (
	"errors"
	"fmt"

	"gridpilot/pkg/risk"
)

// Config controls level density, spacing and the optional depth weighting.
type Config struct {
	risk.Tiers `yaml:",inline"`

	BaseLevels         int     `yaml:"grid_levels"`
	PriceRangePct      float64 `yaml:"price_range_percent"`
	DensityMultiplier  float64 `yaml:"grid_density_multiplier"`
	MicroDensityBoost  float64 `yaml:"micro_density_boost"`
	MicroSpacingFactor float64 `yaml:"micro_spacing_factor"`
	SmallSpacingFactor float64 `yaml:"small_spacing_factor"`
	MicroMaxLevels     int     `yaml:"micro_max_levels"`
	SmallMaxLevels     int     `yaml:"small_max_levels"`
	MinSpacing         float64 `yaml:"min_grid_spacing"`
	MaxSpacing         float64 `yaml:"max_grid_spacing"`
	AdaptiveSpacing    *bool   `yaml:"adaptive_spacing"`

	Volatility VolatilityConfig `yaml:"volatility"`
	Depth      DepthConfig      `yaml:"depth"`
}

// VolatilityConfig tunes the realised-volatility estimator and the spacing
// multiplier derived from it.
type VolatilityConfig struct {
	Default    float64 `yaml:"default"`
	Window     int     `yaml:"window"`
	MinTrades  int     `yaml:"min_trades"`
	MinSamples int     `yaml:"min_samples"`
	Smoothing  float64 `yaml:"smoothing"`
	Floor      float64 `yaml:"floor"`
	Ceiling    float64 `yaml:"ceiling"`

	Base          float64 `yaml:"base"`
	Scale         float64 `yaml:"scale"`
	MultiplierMin float64 `yaml:"multiplier_min"`
	MultiplierMax float64 `yaml:"multiplier_max"`
}

// DepthConfig tunes order-book analysis and volume-weighted placement.
type DepthConfig struct {
	Enabled            *bool   `yaml:"enabled"`
	BucketPct          float64 `yaml:"bucket_pct"`
	MaxDistancePct     float64 `yaml:"max_distance_pct"`
	MaxLevels          int     `yaml:"max_levels"`
	MinStrength        float64 `yaml:"min_volume_strength"`
	MinQuality         float64 `yaml:"min_depth_quality"`
	MinStrongLevels    int     `yaml:"min_strong_levels"`
	MaxSpreadPct       float64 `yaml:"max_spread_pct"`
	Tolerance          float64 `yaml:"volume_adjustment_tolerance"`
	ImbalanceThreshold float64 `yaml:"imbalance_threshold"`
	ImbalanceBias      float64 `yaml:"imbalance_bias"`
}

// DefaultConfig returns the production planner defaults.
func DefaultConfig() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Micro == 0 && c.Small == 0 {
		c.Tiers = risk.DefaultTiers()
	}
	if c.BaseLevels == 0 {
		c.BaseLevels = 5
	}
	if c.MicroMaxLevels == 0 {
		c.MicroMaxLevels = 20
	}
	if c.SmallMaxLevels == 0 {
		c.SmallMaxLevels = 15
	}
	setDefault(&c.PriceRangePct, 0.10)
	setDefault(&c.DensityMultiplier, 2.0)
	setDefault(&c.MicroDensityBoost, 1.5)
	setDefault(&c.MicroSpacingFactor, 0.3)
	setDefault(&c.SmallSpacingFactor, 0.5)
	setDefault(&c.MinSpacing, 0.005)
	setDefault(&c.MaxSpacing, 0.03)
	if c.AdaptiveSpacing == nil {
		v := true
		c.AdaptiveSpacing = &v
	}
	c.Volatility.applyDefaults()
	c.Depth.applyDefaults()
}

func (v *VolatilityConfig) applyDefaults() {
	setDefault(&v.Default, 0.02)
	setDefault(&v.Smoothing, 0.7)
	setDefault(&v.Floor, 0.005)
	setDefault(&v.Ceiling, 0.15)
	setDefault(&v.Base, 0.02)
	setDefault(&v.Scale, 2.0)
	setDefault(&v.MultiplierMin, 0.5)
	setDefault(&v.MultiplierMax, 2.5)
	if v.Window == 0 {
		v.Window = 50
	}
	if v.MinTrades == 0 {
		v.MinTrades = 10
	}
	if v.MinSamples == 0 {
		v.MinSamples = 5
	}
}

func (d *DepthConfig) applyDefaults() {
	if d.Enabled == nil {
		v := true
		d.Enabled = &v
	}
	setDefault(&d.BucketPct, 0.001)
	setDefault(&d.MaxDistancePct, 0.05)
	setDefault(&d.MinStrength, 0.3)
	setDefault(&d.MinQuality, 0.3)
	setDefault(&d.MaxSpreadPct, 0.02)
	setDefault(&d.Tolerance, 0.02)
	setDefault(&d.ImbalanceThreshold, 0.3)
	setDefault(&d.ImbalanceBias, 0.01)
	if d.MaxLevels == 0 {
		d.MaxLevels = 10
	}
	if d.MinStrongLevels == 0 {
		d.MinStrongLevels = 3
	}
}

// Validate checks value ranges. Call after ApplyDefaults.
func (c *Config) Validate() error {
	if c.BaseLevels <= 0 {
		return errors.New("grid config: grid_levels must be positive")
	}
	if c.PriceRangePct <= 0 || c.PriceRangePct >= 1 {
		return fmt.Errorf("grid config: price_range_percent must be in (0,1), got %v", c.PriceRangePct)
	}
	if c.MinSpacing <= 0 || c.MinSpacing > c.MaxSpacing {
		return fmt.Errorf("grid config: invalid spacing band [%v, %v]", c.MinSpacing, c.MaxSpacing)
	}
	if c.Small <= c.Micro {
		return errors.New("grid config: small_capital_threshold must exceed micro_capital_threshold")
	}
	if c.Volatility.Smoothing < 0 || c.Volatility.Smoothing > 1 {
		return errors.New("grid config: volatility smoothing must be within [0,1]")
	}
	if c.Depth.Tolerance < 0 || c.Depth.Tolerance > 0.1 {
		return fmt.Errorf("grid config: volume_adjustment_tolerance must be within [0,0.1], got %v", c.Depth.Tolerance)
	}
	return nil
}

func (c *Config) adaptive() bool      { return c.AdaptiveSpacing == nil || *c.AdaptiveSpacing }
func (d *DepthConfig) enabled() bool { return d.Enabled == nil || *d.Enabled }

func setDefault(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}
