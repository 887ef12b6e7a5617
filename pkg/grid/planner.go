package grid

import (
	"errors"
	"fmt"
	"math"

	"gridpilot/pkg/execution"
	"gridpilot/pkg/market"
	"gridpilot/pkg/risk"
)

// ErrInvalidPrice is returned by Plan for a non-positive reference price.
var ErrInvalidPrice = errors.New("grid: price must be positive")

// Planner computes adaptive grid levels. It holds no mutable state: the same
// inputs always produce the same plan.
type Planner struct {
	cfg      Config
	sizer    *risk.Sizer
	baseRisk float64
}

// NewPlanner builds a planner. A nil sizer leaves level quantities at zero.
func NewPlanner(cfg Config, sizer *risk.Sizer, baseRisk float64) *Planner {
	cfg.ApplyDefaults()
	return &Planner{cfg: cfg, sizer: sizer, baseRisk: baseRisk}
}

// Config returns the effective configuration.
func (p *Planner) Config() Config { return p.cfg }

// Plan lays out buy levels below and sell levels above price. When depth is
// usable the levels are pulled toward nearby volume clusters; otherwise the
// unadjusted plan is returned.
func (p *Planner) Plan(price float64, state risk.State, volatility float64, depth *market.DepthSnapshot) (Plan, error) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return Plan{}, fmt.Errorf("%w: %v", ErrInvalidPrice, price)
	}
	capital := state.BaseCapital
	count := p.LevelCount(capital)
	spacing := p.Spacing(capital, volatility)

	buys := make([]float64, count)
	sells := make([]float64, count)
	step := price * spacing
	for i := 0; i < count; i++ {
		buys[i] = price - float64(i+1)*step
		sells[i] = price + float64(i+1)*step
	}
	buys = positive(buys)

	plan := Plan{
		Price:      price,
		Spacing:    spacing,
		Volatility: volatility,
		Tier:       p.cfg.Of(capital).String(),
	}
	if depth != nil && p.cfg.Depth.enabled() {
		if a, ok := AnalyzeDepth(depth, price, p.cfg.Depth); ok {
			plan.Analysis = &a
			if a.Suitable(p.cfg.Depth) {
				buys = a.Adjust(buys, price, market.Buy, p.cfg.Depth)
				sells = a.Adjust(sells, price, market.Sell, p.cfg.Depth)
				plan.Weighted = true
			}
		}
	}
	plan.Buys = p.levels(market.Buy, buys, state)
	plan.Sells = p.levels(market.Sell, sells, state)
	return plan, nil
}

func (p *Planner) levels(side market.Side, prices []float64, state risk.State) []Level {
	out := make([]Level, len(prices))
	for i, px := range prices {
		qty := 0.0
		if p.sizer != nil {
			qty = p.sizer.Size(state, px, p.baseRisk)
		}
		out[i] = Level{
			ID:       LevelID(side, i+1),
			Side:     side,
			Index:    i + 1,
			Price:    px,
			Quantity: qty,
			State:    execution.StateIdle,
		}
	}
	return out
}

// LevelCount returns the number of levels per side for capital. Smaller
// accounts get a denser grid, rounded down and capped at the tier maximum.
func (p *Planner) LevelCount(capital float64) int {
	c := p.cfg
	switch c.Of(capital) {
	case risk.TierMicro:
		n := int(math.Floor(float64(c.BaseLevels)*c.DensityMultiplier*c.MicroDensityBoost + 1e-9))
		return minInt(n, c.MicroMaxLevels)
	case risk.TierSmall:
		n := int(math.Floor(float64(c.BaseLevels)*c.DensityMultiplier + 1e-9))
		return minInt(n, c.SmallMaxLevels)
	default:
		return c.BaseLevels
	}
}

// Spacing returns the fractional distance between adjacent levels.
func (p *Planner) Spacing(capital, volatility float64) float64 {
	c := p.cfg
	base := c.PriceRangePct / float64(c.BaseLevels)
	switch c.Of(capital) {
	case risk.TierMicro:
		base *= c.MicroSpacingFactor
	case risk.TierSmall:
		base *= c.SmallSpacingFactor
	}
	if !c.adaptive() {
		return base
	}
	return clamp(base*p.VolatilityMultiplier(volatility), c.MinSpacing, c.MaxSpacing)
}

// VolatilityMultiplier widens spacing in volatile markets: 1.0 at the base
// volatility, clamped to the configured band.
func (p *Planner) VolatilityMultiplier(volatility float64) float64 {
	v := p.cfg.Volatility
	if math.IsNaN(volatility) || volatility <= 0 {
		volatility = v.Default
	}
	return clamp(1+(volatility-v.Base)*v.Scale, v.MultiplierMin, v.MultiplierMax)
}

// positive drops non-positive buy prices produced by very wide grids.
func positive(prices []float64) []float64 {
	out := prices[:0]
	for _, px := range prices {
		if px > 0 {
			out = append(out, px)
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
