package risk

import (
	"errors"
	"math"
)

var errNonFiniteSize = errors.New("risk: sizing produced a non-finite value")

// Sizer converts capital and recent performance into a position quantity.
// It is a pure function of its inputs.
type Sizer struct {
	cfg Config
}

// NewSizer constructs a Sizer; zero config fields take production defaults.
func NewSizer(cfg Config) *Sizer {
	cfg.ApplyDefaults()
	return &Sizer{cfg: cfg}
}

// Size returns the base-asset quantity to trade at price, or 0 when the trade
// must not happen (breaker open, daily loss exhausted, exposure limit hit).
func (s *Sizer) Size(state State, price, baseRisk float64) float64 {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0
	}
	if state.Breaker || s.DailyLossReached(state) {
		return 0
	}
	qty, err := s.size(state, price, baseRisk)
	if err != nil {
		return s.fallback(state, price, baseRisk)
	}
	return qty
}

// DailyLossReached reports whether today's losses hit the configured cap.
func (s *Sizer) DailyLossReached(state State) bool {
	base := state.BaseCapital
	if base <= 0 {
		base = s.cfg.Capital
	}
	return state.DailyLoss > 0 && state.DailyLoss >= base*s.cfg.MaxDailyLossPct
}

func (s *Sizer) size(state State, price, baseRisk float64) (float64, error) {
	capital := EffectiveCapital(state, s.cfg.compoundProfits())
	if capital <= 0 {
		return 0, nil
	}

	risk := s.dynamicRisk(state, baseRisk)
	risk = s.smallAccountRisk(risk, capital)

	value := s.meaningfulValue(capital*risk, capital)
	value = math.Max(value, minimumPositionValue(capital))

	if state.Exposure()+value > s.cfg.Tiers.Limit(capital) {
		return 0, nil
	}

	qty := value / price
	if math.IsNaN(qty) || math.IsInf(qty, 0) {
		return 0, errNonFiniteSize
	}
	return qty, nil
}

// dynamicRisk scales the base fraction by recent performance once enough
// trades exist.
func (s *Sizer) dynamicRisk(state State, baseRisk float64) float64 {
	if !s.cfg.dynamicSizing() || state.TradeCount < s.cfg.MinTradesForScaling {
		return baseRisk
	}
	mult := s.PerformanceMultiplier(state.WinRate, Momentum(state.Recent, s.cfg.MomentumWindow))
	return clamp(baseRisk*mult, s.cfg.MinRiskPerTrade, s.cfg.MaxRiskPerTrade)
}

// PerformanceMultiplier averages a win-rate term and a momentum term and
// clamps the result to [0.5, 2.0].
func (s *Sizer) PerformanceMultiplier(winRate, momentum float64) float64 {
	var winMult float64
	switch {
	case winRate >= s.cfg.WinRateHigh:
		winMult = 1.0 + (winRate-s.cfg.WinRateHigh)*s.cfg.RiskScalingFactor
	case winRate <= s.cfg.WinRateLow:
		winMult = s.cfg.WinRateLow + winRate*0.5
	default:
		winMult = 1.0
	}
	recentMult := 1.0 + momentum*0.5
	return clamp((winMult+recentMult)/2, 0.5, 2.0)
}

func (s *Sizer) smallAccountRisk(risk, capital float64) float64 {
	switch s.cfg.Tiers.Of(capital) {
	case TierMicro:
		boosted := math.Max(risk, math.Min(s.cfg.MicroRiskCeiling, risk*1.5))
		return math.Min(boosted, s.cfg.MicroRiskCeiling)
	case TierSmall:
		return risk * s.cfg.SmallAccountBoost
	default:
		return risk
	}
}

// meaningfulValue lifts tiny positions so fees do not dominate small accounts.
func (s *Sizer) meaningfulValue(value, capital float64) float64 {
	switch {
	case capital < 300:
		return math.Max(value, capital*0.015)
	case capital < s.cfg.Small:
		return math.Max(value, capital*0.005)
	default:
		return value
	}
}

func (s *Sizer) fallback(state State, price, baseRisk float64) float64 {
	capital := state.BaseCapital
	if capital <= 0 || math.IsNaN(capital) || math.IsInf(capital, 0) {
		capital = s.cfg.Capital
	}
	return capital * math.Min(baseRisk, s.cfg.FallbackRiskCap) / price
}

// Momentum maps the share of winning trades in the last window onto [-1, 1].
// Fewer than five trades yield 0.
func Momentum(recent []ClosedTrade, window int) float64 {
	if window > 0 && len(recent) > window {
		recent = recent[len(recent)-window:]
	}
	if len(recent) < 5 {
		return 0
	}
	var total, wins int
	for _, t := range recent {
		if t.PnL == 0 {
			continue
		}
		total++
		if t.PnL > 0 {
			wins++
		}
	}
	if total == 0 {
		return 0
	}
	return clamp((float64(wins)/float64(total)-0.5)*2, -1, 1)
}

func minimumPositionValue(capital float64) float64 {
	return math.Max(1.0, capital*0.001)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
