package grid

import (
	"math"
	"sync"

	"gridpilot/pkg/market/indicators"
	"gridpilot/pkg/risk"
)

// VolatilityEstimator derives a realised-volatility proxy from the dispersion
// of closed-trade returns. The estimate is smoothed against its previous
// value and only advances when new trades have closed, so polling frequency
// does not change the result.
type VolatilityEstimator struct {
	cfg VolatilityConfig

	mu        sync.Mutex
	last      float64
	lastCount int
}

// NewVolatilityEstimator builds an estimator seeded with the default.
func NewVolatilityEstimator(cfg VolatilityConfig) *VolatilityEstimator {
	cfg.applyDefaults()
	return &VolatilityEstimator{cfg: cfg, last: cfg.Default, lastCount: -1}
}

// Estimate returns the current volatility for state.
func (e *VolatilityEstimator) Estimate(state risk.State) float64 {
	c := e.cfg
	if state.TradeCount < c.MinTrades {
		return c.Default
	}
	samples := returnSamples(state.Recent, c.Window)
	if len(samples) < c.MinSamples {
		return c.Default
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if state.TradeCount != e.lastCount {
		observed := indicators.StdDev(samples)
		if !math.IsNaN(observed) {
			e.last = indicators.Smooth(e.last, observed, c.Smoothing)
		}
		e.lastCount = state.TradeCount
	}
	return clamp(e.last, c.Floor, c.Ceiling)
}

// Reset forgets the smoothed estimate.
func (e *VolatilityEstimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = e.cfg.Default
	e.lastCount = -1
}

// returnSamples collects |pnl|/value for the last window trades that moved.
func returnSamples(trades []risk.ClosedTrade, window int) []float64 {
	if window > 0 && len(trades) > window {
		trades = trades[len(trades)-window:]
	}
	out := make([]float64, 0, len(trades))
	for _, t := range trades {
		if t.PnL == 0 || t.Quantity <= 0 || t.EntryPrice <= 0 {
			continue
		}
		out = append(out, t.ReturnPct())
	}
	return out
}
