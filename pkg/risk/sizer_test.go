package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stateWithCapital(capital float64) State {
	return State{BaseCapital: capital}
}

func tradesWithWinRate(n int, winRate float64) []ClosedTrade {
	wins := int(math.Round(float64(n) * winRate))
	out := make([]ClosedTrade, 0, n)
	for i := 0; i < n; i++ {
		pnl := -1.0
		if i < wins {
			pnl = 1.0
		}
		out = append(out, ClosedTrade{Quantity: 1, EntryPrice: 100, PnL: pnl})
	}
	return out
}

func performanceState(capital, winRate float64) State {
	s := stateWithCapital(capital)
	s.TradeCount = 20
	s.Wins = int(math.Round(20 * winRate))
	s.Losses = s.TradeCount - s.Wins
	s.WinRate = winRate
	s.Recent = tradesWithWinRate(20, winRate)
	return s
}

func TestSizer_TierRiskFractions(t *testing.T) {
	s := NewSizer(Config{})
	tests := []struct {
		name    string
		capital float64
		want    float64 // position value at price 100
	}{
		{name: "standard", capital: 1500, want: 1500 * 0.02},
		{name: "small boost", capital: 800, want: 800 * 0.02 * 1.2},
		{name: "micro boost", capital: 400, want: 400 * 0.03},
		{name: "micro meaningful floor", capital: 200, want: 200 * 0.03},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qty := s.Size(stateWithCapital(tt.capital), 100, 0.02)
			assert.InDelta(t, tt.want/100, qty, 1e-9)
		})
	}
}

func TestSizer_MicroCeiling(t *testing.T) {
	s := NewSizer(Config{})
	qty := s.Size(stateWithCapital(400), 100, 0.05)
	assert.InDelta(t, 400*0.04/100, qty, 1e-9, "micro accounts never risk more than 4%")
}

func TestSizer_MinimumPositionValue(t *testing.T) {
	s := NewSizer(Config{})
	qty := s.Size(stateWithCapital(5000), 10, 0.0001)
	assert.InDelta(t, 5.0/10, qty, 1e-9, "minimum is max($1, 0.1% of capital)")
}

func TestSizer_ExposureLimit(t *testing.T) {
	s := NewSizer(Config{})
	st := stateWithCapital(1500)
	st.Reserved = 1000
	st.Committed = 190
	assert.Zero(t, s.Size(st, 100, 0.02), "1190 + 30 exceeds the 80% tier limit of 1200")

	st.Committed = 100
	assert.InDelta(t, 0.3, s.Size(st, 100, 0.02), 1e-9)
}

func TestSizer_DailyLossLimitStopsTrading(t *testing.T) {
	s := NewSizer(Config{})
	st := stateWithCapital(1500)
	st.DailyLoss = 74.99
	assert.Greater(t, s.Size(st, 100, 0.02), 0.0)
	st.DailyLoss = 75
	for i := 0; i < 5; i++ {
		assert.Zero(t, s.Size(st, 100+float64(i), 0.02))
	}
	assert.True(t, s.DailyLossReached(st))
}

func TestSizer_BreakerAndBadPrice(t *testing.T) {
	s := NewSizer(Config{})
	st := stateWithCapital(1500)
	assert.Zero(t, s.Size(st, 0, 0.02))
	assert.Zero(t, s.Size(st, math.NaN(), 0.02))
	st.Breaker = true
	assert.Zero(t, s.Size(st, 100, 0.02))
}

func TestSizer_CompoundingCappedAtTwiceBase(t *testing.T) {
	s := NewSizer(Config{})
	st := stateWithCapital(1500)
	st.GrossProfit = 400
	assert.InDelta(t, 1900*0.02/100, s.Size(st, 100, 0.02), 1e-9)
	st.GrossProfit = 10000
	assert.InDelta(t, 3000*0.02/100, s.Size(st, 100, 0.02), 1e-9)

	off := false
	flat := NewSizer(Config{CompoundProfits: &off})
	assert.InDelta(t, 1500*0.02/100, flat.Size(st, 100, 0.02), 1e-9)
}

func TestSizer_WinRateMonotonicity(t *testing.T) {
	s := NewSizer(Config{})
	neutral := s.Size(stateWithCapital(1500), 100, 0.02)
	require.Greater(t, neutral, 0.0)

	prev := neutral
	for wr := 0.70; wr <= 1.0001; wr += 0.05 {
		size := s.Size(performanceState(1500, wr), 100, 0.02)
		assert.GreaterOrEqual(t, size+1e-12, neutral, "win rate %.2f should not shrink size", wr)
		assert.GreaterOrEqual(t, size+1e-12, prev, "size should grow with win rate (%.2f)", wr)
		assert.LessOrEqual(t, size, 2*neutral+1e-12, "size is capped at 2x neutral")
		prev = size
	}

	prev = neutral
	for wr := 0.50; wr >= -0.0001; wr -= 0.05 {
		size := s.Size(performanceState(1500, wr), 100, 0.02)
		assert.LessOrEqual(t, size, neutral+1e-12, "win rate %.2f should not grow size", wr)
		assert.LessOrEqual(t, size, prev+1e-12, "size should shrink with win rate (%.2f)", wr)
		assert.GreaterOrEqual(t, size+1e-12, 0.5*neutral, "size is floored at 0.5x neutral")
		prev = size
	}
}

func TestSizer_PerformanceScalingNeedsHistory(t *testing.T) {
	s := NewSizer(Config{})
	st := performanceState(1500, 1.0)
	st.TradeCount = 9
	assert.InDelta(t, 0.3, s.Size(st, 100, 0.02), 1e-9)
}

func TestSizer_PerformanceMultiplierClamp(t *testing.T) {
	s := NewSizer(Config{})
	assert.Equal(t, 1.0, s.PerformanceMultiplier(0.6, 0))
	assert.Equal(t, 0.5, s.PerformanceMultiplier(0, -1))
	assert.InDelta(t, (1.45+1.5)/2, s.PerformanceMultiplier(1, 1), 1e-12)
	big := NewSizer(Config{RiskScalingFactor: 10})
	assert.Equal(t, 2.0, big.PerformanceMultiplier(1, 1))
}

func TestSizer_FallbackOnInternalError(t *testing.T) {
	s := NewSizer(Config{Capital: 250})
	st := State{BaseCapital: math.NaN()}
	assert.InDelta(t, 250*0.02/100, s.Size(st, 100, 0.03), 1e-9)
}

func TestMomentum(t *testing.T) {
	assert.Zero(t, Momentum(tradesWithWinRate(4, 1), 20), "fewer than five trades is neutral")
	assert.InDelta(t, 1.0, Momentum(tradesWithWinRate(10, 1), 20), 1e-12)
	assert.InDelta(t, -1.0, Momentum(tradesWithWinRate(10, 0), 20), 1e-12)
	assert.InDelta(t, 0.0, Momentum(tradesWithWinRate(10, 0.5), 20), 1e-12)

	// Only the last window counts.
	trades := append(tradesWithWinRate(30, 0), tradesWithWinRate(5, 1)...)
	assert.InDelta(t, 1.0, Momentum(trades, 5), 1e-12)
}

func TestTiers(t *testing.T) {
	tiers := DefaultTiers()
	assert.Equal(t, TierMicro, tiers.Of(200))
	assert.Equal(t, TierSmall, tiers.Of(500))
	assert.Equal(t, TierStandard, tiers.Of(1000))
	assert.InDelta(t, 180, tiers.Limit(200), 1e-9)
	assert.InDelta(t, 680, tiers.Limit(800), 1e-9)
	assert.InDelta(t, 1200, tiers.Limit(1500), 1e-9)
	assert.Zero(t, tiers.Limit(0))
	assert.Equal(t, "micro", TierMicro.String())
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := DefaultConfig()
	bad.RiskPerTrade = 0.2
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Tiers = Tiers{Micro: 1000, Small: 500}
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.WinRateLow = 0.9
	assert.Error(t, bad.Validate())
}
