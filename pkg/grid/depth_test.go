package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridpilot/pkg/market"
)

func TestAnalyzeDepth(t *testing.T) {
	cfg := DefaultConfig().Depth
	book := suitableBook(100)
	book.Bids = append(book.Bids, market.DepthEntry{Price: 94, Size: 1000})

	a, ok := AnalyzeDepth(book, 100, cfg)
	require.True(t, ok)

	require.Len(t, a.Bids, 3, "98.5 is below minimum strength and 94 is outside the 5% window")
	assert.InDelta(t, 97.5, a.Bids[0].Price, 1e-6)
	assert.InDelta(t, 0.85, a.Bids[0].Strength, 1e-9)
	assert.Equal(t, 1, a.Bids[0].Rank)
	assert.InDelta(t, 99.5, a.Bids[1].Price, 1e-6)
	assert.InDelta(t, 0.34, a.Bids[1].Strength, 1e-9)
	assert.InDelta(t, 99.0, a.Bids[2].Price, 1e-6)

	require.Len(t, a.Asks, 3)
	assert.InDelta(t, 0, a.Imbalance, 1e-12)
	assert.InDelta(t, 0.01, a.Spread, 1e-9)
	assert.InDelta(t, 0.24+0.4*0.5+0.2*0.09, a.Quality, 1e-6)
	assert.Equal(t, 6, a.StrongLevels(cfg))
	assert.True(t, a.Suitable(cfg))
}

func TestAnalyzeDepth_BucketsNearbyOrders(t *testing.T) {
	book := &market.DepthSnapshot{
		Bids: []market.DepthEntry{{Price: 99.01, Size: 2}, {Price: 98.99, Size: 3}},
		Asks: []market.DepthEntry{{Price: 101, Size: 1}},
	}
	a, ok := AnalyzeDepth(book, 100, DepthConfig{})
	require.True(t, ok)
	require.Len(t, a.Bids, 1)
	assert.InDelta(t, 99.0, a.Bids[0].Price, 1e-6)
	assert.InDelta(t, 5, a.Bids[0].Volume, 1e-12)
}

func TestAnalyzeDepth_Rejects(t *testing.T) {
	_, ok := AnalyzeDepth(nil, 100, DepthConfig{})
	assert.False(t, ok)
	_, ok = AnalyzeDepth(&market.DepthSnapshot{Asks: []market.DepthEntry{{Price: 101, Size: 1}}}, 100, DepthConfig{})
	assert.False(t, ok)
	_, ok = AnalyzeDepth(suitableBook(100), 0, DepthConfig{})
	assert.False(t, ok)
}

func TestAnalysis_AdjustNeverCrossesPrice(t *testing.T) {
	a := Analysis{
		Quality: 1,
		Bids:    []VolumeLevel{{Price: 100.2, Strength: 1}},
		Asks:    []VolumeLevel{{Price: 99.8, Strength: 1}},
	}
	cfg := DepthConfig{}
	assert.Equal(t, []float64{99.9, 99.8}, a.Adjust([]float64{99.9, 99.8}, 100, market.Buy, cfg))
	assert.Equal(t, []float64{100.1, 100.2}, a.Adjust([]float64{100.1, 100.2}, 100, market.Sell, cfg))
}

func TestAnalysis_AdjustKeepsOrdering(t *testing.T) {
	// One strong cluster sits between two planned levels; only the level
	// whose cell contains it may move.
	a := Analysis{
		Quality: 1,
		Bids:    []VolumeLevel{{Price: 97.1, Strength: 0.9}},
	}
	got := a.Adjust([]float64{98, 97, 96}, 100, market.Buy, DepthConfig{})
	assert.Equal(t, []float64{98, 97.1, 96}, got)
}

func TestAnalysis_AdjustRequiresQuality(t *testing.T) {
	a := Analysis{
		Quality: 0.1,
		Bids:    []VolumeLevel{{Price: 97.9, Strength: 1}},
	}
	assert.Equal(t, []float64{98}, a.Adjust([]float64{98}, 100, market.Buy, DepthConfig{}))
}
