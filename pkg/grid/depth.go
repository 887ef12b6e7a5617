package grid

import (
	"math"
	"sort"

	"gridpilot/pkg/market"
)

// VolumeLevel is an order-book price bucket with notable resting volume.
type VolumeLevel struct {
	Price    float64     `json:"price"`
	Volume   float64     `json:"volume"`
	Side     market.Side `json:"side"`
	Strength float64     `json:"strength"` // 0..1
	Rank     int         `json:"rank"`
	Distance float64     `json:"distance"` // fraction of price
}

// Analysis summarises an order book around a reference price.
type Analysis struct {
	Price     float64       `json:"price"`
	Bids      []VolumeLevel `json:"bids"`
	Asks      []VolumeLevel `json:"asks"`
	Imbalance float64       `json:"imbalance"` // -1..1, positive when bids dominate
	Spread    float64       `json:"spread"`    // fraction of price
	Quality   float64       `json:"quality"`   // 0..1
	Orders    int           `json:"orders"`
}

// AnalyzeDepth buckets both sides of the book and scores the result. It
// reports false when the snapshot has an empty side or price is invalid.
func AnalyzeDepth(snap *market.DepthSnapshot, price float64, cfg DepthConfig) (Analysis, bool) {
	cfg.applyDefaults()
	if snap == nil || len(snap.Bids) == 0 || len(snap.Asks) == 0 || price <= 0 {
		return Analysis{}, false
	}
	a := Analysis{
		Price:  price,
		Bids:   analyzeSide(snap.Bids, market.Buy, price, cfg),
		Asks:   analyzeSide(snap.Asks, market.Sell, price, cfg),
		Orders: len(snap.Bids) + len(snap.Asks),
	}
	a.Imbalance = imbalance(a.Bids, a.Asks)
	a.Spread = (snap.Asks[0].Price - snap.Bids[0].Price) / price
	a.Quality = quality(a.Bids, a.Asks, a.Orders)
	return a, true
}

func analyzeSide(entries []market.DepthEntry, side market.Side, price float64, cfg DepthConfig) []VolumeLevel {
	buckets := make(map[int64]float64)
	for _, e := range entries {
		if e.Price <= 0 || e.Size <= 0 {
			continue
		}
		if math.Abs(e.Price-price)/price > cfg.MaxDistancePct {
			continue
		}
		buckets[int64(math.Round(e.Price/price/cfg.BucketPct))] += e.Size
	}
	if len(buckets) == 0 {
		return nil
	}
	keys := make([]int64, 0, len(buckets))
	maxVol := 0.0
	for k, v := range buckets {
		keys = append(keys, k)
		maxVol = math.Max(maxVol, v)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	levels := make([]VolumeLevel, 0, len(keys))
	for _, k := range keys {
		px := float64(k) * cfg.BucketPct * price
		dist := math.Abs(px-price) / price
		volumeScore := math.Min(buckets[k]/maxVol, 1)
		proximity := math.Max(0, 1-dist*20)
		levels = append(levels, VolumeLevel{
			Price:    px,
			Volume:   buckets[k],
			Side:     side,
			Strength: volumeScore*0.7 + proximity*0.3,
			Distance: dist,
		})
	}
	sort.SliceStable(levels, func(i, j int) bool {
		if levels[i].Strength != levels[j].Strength {
			return levels[i].Strength > levels[j].Strength
		}
		return levels[i].Distance < levels[j].Distance
	})

	out := make([]VolumeLevel, 0, cfg.MaxLevels)
	for i := range levels {
		if len(out) == cfg.MaxLevels {
			break
		}
		levels[i].Rank = i + 1
		if levels[i].Strength >= cfg.MinStrength {
			out = append(out, levels[i])
		}
	}
	return out
}

func imbalance(bids, asks []VolumeLevel) float64 {
	var b, s float64
	for _, l := range bids {
		b += l.Volume
	}
	for _, l := range asks {
		s += l.Volume
	}
	if b+s == 0 {
		return 0
	}
	return clamp((b-s)/(b+s), -1, 1)
}

func quality(bids, asks []VolumeLevel, orders int) float64 {
	n := len(bids) + len(asks)
	if n == 0 {
		return 0
	}
	var sum float64
	for _, l := range bids {
		sum += l.Strength
	}
	for _, l := range asks {
		sum += l.Strength
	}
	levelScore := math.Min(float64(n)/10, 1)
	depthScore := math.Min(float64(orders)/100, 1)
	return clamp(levelScore*0.4+(sum/float64(n))*0.4+depthScore*0.2, 0, 1)
}

// StrongLevels counts levels at or above the minimum strength.
func (a Analysis) StrongLevels(cfg DepthConfig) int {
	cfg.applyDefaults()
	n := 0
	for _, l := range a.Bids {
		if l.Strength >= cfg.MinStrength {
			n++
		}
	}
	for _, l := range a.Asks {
		if l.Strength >= cfg.MinStrength {
			n++
		}
	}
	return n
}

// Suitable reports whether the book is good enough to weight levels by.
func (a Analysis) Suitable(cfg DepthConfig) bool {
	cfg.applyDefaults()
	return a.Quality >= cfg.MinQuality &&
		a.StrongLevels(cfg) >= cfg.MinStrongLevels &&
		a.Spread <= cfg.MaxSpreadPct
}

// Adjust moves each planned price to the most beneficial volume level within
// tolerance. A candidate must stay on its side of the reference price and
// inside the level's own cell (halfway to each neighbour), so ordering is
// preserved. A significant imbalance then biases the whole side away from
// price.
func (a Analysis) Adjust(prices []float64, price float64, side market.Side, cfg DepthConfig) []float64 {
	cfg.applyDefaults()
	out := append([]float64(nil), prices...)
	if a.Quality < cfg.MinQuality {
		return out
	}
	volumes := a.Bids
	if side == market.Sell {
		volumes = a.Asks
	}
	if len(volumes) == 0 {
		return out
	}

	for i, base := range prices {
		lo, hi := cell(prices, i, price)
		best, bestBenefit := base, 0.0
		for _, v := range volumes {
			if v.Strength < cfg.MinStrength {
				continue
			}
			dist := math.Abs(v.Price-base) / base
			if dist > cfg.Tolerance {
				continue
			}
			if side == market.Buy && v.Price >= price {
				continue
			}
			if side == market.Sell && v.Price <= price {
				continue
			}
			if v.Price <= lo || v.Price >= hi {
				continue
			}
			if benefit := v.Strength * (1 - dist); benefit > bestBenefit {
				best, bestBenefit = v.Price, benefit
			}
		}
		out[i] = best
	}

	if math.Abs(a.Imbalance) > cfg.ImbalanceThreshold {
		bias := math.Abs(a.Imbalance) * cfg.ImbalanceBias
		switch {
		case side == market.Buy && a.Imbalance > 0:
			for i := range out {
				out[i] *= 1 - bias
			}
		case side == market.Sell && a.Imbalance < 0:
			for i := range out {
				out[i] *= 1 + bias
			}
		}
	}
	return out
}

// cell returns the open interval around prices[i] bounded by the midpoints
// to its neighbours (the reference price stands in for the inner neighbour).
func cell(prices []float64, i int, ref float64) (lo, hi float64) {
	inner := ref
	if i > 0 {
		inner = prices[i-1]
	}
	var outer float64
	if i+1 < len(prices) {
		outer = prices[i+1]
	} else {
		outer = prices[i] - (inner - prices[i])
	}
	a := (inner + prices[i]) / 2
	b := (outer + prices[i]) / 2
	if a > b {
		return b, a
	}
	return a, b
}
