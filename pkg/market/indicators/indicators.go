package indicators

import "math"

// Mean returns the arithmetic mean, or NaN for an empty series.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the sample standard deviation (n-1 denominator). Series with
// fewer than two points yield NaN.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return math.NaN()
	}
	mean := Mean(values)
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)-1))
}

// Smooth blends a new observation into a previous estimate, weighting the
// previous value by keep (0..1).
func Smooth(previous, observed, keep float64) float64 {
	if keep < 0 {
		keep = 0
	}
	if keep > 1 {
		keep = 1
	}
	return keep*previous + (1-keep)*observed
}

// Returns converts a price series into simple period-over-period returns.
// Non-positive prices break the chain and are skipped.
func Returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		prev := prices[i-1]
		if prev <= 0 || prices[i] <= 0 {
			continue
		}
		out = append(out, prices[i]/prev-1)
	}
	return out
}

// EMA produces the exponential moving average for the supplied prices.
func EMA(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) == 0 {
		return []float64{}
	}
	result := make([]float64, len(prices))
	for i := range result {
		result[i] = math.NaN()
	}
	if len(prices) < period {
		return result
	}
	multiplier := 2.0 / float64(period+1)

	seed := Mean(prices[:period])
	result[period-1] = seed
	for i := period; i < len(prices); i++ {
		result[i] = (prices[i]-result[i-1])*multiplier + result[i-1]
	}
	return result
}
