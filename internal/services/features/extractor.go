package features

import (
	"math"
	"time"

	"PerpGate/internal/domain/models"
	"PerpGate/internal/domain/repository"
)

// ComputeLogReturns computes log returns r_t = ln(C_t / C_{t-1}).
// It returns a slice of length len(candles)-1, or nil if insufficient data.
func ComputeLogReturns(candles []models.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	out := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		cur := candles[i].Close
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// RealizedVolatility is the sample standard deviation of the last window
// returns, scaled by sqrt(barsPerYear). Pass barsPerYear = 1 for per-bar sigma.
func RealizedVolatility(logReturns []float64, window int, barsPerYear float64) float64 {
	if window <= 1 || len(logReturns) < window {
		return 0
	}
	sum := 0.0
	sum2 := 0.0
	for i := len(logReturns) - window; i < len(logReturns); i++ {
		r := logReturns[i]
		sum += r
		sum2 += r * r
	}
	n := float64(window)
	mean := sum / n
	variance := (sum2 - n*mean*mean) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance * barsPerYear)
}

// BarsPerYearForTF returns the number of bars per year for a timeframe.
// Perpetuals trade around the clock.
func BarsPerYearForTF(tf repository.Timeframe) float64 {
	return float64(365*24*time.Hour) / float64(tf.Duration())
}

// EfficiencyRatio is Kaufman's net move over path length for the last window
// closes: 1 for a straight line, near 0 for a back-and-forth market.
func EfficiencyRatio(candles []models.Candle, window int) float64 {
	if window < 1 || len(candles) <= window {
		return 0
	}
	start := len(candles) - 1 - window
	net := math.Abs(candles[len(candles)-1].Close - candles[start].Close)
	path := 0.0
	for i := start + 1; i < len(candles); i++ {
		path += math.Abs(candles[i].Close - candles[i-1].Close)
	}
	if path == 0 {
		return 0
	}
	return net / path
}
