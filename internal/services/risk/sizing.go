package risk

import (
	"math"

	"PerpGate/internal/domain/models"
)

// SizeInput carries everything the sizing formula reads.
type SizeInput struct {
	Balance           float64
	Score             float64
	Confidence        float64
	DrawdownPercent   float64
	ConsecutiveLosses int
	Regime            models.Regime
	Leverage          float64
}

// Size returns the margin to commit, rounded down to cents and never below MinSize.
func (c *Controller) Size(in SizeInput) float64 {
	lev := in.Leverage
	if lev <= 0 {
		lev = c.cfg.Leverage
	}
	raw := in.Balance *
		c.cfg.MaxRiskPerTrade *
		bound(math.Abs(in.Score)/100, 0.3, 1.5) *
		bound(in.Confidence/70, 0.5, 1.3) *
		DrawdownScale(in.DrawdownPercent) *
		StreakScale(in.ConsecutiveLosses) *
		RegimeScale(in.Regime) /
		lev
	size := math.Floor(raw*100) / 100
	if math.IsNaN(size) || size < c.cfg.MinSize {
		return c.cfg.MinSize
	}
	return size
}

func DrawdownScale(dd float64) float64 {
	switch {
	case dd >= 8:
		return 0.35
	case dd >= 5:
		return 0.6
	case dd >= 3:
		return 0.8
	default:
		return 1.0
	}
}

func StreakScale(losses int) float64 {
	return math.Max(0.4, 1-0.15*float64(losses))
}

func RegimeScale(r models.Regime) float64 {
	switch r {
	case models.RegimeTrending:
		return 1.0
	case models.RegimeVolatile:
		return 0.7
	default:
		return 0.5
	}
}

func bound(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(hi, math.Max(lo, v))
}
