package signal

import "math"

// ConfidenceInput carries what the adjuster needs from one cycle.
type ConfidenceInput struct {
	Base       float64
	IsChoppy   bool
	ATRPercent *float64
	Bullish    int
	Bearish    int
}

// AdjustConfidence applies chop, volatility and conflict penalties and clamps to [0,100].
// When cfg is disabled only the clamp is applied.
func AdjustConfidence(cfg ConfidenceConfig, in ConfidenceInput) float64 {
	c := in.Base
	if cfg.Enabled {
		if in.IsChoppy {
			c -= cfg.ChopPenalty
		}
		if in.ATRPercent != nil {
			atr := *in.ATRPercent
			switch {
			case atr >= cfg.ATRHighThreshold:
				c -= cfg.ATRHighPenalty
			case atr >= cfg.ATRElevatedThreshold:
				c -= cfg.ATRElevatedPenalty
			}
		}
		pairs := in.Bullish
		if in.Bearish < pairs {
			pairs = in.Bearish
		}
		c -= float64(pairs) * cfg.ConflictPenalty
	}
	return clamp(c, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
