package models

import (
	"fmt"
	"time"
)

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
	SideNone  Side = "none"
)

// Opposite returns the other trading side. SideNone maps to itself.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideNone
	}
}

// Sign returns +1 for long, -1 for short and 0 for none.
func (s Side) Sign() float64 {
	switch s {
	case SideLong:
		return 1
	case SideShort:
		return -1
	default:
		return 0
	}
}

// SideFromScore maps a signed score to a side.
func SideFromScore(score float64) Side {
	switch {
	case score > 0:
		return SideLong
	case score < 0:
		return SideShort
	default:
		return SideNone
	}
}

// Regime is a coarse market state classification.
type Regime string

const (
	RegimeTrending Regime = "trending"
	RegimeRanging  Regime = "ranging"
	RegimeVolatile Regime = "volatile"
)

type SignalType string

const (
	TypeDivergence SignalType = "divergence"
	TypeCrossover  SignalType = "crossover"
	TypeTrend      SignalType = "trend"
	TypeMomentum   SignalType = "momentum"
)

// BlockReason tags one failing entry-gate condition.
type BlockReason string

const (
	BlockDeadZone      BlockReason = "dead_zone"
	BlockNoEdgeCross   BlockReason = "no_threshold_cross"
	BlockLowConfidence BlockReason = "low_confidence"
	BlockLowConfluence BlockReason = "low_confluence"
	BlockTrendMisalign BlockReason = "trend_misaligned"
	BlockDrawdown      BlockReason = "drawdown_ceiling"
)

// TriggerWindow marks the candle an entry was first qualified on and the last candle it stays valid.
type TriggerWindow struct {
	Candle  int `json:"candle"`
	Expires int `json:"expires"`
}

// Active reports whether candleIndex still falls inside the window.
func (w *TriggerWindow) Active(candleIndex int) bool {
	return w != nil && candleIndex >= w.Candle && candleIndex <= w.Expires
}

// EvalContext is the per-cycle context for the composite generator.
type EvalContext struct {
	PrevScore       float64
	ATRPercent      *float64
	IsChoppy        bool
	CandleIndex     int
	Regime          Regime
	DrawdownPercent float64
	// Window is the trigger window carried over from earlier cycles, if any.
	Window *TriggerWindow
}

// CompositeSignal is created once per (symbol, cycle) and never mutated after creation.
type CompositeSignal struct {
	Symbol              string             `json:"symbol"`
	CompositeScore      float64            `json:"composite_score"`
	IndicatorScore      float64            `json:"indicator_score"`
	MicrostructureScore float64            `json:"microstructure_score"`
	Authorized          bool               `json:"authorized"`
	Side                Side               `json:"side"`
	Confidence          float64            `json:"confidence"`
	Window              *TriggerWindow     `json:"window,omitempty"`
	IndicatorScores     map[string]float64 `json:"indicator_scores"`
	BlockReasons        []BlockReason      `json:"block_reasons,omitempty"`
	Confirmations       []string           `json:"confirmations,omitempty"`
	Strength            Strength           `json:"strength"`
	Type                SignalType         `json:"type"`
	Source              string             `json:"source"`
	Regime              Regime             `json:"regime"`
	Timestamp           time.Time          `json:"timestamp"`
}

// FeatureKey identifies the setup for adaptive performance tracking: type:strength:regime.
func (s CompositeSignal) FeatureKey() string {
	return FeatureKey(s.Type, s.Strength, s.Regime)
}

func FeatureKey(t SignalType, st Strength, r Regime) string {
	return fmt.Sprintf("%s:%s:%s", t, st, r)
}

// Blocked reports whether the given reason is among the signal's block reasons.
func (s CompositeSignal) Blocked(reason BlockReason) bool {
	for _, r := range s.BlockReasons {
		if r == reason {
			return true
		}
	}
	return false
}
