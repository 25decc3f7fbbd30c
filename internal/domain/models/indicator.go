package models

// SignalTag is the qualitative reading of an indicator.
type SignalTag string

const (
	TagBullish SignalTag = "bullish"
	TagBearish SignalTag = "bearish"
	TagNeutral SignalTag = "neutral"
)

// Sign returns +1 for bullish, -1 for bearish, 0 otherwise.
func (t SignalTag) Sign() float64 {
	switch t {
	case TagBullish:
		return 1
	case TagBearish:
		return -1
	default:
		return 0
	}
}

// SubSignalType names a qualitative pattern emitted by the primary oscillator.
type SubSignalType string

const (
	SubDivergence  SubSignalType = "divergence"
	SubCrossover   SubSignalType = "crossover"
	SubZoneExtreme SubSignalType = "zone_extreme"
	SubMomentum    SubSignalType = "momentum"
	SubZone        SubSignalType = "zone"
	SubHook        SubSignalType = "hook"
)

// Strength grades a sub-signal or a composite signal.
type Strength string

const (
	StrengthWeak       Strength = "weak"
	StrengthModerate   Strength = "moderate"
	StrengthStrong     Strength = "strong"
	StrengthVeryStrong Strength = "very_strong"
	StrengthExtreme    Strength = "extreme"
)

// Rank orders strengths from weak (1) to extreme (5). Unknown strengths rank 0.
func (s Strength) Rank() int {
	switch s {
	case StrengthWeak:
		return 1
	case StrengthModerate:
		return 2
	case StrengthStrong:
		return 3
	case StrengthVeryStrong:
		return 4
	case StrengthExtreme:
		return 5
	default:
		return 0
	}
}

type SubSignal struct {
	Type      SubSignalType `json:"type"`
	Direction SignalTag     `json:"direction"`
	Strength  Strength      `json:"strength"`
}

// IndicatorResult is one named indicator's output for a cycle. Treated as immutable.
type IndicatorResult struct {
	Value      float64     `json:"value"`
	Signal     SignalTag   `json:"signal"`
	Score      float64     `json:"score"`
	SubSignals []SubSignal `json:"sub_signals,omitempty"`
}

// Microstructure is an optional order-flow snapshot. Any field may be absent.
type Microstructure struct {
	BuySellRatio *float64 `json:"buy_sell_ratio,omitempty"`
	DOMImbalance *float64 `json:"dom_imbalance,omitempty"`
	FundingRate  *float64 `json:"funding_rate,omitempty"`
}
