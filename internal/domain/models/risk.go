package models

// RiskState is the session risk record. PeakEquity only ratchets up and the
// circuit breaker stays set until an explicit reset.
type RiskState struct {
	CircuitBreakerActive bool    `json:"circuit_breaker_active"`
	PeakEquity           float64 `json:"peak_equity"`
	Equity               float64 `json:"equity"`
	DrawdownPercent      float64 `json:"drawdown_percent"`
	DailyPnL             float64 `json:"daily_pnl"`
	MaxDailyDrawdown     float64 `json:"max_daily_drawdown"`
	ConsecutiveLosses    int     `json:"consecutive_losses"`
}

type RiskTier string

const (
	TierLow      RiskTier = "low"
	TierMedium   RiskTier = "medium"
	TierHigh     RiskTier = "high"
	TierCritical RiskTier = "critical"
)

func (t RiskTier) Rank() int {
	switch t {
	case TierMedium:
		return 1
	case TierHigh:
		return 2
	case TierCritical:
		return 3
	default:
		return 0
	}
}

// RiskAnalysis is a read-only snapshot produced once per cycle.
type RiskAnalysis struct {
	DrawdownPercent    float64  `json:"drawdown_percent"`
	ExposureRatio      float64  `json:"exposure_ratio"`
	ConcentrationRatio float64  `json:"concentration_ratio"`
	DrawdownTier       RiskTier `json:"drawdown_tier"`
	ExposureTier       RiskTier `json:"exposure_tier"`
	ConcentrationTier  RiskTier `json:"concentration_tier"`
	Overall            RiskTier `json:"overall"`
	CircuitBreaker     bool     `json:"circuit_breaker"`
	ConsecutiveLosses  int      `json:"consecutive_losses"`
	TotalNotional      float64  `json:"total_notional"`
	Balance            Balance  `json:"balance"`
}
