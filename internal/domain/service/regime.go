package service

import (
	"context"

	"PerpGate/internal/domain/models"
)

// RegimeReading is one regime classification plus the numbers behind it.
type RegimeReading struct {
	Regime               models.Regime `json:"regime"`
	IsChoppy             bool          `json:"is_choppy"`
	Volatility           float64       `json:"volatility"`
	AnnualizedVolatility float64       `json:"annualized_volatility"`
	EfficiencyRatio      float64       `json:"efficiency_ratio"`
}

// RegimeDetector classifies market state from a candle history.
type RegimeDetector interface {
	Detect(ctx context.Context, symbol string, candles []models.Candle) (RegimeReading, error)
}
