package models

import "time"

// Outcome is the realized result of one closed position.
type Outcome struct {
	Symbol     string    `json:"symbol"`
	FeatureKey string    `json:"feature_key"`
	Side       Side      `json:"side"`
	PnLPercent float64   `json:"pnl_percent"`
	Reason     string    `json:"reason"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at"`
}

// FeaturePerformance tracks one setup's realized results. Created on first outcome, never deleted.
type FeaturePerformance struct {
	Key               string     `json:"key"`
	Trades            int        `json:"trades"`
	Wins              int        `json:"wins"`
	Losses            int        `json:"losses"`
	TotalPnLPercent   float64    `json:"total_pnl_percent"`
	GrossWinPercent   float64    `json:"gross_win_percent"`
	GrossLossPercent  float64    `json:"gross_loss_percent"`
	AvgWin            float64    `json:"avg_win"`
	AvgLoss           float64    `json:"avg_loss"`
	ExpectancyPercent float64    `json:"expectancy_percent"`
	ProfitFactor      float64    `json:"profit_factor"`
	RecentOutcomes    []float64  `json:"recent_outcomes"`
	DisabledUntil     *time.Time `json:"disabled_until,omitempty"`
	DisabledReason    string     `json:"disabled_reason,omitempty"`
}

// Disabled reports whether the key is in cooldown at now.
func (f FeaturePerformance) Disabled(now time.Time) bool {
	return f.DisabledUntil != nil && now.Before(*f.DisabledUntil)
}
