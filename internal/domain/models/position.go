package models

import "time"

// Position is a read-only snapshot owned by the exchange. Size is margin in quote currency.
type Position struct {
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Size       float64   `json:"size"`
	Leverage   float64   `json:"leverage"`
	EntryPrice float64   `json:"entry_price"`
	MarkPrice  float64   `json:"mark_price"`
	StopLoss   *float64  `json:"stop_loss,omitempty"`
	TakeProfit *float64  `json:"take_profit,omitempty"`
	PnLPercent float64   `json:"pnl_percent"`
	Timestamp  time.Time `json:"timestamp"`
}

// Notional is the leveraged exposure of the position.
func (p Position) Notional() float64 {
	lev := p.Leverage
	if lev <= 0 {
		lev = 1
	}
	return p.Size * lev
}

// Lifecycle is the engine-owned record for an open position, keyed by symbol.
type Lifecycle struct {
	Symbol          string    `json:"symbol"`
	Side            Side      `json:"side"`
	OpenedAt        time.Time `json:"opened_at"`
	PartialTaken    bool      `json:"partial_taken"`
	FeatureKey      string    `json:"feature_key"`
	EntryScore      float64   `json:"entry_score"`
	EntryConfidence float64   `json:"entry_confidence"`
	Regime          Regime    `json:"regime"`
	StopOrderID     string    `json:"stop_order_id,omitempty"`
	TargetOrderID   string    `json:"target_order_id,omitempty"`

	EntryPrice  float64 `json:"entry_price"`
	Leverage    float64 `json:"leverage"`
	StopPrice   float64 `json:"stop_price,omitempty"`
	TargetPrice float64 `json:"target_price,omitempty"`

	// Size and LastPnLPercent are refreshed from the venue every cycle.
	Size           float64 `json:"size"`
	LastPnLPercent float64 `json:"last_pnl_percent"`
}

// ROIAt is the leveraged return on margin, in percent, if the position exits at price.
func (lc Lifecycle) ROIAt(price float64) float64 {
	if lc.EntryPrice <= 0 || price <= 0 {
		return 0
	}
	lev := lc.Leverage
	if lev <= 0 {
		lev = 1
	}
	move := (price - lc.EntryPrice) / lc.EntryPrice * 100 * lev
	if lc.Side == SideShort {
		return -move
	}
	return move
}

// Balance is the account state used for sizing and exposure checks.
type Balance struct {
	Wallet        float64 `json:"wallet"`
	Available     float64 `json:"available"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

func (b Balance) Equity() float64 { return b.Wallet + b.UnrealizedPnL }
