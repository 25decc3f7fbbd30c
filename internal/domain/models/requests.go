package models

// Requests for the operator HTTP endpoints. Defined in domain for consistency and reuse.

type RiskResetRequest struct {
	Reason string  `json:"reason" validate:"required,min=3"`
	Equity float64 `json:"equity" validate:"gte=0"`
}

type ManualOrderRequest struct {
	Symbol   string  `json:"symbol" validate:"required"`
	Action   string  `json:"action" default:"open" validate:"oneof=open close"`
	Side     string  `json:"side" validate:"omitempty,oneof=long short"`
	Size     float64 `json:"size" validate:"gte=0"`
	Leverage float64 `json:"leverage" validate:"gte=0,lte=125"`
}

type SignalRequest struct {
	Symbol string `param:"symbol" validate:"required"`
}

type CandlesRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	From   string `query:"from" json:"from"`
	To     string `query:"to" json:"to"`
	TF     string `query:"tf" json:"tf" default:"1m" validate:"oneof=1m 5m 15m 1h"`
	Limit  int    `query:"limit" json:"limit" default:"500" validate:"gte=1,lte=50000"`
}
