package models

// ActionKind tags the variant of an Action.
type ActionKind string

const (
	ActionWait              ActionKind = "wait"
	ActionOpen              ActionKind = "open-position"
	ActionClose             ActionKind = "close-position"
	ActionPartialTakeProfit ActionKind = "partial-take-profit"
	ActionSetBreakEven      ActionKind = "set-break-even"
	ActionTrailTakeProfit   ActionKind = "trail-take-profit"
	ActionReverse           ActionKind = "reverse-position"
	ActionEmergencyCloseAll ActionKind = "emergency-close-all"
)

// Action is exactly one decision per (symbol, cycle). The set of implementations is closed.
type Action interface {
	Kind() ActionKind
	isAction()
}

// Wait reasons.
const (
	WaitHold            = "hold"
	WaitDuplicate       = "duplicate"
	WaitNotAuthorized   = "not_authorized"
	WaitSymbolBlocked   = "symbol_blocked"
	WaitLowConfidence   = "low_confidence"
	WaitHighRisk        = "high_risk"
	WaitRegime          = "regime_incompatible"
	WaitFeatureDisabled = "feature_disabled"
	WaitPositionCap     = "position_cap"
	WaitExposure        = "exposure_ceiling"
	WaitCircuitBreaker  = "circuit_breaker"
	WaitNoRoomToSize    = "size_unavailable"
	WaitNoPosition      = "no_position"
	WaitPositionOpen    = "position_open"
)

type Wait struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

type OpenPosition struct {
	Symbol         string  `json:"symbol"`
	Side           Side    `json:"side"`
	Size           float64 `json:"size"`
	Leverage       float64 `json:"leverage"`
	StopLoss       float64 `json:"stop_loss"`
	TakeProfit     float64 `json:"take_profit"`
	ReferencePrice float64 `json:"reference_price"`
	FeatureKey     string  `json:"feature_key"`
	Score          float64 `json:"score"`
	Confidence     float64 `json:"confidence"`
	Regime         Regime  `json:"regime"`
	IdempotencyKey string  `json:"idempotency_key"`
}

// Close reasons.
const (
	CloseReasonPremiseBreak = "premise_break"
	CloseReasonTimeExpired  = "time_invalidation"
	CloseReasonManual       = "manual"
	CloseReasonEmergency    = "emergency"
	// CloseReasonProtective is a stop or target that filled on the venue.
	CloseReasonProtective   = "protective_fill"
)

type ClosePosition struct {
	Symbol         string  `json:"symbol"`
	Side           Side    `json:"side"`
	Size           float64 `json:"size"`
	PnLPercent     float64 `json:"pnl_percent"`
	Reason         string  `json:"reason"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
}

type PartialTakeProfit struct {
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Size       float64 `json:"size"`
	PnLPercent float64 `json:"pnl_percent"`
}

type SetBreakEven struct {
	Symbol    string  `json:"symbol"`
	Side      Side    `json:"side"`
	Size      float64 `json:"size"`
	StopPrice float64 `json:"stop_price"`
}

type TrailTakeProfit struct {
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Size       float64 `json:"size"`
	TakeProfit float64 `json:"take_profit"`
	StopLoss   float64 `json:"stop_loss"`
}

// ReversePosition closes the current position and opens Open on the opposite side.
type ReversePosition struct {
	Close ClosePosition `json:"close"`
	Open  OpenPosition  `json:"open"`
}

type EmergencyCloseAll struct {
	Reason string `json:"reason"`
}

func (Wait) Kind() ActionKind              { return ActionWait }
func (OpenPosition) Kind() ActionKind      { return ActionOpen }
func (ClosePosition) Kind() ActionKind     { return ActionClose }
func (PartialTakeProfit) Kind() ActionKind { return ActionPartialTakeProfit }
func (SetBreakEven) Kind() ActionKind      { return ActionSetBreakEven }
func (TrailTakeProfit) Kind() ActionKind   { return ActionTrailTakeProfit }
func (ReversePosition) Kind() ActionKind   { return ActionReverse }
func (EmergencyCloseAll) Kind() ActionKind { return ActionEmergencyCloseAll }

func (Wait) isAction()              {}
func (OpenPosition) isAction()      {}
func (ClosePosition) isAction()     {}
func (PartialTakeProfit) isAction() {}
func (SetBreakEven) isAction()      {}
func (TrailTakeProfit) isAction()   {}
func (ReversePosition) isAction()   {}
func (EmergencyCloseAll) isAction() {}

// IsWait reports whether a is a Wait with the given reason. An empty reason matches any wait.
func IsWait(a Action, reason string) bool {
	w, ok := a.(Wait)
	if !ok {
		return false
	}
	return reason == "" || w.Reason == reason
}
