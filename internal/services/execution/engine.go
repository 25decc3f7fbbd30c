package execution

import (
	"math"
	"time"

	"PerpGate/internal/domain/models"
	"PerpGate/internal/services/risk"
)

// Snapshot is the immutable input for one (symbol, cycle) decision.
type Snapshot struct {
	Signal models.CompositeSignal
	// Position is the open position on Signal.Symbol, nil when flat.
	Position *models.Position
	// Positions are all open positions across symbols.
	Positions []models.Position
	Balance   models.Balance
	Analysis  models.RiskAnalysis
	// Price is the reference price used to size and price a new entry.
	Price float64
	Now   time.Time
}

// ManualOrder is an operator-initiated open or close.
type ManualOrder struct {
	Symbol   string
	Action   string
	Side     models.Side
	Size     float64
	Leverage float64
}

const (
	ManualOpen  = "open"
	ManualClose = "close"
)

// Engine turns a snapshot into exactly one action. It reads the lifecycle,
// feature and idempotency stores but never writes them; the dispatcher does.
type Engine struct {
	cfg        Config
	risk       *risk.Controller
	lifecycles *LifecycleStore
	features   *FeatureTracker
	idem       *IdempotencyCache

	allowed map[string]struct{}
	blocked map[string]struct{}
}

func NewEngine(cfg Config, ctl *risk.Controller, lifecycles *LifecycleStore, features *FeatureTracker, idem *IdempotencyCache) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:        cfg,
		risk:       ctl,
		lifecycles: lifecycles,
		features:   features,
		idem:       idem,
		allowed:    make(map[string]struct{}, len(cfg.AllowedSymbols)),
		blocked:    make(map[string]struct{}, len(cfg.BlockedSymbols)),
	}
	for _, s := range cfg.AllowedSymbols {
		e.allowed[s] = struct{}{}
	}
	for _, s := range cfg.BlockedSymbols {
		e.blocked[s] = struct{}{}
	}
	return e, nil
}

func (e *Engine) Config() Config { return e.cfg }

// SymbolAllowed applies the allow/deny policy.
func (e *Engine) SymbolAllowed(symbol string) bool {
	if _, ok := e.blocked[symbol]; ok {
		return false
	}
	if len(e.allowed) == 0 {
		return true
	}
	_, ok := e.allowed[symbol]
	return ok
}

// Decide returns the single action for this cycle.
func (e *Engine) Decide(s Snapshot) models.Action {
	if s.Position != nil && s.Position.Size > 0 {
		return e.manage(s, *s.Position)
	}
	open, reason := e.entry(s, nil)
	if reason != "" {
		return models.Wait{Symbol: s.Signal.Symbol, Reason: reason}
	}
	return open
}

// manage evaluates an open position. The order of checks is fixed: the first match wins.
func (e *Engine) manage(s Snapshot, pos models.Position) models.Action {
	if s.Analysis.CircuitBreaker || e.risk.CircuitBreakerActive() {
		return models.EmergencyCloseAll{Reason: models.WaitCircuitBreaker}
	}

	lc, ok := e.lifecycles.Get(pos.Symbol)
	if !ok {
		lc = models.Lifecycle{Symbol: pos.Symbol, Side: pos.Side, OpenedAt: pos.Timestamp}
	}
	age := s.Now.Sub(lc.OpenedAt)
	roi := pos.PnLPercent
	sig := s.Signal

	if sig.Side == pos.Side.Opposite() &&
		math.Abs(sig.CompositeScore) >= e.cfg.PremiseBreakScore &&
		age <= e.cfg.PremiseBreakWindow {
		cl := models.ClosePosition{
			Symbol:     pos.Symbol,
			Side:       pos.Side,
			Size:       pos.Size,
			PnLPercent: roi,
			Reason:     models.CloseReasonPremiseBreak,
		}
		if e.cfg.ReverseOnPremiseBreak {
			if open, reason := e.entry(s, &pos); reason == "" {
				return models.ReversePosition{Close: cl, Open: open}
			}
		}
		return cl
	}

	if e.cfg.TimeInvalidation > 0 && age >= e.cfg.TimeInvalidation && roi < e.cfg.TimeInvalidationMinROI {
		return models.ClosePosition{
			Symbol:     pos.Symbol,
			Side:       pos.Side,
			Size:       pos.Size,
			PnLPercent: roi,
			Reason:     models.CloseReasonTimeExpired,
		}
	}

	if roi >= e.cfg.PartialTakeProfitROI && !lc.PartialTaken {
		return models.PartialTakeProfit{
			Symbol:     pos.Symbol,
			Side:       pos.Side,
			Size:       math.Floor(pos.Size*e.cfg.PartialFraction*100) / 100,
			PnLPercent: roi,
		}
	}

	if roi >= e.cfg.BreakEvenROI {
		be := e.risk.BreakEvenPrice(pos.Side, pos.EntryPrice, pos.Leverage)
		// Only while the stop still sits behind break-even.
		if risk.MoreFavorable(pos.Side, pos.StopLoss, be) {
			return models.SetBreakEven{Symbol: pos.Symbol, Side: pos.Side, Size: pos.Size, StopPrice: be}
		}
	}

	if roi >= e.cfg.TrailActivationROI {
		stop, target := e.risk.TrailLevels(pos.Side, pos.EntryPrice, pos.Leverage, roi)
		if risk.MoreFavorable(pos.Side, pos.TakeProfit, target) {
			if pos.StopLoss != nil && !risk.MoreFavorable(pos.Side, pos.StopLoss, stop) {
				stop = *pos.StopLoss
			}
			return models.TrailTakeProfit{
				Symbol:     pos.Symbol,
				Side:       pos.Side,
				Size:       pos.Size,
				TakeProfit: target,
				StopLoss:   stop,
			}
		}
	}

	return models.Wait{Symbol: pos.Symbol, Reason: models.WaitHold}
}

// entry runs the pre-trade gates. replacing is the position a reversal closes
// first; it is excluded from the count and exposure checks.
func (e *Engine) entry(s Snapshot, replacing *models.Position) (models.OpenPosition, string) {
	sig := s.Signal
	switch {
	case !e.SymbolAllowed(sig.Symbol):
		return models.OpenPosition{}, models.WaitSymbolBlocked
	case !sig.Authorized || sig.Side == models.SideNone || sig.Side == "":
		return models.OpenPosition{}, models.WaitNotAuthorized
	case s.Analysis.CircuitBreaker || e.risk.CircuitBreakerActive():
		return models.OpenPosition{}, models.WaitCircuitBreaker
	case sig.Confidence < e.cfg.MinConfidence:
		return models.OpenPosition{}, models.WaitLowConfidence
	case e.highRisk(sig, s.Analysis):
		return models.OpenPosition{}, models.WaitHighRisk
	case !e.regimeCompatible(sig):
		return models.OpenPosition{}, models.WaitRegime
	case !e.features.Allowed(sig.FeatureKey(), s.Now):
		return models.OpenPosition{}, models.WaitFeatureDisabled
	}

	count := 0
	existing := 0.0
	for _, p := range s.Positions {
		if replacing != nil && p.Symbol == replacing.Symbol {
			continue
		}
		count++
		existing += p.Notional()
	}
	if count >= e.cfg.MaxPositions() {
		return models.OpenPosition{}, models.WaitPositionCap
	}

	rcfg := e.risk.Config()
	equity := s.Balance.Equity()
	if s.Price <= 0 || equity <= 0 {
		return models.OpenPosition{}, models.WaitNoRoomToSize
	}
	size := e.risk.Size(risk.SizeInput{
		Balance:           equity,
		Score:             sig.CompositeScore,
		Confidence:        sig.Confidence,
		DrawdownPercent:   s.Analysis.DrawdownPercent,
		ConsecutiveLosses: s.Analysis.ConsecutiveLosses,
		Regime:            sig.Regime,
		Leverage:          rcfg.Leverage,
	})
	if !e.risk.ExposureAllows(equity, existing, size*rcfg.Leverage) {
		return models.OpenPosition{}, models.WaitExposure
	}

	key := e.idem.SignalKey(sig.Symbol, sig.Side, s.Now)
	if e.idem.Seen(key, s.Now) {
		return models.OpenPosition{}, models.WaitDuplicate
	}

	stop, target := e.risk.Levels(sig.Side, s.Price, rcfg.Leverage)
	return models.OpenPosition{
		Symbol:         sig.Symbol,
		Side:           sig.Side,
		Size:           size,
		Leverage:       rcfg.Leverage,
		StopLoss:       stop,
		TakeProfit:     target,
		ReferencePrice: s.Price,
		FeatureKey:     sig.FeatureKey(),
		Score:          sig.CompositeScore,
		Confidence:     sig.Confidence,
		Regime:         sig.Regime,
		IdempotencyKey: key,
	}, ""
}

// highRisk is the derived risk assessment: any risk tier at high or above, or a weak signal.
// A weak signal has an indicator score below the moderate band even when the
// composite qualifies on microstructure.
func (e *Engine) highRisk(sig models.CompositeSignal, a models.RiskAnalysis) bool {
	if a.Overall.Rank() >= models.TierHigh.Rank() {
		return true
	}
	return sig.Strength == models.StrengthWeak
}

func (e *Engine) regimeCompatible(sig models.CompositeSignal) bool {
	if len(e.cfg.AllowedRegimes) > 0 && !containsRegime(e.cfg.AllowedRegimes, sig.Regime) {
		return false
	}
	if allowed, ok := e.cfg.TypeRegimes[sig.Type]; ok && len(allowed) > 0 && !containsRegime(allowed, sig.Regime) {
		return false
	}
	if floor, ok := e.cfg.MinStrength[sig.Regime]; ok && sig.Strength.Rank() < floor.Rank() {
		return false
	}
	return true
}

func containsRegime(set []models.Regime, r models.Regime) bool {
	for _, v := range set {
		if v == r {
			return true
		}
	}
	return false
}

// DecideManual resolves an operator order through the same policy, breaker,
// exposure and idempotency checks as signal-driven entries.
func (e *Engine) DecideManual(m ManualOrder, s Snapshot) models.Action {
	if !e.SymbolAllowed(m.Symbol) {
		return models.Wait{Symbol: m.Symbol, Reason: models.WaitSymbolBlocked}
	}
	key := e.idem.ManualKey(m.Symbol, m.Action, m.Size, s.Now)
	if e.idem.Seen(key, s.Now) {
		return models.Wait{Symbol: m.Symbol, Reason: models.WaitDuplicate}
	}

	if m.Action == ManualClose {
		if s.Position == nil || s.Position.Size <= 0 {
			return models.Wait{Symbol: m.Symbol, Reason: models.WaitNoPosition}
		}
		size := s.Position.Size
		if m.Size > 0 && m.Size < size {
			size = m.Size
		}
		return models.ClosePosition{
			Symbol:         m.Symbol,
			Side:           s.Position.Side,
			Size:           size,
			PnLPercent:     s.Position.PnLPercent,
			Reason:         models.CloseReasonManual,
			IdempotencyKey: key,
		}
	}

	if s.Position != nil && s.Position.Size > 0 {
		return models.Wait{Symbol: m.Symbol, Reason: models.WaitPositionOpen}
	}
	if s.Analysis.CircuitBreaker || e.risk.CircuitBreakerActive() {
		return models.Wait{Symbol: m.Symbol, Reason: models.WaitCircuitBreaker}
	}
	if m.Side != models.SideLong && m.Side != models.SideShort {
		return models.Wait{Symbol: m.Symbol, Reason: models.WaitNotAuthorized}
	}
	if s.Price <= 0 {
		return models.Wait{Symbol: m.Symbol, Reason: models.WaitNoRoomToSize}
	}

	rcfg := e.risk.Config()
	lev := m.Leverage
	if lev <= 0 {
		lev = rcfg.Leverage
	}
	size := math.Max(m.Size, rcfg.MinSize)
	existing := 0.0
	for _, p := range s.Positions {
		existing += p.Notional()
	}
	if len(s.Positions) >= e.cfg.MaxPositions() {
		return models.Wait{Symbol: m.Symbol, Reason: models.WaitPositionCap}
	}
	if !e.risk.ExposureAllows(s.Balance.Equity(), existing, size*lev) {
		return models.Wait{Symbol: m.Symbol, Reason: models.WaitExposure}
	}
	stop, target := e.risk.Levels(m.Side, s.Price, lev)
	return models.OpenPosition{
		Symbol:         m.Symbol,
		Side:           m.Side,
		Size:           size,
		Leverage:       lev,
		StopLoss:       stop,
		TakeProfit:     target,
		ReferencePrice: s.Price,
		IdempotencyKey: key,
	}
}
