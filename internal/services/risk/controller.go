package risk

import (
	"math"
	"sync"

	"PerpGate/internal/domain/models"
	"PerpGate/internal/domain/repository"
	applogger "PerpGate/pkg/logger"
)

// Controller tracks session drawdown and the circuit breaker, and sizes and
// prices entries. All methods are safe for concurrent use.
type Controller struct {
	cfg     Config
	mu      sync.RWMutex
	state   models.RiskState
	dayOpen float64

	l       *applogger.Logger
	metrics repository.Metrics
}

func NewController(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{cfg: cfg}, nil
}

// SetLogger injects a structured logger.
func (c *Controller) SetLogger(l *applogger.Logger) { c.l = l }

// SetMetrics injects a metrics recorder.
func (c *Controller) SetMetrics(m repository.Metrics) { c.metrics = m }

func (c *Controller) Config() Config { return c.cfg }

// ObserveEquity ratchets peak equity, updates drawdown and trips the circuit
// breaker once drawdown reaches the configured maximum. It returns the drawdown percent.
func (c *Controller) ObserveEquity(balance, unrealizedPnL float64) float64 {
	equity := balance + unrealizedPnL

	c.mu.Lock()
	if equity > c.state.PeakEquity {
		c.state.PeakEquity = equity
	}
	if c.dayOpen == 0 {
		c.dayOpen = equity
	}
	c.state.Equity = equity
	dd := 0.0
	if c.state.PeakEquity > 0 {
		dd = math.Max(0, (c.state.PeakEquity-equity)/c.state.PeakEquity*100)
	}
	c.state.DrawdownPercent = dd
	if c.dayOpen > 0 {
		daily := math.Max(0, (c.dayOpen-equity)/c.dayOpen*100)
		if daily > c.state.MaxDailyDrawdown {
			c.state.MaxDailyDrawdown = daily
		}
	}
	tripped := false
	if !c.state.CircuitBreakerActive && dd >= c.cfg.MaxDrawdownPercent {
		c.state.CircuitBreakerActive = true
		tripped = true
	}
	active := c.state.CircuitBreakerActive
	peak := c.state.PeakEquity
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordDrawdown(dd)
		c.metrics.RecordCircuitBreaker(active)
	}
	if tripped && c.l != nil {
		c.l.Error("circuit breaker tripped",
			applogger.Float64("drawdown_percent", dd),
			applogger.Float64("peak_equity", peak),
			applogger.Float64("equity", equity),
		)
	}
	return dd
}

// RecordTrade feeds a realized result into the daily P&L and loss streak.
func (c *Controller) RecordTrade(pnlAmount float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.DailyPnL += pnlAmount
	if pnlAmount < 0 {
		c.state.ConsecutiveLosses++
	} else if pnlAmount > 0 {
		c.state.ConsecutiveLosses = 0
	}
}

// Reset is the only way to clear the circuit breaker. Peak equity restarts from equity.
func (c *Controller) Reset(equity float64, reason string) {
	c.mu.Lock()
	wasActive := c.state.CircuitBreakerActive
	c.state = models.RiskState{
		PeakEquity: equity,
		Equity:     equity,
	}
	c.dayOpen = equity
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordCircuitBreaker(false)
		c.metrics.RecordDrawdown(0)
	}
	if c.l != nil {
		c.l.Warn("risk state reset",
			applogger.String("reason", reason),
			applogger.Float64("equity", equity),
			applogger.Bool("circuit_breaker_cleared", wasActive),
		)
	}
}

func (c *Controller) State() models.RiskState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) CircuitBreakerActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.CircuitBreakerActive
}

// Analyze classifies drawdown, exposure and concentration. It does not mutate state.
func (c *Controller) Analyze(balance models.Balance, positions []models.Position) models.RiskAnalysis {
	st := c.State()
	equity := balance.Equity()

	var total, largest float64
	for _, p := range positions {
		n := p.Notional()
		total += n
		if n > largest {
			largest = n
		}
	}

	a := models.RiskAnalysis{
		DrawdownPercent:   st.DrawdownPercent,
		CircuitBreaker:    st.CircuitBreakerActive,
		ConsecutiveLosses: st.ConsecutiveLosses,
		TotalNotional:     total,
		Balance:           balance,
	}
	if equity > 0 {
		a.ExposureRatio = total / equity
		a.ConcentrationRatio = largest / equity
		a.ExposureTier = Classify(a.ExposureRatio, c.cfg.MaxExposureRatio)
		a.ConcentrationTier = Classify(a.ConcentrationRatio, c.cfg.MaxConcentrationRatio)
	} else {
		a.ExposureTier = models.TierCritical
		a.ConcentrationTier = models.TierCritical
	}
	a.DrawdownTier = Classify(st.DrawdownPercent, c.cfg.MaxDrawdownPercent)

	a.Overall = a.DrawdownTier
	for _, t := range []models.RiskTier{a.ExposureTier, a.ConcentrationTier} {
		if t.Rank() > a.Overall.Rank() {
			a.Overall = t
		}
	}
	if st.CircuitBreakerActive {
		a.Overall = models.TierCritical
	}
	return a
}

// Classify maps value against limit: 50% medium, 80% high, 100% critical.
func Classify(value, limit float64) models.RiskTier {
	if limit <= 0 {
		return models.TierCritical
	}
	frac := value / limit
	switch {
	case frac >= 1:
		return models.TierCritical
	case frac >= 0.8:
		return models.TierHigh
	case frac >= 0.5:
		return models.TierMedium
	default:
		return models.TierLow
	}
}

// ExposureAllows reports whether adding newNotional keeps total exposure within
// balance × MaxExposureRatio.
func (c *Controller) ExposureAllows(equity, existingNotional, newNotional float64) bool {
	return existingNotional+newNotional <= equity*c.cfg.MaxExposureRatio
}
