package execution

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"PerpGate/internal/domain/models"
	"PerpGate/internal/domain/repository"
	applogger "PerpGate/pkg/logger"
)

// FeatureTracker accumulates realized outcomes per feature key and disables
// keys whose recent or lifetime performance breaches the configured floors.
type FeatureTracker struct {
	cfg FeatureConfig

	mu    sync.RWMutex
	perf  map[string]*models.FeaturePerformance
	allow map[string]struct{}
	deny  map[string]struct{}

	l       *applogger.Logger
	metrics repository.Metrics
}

func NewFeatureTracker(cfg FeatureConfig) *FeatureTracker {
	t := &FeatureTracker{
		cfg:   cfg,
		perf:  make(map[string]*models.FeaturePerformance),
		allow: make(map[string]struct{}, len(cfg.Allow)),
		deny:  make(map[string]struct{}, len(cfg.Deny)),
	}
	for _, k := range cfg.Allow {
		t.allow[k] = struct{}{}
	}
	for _, k := range cfg.Deny {
		t.deny[k] = struct{}{}
	}
	return t
}

func (t *FeatureTracker) SetLogger(l *applogger.Logger) { t.l = l }

func (t *FeatureTracker) SetMetrics(m repository.Metrics) { t.metrics = m }

// Allowed reports whether new entries may use key at now.
// Deny wins over allow, and allow overrides an active cooldown.
func (t *FeatureTracker) Allowed(key string, now time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.deny[key]; ok {
		return false
	}
	if _, ok := t.allow[key]; ok {
		return true
	}
	p, ok := t.perf[key]
	if !ok {
		return true
	}
	return !p.Disabled(now)
}

// Record folds one realized outcome into its key and re-runs both kill-switch checks.
func (t *FeatureTracker) Record(o models.Outcome, now time.Time) models.FeaturePerformance {
	t.mu.Lock()
	p, ok := t.perf[o.FeatureKey]
	if !ok {
		p = &models.FeaturePerformance{Key: o.FeatureKey}
		t.perf[o.FeatureKey] = p
	}

	pnl := o.PnLPercent
	p.Trades++
	p.TotalPnLPercent += pnl
	switch {
	case pnl > 0:
		p.Wins++
		p.GrossWinPercent += pnl
	case pnl < 0:
		p.Losses++
		p.GrossLossPercent += -pnl
	}
	if p.Wins > 0 {
		p.AvgWin = p.GrossWinPercent / float64(p.Wins)
	}
	if p.Losses > 0 {
		p.AvgLoss = p.GrossLossPercent / float64(p.Losses)
	}
	p.ExpectancyPercent = p.TotalPnLPercent / float64(p.Trades)
	p.ProfitFactor = profitFactor(p.GrossWinPercent, p.GrossLossPercent)

	p.RecentOutcomes = append(p.RecentOutcomes, pnl)
	if over := len(p.RecentOutcomes) - t.cfg.Window; over > 0 {
		p.RecentOutcomes = append(p.RecentOutcomes[:0:0], p.RecentOutcomes[over:]...)
	}

	var reasons []string
	if r := t.rollingBreach(p.RecentOutcomes); r != "" {
		reasons = append(reasons, r)
	}
	if r := t.lifetimeBreach(p); r != "" {
		reasons = append(reasons, r)
	}
	disabled := false
	if len(reasons) > 0 {
		until := now.Add(t.cfg.Cooldown)
		// Triggers are independent; a later deadline replaces an earlier one.
		if p.DisabledUntil == nil || until.After(*p.DisabledUntil) {
			p.DisabledUntil = &until
			p.DisabledReason = reasons[0]
			for _, r := range reasons[1:] {
				p.DisabledReason += "," + r
			}
			disabled = true
		}
	}
	snapshot := copyPerf(p)
	t.mu.Unlock()

	if disabled {
		if t.metrics != nil {
			t.metrics.RecordFeatureDisabled(o.FeatureKey)
		}
		if t.l != nil {
			t.l.Warn("feature disabled",
				applogger.String("feature_key", o.FeatureKey),
				applogger.String("reason", snapshot.DisabledReason),
				applogger.Int("trades", snapshot.Trades),
				applogger.Float64("expectancy_percent", snapshot.ExpectancyPercent),
				applogger.Float64("profit_factor", snapshot.ProfitFactor),
				applogger.String("disabled_until", snapshot.DisabledUntil.Format(time.RFC3339)),
			)
		}
	}
	return snapshot
}

func (t *FeatureTracker) rollingBreach(recent []float64) string {
	if len(recent) < t.cfg.MinTrades {
		return ""
	}
	var sum, win, loss float64
	for _, v := range recent {
		sum += v
		if v > 0 {
			win += v
		} else {
			loss += -v
		}
	}
	exp := sum / float64(len(recent))
	switch {
	case exp < t.cfg.MinExpectancy:
		return fmt.Sprintf("window_expectancy %.2f < %.2f", exp, t.cfg.MinExpectancy)
	case profitFactor(win, loss) < t.cfg.MinProfitFactor:
		return fmt.Sprintf("window_profit_factor %.2f < %.2f", profitFactor(win, loss), t.cfg.MinProfitFactor)
	}
	if dd := windowDrawdown(recent); dd > t.cfg.MaxWindowDrawdown {
		return fmt.Sprintf("window_drawdown %.2f > %.2f", dd, t.cfg.MaxWindowDrawdown)
	}
	return ""
}

func (t *FeatureTracker) lifetimeBreach(p *models.FeaturePerformance) string {
	if p.Trades < t.cfg.LifetimeMinTrades {
		return ""
	}
	switch {
	case p.ExpectancyPercent < t.cfg.LifetimeMinExpectancy:
		return fmt.Sprintf("lifetime_expectancy %.2f < %.2f", p.ExpectancyPercent, t.cfg.LifetimeMinExpectancy)
	case p.ProfitFactor < t.cfg.LifetimeMinProfitFactor:
		return fmt.Sprintf("lifetime_profit_factor %.2f < %.2f", p.ProfitFactor, t.cfg.LifetimeMinProfitFactor)
	}
	return ""
}

// Get returns a copy of the performance record for key.
func (t *FeatureTracker) Get(key string) (models.FeaturePerformance, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.perf[key]
	if !ok {
		return models.FeaturePerformance{}, false
	}
	return copyPerf(p), true
}

// Snapshot returns copies of every record, sorted by key.
func (t *FeatureTracker) Snapshot() []models.FeaturePerformance {
	t.mu.RLock()
	out := make([]models.FeaturePerformance, 0, len(t.perf))
	for _, p := range t.perf {
		out = append(out, copyPerf(p))
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// maxProfitFactor stands in for an unbounded ratio so records stay JSON encodable.
const maxProfitFactor = 999

// profitFactor is gross win over gross loss, capped at maxProfitFactor.
func profitFactor(win, loss float64) float64 {
	if loss == 0 {
		if win > 0 {
			return maxProfitFactor
		}
		return 0
	}
	return math.Min(maxProfitFactor, win/loss)
}

// windowDrawdown is the deepest peak-to-trough fall of the cumulative pnl path.
func windowDrawdown(pnls []float64) float64 {
	var cum, peak, dd float64
	for _, v := range pnls {
		cum += v
		if cum > peak {
			peak = cum
		}
		if peak-cum > dd {
			dd = peak - cum
		}
	}
	return dd
}

func copyPerf(p *models.FeaturePerformance) models.FeaturePerformance {
	c := *p
	c.RecentOutcomes = append([]float64(nil), p.RecentOutcomes...)
	if p.DisabledUntil != nil {
		until := *p.DisabledUntil
		c.DisabledUntil = &until
	}
	return c
}
