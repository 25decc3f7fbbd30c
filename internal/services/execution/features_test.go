package execution

import (
	"math"
	"strings"
	"testing"
	"time"

	"PerpGate/internal/domain/models"
)

func outcome(key string, pnl float64) models.Outcome {
	return models.Outcome{Symbol: "BTC-USDT", FeatureKey: key, Side: models.SideLong, PnLPercent: pnl}
}

func TestFeatureKillSwitchOnRollingWindow(t *testing.T) {
	ft := NewFeatureTracker(DefaultConfig().Features)
	key := models.FeatureKey(models.TypeTrend, models.StrengthStrong, models.RegimeTrending)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	win, loss := 14.0/15.0, -4.0/3.0
	var perf models.FeaturePerformance
	for i := 0; i < 4; i++ {
		perf = ft.Record(outcome(key, loss), now)
		perf = ft.Record(outcome(key, win), now)
	}

	if perf.Trades != 8 || perf.Wins != 4 || perf.Losses != 4 {
		t.Fatalf("unexpected counts %+v", perf)
	}
	if math.Abs(perf.ExpectancyPercent-(-0.2)) > 1e-9 {
		t.Fatalf("expectancy %v want -0.2", perf.ExpectancyPercent)
	}
	if math.Abs(perf.ProfitFactor-0.7) > 1e-9 {
		t.Fatalf("profit factor %v want 0.7", perf.ProfitFactor)
	}
	if perf.DisabledUntil == nil || !perf.DisabledUntil.Equal(now.Add(6*time.Hour)) {
		t.Fatalf("expected disabled until now+6h, got %v", perf.DisabledUntil)
	}
	if ft.Allowed(key, now.Add(time.Hour)) {
		t.Fatalf("key should be disabled during cooldown")
	}
	if !ft.Allowed(key, now.Add(6*time.Hour+time.Second)) {
		t.Fatalf("key should be re-enabled after cooldown")
	}
}

func TestFeatureBelowMinTradesStaysEnabled(t *testing.T) {
	ft := NewFeatureTracker(DefaultConfig().Features)
	now := time.Now()
	for i := 0; i < 3; i++ {
		ft.Record(outcome("k", -5), now)
	}
	if !ft.Allowed("k", now) {
		t.Fatalf("three trades are below the minimum sample")
	}
	ft.Record(outcome("k", -5), now)
	if ft.Allowed("k", now) {
		t.Fatalf("fourth losing trade should disable the key")
	}
}

func TestFeatureLaterDeadlineWins(t *testing.T) {
	ft := NewFeatureTracker(DefaultConfig().Features)
	t0 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		ft.Record(outcome("k", -1), t0)
	}
	perf := ft.Record(outcome("k", -1), t0.Add(time.Hour))
	if !perf.DisabledUntil.Equal(t0.Add(7 * time.Hour)) {
		t.Fatalf("expected deadline pushed to t0+7h, got %v", perf.DisabledUntil)
	}
}

func TestFeatureLifetimeTrigger(t *testing.T) {
	cfg := DefaultConfig().Features
	cfg.MinExpectancy = -100
	cfg.MinProfitFactor = 0
	cfg.MaxWindowDrawdown = 1000
	ft := NewFeatureTracker(cfg)
	now := time.Now()

	for i := 0; i < cfg.LifetimeMinTrades-1; i++ {
		ft.Record(outcome("k", -0.5), now)
	}
	if !ft.Allowed("k", now) {
		t.Fatalf("lifetime check needs %d trades", cfg.LifetimeMinTrades)
	}
	perf := ft.Record(outcome("k", -0.5), now)
	if ft.Allowed("k", now) {
		t.Fatalf("expected lifetime trigger to disable the key")
	}
	if !strings.Contains(perf.DisabledReason, "lifetime_expectancy") {
		t.Fatalf("unexpected reason %q", perf.DisabledReason)
	}
}

func TestFeatureAllowDenyOverrides(t *testing.T) {
	cfg := DefaultConfig().Features
	cfg.Allow = []string{"allowed"}
	cfg.Deny = []string{"denied"}
	ft := NewFeatureTracker(cfg)
	now := time.Now()

	if ft.Allowed("denied", now) {
		t.Fatalf("deny list must block without any history")
	}
	for i := 0; i < 5; i++ {
		ft.Record(outcome("allowed", -3), now)
	}
	if !ft.Allowed("allowed", now) {
		t.Fatalf("allow list must override the cooldown")
	}
	if p, _ := ft.Get("allowed"); !p.Disabled(now) {
		t.Fatalf("the record itself should still be in cooldown")
	}
}

func TestFeatureWindowIsBounded(t *testing.T) {
	ft := NewFeatureTracker(DefaultConfig().Features)
	now := time.Now()
	for i := 1; i <= 12; i++ {
		ft.Record(outcome("k", float64(i)), now)
	}
	p, ok := ft.Get("k")
	if !ok {
		t.Fatalf("expected record")
	}
	if len(p.RecentOutcomes) != 10 || p.RecentOutcomes[0] != 3 || p.RecentOutcomes[9] != 12 {
		t.Fatalf("unexpected window %v", p.RecentOutcomes)
	}
	if p.ProfitFactor != maxProfitFactor {
		t.Fatalf("no losses should cap the profit factor, got %v", p.ProfitFactor)
	}
	if got := ft.Snapshot(); len(got) != 1 || got[0].Key != "k" {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}

func TestWindowDrawdown(t *testing.T) {
	if dd := windowDrawdown([]float64{5, -3, -4, 2, -6}); dd != 11 {
		t.Fatalf("drawdown %v want 11", dd)
	}
}
