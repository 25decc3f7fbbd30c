package risk

import (
	"math"
	"testing"
	"time"

	"PerpGate/internal/domain/models"
)

func newController(t *testing.T) *Controller {
	t.Helper()
	c, err := NewController(DefaultConfig())
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	return c
}

func TestObserveEquityTripsCircuitBreaker(t *testing.T) {
	c := newController(t)
	c.ObserveEquity(10000, 0)
	c.ObserveEquity(10500, 0)
	dd := c.ObserveEquity(9400, 0)

	want := (10500.0 - 9400.0) / 10500.0 * 100
	if math.Abs(dd-want) > 1e-9 {
		t.Fatalf("drawdown %v want %v", dd, want)
	}
	if !c.CircuitBreakerActive() {
		t.Fatalf("expected circuit breaker after %.2f%% drawdown", dd)
	}
}

func TestCircuitBreakerIsSticky(t *testing.T) {
	c := newController(t)
	c.ObserveEquity(10000, 0)
	c.ObserveEquity(8900, 0)
	if !c.CircuitBreakerActive() {
		t.Fatalf("expected breaker active")
	}
	for _, eq := range []float64{9500, 10000, 12000} {
		c.ObserveEquity(eq, 0)
		if !c.CircuitBreakerActive() {
			t.Fatalf("breaker cleared by equity recovery to %v", eq)
		}
	}
	c.Reset(12000, "operator")
	if c.CircuitBreakerActive() {
		t.Fatalf("expected breaker cleared after explicit reset")
	}
	if st := c.State(); st.PeakEquity != 12000 || st.ConsecutiveLosses != 0 {
		t.Fatalf("unexpected state after reset %+v", st)
	}
}

func TestPeakEquityRatchets(t *testing.T) {
	c := newController(t)
	c.ObserveEquity(1000, 50)
	c.ObserveEquity(900, 0)
	if st := c.State(); st.PeakEquity != 1050 {
		t.Fatalf("expected peak 1050, got %v", st.PeakEquity)
	}
	if dd := c.ObserveEquity(2000, 0); dd != 0 {
		t.Fatalf("drawdown must floor at 0, got %v", dd)
	}
}

func TestRecordTradeStreak(t *testing.T) {
	c := newController(t)
	c.RecordTrade(-10)
	c.RecordTrade(-5)
	if st := c.State(); st.ConsecutiveLosses != 2 || st.DailyPnL != -15 {
		t.Fatalf("unexpected state %+v", st)
	}
	c.RecordTrade(20)
	if st := c.State(); st.ConsecutiveLosses != 0 {
		t.Fatalf("win must reset streak, got %d", st.ConsecutiveLosses)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		value float64
		want  models.RiskTier
	}{
		{0, models.TierLow},
		{4.9, models.TierLow},
		{5, models.TierMedium},
		{8, models.TierHigh},
		{10, models.TierCritical},
		{25, models.TierCritical},
	}
	for _, tt := range tests {
		if got := Classify(tt.value, 10); got != tt.want {
			t.Fatalf("Classify(%v) = %s want %s", tt.value, got, tt.want)
		}
	}
}

func TestAnalyze(t *testing.T) {
	c := newController(t)
	c.ObserveEquity(10000, 0)
	positions := []models.Position{
		{Symbol: "BTC-USDT", Size: 1000, Leverage: 10},
		{Symbol: "ETH-USDT", Size: 500, Leverage: 10},
	}
	a := c.Analyze(models.Balance{Wallet: 10000}, positions)
	if a.TotalNotional != 15000 || a.ExposureRatio != 1.5 {
		t.Fatalf("unexpected exposure %+v", a)
	}
	if a.ExposureTier != models.TierMedium || a.ConcentrationTier != models.TierCritical {
		t.Fatalf("unexpected tiers %s/%s", a.ExposureTier, a.ConcentrationTier)
	}
	if a.Overall != models.TierCritical {
		t.Fatalf("expected overall critical, got %s", a.Overall)
	}

	empty := c.Analyze(models.Balance{}, nil)
	if empty.ExposureTier != models.TierCritical {
		t.Fatalf("zero equity must classify critical")
	}
}

func TestExposureAllows(t *testing.T) {
	c := newController(t)
	if !c.ExposureAllows(1000, 2000, 1000) {
		t.Fatalf("3000 <= 1000*3 should pass")
	}
	if c.ExposureAllows(1000, 2000, 1000.01) {
		t.Fatalf("exceeding ceiling should fail")
	}
}

func TestDayManagerRollover(t *testing.T) {
	c := newController(t)
	c.ObserveEquity(10000, 0)
	c.ObserveEquity(8000, 0)
	dm := NewDayManager(c, "UTC", nil)

	day1 := time.Date(2026, 5, 4, 23, 0, 0, 0, time.UTC)
	if dm.RolloverIfNeeded(day1, 8000) {
		t.Fatalf("first call only seeds the day")
	}
	if dm.RolloverIfNeeded(day1.Add(30*time.Minute), 8000) {
		t.Fatalf("same day must not roll over")
	}
	if !dm.RolloverIfNeeded(day1.Add(2*time.Hour), 8000) {
		t.Fatalf("expected rollover past midnight")
	}
	if c.CircuitBreakerActive() {
		t.Fatalf("daily rollover should reset the breaker")
	}
}
