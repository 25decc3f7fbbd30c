package risk

import (
	"math"
	"math/rand"
	"testing"

	"PerpGate/internal/domain/models"
)

func TestSizeFormula(t *testing.T) {
	c := newController(t)
	// 10000 * 0.02 * 1.0 * 1.0 * 1.0 * 1.0 * 1.0 / 10 = 20
	got := c.Size(SizeInput{Balance: 10000, Score: 100, Confidence: 70, Regime: models.RegimeTrending, Leverage: 10})
	if math.Abs(got-20) > 1e-9 {
		t.Fatalf("size %v want 20", got)
	}
	// 50000 * 0.02 * 1.5 * 1.3 * 0.8 * 0.85 * 0.7 / 10 = 92.82
	got = c.Size(SizeInput{Balance: 50000, Score: 160, Confidence: 100, DrawdownPercent: 3, ConsecutiveLosses: 1, Regime: models.RegimeVolatile, Leverage: 10})
	if math.Abs(got-92.82) > 0.011 {
		t.Fatalf("size %v want 92.82", got)
	}
}

func TestSizeFloorsAtMinimum(t *testing.T) {
	c := newController(t)
	min := c.Config().MinSize
	rng := rand.New(rand.NewSource(3))
	regimes := []models.Regime{models.RegimeTrending, models.RegimeRanging, models.RegimeVolatile, ""}
	for i := 0; i < 1000; i++ {
		in := SizeInput{
			Balance:           (rng.Float64()*2 - 0.5) * 20000,
			Score:             (rng.Float64()*2 - 1) * 200,
			Confidence:        rng.Float64() * 100,
			DrawdownPercent:   rng.Float64() * 15,
			ConsecutiveLosses: rng.Intn(10),
			Regime:            regimes[rng.Intn(len(regimes))],
			Leverage:          float64(rng.Intn(20)),
		}
		got := c.Size(in)
		if got < min || got < 0 {
			t.Fatalf("size %v below minimum for %+v", got, in)
		}
	}
}

func TestScales(t *testing.T) {
	if DrawdownScale(2.9) != 1 || DrawdownScale(3) != 0.8 || DrawdownScale(5) != 0.6 || DrawdownScale(9) != 0.35 {
		t.Fatalf("unexpected drawdown scale")
	}
	if StreakScale(0) != 1 || StreakScale(10) != 0.4 {
		t.Fatalf("unexpected streak scale")
	}
	if RegimeScale(models.RegimeRanging) != 0.5 {
		t.Fatalf("unexpected regime scale")
	}
}
