package risk

import (
	"math"
	"testing"

	"PerpGate/internal/domain/models"
)

func almost(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestStopAndTargetPrices(t *testing.T) {
	if got := StopLossPrice(models.SideLong, 100, 10, 10); !almost(got, 99) {
		t.Fatalf("long stop %v want 99", got)
	}
	if got := StopLossPrice(models.SideShort, 100, 10, 10); !almost(got, 101) {
		t.Fatalf("short stop %v want 101", got)
	}
	if got := TakeProfitPrice(models.SideLong, 100, 20, 10); !almost(got, 102) {
		t.Fatalf("long target %v want 102", got)
	}
	if got := TakeProfitPrice(models.SideShort, 100, 20, 10); !almost(got, 98) {
		t.Fatalf("short target %v want 98", got)
	}
}

func TestBreakEvenUsesBuffer(t *testing.T) {
	c := newController(t)
	if got := c.BreakEvenPrice(models.SideLong, 100, 10); !almost(got, 100.1) {
		t.Fatalf("long break-even %v want 100.1", got)
	}
	if got := c.BreakEvenPrice(models.SideShort, 100, 10); !almost(got, 99.9) {
		t.Fatalf("short break-even %v want 99.9", got)
	}
}

func TestMoreFavorableNeverUntrails(t *testing.T) {
	cur := 105.0
	if !MoreFavorable(models.SideLong, nil, 101) {
		t.Fatalf("nil existing should accept")
	}
	if !MoreFavorable(models.SideLong, &cur, 105.5) {
		t.Fatalf("higher long level should be accepted")
	}
	if MoreFavorable(models.SideLong, &cur, 105) || MoreFavorable(models.SideLong, &cur, 104) {
		t.Fatalf("equal or worse long level must be rejected")
	}
	if !MoreFavorable(models.SideShort, &cur, 104) {
		t.Fatalf("lower short level should be accepted")
	}
	if MoreFavorable(models.SideShort, &cur, 105) || MoreFavorable(models.SideShort, &cur, 106) {
		t.Fatalf("equal or worse short level must be rejected")
	}
}

func TestTrailLevels(t *testing.T) {
	c := newController(t)
	stop, target := c.TrailLevels(models.SideLong, 100, 10, 14)
	if !almost(stop, 100.8) || !almost(target, 102) {
		t.Fatalf("unexpected trail levels %v/%v", stop, target)
	}
}
