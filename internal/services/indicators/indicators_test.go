package indicators

import (
	"errors"
	"math"
	"testing"
	"time"

	"PerpGate/internal/domain/errs"
	"PerpGate/internal/domain/models"
)

var t0 = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func candle(i int, open, close, volume float64) models.Candle {
	hi, lo := math.Max(open, close)+1, math.Min(open, close)-1
	return models.Candle{
		Bucket: t0.Add(time.Duration(i) * time.Minute),
		Symbol: "BTCUSDTM",
		Open:   open,
		High:   hi,
		Low:    lo,
		Close:  close,
		Volume: volume,
		Closed: true,
	}
}

func rising(n int) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		base := 100 + float64(i)
		out[i] = candle(i, base, base+1, 100)
	}
	return out
}

func TestRing(t *testing.T) {
	r := NewRing(3)
	for _, v := range []float64{1, 2, 3, 4} {
		r.Push(v)
	}
	if !r.Full() || r.Len() != 3 {
		t.Fatalf("len %d full %v", r.Len(), r.Full())
	}
	if r.At(0) != 2 || r.At(-1) != 4 || r.Last() != 4 {
		t.Fatalf("at0 %v last %v", r.At(0), r.Last())
	}
	if r.Sum() != 9 || r.Mean() != 3 {
		t.Fatalf("sum %v mean %v", r.Sum(), r.Mean())
	}
	if !math.IsNaN(r.At(3)) || !math.IsNaN(r.At(-4)) {
		t.Fatalf("out of range should be NaN")
	}
	if r.MinIndex() != 0 || r.MaxIndex() != 2 {
		t.Fatalf("min %d max %d", r.MinIndex(), r.MaxIndex())
	}
}

func TestEMASeedsWithSimpleAverage(t *testing.T) {
	e := NewEMA(3)
	for _, v := range []float64{1, 2, 3} {
		e.Update(v)
	}
	if !e.Ready() || math.Abs(e.Value()-2) > 1e-12 {
		t.Fatalf("seed %v ready %v", e.Value(), e.Ready())
	}
	if got := e.Update(4); math.Abs(got-3) > 1e-12 {
		t.Fatalf("ema %v want 3", got)
	}
}

func TestRSIOverboughtOnSteadyRise(t *testing.T) {
	r := NewRSI(14, 20)
	for _, c := range rising(30) {
		r.Update(c)
	}
	res := r.Result()
	if res.Value != 100 {
		t.Fatalf("rsi %v want 100", res.Value)
	}
	if res.Signal != models.TagBearish {
		t.Fatalf("tag %s", res.Signal)
	}
	if len(res.SubSignals) != 1 {
		t.Fatalf("subs %+v", res.SubSignals)
	}
	s := res.SubSignals[0]
	if s.Type != models.SubZoneExtreme || s.Direction != models.TagBearish || s.Strength != models.StrengthExtreme {
		t.Fatalf("sub %+v", s)
	}
}

func TestRSICrossoverAndMomentum(t *testing.T) {
	r := NewRSI(3, 5)
	// steady declines pin rsi at 0, then one sharp rise lifts it past 50
	for i, c := range []float64{112, 110, 108, 106, 104, 102, 110} {
		r.Update(candle(i, c, c, 1))
	}
	res := r.Result()
	var cross, momentum bool
	for _, s := range res.SubSignals {
		switch s.Type {
		case models.SubCrossover:
			cross = s.Direction == models.TagBullish
		case models.SubMomentum:
			momentum = s.Direction == models.TagBullish && s.Strength == models.StrengthStrong
		}
	}
	if !cross || !momentum {
		t.Fatalf("rsi %.2f subs %+v", res.Value, res.SubSignals)
	}
}

func TestATRPercent(t *testing.T) {
	a := NewATR(3)
	for i := 0; i < 6; i++ {
		a.Update(candle(i, 100, 100, 1))
	}
	// true range is the 2-point bar span
	if !a.Ready() || math.Abs(a.Percent()-2) > 1e-9 {
		t.Fatalf("atr%% %v", a.Percent())
	}
	if a.Result().Signal != models.TagNeutral || a.Result().Score != 0 {
		t.Fatalf("atr should be directionless")
	}
}

func TestVolumeSpike(t *testing.T) {
	v := NewVolume(5, 1.5)
	for i := 0; i < 5; i++ {
		v.Update(candle(i, 100, 100, 100))
	}
	v.Update(candle(5, 100, 101, 300))
	res := v.Result()
	if res.Value != 3 || res.Signal != models.TagBullish || res.Score != 1.5 {
		t.Fatalf("volume %+v", res)
	}
	v.Update(candle(6, 101, 100, 110))
	if res := v.Result(); res.Signal != models.TagNeutral || res.Score != 0 {
		t.Fatalf("quiet bar %+v", res)
	}
}

func TestBollingerBands(t *testing.T) {
	b := NewBollinger(4, 2)
	for i := 0; i < 4; i++ {
		b.Update(candle(i, 100, 100, 1))
	}
	if b.PercentB() != 0.5 {
		t.Fatalf("flat band %v", b.PercentB())
	}
	b.Update(candle(4, 100, 90, 1))
	res := b.Result()
	if res.Signal != models.TagBullish || res.Score <= 0 {
		t.Fatalf("drop below band %+v", res)
	}
}

func TestFeedInsufficientHistory(t *testing.T) {
	f := NewFeed(DefaultConfig())
	if _, err := f.Compute(rising(49)); !errors.Is(err, errs.ErrInsufficientData) {
		t.Fatalf("err %v", err)
	}
	if _, ok := f.ATRPercent(); ok {
		t.Fatalf("atr before warmup")
	}
}

func TestFeedResults(t *testing.T) {
	f := NewFeed(DefaultConfig())
	history := rising(60)
	res, err := f.Compute(history)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	for _, name := range []string{NameRSI, NameMACD, NameEMATrend, NameBollinger, NameATR, NameVolume, NameHTFTrend} {
		r, ok := res[name]
		if !ok {
			t.Fatalf("missing %s", name)
		}
		if math.Abs(r.Score) > maxScore {
			t.Fatalf("%s score %v out of range", name, r.Score)
		}
	}
	if res[NameEMATrend].Signal != models.TagBullish || res[NameHTFTrend].Signal != models.TagBullish {
		t.Fatalf("trend tags %s %s", res[NameEMATrend].Signal, res[NameHTFTrend].Signal)
	}

	if atr, ok := f.ATRPercent(); !ok || atr <= 0 {
		t.Fatalf("atr percent %v %v", atr, ok)
	}

	// replaying the same history ingests nothing
	if n := f.Update(history); n != 0 || f.Seen() != 60 {
		t.Fatalf("replay ingested %d seen %d", n, f.Seen())
	}
	next := rising(61)[60:]
	if n := f.Update(next); n != 1 {
		t.Fatalf("ingested %d", n)
	}
}

func TestFeedSetRoutesBySymbol(t *testing.T) {
	s := NewFeedSet(DefaultConfig())
	if s.ATRPercent("BTCUSDTM") != nil {
		t.Fatalf("atr before warmup")
	}
	if _, err := s.Compute(nil); !errors.Is(err, errs.ErrInsufficientData) {
		t.Fatalf("empty history err %v", err)
	}
	if _, err := s.Compute(rising(60)); err != nil {
		t.Fatalf("compute: %v", err)
	}
	if s.ATRPercent("BTCUSDTM") == nil {
		t.Fatalf("atr missing after warmup")
	}
	if s.For("ETHUSDTM").Seen() != 0 {
		t.Fatalf("feeds share state")
	}
}

func TestConfigValidate(t *testing.T) {
	c := DefaultConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults: %v", err)
	}
	c.MinHistory = 10
	if err := c.Validate(); !errs.IsKind(err, errs.KindConfiguration) {
		t.Fatalf("err %v", err)
	}
	c = DefaultConfig()
	c.MACDSlow = c.MACDFast
	if err := c.Validate(); !errs.IsKind(err, errs.KindConfiguration) {
		t.Fatalf("err %v", err)
	}
}
