package indicators

import (
	"math"

	"PerpGate/internal/domain/models"
)

// RSI is Wilder's relative strength index. Besides the value it grades the
// latest bar into qualitative sub-signals (zones, 50-line crossover, momentum,
// hooks and price/RSI divergence).
type RSI struct {
	period   int
	lookback int

	prev    float64
	hasPrev bool
	avgGain float64
	avgLoss float64
	changes int
	values  *Ring
	closes  *Ring
}

func NewRSI(period, divergenceLookback int) *RSI {
	if divergenceLookback < 5 {
		divergenceLookback = 5
	}
	return &RSI{
		period:   period,
		lookback: divergenceLookback,
		values:   NewRing(divergenceLookback),
		closes:   NewRing(divergenceLookback),
	}
}

func (r *RSI) Update(c models.Candle) {
	if !r.hasPrev {
		r.prev, r.hasPrev = c.Close, true
		return
	}
	change := c.Close - r.prev
	r.prev = c.Close
	gain, loss := math.Max(change, 0), math.Max(-change, 0)

	r.changes++
	p := float64(r.period)
	if r.changes <= r.period {
		r.avgGain += gain / p
		r.avgLoss += loss / p
	} else {
		r.avgGain = (r.avgGain*(p-1) + gain) / p
		r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	}
	if r.changes >= r.period {
		r.values.Push(r.value())
		r.closes.Push(c.Close)
	}
}

func (r *RSI) value() float64 {
	if r.avgLoss == 0 {
		if r.avgGain == 0 {
			return 50
		}
		return 100
	}
	return 100 - 100/(1+r.avgGain/r.avgLoss)
}

func (r *RSI) Ready() bool { return r.values.Len() > 0 }

func (r *RSI) Result() models.IndicatorResult {
	cur := r.values.Last()
	subs := r.subSignals()

	net := 0.0
	for _, s := range subs {
		net += s.Direction.Sign()
	}
	tag := models.TagNeutral
	switch {
	case net > 0:
		tag = models.TagBullish
	case net < 0:
		tag = models.TagBearish
	}
	return models.IndicatorResult{
		Value:      cur,
		Signal:     tag,
		Score:      clampScore((50 - cur) / 25),
		SubSignals: subs,
	}
}

func (r *RSI) subSignals() []models.SubSignal {
	n := r.values.Len()
	if n == 0 {
		return nil
	}
	cur := r.values.At(-1)
	var out []models.SubSignal
	add := func(t models.SubSignalType, d models.SignalTag, s models.Strength) {
		out = append(out, models.SubSignal{Type: t, Direction: d, Strength: s})
	}

	switch {
	case cur <= 10:
		add(models.SubZoneExtreme, models.TagBullish, models.StrengthExtreme)
	case cur <= 20:
		add(models.SubZoneExtreme, models.TagBullish, models.StrengthStrong)
	case cur <= 30:
		add(models.SubZone, models.TagBullish, models.StrengthModerate)
	case cur >= 90:
		add(models.SubZoneExtreme, models.TagBearish, models.StrengthExtreme)
	case cur >= 80:
		add(models.SubZoneExtreme, models.TagBearish, models.StrengthStrong)
	case cur >= 70:
		add(models.SubZone, models.TagBearish, models.StrengthModerate)
	}

	if n >= 2 {
		prev := r.values.At(-2)
		switch {
		case prev < 50 && cur >= 50:
			add(models.SubCrossover, models.TagBullish, models.StrengthStrong)
		case prev > 50 && cur <= 50:
			add(models.SubCrossover, models.TagBearish, models.StrengthStrong)
		}
	}

	if n >= 4 {
		delta := cur - r.values.At(-4)
		strength := models.StrengthModerate
		if math.Abs(delta) >= 15 {
			strength = models.StrengthStrong
		}
		switch {
		case delta >= 10:
			add(models.SubMomentum, models.TagBullish, strength)
		case delta <= -10:
			add(models.SubMomentum, models.TagBearish, strength)
		}
	}

	if n >= 3 {
		a, b := r.values.At(-3), r.values.At(-2)
		switch {
		case b <= 35 && a > b && cur > b:
			add(models.SubHook, models.TagBullish, models.StrengthModerate)
		case b >= 65 && a < b && cur < b:
			add(models.SubHook, models.TagBearish, models.StrengthModerate)
		}
	}

	if d, ok := r.divergence(); ok {
		add(models.SubDivergence, d, models.StrengthVeryStrong)
	}
	return out
}

// divergence compares the newest close against the extreme close earlier in
// the window: a lower price low with a higher RSI low is bullish, and the
// mirror image is bearish.
func (r *RSI) divergence() (models.SignalTag, bool) {
	n := r.closes.Len()
	if n < r.lookback {
		return "", false
	}
	cur, curRSI := r.closes.At(-1), r.values.At(-1)

	lowIdx, highIdx := -1, -1
	for i := 0; i < n-3; i++ {
		if lowIdx < 0 || r.closes.At(i) < r.closes.At(lowIdx) {
			lowIdx = i
		}
		if highIdx < 0 || r.closes.At(i) > r.closes.At(highIdx) {
			highIdx = i
		}
	}
	if lowIdx >= 0 && cur < r.closes.At(lowIdx) && curRSI > r.values.At(lowIdx)+5 && curRSI < 45 {
		return models.TagBullish, true
	}
	if highIdx >= 0 && cur > r.closes.At(highIdx) && curRSI < r.values.At(highIdx)-5 && curRSI > 55 {
		return models.TagBearish, true
	}
	return "", false
}
