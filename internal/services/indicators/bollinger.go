package indicators

import "PerpGate/internal/domain/models"

// Bollinger scores where the close sits inside its volatility band. Readings
// near the lower band score bullish, near the upper band bearish.
type Bollinger struct {
	width  float64
	closes *Ring
}

func NewBollinger(period int, width float64) *Bollinger {
	return &Bollinger{width: width, closes: NewRing(period)}
}

func (b *Bollinger) Update(c models.Candle) { b.closes.Push(c.Close) }

func (b *Bollinger) Ready() bool { return b.closes.Full() }

// PercentB is 0 at the lower band and 1 at the upper band. A flat band reads 0.5.
func (b *Bollinger) PercentB() float64 {
	mean, sd := b.closes.Mean(), b.closes.StdDev()
	lower, upper := mean-b.width*sd, mean+b.width*sd
	if upper-lower == 0 {
		return 0.5
	}
	return (b.closes.Last() - lower) / (upper - lower)
}

func (b *Bollinger) Result() models.IndicatorResult {
	pb := b.PercentB()
	tag := models.TagNeutral
	switch {
	case pb < 0.2:
		tag = models.TagBullish
	case pb > 0.8:
		tag = models.TagBearish
	}
	return models.IndicatorResult{
		Value:  pb,
		Signal: tag,
		Score:  clampScore((0.5 - pb) * 2),
	}
}
