package indicators

import (
	"math"

	"PerpGate/internal/domain/models"
)

// ATR is Wilder's average true range. It carries no direction.
type ATR struct {
	period    int
	prevClose float64
	hasPrev   bool
	value     float64
	count     int
	close     float64
}

func NewATR(period int) *ATR { return &ATR{period: period} }

func (a *ATR) Update(c models.Candle) {
	a.close = c.Close
	if !a.hasPrev {
		a.prevClose, a.hasPrev = c.Close, true
		return
	}
	tr := math.Max(c.High-c.Low, math.Max(math.Abs(c.High-a.prevClose), math.Abs(c.Low-a.prevClose)))
	a.prevClose = c.Close

	a.count++
	p := float64(a.period)
	if a.count <= a.period {
		a.value += (tr - a.value) / float64(a.count)
		return
	}
	a.value = (a.value*(p-1) + tr) / p
}

func (a *ATR) Ready() bool { return a.count >= a.period }

// Percent is the ATR as a percentage of the latest close.
func (a *ATR) Percent() float64 {
	if a.close <= 0 {
		return 0
	}
	return a.value / a.close * 100
}

func (a *ATR) Result() models.IndicatorResult {
	return models.IndicatorResult{Value: a.Percent(), Signal: models.TagNeutral}
}
