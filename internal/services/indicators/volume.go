package indicators

import (
	"math"

	"PerpGate/internal/domain/models"
)

// Volume flags bars trading well above their recent average, signed by the
// bar's own direction.
type Volume struct {
	spike   float64
	history *Ring
	ratio   float64
	dir     float64
}

func NewVolume(period int, spike float64) *Volume {
	return &Volume{spike: spike, history: NewRing(period)}
}

func (v *Volume) Update(c models.Candle) {
	if v.history.Full() {
		if mean := v.history.Mean(); mean > 0 {
			v.ratio = c.Volume / mean
		} else {
			v.ratio = 0
		}
	}
	switch {
	case c.Close > c.Open:
		v.dir = 1
	case c.Close < c.Open:
		v.dir = -1
	default:
		v.dir = 0
	}
	v.history.Push(c.Volume)
}

func (v *Volume) Ready() bool { return v.history.Full() }

func (v *Volume) Result() models.IndicatorResult {
	r := models.IndicatorResult{Value: v.ratio, Signal: models.TagNeutral}
	if v.ratio >= v.spike && v.dir != 0 {
		r.Signal = tagFromSign(v.dir)
		r.Score = v.dir * math.Min(maxScore, v.ratio-1)
	}
	return r
}
