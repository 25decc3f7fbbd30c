package indicators

import "PerpGate/internal/domain/models"

// EMATrend reads the local trend from the fast/slow EMA spread; 0.5% of price is one unit.
type EMATrend struct {
	fast, slow *EMA
}

func NewEMATrend(fast, slow int) *EMATrend {
	return &EMATrend{fast: NewEMA(fast), slow: NewEMA(slow)}
}

func (t *EMATrend) Update(c models.Candle) {
	t.fast.Update(c.Close)
	t.slow.Update(c.Close)
}

func (t *EMATrend) Ready() bool { return t.slow.Ready() }

// SpreadPercent is (fast - slow) as a percentage of slow.
func (t *EMATrend) SpreadPercent() float64 {
	if t.slow.Value() == 0 {
		return 0
	}
	return (t.fast.Value() - t.slow.Value()) / t.slow.Value() * 100
}

func (t *EMATrend) Result() models.IndicatorResult {
	spread := t.SpreadPercent()
	return models.IndicatorResult{
		Value:  spread,
		Signal: tagFromSign(spread),
		Score:  clampScore(spread / 0.5),
	}
}

// HTFTrend folds every factor base candles into one higher-timeframe close and
// reads the slope of an EMA over those closes; 0.2% per bar is one unit.
type HTFTrend struct {
	factor  int
	pending int
	ema     *EMA
	prev    float64
	slope   float64
	bars    int
}

func NewHTFTrend(factor, period int) *HTFTrend {
	return &HTFTrend{factor: factor, ema: NewEMA(period)}
}

func (h *HTFTrend) Update(c models.Candle) {
	h.pending++
	if h.pending < h.factor {
		return
	}
	h.pending = 0
	h.prev = h.ema.Value()
	cur := h.ema.Update(c.Close)
	h.bars++
	if h.ema.Ready() && h.bars > h.ema.period && h.prev != 0 {
		h.slope = (cur - h.prev) / h.prev * 100
	}
}

func (h *HTFTrend) Ready() bool { return h.bars > h.ema.period }

func (h *HTFTrend) Result() models.IndicatorResult {
	return models.IndicatorResult{
		Value:  h.slope,
		Signal: tagFromSign(h.slope),
		Score:  clampScore(h.slope / 0.2),
	}
}
