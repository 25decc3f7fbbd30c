package indicators

import "PerpGate/internal/domain/models"

// MACD tracks the fast/slow EMA spread and its signal line.
type MACD struct {
	fast, slow, signal *EMA
	close              float64
}

func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{fast: NewEMA(fast), slow: NewEMA(slow), signal: NewEMA(signal)}
}

func (m *MACD) Update(c models.Candle) {
	m.close = c.Close
	m.fast.Update(c.Close)
	m.slow.Update(c.Close)
	if m.slow.Ready() {
		m.signal.Update(m.fast.Value() - m.slow.Value())
	}
}

func (m *MACD) Ready() bool { return m.signal.Ready() }

// Histogram is the MACD line minus its signal line.
func (m *MACD) Histogram() float64 {
	return m.fast.Value() - m.slow.Value() - m.signal.Value()
}

// Result scores the histogram as a percentage of price; 0.1% of price is one unit.
func (m *MACD) Result() models.IndicatorResult {
	hist := m.Histogram()
	pct := 0.0
	if m.close > 0 {
		pct = hist / m.close * 100
	}
	return models.IndicatorResult{
		Value:  hist,
		Signal: tagFromSign(hist),
		Score:  clampScore(pct / 0.1),
	}
}
