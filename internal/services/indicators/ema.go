package indicators

// EMA is an exponential moving average seeded with the simple average of its first period values.
type EMA struct {
	period int
	k      float64
	value  float64
	count  int
}

func NewEMA(period int) *EMA {
	if period < 1 {
		period = 1
	}
	return &EMA{period: period, k: 2 / float64(period+1)}
}

func (e *EMA) Update(v float64) float64 {
	e.count++
	if e.count <= e.period {
		e.value += (v - e.value) / float64(e.count)
		return e.value
	}
	e.value += e.k * (v - e.value)
	return e.value
}

func (e *EMA) Value() float64 { return e.value }
func (e *EMA) Ready() bool    { return e.count >= e.period }
