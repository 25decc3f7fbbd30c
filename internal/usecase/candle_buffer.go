package usecase

import (
	"sync"

	"PerpGate/internal/domain/models"
)

// CandleBuffer keeps the most recent closed candles per symbol, oldest first.
type CandleBuffer struct {
	capacity int

	mu     sync.RWMutex
	series map[string][]models.Candle
	closed map[string]int
}

func NewCandleBuffer(capacity int) *CandleBuffer {
	if capacity < 1 {
		capacity = 500
	}
	return &CandleBuffer{
		capacity: capacity,
		series:   make(map[string][]models.Candle),
		closed:   make(map[string]int),
	}
}

// Append stores a closed candle. A candle for the newest bucket replaces it;
// older buckets are ignored. It reports whether a new bucket was added.
func (b *CandleBuffer) Append(c models.Candle) bool {
	if c.Symbol == "" || !c.Closed {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.series[c.Symbol]
	if n := len(s); n > 0 {
		last := s[n-1].Bucket
		switch {
		case c.Bucket.Equal(last):
			s[n-1] = c
			return false
		case c.Bucket.Before(last):
			return false
		}
	}
	s = append(s, c)
	if over := len(s) - b.capacity; over > 0 {
		s = append(s[:0:0], s[over:]...)
	}
	b.series[c.Symbol] = s
	b.closed[c.Symbol]++
	return true
}

// Seed appends history in order, typically from the candle store at startup.
func (b *CandleBuffer) Seed(candles []models.Candle) int {
	n := 0
	for _, c := range candles {
		c.Closed = true
		if b.Append(c) {
			n++
		}
	}
	return n
}

// Candles returns a copy of the symbol's series.
func (b *CandleBuffer) Candles(symbol string) []models.Candle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]models.Candle(nil), b.series[symbol]...)
}

func (b *CandleBuffer) Last(symbol string) (models.Candle, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := b.series[symbol]
	if len(s) == 0 {
		return models.Candle{}, false
	}
	return s[len(s)-1], true
}

// Index is the number of closed candles seen for symbol. It only grows, so it
// serves as the candle index for trigger windows.
func (b *CandleBuffer) Index(symbol string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed[symbol]
}
