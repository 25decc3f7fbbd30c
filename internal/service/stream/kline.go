package stream

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"PerpGate/internal/domain/models"
	"PerpGate/internal/domain/repository"
)

// granularity maps a timeframe to the venue's kline topic suffix.
func granularity(tf repository.Timeframe) string {
	switch tf {
	case repository.TF5m:
		return "5min"
	case repository.TF15m:
		return "15min"
	case repository.TF1h:
		return "1hour"
	default:
		return "1min"
	}
}

func topic(symbol string, tf repository.Timeframe) string {
	return fmt.Sprintf("/contractMarket/limitCandle:%s_%s", symbol, granularity(tf))
}

type wsMessage struct {
	ID      string     `json:"id,omitempty"`
	Type    string     `json:"type"`
	Topic   string     `json:"topic,omitempty"`
	Subject string     `json:"subject,omitempty"`
	Data    *klineData `json:"data,omitempty"`
}

type klineData struct {
	Symbol  string   `json:"symbol"`
	Candles []string `json:"candles"` // start(s), open, close, high, low, volume, turnover
	Time    int64    `json:"time"`
}

func parseKline(d *klineData) (models.Candle, error) {
	if d == nil || len(d.Candles) < 6 {
		return models.Candle{}, fmt.Errorf("kline: short payload")
	}
	start, err := strconv.ParseInt(d.Candles[0], 10, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("kline start: %w", err)
	}
	var v [5]float64
	for i := range v {
		if v[i], err = strconv.ParseFloat(d.Candles[i+1], 64); err != nil {
			return models.Candle{}, fmt.Errorf("kline field %d: %w", i+1, err)
		}
	}
	return models.Candle{
		Bucket: time.Unix(start, 0).UTC(),
		Symbol: strings.ToUpper(d.Symbol),
		Open:   v[0],
		Close:  v[1],
		High:   v[2],
		Low:    v[3],
		Volume: v[4],
	}, nil
}

// assembler turns a stream of in-progress kline updates into updates plus a
// closed candle whenever a symbol's bucket advances.
type assembler struct {
	current map[string]models.Candle
}

func newAssembler() *assembler {
	return &assembler{current: make(map[string]models.Candle)}
}

func (a *assembler) push(c models.Candle) []models.Candle {
	prev, ok := a.current[c.Symbol]
	if ok && c.Bucket.Before(prev.Bucket) {
		return nil
	}
	a.current[c.Symbol] = c
	if ok && c.Bucket.After(prev.Bucket) {
		prev.Closed = true
		return []models.Candle{prev, c}
	}
	return []models.Candle{c}
}
