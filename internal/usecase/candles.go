package usecase

import (
	"context"
	"time"

	"PerpGate/internal/domain/errs"
	"PerpGate/internal/domain/models"
	domrepo "PerpGate/internal/domain/repository"
)

// CandlesUseCase serves candle history, from the store when one is configured
// and from the live buffer otherwise.
type CandlesUseCase struct {
	store  domrepo.CandleStore
	buffer *CandleBuffer
}

func NewCandlesUseCase(store domrepo.CandleStore, buffer *CandleBuffer) *CandlesUseCase {
	return &CandlesUseCase{store: store, buffer: buffer}
}

type GetCandlesParams struct {
	Symbol    string
	From      time.Time
	To        time.Time
	Timeframe domrepo.Timeframe
	Limit     int
}

type GetCandlesResult struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	From      time.Time       `json:"from"`
	To        time.Time       `json:"to"`
	Count     int             `json:"count"`
	Source    string          `json:"source"`
	Candles   []models.Candle `json:"candles"`
}

func (uc *CandlesUseCase) GetCandles(ctx context.Context, p GetCandlesParams) (*GetCandlesResult, error) {
	if p.Symbol == "" {
		return nil, errs.Validation("symbol required")
	}
	if p.From.After(p.To) {
		return nil, errs.Validation("from must be <= to")
	}
	if p.Limit <= 0 {
		p.Limit = 10000
	}
	if p.Limit > 50000 {
		p.Limit = 50000
	}

	var candles []models.Candle
	source := "buffer"
	if uc.store != nil {
		cs, err := uc.store.GetCandles(ctx, p.Symbol, p.From, p.To, p.Timeframe)
		if err != nil {
			return nil, errs.External("get candles", err)
		}
		candles, source = cs, "clickhouse"
	} else if uc.buffer != nil {
		for _, c := range uc.buffer.Candles(p.Symbol) {
			if !c.Bucket.Before(p.From) && !c.Bucket.After(p.To) {
				candles = append(candles, c)
			}
		}
	}
	if len(candles) > p.Limit {
		candles = candles[:p.Limit]
	}

	return &GetCandlesResult{
		Symbol:    p.Symbol,
		Timeframe: string(p.Timeframe),
		From:      p.From,
		To:        p.To,
		Count:     len(candles),
		Source:    source,
		Candles:   candles,
	}, nil
}
