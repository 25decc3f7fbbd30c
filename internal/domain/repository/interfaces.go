package repository

import (
	"context"
	"time"

	"PerpGate/internal/domain/models"
)

// MarketStream delivers candle updates from a live market data source.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan models.Candle, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// IndicatorFeed computes named indicator results over a chronological candle history.
// Implementations own their rolling state across calls and return
// errs.ErrInsufficientData when the history is too short.
type IndicatorFeed interface {
	Compute(candles []models.Candle) (map[string]models.IndicatorResult, error)
}

// MicrostructureFeed is optional; a nil snapshot means no data.
type MicrostructureFeed interface {
	Snapshot(ctx context.Context, symbol string) (*models.Microstructure, error)
}

type Exchange interface {
	PlaceOrder(ctx context.Context, intent models.OrderIntent) (models.OrderResult, error)
	// GetPosition returns nil when the symbol has no open position.
	GetPosition(ctx context.Context, symbol string) (*models.Position, error)
	GetPositions(ctx context.Context) ([]models.Position, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	Balance(ctx context.Context) (models.Balance, error)
}

// IdempotencyStore snapshots the order-key cache. A no-op store is valid.
type IdempotencyStore interface {
	Load(ctx context.Context) (map[string]time.Time, error)
	Save(ctx context.Context, keys map[string]time.Time) error
}

type AuditLog interface {
	Log(ctx context.Context, ev models.AuditEvent) error
}

type OutcomeStore interface {
	Append(ctx context.Context, o models.Outcome) error
}

// CandleStore persists and serves candle history.
type CandleStore interface {
	StoreCandles(ctx context.Context, candles []models.Candle, tf Timeframe) error
	GetCandles(ctx context.Context, symbol string, from, to time.Time, tf Timeframe) ([]models.Candle, error)
	GetLatestNCandles(ctx context.Context, symbol string, n int, tf Timeframe) ([]models.Candle, error)
}

type Metrics interface {
	RecordDecision(symbol string, kind models.ActionKind)
	RecordBlock(reason string)
	RecordOrder(action models.ActionKind, result string)
	RecordDrawdown(percent float64)
	RecordCircuitBreaker(active bool)
	RecordFeatureDisabled(key string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}
