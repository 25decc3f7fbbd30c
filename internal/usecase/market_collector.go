package usecase

import (
	"context"
	"errors"

	"PerpGate/internal/domain/models"
	drepo "PerpGate/internal/domain/repository"
	applogger "PerpGate/pkg/logger"
)

// PriceMarker receives every candle close, e.g. the paper exchange.
type PriceMarker interface {
	Mark(symbol string, price float64)
}

// MarketCollector pumps the market stream into the candle buffer.
type MarketCollector struct {
	stream  drepo.MarketStream
	buffer  *CandleBuffer
	store   drepo.CandleStore
	tf      drepo.Timeframe
	marker  PriceMarker
	metrics drepo.Metrics
	l       *applogger.Logger
}

// NewMarketCollector creates a collector. store and marker may be nil.
func NewMarketCollector(
	stream drepo.MarketStream,
	buffer *CandleBuffer,
	store drepo.CandleStore,
	tf drepo.Timeframe,
	marker PriceMarker,
	metrics drepo.Metrics,
	l *applogger.Logger,
) *MarketCollector {
	if l == nil {
		l = applogger.Nop()
	}
	return &MarketCollector{stream: stream, buffer: buffer, store: store, tf: tf, marker: marker, metrics: metrics, l: l}
}

// IsConnected returns true if the market stream is connected.
func (c *MarketCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

// Warmup seeds the buffer with the latest n stored candles of each symbol.
func (c *MarketCollector) Warmup(ctx context.Context, symbols []string, n int) error {
	if c.store == nil || n <= 0 {
		return nil
	}
	var errs []error
	for _, s := range symbols {
		cs, err := c.store.GetLatestNCandles(ctx, s, n, c.tf)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		added := c.buffer.Seed(cs)
		if len(cs) > 0 {
			c.mark(cs[len(cs)-1])
		}
		c.l.Info("candle buffer warmed", applogger.String("symbol", s), applogger.Int("candles", added))
	}
	return errors.Join(errs...)
}

func (c *MarketCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	go c.run(ctx)
	return nil
}

// run reads until the stream fails, then reconnects and reads again.
func (c *MarketCollector) run(ctx context.Context) {
	for {
		candles, errCh := c.stream.Read(ctx)
		err := c.consume(ctx, candles, errCh)
		if ctx.Err() != nil {
			return
		}
		c.recordError("stream")
		c.l.Warn("market stream interrupted", applogger.Error(err))
		if err := c.stream.Reconnect(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.l.Error("market stream reconnect failed", applogger.Error(err))
		}
	}
}

func (c *MarketCollector) consume(ctx context.Context, candles <-chan models.Candle, errCh <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errCh:
			if ok && err != nil {
				return err
			}
			if !ok {
				errCh = nil
			}
		case cd, ok := <-candles:
			if !ok {
				if errCh != nil {
					if err := <-errCh; err != nil {
						return err
					}
				}
				return errors.New("market stream closed")
			}
			c.Ingest(ctx, cd)
		}
	}
}

// Ingest handles one candle update from the stream.
func (c *MarketCollector) Ingest(ctx context.Context, cd models.Candle) {
	c.mark(cd)
	if !cd.Closed || !c.buffer.Append(cd) {
		return
	}
	if c.store == nil {
		return
	}
	if err := c.store.StoreCandles(ctx, []models.Candle{cd}, c.tf); err != nil {
		c.recordError("candle_store")
		c.l.Warn("candle persist failed", applogger.String("symbol", cd.Symbol), applogger.Error(err))
	}
}

func (c *MarketCollector) mark(cd models.Candle) {
	if cd.Close <= 0 {
		return
	}
	if c.marker != nil {
		c.marker.Mark(cd.Symbol, cd.Close)
	}
	if c.metrics != nil {
		c.metrics.RecordLastPrice(cd.Symbol, cd.Close)
	}
}

func (c *MarketCollector) recordError(kind string) {
	if c.metrics != nil {
		c.metrics.RecordError(kind)
	}
}

// Shutdown closes the stream.
func (c *MarketCollector) Shutdown(ctx context.Context) error {
	return c.stream.Close()
}
