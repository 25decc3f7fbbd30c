package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PerpGate/internal/services/execution"
	"PerpGate/internal/usecase"
	"PerpGate/pkg/cache"
	pkgch "PerpGate/pkg/clickhouse"
	"PerpGate/pkg/config"
	xhttp "PerpGate/pkg/http"
	pkgkafka "PerpGate/pkg/kafka"
	applogger "PerpGate/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	collector  *usecase.MarketCollector
	scanner    *usecase.Scanner
	dispatcher *execution.Dispatcher
	consumer   *pkgkafka.Consumer
	producer   *pkgkafka.Producer
	chClient   *pkgch.Client
	redis      *cache.RedisCache
	handler    xhttp.Handler
	httpServer *xhttp.Server
}

// New creates a new App. consumer, producer, chClient and redis are nil when
// their backend is disabled.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	collector *usecase.MarketCollector,
	scanner *usecase.Scanner,
	dispatcher *execution.Dispatcher,
	consumer *pkgkafka.Consumer,
	producer *pkgkafka.Producer,
	chClient *pkgch.Client,
	redis *cache.RedisCache,
	handler xhttp.Handler,
) *App {
	return &App{
		cfg:        cfg,
		l:          l,
		collector:  collector,
		scanner:    scanner,
		dispatcher: dispatcher,
		consumer:   consumer,
		producer:   producer,
		chClient:   chClient,
		redis:      redis,
		handler:    handler,
	}
}

// Run starts every component and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.l.Info("starting perpgate",
		applogger.String("mode", a.cfg.Execution.Mode),
		applogger.Any("symbols", a.cfg.Symbols),
	)

	warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := a.collector.Warmup(warmCtx, a.cfg.Symbols, a.cfg.Scanner.WarmupCandles); err != nil {
		a.l.Warn("candle warmup incomplete", applogger.Error(err))
	}
	cancel()

	if err := a.collector.Start(ctx); err != nil {
		a.l.Error("market collector start error", applogger.Error(err))
		return err
	}

	if a.consumer != nil {
		if err := a.consumer.Start(); err != nil {
			a.l.Error("kafka consumer start error", applogger.Error(err))
			return err
		}
		a.l.Info("audit consumer started", applogger.String("topic", a.cfg.Kafka.AuditTopic))
	}

	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithHost(a.cfg.Server.Host),
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithSlowRequest(a.cfg.Server.SlowRequest),
		xhttp.WithCORS(a.cfg.Server.CORSOrigins...),
		xhttp.WithLogger(a.l),
	)
	if err := a.httpServer.Start(); err != nil {
		a.l.Error("http server start error", applogger.Error(err))
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.scanner.Run(ctx)
	}()

	<-ctx.Done()
	a.l.Info("shutdown signal received")
	<-done
	return a.shutdown()
}

// shutdown stops intake first, then persists state, then closes clients.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Stop(ctx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
	}
	if err := a.collector.Shutdown(ctx); err != nil {
		a.l.Warn("market collector stop error", applogger.Error(err))
	}

	a.dispatcher.Flush(ctx)

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	// Flush buffered log batches while the producer can still publish them.
	a.l.RemoveCollector()

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.l.Warn("kafka producer close error", applogger.Error(err))
		}
	}
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.l.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.l.Warn("redis close error", applogger.Error(err))
		}
	}

	a.l.Info("shutdown complete")
	return nil
}
