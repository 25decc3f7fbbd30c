package di

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"PerpGate/internal/domain/repository"
	domsvc "PerpGate/internal/domain/service"
	"PerpGate/internal/handler/api"
	internalrepo "PerpGate/internal/repository"
	"PerpGate/internal/service/exchange"
	"PerpGate/internal/service/stream"
	"PerpGate/internal/services/analytics"
	"PerpGate/internal/services/execution"
	"PerpGate/internal/services/features"
	"PerpGate/internal/services/indicators"
	"PerpGate/internal/services/risk"
	"PerpGate/internal/services/signal"
	"PerpGate/internal/usecase"
	"PerpGate/pkg/cache"
	pkgch "PerpGate/pkg/clickhouse"
	"PerpGate/pkg/config"
	xhttp "PerpGate/pkg/http"
	pkgkafka "PerpGate/pkg/kafka"
	applogger "PerpGate/pkg/logger"
	"PerpGate/pkg/metrics"
	"PerpGate/pkg/server"
)

const idempotencyKey = "idempotency:snapshot"

// ProvideKafkaProducer creates the Kafka producer, or nil when Kafka is disabled.
// It logs through its own logger so publish failures never feed the log collector.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	l, err := applogger.New(cfg.LoggerConfig())
	if err != nil {
		return nil, fmt.Errorf("producer logger: %w", err)
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithProducerLogger(l.With(applogger.String("component", "kafka_producer"))),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogger builds the application logger and, when enabled, attaches the
// collector that ships aggregated warnings and errors to Kafka.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(cfg.LoggerConfig())
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Logging.Collector.Enabled && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Logging.Collector.Interval,
			CountThreshold: cfg.Logging.Collector.Threshold,
			Topic:          cfg.Logging.Collector.Topic,
			Service:        "perpgate",
			Publisher:      producer,
		})
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient connects and applies the schema, or returns nil when disabled.
func ProvideClickHouseClient(cfg *config.Config, l *applogger.Logger) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(l,
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.SchemaStatements(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideRedisCache connects to Redis, or returns nil when disabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideCandleStore returns the ClickHouse candle store, or nil without ClickHouse.
func ProvideCandleStore(ch *pkgch.Client, l *applogger.Logger) repository.CandleStore {
	if ch == nil {
		return nil
	}
	s := internalrepo.NewCHCandleStore(ch.DB(), ch.Database())
	s.SetLogger(l)
	return s
}

// ProvideOutcomeStore returns the ClickHouse outcome store, or nil without ClickHouse.
func ProvideOutcomeStore(ch *pkgch.Client) repository.OutcomeStore {
	if ch == nil {
		return nil
	}
	return internalrepo.NewCHOutcomeStore(ch.DB(), ch.Database()+".outcomes")
}

// ProvideAuditLog publishes to Kafka when enabled, else writes straight to
// ClickHouse. Either way a failing sink never fails the caller.
func ProvideAuditLog(cfg *config.Config, producer *pkgkafka.Producer, ch *pkgch.Client, l *applogger.Logger) repository.AuditLog {
	var inner repository.AuditLog
	switch {
	case producer != nil:
		inner = internalrepo.NewKafkaAuditLog(producer, cfg.Kafka.AuditTopic)
	case ch != nil:
		inner = internalrepo.NewClickHouseAuditStore(ch.DB(), ch.Database()+".audit_events")
	}
	return internalrepo.NewSafeAuditLog(inner, l)
}

// ProvideAuditSink drains the audit topic into ClickHouse. Nil unless both are enabled.
func ProvideAuditSink(cfg *config.Config, producer *pkgkafka.Producer, ch *pkgch.Client, m repository.Metrics) *usecase.AuditSinkHandler {
	if producer == nil || ch == nil {
		return nil
	}
	store := internalrepo.NewClickHouseAuditStore(ch.DB(), ch.Database()+".audit_events")
	return usecase.NewAuditSinkHandler(cfg.Kafka.AuditTopic, store, m)
}

// ProvideKafkaConsumer creates the audit consumer, or nil without a sink.
func ProvideKafkaConsumer(cfg *config.Config, sink *usecase.AuditSinkHandler, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if sink == nil {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.RegisterHandler(sink)
	consumer.WithHook(pkgkafka.CorrelationHook{L: l})
	return consumer, nil
}

// ProvideIdempotencyStore keeps order keys in Redis when available, else in a
// snapshot file under the state directory.
func ProvideIdempotencyStore(cfg *config.Config, rc *cache.RedisCache) repository.IdempotencyStore {
	if rc != nil {
		return internalrepo.NewCacheIdempotencyStore(rc, idempotencyKey, 2*cfg.Execution.DedupWindow)
	}
	return internalrepo.NewFileIdempotencyStore(filepath.Join(cfg.State.Dir, "idempotency.json"))
}

// ProvideExchange returns the paper venue or the signed live client per trading mode.
func ProvideExchange(cfg *config.Config, l *applogger.Logger, m repository.Metrics) (repository.Exchange, error) {
	if !cfg.Live() {
		return exchange.NewPaper(cfg.Exchange.PaperBalance, exchange.WithPaperLogger(l)), nil
	}
	c, err := exchange.NewLiveClient(cfg.Exchange, l)
	if err != nil {
		return nil, fmt.Errorf("exchange: %w", err)
	}
	c.SetMetrics(m)
	l.Warn("live trading enabled",
		applogger.String("base_url", cfg.Exchange.BaseURL),
		applogger.Secret("api_key", cfg.Exchange.APIKey),
	)
	return c, nil
}

// ProvidePriceMarker lets the paper venue follow closed candles. Nil in live mode.
func ProvidePriceMarker(ex repository.Exchange) usecase.PriceMarker {
	if p, ok := ex.(*exchange.Paper); ok {
		return p
	}
	return nil
}

func ProvideMarketStream(cfg *config.Config, l *applogger.Logger) repository.MarketStream {
	return stream.New(cfg.Stream, cfg.Symbols, l)
}

func ProvideCandleBuffer(cfg *config.Config) *usecase.CandleBuffer {
	return usecase.NewCandleBuffer(cfg.Scanner.BufferSize)
}

func ProvideMarketCollector(
	cfg *config.Config,
	ms repository.MarketStream,
	buffer *usecase.CandleBuffer,
	store repository.CandleStore,
	marker usecase.PriceMarker,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.MarketCollector {
	return usecase.NewMarketCollector(ms, buffer, store, cfg.Stream.Timeframe, marker, m, l.With(applogger.String("component", "collector")))
}

// ProvideMicrostructureFeed caches venue snapshots in memory, backed by Redis
// when available. Nil when the feed is disabled.
func ProvideMicrostructureFeed(cfg *config.Config, rc *cache.RedisCache, l *applogger.Logger) repository.MicrostructureFeed {
	if !cfg.Microstructure.Enabled {
		return nil
	}
	var c cache.Service = cache.NewMemoryCache(cache.WithMemoryMaxSize(4 * len(cfg.Symbols)))
	if rc != nil {
		c = cache.NewLayeredCache(c, rc, cfg.Microstructure.CacheTTL)
	}
	return analytics.NewMicrostructureClient(cfg.Microstructure, c, l.With(applogger.String("component", "microstructure")))
}

func ProvideIndicators(cfg *config.Config) usecase.IndicatorSource {
	return indicators.NewFeedSet(cfg.Indicators)
}

func ProvideRegimeDetector(cfg *config.Config) (domsvc.RegimeDetector, error) {
	d, err := features.NewDetector(cfg.Regime)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func ProvideSignalGenerator(cfg *config.Config) (*signal.Generator, error) {
	return signal.NewGenerator(cfg.Signal)
}

func ProvideRiskController(cfg *config.Config, l *applogger.Logger, m repository.Metrics) (*risk.Controller, error) {
	ctl, err := risk.NewController(cfg.Risk)
	if err != nil {
		return nil, err
	}
	ctl.SetLogger(l.With(applogger.String("component", "risk")))
	ctl.SetMetrics(m)
	return ctl, nil
}

func ProvideDayManager(cfg *config.Config, ctl *risk.Controller, l *applogger.Logger) *risk.DayManager {
	return risk.NewDayManager(ctl, cfg.Risk.Timezone, l)
}

func ProvideLifecycleStore() *execution.LifecycleStore {
	return execution.NewLifecycleStore()
}

func ProvideFeatureTracker(cfg *config.Config, l *applogger.Logger, m repository.Metrics) *execution.FeatureTracker {
	ft := execution.NewFeatureTracker(cfg.Execution.Features)
	ft.SetLogger(l)
	ft.SetMetrics(m)
	return ft
}

func ProvideIdempotencyCache(cfg *config.Config, store repository.IdempotencyStore, l *applogger.Logger) *execution.IdempotencyCache {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return execution.NewIdempotencyCache(ctx, cfg.Execution.DedupWindow, store, l)
}

func ProvideEngine(
	cfg *config.Config,
	ctl *risk.Controller,
	lifecycles *execution.LifecycleStore,
	ft *execution.FeatureTracker,
	idem *execution.IdempotencyCache,
) (*execution.Engine, error) {
	return execution.NewEngine(cfg.Execution, ctl, lifecycles, ft, idem)
}

func ProvideDispatcher(
	cfg *config.Config,
	ex repository.Exchange,
	ctl *risk.Controller,
	lifecycles *execution.LifecycleStore,
	ft *execution.FeatureTracker,
	idem *execution.IdempotencyCache,
	audit repository.AuditLog,
	outcomes repository.OutcomeStore,
	m repository.Metrics,
	l *applogger.Logger,
) *execution.Dispatcher {
	opts := []execution.DispatcherOption{
		execution.WithAudit(audit),
		execution.WithMetrics(m),
		execution.WithLogger(l.With(applogger.String("component", "dispatcher"))),
	}
	if outcomes != nil {
		opts = append(opts, execution.WithOutcomeStore(outcomes))
	}
	return execution.NewDispatcher(cfg.Execution, ex, ctl, lifecycles, ft, idem, nil, opts...)
}

func ProvideEvaluator(
	buffer *usecase.CandleBuffer,
	ind usecase.IndicatorSource,
	regime domsvc.RegimeDetector,
	micro repository.MicrostructureFeed,
	gen *signal.Generator,
	ctl *risk.Controller,
	engine *execution.Engine,
	dispatcher *execution.Dispatcher,
	ex repository.Exchange,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.Evaluator {
	return usecase.NewEvaluator(buffer, ind, regime, micro, gen, ctl, engine, dispatcher, ex, m, l)
}

// ProvideScanner claims each cycle through Redis when several replicas share it.
func ProvideScanner(cfg *config.Config, eval *usecase.Evaluator, days *risk.DayManager, rc *cache.RedisCache, l *applogger.Logger) *usecase.Scanner {
	s := usecase.NewScanner(eval, days, cfg.Symbols, cfg.Scanner.Interval, l.With(applogger.String("component", "scanner")))
	if rc != nil {
		s.SetLocker(rc)
	}
	return s
}

func ProvideCandlesUseCase(store repository.CandleStore, buffer *usecase.CandleBuffer) *usecase.CandlesUseCase {
	return usecase.NewCandlesUseCase(store, buffer)
}

func ProvideOperatorHandler(
	cfg *config.Config,
	l *applogger.Logger,
	eval *usecase.Evaluator,
	ctl *risk.Controller,
	lifecycles *execution.LifecycleStore,
	ft *execution.FeatureTracker,
	candles *usecase.CandlesUseCase,
) xhttp.Handler {
	return api.NewOperatorHandler(l, eval, ctl, lifecycles, ft, candles, cfg.Execution.Mode, cfg.Symbols)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	collector *usecase.MarketCollector,
	scanner *usecase.Scanner,
	dispatcher *execution.Dispatcher,
	consumer *pkgkafka.Consumer,
	producer *pkgkafka.Producer,
	ch *pkgch.Client,
	rc *cache.RedisCache,
	handler xhttp.Handler,
) *server.App {
	return server.New(cfg, l, collector, scanner, dispatcher, consumer, producer, ch, rc, handler)
}
