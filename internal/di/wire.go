//go:build wireinject
// +build wireinject

package di

import (
	"PerpGate/pkg/config"
	"PerpGate/pkg/server"

	"github.com/google/wire"
)

// InfraSet holds the optional backends. Each provider yields nil when disabled.
var InfraSet = wire.NewSet(
	ProvideKafkaProducer,
	ProvideLogger,
	ProvideMetrics,
	ProvideClickHouseClient,
	ProvideRedisCache,
)

// RepositorySet adapts the backends to the domain ports.
var RepositorySet = wire.NewSet(
	ProvideCandleStore,
	ProvideOutcomeStore,
	ProvideAuditLog,
	ProvideAuditSink,
	ProvideKafkaConsumer,
	ProvideIdempotencyStore,
	ProvideExchange,
	ProvidePriceMarker,
	ProvideMarketStream,
	ProvideMicrostructureFeed,
)

// TradingSet is the signal, risk and execution pipeline.
var TradingSet = wire.NewSet(
	ProvideCandleBuffer,
	ProvideMarketCollector,
	ProvideIndicators,
	ProvideRegimeDetector,
	ProvideSignalGenerator,
	ProvideRiskController,
	ProvideDayManager,
	ProvideLifecycleStore,
	ProvideFeatureTracker,
	ProvideIdempotencyCache,
	ProvideEngine,
	ProvideDispatcher,
	ProvideEvaluator,
	ProvideScanner,
	ProvideCandlesUseCase,
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		InfraSet,
		RepositorySet,
		TradingSet,
		ProvideOperatorHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
