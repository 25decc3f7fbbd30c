package metrics

import (
	"PerpGate/internal/domain/models"
	"PerpGate/internal/domain/repository"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	decisions       *prometheus.CounterVec
	blocks          *prometheus.CounterVec
	orders          *prometheus.CounterVec
	drawdown        prometheus.Gauge
	circuitBreaker  prometheus.Gauge
	featureDisabled *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	lastPrice       *prometheus.GaugeVec
	latency         *prometheus.HistogramVec
}

// New creates a recorder on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the recorder's collectors on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perpgate_decisions_total",
				Help: "Decisions by symbol and action kind",
			},
			[]string{"symbol", "kind"},
		),
		blocks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perpgate_gate_blocks_total",
				Help: "Entry gate blocks by reason",
			},
			[]string{"reason"},
		),
		orders: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perpgate_orders_total",
				Help: "Exchange orders by originating action and result",
			},
			[]string{"action", "result"},
		),
		drawdown: f.NewGauge(prometheus.GaugeOpts{
			Name: "perpgate_drawdown_percent",
			Help: "Drawdown from peak equity in percent",
		}),
		circuitBreaker: f.NewGauge(prometheus.GaugeOpts{
			Name: "perpgate_circuit_breaker_active",
			Help: "1 while the circuit breaker is tripped",
		}),
		featureDisabled: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perpgate_feature_disabled_total",
				Help: "Feature key kill-switch activations",
			},
			[]string{"feature_key"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perpgate_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "perpgate_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "perpgate_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordDecision(symbol string, kind models.ActionKind) {
	r.decisions.WithLabelValues(symbol, string(kind)).Inc()
}

func (r *Recorder) RecordBlock(reason string) {
	r.blocks.WithLabelValues(reason).Inc()
}

func (r *Recorder) RecordOrder(action models.ActionKind, result string) {
	r.orders.WithLabelValues(string(action), result).Inc()
}

func (r *Recorder) RecordDrawdown(percent float64) {
	r.drawdown.Set(percent)
}

func (r *Recorder) RecordCircuitBreaker(active bool) {
	v := 0.0
	if active {
		v = 1
	}
	r.circuitBreaker.Set(v)
}

func (r *Recorder) RecordFeatureDisabled(key string) {
	r.featureDisabled.WithLabelValues(key).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

var _ repository.Metrics = (*Recorder)(nil)
