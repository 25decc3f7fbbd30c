package kafka

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	producedTotal   *prometheus.CounterVec
	producedBytes   *prometheus.CounterVec
	produceLatency  *prometheus.HistogramVec
	consumedTotal   *prometheus.CounterVec
	consumerDepth   *prometheus.GaugeVec
	consumerLatency *prometheus.HistogramVec

	metricsOnce sync.Once
	registerer  prometheus.Registerer = prometheus.DefaultRegisterer
)

// SetMetricsRegisterer overrides the registerer. Call before the first producer
// or consumer is built.
func SetMetricsRegisterer(reg prometheus.Registerer) { registerer = reg }

func initMetrics() {
	metricsOnce.Do(func() {
		f := promauto.With(registerer)
		producedTotal = f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perpgate", Subsystem: "kafka",
			Name: "produced_total", Help: "Messages published by topic and result",
		}, []string{"topic", "compression", "result"})
		producedBytes = f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perpgate", Subsystem: "kafka",
			Name: "produced_bytes_total", Help: "Payload bytes published",
		}, []string{"topic"})
		produceLatency = f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "perpgate", Subsystem: "kafka",
			Name: "publish_seconds", Help: "Publish latency", Buckets: prometheus.DefBuckets,
		}, []string{"topic"})
		consumedTotal = f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perpgate", Subsystem: "kafka",
			Name: "consumed_total", Help: "Messages handled by topic and result",
		}, []string{"topic", "result"})
		consumerDepth = f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "perpgate", Subsystem: "kafka",
			Name: "consumer_queue_depth", Help: "Messages waiting for a worker",
		}, []string{"topic"})
		consumerLatency = f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "perpgate", Subsystem: "kafka",
			Name: "handle_seconds", Help: "Handling time per message including retries",
		}, []string{"topic"})
	})
}

func observeProduce(topic, comp string, bytes int, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	producedTotal.WithLabelValues(topic, comp, result).Inc()
	producedBytes.WithLabelValues(topic).Add(float64(bytes))
	produceLatency.WithLabelValues(topic).Observe(took.Seconds())
}

func observeConsume(topic, result string, took time.Duration) {
	consumedTotal.WithLabelValues(topic, result).Inc()
	consumerLatency.WithLabelValues(topic).Observe(took.Seconds())
}
