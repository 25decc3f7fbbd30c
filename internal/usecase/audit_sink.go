package usecase

import (
	"context"
	"encoding/json"
	"time"

	"PerpGate/internal/domain/models"
	domrepo "PerpGate/internal/domain/repository"
	pkgkafka "PerpGate/pkg/kafka"
)

// AuditSinkHandler consumes audit events from Kafka and writes them to durable storage.
type AuditSinkHandler struct {
	topic   string
	sink    domrepo.AuditLog
	metrics domrepo.Metrics
}

func NewAuditSinkHandler(topic string, sink domrepo.AuditLog, metrics domrepo.Metrics) *AuditSinkHandler {
	return &AuditSinkHandler{topic: topic, sink: sink, metrics: metrics}
}

func (h *AuditSinkHandler) Topic() string { return h.topic }

func (h *AuditSinkHandler) Handle(ctx context.Context, b []byte) error {
	var ev models.AuditEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		h.recordError("audit_unmarshal")
		return err
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	// producer to sink delay
	h.recordLatency("audit_e2e", time.Since(ev.Timestamp).Seconds())

	start := time.Now()
	err := h.sink.Log(ctx, ev)
	h.recordLatency("audit_insert", time.Since(start).Seconds())
	if err != nil {
		h.recordError("audit_store")
		return err
	}
	return nil
}

func (h *AuditSinkHandler) recordError(kind string) {
	if h.metrics != nil {
		h.metrics.RecordError(kind)
	}
}

func (h *AuditSinkHandler) recordLatency(op string, seconds float64) {
	if h.metrics != nil {
		h.metrics.RecordLatency(op, seconds)
	}
}

var _ pkgkafka.MessageHandler = (*AuditSinkHandler)(nil)
