package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"PerpGate/internal/domain/models"
	domrepo "PerpGate/internal/domain/repository"
	pkgkafka "PerpGate/pkg/kafka"
	applogger "PerpGate/pkg/logger"
)

// Publisher is the slice of the Kafka producer the audit log needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// KafkaAuditLog publishes audit events keyed by symbol so one symbol's events stay ordered.
type KafkaAuditLog struct {
	producer Publisher
	topic    string
}

func NewKafkaAuditLog(producer Publisher, topic string) *KafkaAuditLog {
	return &KafkaAuditLog{producer: producer, topic: topic}
}

func (a *KafkaAuditLog) Log(ctx context.Context, ev models.AuditEvent) error {
	key := ev.Symbol
	if key == "" {
		key = ev.Component
	}
	ctx = pkgkafka.WithCorrelationID(ctx, ev.CorrelationID)
	if err := a.producer.Publish(ctx, a.topic, []byte(key), ev); err != nil {
		return fmt.Errorf("publish audit %s: %w", ev.EventType, err)
	}
	return nil
}

// ClickHouseAuditStore inserts audit events straight into ClickHouse.
type ClickHouseAuditStore struct {
	db    *sql.DB
	table string
}

func NewClickHouseAuditStore(db *sql.DB, table string) *ClickHouseAuditStore {
	return &ClickHouseAuditStore{db: db, table: table}
}

func (s *ClickHouseAuditStore) Log(ctx context.Context, ev models.AuditEvent) error {
	payload := "{}"
	if len(ev.Payload) > 0 {
		b, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("encode audit payload: %w", err)
		}
		payload = string(b)
	}
	q := fmt.Sprintf("INSERT INTO %s (ts, event_type, correlation_id, component, severity, symbol, payload) VALUES (?, ?, ?, ?, ?, ?, ?)", s.table)
	if _, err := s.db.ExecContext(ctx, q,
		ev.Timestamp,
		ev.EventType,
		ev.CorrelationID,
		ev.Component,
		string(ev.Severity),
		ev.Symbol,
		payload,
	); err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// SafeAuditLog never fails its caller: inner errors are logged and dropped.
type SafeAuditLog struct {
	inner domrepo.AuditLog
	l     *applogger.Logger
}

func NewSafeAuditLog(inner domrepo.AuditLog, l *applogger.Logger) *SafeAuditLog {
	if l == nil {
		l = applogger.Nop()
	}
	return &SafeAuditLog{inner: inner, l: l}
}

func (a *SafeAuditLog) Log(ctx context.Context, ev models.AuditEvent) error {
	if a.inner == nil {
		return nil
	}
	if err := a.inner.Log(ctx, ev); err != nil {
		a.l.Warn("audit log write failed",
			applogger.String("event_type", ev.EventType),
			applogger.String("correlation_id", ev.CorrelationID),
			applogger.String("symbol", ev.Symbol),
			applogger.Error(err),
		)
	}
	return nil
}

// MultiAuditLog fans an event out to every sink and joins their errors.
type MultiAuditLog []domrepo.AuditLog

func (m MultiAuditLog) Log(ctx context.Context, ev models.AuditEvent) error {
	var errs []error
	for _, a := range m {
		if err := a.Log(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ domrepo.AuditLog = (*KafkaAuditLog)(nil)
	_ domrepo.AuditLog = (*ClickHouseAuditStore)(nil)
	_ domrepo.AuditLog = (*SafeAuditLog)(nil)
	_ domrepo.AuditLog = MultiAuditLog(nil)
)
