package models

import "time"

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// AuditEvent is an append-only observability record.
type AuditEvent struct {
	Timestamp     time.Time              `json:"timestamp"`
	EventType     string                 `json:"event_type"`
	CorrelationID string                 `json:"correlation_id"`
	Component     string                 `json:"component"`
	Severity      Severity               `json:"severity"`
	Symbol        string                 `json:"symbol,omitempty"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
}
