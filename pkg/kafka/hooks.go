package kafka

import (
	"context"
	"time"

	applogger "PerpGate/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// HeaderCorrelationID carries the decision correlation id across the broker.
const HeaderCorrelationID = "correlation_id"

type ctxKey struct{}

// WithCorrelationID stores id on ctx for Publish to attach as a header.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

// CorrelationID returns the id stored by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func headerValue(km kafka.Message, key string) string {
	for _, h := range km.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// ConsumerHook observes message handling. BeforeHandle may enrich the context
// handed to the handler.
type ConsumerHook interface {
	BeforeHandle(ctx context.Context, km kafka.Message) context.Context
	AfterHandle(ctx context.Context, km kafka.Message, took time.Duration, err error)
}

// NoopHook does nothing.
type NoopHook struct{}

func (NoopHook) BeforeHandle(ctx context.Context, _ kafka.Message) context.Context { return ctx }

func (NoopHook) AfterHandle(context.Context, kafka.Message, time.Duration, error) {}

// CorrelationHook restores the correlation id header onto the handler context
// and logs failed attempts with it.
type CorrelationHook struct {
	L *applogger.Logger
}

func (h CorrelationHook) BeforeHandle(ctx context.Context, km kafka.Message) context.Context {
	return WithCorrelationID(ctx, headerValue(km, HeaderCorrelationID))
}

func (h CorrelationHook) AfterHandle(ctx context.Context, km kafka.Message, took time.Duration, err error) {
	if err == nil || h.L == nil {
		return
	}
	h.L.Warn("kafka handler attempt failed",
		applogger.String("topic", km.Topic),
		applogger.Int("partition", km.Partition),
		applogger.Int64("offset", km.Offset),
		applogger.String("correlation_id", CorrelationID(ctx)),
		applogger.Duration("took", took),
		applogger.Error(err),
	)
}
