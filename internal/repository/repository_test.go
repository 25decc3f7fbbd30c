package repository

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"PerpGate/internal/domain/models"
	domrepo "PerpGate/internal/domain/repository"
	"PerpGate/pkg/cache"
	applogger "PerpGate/pkg/logger"
)

var ts0 = time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)

func TestCacheIdempotencyStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := cache.NewMemoryCache()
	defer mc.Close()
	s := NewCacheIdempotencyStore(mc, "perpgate:idempotency", time.Hour)

	got, err := s.Load(ctx)
	if err != nil || len(got) != 0 {
		t.Fatalf("empty load %v err %v", got, err)
	}
	want := map[string]time.Time{"a": ts0, "b": ts0.Add(time.Second)}
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err = s.Load(ctx)
	if err != nil || len(got) != 2 || !got["b"].Equal(want["b"]) {
		t.Fatalf("load %v err %v", got, err)
	}
}

func TestFileIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "idempotency.json")
	s := NewFileIdempotencyStore(path)
	if got, err := s.Load(ctx); err != nil || len(got) != 0 {
		t.Fatalf("missing file %v err %v", got, err)
	}
	if err := s.Save(ctx, map[string]time.Time{"k": ts0}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil || !got["k"].Equal(ts0) {
		t.Fatalf("load %v err %v", got, err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}

	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := s.Load(ctx); err == nil {
		t.Fatalf("corrupt snapshot accepted")
	}
}

type fakeProducer struct {
	topic string
	key   string
	value interface{}
	err   error
}

func (p *fakeProducer) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	p.topic, p.key, p.value = topic, string(key), value
	return p.err
}

func TestKafkaAuditLogKeysBySymbol(t *testing.T) {
	p := &fakeProducer{}
	a := NewKafkaAuditLog(p, "perpgate.audit")
	ev := models.AuditEvent{Timestamp: ts0, EventType: "action_executed", Component: "dispatcher", Symbol: "BTCUSDTM"}
	if err := a.Log(context.Background(), ev); err != nil {
		t.Fatalf("log: %v", err)
	}
	if p.topic != "perpgate.audit" || p.key != "BTCUSDTM" {
		t.Fatalf("published %s/%s", p.topic, p.key)
	}
	ev.Symbol = ""
	_ = a.Log(context.Background(), ev)
	if p.key != "dispatcher" {
		t.Fatalf("fallback key %s", p.key)
	}
}

type failingAudit struct{ n int }

func (f *failingAudit) Log(context.Context, models.AuditEvent) error {
	f.n++
	return errors.New("broker down")
}

type countingAudit struct{ n int }

func (c *countingAudit) Log(context.Context, models.AuditEvent) error {
	c.n++
	return nil
}

func TestSafeAndMultiAuditLog(t *testing.T) {
	var buf bytes.Buffer
	bad, good := &failingAudit{}, &countingAudit{}
	multi := MultiAuditLog{bad, good}
	ev := models.AuditEvent{EventType: "action_failed", CorrelationID: "c1"}

	if err := multi.Log(context.Background(), ev); err == nil || good.n != 1 {
		t.Fatalf("multi err %v good %d", err, good.n)
	}
	safe := NewSafeAuditLog(multi, applogger.NewWriter(&buf))
	if err := safe.Log(context.Background(), ev); err != nil {
		t.Fatalf("safe log returned %v", err)
	}
	if bad.n != 2 || good.n != 2 {
		t.Fatalf("sinks not called: bad %d good %d", bad.n, good.n)
	}
	if !strings.Contains(buf.String(), "audit log write failed") || !strings.Contains(buf.String(), "broker down") {
		t.Fatalf("log output %q", buf.String())
	}
}

func TestSchemaStatements(t *testing.T) {
	stmts := SchemaStatements("perpgate")
	if len(stmts) != 7 {
		t.Fatalf("statements %d", len(stmts))
	}
	if !strings.Contains(stmts[1], "perpgate.candles_1m") || !strings.Contains(stmts[4], "perpgate.candles_1h") {
		t.Fatalf("candle tables %q %q", stmts[1], stmts[4])
	}
}

func TestCandleStoreRejectsUnknownTimeframe(t *testing.T) {
	s := NewCHCandleStore(nil, "perpgate")
	if _, err := s.GetCandles(context.Background(), "BTCUSDTM", ts0, ts0, domrepo.Timeframe("3m")); err == nil {
		t.Fatalf("unknown timeframe accepted")
	}
	if err := s.StoreCandles(context.Background(), nil, domrepo.TF1m); err != nil {
		t.Fatalf("empty store: %v", err)
	}
}
