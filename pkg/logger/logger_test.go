package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewWriterFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf)
	l.Info("decision", String("symbol", "BTC-USDT"), Float64("score", 82.5), Bool("authorized", true))

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if line["message"] != "decision" || line["symbol"] != "BTC-USDT" {
		t.Fatalf("unexpected line %v", line)
	}
	if line["score"].(float64) != 82.5 || line["authorized"] != true {
		t.Fatalf("unexpected typed fields %v", line)
	}
}

func TestWithCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf).With(String("component", "dispatcher"))
	l.Error("place order failed", Error(errors.New("rejected")))

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if line["component"] != "dispatcher" || line["error"] != "rejected" {
		t.Fatalf("unexpected line %v", line)
	}
}

func TestSecretAndNilError(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf).Warn("live trading enabled", Secret("api_key", "0123456789abcdef"), Secret("passphrase", "short"), Error(nil))

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if line["api_key"] != "****cdef" || line["passphrase"] != "****" {
		t.Fatalf("secrets not masked: %v", line)
	}
}

func TestLevelIsPerLogger(t *testing.T) {
	quiet, err := New(&Config{Level: "error", Output: "stderr"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := New(&Config{Level: "debug", Output: "stderr"}); err != nil {
		t.Fatalf("new: %v", err)
	}
	if quiet.zl.GetLevel() != zerolog.ErrorLevel {
		t.Fatalf("level leaked between loggers: %s", quiet.zl.GetLevel())
	}
}

func TestInvalidLevel(t *testing.T) {
	if _, err := New(&Config{Level: "loud", Output: "stdout"}); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches []LogBatch
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.(LogBatch))
	return nil
}

func TestCollectorAggregatesRepeats(t *testing.T) {
	pub := &capturePublisher{}
	var buf bytes.Buffer
	l := NewWriter(&buf)
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Topic: "perpgate.logs", Publisher: pub})

	for i := 0; i < 3; i++ {
		l.Error("exchange unreachable", String("symbol", "XBTUSDTM"))
	}
	l.Warn("slow request")
	l.Info("not collected")
	l.RemoveCollector()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.batches) != 1 || pub.topic != "perpgate.logs" {
		t.Fatalf("want one batch on perpgate.logs, got %d on %q", len(pub.batches), pub.topic)
	}
	entries := pub.batches[0].Entries
	if len(entries) != 2 {
		t.Fatalf("want 2 distinct entries, got %d", len(entries))
	}
	counts := map[string]int{}
	for _, e := range entries {
		counts[e.Message] = e.Count
	}
	if counts["exchange unreachable"] != 3 || counts["slow request"] != 1 {
		t.Fatalf("counts %v", counts)
	}
}
