package usecase

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"PerpGate/internal/domain/errs"
	"PerpGate/internal/domain/models"
	domrepo "PerpGate/internal/domain/repository"
	"PerpGate/internal/service/exchange"
	"PerpGate/internal/services/execution"
	"PerpGate/internal/services/features"
	"PerpGate/internal/services/indicators"
	"PerpGate/internal/services/risk"
	"PerpGate/internal/services/signal"
	"PerpGate/pkg/cache"
)

var t0 = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func series(symbol string, n int) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		px := 100 + 0.05*float64(i) + 2*math.Sin(float64(i)/4)
		out[i] = models.Candle{
			Bucket: t0.Add(time.Duration(i) * time.Minute),
			Symbol: symbol,
			Open:   px - 0.1,
			High:   px + 0.4,
			Low:    px - 0.4,
			Close:  px,
			Volume: 100 + float64(i%5),
			Closed: true,
		}
	}
	return out
}

type harness struct {
	buffer    *CandleBuffer
	paper     *exchange.Paper
	collector *MarketCollector
	eval      *Evaluator
	ctl       *risk.Controller
	lcs       *execution.LifecycleStore
}

func newHarness(t *testing.T, blocked ...string) *harness {
	t.Helper()
	ctx := context.Background()

	gen, err := signal.NewGenerator(signal.DefaultConfig())
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	ctl, err := risk.NewController(risk.DefaultConfig())
	if err != nil {
		t.Fatalf("risk: %v", err)
	}
	det, err := features.NewDetector(features.DefaultRegimeConfig())
	if err != nil {
		t.Fatalf("detector: %v", err)
	}
	ecfg := execution.DefaultConfig()
	ecfg.BlockedSymbols = blocked
	lc := execution.NewLifecycleStore()
	ft := execution.NewFeatureTracker(ecfg.Features)
	idem := execution.NewIdempotencyCache(ctx, ecfg.DedupWindow, nil, nil)
	eng, err := execution.NewEngine(ecfg, ctl, lc, ft, idem)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	paper := exchange.NewPaper(10000)
	disp := execution.NewDispatcher(ecfg, paper, ctl, lc, ft, idem, nil)

	buf := NewCandleBuffer(200)
	return &harness{
		buffer:    buf,
		paper:     paper,
		collector: NewMarketCollector(nil, buf, nil, domrepo.TF1m, paper, nil, nil),
		eval: NewEvaluator(buf, indicators.NewFeedSet(indicators.DefaultConfig()), det, nil,
			gen, ctl, eng, disp, paper, nil, nil),
		ctl: ctl,
		lcs: lc,
	}
}

func (h *harness) ingest(candles []models.Candle) {
	for _, c := range candles {
		h.collector.Ingest(context.Background(), c)
	}
}

func TestCandleBufferAppend(t *testing.T) {
	b := NewCandleBuffer(3)
	cs := series("BTC", 5)
	open := cs[0]
	open.Closed = false
	if b.Append(open) {
		t.Fatalf("open candle appended")
	}
	for _, c := range cs {
		b.Append(c)
	}
	if got := b.Candles("BTC"); len(got) != 3 || !got[0].Bucket.Equal(cs[2].Bucket) {
		t.Fatalf("capacity not enforced: %d candles", len(got))
	}
	if b.Index("BTC") != 5 {
		t.Fatalf("index %d", b.Index("BTC"))
	}
	if b.Append(cs[1]) {
		t.Fatalf("stale bucket appended")
	}
	revised := cs[4]
	revised.Close = 1
	if b.Append(revised) {
		t.Fatalf("revision counted as a new bucket")
	}
	if last, _ := b.Last("BTC"); last.Close != 1 {
		t.Fatalf("revision not applied: %v", last.Close)
	}
}

func TestEvaluateInsufficientHistory(t *testing.T) {
	h := newHarness(t)
	h.ingest(series("XBTUSDTM", 30))
	_, err := h.eval.Evaluate(context.Background(), "XBTUSDTM", time.Now())
	if !errors.Is(err, errs.ErrInsufficientData) {
		t.Fatalf("want insufficient data, got %v", err)
	}
	if _, ok := h.eval.LastSignal("XBTUSDTM"); ok {
		t.Fatalf("signal recorded for a failed cycle")
	}
}

func TestEvaluateBlockedSymbol(t *testing.T) {
	h := newHarness(t, "DOGEUSDTM")
	h.ingest(series("DOGEUSDTM", 80))
	_, err := h.eval.Evaluate(context.Background(), "DOGEUSDTM", time.Now())
	if !errs.IsKind(err, errs.KindPolicy) {
		t.Fatalf("want policy rejection, got %v", err)
	}
}

func TestEvaluateRunsFullCycle(t *testing.T) {
	h := newHarness(t)
	h.ingest(series("XBTUSDTM", 80))
	ev, err := h.eval.Evaluate(context.Background(), "XBTUSDTM", time.Now())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if ev.Signal.Symbol != "XBTUSDTM" || ev.Action == nil {
		t.Fatalf("unexpected evaluation %+v", ev)
	}
	last, ok := h.eval.LastSignal("XBTUSDTM")
	if !ok || last.CompositeScore != ev.Signal.CompositeScore {
		t.Fatalf("last signal not kept")
	}
	if ev.Action.Kind() == models.ActionOpen {
		pos, _ := h.paper.GetPosition(context.Background(), "XBTUSDTM")
		if pos == nil || !ev.Report.Executed {
			t.Fatalf("open action did not reach the exchange")
		}
	}
}

func TestManualOrderDeduplicated(t *testing.T) {
	h := newHarness(t)
	h.ingest(series("ETHUSDTM", 10))
	ctx := context.Background()
	now := time.Now()
	order := execution.ManualOrder{Symbol: "ETHUSDTM", Action: execution.ManualOpen, Side: models.SideLong, Size: 100}

	ev, err := h.eval.Manual(ctx, order, now)
	if err != nil {
		t.Fatalf("manual open: %v", err)
	}
	if ev.Action.Kind() != models.ActionOpen || !ev.Report.Executed {
		t.Fatalf("manual open not executed: %+v", ev.Action)
	}
	pos, _ := h.paper.GetPosition(ctx, "ETHUSDTM")
	if pos == nil || pos.Side != models.SideLong {
		t.Fatalf("position %+v", pos)
	}

	ev, err = h.eval.Manual(ctx, order, now)
	if err != nil {
		t.Fatalf("repeat manual: %v", err)
	}
	w, ok := ev.Action.(models.Wait)
	if !ok || w.Reason != models.WaitDuplicate {
		t.Fatalf("want duplicate wait, got %+v", ev.Action)
	}
}

func TestEvaluateSettlesVenueStopOut(t *testing.T) {
	h := newHarness(t)
	h.ingest(series("ETHUSDTM", 10))
	ctx := context.Background()
	order := execution.ManualOrder{Symbol: "ETHUSDTM", Action: execution.ManualOpen, Side: models.SideLong, Size: 100}
	if _, err := h.eval.Manual(ctx, order, time.Now()); err != nil {
		t.Fatalf("manual open: %v", err)
	}
	pos, _ := h.paper.GetPosition(ctx, "ETHUSDTM")
	if pos == nil || pos.StopLoss == nil {
		t.Fatalf("expected a protected position, got %+v", pos)
	}

	// a closed candle 2% below entry at 10x runs through the stop
	drop := series("ETHUSDTM", 11)[10]
	drop.Close, drop.Low = pos.EntryPrice*0.98, pos.EntryPrice*0.97
	h.ingest([]models.Candle{drop})
	if p, _ := h.paper.GetPosition(ctx, "ETHUSDTM"); p != nil {
		t.Fatalf("paper stop did not fill")
	}
	if _, err := h.eval.Evaluate(ctx, "ETHUSDTM", time.Now()); !errors.Is(err, errs.ErrInsufficientData) {
		t.Fatalf("want insufficient data, got %v", err)
	}
	if _, ok := h.lcs.Get("ETHUSDTM"); ok {
		t.Fatalf("lifecycle kept after the venue closed the position")
	}
	if st := h.ctl.State(); st.ConsecutiveLosses != 1 || st.DailyPnL >= 0 {
		t.Fatalf("loss not recorded: %+v", st)
	}
}

func TestScannerIsolatesSymbols(t *testing.T) {
	h := newHarness(t)
	h.ingest(series("XBTUSDTM", 80))
	h.ingest(series("SOLUSDTM", 20))
	s := NewScanner(h.eval, nil, []string{"XBTUSDTM", "SOLUSDTM"}, time.Minute, nil)

	res := s.RunCycle(context.Background())
	if _, ok := res.Evaluations["XBTUSDTM"]; !ok {
		t.Fatalf("healthy symbol not evaluated: %v", res.Errors["XBTUSDTM"])
	}
	if !errors.Is(res.Errors["SOLUSDTM"], errs.ErrInsufficientData) {
		t.Fatalf("short symbol error %v", res.Errors["SOLUSDTM"])
	}
}

func TestScannerCycleLock(t *testing.T) {
	h := newHarness(t)
	h.ingest(series("XBTUSDTM", 80))
	lock := cache.NewMemoryCache()
	defer lock.Close()

	a := NewScanner(h.eval, nil, []string{"XBTUSDTM"}, time.Minute, nil)
	b := NewScanner(h.eval, nil, []string{"XBTUSDTM"}, time.Minute, nil)
	at := t0.Add(90 * time.Minute)
	for _, s := range []*Scanner{a, b} {
		s.SetLocker(lock)
		s.now = func() time.Time { return at }
	}

	if res := a.RunCycle(context.Background()); res.Skipped {
		t.Fatal("first replica skipped")
	}
	if res := b.RunCycle(context.Background()); !res.Skipped || len(res.Evaluations) != 0 {
		t.Fatalf("second replica ran the same cycle: %+v", res)
	}
}

type fakeStream struct {
	mu         sync.Mutex
	reads      int
	reconnects int
	first      []models.Candle
}

func (f *fakeStream) Connect(context.Context) error   { return nil }
func (f *fakeStream) Subscribe(context.Context) error { return nil }
func (f *fakeStream) Close() error                    { return nil }
func (f *fakeStream) IsConnected() bool               { return true }

func (f *fakeStream) Reconnect(context.Context) error {
	f.mu.Lock()
	f.reconnects++
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) Read(ctx context.Context) (<-chan models.Candle, <-chan error) {
	f.mu.Lock()
	f.reads++
	n := f.reads
	f.mu.Unlock()

	candles := make(chan models.Candle, len(f.first))
	errCh := make(chan error, 1)
	if n == 1 {
		for _, c := range f.first {
			candles <- c
		}
		close(candles)
		close(errCh)
	}
	return candles, errCh
}

func (f *fakeStream) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads, f.reconnects
}

type markRecorder struct {
	mu    sync.Mutex
	marks map[string]float64
}

func (m *markRecorder) Mark(symbol string, price float64) {
	m.mu.Lock()
	m.marks[symbol] = price
	m.mu.Unlock()
}

func TestMarketCollectorReconnects(t *testing.T) {
	cs := series("XBTUSDTM", 3)
	cs[2].Closed = false
	stream := &fakeStream{first: cs}
	marks := &markRecorder{marks: map[string]float64{}}
	buf := NewCandleBuffer(10)
	c := NewMarketCollector(stream, buf, nil, domrepo.TF1m, marks, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		reads, reconnects := stream.counts()
		if reads >= 2 && reconnects >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("collector did not reconnect: reads %d reconnects %d", reads, reconnects)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if buf.Index("XBTUSDTM") != 2 {
		t.Fatalf("closed candles buffered %d", buf.Index("XBTUSDTM"))
	}
	marks.mu.Lock()
	got := marks.marks["XBTUSDTM"]
	marks.mu.Unlock()
	if got != cs[2].Close {
		t.Fatalf("mark %v, want %v", got, cs[2].Close)
	}
}

type recordingAudit struct {
	events []models.AuditEvent
	err    error
}

func (r *recordingAudit) Log(_ context.Context, ev models.AuditEvent) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestAuditSinkHandler(t *testing.T) {
	sink := &recordingAudit{}
	h := NewAuditSinkHandler("perpgate.audit", sink, nil)
	if h.Topic() != "perpgate.audit" {
		t.Fatalf("topic %s", h.Topic())
	}
	msg := []byte(`{"timestamp":"2026-03-02T00:00:00Z","event_type":"action_executed","correlation_id":"c-1","component":"dispatcher","severity":"info","symbol":"XBTUSDTM"}`)
	if err := h.Handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(sink.events) != 1 || sink.events[0].CorrelationID != "c-1" {
		t.Fatalf("events %+v", sink.events)
	}
	if err := h.Handle(context.Background(), []byte("{")); err == nil {
		t.Fatalf("bad payload accepted")
	}
	sink.err = errors.New("clickhouse down")
	if err := h.Handle(context.Background(), msg); err == nil {
		t.Fatalf("sink failure swallowed")
	}
}

func TestCandlesFromBuffer(t *testing.T) {
	buf := NewCandleBuffer(100)
	buf.Seed(series("XBTUSDTM", 30))
	uc := NewCandlesUseCase(nil, buf)

	res, err := uc.GetCandles(context.Background(), GetCandlesParams{
		Symbol: "XBTUSDTM",
		From:   t0.Add(10 * time.Minute),
		To:     t0.Add(19 * time.Minute),
		Limit:  5,
	})
	if err != nil {
		t.Fatalf("get candles: %v", err)
	}
	if res.Count != 5 || res.Source != "buffer" || !res.Candles[0].Bucket.Equal(t0.Add(10*time.Minute)) {
		t.Fatalf("result %+v", res)
	}
	if _, err := uc.GetCandles(context.Background(), GetCandlesParams{Symbol: "XBTUSDTM", From: t0.Add(time.Hour), To: t0}); !errs.IsKind(err, errs.KindValidation) {
		t.Fatalf("inverted range accepted: %v", err)
	}
}
