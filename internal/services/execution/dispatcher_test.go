package execution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"PerpGate/internal/domain/errs"
	"PerpGate/internal/domain/models"
	"PerpGate/internal/service/exchange"
	"PerpGate/internal/service/ratelimit"
	applogger "PerpGate/pkg/logger"
)

type fakeExchange struct {
	mu        sync.Mutex
	intents   []models.OrderIntent
	fail      map[models.OrderType]error
	positions []models.Position
	cancelled []string
	seq       int
}

func (f *fakeExchange) PlaceOrder(_ context.Context, in models.OrderIntent) (models.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents = append(f.intents, in)
	if err := f.fail[in.Type]; err != nil {
		return models.OrderResult{}, err
	}
	f.seq++
	return models.OrderResult{Success: true, OrderID: fmt.Sprintf("o-%d", f.seq), Price: 100, FilledSize: in.Size}, nil
}

func (f *fakeExchange) GetPosition(_ context.Context, symbol string) (*models.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.positions {
		if p.Symbol == symbol {
			return &p, nil
		}
	}
	return nil, nil
}

func (f *fakeExchange) GetPositions(context.Context) ([]models.Position, error) {
	return f.positions, nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	f.cancelled = append(f.cancelled, id)
	f.mu.Unlock()
	return true, nil
}

func (f *fakeExchange) Balance(context.Context) (models.Balance, error) {
	return models.Balance{Wallet: 10000}, nil
}

func (f *fakeExchange) count(typ models.OrderType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, in := range f.intents {
		if in.Type == typ {
			n++
		}
	}
	return n
}

type recordingAudit struct {
	mu     sync.Mutex
	events []models.AuditEvent
	err    error
}

func (r *recordingAudit) Log(_ context.Context, ev models.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingAudit) has(eventType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.EventType == eventType {
			return true
		}
	}
	return false
}

type memOutcomes struct{ got []models.Outcome }

func (m *memOutcomes) Append(_ context.Context, o models.Outcome) error {
	m.got = append(m.got, o)
	return nil
}

func (f *fixture) dispatcher(ex *fakeExchange, opts ...DispatcherOption) *Dispatcher {
	opts = append([]DispatcherOption{WithClock(func() time.Time { return testNow })}, opts...)
	return NewDispatcher(f.cfg, ex, f.ctl, f.lcs, f.ft, f.idem, ratelimit.New(), opts...)
}

func TestDispatchDeduplicatesSignalOrders(t *testing.T) {
	f := newFixture(t, nil)
	ex := &fakeExchange{}
	d := f.dispatcher(ex)
	ctx := context.Background()

	first := f.engine.Decide(flatSnapshot())
	if _, err := d.Dispatch(ctx, first); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	second := f.engine.Decide(flatSnapshot())
	if !models.IsWait(second, models.WaitDuplicate) {
		t.Fatalf("expected duplicate wait, got %#v", second)
	}
	if _, err := d.Dispatch(ctx, second); err != nil {
		t.Fatalf("dispatch wait: %v", err)
	}
	rep, err := d.Dispatch(ctx, first)
	if err != nil || !rep.Duplicate || rep.Executed {
		t.Fatalf("replayed open should be a duplicate no-op, got %+v %v", rep, err)
	}
	if n := ex.count(models.OrderMarket); n != 1 {
		t.Fatalf("expected exactly one entry call, got %d", n)
	}
}

func TestDispatchFailureDoesNotRecordKey(t *testing.T) {
	f := newFixture(t, nil)
	ex := &fakeExchange{fail: map[models.OrderType]error{models.OrderMarket: errors.New("insufficient margin")}}
	audit := &recordingAudit{}
	d := f.dispatcher(ex, WithAudit(audit))

	open := f.engine.Decide(flatSnapshot()).(models.OpenPosition)
	_, err := d.Dispatch(context.Background(), open)
	if !errs.IsKind(err, errs.KindExternal) {
		t.Fatalf("expected external error, got %v", err)
	}
	if f.idem.Seen(open.IdempotencyKey, testNow) {
		t.Fatalf("key must not be recorded on failure")
	}
	if _, ok := f.lcs.Get("BTC-USDT"); ok {
		t.Fatalf("no lifecycle on failure")
	}
	if !audit.has("action_failed") {
		t.Fatalf("expected failure audit event")
	}

	ex.fail = nil
	rep, err := d.Dispatch(context.Background(), open)
	if err != nil || !rep.Executed {
		t.Fatalf("retry should succeed, got %+v %v", rep, err)
	}
}

func TestDispatchCompanionFailureKeepsEntry(t *testing.T) {
	f := newFixture(t, nil)
	ex := &fakeExchange{fail: map[models.OrderType]error{models.OrderStopMarket: errors.New("trigger too close")}}
	audit := &recordingAudit{}
	d := f.dispatcher(ex, WithAudit(audit))

	open := f.engine.Decide(flatSnapshot())
	rep, err := d.Dispatch(context.Background(), open)
	if err != nil || !rep.Executed {
		t.Fatalf("entry should stand, got %+v %v", rep, err)
	}
	lc, ok := f.lcs.Get("BTC-USDT")
	if !ok || lc.StopOrderID != "" || lc.TargetOrderID == "" {
		t.Fatalf("unexpected lifecycle %+v", lc)
	}
	if !audit.has("companion_failed") || !audit.has("action_executed") {
		t.Fatalf("expected companion failure and execution audit events")
	}
}

func TestDispatchCloseRecordsOutcome(t *testing.T) {
	f := newFixture(t, nil)
	ex := &fakeExchange{}
	outcomes := &memOutcomes{}
	d := f.dispatcher(ex, WithOutcomeStore(outcomes))
	ctx := context.Background()

	open := f.engine.Decide(flatSnapshot()).(models.OpenPosition)
	if _, err := d.Dispatch(ctx, open); err != nil {
		t.Fatalf("open: %v", err)
	}
	cl := models.ClosePosition{Symbol: "BTC-USDT", Side: models.SideLong, Size: open.Size, PnLPercent: -5, Reason: models.CloseReasonTimeExpired}
	if _, err := d.Dispatch(ctx, cl); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, ok := f.lcs.Get("BTC-USDT"); ok {
		t.Fatalf("lifecycle must be deleted on close")
	}
	perf, ok := f.ft.Get(open.FeatureKey)
	if !ok || perf.Trades != 1 || perf.Losses != 1 {
		t.Fatalf("expected one recorded loss, got %+v", perf)
	}
	if st := f.ctl.State(); st.ConsecutiveLosses != 1 {
		t.Fatalf("expected loss streak 1, got %d", st.ConsecutiveLosses)
	}
	if len(outcomes.got) != 1 || outcomes.got[0].Reason != models.CloseReasonTimeExpired {
		t.Fatalf("unexpected outcomes %+v", outcomes.got)
	}
	if len(ex.cancelled) != 2 {
		t.Fatalf("expected both companion orders cancelled, got %v", ex.cancelled)
	}
}

func TestDispatchPartialAndTrail(t *testing.T) {
	f := newFixture(t, nil)
	ex := &fakeExchange{}
	d := f.dispatcher(ex)
	ctx := context.Background()

	if _, err := d.Dispatch(ctx, f.engine.Decide(flatSnapshot())); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := d.Dispatch(ctx, models.PartialTakeProfit{Symbol: "BTC-USDT", Side: models.SideLong, Size: 10, PnLPercent: 16}); err != nil {
		t.Fatalf("partial: %v", err)
	}
	lc, _ := f.lcs.Get("BTC-USDT")
	if !lc.PartialTaken {
		t.Fatalf("partial flag not set")
	}
	oldTarget := lc.TargetOrderID
	if _, err := d.Dispatch(ctx, models.TrailTakeProfit{Symbol: "BTC-USDT", Side: models.SideLong, Size: 10, TakeProfit: 102.2, StopLoss: 101}); err != nil {
		t.Fatalf("trail: %v", err)
	}
	lc, _ = f.lcs.Get("BTC-USDT")
	if lc.TargetOrderID == oldTarget {
		t.Fatalf("target order id should be replaced")
	}
	found := false
	for _, id := range ex.cancelled {
		if id == oldTarget {
			found = true
		}
	}
	if !found {
		t.Fatalf("old target %s should be cancelled, got %v", oldTarget, ex.cancelled)
	}
}

func TestDispatchEmergencyClosesEverything(t *testing.T) {
	f := newFixture(t, nil)
	ex := &fakeExchange{positions: []models.Position{
		{Symbol: "BTC-USDT", Side: models.SideLong, Size: 20, Leverage: 10, PnLPercent: -12},
		{Symbol: "ETH-USDT", Side: models.SideShort, Size: 15, Leverage: 10, PnLPercent: -8},
	}}
	d := f.dispatcher(ex)

	rep, err := d.Dispatch(context.Background(), models.EmergencyCloseAll{Reason: models.WaitCircuitBreaker})
	if err != nil || !rep.Executed {
		t.Fatalf("emergency: %+v %v", rep, err)
	}
	var reduce int
	for _, in := range ex.intents {
		if in.ReduceOnly && in.Type == models.OrderMarket {
			reduce++
		}
	}
	if reduce != 2 {
		t.Fatalf("expected two reduce-only closes, got %d", reduce)
	}
	if ex.intents[1].Side != models.OrderBuy {
		t.Fatalf("short must be closed with a buy")
	}
}

func TestDispatchPacesPerSymbol(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.OrderBurst = 1; c.OrdersPerSecond = 0.001 })
	ex := &fakeExchange{}
	d := f.dispatcher(ex)
	ctx := context.Background()

	act := models.SetBreakEven{Symbol: "BTC-USDT", Side: models.SideLong, Size: 10, StopPrice: 100.1}
	if _, err := d.Dispatch(ctx, act); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := d.Dispatch(ctx, act); !errors.Is(err, ErrOrderPaced) {
		t.Fatalf("expected pacing error, got %v", err)
	}
	act.Symbol = "ETH-USDT"
	if _, err := d.Dispatch(ctx, act); err != nil {
		t.Fatalf("other symbol has its own budget: %v", err)
	}
}

func TestDispatchAuditFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, nil)
	var buf bytes.Buffer
	d := f.dispatcher(&fakeExchange{},
		WithAudit(&recordingAudit{err: errors.New("broker down")}),
		WithLogger(applogger.NewWriter(&buf)),
	)
	if _, err := d.Dispatch(context.Background(), f.engine.Decide(flatSnapshot())); err != nil {
		t.Fatalf("audit failure must not surface: %v", err)
	}
	if !strings.Contains(buf.String(), "audit log failed") {
		t.Fatalf("expected local log of audit failure, got %s", buf.String())
	}
}

func paperDispatcher(f *fixture, p *exchange.Paper) *Dispatcher {
	return NewDispatcher(f.cfg, p, f.ctl, f.lcs, f.ft, f.idem, ratelimit.New(), WithClock(func() time.Time { return testNow }))
}

func paperSnapshot(t *testing.T, p *exchange.Paper) Snapshot {
	t.Helper()
	ctx := context.Background()
	s := flatSnapshot()
	var err error
	if s.Position, err = p.GetPosition(ctx, s.Signal.Symbol); err != nil {
		t.Fatalf("position: %v", err)
	}
	s.Positions, _ = p.GetPositions(ctx)
	s.Balance, _ = p.Balance(ctx)
	if s.Position != nil {
		s.Price = s.Position.MarkPrice
	}
	return s
}

func TestPaperPositionWalksBreakEvenThenTrail(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.OrderBurst = 10 })
	p := exchange.NewPaper(10000)
	d := paperDispatcher(f, p)
	ctx := context.Background()
	const sym = "BTC-USDT"

	p.Mark(sym, 100)
	if _, err := d.Dispatch(ctx, f.engine.Decide(paperSnapshot(t, p))); err != nil {
		t.Fatalf("open: %v", err)
	}

	steps := []struct {
		mark float64
		want models.ActionKind
	}{
		{100.9, models.ActionSetBreakEven},      // ROI 9
		{101.0, models.ActionWait},              // stop already at break-even
		{100.9, models.ActionWait},              // ROI 9 again
		{101.6, models.ActionPartialTakeProfit}, // ROI 16
		{101.6, models.ActionTrailTakeProfit},
		{101.6, models.ActionWait},
	}
	for i, st := range steps {
		p.Mark(sym, st.mark)
		a := f.engine.Decide(paperSnapshot(t, p))
		if a.Kind() != st.want {
			t.Fatalf("step %d at %v: got %#v want %s", i, st.mark, a, st.want)
		}
		if _, err := d.Dispatch(ctx, a); err != nil {
			t.Fatalf("step %d dispatch: %v", i, err)
		}
	}

	pos, _ := p.GetPosition(ctx, sym)
	if pos == nil || pos.StopLoss == nil || pos.TakeProfit == nil {
		t.Fatalf("expected protected position, got %+v", pos)
	}
	if math.Abs(*pos.StopLoss-101.0) > 1e-9 || math.Abs(*pos.TakeProfit-102.2) > 1e-9 {
		t.Fatalf("levels stop=%v target=%v", *pos.StopLoss, *pos.TakeProfit)
	}
	lc, _ := f.lcs.Get(sym)
	if lc.StopPrice != *pos.StopLoss || lc.TargetPrice != *pos.TakeProfit {
		t.Fatalf("lifecycle levels %+v", lc)
	}
}

func TestReconcileRecordsVenueStopOut(t *testing.T) {
	f := newFixture(t, nil)
	p := exchange.NewPaper(10000)
	out := &memOutcomes{}
	d := NewDispatcher(f.cfg, p, f.ctl, f.lcs, f.ft, f.idem, ratelimit.New(),
		WithClock(func() time.Time { return testNow }), WithOutcomeStore(out))
	ctx := context.Background()
	const sym = "BTC-USDT"

	p.Mark(sym, 100)
	open := f.engine.Decide(paperSnapshot(t, p)).(models.OpenPosition)
	if _, err := d.Dispatch(ctx, open); err != nil {
		t.Fatalf("open: %v", err)
	}

	// still open: only refreshes the record
	p.Mark(sym, 99.5)
	if settled, err := d.Reconcile(ctx, sym, 99.5); err != nil || settled {
		t.Fatalf("open position reconciled: %v %v", settled, err)
	}
	if lc, _ := f.lcs.Get(sym); math.Abs(lc.LastPnLPercent+5) > 1e-9 {
		t.Fatalf("last roi %v", lc.LastPnLPercent)
	}

	p.Mark(sym, 98.5) // through the 99 stop
	if pos, _ := p.GetPosition(ctx, sym); pos != nil {
		t.Fatalf("paper stop did not fill")
	}
	settled, err := d.Reconcile(ctx, sym, 98.5)
	if err != nil || !settled {
		t.Fatalf("expected settlement, got %v %v", settled, err)
	}
	if _, ok := f.lcs.Get(sym); ok {
		t.Fatalf("lifecycle must be deleted")
	}
	perf, ok := f.ft.Get(open.FeatureKey)
	if !ok || perf.Trades != 1 || perf.Losses != 1 {
		t.Fatalf("feature record %+v %v", perf, ok)
	}
	if len(out.got) != 1 || out.got[0].Reason != models.CloseReasonProtective || math.Abs(out.got[0].PnLPercent+10) > 1e-9 {
		t.Fatalf("outcome %+v", out.got)
	}
	st := f.ctl.State()
	if st.ConsecutiveLosses != 1 || st.DailyPnL >= 0 {
		t.Fatalf("risk state %+v", st)
	}

	if settled, _ := d.Reconcile(ctx, sym, 98.5); settled {
		t.Fatalf("second reconcile must be a no-op")
	}
}

func TestConcurrentEmergencyClosesEachPositionOnce(t *testing.T) {
	f := newFixture(t, nil)
	p := exchange.NewPaper(10000)
	d := paperDispatcher(f, p)
	ctx := context.Background()
	for _, sym := range []string{"BTC-USDT", "ETH-USDT"} {
		p.Mark(sym, 100)
		if res, _ := p.PlaceOrder(ctx, models.OrderIntent{Symbol: sym, Side: models.OrderBuy, Type: models.OrderMarket, Size: 10, Leverage: 10}); !res.Success {
			t.Fatalf("open %s: %+v", sym, res)
		}
	}

	var wg sync.WaitGroup
	errc := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Dispatch(ctx, models.EmergencyCloseAll{Reason: models.WaitCircuitBreaker})
			errc <- err
		}()
	}
	wg.Wait()
	close(errc)
	for err := range errc {
		if err != nil {
			t.Fatalf("emergency pass failed: %v", err)
		}
	}
	if left, _ := p.GetPositions(ctx); len(left) != 0 {
		t.Fatalf("positions left open: %+v", left)
	}
}
