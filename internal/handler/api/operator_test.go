package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"PerpGate/internal/domain/models"
	"PerpGate/internal/service/exchange"
	"PerpGate/internal/services/execution"
	"PerpGate/internal/services/features"
	"PerpGate/internal/services/indicators"
	"PerpGate/internal/services/risk"
	"PerpGate/internal/services/signal"
	"PerpGate/internal/usecase"

	"github.com/labstack/echo/v4"
)

var t0 = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

type fixture struct {
	e      *echo.Echo
	ctl    *risk.Controller
	buffer *usecase.CandleBuffer
	paper  *exchange.Paper
}

func newFixture(t *testing.T) *fixture {
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
	ecfg.BlockedSymbols = []string{"DOGEUSDTM"}
	lc := execution.NewLifecycleStore()
	ft := execution.NewFeatureTracker(ecfg.Features)
	idem := execution.NewIdempotencyCache(ctx, ecfg.DedupWindow, nil, nil)
	eng, err := execution.NewEngine(ecfg, ctl, lc, ft, idem)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	paper := exchange.NewPaper(10000)
	disp := execution.NewDispatcher(ecfg, paper, ctl, lc, ft, idem, nil)
	buf := usecase.NewCandleBuffer(200)
	eval := usecase.NewEvaluator(buf, indicators.NewFeedSet(indicators.DefaultConfig()), det, nil,
		gen, ctl, eng, disp, paper, nil, nil)

	h := NewOperatorHandler(nil, eval, ctl, lc, ft, usecase.NewCandlesUseCase(nil, buf), "paper", []string{"XBTUSDTM"})
	h.now = func() time.Time { return t0.Add(2 * time.Hour) }
	e := echo.New()
	h.RegisterRoutes(e)
	return &fixture{e: e, ctl: ctl, buffer: buf, paper: paper}
}

func (f *fixture) seed(symbol string, n int) {
	cs := make([]models.Candle, n)
	for i := range cs {
		px := 100 + 2*math.Sin(float64(i)/4)
		cs[i] = models.Candle{
			Bucket: t0.Add(time.Duration(i) * time.Minute),
			Symbol: symbol,
			Open:   px,
			High:   px + 0.5,
			Low:    px - 0.5,
			Close:  px,
			Volume: 10,
			Closed: true,
		}
	}
	f.buffer.Seed(cs)
	f.paper.Mark(symbol, cs[n-1].Close)
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Data statusResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.Mode != "paper" || len(body.Data.Symbols) != 1 {
		t.Fatalf("unexpected status %+v", body.Data)
	}
}

func TestSignalNotFound(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(http.MethodGet, "/api/signals/xbtusdtm", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", rec.Code)
	}
}

func TestResetRisk(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(http.MethodPost, "/api/risk/reset", `{"reason":"x"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("short reason accepted: %d", rec.Code)
	}
	rec := f.do(http.MethodPost, "/api/risk/reset", `{"reason":"new session"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if st := f.ctl.State(); st.PeakEquity != 10000 || st.CircuitBreakerActive {
		t.Fatalf("reset to exchange equity failed: %+v", st)
	}
	f.do(http.MethodPost, "/api/risk/reset", `{"reason":"manual","equity":2500}`)
	if st := f.ctl.State(); st.Equity != 2500 {
		t.Fatalf("explicit equity ignored: %+v", st)
	}
}

func TestManualOrder(t *testing.T) {
	f := newFixture(t)
	f.seed("ETHUSDTM", 10)

	if rec := f.do(http.MethodPost, "/api/orders/manual", `{"symbol":"ETHUSDTM","size":100}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("open without side accepted: %d", rec.Code)
	}
	order := `{"symbol":"ethusdtm","action":"open","side":"long","size":100}`
	rec := f.do(http.MethodPost, "/api/orders/manual", order)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	pos, _ := f.paper.GetPosition(context.Background(), "ETHUSDTM")
	if pos == nil || pos.Side != models.SideLong {
		t.Fatalf("position %+v", pos)
	}
	// Identical order in the same window is a no-op.
	if rec := f.do(http.MethodPost, "/api/orders/manual", order); rec.Code != http.StatusOK {
		t.Fatalf("duplicate status %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/api/orders/manual", `{"symbol":"DOGEUSDTM","side":"short","size":10}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("blocked symbol status %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/api/orders/manual", `{"symbol":"SOLUSDTM","action":"close"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("close without position status %d", rec.Code)
	}
}

func TestManualOrderRateLimited(t *testing.T) {
	f := newFixture(t)
	last := 0
	for i := 0; i < 8; i++ {
		last = f.do(http.MethodPost, "/api/orders/manual", `{"symbol":"SOLUSDTM","action":"close"}`).Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("want 429 after burst, got %d", last)
	}
}

func TestCandles(t *testing.T) {
	f := newFixture(t)
	f.seed("XBTUSDTM", 60)

	rec := f.do(http.MethodGet, "/api/candles?symbol=XBTUSDTM&from=2026-03-02T00:10:00Z&to=2026-03-02T00:20:00Z", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Data usecase.GetCandlesResult `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data.Candles) == 0 || body.Data.Source != "buffer" {
		t.Fatalf("unexpected result: %d candles from %q", len(body.Data.Candles), body.Data.Source)
	}
	if rec := f.do(http.MethodGet, "/api/candles?symbol=XBTUSDTM&tf=2m", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad timeframe status %d", rec.Code)
	}
}
