package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"PerpGate/internal/domain/errs"
	"PerpGate/internal/domain/models"
)

type venue struct {
	t      *testing.T
	signer *Signer

	mu     sync.Mutex
	seq    int
	orders []map[string]interface{}
	failOn string
}

func reply(w http.ResponseWriter, data interface{}) {
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": codeOK, "data": data})
}

func (v *venue) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	want := v.signer.Sign(r.Header.Get(HeaderTimestamp), r.Method, r.URL.RequestURI(), string(body))
	if r.Header.Get(HeaderSign) != want || r.Header.Get(HeaderKeyVersion) != "2" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failOn == r.URL.Path {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": "300003", "msg": "balance insufficient"})
		return
	}
	switch {
	case r.URL.Path == "/api/v1/contracts/BTCUSDTM":
		reply(w, map[string]interface{}{"symbol": "BTCUSDTM", "multiplier": 0.001, "lotSize": 1, "tickSize": 0.1})
	case r.URL.Path == "/api/v1/mark-price/BTCUSDTM/current":
		reply(w, map[string]interface{}{"value": 50000})
	case r.URL.Path == "/api/v1/orders" && r.Method == http.MethodPost:
		var o map[string]interface{}
		_ = json.Unmarshal(body, &o)
		v.orders = append(v.orders, o)
		v.seq++
		reply(w, map[string]interface{}{"orderId": fmt.Sprintf("o%d", v.seq)})
	case r.URL.Path == "/api/v1/orders/o2" && r.Method == http.MethodDelete:
		reply(w, map[string]interface{}{"cancelledOrderIds": []string{"o2"}})
	case r.URL.Path == "/api/v1/position":
		reply(w, map[string]interface{}{
			"symbol": r.URL.Query().Get("symbol"), "isOpen": true, "currentQty": 20,
			"avgEntryPrice": 50000, "markPrice": 50500, "realLeverage": 10,
			"posMargin": 100, "unrealisedRoePcnt": 0.1, "openingTimestamp": 1700000000000,
		})
	case r.URL.Path == "/api/v1/positions":
		reply(w, []map[string]interface{}{
			{"symbol": "BTCUSDTM", "isOpen": true, "currentQty": -5, "realLeverage": 5, "posMargin": 50},
			{"symbol": "ETHUSDTM", "isOpen": false, "currentQty": 0},
		})
	case r.URL.Path == "/api/v1/account-overview" && r.URL.Query().Get("currency") == "USDT":
		reply(w, map[string]interface{}{"accountEquity": 10100, "unrealisedPNL": 100, "availableBalance": 9000})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newLive(t *testing.T) (*LiveClient, *venue) {
	t.Helper()
	v := &venue{t: t, signer: NewSigner("k", "s", "p")}
	srv := httptest.NewServer(v)
	t.Cleanup(srv.Close)
	cfg := Config{
		BaseURL:          srv.URL,
		AllowedEndpoints: []string{srv.URL},
		APIKey:           "k",
		APISecret:        "s",
		APIPassphrase:    "p",
		MarginCurrency:   "USDT",
	}
	c, err := NewLiveClient(cfg, nil)
	if err != nil {
		t.Fatalf("new live client: %v", err)
	}
	return c, v
}

func TestNewLiveClientFailsClosed(t *testing.T) {
	cfg := Config{BaseURL: "https://api-futures.kucoin.com", AllowedEndpoints: []string{"https://api-futures.kucoin.com"}}
	if _, err := NewLiveClient(cfg, nil); !errors.Is(err, errs.ErrMissingCredentials) {
		t.Fatalf("missing creds err %v", err)
	}
	cfg.APIKey, cfg.APISecret, cfg.APIPassphrase = "k", "s", "p"
	cfg.BaseURL = "https://evil.example.com"
	_, err := NewLiveClient(cfg, nil)
	if !errors.Is(err, errs.ErrDisallowedEndpoint) || !errs.IsKind(err, errs.KindConfiguration) {
		t.Fatalf("disallowed endpoint err %v", err)
	}
}

func TestLivePlaceMarketOrder(t *testing.T) {
	c, v := newLive(t)
	res, err := c.PlaceOrder(context.Background(), models.OrderIntent{
		Symbol: "BTCUSDTM", Side: models.OrderBuy, Type: models.OrderMarket, Size: 100, Leverage: 10, ClientOrderID: "cid-1",
	})
	if err != nil || !res.Success || res.OrderID != "o1" {
		t.Fatalf("res %+v err %v", res, err)
	}
	// 100 margin * 10x / (50000 * 0.001) = 20 lots
	o := v.orders[0]
	if o["size"] != float64(20) || o["side"] != "buy" || o["leverage"] != "10" || o["clientOid"] != "cid-1" {
		t.Fatalf("order body %+v", o)
	}
	if _, ok := o["stop"]; ok {
		t.Fatalf("market order carried a stop")
	}
}

func TestLiveProtectiveOrderRoundTrip(t *testing.T) {
	c, v := newLive(t)
	ctx := context.Background()
	res, err := c.PlaceOrder(ctx, models.OrderIntent{
		Symbol: "BTCUSDTM", Side: models.OrderSell, Type: models.OrderStopMarket, Size: 100, TriggerPrice: 49123.46, ReduceOnly: true,
	})
	if err != nil || !res.Success {
		t.Fatalf("res %+v err %v", res, err)
	}
	o := v.orders[0]
	if o["stop"] != "down" || o["stopPrice"] != "49123.5" || o["reduceOnly"] != true || o["size"] != float64(20) {
		t.Fatalf("stop body %+v", o)
	}

	pos, err := c.GetPosition(ctx, "BTCUSDTM")
	if err != nil || pos == nil {
		t.Fatalf("position %v err %v", pos, err)
	}
	if pos.StopLoss == nil || *pos.StopLoss != 49123.46 || pos.Side != models.SideLong || pos.PnLPercent != 10 {
		t.Fatalf("position %+v", pos)
	}

	// the venue assigns o2 to the take-profit
	if _, err := c.PlaceOrder(ctx, models.OrderIntent{
		Symbol: "BTCUSDTM", Side: models.OrderSell, Type: models.OrderTakeProfit, Size: 100, TriggerPrice: 52000, ReduceOnly: true,
	}); err != nil {
		t.Fatalf("take profit: %v", err)
	}
	if v.orders[1]["stop"] != "up" {
		t.Fatalf("take profit direction %v", v.orders[1]["stop"])
	}
	ok, err := c.CancelOrder(ctx, "o2")
	if err != nil || !ok {
		t.Fatalf("cancel ok=%v err=%v", ok, err)
	}
	pos, _ = c.GetPosition(ctx, "BTCUSDTM")
	if pos.TakeProfit != nil || pos.StopLoss == nil {
		t.Fatalf("after cancel %+v", pos)
	}
}

func TestLivePositionsAndBalance(t *testing.T) {
	c, _ := newLive(t)
	ctx := context.Background()
	ps, err := c.GetPositions(ctx)
	if err != nil || len(ps) != 1 || ps[0].Side != models.SideShort || ps[0].Size != 50 {
		t.Fatalf("positions %+v err %v", ps, err)
	}
	b, err := c.Balance(ctx)
	if err != nil || b.Wallet != 10000 || b.Available != 9000 || b.Equity() != 10100 {
		t.Fatalf("balance %+v err %v", b, err)
	}
}

func TestLiveVenueErrorCode(t *testing.T) {
	c, v := newLive(t)
	v.failOn = "/api/v1/orders"
	_, err := c.PlaceOrder(context.Background(), models.OrderIntent{
		Symbol: "BTCUSDTM", Side: models.OrderBuy, Type: models.OrderMarket, Size: 100, Leverage: 10,
	})
	if !errs.IsKind(err, errs.KindExternal) {
		t.Fatalf("expected external venue error, got %v", err)
	}
}

func TestLiveBelowOneLot(t *testing.T) {
	c, _ := newLive(t)
	res, err := c.PlaceOrder(context.Background(), models.OrderIntent{
		Symbol: "BTCUSDTM", Side: models.OrderBuy, Type: models.OrderMarket, Size: 1, Leverage: 10,
	})
	if err != nil || res.Success {
		t.Fatalf("res %+v err %v", res, err)
	}
}
