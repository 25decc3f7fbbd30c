package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"PerpGate/internal/domain/errs"
	"PerpGate/internal/domain/models"
	"PerpGate/internal/domain/repository"
	xhttp "PerpGate/pkg/http"
	applogger "PerpGate/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const codeOK = "200000"

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type contractDTO struct {
	Symbol     string  `json:"symbol"`
	Multiplier float64 `json:"multiplier"`
	LotSize    float64 `json:"lotSize"`
	TickSize   float64 `json:"tickSize"`
}

type contract struct {
	multiplier decimal.Decimal
	lot        decimal.Decimal
	tick       decimal.Decimal
}

type positionDTO struct {
	Symbol            string  `json:"symbol"`
	IsOpen            bool    `json:"isOpen"`
	CurrentQty        float64 `json:"currentQty"`
	AvgEntryPrice     float64 `json:"avgEntryPrice"`
	MarkPrice         float64 `json:"markPrice"`
	RealLeverage      float64 `json:"realLeverage"`
	PosMargin         float64 `json:"posMargin"`
	UnrealisedRoePcnt float64 `json:"unrealisedRoePcnt"`
	OpeningTimestamp  int64   `json:"openingTimestamp"`
}

type accountDTO struct {
	AccountEquity    float64 `json:"accountEquity"`
	UnrealisedPNL    float64 `json:"unrealisedPNL"`
	AvailableBalance float64 `json:"availableBalance"`
}

// protective remembers the resting stop and target placed for a symbol.
// Position reads do not carry them, so the client reports them back itself.
type protective struct {
	stopID   string
	stop     float64
	targetID string
	target   float64
}

// LiveClient is the signed REST adapter for the futures venue.
type LiveClient struct {
	cfg    Config
	base   string
	signer *Signer
	client *xhttp.Client
	l      *applogger.Logger
	now    func() time.Time

	metrics repository.Metrics

	mu        sync.Mutex
	contracts map[string]contract
	protect   map[string]*protective
}

// NewLiveClient fails closed when credentials are missing or the base URL is not allow-listed.
func NewLiveClient(cfg Config, l *applogger.Logger) (*LiveClient, error) {
	if err := cfg.CheckLive(); err != nil {
		return nil, err
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &LiveClient{
		cfg:       cfg,
		base:      strings.TrimRight(cfg.BaseURL, "/"),
		signer:    NewSigner(cfg.APIKey, cfg.APISecret, cfg.APIPassphrase),
		client:    xhttp.NewClient(xhttp.WithTimeout(cfg.Timeout)),
		l:         l.With(applogger.String("component", "exchange")),
		now:       time.Now,
		contracts: make(map[string]contract),
		protect:   make(map[string]*protective),
	}, nil
}

func (c *LiveClient) SetMetrics(m repository.Metrics) { c.metrics = m }

func (c *LiveClient) do(ctx context.Context, method, path string, query url.Values, body interface{}, dest interface{}) error {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var raw []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", path, err)
		}
		raw = b
	}
	opts := &xhttp.RequestOptions{
		Method:  method,
		URL:     c.base + path,
		Headers: c.signer.Headers(method, path, string(raw), c.now()),
	}
	opts.Headers["Content-Type"] = "application/json"
	if raw != nil {
		opts.Body = raw
	}

	start := time.Now()
	var env envelope
	err := c.client.SendAndParse(ctx, opts, &env)
	if c.metrics != nil {
		c.metrics.RecordLatency("exchange_"+strings.ToLower(method), time.Since(start).Seconds())
	}
	if err != nil {
		return errs.External(method+" "+path, err)
	}
	if env.Code != codeOK {
		return errs.Newf(errs.KindExternal, "%s %s: code %s: %s", method, path, env.Code, env.Msg)
	}
	if dest == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *LiveClient) contract(ctx context.Context, symbol string) (contract, error) {
	c.mu.Lock()
	ct, ok := c.contracts[symbol]
	c.mu.Unlock()
	if ok {
		return ct, nil
	}
	var dto contractDTO
	if err := c.do(ctx, xhttp.MethodGet, "/api/v1/contracts/"+url.PathEscape(symbol), nil, nil, &dto); err != nil {
		return contract{}, err
	}
	if dto.Multiplier <= 0 || dto.LotSize <= 0 || dto.TickSize <= 0 {
		return contract{}, fmt.Errorf("contract %s: incomplete details %+v", symbol, dto)
	}
	ct = contract{
		multiplier: decimal.NewFromFloat(dto.Multiplier),
		lot:        decimal.NewFromFloat(dto.LotSize),
		tick:       decimal.NewFromFloat(dto.TickSize),
	}
	c.mu.Lock()
	c.contracts[symbol] = ct
	c.mu.Unlock()
	return ct, nil
}

func (c *LiveClient) markPrice(ctx context.Context, symbol string) (float64, error) {
	var dto struct {
		Value float64 `json:"value"`
	}
	if err := c.do(ctx, xhttp.MethodGet, "/api/v1/mark-price/"+url.PathEscape(symbol)+"/current", nil, nil, &dto); err != nil {
		return 0, err
	}
	if dto.Value <= 0 {
		return 0, fmt.Errorf("mark price %s: %v", symbol, dto.Value)
	}
	return dto.Value, nil
}

// Lots converts margin at leverage into whole contract lots at price, rounded down.
func (ct contract) Lots(margin, leverage, price float64) decimal.Decimal {
	notional := decimal.NewFromFloat(margin).Mul(decimal.NewFromFloat(leverage))
	perLot := decimal.NewFromFloat(price).Mul(ct.multiplier)
	if perLot.IsZero() {
		return decimal.Zero
	}
	return notional.Div(perLot).Div(ct.lot).Floor().Mul(ct.lot)
}

// RoundPrice snaps price to the nearest tick.
func (ct contract) RoundPrice(price float64) decimal.Decimal {
	return decimal.NewFromFloat(price).Div(ct.tick).Round(0).Mul(ct.tick)
}

// stopDirection: a sell stop-loss fires on a fall and a sell take-profit on a rise.
func stopDirection(side models.OrderSide, t models.OrderType) string {
	down := side == models.OrderSell
	if t == models.OrderTakeProfit {
		down = !down
	}
	if down {
		return "down"
	}
	return "up"
}

func (c *LiveClient) PlaceOrder(ctx context.Context, intent models.OrderIntent) (models.OrderResult, error) {
	ct, err := c.contract(ctx, intent.Symbol)
	if err != nil {
		return models.OrderResult{}, err
	}
	price := intent.TriggerPrice
	if intent.Type == models.OrderMarket || price <= 0 {
		if price, err = c.markPrice(ctx, intent.Symbol); err != nil {
			return models.OrderResult{}, err
		}
	}
	lev := intent.Leverage
	if intent.ReduceOnly && lev <= 0 {
		pos, err := c.GetPosition(ctx, intent.Symbol)
		if err != nil {
			return models.OrderResult{}, err
		}
		if pos == nil {
			return models.OrderResult{Success: false, Error: "no position to reduce"}, nil
		}
		lev = pos.Leverage
	}
	lev = leverageOrOne(lev)
	lots := ct.Lots(intent.Size, lev, price)
	if !lots.IsPositive() {
		return models.OrderResult{Success: false, Error: "size below one lot"}, nil
	}

	clientOID := intent.ClientOrderID
	if clientOID == "" {
		clientOID = uuid.NewString()
	}
	body := map[string]interface{}{
		"clientOid":  clientOID,
		"side":       string(intent.Side),
		"symbol":     intent.Symbol,
		"type":       "market",
		"leverage":   decimal.NewFromFloat(lev).String(),
		"size":       lots.IntPart(),
		"reduceOnly": intent.ReduceOnly,
	}
	if intent.Type != models.OrderMarket {
		body["stop"] = stopDirection(intent.Side, intent.Type)
		body["stopPriceType"] = "MP"
		body["stopPrice"] = ct.RoundPrice(intent.TriggerPrice).String()
	}

	var out struct {
		OrderID string `json:"orderId"`
	}
	if err := c.do(ctx, xhttp.MethodPost, "/api/v1/orders", nil, body, &out); err != nil {
		c.l.Warn("order rejected",
			applogger.String("symbol", intent.Symbol),
			applogger.String("type", string(intent.Type)),
			applogger.Error(err),
		)
		return models.OrderResult{}, err
	}
	c.trackProtective(intent, out.OrderID)

	filled, _ := lots.Mul(ct.multiplier).Mul(decimal.NewFromFloat(price)).Div(decimal.NewFromFloat(lev)).Float64()
	return models.OrderResult{Success: true, OrderID: out.OrderID, Price: price, FilledSize: filled}, nil
}

func leverageOrOne(l float64) float64 {
	if l <= 0 {
		return 1
	}
	return l
}

func (c *LiveClient) trackProtective(intent models.OrderIntent, orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch intent.Type {
	case models.OrderStopMarket, models.OrderTakeProfit:
		p := c.protect[intent.Symbol]
		if p == nil {
			p = &protective{}
			c.protect[intent.Symbol] = p
		}
		if intent.Type == models.OrderStopMarket {
			p.stopID, p.stop = orderID, intent.TriggerPrice
		} else {
			p.targetID, p.target = orderID, intent.TriggerPrice
		}
	}
}

func (c *LiveClient) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	var out struct {
		CancelledOrderIDs []string `json:"cancelledOrderIds"`
	}
	if err := c.do(ctx, xhttp.MethodDelete, "/api/v1/orders/"+url.PathEscape(orderID), nil, nil, &out); err != nil {
		return false, err
	}
	c.mu.Lock()
	for _, p := range c.protect {
		if p.stopID == orderID {
			p.stopID, p.stop = "", 0
		}
		if p.targetID == orderID {
			p.targetID, p.target = "", 0
		}
	}
	c.mu.Unlock()
	return len(out.CancelledOrderIDs) > 0, nil
}

func (c *LiveClient) toPosition(d positionDTO) models.Position {
	side := models.SideLong
	if d.CurrentQty < 0 {
		side = models.SideShort
	}
	p := models.Position{
		Symbol:     d.Symbol,
		Side:       side,
		Size:       d.PosMargin,
		Leverage:   d.RealLeverage,
		EntryPrice: d.AvgEntryPrice,
		MarkPrice:  d.MarkPrice,
		PnLPercent: d.UnrealisedRoePcnt * 100,
		Timestamp:  time.UnixMilli(d.OpeningTimestamp).UTC(),
	}
	c.mu.Lock()
	if pr := c.protect[d.Symbol]; pr != nil {
		if pr.stopID != "" {
			v := pr.stop
			p.StopLoss = &v
		}
		if pr.targetID != "" {
			v := pr.target
			p.TakeProfit = &v
		}
	}
	c.mu.Unlock()
	return p
}

func (c *LiveClient) GetPosition(ctx context.Context, symbol string) (*models.Position, error) {
	var d positionDTO
	q := url.Values{"symbol": []string{symbol}}
	if err := c.do(ctx, xhttp.MethodGet, "/api/v1/position", q, nil, &d); err != nil {
		return nil, err
	}
	if !d.IsOpen || d.CurrentQty == 0 {
		c.mu.Lock()
		delete(c.protect, symbol)
		c.mu.Unlock()
		return nil, nil
	}
	p := c.toPosition(d)
	return &p, nil
}

func (c *LiveClient) GetPositions(ctx context.Context) ([]models.Position, error) {
	var ds []positionDTO
	if err := c.do(ctx, xhttp.MethodGet, "/api/v1/positions", nil, nil, &ds); err != nil {
		return nil, err
	}
	out := make([]models.Position, 0, len(ds))
	for _, d := range ds {
		if d.IsOpen && d.CurrentQty != 0 {
			out = append(out, c.toPosition(d))
		}
	}
	return out, nil
}

func (c *LiveClient) Balance(ctx context.Context) (models.Balance, error) {
	var d accountDTO
	q := url.Values{"currency": []string{c.cfg.MarginCurrency}}
	if err := c.do(ctx, xhttp.MethodGet, "/api/v1/account-overview", q, nil, &d); err != nil {
		return models.Balance{}, err
	}
	return models.Balance{
		Wallet:        d.AccountEquity - d.UnrealisedPNL,
		Available:     d.AvailableBalance,
		UnrealizedPnL: d.UnrealisedPNL,
	}, nil
}

var _ repository.Exchange = (*LiveClient)(nil)
