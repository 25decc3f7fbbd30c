package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"PerpGate/internal/domain/models"
	"PerpGate/internal/domain/repository"
	applogger "PerpGate/pkg/logger"
)

type protection struct {
	stopID   string
	targetID string
}

type restingOrder struct {
	id      string
	symbol  string
	typ     models.OrderType
	side    models.OrderSide
	trigger float64
}

// Paper is an in-memory futures ledger. Market orders fill at the last mark,
// resting stop and target orders fire when Mark crosses their trigger.
type Paper struct {
	mu        sync.Mutex
	wallet    float64
	marks     map[string]float64
	positions map[string]*models.Position
	orders    map[string]restingOrder
	// protect holds the ids of the orders the position's levels came from.
	protect   map[string]protection
	seq       int
	failures  []error
	now       func() time.Time
	l         *applogger.Logger
}

type PaperOption func(*Paper)

func WithPaperClock(now func() time.Time) PaperOption {
	return func(p *Paper) { p.now = now }
}

func WithPaperLogger(l *applogger.Logger) PaperOption {
	return func(p *Paper) { p.l = l }
}

func NewPaper(wallet float64, opts ...PaperOption) *Paper {
	p := &Paper{
		wallet:    wallet,
		marks:     make(map[string]float64),
		positions: make(map[string]*models.Position),
		orders:    make(map[string]restingOrder),
		protect:   make(map[string]protection),
		now:       time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// FailNext makes the next PlaceOrder calls return errs in order.
func (p *Paper) FailNext(errs ...error) {
	p.mu.Lock()
	p.failures = append(p.failures, errs...)
	p.mu.Unlock()
}

// roi is the leveraged return on margin, in percent, of pos at mark.
func roi(pos *models.Position, mark float64) float64 {
	if pos.EntryPrice <= 0 {
		return 0
	}
	move := (mark - pos.EntryPrice) / pos.EntryPrice * 100 * leverageOrOne(pos.Leverage)
	if pos.Side == models.SideShort {
		return -move
	}
	return move
}

// Mark records the latest price for symbol and fires any resting order it crosses.
func (p *Paper) Mark(symbol string, price float64) {
	if price <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marks[symbol] = price
	pos := p.positions[symbol]
	if pos == nil {
		return
	}
	pos.MarkPrice = price
	pos.PnLPercent = roi(pos, price)

	for _, o := range p.sortedOrdersLocked(symbol) {
		if !crossed(o, price) {
			continue
		}
		p.settleLocked(symbol, pos.Size, price)
		if p.l != nil {
			p.l.Info("paper protective order filled",
				applogger.String("symbol", symbol),
				applogger.String("type", string(o.typ)),
				applogger.Float64("trigger", o.trigger),
				applogger.Float64("price", price),
			)
		}
		return
	}
}

func crossed(o restingOrder, price float64) bool {
	down := stopDirection(o.side, o.typ) == "down"
	if down {
		return price <= o.trigger
	}
	return price >= o.trigger
}

func (p *Paper) sortedOrdersLocked(symbol string) []restingOrder {
	var out []restingOrder
	for _, o := range p.orders {
		if o.symbol == symbol {
			out = append(out, o)
		}
	}
	// stops before targets so a gap through both is treated as the worse fill
	sort.Slice(out, func(i, j int) bool {
		if out[i].typ != out[j].typ {
			return out[i].typ == models.OrderStopMarket
		}
		return out[i].id < out[j].id
	})
	return out
}

// settleLocked reduces the position by size margin at price and realizes the pnl.
func (p *Paper) settleLocked(symbol string, size, price float64) float64 {
	pos := p.positions[symbol]
	if size > pos.Size {
		size = pos.Size
	}
	pnl := size * roi(pos, price) / 100
	p.wallet += pnl
	pos.Size -= size
	if pos.Size <= 1e-9 {
		delete(p.positions, symbol)
		delete(p.protect, symbol)
		for id, o := range p.orders {
			if o.symbol == symbol {
				delete(p.orders, id)
			}
		}
	}
	return size
}

func (p *Paper) nextIDLocked() string {
	p.seq++
	return fmt.Sprintf("paper-%d", p.seq)
}

func (p *Paper) usedMarginLocked() float64 {
	used := 0.0
	for _, pos := range p.positions {
		used += pos.Size
	}
	return used
}

func (p *Paper) PlaceOrder(_ context.Context, intent models.OrderIntent) (models.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.failures) > 0 {
		err := p.failures[0]
		p.failures = p.failures[1:]
		return models.OrderResult{}, err
	}
	mark, ok := p.marks[intent.Symbol]
	if !ok {
		return models.OrderResult{Success: false, Error: "no mark price for " + intent.Symbol}, nil
	}
	if intent.Size <= 0 {
		return models.OrderResult{Success: false, Error: "size must be positive"}, nil
	}
	pos := p.positions[intent.Symbol]

	if intent.Type != models.OrderMarket {
		if pos == nil {
			return models.OrderResult{Success: false, Error: "no position to protect"}, nil
		}
		if intent.TriggerPrice <= 0 {
			return models.OrderResult{Success: false, Error: "trigger price required"}, nil
		}
		id := p.nextIDLocked()
		p.orders[id] = restingOrder{id: id, symbol: intent.Symbol, typ: intent.Type, side: intent.Side, trigger: intent.TriggerPrice}
		v := intent.TriggerPrice
		pr := p.protect[intent.Symbol]
		if intent.Type == models.OrderStopMarket {
			pos.StopLoss = &v
			pr.stopID = id
		} else {
			pos.TakeProfit = &v
			pr.targetID = id
		}
		p.protect[intent.Symbol] = pr
		return models.OrderResult{Success: true, OrderID: id, Price: intent.TriggerPrice}, nil
	}

	if intent.ReduceOnly {
		if pos == nil || models.ExitSide(pos.Side) != intent.Side {
			return models.OrderResult{Success: false, Error: "no position to reduce"}, nil
		}
		filled := p.settleLocked(intent.Symbol, intent.Size, mark)
		return models.OrderResult{Success: true, OrderID: p.nextIDLocked(), Price: mark, FilledSize: filled}, nil
	}

	side := models.SideLong
	if intent.Side == models.OrderSell {
		side = models.SideShort
	}
	if pos != nil && pos.Side != side {
		return models.OrderResult{Success: false, Error: "opposite position open"}, nil
	}
	if avail := p.wallet - p.usedMarginLocked(); intent.Size > avail {
		return models.OrderResult{Success: false, Error: fmt.Sprintf("insufficient margin: %.2f > %.2f", intent.Size, avail)}, nil
	}
	if pos == nil {
		pos = &models.Position{
			Symbol:     intent.Symbol,
			Side:       side,
			Leverage:   leverageOrOne(intent.Leverage),
			EntryPrice: mark,
			Timestamp:  p.now(),
		}
		p.positions[intent.Symbol] = pos
	} else {
		// margin-weighted average entry
		pos.EntryPrice = (pos.EntryPrice*pos.Size + mark*intent.Size) / (pos.Size + intent.Size)
	}
	pos.Size += intent.Size
	pos.MarkPrice = mark
	pos.PnLPercent = roi(pos, mark)
	return models.OrderResult{Success: true, OrderID: p.nextIDLocked(), Price: mark, FilledSize: intent.Size}, nil
}

func (p *Paper) CancelOrder(_ context.Context, orderID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return false, nil
	}
	delete(p.orders, orderID)
	// A replaced order no longer backs the position's level.
	pos, pr := p.positions[o.symbol], p.protect[o.symbol]
	if pos == nil {
		return true, nil
	}
	switch orderID {
	case pr.stopID:
		pos.StopLoss = nil
		pr.stopID = ""
	case pr.targetID:
		pos.TakeProfit = nil
		pr.targetID = ""
	}
	p.protect[o.symbol] = pr
	return true, nil
}

func copyPosition(pos *models.Position) models.Position {
	c := *pos
	if pos.StopLoss != nil {
		v := *pos.StopLoss
		c.StopLoss = &v
	}
	if pos.TakeProfit != nil {
		v := *pos.TakeProfit
		c.TakeProfit = &v
	}
	return c
}

func (p *Paper) GetPosition(_ context.Context, symbol string) (*models.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos := p.positions[symbol]
	if pos == nil {
		return nil, nil
	}
	c := copyPosition(pos)
	return &c, nil
}

func (p *Paper) GetPositions(_ context.Context) ([]models.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, copyPosition(pos))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (p *Paper) Balance(_ context.Context) (models.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	unrealized := 0.0
	for _, pos := range p.positions {
		unrealized += pos.Size * pos.PnLPercent / 100
	}
	return models.Balance{
		Wallet:        p.wallet,
		Available:     p.wallet - p.usedMarginLocked(),
		UnrealizedPnL: unrealized,
	}, nil
}

// ErrPaperInjected is a ready-made failure for FailNext.
var ErrPaperInjected = errors.New("paper: injected failure")

var _ repository.Exchange = (*Paper)(nil)
