package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"PerpGate/internal/domain/errs"
	"PerpGate/internal/domain/models"
	"PerpGate/internal/domain/repository"
	"PerpGate/internal/service/ratelimit"
	"PerpGate/internal/services/risk"
	applogger "PerpGate/pkg/logger"

	"github.com/google/uuid"
)

// ErrOrderPaced is returned when the per-symbol order budget is spent. Retry next cycle.
var ErrOrderPaced = errs.New(errs.KindRisk, "order pacing limit reached")

const auditComponent = "dispatcher"

// Report describes what Dispatch did with one action.
type Report struct {
	CorrelationID string               `json:"correlation_id"`
	Kind          models.ActionKind    `json:"kind"`
	Symbol        string               `json:"symbol,omitempty"`
	Executed      bool                 `json:"executed"`
	Duplicate     bool                 `json:"duplicate,omitempty"`
	Orders        []models.OrderResult `json:"orders,omitempty"`
}

// Dispatcher performs the side effects of an action. Effects for one symbol
// are serialized; different symbols proceed in parallel.
type Dispatcher struct {
	cfg        Config
	exchange   repository.Exchange
	risk       *risk.Controller
	lifecycles *LifecycleStore
	features   *FeatureTracker
	idem       *IdempotencyCache
	limiter    *ratelimit.Limiter

	audit    repository.AuditLog
	outcomes repository.OutcomeStore
	metrics  repository.Metrics
	l        *applogger.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	now func() time.Time
}

// DispatcherOption configures optional collaborators.
type DispatcherOption func(*Dispatcher)

func WithAudit(a repository.AuditLog) DispatcherOption {
	return func(d *Dispatcher) { d.audit = a }
}

func WithOutcomeStore(s repository.OutcomeStore) DispatcherOption {
	return func(d *Dispatcher) { d.outcomes = s }
}

func WithMetrics(m repository.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithLogger(l *applogger.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.l = l }
}

func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(
	cfg Config,
	exchange repository.Exchange,
	ctl *risk.Controller,
	lifecycles *LifecycleStore,
	features *FeatureTracker,
	idem *IdempotencyCache,
	limiter *ratelimit.Limiter,
	opts ...DispatcherOption,
) *Dispatcher {
	d := &Dispatcher{
		cfg:        cfg,
		exchange:   exchange,
		risk:       ctl,
		lifecycles: lifecycles,
		features:   features,
		idem:       idem,
		limiter:    limiter,
		locks:      make(map[string]*sync.Mutex),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.limiter == nil {
		d.limiter = ratelimit.New()
	}
	return d
}

func (d *Dispatcher) lock(symbol string) func() {
	d.locksMu.Lock()
	m, ok := d.locks[symbol]
	if !ok {
		m = &sync.Mutex{}
		d.locks[symbol] = m
	}
	d.locksMu.Unlock()
	m.Lock()
	return m.Unlock
}

// Dispatch executes a. Waits only update metrics. The returned error is an
// external or risk kind error; audit and persistence failures never surface here.
func (d *Dispatcher) Dispatch(ctx context.Context, a models.Action) (Report, error) {
	start := time.Now()
	rep := Report{CorrelationID: uuid.NewString(), Kind: a.Kind()}

	var err error
	switch act := a.(type) {
	case models.Wait:
		rep.Symbol = act.Symbol
		if d.metrics != nil {
			d.metrics.RecordDecision(act.Symbol, a.Kind())
		}
		return rep, nil
	case models.OpenPosition:
		rep.Symbol = act.Symbol
		err = d.withSymbol(act.Symbol, true, func() error { return d.open(ctx, act, &rep) })
	case models.ClosePosition:
		rep.Symbol = act.Symbol
		err = d.withSymbol(act.Symbol, true, func() error { return d.close(ctx, act, &rep) })
	case models.PartialTakeProfit:
		rep.Symbol = act.Symbol
		err = d.withSymbol(act.Symbol, true, func() error { return d.partial(ctx, act, &rep) })
	case models.SetBreakEven:
		rep.Symbol = act.Symbol
		err = d.withSymbol(act.Symbol, true, func() error { return d.breakEven(ctx, act, &rep) })
	case models.TrailTakeProfit:
		rep.Symbol = act.Symbol
		err = d.withSymbol(act.Symbol, true, func() error { return d.trail(ctx, act, &rep) })
	case models.ReversePosition:
		rep.Symbol = act.Close.Symbol
		err = d.withSymbol(act.Close.Symbol, true, func() error {
			if err := d.close(ctx, act.Close, &rep); err != nil {
				return err
			}
			return d.open(ctx, act.Open, &rep)
		})
	case models.EmergencyCloseAll:
		err = d.emergency(ctx, act, &rep)
	default:
		err = errs.Newf(errs.KindValidation, "unknown action %T", a)
	}

	if d.metrics != nil {
		d.metrics.RecordDecision(rep.Symbol, a.Kind())
		d.metrics.RecordLatency("dispatch", time.Since(start).Seconds())
		if err != nil {
			d.metrics.RecordError(string(errs.KindOf(err)))
		}
	}
	if err != nil {
		d.emit(ctx, rep, "action_failed", models.SeverityError, map[string]interface{}{
			"action": a,
			"error":  err.Error(),
		})
		return rep, err
	}
	if rep.Executed {
		d.emit(ctx, rep, "action_executed", models.SeverityInfo, map[string]interface{}{
			"action": a,
			"orders": rep.Orders,
		})
	}
	return rep, nil
}

// withSymbol runs fn under the symbol lock, after pacing when paced is set.
func (d *Dispatcher) withSymbol(symbol string, paced bool, fn func() error) error {
	unlock := d.lock(symbol)
	defer unlock()
	if paced && !d.limiter.Allow(symbol, d.cfg.OrderBurst, d.cfg.OrdersPerSecond) {
		return ErrOrderPaced
	}
	return fn()
}

func (d *Dispatcher) place(ctx context.Context, kind models.ActionKind, intent models.OrderIntent, rep *Report) (models.OrderResult, error) {
	if intent.ClientOrderID == "" {
		intent.ClientOrderID = uuid.NewString()
	}
	res, err := d.exchange.PlaceOrder(ctx, intent)
	if err == nil && !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "order rejected"
		}
		err = errors.New(msg)
	}
	if d.metrics != nil {
		result := "success"
		if err != nil {
			result = "failed"
		}
		d.metrics.RecordOrder(kind, result)
	}
	if err != nil {
		return res, errs.External(fmt.Sprintf("%s %s %s", intent.Type, intent.Side, intent.Symbol), err)
	}
	rep.Orders = append(rep.Orders, res)
	return res, nil
}

func (d *Dispatcher) open(ctx context.Context, act models.OpenPosition, rep *Report) error {
	now := d.now()
	if act.IdempotencyKey != "" && d.idem.Seen(act.IdempotencyKey, now) {
		rep.Duplicate = true
		return nil
	}

	res, err := d.place(ctx, models.ActionOpen, models.OrderIntent{
		Symbol:   act.Symbol,
		Side:     models.EntrySide(act.Side),
		Type:     models.OrderMarket,
		Size:     act.Size,
		Leverage: act.Leverage,
	}, rep)
	if err != nil {
		return err
	}
	rep.Executed = true
	if act.IdempotencyKey != "" {
		d.idem.Record(act.IdempotencyKey, now)
		d.idem.Persist(ctx, now)
	}

	lc := models.Lifecycle{
		Symbol:          act.Symbol,
		Side:            act.Side,
		OpenedAt:        now,
		FeatureKey:      act.FeatureKey,
		EntryScore:      act.Score,
		EntryConfidence: act.Confidence,
		Regime:          act.Regime,
		Leverage:        act.Leverage,
		Size:            act.Size,
	}

	// Companion orders are best effort; the entry stays live if they fail.
	entry := act.ReferencePrice
	if res.Price > 0 {
		entry = res.Price
	}
	stop, target := act.StopLoss, act.TakeProfit
	if res.Price > 0 && act.ReferencePrice > 0 && res.Price != act.ReferencePrice {
		stop, target = d.risk.Levels(act.Side, entry, act.Leverage)
	}
	lc.EntryPrice = entry
	if stop > 0 {
		if lc.StopOrderID = d.companion(ctx, act.Symbol, act.Side, act.Size, models.OrderStopMarket, stop, rep); lc.StopOrderID != "" {
			lc.StopPrice = stop
		}
	}
	if target > 0 {
		if lc.TargetOrderID = d.companion(ctx, act.Symbol, act.Side, act.Size, models.OrderTakeProfit, target, rep); lc.TargetOrderID != "" {
			lc.TargetPrice = target
		}
	}
	d.lifecycles.Open(lc)

	if d.l != nil {
		d.l.Info("position opened",
			applogger.String("symbol", act.Symbol),
			applogger.String("side", string(act.Side)),
			applogger.Float64("size", act.Size),
			applogger.Float64("entry", entry),
			applogger.Float64("stop_loss", stop),
			applogger.Float64("take_profit", target),
			applogger.String("feature_key", act.FeatureKey),
		)
	}
	return nil
}

// companion places a reduce-only protective order and returns its id, or "" on failure.
func (d *Dispatcher) companion(ctx context.Context, symbol string, side models.Side, size float64, typ models.OrderType, price float64, rep *Report) string {
	res, err := d.place(ctx, models.ActionOpen, models.OrderIntent{
		Symbol:       symbol,
		Side:         models.ExitSide(side),
		Type:         typ,
		Size:         size,
		TriggerPrice: price,
		ReduceOnly:   true,
	}, rep)
	if err != nil {
		if d.l != nil {
			d.l.Warn("companion order failed",
				applogger.String("symbol", symbol),
				applogger.String("type", string(typ)),
				applogger.Float64("trigger_price", price),
				applogger.Error(err),
			)
		}
		d.emit(ctx, *rep, "companion_failed", models.SeverityWarning, map[string]interface{}{
			"type":          typ,
			"trigger_price": price,
			"error":         err.Error(),
		})
		return ""
	}
	return res.OrderID
}

func (d *Dispatcher) close(ctx context.Context, act models.ClosePosition, rep *Report) error {
	now := d.now()
	if act.IdempotencyKey != "" && d.idem.Seen(act.IdempotencyKey, now) {
		rep.Duplicate = true
		return nil
	}
	if _, err := d.place(ctx, models.ActionClose, models.OrderIntent{
		Symbol:     act.Symbol,
		Side:       models.ExitSide(act.Side),
		Type:       models.OrderMarket,
		Size:       act.Size,
		ReduceOnly: true,
	}, rep); err != nil {
		return err
	}
	rep.Executed = true
	if act.IdempotencyKey != "" {
		d.idem.Record(act.IdempotencyKey, now)
		d.idem.Persist(ctx, now)
	}
	d.settle(ctx, act.Symbol, act.Side, act.Size, act.PnLPercent, act.Reason, now)
	return nil
}

// settle records the realized outcome and discards the lifecycle record.
func (d *Dispatcher) settle(ctx context.Context, symbol string, side models.Side, size, pnlPercent float64, reason string, now time.Time) {
	lc, ok := d.lifecycles.Close(symbol)
	if ok {
		for _, id := range []string{lc.StopOrderID, lc.TargetOrderID} {
			d.cancel(ctx, symbol, id)
		}
	}
	d.risk.RecordTrade(size * pnlPercent / 100)

	o := models.Outcome{
		Symbol:     symbol,
		FeatureKey: lc.FeatureKey,
		Side:       side,
		PnLPercent: pnlPercent,
		Reason:     reason,
		OpenedAt:   lc.OpenedAt,
		ClosedAt:   now,
	}
	if o.FeatureKey != "" {
		d.features.Record(o, now)
	}
	if d.outcomes != nil {
		if err := d.outcomes.Append(ctx, o); err != nil && d.l != nil {
			d.l.Warn("outcome append failed", applogger.String("symbol", symbol), applogger.Error(err))
		}
	}
	if d.l != nil {
		d.l.Info("position closed",
			applogger.String("symbol", symbol),
			applogger.String("reason", reason),
			applogger.Float64("pnl_percent", pnlPercent),
			applogger.String("feature_key", lc.FeatureKey),
		)
	}
}

func (d *Dispatcher) cancel(ctx context.Context, symbol, orderID string) {
	if orderID == "" {
		return
	}
	ok, err := d.exchange.CancelOrder(ctx, orderID)
	if (err != nil || !ok) && d.l != nil {
		d.l.Debug("cancel order not confirmed",
			applogger.String("symbol", symbol),
			applogger.String("order_id", orderID),
			applogger.Any("error", err),
		)
	}
}

func (d *Dispatcher) partial(ctx context.Context, act models.PartialTakeProfit, rep *Report) error {
	if _, err := d.place(ctx, models.ActionPartialTakeProfit, models.OrderIntent{
		Symbol:     act.Symbol,
		Side:       models.ExitSide(act.Side),
		Type:       models.OrderMarket,
		Size:       act.Size,
		ReduceOnly: true,
	}, rep); err != nil {
		return err
	}
	rep.Executed = true
	d.lifecycles.MarkPartial(act.Symbol)
	d.risk.RecordTrade(act.Size * act.PnLPercent / 100)
	return nil
}

func (d *Dispatcher) breakEven(ctx context.Context, act models.SetBreakEven, rep *Report) error {
	res, err := d.place(ctx, models.ActionSetBreakEven, models.OrderIntent{
		Symbol:       act.Symbol,
		Side:         models.ExitSide(act.Side),
		Type:         models.OrderStopMarket,
		Size:         act.Size,
		TriggerPrice: act.StopPrice,
		ReduceOnly:   true,
	}, rep)
	if err != nil {
		return err
	}
	rep.Executed = true
	d.replaceProtective(ctx, act.Symbol, protective{stopID: res.OrderID, stop: act.StopPrice})
	return nil
}

func (d *Dispatcher) trail(ctx context.Context, act models.TrailTakeProfit, rep *Report) error {
	res, err := d.place(ctx, models.ActionTrailTakeProfit, models.OrderIntent{
		Symbol:       act.Symbol,
		Side:         models.ExitSide(act.Side),
		Type:         models.OrderTakeProfit,
		Size:         act.Size,
		TriggerPrice: act.TakeProfit,
		ReduceOnly:   true,
	}, rep)
	if err != nil {
		return err
	}
	rep.Executed = true
	p := protective{targetID: res.OrderID, target: act.TakeProfit}
	if act.StopLoss > 0 {
		if sres, err := d.place(ctx, models.ActionTrailTakeProfit, models.OrderIntent{
			Symbol:       act.Symbol,
			Side:         models.ExitSide(act.Side),
			Type:         models.OrderStopMarket,
			Size:         act.Size,
			TriggerPrice: act.StopLoss,
			ReduceOnly:   true,
		}, rep); err == nil {
			p.stopID, p.stop = sres.OrderID, act.StopLoss
		} else if d.l != nil {
			d.l.Warn("trailing stop update failed", applogger.String("symbol", act.Symbol), applogger.Error(err))
		}
	}
	d.replaceProtective(ctx, act.Symbol, p)
	return nil
}

// protective names newly placed protective orders. Empty ids are left alone.
type protective struct {
	stopID, targetID string
	stop, target     float64
}

// replaceProtective swaps in new stop/target orders and cancels the ones they replace.
func (d *Dispatcher) replaceProtective(ctx context.Context, symbol string, p protective) {
	lc, ok := d.lifecycles.Get(symbol)
	if !ok {
		return
	}
	if p.stopID != "" {
		d.cancel(ctx, symbol, lc.StopOrderID)
		lc.StopOrderID, lc.StopPrice = p.stopID, p.stop
	}
	if p.targetID != "" {
		d.cancel(ctx, symbol, lc.TargetOrderID)
		lc.TargetOrderID, lc.TargetPrice = p.targetID, p.target
	}
	d.lifecycles.Open(lc)
}

// Reconcile settles a tracked position the venue closed on its own, usually a
// filled stop or target. mark is the latest price for symbol. While the
// position is still open its size and ROI are refreshed instead. It reports
// whether an outcome was recorded.
func (d *Dispatcher) Reconcile(ctx context.Context, symbol string, mark float64) (bool, error) {
	settled := false
	err := d.withSymbol(symbol, false, func() error {
		lc, ok := d.lifecycles.Get(symbol)
		if !ok {
			return nil
		}
		pos, err := d.exchange.GetPosition(ctx, symbol)
		if err != nil {
			return errs.External("position "+symbol, err)
		}
		if pos != nil && pos.Size > 0 && pos.Side == lc.Side {
			d.lifecycles.Observe(symbol, pos.Size, pos.PnLPercent)
			return nil
		}

		roi := exitROI(lc, mark)
		now := d.now()
		d.settle(ctx, symbol, lc.Side, lc.Size, roi, models.CloseReasonProtective, now)
		settled = true
		d.emit(ctx, Report{CorrelationID: uuid.NewString(), Kind: models.ActionClose, Symbol: symbol},
			"position_reconciled", models.SeverityInfo, map[string]interface{}{
				"side":        lc.Side,
				"size":        lc.Size,
				"pnl_percent": roi,
				"feature_key": lc.FeatureKey,
			})
		return nil
	})
	return settled, err
}

// exitROI estimates the realized ROI of a venue-side exit. A mark at or beyond
// a protective level means that level filled. Otherwise the last observed ROI stands.
func exitROI(lc models.Lifecycle, mark float64) float64 {
	if lc.EntryPrice <= 0 || mark <= 0 {
		return lc.LastPnLPercent
	}
	long := lc.Side == models.SideLong
	if lc.StopPrice > 0 && (long && mark <= lc.StopPrice || !long && mark >= lc.StopPrice) {
		return lc.ROIAt(lc.StopPrice)
	}
	if lc.TargetPrice > 0 && (long && mark >= lc.TargetPrice || !long && mark <= lc.TargetPrice) {
		return lc.ROIAt(lc.TargetPrice)
	}
	return lc.LastPnLPercent
}

// emergency flattens every open position. It is never paced.
func (d *Dispatcher) emergency(ctx context.Context, act models.EmergencyCloseAll, rep *Report) error {
	positions, err := d.exchange.GetPositions(ctx)
	if err != nil {
		return errs.External("list positions", err)
	}
	if d.l != nil {
		d.l.Error("emergency close all",
			applogger.String("reason", act.Reason),
			applogger.Int("positions", len(positions)),
		)
	}
	var failed []error
	for _, p := range positions {
		if p.Size <= 0 {
			continue
		}
		symbol := p.Symbol
		err := d.withSymbol(symbol, false, func() error {
			// Another emergency pass may have flattened it since the listing.
			cur, err := d.exchange.GetPosition(ctx, symbol)
			if err != nil {
				return errs.External("position "+symbol, err)
			}
			if cur == nil || cur.Size <= 0 {
				return nil
			}
			return d.close(ctx, models.ClosePosition{
				Symbol:     symbol,
				Side:       cur.Side,
				Size:       cur.Size,
				PnLPercent: cur.PnLPercent,
				Reason:     models.CloseReasonEmergency,
			}, rep)
		})
		if err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return errors.Join(failed...)
	}
	return nil
}

func (d *Dispatcher) emit(ctx context.Context, rep Report, eventType string, sev models.Severity, payload map[string]interface{}) {
	if d.audit == nil {
		return
	}
	ev := models.AuditEvent{
		Timestamp:     d.now(),
		EventType:     eventType,
		CorrelationID: rep.CorrelationID,
		Component:     auditComponent,
		Severity:      sev,
		Symbol:        rep.Symbol,
		Payload:       payload,
	}
	if err := d.audit.Log(ctx, ev); err != nil && d.l != nil {
		d.l.Warn("audit log failed", applogger.String("event_type", eventType), applogger.Error(err))
	}
}

// Flush persists the idempotency snapshot. Call on shutdown.
func (d *Dispatcher) Flush(ctx context.Context) {
	d.idem.Persist(ctx, d.now())
}
