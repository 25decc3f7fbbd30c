package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"PerpGate/internal/domain/errs"
	"PerpGate/internal/domain/models"
	drepo "PerpGate/internal/domain/repository"
	domsvc "PerpGate/internal/domain/service"
	"PerpGate/internal/services/execution"
	"PerpGate/internal/services/risk"
	"PerpGate/internal/services/signal"
	applogger "PerpGate/pkg/logger"
)

// IndicatorSource is the indicator feed plus the ATR reading the generator context needs.
type IndicatorSource interface {
	drepo.IndicatorFeed
	ATRPercent(symbol string) *float64
}

// Evaluation is the outcome of one (symbol, cycle).
type Evaluation struct {
	Signal models.CompositeSignal `json:"signal"`
	Action models.Action          `json:"action"`
	Report execution.Report       `json:"report"`
}

type symbolState struct {
	prevScore float64
	window    *models.TriggerWindow
	last      *models.CompositeSignal
}

// Evaluator runs the decision pipeline for one symbol at a time. Calls for
// different symbols may run in parallel.
type Evaluator struct {
	buffer     *CandleBuffer
	indicators IndicatorSource
	regime     domsvc.RegimeDetector
	micro      drepo.MicrostructureFeed
	generator  *signal.Generator
	risk       *risk.Controller
	engine     *execution.Engine
	dispatcher *execution.Dispatcher
	exchange   drepo.Exchange
	metrics    drepo.Metrics
	l          *applogger.Logger

	mu    sync.Mutex
	state map[string]*symbolState
}

// NewEvaluator wires the pipeline. micro and metrics may be nil.
func NewEvaluator(
	buffer *CandleBuffer,
	indicators IndicatorSource,
	regime domsvc.RegimeDetector,
	micro drepo.MicrostructureFeed,
	generator *signal.Generator,
	ctl *risk.Controller,
	engine *execution.Engine,
	dispatcher *execution.Dispatcher,
	exchange drepo.Exchange,
	metrics drepo.Metrics,
	l *applogger.Logger,
) *Evaluator {
	if l == nil {
		l = applogger.Nop()
	}
	return &Evaluator{
		buffer:     buffer,
		indicators: indicators,
		regime:     regime,
		micro:      micro,
		generator:  generator,
		risk:       ctl,
		engine:     engine,
		dispatcher: dispatcher,
		exchange:   exchange,
		metrics:    metrics,
		l:          l,
		state:      make(map[string]*symbolState),
	}
}

type account struct {
	balance   models.Balance
	positions []models.Position
	micro     *models.Microstructure
}

// fetch loads balance, positions and the optional microstructure snapshot in parallel.
func (e *Evaluator) fetch(ctx context.Context, symbol string) (account, error) {
	var (
		acc            account
		balErr, posErr error
		wg             sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		acc.balance, balErr = e.exchange.Balance(ctx)
	}()
	go func() {
		defer wg.Done()
		acc.positions, posErr = e.exchange.GetPositions(ctx)
	}()
	if e.micro != nil && symbol != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := e.micro.Snapshot(ctx, symbol)
			if err != nil {
				e.l.Debug("microstructure unavailable", applogger.String("symbol", symbol), applogger.Error(err))
				return
			}
			acc.micro = m
		}()
	}
	wg.Wait()
	if balErr != nil {
		return acc, errs.External("balance", balErr)
	}
	if posErr != nil {
		return acc, errs.External("positions", posErr)
	}
	return acc, nil
}

func positionFor(positions []models.Position, symbol string) *models.Position {
	for i := range positions {
		if positions[i].Symbol == symbol && positions[i].Size > 0 {
			p := positions[i]
			return &p
		}
	}
	return nil
}

func (e *Evaluator) symbol(symbol string) symbolState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.state[symbol]
	if !ok {
		return symbolState{}
	}
	return *st
}

// Evaluate runs one cycle for symbol: indicators, regime, signal and risk
// analysis, decision, then dispatch.
func (e *Evaluator) Evaluate(ctx context.Context, symbol string, now time.Time) (*Evaluation, error) {
	start := time.Now()
	candles := e.buffer.Candles(symbol)
	e.reconcile(ctx, symbol, candles)
	if len(candles) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, errs.ErrInsufficientData)
	}
	results, err := e.indicators.Compute(candles)
	if err != nil {
		return nil, fmt.Errorf("%s indicators: %w", symbol, err)
	}
	reading, err := e.regime.Detect(ctx, symbol, candles)
	if err != nil {
		return nil, fmt.Errorf("%s regime: %w", symbol, err)
	}

	acc, err := e.fetch(ctx, symbol)
	if err != nil {
		return nil, err
	}
	pos := positionFor(acc.positions, symbol)
	if pos == nil && !e.engine.SymbolAllowed(symbol) {
		return nil, fmt.Errorf("%s: %w", symbol, errs.ErrSymbolBlocked)
	}

	dd := e.risk.ObserveEquity(acc.balance.Wallet, acc.balance.UnrealizedPnL)
	prev := e.symbol(symbol)
	in := signal.Input{
		Symbol:  symbol,
		Results: results,
		Micro:   acc.micro,
		Context: models.EvalContext{
			PrevScore:       prev.prevScore,
			ATRPercent:      e.indicators.ATRPercent(symbol),
			IsChoppy:        reading.IsChoppy,
			CandleIndex:     e.buffer.Index(symbol),
			Regime:          reading.Regime,
			DrawdownPercent: dd,
			Window:          prev.window,
		},
		Now: now,
	}

	// The generator and the risk analysis are independent of each other.
	var (
		sig      models.CompositeSignal
		analysis models.RiskAnalysis
		wg       sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		sig = e.generator.Generate(in)
	}()
	go func() {
		defer wg.Done()
		analysis = e.risk.Analyze(acc.balance, acc.positions)
	}()
	wg.Wait()

	e.mu.Lock()
	e.state[symbol] = &symbolState{prevScore: sig.CompositeScore, window: sig.Window, last: &sig}
	e.mu.Unlock()

	if e.metrics != nil {
		for _, r := range sig.BlockReasons {
			e.metrics.RecordBlock(string(r))
		}
	}

	price := candles[len(candles)-1].Close
	action := e.engine.Decide(execution.Snapshot{
		Signal:    sig,
		Position:  pos,
		Positions: acc.positions,
		Balance:   acc.balance,
		Analysis:  analysis,
		Price:     price,
		Now:       now,
	})
	rep, err := e.dispatcher.Dispatch(ctx, action)
	if e.metrics != nil {
		e.metrics.RecordLatency("evaluate", time.Since(start).Seconds())
	}
	ev := &Evaluation{Signal: sig, Action: action, Report: rep}
	if err != nil {
		return ev, err
	}
	if action.Kind() != models.ActionWait {
		e.l.Info("action dispatched",
			applogger.String("symbol", symbol),
			applogger.String("action", string(action.Kind())),
			applogger.Float64("score", sig.CompositeScore),
			applogger.Float64("confidence", sig.Confidence),
			applogger.String("correlation_id", rep.CorrelationID),
		)
	}
	return ev, nil
}

// reconcile settles a position the venue closed since the last cycle, so its
// outcome reaches the feature tracker and the risk state before this cycle decides.
func (e *Evaluator) reconcile(ctx context.Context, symbol string, candles []models.Candle) {
	mark := 0.0
	if n := len(candles); n > 0 {
		mark = candles[n-1].Close
	}
	settled, err := e.dispatcher.Reconcile(ctx, symbol, mark)
	if err != nil {
		e.l.Warn("position reconcile failed", applogger.String("symbol", symbol), applogger.Error(err))
		return
	}
	if settled {
		e.l.Info("venue-side close settled", applogger.String("symbol", symbol))
	}
}

// LastSignal returns the most recent composite signal for symbol.
func (e *Evaluator) LastSignal(symbol string) (models.CompositeSignal, bool) {
	st := e.symbol(symbol)
	if st.last == nil {
		return models.CompositeSignal{}, false
	}
	return *st.last, true
}

// Manual resolves and dispatches an operator order.
func (e *Evaluator) Manual(ctx context.Context, m execution.ManualOrder, now time.Time) (*Evaluation, error) {
	acc, err := e.fetch(ctx, "")
	if err != nil {
		return nil, err
	}
	pos := positionFor(acc.positions, m.Symbol)
	price := 0.0
	if c, ok := e.buffer.Last(m.Symbol); ok {
		price = c.Close
	} else if pos != nil {
		price = pos.MarkPrice
	}
	action := e.engine.DecideManual(m, execution.Snapshot{
		Signal:    models.CompositeSignal{Symbol: m.Symbol, Source: "manual", Timestamp: now},
		Position:  pos,
		Positions: acc.positions,
		Balance:   acc.balance,
		Analysis:  e.risk.Analyze(acc.balance, acc.positions),
		Price:     price,
		Now:       now,
	})
	rep, err := e.dispatcher.Dispatch(ctx, action)
	return &Evaluation{Action: action, Report: rep}, err
}

// Equity returns wallet plus unrealized P&L from the exchange.
func (e *Evaluator) Equity(ctx context.Context) (float64, error) {
	b, err := e.exchange.Balance(ctx)
	if err != nil {
		return 0, errs.External("balance", err)
	}
	return b.Equity(), nil
}
