package usecase

import (
	"context"
	"strconv"
	"sync"
	"time"

	"PerpGate/internal/domain/errs"
	"PerpGate/internal/services/risk"
	applogger "PerpGate/pkg/logger"
)

// Scanner evaluates every configured symbol once per cycle.
type Scanner struct {
	eval     *Evaluator
	days     *risk.DayManager
	symbols  []string
	interval time.Duration
	l        *applogger.Logger
	now      func() time.Time
	locker   Locker
}

// Locker claims a cycle across replicas sharing one cache.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

func NewScanner(eval *Evaluator, days *risk.DayManager, symbols []string, interval time.Duration, l *applogger.Logger) *Scanner {
	if l == nil {
		l = applogger.Nop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scanner{
		eval:     eval,
		days:     days,
		symbols:  append([]string(nil), symbols...),
		interval: interval,
		l:        l,
		now:      time.Now,
	}
}

// SetLocker makes each cycle bucket run on at most one replica. The lock is
// left to expire so a late replica cannot claim the same bucket.
func (s *Scanner) SetLocker(l Locker) { s.locker = l }

// CycleResult holds per-symbol outcomes of one cycle.
type CycleResult struct {
	Evaluations map[string]*Evaluation
	Errors      map[string]error
	Skipped     bool
}

// RunCycle rolls the trading day if needed, then evaluates all symbols in
// parallel. One symbol's failure never stops the others.
func (s *Scanner) RunCycle(ctx context.Context) CycleResult {
	now := s.now()
	if !s.claim(ctx, now) {
		return CycleResult{Skipped: true}
	}
	if s.days != nil {
		if eq, err := s.eval.Equity(ctx); err == nil {
			s.days.RolloverIfNeeded(now, eq)
		} else {
			s.l.Warn("day rollover skipped", applogger.Error(err))
		}
	}

	type item struct {
		symbol string
		ev     *Evaluation
		err    error
	}
	ch := make(chan item, len(s.symbols))
	var wg sync.WaitGroup
	for _, sym := range s.symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			ev, err := s.eval.Evaluate(ctx, sym, now)
			ch <- item{sym, ev, err}
		}(sym)
	}
	go func() { wg.Wait(); close(ch) }()

	res := CycleResult{Evaluations: map[string]*Evaluation{}, Errors: map[string]error{}}
	for it := range ch {
		if it.ev != nil {
			res.Evaluations[it.symbol] = it.ev
		}
		if it.err == nil {
			continue
		}
		res.Errors[it.symbol] = it.err
		switch errs.KindOf(it.err) {
		case errs.KindValidation, errs.KindPolicy:
			s.l.Debug("symbol skipped", applogger.String("symbol", it.symbol), applogger.Error(it.err))
		default:
			s.l.Error("symbol evaluation failed",
				applogger.String("symbol", it.symbol),
				applogger.String("kind", string(errs.KindOf(it.err))),
				applogger.Error(it.err),
			)
		}
	}
	return res
}

func (s *Scanner) claim(ctx context.Context, now time.Time) bool {
	if s.locker == nil {
		return true
	}
	key := "scan:" + strconv.FormatInt(now.Truncate(s.interval).Unix(), 10)
	ok, err := s.locker.TryLock(ctx, key, s.interval)
	if err != nil {
		// A broken lock backend must not halt trading on a single replica.
		s.l.Warn("cycle lock unavailable", applogger.Error(err))
		return true
	}
	if !ok {
		s.l.Debug("cycle claimed elsewhere", applogger.String("key", key))
	}
	return ok
}

// Run ticks every interval until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.l.Info("scanner started",
		applogger.Int("symbols", len(s.symbols)),
		applogger.Duration("interval", s.interval),
	)
	for {
		select {
		case <-ctx.Done():
			s.l.Info("scanner stopped")
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}
