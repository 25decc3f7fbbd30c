package indicators

import (
	"math"
	"sync"
	"time"

	"PerpGate/internal/domain/errs"
	"PerpGate/internal/domain/models"
	"PerpGate/internal/domain/repository"
)

// Result names consumed by the composite generator.
const (
	NameRSI       = "rsi"
	NameMACD      = "macd"
	NameEMATrend  = "ema_trend"
	NameBollinger = "bollinger"
	NameATR       = "atr"
	NameVolume    = "volume"
	NameHTFTrend  = "htf_trend"
)

const maxScore = 1.5

func clampScore(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Max(-maxScore, math.Min(maxScore, v))
}

func tagFromSign(v float64) models.SignalTag {
	switch {
	case v > 0:
		return models.TagBullish
	case v < 0:
		return models.TagBearish
	default:
		return models.TagNeutral
	}
}

// Feed is the streaming indicator state for one symbol.
type Feed struct {
	cfg Config

	mu   sync.Mutex
	last time.Time
	seen int

	rsi   *RSI
	macd  *MACD
	trend *EMATrend
	bb    *Bollinger
	atr   *ATR
	vol   *Volume
	htf   *HTFTrend
}

func NewFeed(cfg Config) *Feed {
	f := &Feed{cfg: cfg}
	f.resetLocked()
	return f
}

func (f *Feed) resetLocked() {
	c := f.cfg
	f.last, f.seen = time.Time{}, 0
	f.rsi = NewRSI(c.RSIPeriod, c.DivergenceLookback)
	f.macd = NewMACD(c.MACDFast, c.MACDSlow, c.MACDSignal)
	f.trend = NewEMATrend(c.EMAFast, c.EMASlow)
	f.bb = NewBollinger(c.BBPeriod, c.BBStdDev)
	f.atr = NewATR(c.ATRPeriod)
	f.vol = NewVolume(c.VolumePeriod, c.VolumeSpike)
	f.htf = NewHTFTrend(c.HTFFactor, c.HTFPeriod)
}

// Reset drops all rolling state.
func (f *Feed) Reset() {
	f.mu.Lock()
	f.resetLocked()
	f.mu.Unlock()
}

// Update ingests the candles newer than the last one seen and returns how many were taken.
// candles must be chronological.
func (f *Feed) Update(candles []models.Candle) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range candles {
		if f.seen > 0 && !c.Bucket.After(f.last) {
			continue
		}
		f.rsi.Update(c)
		f.macd.Update(c)
		f.trend.Update(c)
		f.bb.Update(c)
		f.atr.Update(c)
		f.vol.Update(c)
		f.htf.Update(c)
		f.last = c.Bucket
		f.seen++
		n++
	}
	return n
}

func (f *Feed) Seen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen
}

func (f *Feed) readyLocked() bool {
	return f.seen >= f.cfg.MinHistory &&
		f.rsi.Ready() && f.macd.Ready() && f.trend.Ready() && f.bb.Ready() &&
		f.atr.Ready() && f.vol.Ready() && f.htf.Ready()
}

// Results returns the named indicator readings for the latest candle.
func (f *Feed) Results() (map[string]models.IndicatorResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.readyLocked() {
		return nil, errs.ErrInsufficientData
	}
	return map[string]models.IndicatorResult{
		NameRSI:       f.rsi.Result(),
		NameMACD:      f.macd.Result(),
		NameEMATrend:  f.trend.Result(),
		NameBollinger: f.bb.Result(),
		NameATR:       f.atr.Result(),
		NameVolume:    f.vol.Result(),
		NameHTFTrend:  f.htf.Result(),
	}, nil
}

// Compute is Update followed by Results.
func (f *Feed) Compute(candles []models.Candle) (map[string]models.IndicatorResult, error) {
	f.Update(candles)
	return f.Results()
}

// ATRPercent is the latest ATR as a percent of close. ok is false until the
// feed has enough history.
func (f *Feed) ATRPercent() (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.readyLocked() {
		return 0, false
	}
	return f.atr.Percent(), true
}

var _ repository.IndicatorFeed = (*Feed)(nil)

// FeedSet keeps one Feed per symbol, created on first use.
type FeedSet struct {
	cfg Config

	mu    sync.Mutex
	feeds map[string]*Feed
}

func NewFeedSet(cfg Config) *FeedSet {
	return &FeedSet{cfg: cfg, feeds: make(map[string]*Feed)}
}

func (s *FeedSet) For(symbol string) *Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.feeds[symbol]
	if !ok {
		f = NewFeed(s.cfg)
		s.feeds[symbol] = f
	}
	return f
}

// Compute routes candles to the feed of their symbol.
func (s *FeedSet) Compute(candles []models.Candle) (map[string]models.IndicatorResult, error) {
	if len(candles) == 0 {
		return nil, errs.ErrInsufficientData
	}
	return s.For(candles[len(candles)-1].Symbol).Compute(candles)
}

// ATRPercent returns the latest ATR% for symbol, nil when not yet known.
func (s *FeedSet) ATRPercent(symbol string) *float64 {
	v, ok := s.For(symbol).ATRPercent()
	if !ok {
		return nil
	}
	return &v
}

var _ repository.IndicatorFeed = (*FeedSet)(nil)
