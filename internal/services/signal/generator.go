package signal

import (
	"math"
	"sort"
	"time"

	"PerpGate/internal/domain/models"
)

var typeMultiplier = map[models.SubSignalType]float64{
	models.SubDivergence:  1.5,
	models.SubCrossover:   1.3,
	models.SubZoneExtreme: 1.2,
	models.SubMomentum:    1.0,
	models.SubZone:        0.85,
	models.SubHook:        0.85,
}

var strengthMultiplier = map[models.Strength]float64{
	models.StrengthWeak:       0.3,
	models.StrengthModerate:   0.6,
	models.StrengthStrong:     1.0,
	models.StrengthVeryStrong: 1.5,
	models.StrengthExtreme:    1.3,
}

// Generator combines indicator results and microstructure into one CompositeSignal.
// It holds only immutable configuration and is safe for concurrent use.
type Generator struct {
	cfg Config
}

func NewGenerator(cfg Config) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	weights := make(map[string]float64, len(cfg.Weights))
	for k, v := range cfg.Weights {
		weights[k] = v
	}
	cfg.Weights = weights
	return &Generator{cfg: cfg}, nil
}

// Threshold is the qualification threshold signals are authorized against.
func (g *Generator) Threshold() float64 { return g.cfg.QualificationThreshold }

// Input is the immutable snapshot for one (symbol, cycle) evaluation.
type Input struct {
	Symbol  string
	Results map[string]models.IndicatorResult
	Micro   *models.Microstructure
	Context models.EvalContext
	Now     time.Time
}

// Generate never fails: unknown indicators are skipped and non-finite inputs count as zero.
func (g *Generator) Generate(in Input) models.CompositeSignal {
	cfg := g.cfg

	names := make([]string, 0, len(in.Results))
	for name := range in.Results {
		if cfg.Weights[name] > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	scores := make(map[string]float64, len(names))
	var (
		indicatorScore            float64
		bullish, bearish, neutral int
		signalCount               int
		divergence, crossover     bool
		crossSide                 = models.SideNone
	)

	for _, name := range names {
		r := in.Results[name]
		w := cfg.Weights[name]
		switch r.Signal {
		case models.TagBullish:
			bullish++
		case models.TagBearish:
			bearish++
		default:
			neutral++
		}

		var contrib float64
		if name == cfg.PrimaryOscillator {
			for _, sub := range r.SubSignals {
				dir := sub.Direction.Sign()
				if dir == 0 {
					continue
				}
				contrib += dir * w * typeMultiplier[sub.Type] * strengthMultiplier[sub.Strength]
				signalCount++
				switch sub.Type {
				case models.SubDivergence:
					divergence = true
				case models.SubCrossover:
					crossover = true
					crossSide = models.SideFromScore(dir)
				}
			}
		} else {
			contrib = w * finite(r.Score)
			if r.Signal == models.TagBullish || r.Signal == models.TagBearish {
				signalCount++
			}
		}
		contrib = finite(contrib)
		scores[name] = contrib
		indicatorScore += contrib
	}

	micro := g.microstructureScore(in.Micro)

	indicatorScore = clampAbs(indicatorScore, cfg.IndicatorCap)
	micro = clampAbs(micro, cfg.MicroCap)
	total := clampAbs(indicatorScore+micro, cfg.TotalCap)
	absIndicator := math.Abs(indicatorScore)

	agree := bullish
	if bearish > agree {
		agree = bearish
	}
	base := 50 +
		float64(agree)/float64(bullish+bearish+neutral+1)*30 +
		magnitudeBonus(absIndicator) +
		math.Min(1, float64(signalCount)/10)*20

	confidence := AdjustConfidence(cfg.Confidence, ConfidenceInput{
		Base:       base,
		IsChoppy:   in.Context.IsChoppy,
		ATRPercent: in.Context.ATRPercent,
		Bullish:    bullish,
		Bearish:    bearish,
	})

	side := models.SideFromScore(total)
	if crossover {
		side = crossSide
	}

	idx := in.Context.CandleIndex
	var window *models.TriggerWindow
	if crossover {
		window = &models.TriggerWindow{Candle: idx, Expires: idx + cfg.EntryWindowCandles}
	} else if in.Context.Window.Active(idx) {
		w := *in.Context.Window
		window = &w
	}

	scoreSign := math.Copysign(1, total)
	agreeing := 0
	for _, name := range names {
		if total != 0 && in.Results[name].Signal.Sign() == scoreSign {
			agreeing++
		}
	}

	gate := EvaluateGate(cfg.Gate, GateContext{
		Score:           total,
		PrevScore:       in.Context.PrevScore,
		Threshold:       cfg.QualificationThreshold,
		Confidence:      confidence,
		Agreeing:        agreeing,
		Total:           len(names),
		TrendSign:       g.tagSign(in.Results, cfg.TrendIndicator),
		HTFSign:         g.tagSign(in.Results, cfg.HTFIndicator),
		DrawdownPercent: in.Context.DrawdownPercent,
		WindowActive:    window != nil,
	})

	authorized := gate.Pass && math.Abs(total) >= cfg.QualificationThreshold && side != models.SideNone
	if authorized && window == nil {
		window = &models.TriggerWindow{Candle: idx, Expires: idx + cfg.EntryWindowCandles}
	}

	strength := strengthFor(absIndicator)
	if divergence {
		strength = models.StrengthExtreme
	}

	var confirmations []string
	for _, name := range names {
		if side != models.SideNone && in.Results[name].Signal.Sign() == side.Sign() {
			confirmations = append(confirmations, name)
		}
	}

	return models.CompositeSignal{
		Symbol:              in.Symbol,
		CompositeScore:      total,
		IndicatorScore:      indicatorScore,
		MicrostructureScore: micro,
		Authorized:          authorized,
		Side:                side,
		Confidence:          confidence,
		Window:              window,
		IndicatorScores:     scores,
		BlockReasons:        gate.Reasons,
		Confirmations:       confirmations,
		Strength:            strength,
		Type:                g.signalType(divergence, crossover, side, in.Results),
		Source:              cfg.Source,
		Regime:              in.Context.Regime,
		Timestamp:           in.Now,
	}
}

func (g *Generator) microstructureScore(m *models.Microstructure) float64 {
	if m == nil {
		return 0
	}
	var s float64
	if m.BuySellRatio != nil {
		s += (finite(*m.BuySellRatio) - 0.5) * 2 * g.cfg.BuySellWeight
	}
	if m.DOMImbalance != nil {
		s += finite(*m.DOMImbalance) * g.cfg.DOMWeight
	}
	return finite(s)
}

func (g *Generator) tagSign(results map[string]models.IndicatorResult, name string) float64 {
	if name == "" {
		return 0
	}
	r, ok := results[name]
	if !ok {
		return 0
	}
	return r.Signal.Sign()
}

func (g *Generator) signalType(divergence, crossover bool, side models.Side, results map[string]models.IndicatorResult) models.SignalType {
	switch {
	case divergence:
		return models.TypeDivergence
	case crossover:
		return models.TypeCrossover
	case side != models.SideNone && g.tagSign(results, g.cfg.TrendIndicator) == side.Sign():
		return models.TypeTrend
	default:
		return models.TypeMomentum
	}
}

func magnitudeBonus(abs float64) float64 {
	switch {
	case abs >= 120:
		return 20
	case abs >= 95:
		return 15
	case abs >= 80:
		return 10
	case abs >= 65:
		return 5
	default:
		return 0
	}
}

func strengthFor(abs float64) models.Strength {
	switch {
	case abs >= 120:
		return models.StrengthExtreme
	case abs >= 95:
		return models.StrengthVeryStrong
	case abs >= 80:
		return models.StrengthStrong
	case abs >= 65:
		return models.StrengthModerate
	default:
		return models.StrengthWeak
	}
}

func clampAbs(v, limit float64) float64 {
	return clamp(v, -limit, limit)
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
