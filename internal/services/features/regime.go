package features

import (
	"context"

	"PerpGate/internal/domain/errs"
	"PerpGate/internal/domain/models"
	"PerpGate/internal/domain/repository"
	domsvc "PerpGate/internal/domain/service"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type RegimeConfig struct {
	Window int `yaml:"window" default:"30" validate:"gte=5"`

	// VolatileSigma is the per-bar log-return sigma at or above which the market is volatile.
	VolatileSigma   float64 `yaml:"volatile_sigma" default:"0.012" validate:"gt=0"`
	TrendEfficiency float64 `yaml:"trend_efficiency" default:"0.35" validate:"gt=0,lte=1"`
	ChopEfficiency  float64 `yaml:"chop_efficiency" default:"0.15" validate:"gte=0,ltefield=TrendEfficiency"`

	// Timeframe of the candles fed to Detect. Only used to annualize volatility.
	Timeframe repository.Timeframe `yaml:"timeframe" default:"1m"`
}

func DefaultRegimeConfig() RegimeConfig {
	var c RegimeConfig
	_ = defaults.Set(&c)
	return c
}

func (c RegimeConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errs.Wrap(errs.KindConfiguration, "regime config", err)
	}
	return nil
}

// Detector classifies regime from realized volatility and efficiency ratio.
type Detector struct {
	cfg RegimeConfig
}

func NewDetector(cfg RegimeConfig) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{cfg: cfg}, nil
}

// Detect needs at least Window+1 candles. Volatility wins over trend.
func (d *Detector) Detect(_ context.Context, symbol string, candles []models.Candle) (domsvc.RegimeReading, error) {
	if len(candles) <= d.cfg.Window {
		return domsvc.RegimeReading{}, errs.Validation("regime %s: need %d candles, have %d", symbol, d.cfg.Window+1, len(candles))
	}
	rets := ComputeLogReturns(candles)
	r := domsvc.RegimeReading{
		Volatility:           RealizedVolatility(rets, d.cfg.Window, 1),
		AnnualizedVolatility: RealizedVolatility(rets, d.cfg.Window, BarsPerYearForTF(d.cfg.Timeframe)),
		EfficiencyRatio:      EfficiencyRatio(candles, d.cfg.Window),
	}
	switch {
	case r.Volatility >= d.cfg.VolatileSigma:
		r.Regime = models.RegimeVolatile
	case r.EfficiencyRatio >= d.cfg.TrendEfficiency:
		r.Regime = models.RegimeTrending
	default:
		r.Regime = models.RegimeRanging
		r.IsChoppy = r.EfficiencyRatio < d.cfg.ChopEfficiency
	}
	return r, nil
}

var _ domsvc.RegimeDetector = (*Detector)(nil)
