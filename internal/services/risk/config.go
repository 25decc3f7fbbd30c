package risk

import (
	"PerpGate/internal/domain/errs"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type Config struct {
	MaxDrawdownPercent    float64 `yaml:"max_drawdown_percent" default:"10" validate:"gt=0,lte=100"`
	MaxRiskPerTrade       float64 `yaml:"max_risk_per_trade" default:"0.02" validate:"gt=0,lte=1"`
	MinSize               float64 `yaml:"min_size" default:"5" validate:"gt=0"`
	Leverage              float64 `yaml:"leverage" default:"10" validate:"gte=1,lte=125"`
	MaxExposureRatio      float64 `yaml:"max_exposure_ratio" default:"3" validate:"gt=0"`
	MaxConcentrationRatio float64 `yaml:"max_concentration_ratio" default:"1" validate:"gt=0"`

	StopLossROI        float64 `yaml:"stop_loss_roi" default:"10" validate:"gt=0"`
	TakeProfitROI      float64 `yaml:"take_profit_roi" default:"20" validate:"gt=0"`
	BreakEvenBufferROI float64 `yaml:"break_even_buffer_roi" default:"1" validate:"gte=0"`
	TrailDistanceROI   float64 `yaml:"trail_distance_roi" default:"6" validate:"gt=0"`

	// Timezone decides where the trading day boundary falls.
	Timezone string `yaml:"timezone" default:"UTC"`
}

func DefaultConfig() Config {
	var c Config
	_ = defaults.Set(&c)
	return c
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errs.Wrap(errs.KindConfiguration, "risk config", err)
	}
	return nil
}
