package indicators

import (
	"PerpGate/internal/domain/errs"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type Config struct {
	RSIPeriod          int     `yaml:"rsi_period" default:"14" validate:"gte=2"`
	EMAFast            int     `yaml:"ema_fast" default:"9" validate:"gte=2"`
	EMASlow            int     `yaml:"ema_slow" default:"21" validate:"gtfield=EMAFast"`
	MACDFast           int     `yaml:"macd_fast" default:"12" validate:"gte=2"`
	MACDSlow           int     `yaml:"macd_slow" default:"26" validate:"gtfield=MACDFast"`
	MACDSignal         int     `yaml:"macd_signal" default:"9" validate:"gte=2"`
	BBPeriod           int     `yaml:"bb_period" default:"20" validate:"gte=2"`
	BBStdDev           float64 `yaml:"bb_std_dev" default:"2" validate:"gt=0"`
	ATRPeriod          int     `yaml:"atr_period" default:"14" validate:"gte=2"`
	VolumePeriod       int     `yaml:"volume_period" default:"20" validate:"gte=2"`
	VolumeSpike        float64 `yaml:"volume_spike" default:"1.5" validate:"gt=1"`
	HTFFactor          int     `yaml:"htf_factor" default:"4" validate:"gte=2"`
	HTFPeriod          int     `yaml:"htf_period" default:"10" validate:"gte=2"`
	DivergenceLookback int     `yaml:"divergence_lookback" default:"20" validate:"gte=5"`
	MinHistory         int     `yaml:"min_history" default:"50" validate:"gte=1"`
}

func DefaultConfig() Config {
	var c Config
	_ = defaults.Set(&c)
	return c
}

// Warmup is the fewest candles after which every indicator has a reading.
func (c Config) Warmup() int {
	w := c.MACDSlow + c.MACDSignal
	for _, n := range []int{c.RSIPeriod + 1, c.EMASlow, c.BBPeriod, c.ATRPeriod + 1, c.VolumePeriod + 1, c.HTFFactor * (c.HTFPeriod + 1)} {
		if n > w {
			w = n
		}
	}
	return w
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errs.Wrap(errs.KindConfiguration, "indicator config", err)
	}
	if c.MinHistory < c.Warmup() {
		return errs.Configuration("indicator config: min_history %d below warmup %d", c.MinHistory, c.Warmup())
	}
	return nil
}
