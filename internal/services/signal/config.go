package signal

import (
	"fmt"

	"PerpGate/internal/domain/errs"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Config is the fully resolved generator configuration. Build it with DefaultConfig
// and override fields, then pass it to NewGenerator which validates it.
type Config struct {
	// PrimaryOscillator contributes only through its sub-signals, scaled by its weight.
	PrimaryOscillator string `yaml:"primary_oscillator" default:"rsi" validate:"required"`
	// Weights maps indicator name to weight. Missing or zero weight disables the indicator.
	Weights        map[string]float64 `yaml:"weights"`
	TrendIndicator string             `yaml:"trend_indicator" default:"ema_trend"`
	HTFIndicator   string             `yaml:"htf_indicator" default:"htf_trend"`

	BuySellWeight float64 `yaml:"buy_sell_weight" default:"20" validate:"gte=0"`
	DOMWeight     float64 `yaml:"dom_weight" default:"10" validate:"gte=0"`

	IndicatorCap float64 `yaml:"indicator_cap" default:"150" validate:"gt=0"`
	MicroCap     float64 `yaml:"micro_cap" default:"30" validate:"gte=0"`
	TotalCap     float64 `yaml:"total_cap" default:"160" validate:"gt=0"`

	QualificationThreshold float64 `yaml:"qualification_threshold" default:"70" validate:"gt=0"`
	EntryWindowCandles     int     `yaml:"entry_window_candles" default:"3" validate:"gte=0"`
	Source                 string  `yaml:"source" default:"composite"`

	Gate       GateConfig       `yaml:"gate"`
	Confidence ConfidenceConfig `yaml:"confidence"`
}

// GateConfig toggles each entry condition independently.
type GateConfig struct {
	DeadZoneEnabled bool    `yaml:"dead_zone_enabled" default:"true"`
	DeadZone        float64 `yaml:"dead_zone" default:"40" validate:"gte=0"`

	// EdgeTrigger rejects a score that stayed above threshold instead of crossing it.
	EdgeTrigger bool `yaml:"edge_trigger" default:"true"`

	ConfidenceEnabled bool    `yaml:"confidence_enabled" default:"true"`
	MinConfidence     float64 `yaml:"min_confidence" default:"55" validate:"gte=0,lte=100"`

	ConfluenceEnabled  bool    `yaml:"confluence_enabled" default:"true"`
	MinConfluenceCount int     `yaml:"min_confluence_count" default:"3" validate:"gte=0"`
	MinConfluencePct   float64 `yaml:"min_confluence_pct" default:"50" validate:"gte=0,lte=100"`

	TrendAlignment bool `yaml:"trend_alignment" default:"true"`

	DrawdownEnabled    bool    `yaml:"drawdown_enabled" default:"true"`
	MaxDrawdownPercent float64 `yaml:"max_drawdown_percent" default:"8" validate:"gt=0"`

	// Strict requires every enabled optional condition. Otherwise a majority is enough.
	Strict bool `yaml:"strict"`
}

// ConfidenceConfig controls the post-scoring confidence penalties.
type ConfidenceConfig struct {
	Enabled              bool    `yaml:"enabled" default:"true"`
	ChopPenalty          float64 `yaml:"chop_penalty" default:"15" validate:"gte=0"`
	ATRElevatedThreshold float64 `yaml:"atr_elevated_threshold" default:"2.5" validate:"gte=0"`
	ATRElevatedPenalty   float64 `yaml:"atr_elevated_penalty" default:"7" validate:"gte=0"`
	ATRHighThreshold     float64 `yaml:"atr_high_threshold" default:"4" validate:"gtefield=ATRElevatedThreshold"`
	ATRHighPenalty       float64 `yaml:"atr_high_penalty" default:"15" validate:"gte=0"`
	ConflictPenalty      float64 `yaml:"conflict_penalty" default:"3" validate:"gte=0"`
}

// DefaultWeights are the indicator weights used when none are configured.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		"rsi":       20,
		"macd":      15,
		"ema_trend": 15,
		"bollinger": 10,
		"volume":    8,
		"htf_trend": 10,
	}
}

// DefaultConfig returns a configuration with every documented default applied.
func DefaultConfig() Config {
	var c Config
	_ = defaults.Set(&c)
	c.Weights = DefaultWeights()
	return c
}

// Validate checks ranges and cross-field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errs.Wrap(errs.KindConfiguration, "signal config", err)
	}
	if c.Weights[c.PrimaryOscillator] <= 0 {
		return errs.Configuration("signal config: primary oscillator %q has no weight", c.PrimaryOscillator)
	}
	for name, w := range c.Weights {
		if w < 0 {
			return errs.Configuration("signal config: negative weight for %q", name)
		}
	}
	if c.Gate.DeadZoneEnabled && c.Gate.DeadZone > c.QualificationThreshold {
		return errs.Configuration("signal config: dead zone %.1f above qualification threshold %.1f",
			c.Gate.DeadZone, c.QualificationThreshold)
	}
	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("threshold=%.0f caps=%.0f/%.0f/%.0f strict=%t",
		c.QualificationThreshold, c.IndicatorCap, c.MicroCap, c.TotalCap, c.Gate.Strict)
}
