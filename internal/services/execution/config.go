package execution

import (
	"time"

	"PerpGate/internal/domain/errs"
	"PerpGate/internal/domain/models"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Config drives the decision state machine and the dispatcher.
type Config struct {
	Mode string `yaml:"mode" default:"paper" validate:"oneof=paper live"`

	// Symbol policy. An empty allow list allows every symbol not denied.
	AllowedSymbols []string `yaml:"allowed_symbols"`
	BlockedSymbols []string `yaml:"blocked_symbols"`

	MinConfidence     float64 `yaml:"min_confidence" default:"60" validate:"gte=0,lte=100"`
	MaxPositionsPaper int     `yaml:"max_positions_paper" default:"5" validate:"gte=1"`
	MaxPositionsLive  int     `yaml:"max_positions_live" default:"3" validate:"gte=1"`

	DedupWindow time.Duration `yaml:"dedup_window" default:"60s" validate:"gt=0"`

	// Regime compatibility.
	AllowedRegimes []models.Regime                      `yaml:"allowed_regimes" default:"[\"trending\",\"volatile\",\"ranging\"]"`
	TypeRegimes    map[models.SignalType][]models.Regime `yaml:"type_regimes" default:"{\"momentum\":[\"trending\",\"volatile\"],\"trend\":[\"trending\",\"volatile\"]}"`
	MinStrength    map[models.Regime]models.Strength     `yaml:"min_strength" default:"{\"ranging\":\"strong\",\"volatile\":\"moderate\"}"`

	// Open position management.
	PremiseBreakScore      float64       `yaml:"premise_break_score" default:"90" validate:"gt=0"`
	PremiseBreakWindow     time.Duration `yaml:"premise_break_window" default:"30m"`
	ReverseOnPremiseBreak  bool          `yaml:"reverse_on_premise_break"`
	TimeInvalidation       time.Duration `yaml:"time_invalidation" default:"4h"`
	TimeInvalidationMinROI float64       `yaml:"time_invalidation_min_roi" default:"2"`
	PartialTakeProfitROI   float64       `yaml:"partial_take_profit_roi" default:"15" validate:"gt=0"`
	PartialFraction        float64       `yaml:"partial_fraction" default:"0.5" validate:"gt=0,lt=1"`
	BreakEvenROI           float64       `yaml:"break_even_roi" default:"8" validate:"gt=0"`
	TrailActivationROI     float64       `yaml:"trail_activation_roi" default:"12" validate:"gt=0"`

	// Order pacing per symbol.
	OrderBurst      float64 `yaml:"order_burst" default:"3" validate:"gte=1"`
	OrdersPerSecond float64 `yaml:"orders_per_second" default:"0.5" validate:"gt=0"`

	Features FeatureConfig `yaml:"features"`
}

// FeatureConfig sets the per-setup kill-switch thresholds.
type FeatureConfig struct {
	Window            int           `yaml:"window" default:"10" validate:"gte=1"`
	MinTrades         int           `yaml:"min_trades" default:"4" validate:"gte=1"`
	MinExpectancy     float64       `yaml:"min_expectancy" default:"0"`
	MinProfitFactor   float64       `yaml:"min_profit_factor" default:"0.8" validate:"gte=0"`
	MaxWindowDrawdown float64       `yaml:"max_window_drawdown" default:"15" validate:"gt=0"`
	Cooldown          time.Duration `yaml:"cooldown" default:"6h" validate:"gt=0"`

	LifetimeMinTrades       int     `yaml:"lifetime_min_trades" default:"20" validate:"gte=1"`
	LifetimeMinExpectancy   float64 `yaml:"lifetime_min_expectancy" default:"0"`
	LifetimeMinProfitFactor float64 `yaml:"lifetime_min_profit_factor" default:"1.0" validate:"gte=0"`

	// Allow keys bypass the cooldown, Deny keys are always disabled.
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

func DefaultConfig() Config {
	var c Config
	_ = defaults.Set(&c)
	return c
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errs.Wrap(errs.KindConfiguration, "execution config", err)
	}
	if c.Features.MinTrades > c.Features.Window {
		return errs.Newf(errs.KindConfiguration, "features.min_trades %d exceeds window %d",
			c.Features.MinTrades, c.Features.Window)
	}
	return nil
}

// MaxPositions is the position-count ceiling for the configured mode.
func (c Config) MaxPositions() int {
	if c.Mode == ModeLive {
		return c.MaxPositionsLive
	}
	return c.MaxPositionsPaper
}
