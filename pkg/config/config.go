package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"PerpGate/internal/domain/errs"
	"PerpGate/internal/service/exchange"
	"PerpGate/internal/service/stream"
	"PerpGate/internal/services/analytics"
	"PerpGate/internal/services/execution"
	"PerpGate/internal/services/features"
	"PerpGate/internal/services/indicators"
	"PerpGate/internal/services/risk"
	"PerpGate/internal/services/signal"
	applogger "PerpGate/pkg/logger"
	xutil "PerpGate/pkg/util"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

type Config struct {
	Environment string   `yaml:"environment" default:"development" validate:"oneof=development staging production"`
	Symbols     []string `yaml:"symbols"`
	Server      struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		SlowRequest     time.Duration `yaml:"slow_request" default:"1s"`
		CORSOrigins     []string      `yaml:"cors_origins"`
	} `yaml:"server"`
	Logging struct {
		Level     string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format    string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output    string `yaml:"output" default:"stdout"`
		Collector struct {
			Enabled   bool          `yaml:"enabled"`
			Topic     string        `yaml:"topic" default:"perpgate.logs"`
			Interval  time.Duration `yaml:"interval" default:"30s"`
			Threshold int           `yaml:"threshold" default:"100"`
		} `yaml:"collector"`
	} `yaml:"logging"`
	Scanner struct {
		Interval      time.Duration `yaml:"interval" default:"60s" validate:"gt=0"`
		BufferSize    int           `yaml:"buffer_size" default:"500" validate:"gte=50"`
		WarmupCandles int           `yaml:"warmup_candles" default:"200" validate:"gte=0"`
	} `yaml:"scanner"`
	State struct {
		// Dir holds the idempotency snapshot when redis is disabled.
		Dir string `yaml:"dir" default:"data"`
	} `yaml:"state"`

	Signal         signal.Config                  `yaml:"signal"`
	Risk           risk.Config                    `yaml:"risk"`
	Execution      execution.Config               `yaml:"execution"`
	Indicators     indicators.Config              `yaml:"indicators"`
	Regime         features.RegimeConfig          `yaml:"regime"`
	Exchange       exchange.Config                `yaml:"exchange"`
	Stream         stream.Config                  `yaml:"stream"`
	Microstructure analytics.MicrostructureConfig `yaml:"microstructure"`

	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers" default:"[\"localhost:9092\"]"`
		AuditTopic   string   `yaml:"audit_topic" default:"perpgate.audit"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"perpgate-audit"`
			Workers    int           `yaml:"workers" default:"2"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"perpgate.audit.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"perpgate"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert" default:"true"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"perpgate"`
	} `yaml:"redis"`
}

// Load applies defaults, then the YAML file at path (if any), then environment
// overrides, and validates the result. A .env file in the working directory is
// read first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	c := &Config{}
	if err := defaults.Set(c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.Wrap(errs.KindConfiguration, "read config", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, errs.Wrap(errs.KindConfiguration, "parse config", err)
		}
	}
	c.applyEnv()
	if len(c.Signal.Weights) == 0 {
		c.Signal.Weights = signal.DefaultWeights()
	}
	for i, s := range c.Symbols {
		c.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Symbols = xutil.SplitCSV(v)
	}
	if v := os.Getenv("TRADING_MODE"); v != "" {
		c.Execution.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("EXCHANGE_API_KEY"); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv("EXCHANGE_API_SECRET"); v != "" {
		c.Exchange.APISecret = v
	}
	if v := os.Getenv("EXCHANGE_API_PASSPHRASE"); v != "" {
		c.Exchange.APIPassphrase = v
	}
	if v := os.Getenv("EXCHANGE_BASE_URL"); v != "" {
		c.Exchange.BaseURL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = xutil.SplitCSV(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		if host, port, err := net.SplitHostPort(v); err == nil {
			c.Redis.Host = host
			c.Redis.Port = xutil.ParseIntDefault(port, c.Redis.Port)
		}
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
}

// Validate checks every section. Live mode additionally requires credentials
// and an allow-listed exchange endpoint.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return errs.Configuration("symbols cannot be empty")
	}
	if err := validate.Struct(c); err != nil {
		return errs.Wrap(errs.KindConfiguration, "config", err)
	}
	for _, check := range []func() error{
		c.Signal.Validate,
		c.Risk.Validate,
		c.Execution.Validate,
		c.Indicators.Validate,
		c.Regime.Validate,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	if _, err := time.LoadLocation(c.Risk.Timezone); err != nil {
		return errs.Wrap(errs.KindConfiguration, "risk.timezone", err)
	}
	if c.Execution.Mode == execution.ModeLive {
		if err := c.Exchange.CheckLive(); err != nil {
			return errs.Wrap(errs.KindConfiguration, "exchange", err)
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errs.Configuration("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}

// LoggerConfig maps the logging section onto the logger package.
func (c *Config) LoggerConfig() *applogger.Config {
	return &applogger.Config{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		Output:     c.Logging.Output,
		TimeFormat: time.RFC3339Nano,
	}
}

// Location is the trading-day timezone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Risk.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) Live() bool { return c.Execution.Mode == execution.ModeLive }

// Summary is the one-line description printed by check-config.
func (c *Config) Summary() string {
	return fmt.Sprintf("env=%s mode=%s symbols=%s signal[%s] kafka=%t clickhouse=%t redis=%t",
		c.Environment, c.Execution.Mode, strings.Join(c.Symbols, ","), c.Signal,
		c.Kafka.Enabled, c.ClickHouse.Enabled, c.Redis.Enabled)
}

// IsConfigError reports whether err came from loading or validating configuration.
func IsConfigError(err error) bool {
	return errs.IsKind(err, errs.KindConfiguration)
}
