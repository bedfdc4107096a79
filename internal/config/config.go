package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/zonestats/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Zones    ZonesConfig    `yaml:"zones" mapstructure:"zones"`
	Currency CurrencyConfig `yaml:"currency" mapstructure:"currency"`
	Map      MapConfig      `yaml:"map" mapstructure:"map"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Retry    RetryConfig    `yaml:"retry" mapstructure:"retry"`
	Circuit  CircuitConfig  `yaml:"circuit" mapstructure:"circuit"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the listing store.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ZonesConfig configures classification and the batch updater.
type ZonesConfig struct {
	KeywordsFile    string  `yaml:"keywords_file" mapstructure:"keywords_file"`
	BatchSize       int     `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency     int     `yaml:"concurrency" mapstructure:"concurrency"`
	OpTimeoutSecs   int     `yaml:"op_timeout_secs" mapstructure:"op_timeout_secs"`
	WritesPerSecond float64 `yaml:"writes_per_second" mapstructure:"writes_per_second"`
	MaxFailures     int     `yaml:"max_failures" mapstructure:"max_failures"`
}

// OpTimeout returns the per-call store timeout.
func (z ZonesConfig) OpTimeout() time.Duration {
	return time.Duration(z.OpTimeoutSecs) * time.Second
}

// CurrencyConfig configures price normalization. Rates are units of the
// keyed currency per one unit of Reference.
type CurrencyConfig struct {
	Reference string             `yaml:"reference" mapstructure:"reference"`
	Rates     map[string]float64 `yaml:"rates" mapstructure:"rates"`
}

// Codes returns the rates keyed by upper-case currency code. Viper lowercases
// map keys on read.
func (c CurrencyConfig) Codes() map[string]float64 {
	out := make(map[string]float64, len(c.Rates))
	for code, rate := range c.Rates {
		out[strings.ToUpper(code)] = rate
	}
	return out
}

// MapConfig points at the zone polygon source.
type MapConfig struct {
	GeoJSONPath   string `yaml:"geojson_path" mapstructure:"geojson_path"`
	ShapefilePath string `yaml:"shapefile_path" mapstructure:"shapefile_path"`
	ZoneProperty  string `yaml:"zone_property" mapstructure:"zone_property"`
}

// Enabled reports whether a polygon source is configured.
func (m MapConfig) Enabled() bool {
	return m.GeoJSONPath != "" || m.ShapefilePath != ""
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	CORSOrigins        []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
}

// RetryConfig configures retries of transient store failures.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// Policy converts the config into a retry policy.
func (r RetryConfig) Policy() resilience.Policy {
	return resilience.PolicyFromConfig(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs)
}

// CircuitConfig configures the store circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// Breaker converts the config into a breaker config.
func (c CircuitConfig) Breaker() resilience.BreakerConfig {
	return resilience.BreakerFromConfig(c.FailureThreshold, c.ResetTimeoutSecs)
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ZONESTATS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "zonestats.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("zones.batch_size", 500)
	v.SetDefault("zones.concurrency", 8)
	v.SetDefault("zones.op_timeout_secs", 10)
	v.SetDefault("zones.writes_per_second", 0)
	v.SetDefault("zones.max_failures", 100)
	v.SetDefault("currency.reference", "EUR")
	v.SetDefault("currency.rates", map[string]float64{"RON": 4.9})
	v.SetDefault("map.zone_property", "text")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_secs", 10)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 200)
	v.SetDefault("retry.max_backoff_ms", 5000)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes: "serve",
// "update", "stats", "import", "report", "classify".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "classify":
		return nil
	case "serve", "update", "stats", "import", "report":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	for code, rate := range c.Currency.Rates {
		if rate <= 0 {
			errs = append(errs, fmt.Sprintf("currency.rates.%s must be > 0", strings.ToUpper(code)))
		}
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	case "update":
		if c.Zones.BatchSize < 1 || c.Zones.BatchSize > 10000 {
			errs = append(errs, "zones.batch_size must be between 1 and 10000")
		}
		if c.Zones.Concurrency < 1 || c.Zones.Concurrency > 64 {
			errs = append(errs, "zones.concurrency must be between 1 and 64")
		}
		if c.Zones.OpTimeoutSecs < 1 {
			errs = append(errs, "zones.op_timeout_secs must be > 0")
		}
		if c.Zones.WritesPerSecond < 0 {
			errs = append(errs, "zones.writes_per_second must be >= 0")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
