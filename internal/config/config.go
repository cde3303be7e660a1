// Package config loads application configuration from config.yaml and the
// REACH_ environment, and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Storage mode flags. Read once at run start; the only behavior that
// differs by mode is which store variant gets constructed.
const (
	ModeLocal = "use-local"
	ModeDB    = "use-db"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Geocode   GeocodeConfig   `yaml:"geocode" mapstructure:"geocode"`
	Isochrone IsochroneConfig `yaml:"isochrone" mapstructure:"isochrone"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Mode        string     `yaml:"mode" mapstructure:"mode"` // use-local | use-db
	DataDir     string     `yaml:"data_dir" mapstructure:"data_dir"`
	DatabaseURL string     `yaml:"database_url" mapstructure:"database_url"`
	Pool        PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// GeocodeConfig configures the Nominatim-style resolver. The public service
// forbids bursty access, so the default rate is one request per second.
type GeocodeConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// IsochroneConfig configures the routing-service client.
type IsochroneConfig struct {
	APIKey    string  `yaml:"api_key" mapstructure:"api_key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	Profile   string  `yaml:"profile" mapstructure:"profile"`
	RangeType string  `yaml:"range_type" mapstructure:"range_type"` // time | distance
	Smoothing float64 `yaml:"smoothing" mapstructure:"smoothing"`

	// Thresholds are interpreted per Units and normalized to seconds or
	// meters before any request is made.
	Thresholds []float64 `yaml:"thresholds" mapstructure:"thresholds"`
	Units      string    `yaml:"units" mapstructure:"units"` // seconds|minutes|meters|kilometers

	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxAttempts       int `yaml:"max_attempts" mapstructure:"max_attempts"`
	TimeoutSecs       int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ServerConfig configures the read-only handoff API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("REACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.mode", ModeLocal)
	v.SetDefault("store.data_dir", "data")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("geocode.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocode.user_agent", "reach-cli geo_mapper")
	v.SetDefault("geocode.rate_per_sec", 1.0)
	v.SetDefault("geocode.timeout_secs", 10)
	v.SetDefault("isochrone.base_url", "https://api.openrouteservice.org")
	v.SetDefault("isochrone.profile", "driving-car")
	v.SetDefault("isochrone.range_type", "time")
	v.SetDefault("isochrone.smoothing", 25.0)
	v.SetDefault("isochrone.thresholds", []float64{30, 60})
	v.SetDefault("isochrone.units", "minutes")
	v.SetDefault("isochrone.requests_per_minute", 20)
	v.SetDefault("isochrone.max_attempts", 3)
	v.SetDefault("isochrone.timeout_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings a command is about to depend on.
func (c *Config) Validate(concern string) error {
	switch concern {
	case "store":
		if c.Store.Mode != ModeLocal && c.Store.Mode != ModeDB {
			return eris.Errorf("config: store.mode must be %q or %q, got %q", ModeLocal, ModeDB, c.Store.Mode)
		}
		if c.Store.Mode == ModeDB && c.Store.DatabaseURL == "" {
			return eris.New("config: store.database_url is required in use-db mode")
		}
		if c.Store.Mode == ModeLocal && c.Store.DataDir == "" {
			return eris.New("config: store.data_dir is required in use-local mode")
		}
	case "isochrone":
		if c.Isochrone.APIKey == "" {
			return eris.New("config: isochrone.api_key is required")
		}
		if len(c.Isochrone.Thresholds) == 0 {
			return eris.New("config: isochrone.thresholds must not be empty")
		}
		for _, th := range c.Isochrone.Thresholds {
			if th <= 0 {
				return eris.Errorf("config: isochrone threshold must be positive, got %v", th)
			}
		}
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
