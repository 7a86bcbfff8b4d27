// Package config loads application configuration from file and environment
// and bootstraps the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Match  MatchConfig  `yaml:"match" mapstructure:"match"`
	Reduce ReduceConfig `yaml:"reduce" mapstructure:"reduce"`
	Atlas  AtlasConfig  `yaml:"atlas" mapstructure:"atlas"`
	Sample SampleConfig `yaml:"sample" mapstructure:"sample"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the cross-match store file.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// MatchConfig configures the remote-query fan-out pool.
type MatchConfig struct {
	Workers      int     `yaml:"workers" mapstructure:"workers"`
	ChunkSize    int     `yaml:"chunk_size" mapstructure:"chunk_size"`
	RateLimit    float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // queries/sec across the pool
	RateBurst    int     `yaml:"rate_burst" mapstructure:"rate_burst"`
	RadiusArcmin float64 `yaml:"radius_arcmin" mapstructure:"radius_arcmin"` // default search radius
}

// ReduceConfig configures the reduction pipeline.
type ReduceConfig struct {
	ChunkSize int    `yaml:"chunk_size" mapstructure:"chunk_size"`
	PlanPath  string `yaml:"plan_path" mapstructure:"plan_path"`
}

// AtlasConfig configures the sky-density atlas file.
type AtlasConfig struct {
	Path       string  `yaml:"path" mapstructure:"path"`
	Resolution float64 `yaml:"resolution" mapstructure:"resolution"` // degrees
	FillPolicy string  `yaml:"fill_policy" mapstructure:"fill_policy"`
}

// SampleConfig configures random sky sampling for density estimation.
type SampleConfig struct {
	Count        int     `yaml:"count" mapstructure:"count"`
	RadiusArcmin float64 `yaml:"radius_arcmin" mapstructure:"radius_arcmin"`
	Seed         int64   `yaml:"seed" mapstructure:"seed"`
}

// ServerConfig configures the status server.
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

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("XMATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.path", "xmatch.db")
	v.SetDefault("match.workers", 5)
	v.SetDefault("match.chunk_size", 5)
	v.SetDefault("match.rate_limit", 10.0)
	v.SetDefault("match.rate_burst", 5)
	v.SetDefault("match.radius_arcmin", 1.0)
	v.SetDefault("reduce.chunk_size", 10000)
	v.SetDefault("reduce.plan_path", "plan.yaml")
	v.SetDefault("atlas.path", "atlas.db")
	v.SetDefault("atlas.resolution", 1.0)
	v.SetDefault("atlas.fill_policy", "")
	v.SetDefault("sample.count", 1000)
	v.SetDefault("sample.radius_arcmin", 1.0)
	v.SetDefault("sample.seed", 0)
	v.SetDefault("server.port", 8080)
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
