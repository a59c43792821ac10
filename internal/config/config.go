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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Reconcile ReconcileConfig `yaml:"reconcile" mapstructure:"reconcile"`
	Scoring   ScoringConfig   `yaml:"scoring" mapstructure:"scoring"`
	Quality   QualityConfig   `yaml:"quality" mapstructure:"quality"`
	Sources   SourcesConfig   `yaml:"sources" mapstructure:"sources"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ReconcileConfig configures clustering and sweep behavior.
type ReconcileConfig struct {
	Tolerance    float64 `yaml:"tolerance" mapstructure:"tolerance"`
	LookbackDays int     `yaml:"lookback_days" mapstructure:"lookback_days"`
	Concurrency  int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// ScoringConfig configures confidence computation.
type ScoringConfig struct {
	FreshnessWindowDays int     `yaml:"freshness_window_days" mapstructure:"freshness_window_days"`
	DecayStepDays       int     `yaml:"decay_step_days" mapstructure:"decay_step_days"`
	Floor               float64 `yaml:"floor" mapstructure:"floor"`
	CorroborationBoost  float64 `yaml:"corroboration_boost" mapstructure:"corroboration_boost"`
}

// QualityConfig configures quality rollups.
type QualityConfig struct {
	StaleAfterDays int `yaml:"stale_after_days" mapstructure:"stale_after_days"`
}

// SourcesConfig points at optional registry files.
type SourcesConfig struct {
	ProfilesPath string `yaml:"profiles_path" mapstructure:"profiles_path"`
	FieldsPath   string `yaml:"fields_path" mapstructure:"fields_path"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port          int     `yaml:"port" mapstructure:"port"`
	IngestRPS     float64 `yaml:"ingest_rps" mapstructure:"ingest_rps"`
	IngestBurst   int     `yaml:"ingest_burst" mapstructure:"ingest_burst"`
	ShutdownGrace int     `yaml:"shutdown_grace_secs" mapstructure:"shutdown_grace_secs"`
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
	v.SetEnvPrefix("COMPINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "compintel.db")
	v.SetDefault("reconcile.tolerance", 0.20)
	v.SetDefault("reconcile.lookback_days", 0)
	v.SetDefault("reconcile.concurrency", 5)
	v.SetDefault("scoring.freshness_window_days", 30)
	v.SetDefault("scoring.decay_step_days", 7)
	v.SetDefault("scoring.floor", 25)
	v.SetDefault("scoring.corroboration_boost", 10)
	v.SetDefault("quality.stale_after_days", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.ingest_rps", 50)
	v.SetDefault("server.ingest_burst", 100)
	v.SetDefault("server.shutdown_grace_secs", 10)
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

// Validate checks that configuration is coherent for the given mode.
// Modes: "cli" for one-shot commands, "serve" for the HTTP server.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	if c.Reconcile.Tolerance < 0 || c.Reconcile.Tolerance >= 1 {
		problems = append(problems, "reconcile.tolerance must be in [0, 1)")
	}
	if c.Reconcile.Concurrency < 1 || c.Reconcile.Concurrency > 50 {
		problems = append(problems, "reconcile.concurrency must be between 1 and 50")
	}
	if c.Scoring.Floor < 0 || c.Scoring.Floor > 100 {
		problems = append(problems, "scoring.floor must be in [0, 100]")
	}
	if c.Scoring.FreshnessWindowDays < 0 {
		problems = append(problems, "scoring.freshness_window_days must be >= 0")
	}
	if c.Scoring.DecayStepDays < 1 {
		problems = append(problems, "scoring.decay_step_days must be >= 1")
	}
	if c.Quality.StaleAfterDays < 1 {
		problems = append(problems, "quality.stale_after_days must be >= 1")
	}

	switch mode {
	case "cli":
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Server.IngestRPS <= 0 {
			problems = append(problems, "server.ingest_rps must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
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
