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
	Provider  ProviderConfig  `yaml:"provider" mapstructure:"provider"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Scheduler SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler"`
	Stages    StagesConfig    `yaml:"stages" mapstructure:"stages"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ProviderConfig holds research provider API settings.
type ProviderConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	RPS         float64 `yaml:"rps" mapstructure:"rps"`
	Burst       int     `yaml:"burst" mapstructure:"burst"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// PricingConfig overrides per-stage unit costs from the catalog.
type PricingConfig struct {
	Overrides map[string]float64 `yaml:"overrides" mapstructure:"overrides"`
}

// SchedulerConfig configures run execution.
type SchedulerConfig struct {
	Workers       int `yaml:"workers" mapstructure:"workers"`
	RetryAttempts int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBaseMs   int `yaml:"retry_base_ms" mapstructure:"retry_base_ms"`
}

// StagesConfig points at an alternative stage catalog.
type StagesConfig struct {
	CatalogPath string `yaml:"catalog_path" mapstructure:"catalog_path"`
}

// ServerConfig configures the HTTP API server.
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
	v.SetEnvPrefix("ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "enrich.db")
	v.SetDefault("provider.base_url", "https://api.research.example.com")
	v.SetDefault("provider.rps", 4.0)
	v.SetDefault("provider.burst", 8)
	v.SetDefault("provider.timeout_secs", 120)
	v.SetDefault("scheduler.workers", 5)
	v.SetDefault("scheduler.retry_attempts", 3)
	v.SetDefault("scheduler.retry_base_ms", 500)
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

// Validate checks the fields a command mode needs. Modes: "run" for
// commands that execute enrichment, "local" for store-only commands, and
// "serve" for the HTTP server.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}
	if c.Scheduler.Workers < 1 || c.Scheduler.Workers > 50 {
		problems = append(problems, "scheduler.workers must be between 1 and 50")
	}

	switch mode {
	case "run":
		if c.Provider.Key == "" {
			problems = append(problems, "provider.key is required")
		}
	case "serve":
		if c.Provider.Key == "" {
			problems = append(problems, "provider.key is required")
		}
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "local":
		// Store-only commands need nothing beyond the shared checks.
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	for code, price := range c.Pricing.Overrides {
		if price < 0 {
			problems = append(problems, "pricing.overrides."+code+" must be >= 0")
		}
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
