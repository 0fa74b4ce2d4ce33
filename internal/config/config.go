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
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Provider ProviderConfig `yaml:"provider" mapstructure:"provider"`
	Hunter   HunterConfig   `yaml:"hunter" mapstructure:"hunter"`
	Qualify  QualifyConfig  `yaml:"qualify" mapstructure:"qualify"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// ProviderConfig holds lead provider API settings.
type ProviderConfig struct {
	Key           string  `yaml:"key" mapstructure:"key"`
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit     float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	PerRecordCost float64 `yaml:"per_record_cost" mapstructure:"per_record_cost"`
}

// HunterConfig configures the coverage grid scheduler.
type HunterConfig struct {
	PageSize           int            `yaml:"page_size" mapstructure:"page_size"`
	CooldownHours      int            `yaml:"cooldown_hours" mapstructure:"cooldown_hours"`
	ClaimStalenessMins int            `yaml:"claim_staleness_mins" mapstructure:"claim_staleness_mins"`
	Workers            int            `yaml:"workers" mapstructure:"workers"`
	IdleSleepSecs      int            `yaml:"idle_sleep_secs" mapstructure:"idle_sleep_secs"`
	IndustryTiers      map[string]int `yaml:"industry_tiers" mapstructure:"industry_tiers"`
}

// QualifyConfig holds the lead qualification policy thresholds.
type QualifyConfig struct {
	MinRating      float64  `yaml:"min_rating" mapstructure:"min_rating"`
	MinReviews     int      `yaml:"min_reviews" mapstructure:"min_reviews"`
	MaxReviews     int      `yaml:"max_reviews" mapstructure:"max_reviews"`
	RequireContact bool     `yaml:"require_contact" mapstructure:"require_contact"`
	ChainNames     []string `yaml:"chain_names" mapstructure:"chain_names"`
}

// ServerConfig configures the HTTP read surface.
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
	v.SetEnvPrefix("HUNTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "hunter.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("provider.base_url", "https://api.leaddata.io/v1")
	v.SetDefault("provider.timeout_secs", 30)
	v.SetDefault("provider.rate_limit", 10)
	v.SetDefault("provider.per_record_cost", 0.032)
	v.SetDefault("hunter.page_size", 20)
	v.SetDefault("hunter.cooldown_hours", 168)
	v.SetDefault("hunter.claim_staleness_mins", 15)
	v.SetDefault("hunter.workers", 3)
	v.SetDefault("hunter.idle_sleep_secs", 30)
	v.SetDefault("hunter.industry_tiers", map[string]int{
		"plumber":     3,
		"electrician": 3,
		"roofer":      3,
		"hvac":        3,
		"dentist":     2,
		"landscaper":  2,
		"auto repair": 2,
		"locksmith":   1,
	})
	v.SetDefault("qualify.min_rating", 4.0)
	v.SetDefault("qualify.min_reviews", 10)
	v.SetDefault("qualify.max_reviews", 500)
	v.SetDefault("qualify.require_contact", true)
	v.SetDefault("qualify.chain_names", []string{
		"walmart", "mcdonald", "starbucks", "subway", "domino",
		"jiffy lube", "midas", "meineke", "aspen dental",
	})

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

// Validate checks that the configuration required by a subsystem is present.
func (c *Config) Validate(subsystem string) error {
	switch subsystem {
	case "store":
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			return eris.New("config: store.database_url is required for the postgres driver")
		}
	case "provider":
		if c.Provider.Key == "" {
			return eris.New("config: provider.key is required")
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
