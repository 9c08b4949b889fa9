package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Anthropic   AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	MedlinePlus MedlinePlusConfig `yaml:"medlineplus" mapstructure:"medlineplus"`
	PubMed      PubMedConfig      `yaml:"pubmed" mapstructure:"pubmed"`
	Sync        SyncConfig        `yaml:"sync" mapstructure:"sync"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key                 string `yaml:"key" mapstructure:"key"`
	Model               string `yaml:"model" mapstructure:"model"`
	MaxTokens           int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestIntervalSecs int    `yaml:"request_interval_secs" mapstructure:"request_interval_secs"`
}

// MedlinePlusConfig holds the MedlinePlus provider settings.
type MedlinePlusConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// PubMedConfig holds the PubMed provider settings.
type PubMedConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Key     string `yaml:"key" mapstructure:"key"`
}

// SyncConfig configures the background ingestion and refresh schedules.
type SyncConfig struct {
	IngestIntervalHours  int `yaml:"ingest_interval_hours" mapstructure:"ingest_interval_hours"`
	RefreshIntervalHours int `yaml:"refresh_interval_hours" mapstructure:"refresh_interval_hours"`
}

// IngestInterval returns the configured ingestion cadence.
func (s SyncConfig) IngestInterval() time.Duration {
	return time.Duration(s.IngestIntervalHours) * time.Hour
}

// RefreshInterval returns the configured refresh cadence.
func (s SyncConfig) RefreshInterval() time.Duration {
	return time.Duration(s.RefreshIntervalHours) * time.Hour
}

// ServerConfig configures the read API server.
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
	v.SetEnvPrefix("TOPICSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "topicsync.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.request_interval_secs", 1)
	v.SetDefault("medlineplus.base_url", "https://medlineplus.gov")
	v.SetDefault("pubmed.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("sync.ingest_interval_hours", 24)
	v.SetDefault("sync.refresh_interval_hours", 24)

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

// Validate checks that the settings a command needs are present. Modes:
// "read" (catalog queries and migrations), "sync" (ingestion, refresh, and
// backfill passes), "serve" (the API server with background sync jobs).
func (c *Config) Validate(mode string) error {
	var problems []string

	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}

	switch mode {
	case "read":
	case "sync":
		problems = append(problems, c.syncProblems()...)
	case "serve":
		problems = append(problems, c.syncProblems()...)
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) syncProblems() []string {
	var problems []string
	if c.Anthropic.Key == "" {
		problems = append(problems, "anthropic.key is required")
	}
	if c.Sync.IngestIntervalHours < 1 || c.Sync.IngestIntervalHours > 168 {
		problems = append(problems, "sync.ingest_interval_hours must be between 1 and 168")
	}
	if c.Sync.RefreshIntervalHours < 1 || c.Sync.RefreshIntervalHours > 168 {
		problems = append(problems, "sync.refresh_interval_hours must be between 1 and 168")
	}
	return problems
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
