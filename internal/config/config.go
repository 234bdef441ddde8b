// Package config loads service configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// SourcePostgres as MAPPING_SOURCE reads the bulk mappings from the
// terminology_reference table instead of a file.
const SourcePostgres = "postgres"

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string   `mapstructure:"KAFKA_TOPIC"`

	MappingSource string `mapstructure:"MAPPING_SOURCE"`
	OverridesFile string `mapstructure:"OVERRIDES_FILE"`
	SnapshotPath  string `mapstructure:"SNAPSHOT_PATH"`

	ICDBaseURL        string        `mapstructure:"ICD_API_BASE_URL"`
	ICDTokenURL       string        `mapstructure:"ICD_TOKEN_URL"`
	ICDClientID       string        `mapstructure:"ICD_CLIENT_ID"`
	ICDClientSecret   string        `mapstructure:"ICD_CLIENT_SECRET"`
	ICDRelease        string        `mapstructure:"ICD_RELEASE"`
	ICDSearchTerms    []string      `mapstructure:"ICD_SEARCH_TERMS"`
	ICDRequestTimeout time.Duration `mapstructure:"ICD_REQUEST_TIMEOUT"`

	SyncInterval     time.Duration `mapstructure:"SYNC_INTERVAL"`
	SyncStartupDelay time.Duration `mapstructure:"SYNC_STARTUP_DELAY"`
	SyncMaxAttempts  int           `mapstructure:"SYNC_MAX_ATTEMPTS"`
	SyncBaseBackoff  time.Duration `mapstructure:"SYNC_BASE_BACKOFF"`

	SearchLexicalWeight float64       `mapstructure:"SEARCH_LEXICAL_WEIGHT"`
	SearchCacheTTL      time.Duration `mapstructure:"SEARCH_CACHE_TTL"`
	RequestTimeout      time.Duration `mapstructure:"REQUEST_TIMEOUT"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"KAFKA_BROKERS", "KAFKA_TOPIC",
	"MAPPING_SOURCE", "OVERRIDES_FILE", "SNAPSHOT_PATH",
	"ICD_API_BASE_URL", "ICD_TOKEN_URL", "ICD_CLIENT_ID", "ICD_CLIENT_SECRET",
	"ICD_RELEASE", "ICD_SEARCH_TERMS", "ICD_REQUEST_TIMEOUT",
	"SYNC_INTERVAL", "SYNC_STARTUP_DELAY", "SYNC_MAX_ATTEMPTS", "SYNC_BASE_BACKOFF",
	"SEARCH_LEXICAL_WEIGHT", "SEARCH_CACHE_TTL", "REQUEST_TIMEOUT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "3002")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("KAFKA_TOPIC", "terminology-events")
	v.SetDefault("MAPPING_SOURCE", "data/namaste_mappings.csv")
	v.SetDefault("ICD_API_BASE_URL", "https://id.who.int")
	v.SetDefault("ICD_TOKEN_URL", "https://icdaccessmanagement.who.int/connect/token")
	v.SetDefault("ICD_RELEASE", "2024-01")
	v.SetDefault("ICD_SEARCH_TERMS", "fever,diarrhoea,cough,jaundice,headache,arthritis,indigestion,insomnia")
	v.SetDefault("ICD_REQUEST_TIMEOUT", "15s")
	v.SetDefault("SYNC_INTERVAL", "24h")
	v.SetDefault("SYNC_STARTUP_DELAY", "5s")
	v.SetDefault("SYNC_MAX_ATTEMPTS", 4)
	v.SetDefault("SYNC_BASE_BACKOFF", "1s")
	v.SetDefault("SEARCH_LEXICAL_WEIGHT", 0.7)
	v.SetDefault("SEARCH_CACHE_TTL", "5m")
	v.SetDefault("REQUEST_TIMEOUT", "10s")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers)
	cfg.ICDSearchTerms = splitList(cfg.ICDSearchTerms)
	return cfg, nil
}

// splitList flattens comma separated items and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// SyncEnabled reports whether WHO API credentials are configured.
func (c *Config) SyncEnabled() bool {
	return c.ICDClientID != "" && c.ICDClientSecret != ""
}

// UsePostgresSource reports whether bulk mappings come from Postgres.
func (c *Config) UsePostgresSource() bool {
	return strings.EqualFold(c.MappingSource, SourcePostgres)
}

// Level parses LOG_LEVEL, falling back to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate checks the values that would otherwise fail at runtime.
func (c *Config) Validate() error {
	switch c.Env {
	case "development", "production", "test":
	default:
		return fmt.Errorf("ENV must be \"development\", \"production\", or \"test\", got %q", c.Env)
	}
	if c.SearchLexicalWeight < 0 || c.SearchLexicalWeight > 1 {
		return fmt.Errorf("SEARCH_LEXICAL_WEIGHT must be within [0,1], got %v", c.SearchLexicalWeight)
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL must be positive, got %s", c.SyncInterval)
	}
	if c.SyncStartupDelay < 0 {
		return fmt.Errorf("SYNC_STARTUP_DELAY must not be negative, got %s", c.SyncStartupDelay)
	}
	if c.SyncMaxAttempts < 1 {
		return fmt.Errorf("SYNC_MAX_ATTEMPTS must be at least 1, got %d", c.SyncMaxAttempts)
	}
	if c.SyncBaseBackoff <= 0 {
		return fmt.Errorf("SYNC_BASE_BACKOFF must be positive, got %s", c.SyncBaseBackoff)
	}
	if c.ICDRequestTimeout <= 0 || c.RequestTimeout <= 0 {
		return fmt.Errorf("ICD_REQUEST_TIMEOUT and REQUEST_TIMEOUT must be positive")
	}
	if c.UsePostgresSource() && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when MAPPING_SOURCE=%s", SourcePostgres)
	}
	if c.SyncEnabled() && len(c.ICDSearchTerms) == 0 {
		return fmt.Errorf("ICD_SEARCH_TERMS must list at least one term when sync is enabled")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
