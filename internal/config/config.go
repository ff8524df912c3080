package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/punchamoorthee/tcr/internal/tracing"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Config struct {
	DBSource string `mapstructure:"db_source"`
	Port     string `mapstructure:"server_port"`
	Env      string `mapstructure:"environment"`
	LogLevel string `mapstructure:"log_level"`

	Backend     string `mapstructure:"state_backend"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	GenesisFile string `mapstructure:"genesis_file"`

	RedisURL       string        `mapstructure:"redis_url"`
	EventStream    string        `mapstructure:"event_stream"`
	EventStreamMax int64         `mapstructure:"event_stream_max"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`

	JWTSecret     string        `mapstructure:"jwt_secret"`
	BlockInterval time.Duration `mapstructure:"block_interval"`

	Tracing tracing.Config `mapstructure:"tracing"`
}

// Load reads defaults, then the YAML file named by TCR_CONFIG if set, then
// environment variables. Keys map to upper-case env names with dots replaced
// by underscores, e.g. DB_SOURCE or TRACING_EXPORTER.
func Load() (*Config, error) {
	return load(viper.New(), os.Getenv("TCR_CONFIG"))
}

func load(v *viper.Viper, file string) (*Config, error) {
	v.SetDefault("db_source", "")
	v.SetDefault("server_port", "8080")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("state_backend", BackendMemory)
	v.SetDefault("sqlite_path", "data/tcr.db")
	v.SetDefault("genesis_file", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("event_stream", "tcr:events")
	v.SetDefault("event_stream_max", 100000)
	v.SetDefault("idempotency_ttl", 24*time.Hour)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("block_interval", 6*time.Second)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.service_name", "tcr-node")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.DBSource == "" {
			return fmt.Errorf("DB_SOURCE environment variable is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown state backend %q", c.Backend)
	}
	if c.JWTSecret == "" && c.Env != "development" {
		return fmt.Errorf("JWT_SECRET is required outside development")
	}
	if c.BlockInterval < 0 {
		return fmt.Errorf("block_interval must not be negative")
	}
	return nil
}

// IsDevelopment reports whether the node runs with development conveniences
// such as a default genesis and signing secret.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
