package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/aevon-lab/project-lattice/internal/aggregation"
)

const envPrefix = "LATTICE_"

// Config is the top-level configuration of the lattice command.
type Config struct {
	Store     StoreConfig     `koanf:"store"`
	Schema    SchemaConfig    `koanf:"schema"`
	Execution ExecutionConfig `koanf:"execution"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

type StoreConfig struct {
	Type     string         `koanf:"type"` // memory | postgres | badger
	Postgres PostgresConfig `koanf:"postgres"`
	Badger   BadgerConfig   `koanf:"badger"`
}

type PostgresConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type BadgerConfig struct {
	Path       string `koanf:"path"`
	InMemory   bool   `koanf:"in_memory"`
	SyncWrites bool   `koanf:"sync_writes"`
}

type SchemaConfig struct {
	SourceType string `koanf:"source_type"`
	Path       string `koanf:"path"`
	// Name selects the schema document the chain runs against.
	Name string `koanf:"name"`
}

type ExecutionConfig struct {
	FailFast        bool   `koanf:"fail_fast"`
	MaxOperations   int    `koanf:"max_operations"`
	AggregationMode string `koanf:"aggregation_mode"` // auto | streaming | buffered
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug | info | warn | error
	Format string `koanf:"format"` // text | json
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
	Mode    string `koanf:"mode"` // debug | release
}

// Mode returns the parsed aggregation mode.
func (c ExecutionConfig) Mode() aggregation.Mode {
	m, err := aggregation.ParseMode(c.AggregationMode)
	if err != nil {
		return aggregation.ModeAuto
	}
	return m
}

func (c *Config) Validate() error {
	switch c.Store.Type {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Store.Postgres.DSN) == "" {
			return fmt.Errorf("store.postgres.dsn is required")
		}
		if c.Store.Postgres.MaxOpenConns <= 0 {
			return fmt.Errorf("store.postgres.max_open_conns must be > 0")
		}
		if c.Store.Postgres.MaxIdleConns <= 0 {
			return fmt.Errorf("store.postgres.max_idle_conns must be > 0")
		}
	case "badger":
		if !c.Store.Badger.InMemory && strings.TrimSpace(c.Store.Badger.Path) == "" {
			return fmt.Errorf("store.badger.path is required unless store.badger.in_memory is set")
		}
	default:
		return fmt.Errorf("unsupported store.type %q (must be memory, postgres or badger)", c.Store.Type)
	}

	if c.Schema.SourceType != "filesystem" {
		return fmt.Errorf("unsupported schema.source_type %q", c.Schema.SourceType)
	}
	if strings.TrimSpace(c.Schema.Path) == "" {
		return fmt.Errorf("schema.path is required")
	}
	if _, err := os.Stat(c.Schema.Path); err != nil {
		return fmt.Errorf("schema.path %q is not accessible: %w", c.Schema.Path, err)
	}
	if strings.TrimSpace(c.Schema.Name) == "" {
		return fmt.Errorf("schema.name is required")
	}

	if c.Execution.MaxOperations < 0 {
		return fmt.Errorf("execution.max_operations must be >= 0")
	}
	if _, err := aggregation.ParseMode(c.Execution.AggregationMode); err != nil {
		return fmt.Errorf("invalid execution.aggregation_mode: %w", err)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log.format %q (must be text or json)", c.Log.Format)
	}

	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Addr) == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	if c.Metrics.Mode != "debug" && c.Metrics.Mode != "release" {
		return fmt.Errorf("invalid metrics.mode %q (must be debug or release)", c.Metrics.Mode)
	}
	return nil
}

// Load parses config from defaults, then file, then env, and validates it.
// LATTICE_STORE__TYPE=badger overrides store.type.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"store.type":                    "memory",
		"store.postgres.dsn":            "",
		"store.postgres.max_open_conns": 25,
		"store.postgres.max_idle_conns": 25,
		"store.postgres.auto_migrate":   true,
		"store.badger.path":             "./data",
		"store.badger.in_memory":        false,
		"store.badger.sync_writes":      false,
		"schema.source_type":            "filesystem",
		"schema.path":                   "./schemas",
		"schema.name":                   "",
		"execution.fail_fast":           false,
		"execution.max_operations":      100,
		"execution.aggregation_mode":    "auto",
		"log.level":                     "info",
		"log.format":                    "text",
		"metrics.enabled":               false,
		"metrics.addr":                  ":9090",
		"metrics.mode":                  "release",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
