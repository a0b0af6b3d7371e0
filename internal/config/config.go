// Package config loads service settings from a TOML file and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
)

// Config holds all service configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Log      LogConfig      `toml:"log"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Planner  PlannerConfig  `toml:"planner"`
	LLM      LLMConfig      `toml:"llm"`
	Source   SourceConfig   `toml:"source"`
	Export   ExportConfig   `toml:"export"`
	Notion   NotionConfig   `toml:"notion"`
	Sessions SessionsConfig `toml:"sessions"`
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Port            string `toml:"port"`
	ReadTimeoutSec  int    `toml:"read_timeout_sec"`
	WriteTimeoutSec int    `toml:"write_timeout_sec"`
}

// LogConfig selects level and output format.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// LedgerConfig selects the ledger backend: memory, sqlite, postgres or bigquery.
type LedgerConfig struct {
	Backend     string `toml:"backend"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
	Project     string `toml:"project,omitempty"`
	Dataset     string `toml:"dataset,omitempty"`
}

// PlannerConfig tunes projection and optimization.
type PlannerConfig struct {
	SameDayPolicy     string `toml:"same_day_policy"`
	BufferFloor       string `toml:"buffer_floor"`
	UtilizationTarget string `toml:"utilization_target"`
	TrailingDays      int    `toml:"trailing_days"`
	WeekdaysOnly      bool   `toml:"weekdays_only"`
}

// LLMConfig enables the Gemini classifier, explainer and education answers.
type LLMConfig struct {
	Enabled     bool    `toml:"enabled"`
	APIKey      string  `toml:"api_key,omitempty"`
	Project     string  `toml:"project,omitempty"`
	Location    string  `toml:"location,omitempty"`
	Model       string  `toml:"model"`
	Temperature float32 `toml:"temperature"`
}

// SourceConfig points the planner at transaction history: none, file or bigquery.
type SourceConfig struct {
	Kind         string `toml:"kind"`
	File         string `toml:"file,omitempty"`
	Project      string `toml:"project,omitempty"`
	Dataset      string `toml:"dataset,omitempty"`
	LookbackDays int    `toml:"lookback_days"`
	HorizonDays  int    `toml:"horizon_days"`
}

// ExportConfig schedules ledger snapshots to a bucket.
type ExportConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"`
	Bucket   string `toml:"bucket,omitempty"`
	Prefix   string `toml:"prefix"`
	Workers  int    `toml:"workers"`
}

// NotionConfig mirrors ledgers into a Notion database on the export schedule.
type NotionConfig struct {
	Enabled    bool   `toml:"enabled"`
	Token      string `toml:"token,omitempty"`
	DatabaseID string `toml:"database_id,omitempty"`
	DryRun     bool   `toml:"dry_run"`
}

// SessionsConfig bounds per-session state.
type SessionsConfig struct {
	MaxHistory int `toml:"max_history"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: "8080", ReadTimeoutSec: 15, WriteTimeoutSec: 30},
		Log:    LogConfig{Level: "info", Format: "console"},
		Ledger: LedgerConfig{Backend: "memory", SQLitePath: "cashflow.db"},
		Planner: PlannerConfig{
			SameDayPolicy:     "timestamps",
			BufferFloor:       "0",
			UtilizationTarget: "0.30",
			TrailingDays:      7,
		},
		LLM:      LLMConfig{Model: "gemini-2.5-flash", Location: "us-central1", Temperature: 0.2},
		Source:   SourceConfig{Kind: "none", Dataset: "finance", LookbackDays: 120, HorizonDays: 30},
		Export:   ExportConfig{Schedule: "@every 1h", Prefix: "ledgers", Workers: 2},
		Sessions: SessionsConfig{MaxHistory: 50},
	}
}

// Load reads path (defaults when it does not exist or path is empty),
// applies environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parsing config: %w", err)
			}
		case !os.IsNotExist(err):
			return cfg, fmt.Errorf("reading config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	cfg.Ledger.Backend = getEnv("LEDGER_BACKEND", cfg.Ledger.Backend)
	cfg.Ledger.SQLitePath = getEnv("LEDGER_SQLITE_PATH", cfg.Ledger.SQLitePath)
	cfg.Ledger.PostgresDSN = getEnv("LEDGER_POSTGRES_DSN", cfg.Ledger.PostgresDSN)
	cfg.Ledger.Project = getEnv("GCP_PROJECT", cfg.Ledger.Project)
	cfg.Source.Project = getEnv("GCP_PROJECT", cfg.Source.Project)

	cfg.Planner.BufferFloor = getEnv("BUFFER_FLOOR", cfg.Planner.BufferFloor)
	cfg.Planner.WeekdaysOnly = getEnvBool("WEEKDAYS_ONLY", cfg.Planner.WeekdaysOnly)

	cfg.LLM.Enabled = getEnvBool("LLM_ENABLED", cfg.LLM.Enabled)
	cfg.LLM.APIKey = getEnv("GOOGLE_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.Project = getEnv("VERTEX_PROJECT", cfg.LLM.Project)
	cfg.LLM.Model = getEnv("GEMINI_MODEL", cfg.LLM.Model)

	cfg.Export.Bucket = getEnv("GCS_BUCKET", cfg.Export.Bucket)
	cfg.Export.Enabled = getEnvBool("EXPORT_ENABLED", cfg.Export.Enabled)

	cfg.Notion.Token = getEnv("NOTION_TOKEN", cfg.Notion.Token)
	cfg.Notion.DatabaseID = getEnv("NOTION_MODIFICATIONS_DB_ID", cfg.Notion.DatabaseID)
}

// Validate checks values that would otherwise fail deep inside a component.
func (c Config) Validate() error {
	switch c.Ledger.Backend {
	case "memory":
	case "sqlite":
		if c.Ledger.SQLitePath == "" {
			return fmt.Errorf("ledger.sqlite_path is required for the sqlite backend")
		}
	case "postgres":
		if c.Ledger.PostgresDSN == "" {
			return fmt.Errorf("ledger.postgres_dsn (LEDGER_POSTGRES_DSN) is required for the postgres backend")
		}
	case "bigquery":
		if c.Ledger.Project == "" || c.Ledger.Dataset == "" {
			return fmt.Errorf("ledger.project and ledger.dataset are required for the bigquery backend")
		}
	default:
		return fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend)
	}

	switch c.Planner.SameDayPolicy {
	case "timestamps", "conservative":
	default:
		return fmt.Errorf("unknown same_day_policy %q", c.Planner.SameDayPolicy)
	}
	if _, err := c.Planner.Floor(); err != nil {
		return err
	}
	target, err := c.Planner.Target()
	if err != nil {
		return err
	}
	if !target.IsPositive() || target.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("planner.utilization_target must be in (0, 1], got %s", target)
	}

	switch c.Source.Kind {
	case "none", "":
	case "bigquery":
		if c.Source.Project == "" {
			return fmt.Errorf("source.project (GCP_PROJECT) is required for the bigquery source")
		}
	case "file":
		if c.Source.File == "" {
			return fmt.Errorf("source.file is required for the file source")
		}
	default:
		return fmt.Errorf("unknown source kind %q", c.Source.Kind)
	}

	if c.LLM.Enabled && c.LLM.APIKey == "" && c.LLM.Project == "" {
		return fmt.Errorf("llm.enabled needs GOOGLE_API_KEY or a Vertex project")
	}
	if c.Export.Enabled && c.Export.Bucket == "" {
		return fmt.Errorf("export.bucket (GCS_BUCKET) is required when export is enabled")
	}
	if c.Notion.Enabled && (c.Notion.Token == "" || c.Notion.DatabaseID == "") {
		return fmt.Errorf("notion.token and notion.database_id are required when notion sync is enabled")
	}
	return nil
}

// Floor parses the buffer floor.
func (p PlannerConfig) Floor() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(p.BufferFloor))
	if err != nil {
		return decimal.Zero, fmt.Errorf("planner.buffer_floor: %w", err)
	}
	return d, nil
}

// Target parses the utilization target.
func (p PlannerConfig) Target() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(p.UtilizationTarget))
	if err != nil {
		return decimal.Zero, fmt.Errorf("planner.utilization_target: %w", err)
	}
	return d, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultVal
	}
	return b
}
