package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the fleetdex engine.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Agent    AgentConfig    `yaml:"agent"`
	Scan     ScanConfig     `yaml:"scan"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	Trend    TrendConfig    `yaml:"trend"`
	SelfHeal SelfHealConfig `yaml:"selfHeal"`
	Events   EventsConfig   `yaml:"events"`
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the REST and metrics listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// DatabaseConfig selects the relational backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // postgres | sqlite
	DSN    string `yaml:"dsn"`
}

// AgentConfig configures access to the agent-execution subsystem.
type AgentConfig struct {
	BaseURL      string        `yaml:"baseURL"`
	SubmitPath   string        `yaml:"submitPath"`
	PollPath     string        `yaml:"pollPath"`
	APIKey       string        `yaml:"apiKey"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"pollInterval"`
	MaxPolls     int           `yaml:"maxPolls"`
}

// ScanConfig controls the scheduled fleet scan.
type ScanConfig struct {
	// IntervalMinutes must evenly divide 60; invalid values fall back to 15.
	IntervalMinutes int `yaml:"intervalMinutes"`
	Concurrency     int `yaml:"concurrency"`
}

// ScoringConfig holds the composite-score alert cutoffs.
type ScoringConfig struct {
	AlertThreshold    float64 `yaml:"alertThreshold"`
	CriticalThreshold float64 `yaml:"criticalThreshold"`
}

// TrendConfig controls predictive trend analysis.
type TrendConfig struct {
	LookbackDays         int     `yaml:"lookbackDays"`
	CriticalThresholdPct float64 `yaml:"criticalThresholdPct"`
	MinSnapshots         int     `yaml:"minSnapshots"`
}

// SelfHealConfig controls automated alert remediation.
type SelfHealConfig struct {
	Enabled            bool          `yaml:"enabled"`
	RemediationMapPath string        `yaml:"remediationMapPath"`
	TicketWebhookURL   string        `yaml:"ticketWebhookURL"`
	WebhookTimeout     time.Duration `yaml:"webhookTimeout"`
}

// EventsConfig controls publication of alert lifecycle events to AMQP.
type EventsConfig struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

// CacheConfig controls Valkey-backed score caching and scheduler locks.
type CacheConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	TLS         bool          `yaml:"tls"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
	ScoreTTL    time.Duration `yaml:"scoreTTL"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("FLEETDEX_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	clampDefaults(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "fleetdex.db",
		},
		Agent: AgentConfig{
			SubmitPath:   "/api/v1/runs",
			PollPath:     "/api/v1/runs",
			Timeout:      30 * time.Second,
			PollInterval: 5 * time.Second,
			MaxPolls:     60,
		},
		Scan: ScanConfig{
			IntervalMinutes: 15,
			Concurrency:     4,
		},
		Scoring: ScoringConfig{
			AlertThreshold:    60,
			CriticalThreshold: 40,
		},
		Trend: TrendConfig{
			LookbackDays:         7,
			CriticalThresholdPct: 90.0,
			MinSnapshots:         3,
		},
		SelfHeal: SelfHealConfig{
			Enabled:            false,
			RemediationMapPath: "configs/remediation_map.yaml",
			WebhookTimeout:     10 * time.Second,
		},
		Events: EventsConfig{
			Queue: "dex.alerts",
		},
		Cache: CacheConfig{
			Enabled:     false,
			DialTimeout: 2 * time.Second,
			ScoreTTL:    time.Minute,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLEETDEX_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("FLEETDEX_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("FLEETDEX_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("FLEETDEX_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("FLEETDEX_AGENT_BASE_URL"); v != "" {
		cfg.Agent.BaseURL = v
	}
	if v := os.Getenv("FLEETDEX_AGENT_API_KEY"); v != "" {
		cfg.Agent.APIKey = v
	}
	if v := os.Getenv("FLEETDEX_SCAN_INTERVAL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scan.IntervalMinutes = n
		}
	}
	if v := os.Getenv("FLEETDEX_SCAN_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scan.Concurrency = n
		}
	}
	if v := os.Getenv("FLEETDEX_SCORE_ALERT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Scoring.AlertThreshold = f
		}
	}
	if v := os.Getenv("FLEETDEX_SCORE_CRITICAL_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Scoring.CriticalThreshold = f
		}
	}
	if v := os.Getenv("FLEETDEX_TREND_LOOKBACK_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Trend.LookbackDays = n
		}
	}
	if v := os.Getenv("FLEETDEX_SELF_HEALING_ENABLED"); v != "" {
		cfg.SelfHeal.Enabled = isTruthy(v)
	}
	if v := os.Getenv("FLEETDEX_TICKET_WEBHOOK_URL"); v != "" {
		cfg.SelfHeal.TicketWebhookURL = v
	}
	if v := os.Getenv("FLEETDEX_REMEDIATION_MAP_PATH"); v != "" {
		cfg.SelfHeal.RemediationMapPath = v
	}
	if v := os.Getenv("FLEETDEX_EVENTS_URL"); v != "" {
		cfg.Events.URL = v
	}
	if v := os.Getenv("FLEETDEX_EVENTS_QUEUE"); v != "" {
		cfg.Events.Queue = v
	}
	if v := os.Getenv("FLEETDEX_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("FLEETDEX_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = isTruthy(v)
	}
	if v := os.Getenv("FLEETDEX_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("FLEETDEX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FLEETDEX_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}

func clampDefaults(cfg *Config) {
	if cfg.Scan.Concurrency < 1 {
		cfg.Scan.Concurrency = 1
	}
	if cfg.Agent.PollInterval <= 0 {
		cfg.Agent.PollInterval = 5 * time.Second
	}
	if cfg.Agent.MaxPolls <= 0 {
		cfg.Agent.MaxPolls = 60
	}
	if cfg.Trend.LookbackDays <= 0 {
		cfg.Trend.LookbackDays = 7
	}
	if cfg.Trend.MinSnapshots < 2 {
		cfg.Trend.MinSnapshots = 3
	}
	if cfg.Trend.CriticalThresholdPct <= 0 {
		cfg.Trend.CriticalThresholdPct = 90.0
	}
}

func isTruthy(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
