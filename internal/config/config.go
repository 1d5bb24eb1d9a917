package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/respectlytics/respectaso/internal/research"
	"github.com/respectlytics/respectaso/pkg/aso"
	"github.com/respectlytics/respectaso/pkg/itunes"
	"github.com/respectlytics/respectaso/pkg/logger"
	"github.com/respectlytics/respectaso/pkg/scan"
	"github.com/respectlytics/respectaso/pkg/trend"
)

// Config is the root configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	ITunes    itunes.Config   `yaml:"itunes"`
	Research  research.Config `yaml:"research"`
	Scan      scan.Config     `yaml:"scan"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Retention RetentionConfig `yaml:"retention"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Server    ServerConfig    `yaml:"server"`
	Log       logger.Config   `yaml:"log"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path" env:"RESPECTASO_DB_PATH" validate:"required"`
}

// ScoringConfig overrides the scoring calibration.
type ScoringConfig struct {
	Weights  aso.DifficultyWeights `yaml:"weights"`
	// Rules replace the default classification table; the first match wins.
	// An omitted or zero max_popularity/max_difficulty means 100.
	Rules    []aso.ClassRule       `yaml:"rules" validate:"dive"`
	Fallback aso.Classification    `yaml:"fallback"`
}

// AnalyzerOptions turns the scoring section into analyzer options.
func (s ScoringConfig) AnalyzerOptions() []aso.Option {
	opts := []aso.Option{aso.WithDifficultyWeights(s.Weights)}
	if len(s.Rules) > 0 {
		opts = append(opts, aso.WithClassRules(s.Rules, s.Fallback))
	}
	return opts
}

// ScheduleConfig configures the background refresh.
type ScheduleConfig struct {
	Enabled    bool   `yaml:"enabled" env:"RESPECTASO_SCHEDULE_ENABLED"`
	Cron       string `yaml:"cron" env:"RESPECTASO_SCHEDULE_CRON" validate:"required"`
	RunOnStart bool   `yaml:"run_on_start"`
	// RequestDelay spaces refresh calls to stay under the API quota.
	RequestDelay time.Duration `yaml:"request_delay" env:"RESPECTASO_SCHEDULE_REQUEST_DELAY"`
}

// RetentionConfig bounds how long history is kept.
type RetentionConfig struct {
	Days int `yaml:"days" env:"RESPECTASO_RETENTION_DAYS" validate:"gte=0"`
}

// Cutoff returns the oldest instant kept relative to now. Zero days keeps
// everything.
func (r RetentionConfig) Cutoff(now time.Time) (time.Time, bool) {
	if r.Days <= 0 {
		return time.Time{}, false
	}
	return now.AddDate(0, 0, -r.Days), true
}

// AlertsConfig configures movement alerts.
type AlertsConfig struct {
	Thresholds trend.Thresholds `yaml:"thresholds"`
	Slack      SlackConfig      `yaml:"slack"`
	Discord    DiscordConfig    `yaml:"discord"`
	Webhook    WebhookConfig    `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url" validate:"omitempty,url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url" validate:"omitempty,url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url" env:"RESPECTASO_WEBHOOK_URL" validate:"omitempty,url"`
	Secret  string `yaml:"secret" env:"RESPECTASO_WEBHOOK_SECRET"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" env:"RESPECTASO_PORT" validate:"gte=0,lte=65535"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./respectaso.db"},
		ITunes:   itunes.DefaultConfig(),
		Research: research.Config{Concurrency: 2, CallDelay: 500 * time.Millisecond},
		Scan:     scan.DefaultConfig(),
		Scoring: ScoringConfig{
			Weights: aso.DefaultDifficultyWeights(),
		},
		Schedule: ScheduleConfig{
			Enabled:      true,
			Cron:         "@hourly",
			RequestDelay: 2 * time.Second,
		},
		Retention: RetentionConfig{Days: 90},
		Alerts:    AlertsConfig{Thresholds: trend.DefaultThresholds()},
		Server:    ServerConfig{Port: 8080},
		Log:       logger.Config{Level: "info", Format: "console"},
	}
}

// Load builds the configuration in layers: defaults, then the YAML file at
// path (optional), then a .env file in the working directory, then
// RESPECTASO_* environment variables. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides handles variables that also switch a feature on.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
	if cfg.Alerts.Webhook.URL != "" {
		cfg.Alerts.Webhook.Enabled = true
	}
}

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if sum := c.Scoring.Weights.Sum(); math.Abs(sum-1) > 0.001 {
		return fmt.Errorf("invalid config: difficulty weights sum to %.3f, want 1", sum)
	}
	if c.Alerts.Slack.Enabled && c.Alerts.Slack.WebhookURL == "" {
		return errors.New("invalid config: slack alerts enabled without webhook_url")
	}
	if c.Alerts.Discord.Enabled && c.Alerts.Discord.WebhookURL == "" {
		return errors.New("invalid config: discord alerts enabled without webhook_url")
	}
	if c.Alerts.Webhook.Enabled && c.Alerts.Webhook.URL == "" {
		return errors.New("invalid config: webhook alerts enabled without url")
	}
	for _, r := range c.Scoring.Rules {
		if (r.MaxPopularity > 0 && r.MinPopularity > r.MaxPopularity) ||
			(r.MaxDifficulty > 0 && r.MinDifficulty > r.MaxDifficulty) {
			return fmt.Errorf("invalid config: rule %q has an empty range", r.Label)
		}
	}
	return nil
}
