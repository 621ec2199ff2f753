package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config keeps runtime settings for the server, the bot and the CLI jobs.
type Config struct {
	DatabaseURL      string
	HTTPAddr         string
	Location         *time.Location
	ResetSchedule    string
	ResetConcurrency int
	ReportTime       string
	TelegramToken    string
	JWTSecret        string
	JWKSURL          string
	JWTAudience      string
	JWTIssuer        string
	CronSecret       string
	RedisURL         string
	CacheTTL         time.Duration
	LockFile         string
	Debug            bool
}

var defaults = map[string]any{
	"database_url":      "daily_triage.db",
	"http_addr":         ":8080",
	"timezone":          "Local",
	"reset_schedule":    "00:05",
	"reset_concurrency": 8,
	"report_time":       "",
	"telegram_token":    "",
	"jwt_secret":        "",
	"jwks_url":          "",
	"jwt_audience":      "",
	"jwt_issuer":        "",
	"cron_secret":       "",
	"redis_url":         "",
	"cache_ttl":         "10m",
	"lock_file":         "daily_triage.lock",
	"debug":             false,
}

// Load reads configuration from environment variables, optionally layered
// over a YAML file named by CONFIG_FILE. Environment values win.
func Load() (Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()

	if path := strings.TrimSpace(v.GetString("config_file")); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		DatabaseURL:      strings.TrimSpace(v.GetString("database_url")),
		HTTPAddr:         strings.TrimSpace(v.GetString("http_addr")),
		ResetSchedule:    strings.TrimSpace(v.GetString("reset_schedule")),
		ResetConcurrency: v.GetInt("reset_concurrency"),
		ReportTime:       strings.TrimSpace(v.GetString("report_time")),
		TelegramToken:    strings.TrimSpace(v.GetString("telegram_token")),
		JWTSecret:        v.GetString("jwt_secret"),
		JWKSURL:          strings.TrimSpace(v.GetString("jwks_url")),
		JWTAudience:      strings.TrimSpace(v.GetString("jwt_audience")),
		JWTIssuer:        strings.TrimSpace(v.GetString("jwt_issuer")),
		CronSecret:       v.GetString("cron_secret"),
		RedisURL:         strings.TrimSpace(v.GetString("redis_url")),
		CacheTTL:         v.GetDuration("cache_ttl"),
		LockFile:         strings.TrimSpace(v.GetString("lock_file")),
		Debug:            v.GetBool("debug"),
	}

	loc, err := time.LoadLocation(strings.TrimSpace(v.GetString("timezone")))
	if err != nil {
		return cfg, fmt.Errorf("TIMEZONE: %w", err)
	}
	cfg.Location = loc

	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL must not be empty")
	}
	if cfg.ResetConcurrency < 1 {
		return cfg, fmt.Errorf("RESET_CONCURRENCY must be positive, got %d", cfg.ResetConcurrency)
	}
	if cfg.CacheTTL <= 0 {
		return cfg, fmt.Errorf("CACHE_TTL must be positive, got %s", cfg.CacheTTL)
	}
	if err := checkClock("RESET_SCHEDULE", cfg.ResetSchedule); err != nil {
		return cfg, err
	}
	if cfg.ReportTime != "" {
		if err := checkClock("REPORT_TIME", cfg.ReportTime); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// ValidateServe checks the settings only the HTTP server needs.
func (c Config) ValidateServe() error {
	if c.JWTSecret == "" && c.JWKSURL == "" {
		return errors.New("either JWT_SECRET or JWKS_URL is required")
	}
	if c.HTTPAddr == "" {
		return errors.New("HTTP_ADDR must not be empty")
	}
	return nil
}

func checkClock(key, raw string) error {
	if _, err := time.Parse("15:04", raw); err != nil {
		return fmt.Errorf("%s must be HH:MM, got %q", key, raw)
	}
	return nil
}
