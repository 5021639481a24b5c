package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the dashboard daemon.
type Config struct {
	BindAddr         string        `yaml:"bind_addr"`
	MetricsNamespace string        `yaml:"metrics_namespace"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`

	AllowAnyOrigin bool `yaml:"allow_any_origin"`

	// Store selection: postgres when DatabaseURL is set, otherwise sqlite at
	// SQLitePath, otherwise in-memory.
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`

	StatusInterval   time.Duration `yaml:"status_interval"`
	ScheduleInterval time.Duration `yaml:"schedule_interval"`

	BotAccount string `yaml:"bot_account"`

	APIKey           string   `yaml:"api_key"`
	ManagementGroups []string `yaml:"management_groups"`
}

// Load reads the optional YAML config file, then applies environment
// variables on top. A missing file is not an error; defaults apply.
func Load(path string) (Config, error) {
	cfg := Config{
		BindAddr:         ":8080",
		MetricsNamespace: "botdash",
		ShutdownTimeout:  15 * time.Second,
		SQLitePath:       "botdash.db",
		StatusInterval:   5 * time.Second,
		ScheduleInterval: 30 * time.Second,
		BotAccount:       "",
	}

	if path == "" {
		path = strings.TrimSpace(os.Getenv("APP_CONFIG_FILE"))
	}
	if path == "" {
		path = "botdash.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}

	cfg.BindAddr = envOrDefault("APP_BIND_ADDR", cfg.BindAddr)
	cfg.MetricsNamespace = envOrDefault("APP_METRICS_NAMESPACE", cfg.MetricsNamespace)
	if v := stringFromEnv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := stringFromEnv("APP_SQLITE_PATH"); v != "" {
		cfg.SQLitePath = v
	}
	if v := stringFromEnv("APP_BOT_ACCOUNT"); v != "" {
		cfg.BotAccount = v
	}
	if v := stringFromEnv("APP_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := stringFromEnv("APP_MANAGEMENT_GROUPS"); v != "" {
		cfg.ManagementGroups = splitGroups(v)
	}

	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.StatusInterval, err = durationFromEnv("APP_STATUS_INTERVAL", cfg.StatusInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.ScheduleInterval, err = durationFromEnv("APP_SCHEDULE_INTERVAL", cfg.ScheduleInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.StatusInterval < time.Second {
		return Config{}, fmt.Errorf("APP_STATUS_INTERVAL must be at least 1s")
	}
	if cfg.ScheduleInterval < time.Second {
		return Config{}, fmt.Errorf("APP_SCHEDULE_INTERVAL must be at least 1s")
	}

	return cfg, nil
}

func splitGroups(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringFromEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringFromEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringFromEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
