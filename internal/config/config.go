package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/park285/Cheese-Board/internal/gamesync"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// AppConfig is loaded from an optional YAML file (CHEESE_CONFIG_PATH) and then
// overridden by environment variables.
type AppConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	StoreBackend string `yaml:"store_backend"`
	RedisURL     string `yaml:"redis_url"`
	DatabaseURL  string `yaml:"database_url"`
	GameSlot     string `yaml:"game_slot"`

	AuthBaseURL     string `yaml:"auth_base_url"`
	AuthAPIKey      string `yaml:"auth_api_key"`
	AuthTokenSecret string `yaml:"auth_token_secret"`

	MessagesDir      string   `yaml:"messages_dir"`
	PublishTimeoutMS int      `yaml:"publish_timeout_ms"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	MetricsEnabled   bool     `yaml:"metrics_enabled"`
}

func (c *AppConfig) PublishTimeout() time.Duration {
	return time.Duration(c.PublishTimeoutMS) * time.Millisecond
}

func defaults() *AppConfig {
	return &AppConfig{
		ListenAddr:       ":8080",
		StoreBackend:     BackendMemory,
		GameSlot:         gamesync.DefaultSlot,
		PublishTimeoutMS: 10000,
		MetricsEnabled:   true,
	}
}

func Load() (*AppConfig, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("CHEESE_CONFIG_PATH")); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("STORE_BACKEND")); v != "" {
		cfg.StoreBackend = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("GAME_SLOT")); v != "" {
		cfg.GameSlot = v
	}

	if v := strings.TrimSpace(os.Getenv("AUTH_BASE_URL")); v != "" {
		cfg.AuthBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("AUTH_API_KEY")); v != "" {
		cfg.AuthAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("AUTH_TOKEN_SECRET")); v != "" {
		cfg.AuthTokenSecret = v
	}

	if v := strings.TrimSpace(os.Getenv("MESSAGES_DIR")); v != "" {
		cfg.MessagesDir = v
	}
	if v := strings.TrimSpace(os.Getenv("PUBLISH_TIMEOUT_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PublishTimeoutMS = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("METRICS_ENABLED")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MetricsEnabled = b
		}
	}

	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis backend")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if strings.TrimSpace(c.GameSlot) == "" {
		return errors.New("GAME_SLOT must not be empty")
	}
	if c.PublishTimeoutMS <= 0 {
		return errors.New("PUBLISH_TIMEOUT_MS must be positive")
	}
	return nil
}

func loadFile(path string, cfg *AppConfig) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
