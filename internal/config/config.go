package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		// BaseURL is the Room Service REST root, e.g. https://api.brainfuel.app/api.
		BaseURL string `yaml:"base_url" validate:"required,url"`
		// WSURL is the realtime endpoint root, e.g. wss://api.brainfuel.app.
		WSURL string `yaml:"ws_url" validate:"required"`
	} `yaml:"server"`
	Auth struct {
		// Token is the opaque bearer token from the session service. Left
		// empty, the CLI falls back to the BRAINFUEL_TOKEN environment variable.
		Token string `yaml:"token"`
	} `yaml:"auth"`
	Session struct {
		Username        string `yaml:"username"`
		QuestionTimeout string `yaml:"question_timeout"`
		Reconnect       struct {
			Enabled     bool   `yaml:"enabled"`
			MinInterval string `yaml:"min_interval"`
			MaxInterval string `yaml:"max_interval"`
			MaxRetries  uint64 `yaml:"max_retries"`
		} `yaml:"reconnect"`
	} `yaml:"session"`
	Rooms struct {
		CacheTTL string `yaml:"cache_ttl"`
	} `yaml:"rooms"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
}

// Load reads YAML config from path and validates required fields.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty or
// unparseable.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
