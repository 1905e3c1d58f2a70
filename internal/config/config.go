// Package config loads server settings from an optional .env file, an
// optional YAML file and LINKWELL_* environment variables, in increasing
// order of precedence.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Store     StoreConfig     `mapstructure:"store"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL     string        `mapstructure:"url"`
	MaxOpen int           `mapstructure:"max_open"`
	MaxIdle int           `mapstructure:"max_idle"`
	MaxLife time.Duration `mapstructure:"max_life"`
}

// RedisConfig enables cross-instance fan-out when URL is set.
type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Channel string `mapstructure:"channel"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RealtimeConfig struct {
	SendBuffer    int           `mapstructure:"send_buffer"`
	WriteWait     time.Duration `mapstructure:"write_wait"`
	PongWait      time.Duration `mapstructure:"pong_wait"`
	MaxFrameBytes int64         `mapstructure:"max_frame_bytes"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

// RateLimitConfig throttles message sends per user. Zero disables it.
type RateLimitConfig struct {
	SendPerSecond int `mapstructure:"send_per_second"`
}

var defaults = map[string]any{
	"http.addr":                 ":8080",
	"http.shutdown_timeout":     "10s",
	"database.url":              "",
	"database.max_open":         20,
	"database.max_idle":         5,
	"database.max_life":         "30m",
	"redis.url":                 "",
	"redis.channel":             "linkwell:relay",
	"auth.jwt_secret":           "",
	"auth.issuer":               "linkwell",
	"auth.token_ttl":            "24h",
	"log.level":                 "info",
	"log.format":                "json",
	"realtime.send_buffer":      64,
	"realtime.write_wait":       "10s",
	"realtime.pong_wait":        "60s",
	"realtime.max_frame_bytes":  4096,
	"store.driver":              DriverPostgres,
	"ratelimit.send_per_second": 0,
}

// Load reads the configuration. LINKWELL_CONFIG names an optional YAML file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	return load(os.Getenv("LINKWELL_CONFIG"))
}

func load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix("LINKWELL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Conventional names used by compose files and hosting platforms.
	_ = v.BindEnv("database.url", "LINKWELL_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("redis.url", "LINKWELL_REDIS_URL", "REDIS_URL")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return errors.New("config: database.url is required for the postgres driver")
		}
		if c.Auth.JWTSecret == "" {
			return errors.New("config: auth.jwt_secret is required")
		}
	case DriverMemory:
		if c.Auth.JWTSecret == "" {
			secret, err := randomSecret()
			if err != nil {
				return err
			}
			c.Auth.JWTSecret = secret
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}

	if c.Auth.TokenTTL <= 0 {
		return errors.New("config: auth.token_ttl must be positive")
	}
	if c.Realtime.SendBuffer <= 0 {
		return errors.New("config: realtime.send_buffer must be positive")
	}
	if c.Realtime.PongWait <= 0 || c.Realtime.WriteWait <= 0 {
		return errors.New("config: realtime timeouts must be positive")
	}
	if c.RateLimit.SendPerSecond < 0 {
		return errors.New("config: ratelimit.send_per_second must not be negative")
	}
	return nil
}

// randomSecret signs tokens for a throwaway in-memory server; they stop
// validating when the process exits.
func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("config: generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
