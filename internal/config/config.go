// Package config loads service configuration from an optional YAML file
// overlaid with environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Port        string         `yaml:"port"`
	DatabaseURL string         `yaml:"databaseUrl"`
	DBMigrate   bool           `yaml:"dbMigrate"`
	RedisURL    string         `yaml:"redisUrl"`
	Log         LogConfig      `yaml:"log"`
	Auth        AuthConfig     `yaml:"auth"`
	Realtime    RealtimeConfig `yaml:"realtime"`
}

// LogConfig selects level and encoder.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AuthConfig selects how socket and HTTP tokens are verified.
type AuthConfig struct {
	Mode       string `yaml:"mode"` // dev or hmac
	HMACSecret string `yaml:"hmacSecret"`
	Issuer     string `yaml:"issuer"`
}

// RealtimeConfig tunes connections and fan-out.
type RealtimeConfig struct {
	KeepaliveInterval time.Duration `yaml:"keepaliveInterval"`
	KeepaliveTimeout  time.Duration `yaml:"keepaliveTimeout"`
	OutboxSize        int           `yaml:"outboxSize"`
	RateRPS           float64       `yaml:"rateRps"`
	RateBurst         int           `yaml:"rateBurst"`
	RelayPrefix       string        `yaml:"relayPrefix"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Port:      "8080",
		DBMigrate: true,
		Log:       LogConfig{Level: "info", Format: "json"},
		Auth:      AuthConfig{Mode: "dev"},
		Realtime: RealtimeConfig{
			KeepaliveInterval: 10 * time.Second,
			KeepaliveTimeout:  30 * time.Second,
			OutboxSize:        64,
			RateRPS:           20,
			RateBurst:         40,
			RelayPrefix:       "teamsync:",
		},
	}
}

// Load reads path (if non-empty) over the defaults, then applies env overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Port, "PORT")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.RedisURL, "REDIS_URL")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")
	setString(&cfg.Auth.Mode, "AUTH_MODE")
	setString(&cfg.Auth.HMACSecret, "AUTH_HMAC_SECRET")
	setString(&cfg.Auth.Issuer, "AUTH_ISSUER")
	if v := os.Getenv("DB_MIGRATE"); v != "" {
		cfg.DBMigrate = v != "false"
	}
	for _, d := range []struct {
		dst *time.Duration
		key string
	}{
		{&cfg.Realtime.KeepaliveInterval, "KEEPALIVE_INTERVAL"},
		{&cfg.Realtime.KeepaliveTimeout, "KEEPALIVE_TIMEOUT"},
	} {
		if v := os.Getenv(d.key); v != "" {
			p, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", d.key, err)
			}
			*d.dst = p
		}
	}
	if v := os.Getenv("OUTBOX_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("OUTBOX_SIZE: %w", err)
		}
		cfg.Realtime.OutboxSize = n
	}
	if v := os.Getenv("RATE_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RATE_RPS: %w", err)
		}
		cfg.Realtime.RateRPS = f
	}
	if v := os.Getenv("RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RATE_BURST: %w", err)
		}
		cfg.Realtime.RateBurst = n
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	switch c.Auth.Mode {
	case "dev":
	case "hmac":
		if c.Auth.HMACSecret == "" {
			errs = append(errs, errors.New("auth.hmacSecret is required in hmac mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown auth mode %q", c.Auth.Mode))
	}
	rt := c.Realtime
	if rt.KeepaliveInterval <= 0 {
		errs = append(errs, errors.New("realtime.keepaliveInterval must be > 0"))
	}
	if rt.KeepaliveTimeout <= rt.KeepaliveInterval {
		errs = append(errs, errors.New("realtime.keepaliveTimeout must exceed keepaliveInterval"))
	}
	if rt.OutboxSize <= 0 {
		errs = append(errs, errors.New("realtime.outboxSize must be > 0"))
	}
	if rt.RateRPS <= 0 || rt.RateBurst <= 0 {
		errs = append(errs, errors.New("realtime.rateRps and rateBurst must be > 0"))
	}
	return errors.Join(errs...)
}
