// Package config loads settings from defaults, the environment, a .env
// file and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	dbconfig "anonchat/pkg/database"
)

// EnvPrefix is tried first for every variable; the bare name is the fallback
const EnvPrefix = "ANONCHAT_"

// Config is the full application configuration
type Config struct {
	Bot       *BotConfig       `yaml:"bot"`
	Database  *DatabaseConfig  `yaml:"database"`
	HTTP      *HTTPConfig      `yaml:"http"`
	RateLimit *RateLimitConfig `yaml:"rate_limit"`
	Sessions  *SessionsConfig  `yaml:"sessions"`
	Privacy   *PrivacyConfig   `yaml:"privacy"`
	Video     *VideoConfig     `yaml:"video"`
	Log       *LogConfig       `yaml:"log"`
	Admin     *AdminConfig     `yaml:"admin"`
}

// BotConfig holds the transport credential. When set, websocket clients
// must present it.
type BotConfig struct {
	Token string `yaml:"token"`
}

type DatabaseConfig struct {
	Path           string        `yaml:"path"`
	MaxConnections int           `yaml:"max_connections"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

type HTTPConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// RateLimitConfig selects the limiter backend and its limits.
// An empty RedisURL selects the in-process backend.
type RateLimitConfig struct {
	RedisURL          string        `yaml:"redis_url"`
	MessagesPerSecond float64       `yaml:"messages_per_second"`
	Burst             int           `yaml:"burst"`
	FindCooldown      time.Duration `yaml:"find_cooldown"`
}

// SessionsConfig controls expiry of ended sessions. A zero TTL keeps them.
type SessionsConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

type PrivacyConfig struct {
	MaskUserIDs bool   `yaml:"mask_user_ids"`
	MaskSalt    string `yaml:"mask_salt"`
}

type VideoConfig struct {
	JitsiHost string `yaml:"jitsi_host"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// AdminConfig guards the moderation API. An empty token leaves it unmounted.
type AdminConfig struct {
	Token string `yaml:"token"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Bot: &BotConfig{},
		Database: &DatabaseConfig{
			Path:           "./data/anonchat.db",
			MaxConnections: 10,
			WriteTimeout:   30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		RateLimit: &RateLimitConfig{
			MessagesPerSecond: 1,
			Burst:             2,
			FindCooldown:      8 * time.Second,
		},
		Sessions: &SessionsConfig{
			TTL:             0,
			CleanupInterval: 600 * time.Second,
		},
		Privacy: &PrivacyConfig{
			MaskUserIDs: true,
		},
		Video: &VideoConfig{
			JitsiHost: "https://meet.jit.si",
		},
		Log: &LogConfig{
			Level: "info",
		},
		Admin: &AdminConfig{},
	}
}

// Validate rejects configurations the services cannot run with
func (c *Config) Validate() error {
	if c.Bot == nil || c.Database == nil || c.HTTP == nil || c.RateLimit == nil ||
		c.Sessions == nil || c.Privacy == nil || c.Video == nil || c.Log == nil || c.Admin == nil {
		return errors.New("all configuration sections are required")
	}

	if c.Database.Path == "" {
		return errors.New("database path cannot be empty")
	}
	if c.Database.MaxConnections <= 0 {
		return errors.New("database max connections must be positive")
	}
	if c.Database.WriteTimeout <= 0 {
		return errors.New("database write timeout must be positive")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}

	if c.RateLimit.MessagesPerSecond < 0 {
		return errors.New("message rate cannot be negative")
	}
	if c.RateLimit.Burst < 1 {
		return errors.New("message burst must be at least 1")
	}
	if c.RateLimit.FindCooldown < 0 {
		return errors.New("find cooldown cannot be negative")
	}

	if c.Sessions.TTL < 0 || c.Sessions.CleanupInterval < 0 {
		return errors.New("session TTL and cleanup interval cannot be negative")
	}

	if !strings.HasPrefix(c.Video.JitsiHost, "http://") && !strings.HasPrefix(c.Video.JitsiHost, "https://") {
		return fmt.Errorf("jitsi host %q must be an http(s) URL", c.Video.JitsiHost)
	}
	return nil
}

// StoreConfig derives the session store configuration
func (c *Config) StoreConfig() *dbconfig.Config {
	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = c.Database.Path
	cfg.MaxConnections = c.Database.MaxConnections
	cfg.WriteTimeout = c.Database.WriteTimeout
	cfg.SessionTTL = c.Sessions.TTL
	cfg.MaskReports = c.Privacy.MaskUserIDs
	cfg.MaskSalt = c.Privacy.MaskSalt
	return cfg
}

// Addr is the HTTP listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// lookupEnv returns ANONCHAT_<name>, falling back to <name>
func lookupEnv(name string) (string, bool) {
	if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
		return v, true
	}
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v, true
	}
	return "", false
}

// LoadFromEnv applies environment variables over the defaults
func LoadFromEnv() (*Config, error) {
	config := DefaultConfig()
	if err := applyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

func applyEnv(config *Config) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookupEnv(name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookupEnv(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := lookupEnv(name); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = f
		}
	}
	seconds := func(name string, dst *time.Duration) {
		if v, ok := lookupEnv(name); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = time.Duration(f * float64(time.Second))
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookupEnv(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookupEnv(name); ok {
			b, err := strconv.ParseBool(strings.ToLower(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}

	str("BOT_TOKEN", &config.Bot.Token)
	str("DATABASE_PATH", &config.Database.Path)
	integer("DATABASE_MAX_CONNECTIONS", &config.Database.MaxConnections)
	duration("DATABASE_WRITE_TIMEOUT", &config.Database.WriteTimeout)
	str("HTTP_HOST", &config.HTTP.Host)
	integer("HTTP_PORT", &config.HTTP.Port)
	duration("HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	duration("HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)
	str("REDIS_URL", &config.RateLimit.RedisURL)
	float("RATE_LIMIT_MSG_PER_SEC", &config.RateLimit.MessagesPerSecond)
	integer("RATE_LIMIT_BURST", &config.RateLimit.Burst)
	seconds("FIND_DEBOUNCE_SEC", &config.RateLimit.FindCooldown)
	seconds("SESSION_TTL_SEC", &config.Sessions.TTL)
	seconds("CLEANUP_INTERVAL_SEC", &config.Sessions.CleanupInterval)
	boolean("MASK_USER_IDS", &config.Privacy.MaskUserIDs)
	str("MASK_SALT", &config.Privacy.MaskSalt)
	str("JITSI_HOST", &config.Video.JitsiHost)
	str("LOG_LEVEL", &config.Log.Level)
	str("ADMIN_TOKEN", &config.Admin.Token)

	return errors.Join(errs...)
}

// LoadFromFile reads a YAML file over the defaults. Durations use Go
// syntax ("30s", "10m").
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// LoadConfigWithPrecedence layers file > environment > .env > defaults.
// A missing .env is ignored; a missing or broken YAML file named
// explicitly is an error.
func LoadConfigWithPrecedence(path, dotenv string) (*Config, error) {
	if dotenv != "" {
		// godotenv never overrides variables that are already set.
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", dotenv, err)
		}
	}

	config := DefaultConfig()
	if err := applyEnv(config); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
