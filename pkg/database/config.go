package database

import (
	"errors"
	"time"
)

// Config holds database configuration
type Config struct {
	DatabasePath    string        `yaml:"database_path"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`

	// SessionTTL is how long ended session metadata is kept. Zero keeps it forever.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// MaskReports replaces raw user ids in reports with salted hashes
	MaskReports bool   `yaml:"mask_reports"`
	MaskSalt    string `yaml:"mask_salt"`
}

// DefaultConfig returns production-ready database configuration.
// SQLite with WAL performs well with a small read pool.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./data/anonchat.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		WriteTimeout:    30 * time.Second,
		MaskReports:     true,
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write timeout must be greater than 0")
	}
	if c.SessionTTL < 0 {
		return errors.New("session TTL cannot be negative")
	}
	return nil
}
