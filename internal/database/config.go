package database

import (
	"time"
)

// Config holds the SQL ledger backend settings.
type Config struct {
	Driver             string        `yaml:"driver" json:"driver"`
	DSN                string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns       int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns       int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime    time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold" json:"slow_query_threshold"`
}

// DefaultConfig returns a sqlite configuration rooted in ./data.
func DefaultConfig() Config {
	return Config{
		Driver:             "sqlite3",
		DSN:                "./data/curvedex.db",
		MaxOpenConns:       1,
		MaxIdleConns:       1,
		ConnMaxLifetime:    time.Hour,
		SlowQueryThreshold: 100 * time.Millisecond,
	}
}
