// Package config holds the Chime daemon configuration: a TOML file layered
// under CHIME_* environment variables, hot-reloaded on change.
package config

import "time"

// Config is the root Chime configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" toml:"database"`
	Server   ServerConfig   `mapstructure:"server" toml:"server"`
	Engine   EngineConfig   `mapstructure:"engine" toml:"engine"`
	Runner   RunnerConfig   `mapstructure:"runner" toml:"runner"`
	Log      LogConfig      `mapstructure:"log" toml:"log"`
}

// DatabaseConfig configures the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled" toml:"enabled"`
	Port    int  `mapstructure:"port" toml:"port"`
}

// EngineConfig configures the scheduling engine.
type EngineConfig struct {
	TickIntervalSeconds  int     `mapstructure:"tick_interval_seconds" toml:"tick_interval_seconds"`   // loop wake-up cap (default: 1)
	StartupGraceSeconds  int     `mapstructure:"startup_grace_seconds" toml:"startup_grace_seconds"`   // delay before the initial schedule load (default: 2)
	DispatchPerSecond    float64 `mapstructure:"dispatch_per_second" toml:"dispatch_per_second"`       // dispatch acceptance rate, 0 disables the gate
	DispatchBurst        int     `mapstructure:"dispatch_burst" toml:"dispatch_burst"`                 // burst above the dispatch rate
	HistoryRetentionDays int     `mapstructure:"history_retention_days" toml:"history_retention_days"` // execution history kept this long (default: 30)
}

// TickInterval returns the loop cap as a duration.
func (c EngineConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

// StartupGrace returns the startup delay as a duration.
func (c EngineConfig) StartupGrace() time.Duration {
	return time.Duration(c.StartupGraceSeconds) * time.Second
}

// HistoryRetention returns the history window as a duration.
func (c EngineConfig) HistoryRetention() time.Duration {
	return time.Duration(c.HistoryRetentionDays) * 24 * time.Hour
}

// RunnerConfig configures the execution worker pool.
type RunnerConfig struct {
	Workers        int `mapstructure:"workers" toml:"workers"`                   // concurrent workers (default: 2)
	PollIntervalMS int `mapstructure:"poll_interval_ms" toml:"poll_interval_ms"` // queue poll interval (default: 1000)
}

// PollInterval returns the poll interval as a duration.
func (c RunnerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// LogConfig configures logging output.
type LogConfig struct {
	JSON  bool   `mapstructure:"json" toml:"json"`   // machine-readable JSON instead of the console encoder
	Level string `mapstructure:"level" toml:"level"` // debug, info, warn, error
}
