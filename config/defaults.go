package config

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "chime.db")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", DefaultServerPort)

	v.SetDefault("engine.tick_interval_seconds", 1)
	v.SetDefault("engine.startup_grace_seconds", 2)
	v.SetDefault("engine.dispatch_per_second", 10.0)
	v.SetDefault("engine.dispatch_burst", 5)
	v.SetDefault("engine.history_retention_days", 30)

	v.SetDefault("runner.workers", 2)
	v.SetDefault("runner.poll_interval_ms", 1000)

	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
}

// DefaultServerPort is the HTTP API port when none is configured.
const DefaultServerPort = 8277
