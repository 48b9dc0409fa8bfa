package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "folio.db")

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)

	// Operation subsystem defaults
	v.SetDefault("operations.workers", 2)                 // Concurrent operation executions
	v.SetDefault("operations.retention_hours", 24)        // Keep terminal records for a day
	v.SetDefault("operations.running_timeout_seconds", 3600) // Orphan reconciliation cutoff
	v.SetDefault("operations.sweep_interval_minutes", 60) // Retention sweep cadence
	v.SetDefault("operations.list_limit", DefaultListLimit)
}
