// Package config loads the Folio configuration with Viper.
//
// Configuration is merged from TOML files in precedence order
// (system < user < project < environment variables) with an FOLIO_ prefix
// for environment overrides, e.g. FOLIO_DATABASE_PATH.
package config

// Config represents the core Folio configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Server     ServerConfig     `mapstructure:"server"`
	Operations OperationsConfig `mapstructure:"operations"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the Folio status API server
type ServerConfig struct {
	Port int `mapstructure:"port"` // Status API port (default: 8742)
}

// OperationsConfig configures the long-running operation subsystem
type OperationsConfig struct {
	// Workers bounds how many operations may execute concurrently
	Workers int `mapstructure:"workers"`

	// RetentionHours is the minimum age (measured from completion) a terminal
	// operation record must reach before the sweeper may delete it
	RetentionHours int `mapstructure:"retention_hours"`

	// RunningTimeoutSeconds bounds how long a record may sit in running
	// before startup reconciliation fails it as orphaned
	RunningTimeoutSeconds int `mapstructure:"running_timeout_seconds"`

	// SweepIntervalMinutes is how often the retention sweeper runs
	SweepIntervalMinutes int `mapstructure:"sweep_interval_minutes"`

	// ListLimit is the default page size for operation listings
	ListLimit int `mapstructure:"list_limit"`
}

// Default ports and limits
const (
	DefaultServerPort = 8742
	DefaultListLimit  = 50
)
