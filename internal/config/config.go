// Package config loads the broker configuration from YAML with
// environment override.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the broker's runtime settings. Every field has a default,
// so the broker runs without a config file; environment variables with
// the BROKER prefix override both (BROKER_LISTEN_ADDR, BROKER_DATA_FILE,
// BROKER_MIGRATION_TRANSFER_TICK, ...).
type Config struct {
	// ListenAddr is the HTTP control-plane bind address.
	ListenAddr string `mapstructure:"listen_addr"`
	// DataFile is the bolt snapshot file path. Empty disables
	// persistence and keeps the topology purely in memory.
	DataFile string `mapstructure:"data_file"`
	// LogLevel is a zap level string: debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`

	Migration MigrationConfig `mapstructure:"migration"`
}

// MigrationConfig tunes the migration coordinator.
type MigrationConfig struct {
	// SplitPolicy selects how half-mode migrations cut the source's
	// slot ownership. Only "midpoint" is implemented.
	SplitPolicy string `mapstructure:"split_policy"`
	// TransferTick is the background transfer's checkpoint interval.
	TransferTick time.Duration `mapstructure:"transfer_tick"`
}

// Load reads the configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("listen_addr", ":7799")
	v.SetDefault("data_file", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("migration.split_policy", "midpoint")
	v.SetDefault("migration.transfer_tick", time.Second)

	v.SetEnvPrefix("BROKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if c.Migration.SplitPolicy != "midpoint" {
		return nil, fmt.Errorf("unknown migration split policy %q", c.Migration.SplitPolicy)
	}
	if c.Migration.TransferTick <= 0 {
		return nil, fmt.Errorf("migration transfer tick must be positive, got %v", c.Migration.TransferTick)
	}
	return &c, nil
}
