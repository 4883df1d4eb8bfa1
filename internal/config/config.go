// Package config loads GridSight configuration with Viper and builds the
// process logger from it. Configuration is loaded once in main and passed
// down explicitly; nothing here creates files or mutates globals on first
// use.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from the given file path, or searches the standard
// locations when path is empty. Environment variables with the GRIDSIGHT_
// prefix override file values.
func Load(path string) (*viper.Viper, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.path", "gridsight.db")
	v.SetDefault("model.path", "artifacts/anomaly_model.json")
	v.SetDefault("model.trees", 100)
	v.SetDefault("model.contamination", 0.05)
	v.SetDefault("model.seed", 42)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.token_ttl", "12h")
	v.SetDefault("notify.min_interval", "1m")
	v.SetDefault("notify.burst", 5)
	v.SetDefault("notify.email.enabled", false)
	v.SetDefault("notify.email.port", 587)
	v.SetDefault("notify.webhook.enabled", false)
	v.SetDefault("notify.webhook.timeout", "10s")

	v.SetEnvPrefix("GRIDSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		return v, nil
	}

	v.SetConfigName("gridsight")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/gridsight")
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine: defaults plus environment apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}
