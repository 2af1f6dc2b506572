package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"hyperregistry/pkg/logging"
)

// LoadConfig loads configuration from the specified directory: defaults,
// then config.yaml when present, then REGISTRY_* environment overrides.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig(configPath)

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			applyEnv(&config)
			return config, validate(config)
		}
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}
	logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)

	applyEnv(&config)
	return config, validate(config)
}

// applyEnv overlays REGISTRY_* environment variables. Env always wins
// over the file.
func applyEnv(c *Config) {
	if v := os.Getenv("REGISTRY_DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("REGISTRY_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Database.Port = port
		}
	}
	if v := os.Getenv("REGISTRY_DB_NAME"); v != "" {
		c.Database.Name = v
	}
	if v := os.Getenv("REGISTRY_DB_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("REGISTRY_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("REGISTRY_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func validate(c Config) error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Encryption.RingDepth < 0 {
		return fmt.Errorf("encryption ring depth %d is negative", c.Encryption.RingDepth)
	}
	switch c.Propagation.ConflictPolicy {
	case "", "manual", "last_writer_wins", "merge_by_field":
	default:
		return fmt.Errorf("conflict policy %q is not known", c.Propagation.ConflictPolicy)
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level %q is not known", c.LogLevel)
	}
	return nil
}
