package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	userConfigDir  = ".hyperreg"
	configFileName = "config.yaml"
)

// GetDefaultConfigPathOrPanic resolves the config directory:
// REGISTRY_CONFIG_DIR when set, otherwise ~/.hyperreg.
func GetDefaultConfigPathOrPanic() string {
	if dir := os.Getenv("REGISTRY_CONFIG_DIR"); dir != "" {
		return dir
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}
	return filepath.Join(homeDir, userConfigDir)
}

// GetDefaultConfig returns the defaults every load starts from. configDir
// anchors the database and key paths.
func GetDefaultConfig(configDir string) Config {
	return Config{
		Server: ServerConfig{
			Host:               "localhost",
			Port:               8420,
			RateLimitPerSecond: 50,
			RateLimitBurst:     100,
		},
		Database: DatabaseConfig{
			Path: filepath.Join(configDir, "registry", "registry.db"),
		},
		Encryption: EncryptionConfig{
			KeyPath:   filepath.Join(configDir, "encryption.key"),
			RingDepth: 3,
		},
		Streaming: StreamingConfig{
			HeartbeatSeconds: 30,
			MaxStreams:       10000,
		},
		Propagation: PropagationConfig{
			ConflictPolicy: "manual",
			MaxSessions:    1000,
		},
		Bridge: BridgeConfig{
			TTLSeconds: 600,
		},
		LogLevel: "info",
	}
}
