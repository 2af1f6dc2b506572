package config

// Config is the top-level configuration for the registry process.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Encryption  EncryptionConfig  `yaml:"encryption"`
	Streaming   StreamingConfig   `yaml:"streaming"`
	Propagation PropagationConfig `yaml:"propagation"`
	Bridge      BridgeConfig      `yaml:"bridge"`
	LogLevel    string            `yaml:"logLevel,omitempty"` // debug, info, warn, error (default: info)
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"` // Host to bind to (default: localhost)
	Port int    `yaml:"port,omitempty"` // Port for the /v1 API (default: 8420)

	// RateLimitPerSecond caps requests per client; 0 keeps the default.
	RateLimitPerSecond float64 `yaml:"rateLimitPerSecond,omitempty"`
	RateLimitBurst     int     `yaml:"rateLimitBurst,omitempty"`
}

// DatabaseConfig locates the registry store. Path is the SQLite file;
// the network fields exist for deployments that front the store with an
// external database proxy and are surfaced to hooks via env.
type DatabaseConfig struct {
	Path     string `yaml:"path,omitempty"`
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Name     string `yaml:"name,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// EncryptionConfig configures the key manager.
type EncryptionConfig struct {
	KeyPath   string `yaml:"keyPath,omitempty"`   // default: $CONFIG_DIR/encryption.key
	RingDepth int    `yaml:"ringDepth,omitempty"` // retired keys kept for decryption (default: 3)
}

// StreamingConfig configures the stream engine.
type StreamingConfig struct {
	HeartbeatSeconds int  `yaml:"heartbeatSeconds,omitempty"` // default: 30
	MaxStreams       int  `yaml:"maxStreams,omitempty"`       // default: 10000
	EncryptPayloads  bool `yaml:"encryptPayloads,omitempty"`
}

// PropagationConfig configures the propagation engine.
type PropagationConfig struct {
	ConflictPolicy string `yaml:"conflictPolicy,omitempty"` // manual, last_writer_wins, merge_by_field
	MaxSessions    int    `yaml:"maxSessions,omitempty"`    // default: 1000
}

// BridgeConfig configures the integration bridge.
type BridgeConfig struct {
	TTLSeconds int    `yaml:"ttlSeconds,omitempty"` // default: 600
	Namespace  string `yaml:"namespace,omitempty"`
	EnvPrefix  string `yaml:"envPrefix,omitempty"` // env discovery source prefix
}
