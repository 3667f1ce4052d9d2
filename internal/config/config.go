package config

// Config represents the main GGBConnect configuration
type Config struct {
	// HTTP + websocket listener
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Durable session store
	Database DatabaseConfig `json:"database" mapstructure:"database"`

	// Rendering engine
	Engine EngineConfig `json:"engine" mapstructure:"engine"`

	// Idle session reaper
	Cleanup CleanupConfig `json:"cleanup" mapstructure:"cleanup"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds listener configuration
type ServerConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// DatabaseConfig holds the sqlite session store configuration
type DatabaseConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// EngineConfig holds rendering engine configuration
type EngineConfig struct {
	AppURL         string `json:"app_url" mapstructure:"app_url"`
	Headless       bool   `json:"headless" mapstructure:"headless"`
	PoolSize       int    `json:"pool_size" mapstructure:"pool_size"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// CleanupConfig holds idle session reaper configuration
type CleanupConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	IdleMinutes int    `json:"idle_minutes" mapstructure:"idle_minutes"`
	Schedule    string `json:"schedule" mapstructure:"schedule"` // cron expression
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
	File    string `json:"file" mapstructure:"file"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Database: DatabaseConfig{},
		Engine: EngineConfig{
			AppURL:         "https://www.geogebra.org/classic",
			Headless:       true,
			PoolSize:       2,
			TimeoutSeconds: 30,
		},
		Cleanup: CleanupConfig{
			Enabled:     false,
			IdleMinutes: 120,
			Schedule:    "*/10 * * * *",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
	}
}
