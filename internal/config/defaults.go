package config

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "localhost",
			Port:           8000,
			ReadBufferSize: 1024,
		},
		Storage: StorageConfig{
			Driver:        DriverSQLite3,
			Path:          "~/.config/visitortrack/visitors.db",
			URL:           "",
			AuthToken:     "",
			PoolSize:      5,
			BusyTimeoutMS: 10000,
		},
		Security: SecurityConfig{
			Secret: "",
		},
		TLS: TLSConfig{
			Enabled:  false,
			CertFile: "server.crt",
			KeyFile:  "server.key",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
