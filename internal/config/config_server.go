package config

import "time"

// ServerConfig configures the HTTP/WebSocket listener and its metrics
// sidecar, see internal/gateway.Server.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// DatabaseConfig configures the optional Postgres-backed session store, see
// internal/store/postgres.Config. When URL is empty, the file- or
// memory-backed sessions.Store is used instead.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}
