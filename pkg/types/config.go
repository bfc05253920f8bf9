package types

import "time"

// ServerConfig configures the read-only HTTP/WebSocket API surface.
type ServerConfig struct {
	Host           string
	Port           int
	WebSocketPath  string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxConnections int
	EnableMetrics  bool
	MetricsPort    int
}
