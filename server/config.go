package server

import "time"

// Config is the Listener's view of ServerConfig (spec.md §3/§6): the
// fields that govern accept-loop behavior. Persistence, allow-list
// mutation, and CLI flags live in internal/config; this is the narrower
// shape server.New actually consumes, mirroring the teacher's
// internal/server/usb.ServerConfig split from its CLI-facing config.
type Config struct {
	Addr              string
	MaxConnections    int
	ConnectionTimeout time.Duration
	URBTimeoutMs      uint32
}

// DefaultConfig returns the spec.md §3 defaults: port 3240, 10 max
// connections.
func DefaultConfig() Config {
	return Config{
		Addr:              ":3240",
		MaxConnections:    10,
		ConnectionTimeout: 0,
		URBTimeoutMs:      30000,
	}
}
