package api

import (
	"github.com/ssargent/ringrelay/pkg/flowstats"
	"github.com/ssargent/ringrelay/pkg/ringbuf"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ServerConfig holds configuration for the monitoring server
type ServerConfig struct {
	Bind   string
	Port   int
	APIKey string // protects /api/v1 when set
}

// StatsProvider reports the live state of the relays in this process.
type StatsProvider interface {
	Snapshots() []flowstats.Snapshot
	Rings() []ringbuf.Stats
}

// StatsResponse is the body of GET /api/v1/stats
type StatsResponse struct {
	Relays []flowstats.Snapshot `json:"relays"`
	Rings  []ringbuf.Stats      `json:"rings"`
}

// HealthResponse is the body of GET /api/v1/health
type HealthResponse struct {
	Status string `json:"status"`
	Relays int    `json:"relays"`
}
