// Package di provides dependency injection container
package di

import (
	"io"
	"log/slog"
	"sync"

	"github.com/ssargent/ringrelay/pkg/api" //nolint:depguard
	"github.com/ssargent/ringrelay/pkg/config"
	"github.com/ssargent/ringrelay/pkg/flowstats"
	"github.com/ssargent/ringrelay/pkg/relay"
	"github.com/ssargent/ringrelay/pkg/retry"
	"github.com/ssargent/ringrelay/pkg/shm"
)

// Container holds all the dependencies shared by the commands of one process
type Container struct {
	mu      sync.Mutex
	config  *config.Config
	logger  *slog.Logger
	metrics *api.Metrics
	group   *relay.Group
}

// NewContainer creates a new dependency injection container with default
// configuration and a logger that discards output until Configure is called
func NewContainer() *Container {
	return &Container{
		config: config.DefaultConfig(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		group:  &relay.Group{},
	}
}

// Configure replaces the configuration and logger
func (c *Container) Configure(cfg *config.Config, logger *slog.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config = cfg
	c.logger = logger
}

// Config returns the active configuration
func (c *Container) Config() *config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

// Logger returns the process logger
func (c *Container) Logger() *slog.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}

// Metrics returns the process metrics, creating them on first use
func (c *Container) Metrics() *api.Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.metrics == nil {
		c.metrics = api.NewMetrics()
	}
	return c.metrics
}

// SetMetrics allows overriding the metrics (for testing)
func (c *Container) SetMetrics(m *api.Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
}

// Group returns the relays of this process
func (c *Container) Group() *relay.Group {
	return c.group
}

// ShmOptions locates shared memory segments
func (c *Container) ShmOptions() []shm.Option {
	cfg := c.Config()
	if cfg.ShmDir == "" {
		return nil
	}
	return []shm.Option{shm.WithDir(cfg.ShmDir)}
}

// RelayOptions builds the options of one relay from the configuration. stats
// may be nil.
func (c *Container) RelayOptions(name string, id int, stats *flowstats.Table) relay.Options {
	cfg := c.Config()
	return relay.Options{
		Name:          name,
		ID:            id,
		Logger:        c.Logger(),
		Metrics:       c.Metrics(),
		Stats:         stats,
		IdleWait:      cfg.Relay.IdleWait,
		FullWait:      cfg.Relay.FullWait,
		MaxWait:       cfg.Relay.MaxWait,
		StatsInterval: cfg.Relay.StatsInterval,
	}
}

// PushPolicy is the reconnect policy of push relays: retry forever
func (c *Container) PushPolicy() relay.ReconnectPolicy {
	cfg := c.Config().Relay
	return retry.Config{
		MaxAttempts:  retry.Unlimited,
		InitialDelay: cfg.ReconnectDelay,
		MaxDelay:     cfg.MaxReconnectDelay,
		Multiplier:   2.0,
	}
}

// PullPolicy is the reconnect policy of pull relays: give up after
// maxRetries consecutive failures
func (c *Container) PullPolicy(maxRetries int) relay.ReconnectPolicy {
	cfg := c.Config().Relay
	if maxRetries < 1 {
		maxRetries = 1
	}
	return retry.Config{
		MaxAttempts:  maxRetries,
		InitialDelay: cfg.ReconnectDelay,
		MaxDelay:     cfg.MaxReconnectDelay,
		Multiplier:   2.0,
	}
}

// ServerConfig returns the monitoring server configuration
func (c *Container) ServerConfig() api.ServerConfig {
	cfg := c.Config().Metrics
	return api.ServerConfig{
		Bind:   cfg.Bind,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
	}
}
