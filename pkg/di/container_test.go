package di

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ssargent/ringrelay/pkg/api"
	"github.com/ssargent/ringrelay/pkg/config"
	"github.com/ssargent/ringrelay/pkg/retry"
)

func TestContainer_Defaults(t *testing.T) {
	c := NewContainer()

	assert.NotNil(t, c.Config())
	assert.NotNil(t, c.Logger())
	assert.NotNil(t, c.Group())
	assert.Nil(t, c.ShmOptions())

	m := c.Metrics()
	assert.Same(t, m, c.Metrics())
}

func TestContainer_RelayOptions(t *testing.T) {
	c := NewContainer()
	cfg := config.DefaultConfig()
	cfg.ShmDir = t.TempDir()
	cfg.Relay.IdleWait = 50 * time.Microsecond
	cfg.Relay.MaxWait = time.Millisecond
	logger := slog.Default()
	c.Configure(cfg, logger)

	metrics := api.NewMetrics()
	c.SetMetrics(metrics)

	opts := c.RelayOptions("push", 3, nil)
	assert.Equal(t, "push", opts.Name)
	assert.Equal(t, 3, opts.ID)
	assert.Same(t, logger, opts.Logger)
	assert.Same(t, metrics, opts.Metrics)
	assert.Equal(t, 50*time.Microsecond, opts.IdleWait)
	assert.Equal(t, time.Millisecond, opts.MaxWait)
	assert.Len(t, c.ShmOptions(), 1)
}

func TestContainer_ReconnectPolicies(t *testing.T) {
	c := NewContainer()

	assert.Equal(t, retry.Unlimited, c.PushPolicy().MaxAttempts)
	assert.Equal(t, 5, c.PullPolicy(5).MaxAttempts)
	assert.Equal(t, 1, c.PullPolicy(0).MaxAttempts)
	assert.Equal(t, time.Second, c.PullPolicy(5).InitialDelay)
}
