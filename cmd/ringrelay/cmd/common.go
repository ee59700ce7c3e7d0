/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ssargent/ringrelay/pkg/api"
	errs "github.com/ssargent/ringrelay/pkg/errors"
	"github.com/ssargent/ringrelay/pkg/flowstats"
	"github.com/ssargent/ringrelay/pkg/relay"
	"github.com/ssargent/ringrelay/pkg/ringbuf"
)

// addRingFlags registers flags shared by every relay command
func addRingFlags(cmd *cobra.Command) {
	cmd.Flags().Int("capacity", 0, "Create missing ring buffers with this many 32-bit words (0 requires them to exist)")
}

// openRing attaches to a ring buffer, creating it when --capacity is set
func openRing(cmd *cobra.Command, name string) (*ringbuf.RingBuffer, error) {
	capacity, _ := cmd.Flags().GetInt("capacity")
	opts := container.ShmOptions()

	var (
		rb  *ringbuf.RingBuffer
		err error
	)
	if capacity > 0 {
		rb, err = ringbuf.Create(name, capacity, opts...)
	} else {
		rb, err = ringbuf.Attach(name, opts...)
	}
	if err != nil {
		return nil, errs.WrapFatal(err, "cmd", "openRing", "open ring buffer "+name)
	}
	return rb, nil
}

// openRings opens every name, closing the ones already opened on failure
func openRings(cmd *cobra.Command, names []string) ([]*ringbuf.RingBuffer, error) {
	rings := make([]*ringbuf.RingBuffer, 0, len(names))
	for _, name := range names {
		rb, err := openRing(cmd, name)
		if err != nil {
			closeRings(rings)
			return nil, err
		}
		rings = append(rings, rb)
	}
	return rings, nil
}

func closeRings(rings []*ringbuf.RingBuffer) {
	for _, rb := range rings {
		rb.Close()
	}
}

// openStats opens the flow statistics table and validates the slot id
func openStats(name, idArg string) (*flowstats.Table, int, error) {
	id, err := strconv.Atoi(idArg)
	if err != nil || id < 0 || id >= flowstats.MaxSlots {
		return nil, 0, fmt.Errorf("%w: id %q must be between 0 and %d", errs.ErrInvalidConfig, idArg, flowstats.MaxSlots-1)
	}
	table, err := flowstats.Open(name, container.ShmOptions()...)
	if err != nil {
		return nil, 0, errs.WrapFatal(err, "cmd", "openStats", "open flow stats "+name)
	}
	return table, id, nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 0 || port > 65535 {
		return 0, fmt.Errorf("%w: invalid port %q", errs.ErrInvalidConfig, s)
	}
	return port, nil
}

// runRelays runs relays until they stop, serving metrics meanwhile when a
// metrics port is configured. An interrupted run is not an error.
func runRelays(cmd *cobra.Command, rings []*ringbuf.RingBuffer, relays ...relay.Relay) error {
	group := container.Group()
	group.Watch(rings...)
	group.Add(relays...)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	logger := container.Logger()
	if container.Config().Metrics.Port > 0 {
		srv := api.NewServer(container.ServerConfig(), container.Metrics(), group, logger)
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("monitoring server stopped", "error", err)
			}
		}()
	}

	err := group.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("interrupted")
		return nil
	}
	return err
}
