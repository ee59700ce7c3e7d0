/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	errs "github.com/ssargent/ringrelay/pkg/errors"
	"github.com/ssargent/ringrelay/pkg/flowstats"
	"github.com/ssargent/ringrelay/pkg/ringbuf"
	"github.com/ssargent/ringrelay/pkg/shm"
)

// ringCmd represents the ring command
var ringCmd = &cobra.Command{
	Use:   "ring",
	Short: "Manage shared memory ring buffers",
}

var ringCreateCmd = &cobra.Command{
	Use:   "create <name> <capacityWords>",
	Short: "Create a ring buffer, or attach to an existing one",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		capacity, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("%w: capacity %q", errs.ErrInvalidConfig, args[1])
		}
		rb, err := ringbuf.Create(args[0], capacity, container.ShmOptions()...)
		if err != nil {
			return err
		}
		defer rb.Close()

		if rb.Created() {
			cmd.Printf("Created ring buffer %s with %d words\n", rb.Name(), rb.Capacity())
		} else {
			cmd.Printf("Ring buffer %s already exists with %d words\n", rb.Name(), rb.Capacity())
		}
		return nil
	},
}

var ringStatCmd = &cobra.Command{
	Use:     "stat <name>",
	Aliases: []string{"attach"},
	Short:   "Show the occupancy and counters of a ring buffer",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rb, err := ringbuf.Attach(args[0], container.ShmOptions()...)
		if err != nil {
			return err
		}
		defer rb.Close()

		st, err := rb.Stats()
		if err != nil {
			return err
		}
		return printJSON(cmd, st)
	},
}

var ringResetCmd = &cobra.Command{
	Use:   "reset <name>",
	Short: "Discard every record queued in a ring buffer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rb, err := ringbuf.Attach(args[0], container.ShmOptions()...)
		if err != nil {
			return err
		}
		defer rb.Close()
		return rb.Reset()
	},
}

var ringRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Remove a ring buffer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ringbuf.Remove(args[0], container.ShmOptions()...); err != nil {
			return err
		}
		cmd.Printf("Removed %s\n", shm.Path(args[0], container.ShmOptions()...))
		return nil
	},
}

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats <statsshm>",
	Short: "Show the flow statistics published by the relays on this host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !shm.Exists(args[0], container.ShmOptions()...) {
			return fmt.Errorf("flow stats %s: %w", args[0], shm.ErrNotFound)
		}
		table, err := flowstats.Open(args[0], container.ShmOptions()...)
		if err != nil {
			return err
		}
		defer table.Close()

		snaps, err := table.All()
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			cmd.Println("No relays have published statistics")
			return nil
		}
		for _, s := range snaps {
			cmd.Printf("%3d %-16s %-12s records=%d bytes=%d dropped=%d reconnects=%d terminates=%d updated=%s\n",
				s.ID, s.Name, s.State, s.Records, s.Bytes, s.Dropped, s.Reconnects, s.Terminates,
				s.Updated.Format("2006-01-02T15:04:05"))
		}
		return nil
	},
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(data))
	return nil
}

func init() {
	ringCmd.AddCommand(ringCreateCmd, ringStatCmd, ringResetCmd, ringRmCmd)
	rootCmd.AddCommand(ringCmd, statsCmd)
}
