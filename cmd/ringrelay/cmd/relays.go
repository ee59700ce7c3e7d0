/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"github.com/spf13/cobra"

	errs "github.com/ssargent/ringrelay/pkg/errors"
	"github.com/ssargent/ringrelay/pkg/relay"
	"github.com/ssargent/ringrelay/pkg/ringbuf"
	"github.com/ssargent/ringrelay/pkg/socket"
	"github.com/ssargent/ringrelay/pkg/storage"
	"github.com/ssargent/ringrelay/pkg/store"
)

// pushCmd represents the push command
var pushCmd = &cobra.Command{
	Use:   "push <ringbuffer> <port> <statsshm> <id>",
	Short: "Send records from a ring buffer to a remote pull relay",
	Long: `Dequeue records from a ring buffer and send them over TCP.

By default the relay listens on <port> and the pull relay connects to it; with
--connect it dials the given host instead. A lost connection is re-established
without limit. The record being sent when the connection failed is lost.

Examples:
  ringrelay push events 9000 flows 0
  ringrelay push events 9000 flows 0 --connect daq-builder`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := parsePort(args[1])
		if err != nil {
			return err
		}
		bind, _ := cmd.Flags().GetString("bind")
		connect, _ := cmd.Flags().GetString("connect")

		src, err := openRing(cmd, args[0])
		if err != nil {
			return err
		}
		defer src.Close()

		stats, id, err := openStats(args[2], args[3])
		if err != nil {
			return err
		}
		defer stats.Close()

		var connector socket.Connector
		if connect != "" {
			connector = &socket.Dialer{Host: connect, Port: port}
		} else {
			srv, err := socket.Listen(cmd.Context(), bind, port, false)
			if err != nil {
				return errs.WrapFatal(err, "push", "listen", "bind")
			}
			defer srv.Close()
			connector = srv
		}

		p := relay.NewPush(src, connector, container.PushPolicy(), container.RelayOptions("push", id, stats))
		return runRelays(cmd, []*ringbuf.RingBuffer{src}, p)
	},
}

// pullCmd represents the pull command
var pullCmd = &cobra.Command{
	Use:   "pull <ringbuffer> <host> <port> <statsshm> <id>",
	Short: "Receive records from a push relay into a ring buffer",
	Long: `Connect to a push relay and enqueue the records it sends.

A lost connection is re-established at most --max-retries times in a row;
after that the relay exits with an error. With --listen the relay accepts
connections on <port> instead of dialing <host>.

Examples:
  ringrelay pull events daq-reader 9000 flows 1
  ringrelay pull events daq-reader 9000 flows 1 --max-retries 30`,
	Args: cobra.ExactArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := parsePort(args[2])
		if err != nil {
			return err
		}
		listen, _ := cmd.Flags().GetBool("listen")
		maxRetries := container.Config().Relay.MaxRetries
		if cmd.Flags().Changed("max-retries") {
			maxRetries, _ = cmd.Flags().GetInt("max-retries")
		}

		dst, err := openRing(cmd, args[0])
		if err != nil {
			return err
		}
		defer dst.Close()

		stats, id, err := openStats(args[3], args[4])
		if err != nil {
			return err
		}
		defer stats.Close()

		var connector socket.Connector = &socket.Dialer{Host: args[1], Port: port}
		if listen {
			srv, err := socket.Listen(cmd.Context(), args[1], port, false)
			if err != nil {
				return errs.WrapFatal(err, "pull", "listen", "bind")
			}
			defer srv.Close()
			connector = srv
		}

		p := relay.NewPull(connector, dst, container.PullPolicy(maxRetries), container.RelayOptions("pull", id, stats))
		return runRelays(cmd, []*ringbuf.RingBuffer{dst}, p)
	},
}

// fanoutCmd represents the fanout command
var fanoutCmd = &cobra.Command{
	Use:   "fanout <src> <dst>...",
	Short: "Distribute records from one ring buffer over several",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rings, err := openRings(cmd, args)
		if err != nil {
			return err
		}
		defer closeRings(rings)

		f, err := relay.NewFanOut(rings[0], rings[1:], container.RelayOptions("fanout", 0, nil))
		if err != nil {
			return err
		}
		return runRelays(cmd, rings, f)
	},
}

// faninCmd represents the fanin command
var faninCmd = &cobra.Command{
	Use:   "fanin <dst> <src>...",
	Short: "Merge records from several ring buffers into one",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rings, err := openRings(cmd, args)
		if err != nil {
			return err
		}
		defer closeRings(rings)

		f, err := relay.NewFanIn(rings[1:], rings[0], container.RelayOptions("fanin", 0, nil))
		if err != nil {
			return err
		}
		return runRelays(cmd, rings, f)
	},
}

// rb2fileCmd represents the rb2file command
var rb2fileCmd = &cobra.Command{
	Use:   "rb2file <ringbuffer> <file>",
	Short: "Write records from a ring buffer to a sequential record file",
	Long: `Append records from a ring buffer to <file>, rolling over to <file>-1,
<file>-2 and so on when a segment reaches --segment-size bytes. A file name
ending in .gz is written gzip compressed. With --catalog every finished
segment is recorded in the catalog database in that directory.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := container.Config().File
		if cmd.Flags().Changed("segment-size") {
			cfg.SegmentSize, _ = cmd.Flags().GetInt64("segment-size")
		}
		if cmd.Flags().Changed("catalog") {
			cfg.Catalog, _ = cmd.Flags().GetString("catalog")
		}
		logger := container.Logger()

		src, err := openRing(cmd, args[0])
		if err != nil {
			return err
		}
		defer src.Close()

		var catalog *storage.Catalog
		if cfg.Catalog != "" {
			catalog, err = storage.OpenCatalog(cfg.Catalog)
			if err != nil {
				return errs.WrapFatal(err, "rb2file", "catalog", "open")
			}
			defer catalog.Close()
		}

		w, err := store.NewLogWriter(store.LogWriterConfig{
			FilePath:       args[1],
			FsyncInterval:  cfg.FsyncInterval,
			BufferSize:     cfg.BufferSize,
			MaxSegmentSize: cfg.SegmentSize,
			OnSegmentClosed: func(info store.SegmentInfo) {
				logger.Info("segment closed", "path", info.Path, "records", info.Records, "bytes", info.Bytes)
				if catalog == nil {
					return
				}
				if _, err := catalog.Add(args[1], info); err != nil {
					logger.Error("failed to catalog segment", "path", info.Path, "error", err)
				}
			},
		})
		if err != nil {
			return errs.WrapFatal(err, "rb2file", "open", args[1])
		}

		r := relay.NewRingToFile(src, w, container.RelayOptions("rb2file", 0, nil))
		return runRelays(cmd, []*ringbuf.RingBuffer{src}, r)
	},
}

// file2rbCmd represents the file2rb command
var file2rbCmd = &cobra.Command{
	Use:   "file2rb <ringbuffer> <file>",
	Short: "Replay a sequential record file into a ring buffer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		noTerminate, _ := cmd.Flags().GetBool("no-terminate")

		dst, err := openRing(cmd, args[0])
		if err != nil {
			return err
		}
		defer dst.Close()

		reader, err := store.NewLogReader(store.LogReaderConfig{FilePath: args[1]})
		if err != nil {
			return errs.WrapFatal(err, "file2rb", "open", args[1])
		}

		r := relay.NewFileToRing(reader, dst, container.RelayOptions("file2rb", 0, nil))
		r.EmitTerminate = !noTerminate
		return runRelays(cmd, []*ringbuf.RingBuffer{dst}, r)
	},
}

// rb2natsCmd represents the rb2nats command
var rb2natsCmd = &cobra.Command{
	Use:   "rb2nats <ringbuffer> <subject>",
	Short: "Publish records from a ring buffer to NATS for online monitoring",
	Long: `Publish EVENT records on <subject> and every other record type on
<subject>.control. Publishing is best effort; records that cannot be
published are dropped and counted.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := container.Config().NATS.URL
		if cmd.Flags().Changed("nats-url") {
			url, _ = cmd.Flags().GetString("nats-url")
		}

		src, err := openRing(cmd, args[0])
		if err != nil {
			return err
		}
		defer src.Close()

		nc, err := relay.ConnectNATS(url, "ringrelay-"+args[0], container.Logger())
		if err != nil {
			return errs.WrapFatal(err, "rb2nats", "connect", url)
		}
		defer nc.Close()

		n := relay.NewToNATS(src, nc, args[1], container.RelayOptions("rb2nats", 0, nil))
		n.Observe(nc)
		return runRelays(cmd, []*ringbuf.RingBuffer{src}, n)
	},
}

var relayCommands = []*cobra.Command{pushCmd, pullCmd, fanoutCmd, faninCmd, rb2fileCmd, file2rbCmd, rb2natsCmd}

func init() {
	for _, c := range relayCommands {
		addRingFlags(c)
		rootCmd.AddCommand(c)
	}

	pushCmd.Flags().String("bind", "0.0.0.0", "Address to listen on")
	pushCmd.Flags().String("connect", "", "Dial this host instead of listening")

	pullCmd.Flags().Int("max-retries", 10, "Consecutive reconnect attempts before giving up")
	pullCmd.Flags().Bool("listen", false, "Accept connections on <host>:<port> instead of dialing")

	rb2fileCmd.Flags().Int64("segment-size", store.DefaultMaxSegmentSize, "Bytes per file segment")
	rb2fileCmd.Flags().String("catalog", "", "Directory of the segment catalog database")

	file2rbCmd.Flags().Bool("no-terminate", false, "Do not enqueue a TERMINATE at the end of the file")

	rb2natsCmd.Flags().String("nats-url", "", "NATS server URL (default from config)")
}
