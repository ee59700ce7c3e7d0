/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	errs "github.com/ssargent/ringrelay/pkg/errors"
)

const systemdUnitDir = "/etc/systemd/system"

// serviceCmd represents the service command
var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Run relays as systemd services",
	Long: `Run relays as systemd services. Each relay gets its own unit,
ringrelay-<name>.service, restarted by systemd when it exits with an error.`,
}

// serviceUnit describes one relay unit file
type serviceUnit struct {
	Name    string
	User    string
	Binary  string
	Config  string
	ShmDir  string
	Command []string
}

func (u serviceUnit) unitName() string {
	return "ringrelay-" + u.Name + ".service"
}

func (u serviceUnit) render() string {
	argv := []string{u.Binary}
	if u.Config != "" {
		argv = append(argv, "--config", u.Config)
	}
	argv = append(argv, u.Command...)

	var b strings.Builder
	fmt.Fprintf(&b, "[Unit]\nDescription=ringrelay %s\nAfter=network-online.target\nWants=network-online.target\n\n", u.Name)
	fmt.Fprintf(&b, "[Service]\nUser=%s\nGroup=%s\n", u.User, u.User)
	fmt.Fprintf(&b, "ExecStart=%s\n", strings.Join(argv, " "))
	// a pull relay out of reconnect attempts exits non-zero
	b.WriteString("Restart=on-failure\nRestartSec=5\nNoNewPrivileges=true\nUMask=0077\n")
	if u.ShmDir != "" {
		fmt.Fprintf(&b, "ReadWritePaths=%s\n", u.ShmDir)
	}
	b.WriteString("\n[Install]\nWantedBy=multi-user.target\n")
	return b.String()
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install <name> -- <relay command>...",
	Short: "Install a relay as a systemd service",
	Long: `Write a systemd unit running the given relay command, then enable it.

Examples:
  sudo ringrelay service install reader -- push events 9000 flows 0
  ringrelay service install builder --dry-run -- pull events daq-reader 9000 flows 1`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		binary, _ := cmd.Flags().GetString("binary")
		startNow, _ := cmd.Flags().GetBool("start")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		configPath, _ := cmd.Flags().GetString("config")

		if !isRelayCommand(args[1]) {
			return fmt.Errorf("%w: %q is not a relay command", errs.ErrInvalidConfig, args[1])
		}
		if configPath != "" {
			if abs, err := filepath.Abs(configPath); err == nil {
				configPath = abs
			}
		}

		unit := serviceUnit{
			Name:    args[0],
			User:    user,
			Binary:  binary,
			Config:  configPath,
			ShmDir:  container.Config().ShmDir,
			Command: args[1:],
		}
		if dryRun {
			cmd.Print(unit.render())
			return nil
		}
		if os.Geteuid() != 0 {
			return fmt.Errorf("service install requires root privileges (run with sudo)")
		}

		unitPath := filepath.Join(systemdUnitDir, unit.unitName())
		if err := os.WriteFile(unitPath, []byte(unit.render()), 0600); err != nil {
			return fmt.Errorf("failed to write unit file: %w", err)
		}
		if err := runSystemctlCommand("daemon-reload"); err != nil {
			return err
		}
		if err := runSystemctlCommand("enable", unit.unitName()); err != nil {
			return err
		}
		cmd.Printf("Installed %s\n", unitPath)

		if startNow {
			if err := runSystemctlCommand("start", unit.unitName()); err != nil {
				return err
			}
			cmd.Printf("Started %s\n", unit.unitName())
		}
		cmd.Printf("To view logs: sudo journalctl -u %s -f\n", unit.unitName())
		return nil
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall <name>",
	Short: "Stop and remove a relay service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if os.Geteuid() != 0 {
			return fmt.Errorf("service uninstall requires root privileges (run with sudo)")
		}
		unit := serviceUnit{Name: args[0]}

		_ = runSystemctlCommand("stop", unit.unitName())
		if err := runSystemctlCommand("disable", unit.unitName()); err != nil {
			cmd.Printf("Warning: could not disable service: %v\n", err)
		}

		unitPath := filepath.Join(systemdUnitDir, unit.unitName())
		if err := os.Remove(unitPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove unit file: %w", err)
		}
		if err := runSystemctlCommand("daemon-reload"); err != nil {
			return err
		}
		cmd.Printf("Removed %s\n", unit.unitName())
		return nil
	},
}

// serviceSystemctl builds a subcommand passing a single verb to systemctl
func serviceSystemctl(verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSystemctlCommand(verb, serviceUnit{Name: args[0]}.unitName())
		},
	}
}

var serviceLogsCmd = &cobra.Command{
	Use:   "logs <name>",
	Short: "Show the journal of a relay service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")
		lines, _ := cmd.Flags().GetInt("lines")

		journalArgs := []string{"-u", serviceUnit{Name: args[0]}.unitName()}
		if follow {
			journalArgs = append(journalArgs, "-f")
		}
		if lines > 0 {
			journalArgs = append(journalArgs, fmt.Sprintf("-n%d", lines))
		}
		return runCommand("journalctl", journalArgs...)
	},
}

func init() {
	serviceCmd.AddCommand(
		serviceInstallCmd,
		serviceUninstallCmd,
		serviceSystemctl("start", "Start a relay service"),
		serviceSystemctl("stop", "Stop a relay service"),
		serviceSystemctl("restart", "Restart a relay service"),
		serviceSystemctl("status", "Show the status of a relay service"),
		serviceLogsCmd,
	)
	rootCmd.AddCommand(serviceCmd)

	serviceInstallCmd.Flags().String("user", "ringrelay", "User to run the service as")
	serviceInstallCmd.Flags().String("binary", "/usr/local/bin/ringrelay", "Path of the ringrelay binary")
	serviceInstallCmd.Flags().Bool("start", true, "Start the service after installation")
	serviceInstallCmd.Flags().Bool("dry-run", false, "Print the unit file instead of installing it")

	serviceLogsCmd.Flags().BoolP("follow", "f", false, "Follow log output")
	serviceLogsCmd.Flags().IntP("lines", "n", 0, "Number of lines to show")
}

func isRelayCommand(name string) bool {
	for _, c := range relayCommands {
		if c.Name() == name {
			return true
		}
	}
	return false
}

func runSystemctlCommand(args ...string) error {
	return runCommand("systemctl", args...)
}

// runCommand runs a system command with its output attached to ours
func runCommand(command string, args ...string) error {
	c := exec.Command(command, args...)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Run(); err != nil {
		return fmt.Errorf("%s %s: %w", command, strings.Join(args, " "), err)
	}
	return nil
}
