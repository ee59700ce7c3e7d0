/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ssargent/ringrelay/pkg/config"
	"github.com/ssargent/ringrelay/pkg/storage"
)

// catalogCmd represents the catalog command
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the segment catalog written by rb2file",
}

var catalogListCmd = &cobra.Command{
	Use:   "list <dir>",
	Short: "List cataloged segments, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		asJSON, _ := cmd.Flags().GetBool("json")

		catalog, err := storage.OpenCatalog(args[0])
		if err != nil {
			return err
		}
		defer catalog.Close()

		entries, err := catalog.List(file)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd, entries)
		}
		for _, e := range entries {
			cmd.Printf("%s %s run=%d records=%d bytes=%d closed=%s\n",
				e.ID, e.Path, e.Run, e.Records, e.Bytes, e.ClosedAt.Format("2006-01-02T15:04:05"))
		}
		return nil
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.GetDefaultConfigPath()
		if len(args) == 1 {
			path = args[0]
		}
		force, _ := cmd.Flags().GetBool("force")
		withKey, _ := cmd.Flags().GetBool("api-key")

		if config.ConfigExists(path) && !force {
			cmd.Printf("Configuration already exists at %s. Use --force to overwrite.\n", path)
			return nil
		}
		if _, err := config.BootstrapConfig(path, withKey); err != nil {
			return err
		}
		cmd.Printf("Wrote configuration to %s\n", path)
		return nil
	},
}

func init() {
	catalogListCmd.Flags().String("file", "", "Only list segments of this record file")
	catalogListCmd.Flags().Bool("json", false, "Print entries as JSON")
	catalogCmd.AddCommand(catalogListCmd)

	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")
	configInitCmd.Flags().Bool("api-key", false, "Generate an API key protecting the monitoring endpoints")
	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(catalogCmd, configCmd)
}
