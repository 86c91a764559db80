package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
}

// NewRootCommand creates the root command for the sandreplay CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "sandreplay",
		Short: "Delayed instant replay of a live chunk stream",
		Long: `sandreplay ingests media segments written by an external encoder and
plays each one back after a fixed delay, keeping a bounded window of
history either in memory or on local disk.`,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "sandreplay.yaml", "path to the YAML config file")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}
