package cmd

import (
	"github.com/spf13/cobra"

	"github.com/alpacahq/diskcache/cmd/start"
	"github.com/alpacahq/diskcache/cmd/tool"
	"github.com/alpacahq/diskcache/utils/log"
)

// Version is set at build time.
var Version = "dev"

// flagPrintVersion set flag to show current diskcache version.
var flagPrintVersion bool

// Execute builds the command tree and executes commands.
func Execute() error {
	// c is the root command.
	c := &cobra.Command{
		Use: "diskcache",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Print version if specified.
			if flagPrintVersion {
				log.Info("version: %+v", Version)
				return nil
			}
			// Print information regarding usage.
			return cmd.Usage()
		},
	}

	// Adds subcommands and version flag.
	c.AddCommand(start.Cmd)
	c.AddCommand(tool.Cmd)
	c.Flags().BoolVarP(&flagPrintVersion, "version", "v", false, "show the version info and exit")

	return c.Execute()
}
