package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"ensemble/internal/app"
)

// newPurgeCmd creates the command that cleans up after a run that did not
// shut down cleanly.
func newPurgeCmd() *cobra.Command {
	var debug bool
	var configPath string

	cmd := &cobra.Command{
		Use:   "purge [file]",
		Short: "Remove processes and containers left behind by a previous run",
		Long: `Reads the run-state an application left in its state directory, terminates
the recorded processes, removes the recorded containers and deletes the
state directory. Purging an application that is not running is safe.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.NewConfig(firstArg(args), configPath, debug)
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return app.Purge(ctx, cfg)
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&configPath, "config-path", "", "Custom configuration directory path")
	return cmd
}
