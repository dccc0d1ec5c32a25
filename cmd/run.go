package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"ensemble/internal/app"
)

type runOptions struct {
	debug         bool
	watch         bool
	noLogs        bool
	dashboardPort int
	logFormat     string
	configPath    string
}

// newRunCmd creates the command that runs an application in the foreground.
func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Run every service of an application until interrupted",
		Long: `Runs the application described by an ensemble.yaml file. The argument may be
the file itself or a directory containing it; it defaults to the current
directory.

Replica output is printed with the replica name as prefix. Press Ctrl+C to
stop every service. If ensemble itself is killed, 'ensemble purge' removes
what was left running.

Configuration:
  Tool settings are read from ~/.config/ensemble/config.yaml. Use
  --config-path to read config.yaml from another directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApplication(cmd, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Restart services when their source files change")
	cmd.Flags().BoolVar(&opts.noLogs, "no-logs", false, "Do not print replica output")
	cmd.Flags().IntVar(&opts.dashboardPort, "dashboard-port", 0, "Port of the status API (overrides config)")
	cmd.Flags().StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")
	cmd.Flags().StringVar(&opts.configPath, "config-path", "", "Custom configuration directory path")
	return cmd
}

func runApplication(cmd *cobra.Command, args []string, opts *runOptions) error {
	if opts.logFormat != "text" && opts.logFormat != "json" {
		return fmt.Errorf("unsupported log format %q (use text or json)", opts.logFormat)
	}
	if opts.dashboardPort < 0 || opts.dashboardPort > 65535 {
		return fmt.Errorf("invalid dashboard port %d", opts.dashboardPort)
	}

	cfg := app.NewConfig(firstArg(args), opts.configPath, opts.debug)
	cfg.Watch = opts.watch
	cfg.NoLogs = opts.noLogs
	cfg.DashboardPort = opts.dashboardPort
	cfg.LogFormat = opts.logFormat
	cfg.Version = rootCmd.Version
	cfg.Stdout = cmd.OutOrStdout()

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
