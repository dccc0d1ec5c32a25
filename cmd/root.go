package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"ensemble/internal/api"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeConfigError indicates an invalid tool config or application file.
	ExitCodeConfigError = 2
	// ExitCodeStartFailed indicates that a service could not be launched.
	ExitCodeStartFailed = 3
)

// rootCmd represents the base command for the ensemble application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "ensemble",
	Short: "Run a multi-service application on your machine",
	Long: `ensemble runs the services of a local development application together:
executables, source projects, containers and ingress proxies, described in
one ensemble.yaml file.

It wires their ports and connection strings into each other's environment,
restarts crashed replicas, gates traffic on readiness probes and serves a
status API, Prometheus metrics and an MCP endpoint while running.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "ensemble version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	switch {
	case api.IsKind(err, api.KindConfig), api.IsKind(err, api.KindCycle):
		return ExitCodeConfigError
	case api.IsKind(err, api.KindLaunch):
		return ExitCodeStartFailed
	default:
		return ExitCodeError
	}
}

func init() {
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newPurgeCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}
