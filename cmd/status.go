package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"ensemble/internal/config"
	"ensemble/internal/formatting"
	"ensemble/internal/server"
)

type statusOptions struct {
	output     string
	endpoint   string
	configPath string
	quiet      bool
}

// newStatusCmd creates the command that prints the state of a running
// application through its dashboard API.
func newStatusCmd() *cobra.Command {
	opts := &statusOptions{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the services and replicas of the running application",
		Long: `Queries the status API of a running 'ensemble run' and prints every replica
with its state, ports, process or container and restart count.

The API address is taken from the dashboard section of config.yaml unless
--endpoint is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "table", "Output format: table, json or yaml")
	cmd.Flags().StringVar(&opts.endpoint, "endpoint", "", "Status API base URL, e.g. http://127.0.0.1:8000")
	cmd.Flags().StringVar(&opts.configPath, "config-path", "", "Custom configuration directory path")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Omit the title and summary")
	return cmd
}

func runStatus(cmd *cobra.Command, opts *statusOptions) error {
	format, err := formatting.ParseOutputFormat(opts.output)
	if err != nil {
		return err
	}

	endpoint := opts.endpoint
	if endpoint == "" {
		endpoint, err = dashboardEndpoint(opts.configPath)
		if err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	client := server.NewClient(endpoint)
	info, err := client.GetApplication(ctx)
	if err != nil {
		return err
	}
	services, err := client.ListServices(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	formatter := formatting.New(formatting.Options{
		Format: format,
		Quiet:  opts.quiet,
		Color:  isTerminal(out),
	})
	return formatter.FormatStatus(out, formatting.Status{Application: info, Services: services})
}

func dashboardEndpoint(configPath string) (string, error) {
	if configPath == "" {
		configPath = config.GetDefaultConfigPathOrPanic()
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return "", err
	}
	if !cfg.Dashboard.Enabled {
		return "", fmt.Errorf("the dashboard is disabled in %s, pass --endpoint", configPath)
	}
	host := cfg.Dashboard.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Dashboard.Port)), nil
}

func isTerminal(w interface{}) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
