package app

import (
	"io"
	"os"

	"ensemble/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Debug settings
	Debug bool
	// LogFormat is "text" or "json".
	LogFormat string

	// Custom configuration path (optional). Defaults to ~/.config/ensemble.
	ConfigPath string

	// ApplicationPath is an ensemble.yaml file or a directory holding one.
	ApplicationPath string

	// Watch relaunches services whose sources change.
	Watch bool
	// NoLogs stops replica output from being echoed.
	NoLogs bool
	// DashboardPort overrides the configured dashboard port when positive.
	DashboardPort int

	Version string
	Stdout  io.Writer
	Stderr  io.Writer

	// Tool configuration, filled in by NewApplication
	EnsembleConfig *config.EnsembleConfig
}

// NewConfig creates a new application configuration
func NewConfig(applicationPath, configPath string, debug bool) *Config {
	return &Config{
		Debug:           debug,
		ConfigPath:      configPath,
		ApplicationPath: applicationPath,
		Stdout:          os.Stdout,
		Stderr:          os.Stderr,
	}
}

func (c *Config) configPath() string {
	if c.ConfigPath != "" {
		return c.ConfigPath
	}
	return config.GetDefaultConfigPathOrPanic()
}

func (c *Config) applicationPath() string {
	if c.ApplicationPath != "" {
		return c.ApplicationPath
	}
	return "."
}
