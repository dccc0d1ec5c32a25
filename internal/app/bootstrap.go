package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"ensemble/internal/api"
	"ensemble/internal/config"
	"ensemble/pkg/logging"
)

// Application bootstraps and runs one ensemble application file.
//
// Initialization has two phases:
//  1. Bootstrap: configure logging, load the tool config and the
//     application file, build the services
//  2. Execution: start everything and wait for a signal
type Application struct {
	config      *Config
	description api.ApplicationDescription
	services    *Services
}

// NewApplication performs the bootstrap sequence. It fails when the tool
// config or the application file is invalid.
func NewApplication(cfg *Config) (*Application, error) {
	InitLogging(cfg)

	_, err := loadEnsembleConfig(cfg)
	if err != nil {
		return nil, err
	}

	desc, err := loadDescription(cfg)
	if err != nil {
		return nil, err
	}

	services, err := InitializeServices(cfg, desc)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:      cfg,
		description: desc,
		services:    services,
	}, nil
}

// InitLogging routes logging to cfg.Stderr so that stdout carries replica
// output only.
func InitLogging(cfg *Config) {
	level := logging.LevelInfo
	if cfg.Debug {
		level = logging.LevelDebug
	}
	var out io.Writer = os.Stderr
	if cfg.Stderr != nil {
		out = cfg.Stderr
	}
	if cfg.LogFormat == "json" {
		logging.InitForJSON(level, out)
		return
	}
	logging.InitForCLI(level, out)
}

func loadEnsembleConfig(cfg *Config) (*config.EnsembleConfig, error) {
	ensembleCfg, err := config.LoadConfig(cfg.configPath())
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to load ensemble configuration from %s", cfg.configPath())
		return nil, fmt.Errorf("failed to load ensemble configuration from %s: %w", cfg.configPath(), err)
	}
	if cfg.DashboardPort > 0 {
		ensembleCfg.Dashboard.Port = cfg.DashboardPort
	}
	cfg.EnsembleConfig = &ensembleCfg
	return cfg.EnsembleConfig, nil
}

func loadDescription(cfg *Config) (api.ApplicationDescription, error) {
	path, err := config.FindApplicationFile(cfg.applicationPath())
	if err != nil {
		return api.ApplicationDescription{}, err
	}
	desc, err := config.LoadApplication(path)
	if err != nil {
		return api.ApplicationDescription{}, err
	}
	logging.Info("Bootstrap", "Loaded application %s from %s", desc.Name, path)
	return desc, nil
}

// stateDirectory resolves the configured state directory against the
// application's directory.
func stateDirectory(cfg *config.EnsembleConfig, desc api.ApplicationDescription) string {
	dir := cfg.StateDirectory
	if dir == "" {
		dir = config.DefaultStateDirectory
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(desc.ContextDirectory, dir)
}

// Services returns the components built during bootstrap.
func (a *Application) Services() *Services {
	return a.services
}

// Run starts the application and blocks until ctx is done, a signal
// arrives or a replica fails beyond recovery.
func (a *Application) Run(ctx context.Context) error {
	return runOrchestrator(ctx, a.config, a.services)
}
