package app

import (
	"fmt"

	"ensemble/internal/api"
	"ensemble/internal/application"
	"ensemble/internal/config"
	"ensemble/internal/console"
	"ensemble/internal/containerizer"
	"ensemble/internal/metrics"
	"ensemble/internal/orchestrator"
	"ensemble/internal/server"
	"ensemble/internal/watch"
	"ensemble/pkg/logging"
)

// newContainerRuntime is a variable to allow mocking in tests
var newContainerRuntime = containerizer.NewContainerRuntime

// Services holds every component of a run. Optional components are nil
// when disabled.
type Services struct {
	// Orchestrator runs the application's services.
	Orchestrator *orchestrator.Orchestrator

	// API is the read and control surface shared by the dashboard and MCP.
	API api.ApplicationHandler

	Metrics *metrics.Prometheus

	// Server serves the dashboard API. Nil when the dashboard is disabled.
	Server *server.Server

	// Watcher restarts services on source changes. Nil without --watch.
	Watcher *watch.Watcher

	// Printer echoes replica output. Nil with --no-logs.
	Printer *console.Printer

	// StateDirectory holds the run-state used by purge.
	StateDirectory string
}

// InitializeServices builds the orchestrator and everything around it for
// desc. Nothing is started.
//
// The container runtime is only probed when the expanded application has a
// container service, so process-only applications work without docker.
func InitializeServices(cfg *Config, desc api.ApplicationDescription) (*Services, error) {
	ensembleCfg := cfg.EnsembleConfig
	if ensembleCfg == nil {
		defaults := config.GetDefaultConfig()
		ensembleCfg = &defaults
	}

	expanded, err := config.Expand(desc, config.FileLoader{})
	if err != nil {
		return nil, err
	}

	var runtime containerizer.ContainerRuntime
	if hasContainers(expanded) {
		runtime, err = newContainerRuntime(ensembleCfg.Containers.Runtime)
		if err != nil {
			return nil, fmt.Errorf("application %s needs a container runtime: %w", desc.Name, err)
		}
	}

	services := &Services{
		Metrics:        metrics.NewPrometheus(),
		StateDirectory: stateDirectory(ensembleCfg, desc),
	}

	if cfg.Watch {
		services.Watcher = watch.New(ensembleCfg.Watch.Debounce, ensembleCfg.Watch.Ignore)
	}

	supervisorCfg := ensembleCfg.Supervisor
	services.Orchestrator = orchestrator.New(orchestrator.Config{
		Application: desc,
		Runtime:     runtime,
		Recorder:    services.Metrics,
		Options: orchestrator.Options{
			StopTimeout:    supervisorCfg.StopTimeout,
			GracePeriod:    supervisorCfg.StopGracePeriod,
			RestartBackoff: supervisorCfg.RestartBackoff.Backoff(),
			ContainerHost:  ensembleCfg.Containers.HostAlias,
			StateDirectory: services.StateDirectory,
			PullAlways:     ensembleCfg.Containers.PullPolicy == config.PullPolicyAlways,
		},
		OnReady: services.watchSources,
	})
	services.API = orchestrator.NewAPIAdapter(services.Orchestrator)

	if ensembleCfg.Dashboard.Enabled {
		services.Server = server.New(services.API, server.Options{
			Host:    ensembleCfg.Dashboard.Host,
			Port:    ensembleCfg.Dashboard.Port,
			Version: cfg.Version,
			Metrics: services.Metrics.Handler(),
		})
	}

	if !cfg.NoLogs {
		services.Printer = console.NewPrinter(cfg.Stdout)
	}

	return services, nil
}

// watchSources registers the source directory of every project and process
// service once the application, includes expanded, is running.
func (s *Services) watchSources(app *application.Application) {
	if s.Watcher == nil {
		return
	}
	for _, svc := range app.Services() {
		dir, ok := watch.SourceDir(svc.Description)
		if !ok {
			continue
		}
		if err := s.Watcher.Add(svc.Name(), dir); err != nil {
			logging.Warn("Services", "Cannot watch %s for %s: %v", dir, svc.Name(), err)
		}
	}
}

func hasContainers(desc api.ApplicationDescription) bool {
	for _, svc := range desc.Services {
		if svc.RunInfo != nil && svc.RunInfo.Kind() == api.RunKindContainer {
			return true
		}
	}
	return false
}
