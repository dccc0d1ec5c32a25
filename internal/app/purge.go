package app

import (
	"context"
	"os"

	"ensemble/internal/containerizer"
	"ensemble/internal/runstate"
	"ensemble/pkg/logging"
)

// Purge removes whatever a previous run of the application left behind:
// processes, containers and the state directory. The container runtime is
// optional; without one only processes are cleaned up.
func Purge(ctx context.Context, cfg *Config) error {
	InitLogging(cfg)

	ensembleCfg, err := loadEnsembleConfig(cfg)
	if err != nil {
		return err
	}
	desc, err := loadDescription(cfg)
	if err != nil {
		return err
	}
	dir := stateDirectory(ensembleCfg, desc)

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logging.Info("Purge", "Nothing to purge for %s", desc.Name)
		return nil
	}

	var runtime containerizer.ContainerRuntime
	if rt, err := newContainerRuntime(ensembleCfg.Containers.Runtime); err != nil {
		logging.Debug("Purge", "No container runtime: %v", err)
	} else {
		runtime = rt
	}

	return runstate.Purge(ctx, dir, runtime)
}
