package config

import "time"

const (
	// DefaultStateDirectory holds the run-state of an application.
	DefaultStateDirectory = ".ensemble"

	// DefaultDashboardPort serves the status API.
	DefaultDashboardPort = 8000
)

// GetDefaultConfig returns the configuration used when no config.yaml exists.
func GetDefaultConfig() EnsembleConfig {
	return EnsembleConfig{
		Supervisor: SupervisorConfig{
			StopGracePeriod: 5 * time.Second,
			StopTimeout:     30 * time.Second,
			RestartBackoff: BackoffConfig{
				Initial: 500 * time.Millisecond,
				Max:     30 * time.Second,
				Factor:  2,
			},
		},
		Containers: ContainersConfig{
			Runtime:    "docker",
			HostAlias:  "host.docker.internal",
			PullPolicy: PullPolicyMissing,
		},
		Dashboard: DashboardConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    DefaultDashboardPort,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
			Ignore:   []string{".git", "bin", "obj", "node_modules", DefaultStateDirectory},
		},
		StateDirectory: DefaultStateDirectory,
	}
}
