package config

import (
	"math"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// EnsembleConfig is the top-level tool configuration. It tunes how ensemble
// runs applications; the applications themselves live in ensemble.yaml files.
type EnsembleConfig struct {
	Supervisor     SupervisorConfig `yaml:"supervisor"`
	Containers     ContainersConfig `yaml:"containers"`
	Dashboard      DashboardConfig  `yaml:"dashboard"`
	Watch          WatchConfig      `yaml:"watch"`
	StateDirectory string           `yaml:"stateDirectory,omitempty"` // Relative to the application file (default: .ensemble)
}

// SupervisorConfig controls replica shutdown and restart damping.
type SupervisorConfig struct {
	StopGracePeriod time.Duration `yaml:"stopGracePeriod,omitempty"` // SIGTERM to SIGKILL delay (default: 5s)
	StopTimeout     time.Duration `yaml:"stopTimeout,omitempty"`     // Upper bound for stopping the application (default: 30s)
	RestartBackoff  BackoffConfig `yaml:"restartBackoff,omitempty"`
}

// BackoffConfig is the exponential delay between crash relaunches.
type BackoffConfig struct {
	Initial time.Duration `yaml:"initial,omitempty"`
	Max     time.Duration `yaml:"max,omitempty"`
	Factor  float64       `yaml:"factor,omitempty"`
}

// ContainersConfig selects and tunes the container runtime.
type ContainersConfig struct {
	Runtime    string `yaml:"runtime,omitempty"`    // docker or podman (default: docker)
	HostAlias  string `yaml:"hostAlias,omitempty"`  // Name containers use to reach the host (default: host.docker.internal)
	PullPolicy string `yaml:"pullPolicy,omitempty"` // missing or always (default: missing)
}

// DashboardConfig configures the status API, metrics and MCP endpoint.
type DashboardConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host,omitempty"`
	Port    int    `yaml:"port,omitempty"`
}

// WatchConfig configures relaunching services when their sources change.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce,omitempty"`
	Ignore   []string      `yaml:"ignore,omitempty"`
}

const (
	PullPolicyMissing = "missing"
	PullPolicyAlways  = "always"
)

// Backoff converts the configured delays into a wait.Backoff that never runs
// out of steps.
func (b BackoffConfig) Backoff() wait.Backoff {
	return wait.Backoff{
		Duration: b.Initial,
		Factor:   b.Factor,
		Steps:    math.MaxInt32,
		Cap:      b.Max,
	}
}
