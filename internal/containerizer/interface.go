package containerizer

import (
	"context"
	"io"
	"time"
)

// ContainerRuntime defines the container operations needed to run replicas.
type ContainerRuntime interface {
	// PullImage pulls a container image if not already present
	PullImage(ctx context.Context, image string) error

	// StartContainer runs a detached container and returns its ID
	StartContainer(ctx context.Context, config ContainerConfig) (string, error)

	// StopContainer stops a container, killing it after timeout
	StopContainer(ctx context.Context, containerID string, timeout time.Duration) error

	// WaitContainer blocks until the container exits and returns its exit code
	WaitContainer(ctx context.Context, containerID string) (int, error)

	// GetContainerLogs follows the combined stdout and stderr of a container
	GetContainerLogs(ctx context.Context, containerID string) (io.ReadCloser, error)

	// IsContainerRunning checks if a container is running
	IsContainerRunning(ctx context.Context, containerID string) (bool, error)

	// GetContainerPort gets the mapped host port for a container port
	GetContainerPort(ctx context.Context, containerID string, containerPort string) (string, error)

	// RemoveContainer force-removes a container
	RemoveContainer(ctx context.Context, containerID string) error

	// ListContainers returns the IDs of all containers carrying the label
	ListContainers(ctx context.Context, label string) ([]string, error)
}

// ContainerConfig holds configuration for starting a container
type ContainerConfig struct {
	Name       string            // Container name
	Image      string            // Container image
	Env        map[string]string // Environment variables
	Ports      []string          // Port mappings (host:container)
	Volumes    []string          // Volume mounts (host:container[:ro])
	Entrypoint []string          // Entrypoint override
	Args       []string          // Arguments passed after the image
	User       string            // User to run as
	WorkingDir string            // Working directory inside the container
	Labels     map[string]string // Labels used to find containers of a run
	ExtraHosts []string          // Additional host:ip entries
}
