package containerizer

import (
	"fmt"
	"strings"
)

// RuntimeType defines the type of container runtime
type RuntimeType string

const (
	RuntimeTypeDocker RuntimeType = "docker"
	RuntimeTypePodman RuntimeType = "podman"
)

// NewContainerRuntime creates a new container runtime based on the specified type.
// Podman is driven through the same CLI contract as Docker.
func NewContainerRuntime(runtimeType string) (ContainerRuntime, error) {
	rt := RuntimeType(strings.ToLower(runtimeType))

	switch rt {
	case RuntimeTypeDocker, "":
		return NewDockerRuntime()
	case RuntimeTypePodman:
		return newCLIRuntime(string(RuntimeTypePodman))
	default:
		return nil, fmt.Errorf("unsupported container runtime: %s", runtimeType)
	}
}
