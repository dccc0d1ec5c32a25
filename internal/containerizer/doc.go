// Package containerizer drives a local container runtime for container
// replicas.
//
// Docker and Podman are supported through their shared command line
// interface. The runtime never talks to a daemon socket directly; every
// operation is a CLI invocation, which keeps the package free of API version
// coupling and lets tests replace the binary with a helper process.
//
// # Operations
//
// ContainerRuntime covers what a replica needs over its lifetime:
//   - PullImage: Download the image if it is missing
//   - StartContainer: Run a detached container with env, ports, volumes and labels
//   - WaitContainer: Block until exit and report the exit code
//   - StopContainer: Graceful stop with a kill deadline
//   - GetContainerLogs: Follow combined stdout and stderr
//   - RemoveContainer: Force removal
//   - ListContainers: Find leftovers of a run by label, used by purge
//
// # Host access
//
// Containers reach services on the host through host.docker.internal. On
// Linux the name has to be added explicitly, so callers pass
// "host.docker.internal:host-gateway" in ContainerConfig.ExtraHosts.
package containerizer
