package containerizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"ensemble/pkg/logging"
)

const dockerSubsystem = "Docker"

// DockerRuntime implements ContainerRuntime using the Docker CLI. Any CLI that
// accepts the same arguments, such as podman, can be driven through it.
type DockerRuntime struct {
	binary string
}

// execCommandContext is a variable to allow mocking in tests
var execCommandContext = exec.CommandContext

// lookPath is a variable to allow mocking in tests
var lookPath = exec.LookPath

// NewDockerRuntime creates a new Docker runtime instance
func NewDockerRuntime() (*DockerRuntime, error) {
	return newCLIRuntime("docker")
}

func newCLIRuntime(binary string) (*DockerRuntime, error) {
	if _, err := lookPath(binary); err != nil {
		return nil, fmt.Errorf("%s command not found in PATH: %w", binary, err)
	}

	ctx := context.Background()
	cmd := execCommandContext(ctx, binary, "info")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s daemon not accessible: %w", binary, err)
	}

	return &DockerRuntime{binary: binary}, nil
}

// Binary returns the CLI this runtime shells out to.
func (d *DockerRuntime) Binary() string {
	if d.binary == "" {
		return "docker"
	}
	return d.binary
}

func (d *DockerRuntime) command(ctx context.Context, args ...string) *exec.Cmd {
	return execCommandContext(ctx, d.Binary(), args...)
}

// PullImage pulls a container image if not already present
func (d *DockerRuntime) PullImage(ctx context.Context, image string) error {
	if err := d.command(ctx, "image", "inspect", image).Run(); err == nil {
		logging.Debug(dockerSubsystem, "Image %s already exists", image)
		return nil
	}

	logging.Info(dockerSubsystem, "Pulling image %s", image)
	output, err := d.command(ctx, "pull", image).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w\nOutput: %s", image, err, strings.TrimSpace(string(output)))
	}

	return nil
}

// runArgs builds the argument list of a detached run. Maps are emitted in
// sorted order so the command line is stable.
func runArgs(config ContainerConfig) []string {
	args := []string{"run", "-d", "--name", config.Name}

	for _, k := range sortedKeys(config.Env) {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, config.Env[k]))
	}
	for _, k := range sortedKeys(config.Labels) {
		args = append(args, "--label", fmt.Sprintf("%s=%s", k, config.Labels[k]))
	}
	for _, port := range config.Ports {
		args = append(args, "-p", port)
	}
	for _, vol := range config.Volumes {
		args = append(args, "-v", expandPath(vol))
	}
	for _, host := range config.ExtraHosts {
		args = append(args, "--add-host", host)
	}
	if config.User != "" {
		args = append(args, "--user", config.User)
	}
	if config.WorkingDir != "" {
		args = append(args, "--workdir", config.WorkingDir)
	}
	if len(config.Entrypoint) > 0 {
		args = append(args, "--entrypoint", config.Entrypoint[0])
	}

	args = append(args, config.Image)

	if len(config.Entrypoint) > 1 {
		args = append(args, config.Entrypoint[1:]...)
	}
	return append(args, config.Args...)
}

// StartContainer starts a container with the given configuration
func (d *DockerRuntime) StartContainer(ctx context.Context, config ContainerConfig) (string, error) {
	args := runArgs(config)
	logging.Debug(dockerSubsystem, "Starting container with command: %s %s", d.Binary(), strings.Join(args, " "))

	output, err := d.command(ctx, args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to start container: %w\nOutput: %s", err, strings.TrimSpace(string(output)))
	}

	containerID := strings.TrimSpace(string(output))
	if containerID == "" {
		return "", errors.New("failed to start container: no container ID returned")
	}
	logging.Info(dockerSubsystem, "Started container %s with ID %s", config.Name, shortID(containerID))

	return containerID, nil
}

// StopContainer asks a container to stop and lets the runtime kill it once
// timeout has passed.
func (d *DockerRuntime) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	seconds := int(timeout.Round(time.Second) / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	logging.Debug(dockerSubsystem, "Stopping container %s", shortID(containerID))

	if err := d.command(ctx, "stop", "-t", strconv.Itoa(seconds), containerID).Run(); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", shortID(containerID), err)
	}

	return nil
}

// WaitContainer blocks until the container exits and returns its exit code.
func (d *DockerRuntime) WaitContainer(ctx context.Context, containerID string) (int, error) {
	output, err := d.command(ctx, "wait", containerID).Output()
	if err != nil {
		return -1, fmt.Errorf("failed to wait for container %s: %w", shortID(containerID), err)
	}

	code, err := strconv.Atoi(strings.TrimSpace(string(output)))
	if err != nil {
		return -1, fmt.Errorf("unexpected wait output for container %s: %q", shortID(containerID), strings.TrimSpace(string(output)))
	}
	return code, nil
}

// GetContainerLogs returns a reader over the combined container output. The
// reader hits EOF once the container exits or ctx is cancelled.
func (d *DockerRuntime) GetContainerLogs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	cmd := d.command(ctx, "logs", "-f", containerID)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("failed to start logs command: %w", err)
	}

	go func() {
		pw.CloseWithError(cmd.Wait())
	}()

	return pr, nil
}

// IsContainerRunning checks if a container is running
func (d *DockerRuntime) IsContainerRunning(ctx context.Context, containerID string) (bool, error) {
	output, err := d.command(ctx, "inspect", "-f", "{{.State.Running}}", containerID).Output()
	if err != nil {
		return false, fmt.Errorf("failed to inspect container %s: %w", shortID(containerID), err)
	}

	return strings.TrimSpace(string(output)) == "true", nil
}

// GetContainerPort gets the mapped host port for a container port
func (d *DockerRuntime) GetContainerPort(ctx context.Context, containerID string, containerPort string) (string, error) {
	output, err := d.command(ctx, "port", containerID, containerPort).Output()
	if err != nil {
		return "", fmt.Errorf("failed to get port mapping for %s:%s: %w", shortID(containerID), containerPort, err)
	}

	// Output is "0.0.0.0:32768" or "[::]:32768", one line per address family.
	portOutput := strings.TrimSpace(string(output))
	if portOutput == "" {
		return "", fmt.Errorf("no port mapping found for %s:%s", shortID(containerID), containerPort)
	}
	first := strings.SplitN(portOutput, "\n", 2)[0]

	parts := strings.Split(strings.TrimSpace(first), ":")
	if len(parts) < 2 {
		return "", fmt.Errorf("unexpected port output format: %s", portOutput)
	}

	return parts[len(parts)-1], nil
}

// RemoveContainer removes a container
func (d *DockerRuntime) RemoveContainer(ctx context.Context, containerID string) error {
	logging.Debug(dockerSubsystem, "Removing container %s", shortID(containerID))

	if err := d.command(ctx, "rm", "-f", containerID).Run(); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", shortID(containerID), err)
	}

	return nil
}

// ListContainers returns the IDs of all containers, running or not, that
// carry the given label selector (key or key=value).
func (d *DockerRuntime) ListContainers(ctx context.Context, label string) ([]string, error) {
	output, err := d.command(ctx, "ps", "-aq", "--filter", "label="+label).Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list containers with label %s: %w", label, err)
	}

	var ids []string
	for _, line := range strings.Split(string(output), "\n") {
		if id := strings.TrimSpace(line); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func shortID(containerID string) string {
	if len(containerID) > 12 {
		return containerID[:12]
	}
	return containerID
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// expandPath expands tilde in paths to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}
