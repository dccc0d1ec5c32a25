package launcher

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"ensemble/internal/api"
	"ensemble/internal/containerizer"
	"ensemble/pkg/logging"
)

// Labels put on every container so purge can find them.
const (
	LabelRun     = "ensemble.run"
	LabelService = "ensemble.service"
	LabelReplica = "ensemble.replica"
)

// HostGateway maps host.docker.internal to the host on Linux engines.
const HostGateway = "host.docker.internal:host-gateway"

// logDrainTimeout bounds how long the log follower may lag behind the exit.
const logDrainTimeout = 5 * time.Second

var invalidContainerName = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// ContainerLauncher runs container replicas through a container runtime.
type ContainerLauncher struct {
	runtime    containerizer.ContainerRuntime
	extraHosts []string

	// SkipPull leaves fetching missing images to the runtime's run command
	// instead of pulling before every launch.
	SkipPull bool
}

// NewContainerLauncher creates a launcher on top of runtime.
func NewContainerLauncher(runtime containerizer.ContainerRuntime, extraHosts ...string) *ContainerLauncher {
	if len(extraHosts) == 0 {
		extraHosts = []string{HostGateway}
	}
	return &ContainerLauncher{runtime: runtime, extraHosts: extraHosts}
}

// ContainerName turns a replica name into a valid container name.
func ContainerName(replica string) string {
	return invalidContainerName.ReplaceAllString(replica, "-")
}

func (c *ContainerLauncher) config(spec Spec, ri api.ContainerRunInfo) containerizer.ContainerConfig {
	cfg := containerizer.ContainerConfig{
		Name:       ContainerName(spec.Replica),
		Image:      ri.Image,
		Env:        spec.Env,
		Args:       ri.Args,
		WorkingDir: ri.WorkingDirectory,
		ExtraHosts: c.extraHosts,
		Labels: map[string]string{
			LabelRun:     spec.RunID,
			LabelService: spec.Service,
			LabelReplica: spec.Replica,
		},
	}
	for _, b := range spec.Bindings {
		target := b.ContainerPort
		if target == 0 {
			target = b.Port
		}
		cfg.Ports = append(cfg.Ports, fmt.Sprintf("%d:%d", b.Port, target))
	}
	for _, v := range ri.Volumes {
		source := v.Source
		if !filepath.IsAbs(source) && source != "" && source[0] != '~' {
			source = filepath.Join(spec.WorkingDirectory, source)
		}
		mount := source + ":" + v.Target
		if v.ReadOnly {
			mount += ":ro"
		}
		cfg.Volumes = append(cfg.Volumes, mount)
	}
	return cfg
}

// Launch implements Launcher.
func (c *ContainerLauncher) Launch(ctx context.Context, spec Spec) (Handle, error) {
	ri, ok := spec.RunInfo.(api.ContainerRunInfo)
	if !ok {
		return nil, api.NewLaunchError(spec.Service, spec.Replica, fmt.Errorf("container launcher cannot run %T", spec.RunInfo))
	}
	if c.runtime == nil {
		return nil, api.NewLaunchError(spec.Service, spec.Replica, fmt.Errorf("no container runtime available"))
	}

	if !c.SkipPull {
		if err := c.runtime.PullImage(ctx, ri.Image); err != nil {
			return nil, api.NewLaunchError(spec.Service, spec.Replica, err)
		}
	}

	id, err := c.runtime.StartContainer(ctx, c.config(spec, ri))
	if err != nil {
		return nil, api.NewLaunchError(spec.Service, spec.Replica, err)
	}

	bindings := append([]api.ReplicaBinding(nil), spec.Bindings...)
	for i := range bindings {
		if bindings[i].ContainerPort == 0 {
			bindings[i].ContainerPort = bindings[i].Port
		}
	}

	logCtx, cancelLogs := context.WithCancel(context.Background())
	h := &containerHandle{
		exitState:  newExitState(),
		runtime:    c.runtime,
		service:    spec.Service,
		replica:    spec.Replica,
		id:         id,
		bindings:   bindings,
		output:     make(chan string, outputBuffer),
		cancelLogs: cancelLogs,
	}

	logs, err := c.runtime.GetContainerLogs(logCtx, id)
	if err != nil {
		logging.Warn(launcherSubsystem, "Cannot follow logs of %s: %v", spec.Replica, err)
		close(h.output)
	} else {
		go func() {
			defer close(h.output)
			defer logs.Close()
			forwardLines(spec.Replica, logs, h.output)
		}()
	}

	go h.wait()
	return h, nil
}

type containerHandle struct {
	*exitState
	runtime    containerizer.ContainerRuntime
	service    string
	replica    string
	id         string
	bindings   []api.ReplicaBinding
	output     chan string
	cancelLogs context.CancelFunc
}

func (h *containerHandle) Pid() int                       { return 0 }
func (h *containerHandle) ContainerID() string            { return h.id }
func (h *containerHandle) Bindings() []api.ReplicaBinding { return h.bindings }
func (h *containerHandle) Output() <-chan string          { return h.output }

func (h *containerHandle) wait() {
	code, err := h.runtime.WaitContainer(context.Background(), h.id)
	if err != nil {
		logging.Warn(launcherSubsystem, "Waiting for container of %s failed: %v", h.replica, err)
		code = -1
	}
	h.finish(code)
	time.AfterFunc(logDrainTimeout, h.cancelLogs)
}

// Stop asks the runtime to stop the container, which kills it after grace,
// then removes it.
func (h *containerHandle) Stop(ctx context.Context, grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	defer func() {
		if err := h.runtime.RemoveContainer(context.Background(), h.id); err != nil {
			logging.Warn(launcherSubsystem, "Removing container of %s failed: %v", h.replica, err)
		}
	}()

	if h.exited() {
		return nil
	}

	started := time.Now()
	stopErr := h.runtime.StopContainer(ctx, h.id, grace)

	select {
	case <-h.Done():
	case <-ctx.Done():
		return api.NewStopTimeoutError(h.service, h.replica, ctx.Err())
	}

	if stopErr != nil {
		return api.NewStopTimeoutError(h.service, h.replica, fmt.Errorf("%w: %v", ErrKilled, stopErr))
	}
	// The runtime only reports SIGKILL through exit code 137 after the full
	// grace period.
	if h.ExitCode() == 137 && time.Since(started) >= grace {
		return api.NewStopTimeoutError(h.service, h.replica, fmt.Errorf("%w (exit code %d)", ErrKilled, h.ExitCode()))
	}
	return nil
}
