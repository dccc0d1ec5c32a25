package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"ensemble/internal/api"
	"ensemble/internal/environment"
	"ensemble/pkg/logging"
)

// execCommand is a variable to allow mocking in tests
var execCommand = exec.Command

// outputBuffer sizes the per-replica line channel.
const outputBuffer = 256

// ProcessLauncher runs executables and source projects as child processes.
type ProcessLauncher struct{}

// NewProcessLauncher creates a launcher for process and project services.
func NewProcessLauncher() *ProcessLauncher {
	return &ProcessLauncher{}
}

// Launch implements Launcher.
func (p *ProcessLauncher) Launch(ctx context.Context, spec Spec) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, api.NewLaunchError(spec.Service, spec.Replica, err)
	}

	name, args, dir, err := resolveCommand(spec)
	if err != nil {
		return nil, api.NewLaunchError(spec.Service, spec.Replica, err)
	}

	cmd := execCommand(name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), environment.ToList(spec.Env)...)
	configureProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, api.NewLaunchError(spec.Service, spec.Replica, fmt.Errorf("failed to get stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, api.NewLaunchError(spec.Service, spec.Replica, fmt.Errorf("failed to get stderr pipe: %w", err))
	}

	logging.Debug(launcherSubsystem, "Starting %s: %s %s (dir %s)", spec.Replica, name, strings.Join(args, " "), dir)
	if err := cmd.Start(); err != nil {
		return nil, api.NewLaunchError(spec.Service, spec.Replica, err)
	}

	h := &processHandle{
		exitState: newExitState(),
		service:   spec.Service,
		replica:   spec.Replica,
		cmd:       cmd,
		bindings:  append([]api.ReplicaBinding(nil), spec.Bindings...),
		output:    make(chan string, outputBuffer),
	}
	go h.run(stdout, stderr)

	logging.Info(launcherSubsystem, "Started %s with PID %d", spec.Replica, cmd.Process.Pid)
	return h, nil
}

type processHandle struct {
	*exitState
	service  string
	replica  string
	cmd      *exec.Cmd
	bindings []api.ReplicaBinding
	output   chan string
}

func (h *processHandle) Pid() int                       { return h.cmd.Process.Pid }
func (h *processHandle) ContainerID() string            { return "" }
func (h *processHandle) Bindings() []api.ReplicaBinding { return h.bindings }
func (h *processHandle) Output() <-chan string          { return h.output }

// run drains both pipes before reaping the child, as exec.Cmd requires.
func (h *processHandle) run(stdout, stderr io.Reader) {
	var wg sync.WaitGroup
	wg.Add(2)
	go h.forward(&wg, stdout)
	go h.forward(&wg, stderr)
	wg.Wait()
	close(h.output)

	err := h.cmd.Wait()
	code := h.cmd.ProcessState.ExitCode()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			logging.Warn(launcherSubsystem, "Waiting for %s failed: %v", h.replica, err)
		}
	}
	logging.Debug(launcherSubsystem, "%s exited with code %d", h.replica, code)
	h.finish(code)
}

func (h *processHandle) forward(wg *sync.WaitGroup, r io.Reader) {
	defer wg.Done()
	forwardLines(h.replica, r, h.output)
}

// Stop signals the process group and escalates to SIGKILL after grace.
func (h *processHandle) Stop(ctx context.Context, grace time.Duration) error {
	if h.exited() {
		return nil
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	pid := h.Pid()
	if err := signalGroup(pid, syscall.SIGTERM); err != nil {
		logging.Debug(launcherSubsystem, "SIGTERM to %s failed: %v", h.replica, err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-h.Done():
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	if err := signalGroup(pid, syscall.SIGKILL); err != nil {
		logging.Debug(launcherSubsystem, "SIGKILL to %s failed: %v", h.replica, err)
	}
	select {
	case <-h.Done():
	case <-time.After(grace):
		return fmt.Errorf("%s did not exit after SIGKILL", h.replica)
	}
	return api.NewStopTimeoutError(h.service, h.replica, ErrKilled)
}

// resolveCommand works out the program, arguments and working directory of
// a process or project replica.
func resolveCommand(spec Spec) (string, []string, string, error) {
	switch ri := spec.RunInfo.(type) {
	case api.ProcessRunInfo:
		if ri.Executable == "" {
			return "", nil, "", errors.New("no executable set")
		}
		dir := resolveDir(spec.WorkingDirectory, ri.WorkingDirectory)
		name := ri.Executable
		if strings.ContainsRune(name, filepath.Separator) && !filepath.IsAbs(name) {
			name = filepath.Join(spec.WorkingDirectory, name)
		}
		return name, ri.Args, dir, nil
	case api.ProjectRunInfo:
		command, projectDir, err := ProjectCommand(resolveDir(spec.WorkingDirectory, ri.Project), ri)
		if err != nil {
			return "", nil, "", err
		}
		dir := projectDir
		if ri.WorkingDirectory != "" {
			dir = resolveDir(spec.WorkingDirectory, ri.WorkingDirectory)
		}
		return command[0], command[1:], dir, nil
	default:
		return "", nil, "", fmt.Errorf("process launcher cannot run %T", spec.RunInfo)
	}
}

func resolveDir(base, dir string) string {
	if dir == "" {
		return base
	}
	if filepath.IsAbs(dir) || base == "" {
		return dir
	}
	return filepath.Join(base, dir)
}
