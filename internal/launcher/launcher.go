package launcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ensemble/internal/api"
)

const launcherSubsystem = "Launcher"

// DefaultGracePeriod is how long a replica gets between the polite stop
// signal and the forced kill.
const DefaultGracePeriod = 5 * time.Second

// ErrKilled is wrapped by Stop when the grace period ran out.
var ErrKilled = errors.New("graceful stop timed out, replica was killed")

// Spec is everything a launcher needs to start one replica.
type Spec struct {
	Service string
	Replica string
	RunID   string
	RunInfo api.RunInfo

	// Bindings carry the ports chosen for this replica. Use AssignPorts to
	// resolve zero ports before launching.
	Bindings []api.ReplicaBinding

	// Env is the complete replica environment on top of the parent one.
	Env map[string]string

	// WorkingDirectory resolves relative paths in RunInfo, usually the
	// directory of the application file.
	WorkingDirectory string
}

// Handle controls a launched replica.
type Handle interface {
	Pid() int
	ContainerID() string
	Bindings() []api.ReplicaBinding

	// Output yields combined stdout and stderr lines and is closed once the
	// replica's output is fully drained.
	Output() <-chan string

	// Done is closed when the replica has exited.
	Done() <-chan struct{}

	// ExitCode is valid after Done is closed. -1 means killed by a signal or
	// unknown.
	ExitCode() int

	// Stop terminates the replica gracefully and forces it after grace. It
	// returns an error wrapping ErrKilled when force was needed.
	Stop(ctx context.Context, grace time.Duration) error
}

// Launcher starts replicas of one run kind.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (Handle, error)
}

// Launchers dispatches a Spec to the launcher registered for its run kind.
type Launchers map[api.RunKind]Launcher

// Launch implements Launcher.
func (l Launchers) Launch(ctx context.Context, spec Spec) (Handle, error) {
	if spec.RunInfo == nil {
		return nil, api.NewLaunchError(spec.Service, spec.Replica, errors.New("no run info"))
	}
	impl, ok := l[spec.RunInfo.Kind()]
	if !ok {
		return nil, api.NewLaunchError(spec.Service, spec.Replica, fmt.Errorf("no launcher for %s services", spec.RunInfo.Kind()))
	}
	return impl.Launch(ctx, spec)
}

// ReplicaKind maps a run kind to the kind of replica it produces.
func ReplicaKind(kind api.RunKind) api.ReplicaKind {
	switch kind {
	case api.RunKindContainer:
		return api.ReplicaKindContainer
	case api.RunKindIngress:
		return api.ReplicaKindIngress
	default:
		return api.ReplicaKindProcess
	}
}

// exitState is shared by handles to publish the exit code exactly once.
type exitState struct {
	done     chan struct{}
	exitCode int
}

func newExitState() *exitState {
	return &exitState{done: make(chan struct{}), exitCode: -1}
}

func (e *exitState) finish(code int) {
	e.exitCode = code
	close(e.done)
}

func (e *exitState) Done() <-chan struct{} { return e.done }

func (e *exitState) ExitCode() int {
	select {
	case <-e.done:
		return e.exitCode
	default:
		return -1
	}
}

func (e *exitState) exited() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}
