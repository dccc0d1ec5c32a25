package registry

import (
	"context"
	"sync"
	"time"

	"ensemble/internal/api"
)

// ReplicaStatus is the live, mutable record of one replica. Only the
// supervisor goroutine that owns the replica mutates it; everyone else reads
// through Snapshot.
type ReplicaStatus struct {
	mu sync.RWMutex

	name    string
	service string
	kind    api.ReplicaKind
	index   int

	state       api.ReplicaState
	ports       []int
	bindings    []api.ReplicaBinding
	pid         int
	containerID string
	exitCode    *int
	environment map[string]string
	items       map[string]string
	metrics     map[string]string
	startedAt   time.Time

	stopCtx    context.Context
	cancelStop context.CancelFunc
}

// NewReplicaStatus creates a replica in the Starting state. index orders
// replicas of the same service by creation.
func NewReplicaStatus(service, name string, kind api.ReplicaKind, index int) *ReplicaStatus {
	ctx, cancel := context.WithCancel(context.Background())
	return &ReplicaStatus{
		name:       name,
		service:    service,
		kind:       kind,
		index:      index,
		state:      api.StateStarting,
		items:      map[string]string{},
		metrics:    map[string]string{},
		startedAt:  time.Now(),
		stopCtx:    ctx,
		cancelStop: cancel,
	}
}

func (r *ReplicaStatus) Name() string          { return r.name }
func (r *ReplicaStatus) Service() string       { return r.service }
func (r *ReplicaStatus) Kind() api.ReplicaKind { return r.kind }
func (r *ReplicaStatus) Index() int            { return r.index }

func (r *ReplicaStatus) State() api.ReplicaState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Transition moves the replica to a new state, rejecting moves the state
// machine does not allow.
func (r *ReplicaStatus) Transition(to api.ReplicaState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !api.CanTransition(r.state, to) {
		return api.NewTransitionError(r.name, r.state, to)
	}
	r.state = to
	return nil
}

// RequestStop cancels the replica's stopping source. It is safe to call more
// than once.
func (r *ReplicaStatus) RequestStop() {
	r.cancelStop()
}

// Stopping is closed once a stop has been requested.
func (r *ReplicaStatus) Stopping() <-chan struct{} {
	return r.stopCtx.Done()
}

// StopRequested reports whether RequestStop has been called.
func (r *ReplicaStatus) StopRequested() bool {
	return r.stopCtx.Err() != nil
}

// StopContext is cancelled together with the stopping source.
func (r *ReplicaStatus) StopContext() context.Context {
	return r.stopCtx
}

func (r *ReplicaStatus) SetBindings(bindings []api.ReplicaBinding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings = append([]api.ReplicaBinding(nil), bindings...)
	r.ports = r.ports[:0]
	for _, b := range bindings {
		if b.Port > 0 {
			r.ports = append(r.ports, b.Port)
		}
	}
}

func (r *ReplicaStatus) Bindings() []api.ReplicaBinding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]api.ReplicaBinding(nil), r.bindings...)
}

// SetProcess records the details of a process-backed replica.
func (r *ReplicaStatus) SetProcess(pid int, env map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pid = pid
	r.environment = copyMap(env)
}

// SetContainer records the details of a container-backed replica.
func (r *ReplicaStatus) SetContainer(id string, env map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.containerID = id
	r.environment = copyMap(env)
	r.items["containerId"] = id
}

func (r *ReplicaStatus) Pid() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pid
}

func (r *ReplicaStatus) ContainerID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.containerID
}

func (r *ReplicaStatus) SetExitCode(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exitCode = &code
}

func (r *ReplicaStatus) SetItem(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[key] = value
}

func (r *ReplicaStatus) SetMetric(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[key] = value
}

// Snapshot returns a copy of the replica's current status.
func (r *ReplicaStatus) Snapshot() api.ReplicaInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info := api.ReplicaInfo{
		Name:        r.name,
		Service:     r.service,
		Kind:        r.kind,
		State:       r.state,
		Ports:       append([]int(nil), r.ports...),
		Bindings:    append([]api.ReplicaBinding(nil), r.bindings...),
		Pid:         r.pid,
		ContainerID: r.containerID,
		Environment: copyMap(r.environment),
		Items:       copyMap(r.items),
		Metrics:     copyMap(r.metrics),
		StartedAt:   r.startedAt,
	}
	if r.exitCode != nil {
		code := *r.exitCode
		info.ExitCode = &code
	}
	return info
}

func copyMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
