// Package supervisor owns the replicas of one service: it launches them,
// drives their state machine from probe results and exits, relaunches
// crashed replicas and stops them on request.
//
// Every replica has exactly one lifecycle goroutine. It is the only writer of
// the replica's state and the only emitter of its events, which keeps the
// event sequence of a replica totally ordered.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"

	"ensemble/internal/api"
	"ensemble/internal/application"
	"ensemble/internal/broadcast"
	"ensemble/internal/environment"
	"ensemble/internal/launcher"
	"ensemble/internal/metrics"
	"ensemble/internal/registry"
	"ensemble/internal/runstate"
	"ensemble/pkg/logging"
)

const supervisorSubsystem = "Supervisor"

// DefaultRestartBackoff damps crash loops: 500ms doubling up to 30s, with no
// limit on the number of relaunches.
var DefaultRestartBackoff = wait.Backoff{
	Duration: 500 * time.Millisecond,
	Factor:   2,
	Steps:    math.MaxInt32,
	Cap:      30 * time.Second,
}

// Config wires a Supervisor to the rest of the orchestrator.
type Config struct {
	Service  *application.Service
	Launcher launcher.Launcher
	// Environment computes replica variables. Nil means no injected variables.
	Environment *environment.Builder
	Events      *broadcast.Broadcaster[api.ReplicaEvent]
	Recorder    metrics.Recorder
	// RunState records launched replicas for purge. Optional.
	RunState *runstate.Store

	RunID            string
	WorkingDirectory string

	// Proxied replicas get their own free ports; the service port belongs to
	// the TCP proxy in front of them.
	Proxied bool

	GracePeriod    time.Duration
	RestartBackoff wait.Backoff

	// OnFatal receives errors that cannot be handled locally, such as a
	// failed relaunch.
	OnFatal func(error)
}

// Supervisor manages the replicas of one service.
type Supervisor struct {
	cfg Config
	svc *application.Service

	mu       sync.Mutex
	desired  int
	seq      int
	stopped  bool
	runs     map[string]*run
	backoff  wait.Backoff
	stopCh   chan struct{}
	launches sync.WaitGroup
}

// run is one replica from Starting until Removed.
type run struct {
	status *registry.ReplicaStatus
	seq    int
	// retire is set when the replica is stopped on purpose and must not be
	// relaunched.
	retire bool
	done   chan struct{}
}

// New creates a supervisor. Nothing is launched until Start.
func New(cfg Config) *Supervisor {
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.Nop{}
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = launcher.DefaultGracePeriod
	}
	if cfg.RestartBackoff.Duration <= 0 {
		cfg.RestartBackoff = DefaultRestartBackoff
	}
	if cfg.OnFatal == nil {
		cfg.OnFatal = func(err error) {
			logging.Error(supervisorSubsystem, err, "Unhandled supervisor error")
		}
	}
	return &Supervisor{
		cfg:     cfg,
		svc:     cfg.Service,
		desired: cfg.Service.Description.Replicas,
		runs:    map[string]*run{},
		backoff: cfg.RestartBackoff,
		stopCh:  make(chan struct{}),
	}
}

// Service returns the supervised service.
func (s *Supervisor) Service() *application.Service {
	return s.svc
}

// Desired returns the target replica count.
func (s *Supervisor) Desired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desired
}

// Start launches the desired number of replicas concurrently and returns
// once each has passed the launch step. The first launch error is returned
// after all launches finished.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return api.ErrNotRunning
	}
	n := s.desired
	s.mu.Unlock()

	return s.launchN(ctx, n)
}

func (s *Supervisor) launchN(ctx context.Context, n int) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			return s.launch(gctx, -1)
		})
	}
	return g.Wait()
}

// replicaName builds <service>-<index>-<8 hex chars>. The suffix keeps names
// unique across restarts of the same slot.
func replicaName(service string, index int) string {
	return fmt.Sprintf("%s-%d-%s", service, index, uuid.NewString()[:8])
}

// freeIndex returns the lowest slot not held by a live run. Callers hold s.mu.
func (s *Supervisor) freeIndex() int {
	used := map[int]bool{}
	for _, r := range s.runs {
		if !r.retire {
			used[r.status.Index()] = true
		}
	}
	for i := 0; ; i++ {
		if !used[i] {
			return i
		}
	}
}

// launch runs the Starting step of one replica. index -1 picks a free slot.
// On success the replica's lifecycle goroutine owns it from then on; on
// failure no event is published and the error is returned.
func (s *Supervisor) launch(ctx context.Context, index int) error {
	name := s.svc.Name()
	kind := launcher.ReplicaKind(s.svc.Description.RunInfo.Kind())

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return api.ErrNotRunning
	}
	if index < 0 {
		index = s.freeIndex()
	}
	status := registry.NewReplicaStatus(name, replicaName(name, index), kind, index)
	s.seq++
	r := &run{status: status, seq: s.seq, done: make(chan struct{})}
	s.runs[status.Name()] = r
	s.launches.Add(1)
	s.mu.Unlock()

	handle, err := s.start(ctx, status)
	if err != nil {
		s.mu.Lock()
		delete(s.runs, status.Name())
		s.mu.Unlock()
		close(r.done)
		s.launches.Done()
		logging.Error(supervisorSubsystem, err, "Failed to launch %s", status.Name())
		return err
	}

	// Starting is only announced for replicas that made it into the
	// registry. A failed launch is reported by the returned error alone.
	s.cfg.Recorder.ReplicaTransitioned(name, api.StateStarting, api.StateStarting)
	s.publish(status)

	go s.lifecycle(r, handle)
	return nil
}

// start resolves ports and environment and hands the replica to the launcher.
func (s *Supervisor) start(ctx context.Context, status *registry.ReplicaStatus) (launcher.Handle, error) {
	fail := func(err error) error {
		if api.KindOf(err) == api.KindLaunch {
			return err
		}
		return api.NewLaunchError(s.svc.Name(), status.Name(), err)
	}

	bindings, err := launcher.AssignPorts(s.replicaBindings())
	if err != nil {
		return nil, fail(err)
	}

	var env map[string]string
	if s.cfg.Environment != nil {
		vars, err := s.cfg.Environment.ForReplica(s.svc, status.Name(), bindings)
		if err != nil {
			return nil, fail(err)
		}
		env = environment.ToMap(vars)
	}

	handle, err := s.cfg.Launcher.Launch(ctx, launcher.Spec{
		Service:          s.svc.Name(),
		Replica:          status.Name(),
		RunID:            s.cfg.RunID,
		RunInfo:          s.svc.Description.RunInfo,
		Bindings:         bindings,
		Env:              env,
		WorkingDirectory: s.cfg.WorkingDirectory,
	})
	if err != nil {
		return nil, fail(err)
	}

	status.SetBindings(handle.Bindings())
	if id := handle.ContainerID(); id != "" {
		status.SetContainer(id, env)
	} else {
		status.SetProcess(handle.Pid(), env)
	}

	if err := s.svc.Replicas.Add(status); err != nil {
		// A name collision means the registry is corrupt; do not leave the
		// replica running unsupervised.
		_ = handle.Stop(context.Background(), s.cfg.GracePeriod)
		return nil, err
	}

	if s.cfg.RunState != nil && (handle.Pid() > 0 || handle.ContainerID() != "") {
		if err := s.cfg.RunState.Record(runstate.Entry{
			Service:     s.svc.Name(),
			Replica:     status.Name(),
			Pid:         handle.Pid(),
			Pgid:        handle.Pid(),
			ContainerID: handle.ContainerID(),
		}); err != nil {
			logging.Warn(supervisorSubsystem, "Failed to record %s in run state: %v", status.Name(), err)
		}
	}
	return handle, nil
}

// replicaBindings derives the bindings one replica listens on from the
// resolved service bindings.
func (s *Supervisor) replicaBindings() []api.ReplicaBinding {
	desc := s.svc.Description
	isContainer := desc.RunInfo.Kind() == api.RunKindContainer

	var out []api.ReplicaBinding
	for _, b := range desc.Bindings {
		resolved, ok := s.svc.Binding(b.Name)
		if !ok {
			resolved = application.ResolvedBinding{Name: b.Name, Protocol: b.Protocol, Host: b.Host, Port: b.Port}
		}
		if resolved.Port == 0 && b.ConnectionString != "" && !b.AutoAssignPort {
			continue
		}

		rb := api.ReplicaBinding{
			Name:          b.Name,
			Protocol:      resolved.Protocol,
			Host:          resolved.Host,
			Port:          resolved.Port,
			ContainerPort: b.ContainerPort,
		}
		if isContainer && rb.ContainerPort == 0 {
			rb.ContainerPort = resolved.Port
		}
		if s.cfg.Proxied {
			rb.Port = 0
		}
		out = append(out, rb)
	}
	return out
}

// Scale changes the desired replica count. Growing launches new replicas;
// shrinking stops the most recently created ones first and waits for them
// to be removed.
func (s *Supervisor) Scale(ctx context.Context, n int) error {
	if n < 0 {
		return fmt.Errorf("replica count must not be negative, got %d", n)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return api.ErrNotRunning
	}
	s.desired = n
	live := s.liveRuns()
	s.mu.Unlock()

	switch {
	case n > len(live):
		logging.Info(supervisorSubsystem, "Scaling %s up to %d replicas", s.svc.Name(), n)
		return s.launchN(ctx, n-len(live))
	case n < len(live):
		logging.Info(supervisorSubsystem, "Scaling %s down to %d replicas", s.svc.Name(), n)
		return s.retire(ctx, live[n:])
	}
	return nil
}

// liveRuns lists runs not yet retired, oldest first. Callers hold s.mu.
func (s *Supervisor) liveRuns() []*run {
	var live []*run
	for _, r := range s.runs {
		if !r.retire {
			live = append(live, r)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].seq < live[j].seq })
	return live
}

// retire stops runs without relaunching them and waits until they are gone.
func (s *Supervisor) retire(ctx context.Context, runs []*run) error {
	s.mu.Lock()
	for _, r := range runs {
		r.retire = true
	}
	s.mu.Unlock()

	for _, r := range runs {
		r.status.RequestStop()
	}
	for _, r := range runs {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Restart replaces every replica: all current ones are stopped and the
// desired count is launched fresh. The restart backoff is reset.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return api.ErrNotRunning
	}
	live := s.liveRuns()
	n := s.desired
	s.backoff = s.cfg.RestartBackoff
	s.mu.Unlock()

	logging.Info(supervisorSubsystem, "Restarting %s", s.svc.Name())
	if err := s.retire(ctx, live); err != nil {
		return err
	}
	return s.launchN(ctx, n)
}

// Stop stops every replica and waits until all are removed or ctx expires.
// The supervisor cannot be started again.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stopCh)
	}
	runs := make([]*run, 0, len(s.runs))
	for _, r := range s.runs {
		r.retire = true
		runs = append(runs, r)
	}
	s.mu.Unlock()

	for _, r := range runs {
		r.status.RequestStop()
	}

	done := make(chan struct{})
	go func() {
		s.launches.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stopping %s: %w", s.svc.Name(), ctx.Err())
	}
}

// nextBackoff returns the delay before the next crash relaunch.
func (s *Supervisor) nextBackoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backoff.Step()
}

func (s *Supervisor) resetBackoff() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backoff = s.cfg.RestartBackoff
}

// shouldRelaunch reports whether a crashed run is to be replaced.
func (s *Supervisor) shouldRelaunch(r *run) bool {
	if s.svc.Description.Restart == api.RestartNever {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || r.retire {
		return false
	}
	return len(s.liveRunsExcept(r)) < s.desired
}

// liveRunsExcept is liveRuns without r. Callers hold s.mu.
func (s *Supervisor) liveRunsExcept(r *run) []*run {
	var out []*run
	for _, other := range s.liveRuns() {
		if other != r {
			out = append(out, other)
		}
	}
	return out
}

// relaunch replaces a crashed replica after the backoff delay. It gives up
// when the supervisor stops or the slot was refilled meanwhile.
func (s *Supervisor) relaunch(index int) {
	delay := s.nextBackoff()
	logging.Info(supervisorSubsystem, "Relaunching %s slot %d in %s", s.svc.Name(), index, delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.stopCh:
		return
	}

	s.mu.Lock()
	full := len(s.liveRuns()) >= s.desired
	s.mu.Unlock()
	if full {
		return
	}

	s.svc.IncrementRestarts()
	s.cfg.Recorder.ReplicaRestarted(s.svc.Name())
	if err := s.launch(context.Background(), index); err != nil && !errors.Is(err, api.ErrNotRunning) {
		s.cfg.OnFatal(err)
	}
}

// transition moves a replica to the next state and emits the event.
func (s *Supervisor) transition(status *registry.ReplicaStatus, to api.ReplicaState) error {
	from := status.State()
	if err := status.Transition(to); err != nil {
		logging.Error(supervisorSubsystem, err, "Replica %s", status.Name())
		return err
	}
	s.cfg.Recorder.ReplicaTransitioned(s.svc.Name(), from, to)
	s.publish(status)
	return nil
}

func (s *Supervisor) publish(status *registry.ReplicaStatus) {
	if s.cfg.Events == nil {
		return
	}
	info := status.Snapshot()
	s.cfg.Events.Publish(api.ReplicaEvent{State: info.State, Replica: info, Timestamp: time.Now()})
}
