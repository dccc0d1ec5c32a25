package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"

	"ensemble/internal/api"
	"ensemble/internal/application"
	"ensemble/internal/broadcast"
	"ensemble/internal/config"
	"ensemble/internal/containerizer"
	"ensemble/internal/environment"
	"ensemble/internal/launcher"
	"ensemble/internal/metrics"
	"ensemble/internal/proxy"
	"ensemble/internal/runstate"
	"ensemble/internal/supervisor"
	"ensemble/pkg/logging"
)

const orchestratorSubsystem = "Orchestrator"

// DefaultStopTimeout bounds Stop when Options.StopTimeout is unset.
const DefaultStopTimeout = 30 * time.Second

// eventBuffer is the subscription buffer used for internal log forwarding.
const eventBuffer = 256

// Options tunes replica handling for a whole application.
type Options struct {
	StopTimeout    time.Duration
	GracePeriod    time.Duration
	RestartBackoff wait.Backoff
	// ContainerHost is how containers reach services running on the host.
	ContainerHost string
	// StateDirectory receives the run-state used by purge. Empty disables it.
	StateDirectory string
	// PullAlways pulls container images before every launch.
	PullAlways bool
}

// Config holds everything the orchestrator needs. Nothing is looked up from
// package-level state.
type Config struct {
	// Application is the root description. Include entries are expanded by
	// Start.
	Application api.ApplicationDescription
	// Loader reads included application files. Defaults to config.FileLoader.
	Loader config.ApplicationLoader
	// Launchers overrides the launcher per run kind. Kinds missing from the
	// map get the built-in launcher.
	Launchers launcher.Launchers
	// Runtime runs container services. Optional when there are none.
	Runtime  containerizer.ContainerRuntime
	Recorder metrics.Recorder
	// RunID identifies this run. Generated when empty.
	RunID   string
	Options Options

	// OnReady is called once Start succeeded.
	OnReady func(*application.Application)
}

type phase int

const (
	phaseIdle phase = iota
	phaseRunning
	phaseStopped
)

// Orchestrator runs every service of an application under its own
// supervisor.
type Orchestrator struct {
	cfg       Config
	runID     string
	launchers launcher.Launchers

	events *broadcast.Broadcaster[api.ReplicaEvent]
	logs   *broadcast.Broadcaster[api.LogLine]
	fatal  chan error

	mu          sync.RWMutex
	phase       phase
	app         *application.Application
	supervisors map[string]*supervisor.Supervisor
	proxies     []*proxy.Proxy
	store       *runstate.Store
	unsubscribe []func()
}

// New creates an orchestrator. Nothing runs until Start.
func New(cfg Config) *Orchestrator {
	if cfg.Loader == nil {
		cfg.Loader = config.FileLoader{}
	}
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.Nop{}
	}
	if cfg.Options.StopTimeout <= 0 {
		cfg.Options.StopTimeout = DefaultStopTimeout
	}
	runID := cfg.RunID
	if runID == "" {
		runID = shortuuid.New()
	}

	o := &Orchestrator{
		cfg:         cfg,
		runID:       runID,
		events:      broadcast.New[api.ReplicaEvent]("events"),
		logs:        broadcast.New[api.LogLine]("logs"),
		fatal:       make(chan error, 1),
		supervisors: map[string]*supervisor.Supervisor{},
	}
	o.launchers = o.defaultLaunchers()
	return o
}

func (o *Orchestrator) defaultLaunchers() launcher.Launchers {
	l := launcher.Launchers{}
	for kind, impl := range o.cfg.Launchers {
		l[kind] = impl
	}
	process := launcher.NewProcessLauncher()
	if _, ok := l[api.RunKindProcess]; !ok {
		l[api.RunKindProcess] = process
	}
	if _, ok := l[api.RunKindProject]; !ok {
		l[api.RunKindProject] = process
	}
	if _, ok := l[api.RunKindIngress]; !ok {
		l[api.RunKindIngress] = launcher.NewIngressLauncher(launcher.EndpointResolverFunc(func(service string) []string {
			return o.Endpoints(service, "")
		}))
	}
	if _, ok := l[api.RunKindContainer]; !ok && o.cfg.Runtime != nil {
		cl := launcher.NewContainerLauncher(o.cfg.Runtime)
		cl.SkipPull = !o.cfg.Options.PullAlways
		l[api.RunKindContainer] = cl
	}
	return l
}

// RunID returns the identifier of this run.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Events is the stream of replica state transitions of every service.
func (o *Orchestrator) Events() *broadcast.Broadcaster[api.ReplicaEvent] {
	return o.events
}

// Logs is the merged output of every service.
func (o *Orchestrator) Logs() *broadcast.Broadcaster[api.LogLine] {
	return o.logs
}

// Errors delivers failures the orchestrator cannot recover from while
// running, such as a crashed replica that cannot be relaunched.
func (o *Orchestrator) Errors() <-chan error {
	return o.fatal
}

// Application returns the running application, or nil before Start.
func (o *Orchestrator) Application() *application.Application {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.app
}

// Start expands the application, resolves ports and environments and
// launches every replica. It returns once each replica passed its launch
// step. If any launch fails everything started so far is stopped again.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.phase != phaseIdle {
		o.mu.Unlock()
		return api.ErrAlreadyStarted
	}
	o.phase = phaseRunning
	o.mu.Unlock()

	if err := o.start(ctx); err != nil {
		logging.Error(orchestratorSubsystem, err, "Failed to start %s", o.cfg.Application.Name)
		if stopErr := o.Stop(context.Background()); stopErr != nil && !errors.Is(stopErr, api.ErrNotRunning) {
			logging.Warn(orchestratorSubsystem, "Cleanup after failed start: %v", stopErr)
		}
		return api.NewCommandError("start", err)
	}

	app := o.Application()
	logging.Info(orchestratorSubsystem, "Started %s with %d services (run %s)", app.Name, len(app.Services()), o.runID)
	if o.cfg.OnReady != nil {
		o.cfg.OnReady(app)
	}
	return nil
}

func (o *Orchestrator) start(ctx context.Context) error {
	desc, err := config.Expand(o.cfg.Application, o.cfg.Loader)
	if err != nil {
		return err
	}
	app, err := application.New(desc, o.runID)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.app = app
	o.mu.Unlock()

	if err := allocatePorts(app); err != nil {
		return err
	}

	env := environment.New(app, environment.Options{ContainerHost: o.cfg.Options.ContainerHost, RunID: o.runID})
	for _, svc := range app.Services() {
		vars, err := env.ForService(svc)
		if err != nil {
			return err
		}
		svc.SetEnvironment(vars)
	}

	if dir := o.cfg.Options.StateDirectory; dir != "" {
		store, err := runstate.Open(dir, o.runID)
		if err != nil {
			return fmt.Errorf("opening run-state: %w", err)
		}
		o.mu.Lock()
		o.store = store
		o.mu.Unlock()
	}

	var sups []*supervisor.Supervisor
	for _, svc := range app.Services() {
		o.forwardLogs(svc)
		if !svc.Description.HasReplicas() {
			continue
		}
		proxied := needsProxy(svc)
		if proxied {
			if err := o.openProxies(svc); err != nil {
				return err
			}
		}
		sup := supervisor.New(supervisor.Config{
			Service:          svc,
			Launcher:         o.launchers,
			Environment:      env,
			Events:           o.events,
			Recorder:         o.cfg.Recorder,
			RunState:         o.store,
			RunID:            o.runID,
			WorkingDirectory: app.ContextDirectory,
			Proxied:          proxied,
			GracePeriod:      o.cfg.Options.GracePeriod,
			RestartBackoff:   o.cfg.Options.RestartBackoff,
			OnFatal:          o.reportFatal,
		})
		o.mu.Lock()
		o.supervisors[svc.Name()] = sup
		o.mu.Unlock()
		sups = append(sups, sup)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, sup := range sups {
		g.Go(func() error {
			return sup.Start(gctx)
		})
	}
	return g.Wait()
}

// allocatePorts resolves every binding of app. Bindings without a port get
// a free one, unless they only carry a connection string or belong to a
// service that runs elsewhere.
func allocatePorts(app *application.Application) error {
	for _, svc := range app.Services() {
		var resolved []application.ResolvedBinding
		for _, b := range svc.Description.Bindings {
			rb := application.ResolvedBinding{
				Name:             b.Name,
				Protocol:         b.Protocol,
				Host:             b.Host,
				Port:             b.Port,
				ContainerPort:    b.ContainerPort,
				ConnectionString: b.ConnectionString,
			}
			if rb.Port == 0 && svc.Description.HasReplicas() && (b.AutoAssignPort || b.ConnectionString == "") {
				port, err := launcher.FreePort()
				if err != nil {
					return api.NewLaunchError(svc.Name(), "", fmt.Errorf("allocating port for binding %q: %w", b.Name, err))
				}
				rb.Port = port
				logging.Debug(orchestratorSubsystem, "Assigned port %d to %s binding %q", port, svc.Name(), b.Name)
			}
			resolved = append(resolved, rb)
		}
		svc.SetBindings(resolved)
	}
	return nil
}

// needsProxy reports whether replicas of svc would otherwise compete for
// the same public port.
func needsProxy(svc *application.Service) bool {
	if svc.Description.Replicas <= 1 {
		return false
	}
	for _, b := range svc.Bindings() {
		if b.Port > 0 {
			return true
		}
	}
	return false
}

func (o *Orchestrator) openProxies(svc *application.Service) error {
	for _, b := range svc.Bindings() {
		if b.Port <= 0 {
			continue
		}
		binding := b.Name
		resolver := launcher.EndpointResolverFunc(func(service string) []string {
			return o.Endpoints(service, binding)
		})
		p, err := proxy.Listen(svc.Name(), binding, b.Host, b.Port, resolver)
		if err != nil {
			return api.NewLaunchError(svc.Name(), "", err)
		}
		o.mu.Lock()
		o.proxies = append(o.proxies, p)
		o.mu.Unlock()
	}
	return nil
}

// forwardLogs copies the service's output onto the merged log stream.
func (o *Orchestrator) forwardLogs(svc *application.Service) {
	cancel := svc.LogStream.SubscribeFunc(eventBuffer, o.logs.Publish)
	o.mu.Lock()
	o.unsubscribe = append(o.unsubscribe, cancel)
	o.mu.Unlock()
}

func (o *Orchestrator) reportFatal(err error) {
	logging.Error(orchestratorSubsystem, err, "Unrecoverable replica failure")
	select {
	case o.fatal <- err:
	default:
	}
}

// Endpoints returns host:port of the Ready replicas of service for the
// named binding. An empty binding selects the default one.
func (o *Orchestrator) Endpoints(service, binding string) []string {
	app := o.Application()
	if app == nil {
		return nil
	}
	svc, ok := app.Service(service)
	if !ok {
		return nil
	}
	var out []string
	for _, replica := range svc.Replicas.Ready() {
		rb, ok := pickBinding(replica.Bindings(), binding)
		if !ok || rb.Port <= 0 {
			continue
		}
		host := rb.Host
		if host == "" || host == "localhost" {
			host = "127.0.0.1"
		}
		out = append(out, net.JoinHostPort(host, strconv.Itoa(rb.Port)))
	}
	return out
}

func pickBinding(bindings []api.ReplicaBinding, name string) (api.ReplicaBinding, bool) {
	for _, b := range bindings {
		if b.Name == name {
			return b, true
		}
	}
	if name == "" && len(bindings) > 0 {
		return bindings[0], true
	}
	return api.ReplicaBinding{}, false
}

func (o *Orchestrator) supervisor(name string) (*supervisor.Supervisor, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.phase != phaseRunning {
		return nil, api.ErrNotRunning
	}
	sup, ok := o.supervisors[name]
	if !ok {
		return nil, api.NewServiceNotFoundError(name)
	}
	return sup, nil
}

// RestartService replaces every replica of a service.
func (o *Orchestrator) RestartService(ctx context.Context, name string) error {
	sup, err := o.supervisor(name)
	if err != nil {
		return err
	}
	return sup.Restart(ctx)
}

// ScaleService changes the replica count of a service.
func (o *Orchestrator) ScaleService(ctx context.Context, name string, replicas int) error {
	sup, err := o.supervisor(name)
	if err != nil {
		return err
	}
	return sup.Scale(ctx, replicas)
}

// Desired returns the current target replica count of a service.
func (o *Orchestrator) Desired(name string) (int, bool) {
	o.mu.RLock()
	sup, ok := o.supervisors[name]
	o.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return sup.Desired(), true
}

// Stop stops every supervisor concurrently and waits up to the stop
// timeout for their replicas to be removed. Proxies and subscriptions are
// closed afterwards. The run-state is cleared only when every replica is
// known to be gone, so that purge can still clean up after a timeout.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	switch o.phase {
	case phaseIdle:
		o.mu.Unlock()
		return api.ErrNotRunning
	case phaseStopped:
		o.mu.Unlock()
		return nil
	}
	o.phase = phaseStopped
	sups := make([]*supervisor.Supervisor, 0, len(o.supervisors))
	for _, sup := range o.supervisors {
		sups = append(sups, sup)
	}
	proxies := o.proxies
	unsubscribe := o.unsubscribe
	store := o.store
	app := o.app
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Options.StopTimeout)
	defer cancel()

	logging.Info(orchestratorSubsystem, "Stopping %d services", len(sups))
	var g errgroup.Group
	for _, sup := range sups {
		g.Go(func() error {
			return sup.Stop(ctx)
		})
	}
	stopErr := g.Wait()

	var errs []error
	if stopErr != nil {
		errs = append(errs, stopErr)
	}
	for _, p := range proxies {
		if err := p.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, fn := range unsubscribe {
		fn()
	}
	if app != nil {
		app.Close()
	}
	o.events.Close()
	o.logs.Close()

	if store != nil {
		if stopErr == nil {
			if err := store.Clear(); err != nil {
				errs = append(errs, err)
			}
		} else {
			logging.Warn(orchestratorSubsystem, "Keeping run-state in %s, run purge to remove leftovers", store.Dir())
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	logging.Info(orchestratorSubsystem, "Stopped")
	return nil
}
