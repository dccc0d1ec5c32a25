// Package environment computes the variables injected into replicas so that
// services can find the services they depend on.
package environment

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"ensemble/internal/api"
	"ensemble/internal/application"
	"ensemble/internal/template"

	"k8s.io/apimachinery/pkg/util/sets"
)

const (
	// DefaultHost is advertised for bindings without an explicit host.
	DefaultHost = "localhost"
	// DefaultContainerHost reaches the host machine from inside a container.
	DefaultContainerHost = "host.docker.internal"
)

// Options tunes how hosts are advertised.
type Options struct {
	// ContainerHost replaces localhost for consumers running in containers.
	ContainerHost string
	// RunID is exposed to replicas as APP_INSTANCE.
	RunID string
}

// Builder computes replica environments for one application.
type Builder struct {
	app    *application.Application
	opts   Options
	engine *template.Engine
}

// New creates a Builder.
func New(app *application.Application, opts Options) *Builder {
	if opts.ContainerHost == "" {
		opts.ContainerHost = DefaultContainerHost
	}
	return &Builder{app: app, opts: opts, engine: template.New()}
}

// ForReplica returns the environment for one replica of svc, in application
// order: dependency bindings, then the replica's own ports and identity, then
// the service's explicit configuration. Later entries override earlier ones
// with the same name.
func (b *Builder) ForReplica(svc *application.Service, replica string, bindings []api.ReplicaBinding) ([]api.EnvVar, error) {
	env, err := b.dependencyVars(svc)
	if err != nil {
		return nil, err
	}

	env = append(env, replicaVars(svc.Name(), replica, b.opts.RunID, bindings)...)

	explicit, err := b.explicitVars(svc)
	if err != nil {
		return nil, err
	}
	return append(env, explicit...), nil
}

// ForService returns the variables shared by every replica of svc: the
// dependency bindings followed by the explicit configuration.
func (b *Builder) ForService(svc *application.Service) ([]api.EnvVar, error) {
	env, err := b.dependencyVars(svc)
	if err != nil {
		return nil, err
	}
	explicit, err := b.explicitVars(svc)
	if err != nil {
		return nil, err
	}
	return append(env, explicit...), nil
}

// dependencyVars emits binding variables for the direct dependencies of svc
// only. Dependencies of dependencies are deliberately not visited.
func (b *Builder) dependencyVars(svc *application.Service) ([]api.EnvVar, error) {
	deps := sets.New[string](svc.Description.Dependencies...)
	deps.Delete(svc.Name())

	var env []api.EnvVar
	for _, name := range sets.List(deps) {
		dep, ok := b.app.Service(name)
		if !ok {
			return nil, &api.Error{
				Kind:    api.KindConfig,
				Op:      "environment",
				Service: svc.Name(),
				Err:     fmt.Errorf("dependency %s: %w", name, api.NewServiceNotFoundError(name)),
			}
		}
		for _, binding := range dep.Bindings() {
			vars, err := b.bindingVars(svc, dep.Name(), binding)
			if err != nil {
				return nil, err
			}
			env = append(env, vars...)
		}
	}
	return env, nil
}

func (b *Builder) bindingVars(consumer *application.Service, service string, binding application.ResolvedBinding) ([]api.EnvVar, error) {
	host := b.hostFor(consumer, binding)
	key := configKey(service, binding.Name)
	legacy := legacyKey(service, binding.Name)

	var env []api.EnvVar
	if binding.ConnectionString != "" {
		value, err := b.connectionString(service, binding, host)
		if err != nil {
			return nil, err
		}
		env = append(env, api.EnvVar{Name: "CONNECTIONSTRING__" + key, Value: value})
	}
	if binding.Port > 0 {
		port := strconv.Itoa(binding.Port)
		env = append(env,
			api.EnvVar{Name: "SERVICE__" + key + "__HOST", Value: host},
			api.EnvVar{Name: "SERVICE__" + key + "__PORT", Value: port},
			api.EnvVar{Name: legacy + "_SERVICE_HOST", Value: host},
			api.EnvVar{Name: legacy + "_SERVICE_PORT", Value: port},
		)
		if binding.Protocol != "" {
			env = append(env,
				api.EnvVar{Name: "SERVICE__" + key + "__PROTOCOL", Value: binding.Protocol},
				api.EnvVar{Name: legacy + "_SERVICE_PROTOCOL", Value: binding.Protocol},
			)
		}
	}
	return env, nil
}

func (b *Builder) explicitVars(svc *application.Service) ([]api.EnvVar, error) {
	var env []api.EnvVar
	for _, entry := range svc.Description.Configuration {
		if entry.Source == nil {
			env = append(env, api.EnvVar{Name: entry.Name, Value: entry.Value})
			continue
		}
		value, err := b.resolveSource(svc, *entry.Source)
		if err != nil {
			return nil, &api.Error{Kind: api.KindConfig, Op: "environment", Service: svc.Name(), Err: fmt.Errorf("%s: %w", entry.Name, err)}
		}
		env = append(env, api.EnvVar{Name: entry.Name, Value: value})
	}
	return env, nil
}

func (b *Builder) resolveSource(consumer *application.Service, src api.BindingSource) (string, error) {
	dep, ok := b.app.Service(src.Service)
	if !ok {
		return "", api.NewServiceNotFoundError(src.Service)
	}
	binding, ok := dep.Binding(src.Binding)
	if !ok {
		return "", api.NewNotFoundError("binding", src.Service+"/"+src.Binding)
	}
	host := b.hostFor(consumer, binding)

	switch src.Kind {
	case api.SourceHost:
		return host, nil
	case api.SourcePort:
		return strconv.Itoa(binding.Port), nil
	case api.SourceConnectionString:
		if binding.ConnectionString == "" {
			return "", fmt.Errorf("binding %s/%s has no connection string", src.Service, src.Binding)
		}
		return b.connectionString(src.Service, binding, host)
	case api.SourceURL, "":
		protocol := binding.Protocol
		if protocol == "" {
			protocol = "http"
		}
		return fmt.Sprintf("%s://%s:%d", protocol, host, binding.Port), nil
	default:
		return "", fmt.Errorf("unknown binding source kind %q", src.Kind)
	}
}

func (b *Builder) connectionString(service string, binding application.ResolvedBinding, host string) (string, error) {
	ctx := template.BindingContext(service, binding.Name, binding.Protocol, host, binding.Port)
	value, err := b.engine.Render(binding.ConnectionString, ctx)
	if err != nil {
		return "", &api.Error{Kind: api.KindConfig, Op: "connection string", Service: service, Err: err}
	}
	return value, nil
}

// hostFor advertises the binding host as seen from the consumer.
func (b *Builder) hostFor(consumer *application.Service, binding application.ResolvedBinding) string {
	host := binding.Host
	if host == "" {
		host = DefaultHost
	}
	if isContainer(consumer) && (host == DefaultHost || host == "127.0.0.1") {
		return b.opts.ContainerHost
	}
	return host
}

func isContainer(svc *application.Service) bool {
	return svc.Description.RunInfo != nil && svc.Description.RunInfo.Kind() == api.RunKindContainer
}

// replicaVars tells a replica which ports to listen on and who it is.
func replicaVars(service, replica, runID string, bindings []api.ReplicaBinding) []api.EnvVar {
	var env []api.EnvVar
	defaultSet := false
	for _, b := range bindings {
		port := b.Port
		if b.ContainerPort > 0 {
			port = b.ContainerPort
		}
		if port <= 0 {
			continue
		}
		if b.Name == "" && !defaultSet {
			env = append(env, api.EnvVar{Name: "PORT", Value: strconv.Itoa(port)})
			defaultSet = true
			continue
		}
		if b.Name != "" {
			env = append(env, api.EnvVar{Name: "PORT__" + strings.ToUpper(b.Name), Value: strconv.Itoa(port)})
		}
	}
	env = append(env,
		api.EnvVar{Name: "ENSEMBLE_SERVICE", Value: service},
		api.EnvVar{Name: "ENSEMBLE_REPLICA", Value: replica},
	)
	if runID != "" {
		env = append(env, api.EnvVar{Name: "APP_INSTANCE", Value: runID})
	}
	return env
}

func configKey(service, binding string) string {
	key := strings.ToUpper(service)
	if binding != "" {
		key += "__" + strings.ToUpper(binding)
	}
	return key
}

func legacyKey(service, binding string) string {
	key := strings.ToUpper(strings.ReplaceAll(service, "-", "_"))
	if binding != "" {
		key += "_" + strings.ToUpper(strings.ReplaceAll(binding, "-", "_"))
	}
	return key
}

// ToMap flattens entries into a map; later entries win.
func ToMap(env []api.EnvVar) map[string]string {
	m := make(map[string]string, len(env))
	for _, e := range env {
		m[e.Name] = e.Value
	}
	return m
}

// ToList renders a map as sorted KEY=VALUE pairs.
func ToList(env map[string]string) []string {
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, k+"="+v)
	}
	sort.Strings(list)
	return list
}
