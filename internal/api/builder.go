package api

import (
	"errors"
	"fmt"
)

// ServiceBuilder assembles a ServiceDescription through typed setters.
//
//	desc, err := api.NewService("api").
//		Executable("./bin/api", "--verbose").
//		Replicas(2).
//		Binding(api.Binding{Port: 8080, Protocol: "http"}).
//		DependsOn("db").
//		Build()
type ServiceBuilder struct {
	desc ServiceDescription
	errs []error
}

// NewService starts a builder for a service with one replica.
func NewService(name string) *ServiceBuilder {
	return &ServiceBuilder{desc: ServiceDescription{Name: name, Replicas: 1, Restart: RestartAlways}}
}

func (b *ServiceBuilder) run(info RunInfo) *ServiceBuilder {
	if b.desc.RunInfo != nil {
		b.errs = append(b.errs, fmt.Errorf("service %s: run kind already set to %s", b.desc.Name, b.desc.RunInfo.Kind()))
		return b
	}
	b.desc.RunInfo = info
	return b
}

// Executable runs a prebuilt binary.
func (b *ServiceBuilder) Executable(path string, args ...string) *ServiceBuilder {
	return b.run(ProcessRunInfo{Executable: path, Args: args})
}

// Project runs a source project through its toolchain.
func (b *ServiceBuilder) Project(path string, args ...string) *ServiceBuilder {
	return b.run(ProjectRunInfo{Project: path, Args: args})
}

// Image runs a container image.
func (b *ServiceBuilder) Image(image string, args ...string) *ServiceBuilder {
	return b.run(ContainerRunInfo{Image: image, Args: args})
}

// Ingress routes HTTP traffic to other services.
func (b *ServiceBuilder) Ingress(rules ...IngressRule) *ServiceBuilder {
	return b.run(IngressRunInfo{Rules: rules})
}

// External declares a service that is already running elsewhere.
func (b *ServiceBuilder) External() *ServiceBuilder {
	return b.run(ExternalRunInfo{})
}

// Include pulls in the services of another application file.
func (b *ServiceBuilder) Include(path string) *ServiceBuilder {
	return b.run(NestedRunInfo{Path: path})
}

// Run sets an already constructed RunInfo.
func (b *ServiceBuilder) Run(info RunInfo) *ServiceBuilder {
	return b.run(info)
}

// WorkingDirectory sets the working directory of process, project and
// container services.
func (b *ServiceBuilder) WorkingDirectory(dir string) *ServiceBuilder {
	switch ri := b.desc.RunInfo.(type) {
	case ProcessRunInfo:
		ri.WorkingDirectory = dir
		b.desc.RunInfo = ri
	case ProjectRunInfo:
		ri.WorkingDirectory = dir
		b.desc.RunInfo = ri
	case ContainerRunInfo:
		ri.WorkingDirectory = dir
		b.desc.RunInfo = ri
	default:
		b.errs = append(b.errs, fmt.Errorf("service %s: working directory requires a process, project or container", b.desc.Name))
	}
	return b
}

// Volume adds a volume mapping to a container service.
func (b *ServiceBuilder) Volume(v VolumeMapping) *ServiceBuilder {
	ri, ok := b.desc.RunInfo.(ContainerRunInfo)
	if !ok {
		b.errs = append(b.errs, fmt.Errorf("service %s: volumes require a container", b.desc.Name))
		return b
	}
	ri.Volumes = append(ri.Volumes, v)
	b.desc.RunInfo = ri
	return b
}

func (b *ServiceBuilder) Replicas(n int) *ServiceBuilder {
	b.desc.Replicas = n
	return b
}

func (b *ServiceBuilder) Binding(binding Binding) *ServiceBuilder {
	b.desc.Bindings = append(b.desc.Bindings, binding)
	return b
}

// Env adds a literal configuration entry.
func (b *ServiceBuilder) Env(name, value string) *ServiceBuilder {
	b.desc.Configuration = append(b.desc.Configuration, EnvVar{Name: name, Value: value})
	return b
}

// EnvFrom adds a configuration entry resolved from another service's binding.
func (b *ServiceBuilder) EnvFrom(name string, source BindingSource) *ServiceBuilder {
	src := source
	b.desc.Configuration = append(b.desc.Configuration, EnvVar{Name: name, Source: &src})
	return b
}

func (b *ServiceBuilder) DependsOn(services ...string) *ServiceBuilder {
	b.desc.Dependencies = append(b.desc.Dependencies, services...)
	return b
}

func (b *ServiceBuilder) Liveness(p Probe) *ServiceBuilder {
	b.desc.Liveness = &p
	return b
}

func (b *ServiceBuilder) Readiness(p Probe) *ServiceBuilder {
	b.desc.Readiness = &p
	return b
}

func (b *ServiceBuilder) Restart(policy RestartPolicy) *ServiceBuilder {
	b.desc.Restart = policy
	return b
}

// Build returns the description or every problem found while building it.
func (b *ServiceBuilder) Build() (ServiceDescription, error) {
	errs := append([]error(nil), b.errs...)
	if b.desc.Name == "" {
		errs = append(errs, errors.New("service name is required"))
	}
	if b.desc.RunInfo == nil {
		errs = append(errs, fmt.Errorf("service %s: no run kind set", b.desc.Name))
	}
	if b.desc.Replicas < 0 {
		errs = append(errs, fmt.Errorf("service %s: replicas must not be negative", b.desc.Name))
	}
	seen := map[string]bool{}
	for _, binding := range b.desc.Bindings {
		if seen[binding.Name] {
			errs = append(errs, fmt.Errorf("service %s: duplicate binding %q", b.desc.Name, binding.Name))
		}
		seen[binding.Name] = true
	}
	if len(errs) > 0 {
		return ServiceDescription{}, &Error{Kind: KindConfig, Op: "build", Service: b.desc.Name, Err: errors.Join(errs...)}
	}
	return b.desc, nil
}

// MustBuild is Build for statically known descriptions, mostly in tests.
func (b *ServiceBuilder) MustBuild() ServiceDescription {
	desc, err := b.Build()
	if err != nil {
		panic(err)
	}
	return desc
}
