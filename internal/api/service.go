package api

import (
	"time"
)

// RunKind names how replicas of a service are launched.
type RunKind string

const (
	RunKindProcess   RunKind = "process"
	RunKindProject   RunKind = "project"
	RunKindContainer RunKind = "container"
	RunKindIngress   RunKind = "ingress"
	RunKindExternal  RunKind = "external"
	RunKindNested    RunKind = "nested"
)

// RunInfo describes how to launch a replica. It is one of the *RunInfo types
// in this package.
type RunInfo interface {
	Kind() RunKind
}

// ProcessRunInfo runs a prebuilt executable.
type ProcessRunInfo struct {
	Executable       string
	Args             []string
	WorkingDirectory string
}

func (ProcessRunInfo) Kind() RunKind { return RunKindProcess }

// ProjectRunInfo runs a source project through its toolchain. Command is
// filled in by the launcher when empty.
type ProjectRunInfo struct {
	Project          string
	Args             []string
	WorkingDirectory string
	Command          []string
}

func (ProjectRunInfo) Kind() RunKind { return RunKindProject }

// ContainerRunInfo runs an image in the local container runtime.
type ContainerRunInfo struct {
	Image            string
	Args             []string
	Volumes          []VolumeMapping
	WorkingDirectory string
}

func (ContainerRunInfo) Kind() RunKind { return RunKindContainer }

// VolumeMapping mounts a host path into a container.
type VolumeMapping struct {
	Source   string
	Target   string
	ReadOnly bool
}

// IngressRunInfo runs an in-process HTTP reverse proxy in front of other
// services.
type IngressRunInfo struct {
	Rules []IngressRule
}

func (IngressRunInfo) Kind() RunKind { return RunKindIngress }

// IngressRule routes requests matching Host and Path to Service. An empty
// Host matches any host.
type IngressRule struct {
	Host         string
	Path         string
	Service      string
	PreservePath bool
}

// ExternalRunInfo is a service that runs outside ensemble. It has bindings
// but no replicas.
type ExternalRunInfo struct{}

func (ExternalRunInfo) Kind() RunKind { return RunKindExternal }

// NestedRunInfo includes the services of another application file.
type NestedRunInfo struct {
	Path string
}

func (NestedRunInfo) Kind() RunKind { return RunKindNested }

// Binding is a network endpoint or connection string a service exposes.
type Binding struct {
	// Name is empty for the default binding.
	Name string
	// Port is the host port. Zero means a free port is chosen at startup.
	Port int
	// ContainerPort is the port inside a container; defaults to Port.
	ContainerPort int
	Host          string
	Protocol      string
	// ConnectionString is a template rendered with the binding's host and port.
	ConnectionString string
	AutoAssignPort   bool
}

// IsDefault reports whether this is the unnamed binding of a service.
func (b Binding) IsDefault() bool {
	return b.Name == ""
}

// SourceKind selects which part of a binding an EnvVar takes its value from.
type SourceKind string

const (
	SourceHost             SourceKind = "host"
	SourcePort             SourceKind = "port"
	SourceURL              SourceKind = "url"
	SourceConnectionString SourceKind = "connectionString"
)

// BindingSource references a binding of another service.
type BindingSource struct {
	Service string
	Binding string
	Kind    SourceKind
}

// EnvVar is one configuration entry. Source, when set, replaces Value at
// launch time.
type EnvVar struct {
	Name   string
	Value  string
	Source *BindingSource
}

// HTTPProbe checks a replica by issuing an HTTP GET.
type HTTPProbe struct {
	Path    string
	Binding string
	Scheme  string
	Headers map[string]string
}

// TCPProbe checks a replica by opening a TCP connection.
type TCPProbe struct {
	Binding string
}

// Probe is a liveness or readiness check configuration.
type Probe struct {
	HTTP             *HTTPProbe
	TCP              *TCPProbe
	InitialDelay     time.Duration
	Period           time.Duration
	Timeout          time.Duration
	SuccessThreshold int
	FailureThreshold int
}

const (
	DefaultProbePeriod           = time.Second
	DefaultProbeTimeout          = time.Second
	DefaultProbeSuccessThreshold = 1
	DefaultProbeFailureThreshold = 3
)

// WithDefaults returns a copy of p with unset fields filled in.
func (p Probe) WithDefaults() Probe {
	if p.Period <= 0 {
		p.Period = DefaultProbePeriod
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultProbeTimeout
	}
	if p.SuccessThreshold <= 0 {
		p.SuccessThreshold = DefaultProbeSuccessThreshold
	}
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = DefaultProbeFailureThreshold
	}
	return p
}

// RestartPolicy controls whether crashed replicas are relaunched.
type RestartPolicy string

const (
	RestartAlways RestartPolicy = "always"
	RestartNever  RestartPolicy = "never"
)

// ServiceDescription is the immutable definition of a service.
type ServiceDescription struct {
	Name          string
	Replicas      int
	RunInfo       RunInfo
	Bindings      []Binding
	Configuration []EnvVar
	Dependencies  []string
	Liveness      *Probe
	Readiness     *Probe
	Restart       RestartPolicy
}

// Binding returns the binding with the given name. An empty name selects the
// default binding, falling back to the first one.
func (d ServiceDescription) Binding(name string) (Binding, bool) {
	for _, b := range d.Bindings {
		if b.Name == name {
			return b, true
		}
	}
	if name == "" && len(d.Bindings) > 0 {
		return d.Bindings[0], true
	}
	return Binding{}, false
}

// HasReplicas reports whether the service launches anything itself.
func (d ServiceDescription) HasReplicas() bool {
	if d.RunInfo == nil {
		return false
	}
	switch d.RunInfo.Kind() {
	case RunKindExternal, RunKindNested:
		return false
	}
	return true
}

// ApplicationDescription is the resolved model of an application file.
type ApplicationDescription struct {
	Name             string
	Source           string
	ContextDirectory string
	Services         []ServiceDescription
}

// Service looks up a service description by name.
func (a ApplicationDescription) Service(name string) (ServiceDescription, bool) {
	for _, s := range a.Services {
		if s.Name == name {
			return s, true
		}
	}
	return ServiceDescription{}, false
}
