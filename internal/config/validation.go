package config

import (
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/validation"

	"ensemble/internal/api"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// ValidateOneOf checks if a value is in a list of allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	for _, allowedValue := range allowed {
		if value == allowedValue {
			return nil
		}
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateServiceName checks that name can be used in replica names,
// environment variable names and container names.
func ValidateServiceName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ValidationError{Field: "name", Value: name, Message: "is required for service"}
	}
	if msgs := validation.IsDNS1123Label(name); len(msgs) > 0 {
		return ValidationError{Field: "name", Value: name, Message: strings.Join(msgs, "; ")}
	}
	return nil
}

// ValidateConfig checks the tool configuration.
func ValidateConfig(c EnsembleConfig) ValidationErrors {
	var errs ValidationErrors

	if c.Supervisor.StopGracePeriod < 0 {
		errs.Add("supervisor.stopGracePeriod", "must not be negative", c.Supervisor.StopGracePeriod)
	}
	if c.Supervisor.StopTimeout < 0 {
		errs.Add("supervisor.stopTimeout", "must not be negative", c.Supervisor.StopTimeout)
	}
	b := c.Supervisor.RestartBackoff
	if b.Initial < 0 || b.Max < 0 {
		errs.Add("supervisor.restartBackoff", "delays must not be negative")
	}
	if b.Max > 0 && b.Initial > b.Max {
		errs.Add("supervisor.restartBackoff.initial", "must not exceed max", b.Initial)
	}
	if b.Factor != 0 && b.Factor < 1 {
		errs.Add("supervisor.restartBackoff.factor", "must be at least 1", b.Factor)
	}

	if c.Containers.Runtime != "" {
		if err := ValidateOneOf("containers.runtime", c.Containers.Runtime, []string{"docker", "podman"}); err != nil {
			errs = append(errs, err.(ValidationError))
		}
	}
	if c.Containers.PullPolicy != "" {
		if err := ValidateOneOf("containers.pullPolicy", c.Containers.PullPolicy, []string{PullPolicyMissing, PullPolicyAlways}); err != nil {
			errs = append(errs, err.(ValidationError))
		}
	}

	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		errs.Add("dashboard.port", "must be between 0 and 65535", c.Dashboard.Port)
	}
	if c.Watch.Debounce < 0 {
		errs.Add("watch.debounce", "must not be negative", c.Watch.Debounce)
	}
	return errs
}

// validateServiceFile checks what can be checked on a single entry without
// looking at the rest of the application.
func validateServiceFile(sf ServiceFile) ValidationErrors {
	var errs ValidationErrors

	if err := ValidateServiceName(sf.Name); err != nil {
		errs = append(errs, err.(ValidationError))
	}

	var kinds []string
	if sf.Executable != "" {
		kinds = append(kinds, "executable")
	}
	if sf.Project != "" {
		kinds = append(kinds, "project")
	}
	if sf.Image != "" {
		kinds = append(kinds, "image")
	}
	if len(sf.Ingress) > 0 {
		kinds = append(kinds, "ingress")
	}
	if sf.External {
		kinds = append(kinds, "external")
	}
	if sf.Include != "" {
		kinds = append(kinds, "include")
	}
	switch len(kinds) {
	case 0:
		errs.Add("", "one of executable, project, image, ingress, external or include is required")
	case 1:
	default:
		errs.Add("", fmt.Sprintf("only one run kind may be set, got %s", strings.Join(kinds, ", ")))
	}

	if sf.Replicas != nil && *sf.Replicas < 0 {
		errs.Add("replicas", "must not be negative", *sf.Replicas)
	}
	if len(sf.Volumes) > 0 && sf.Image == "" {
		errs.Add("volumes", "only valid for image services")
	}
	if len(sf.Command) > 0 && sf.Project == "" {
		errs.Add("command", "only valid for project services")
	}
	if sf.Restart != "" {
		if err := ValidateOneOf("restart", sf.Restart, []string{string(api.RestartAlways), string(api.RestartNever)}); err != nil {
			errs = append(errs, err.(ValidationError))
		}
	}

	bindings := sets.New[string]()
	for i, b := range sf.Bindings {
		field := fmt.Sprintf("bindings[%d]", i)
		if bindings.Has(b.Name) {
			errs.Add(field+".name", "duplicate binding", b.Name)
		}
		bindings.Insert(b.Name)
		if b.Port < 0 || b.Port > 65535 {
			errs.Add(field+".port", "must be between 0 and 65535", b.Port)
		}
		if b.ContainerPort < 0 || b.ContainerPort > 65535 {
			errs.Add(field+".containerPort", "must be between 0 and 65535", b.ContainerPort)
		}
		if b.AutoAssignPort && b.Port != 0 {
			errs.Add(field+".autoAssignPort", "cannot be combined with a fixed port")
		}
	}

	for i, r := range sf.Ingress {
		if r.Service == "" {
			errs.Add(fmt.Sprintf("ingress[%d].service", i), "is required")
		}
		if r.Path != "" && !strings.HasPrefix(r.Path, "/") {
			errs.Add(fmt.Sprintf("ingress[%d].path", i), "must start with /", r.Path)
		}
	}

	for i, e := range sf.Env {
		field := fmt.Sprintf("env[%d]", i)
		if e.Name == "" {
			errs.Add(field+".name", "is required")
		}
		if e.From == nil {
			continue
		}
		if e.Value != "" {
			errs.Add(field, "value and from are mutually exclusive")
		}
		if e.From.Service == "" {
			errs.Add(field+".from.service", "is required")
		}
		if e.From.Kind != "" {
			allowed := []string{string(api.SourceHost), string(api.SourcePort), string(api.SourceURL), string(api.SourceConnectionString)}
			if err := ValidateOneOf(field+".from.kind", e.From.Kind, allowed); err != nil {
				errs = append(errs, err.(ValidationError))
			}
		}
	}

	errs = append(errs, validateProbe("liveness", sf.Liveness, bindings)...)
	errs = append(errs, validateProbe("readiness", sf.Readiness, bindings)...)
	return errs
}

func validateProbe(field string, p *ProbeFile, bindings sets.Set[string]) ValidationErrors {
	var errs ValidationErrors
	if p == nil {
		return errs
	}
	switch {
	case p.HTTP == nil && p.TCP == nil:
		errs.Add(field, "one of http or tcp is required")
	case p.HTTP != nil && p.TCP != nil:
		errs.Add(field, "http and tcp are mutually exclusive")
	}

	if bindings.Len() == 0 {
		errs.Add(field, "probes require the service to have a binding")
	}
	var binding string
	if p.HTTP != nil {
		binding = p.HTTP.Binding
		if p.HTTP.Scheme != "" {
			if err := ValidateOneOf(field+".http.scheme", p.HTTP.Scheme, []string{"http", "https"}); err != nil {
				errs = append(errs, err.(ValidationError))
			}
		}
	}
	if p.TCP != nil {
		binding = p.TCP.Binding
	}
	if binding != "" && !bindings.Has(binding) {
		errs.Add(field+".binding", "unknown binding", binding)
	}

	if p.SuccessThreshold < 0 {
		errs.Add(field+".successThreshold", "must be at least 1", p.SuccessThreshold)
	}
	if p.FailureThreshold < 0 {
		errs.Add(field+".failureThreshold", "must be at least 1", p.FailureThreshold)
	}
	if p.InitialDelay < 0 || p.Period < 0 || p.Timeout < 0 {
		errs.Add(field, "durations must not be negative")
	}
	return errs
}

func validateNames(services []api.ServiceDescription) ValidationErrors {
	var errs ValidationErrors
	seen := sets.New[string]()
	for _, s := range services {
		if seen.Has(s.Name) {
			errs.Add("services", "duplicate service name", s.Name)
		}
		seen.Insert(s.Name)
	}
	return errs
}

// ValidateApplication checks cross-service references of a fully expanded
// application: unique names, dependencies, environment sources and ingress
// targets.
func ValidateApplication(desc api.ApplicationDescription) error {
	errs := validateNames(desc.Services)

	known := sets.New[string]()
	for _, s := range desc.Services {
		known.Insert(s.Name)
	}
	for _, s := range desc.Services {
		for _, dep := range s.Dependencies {
			switch {
			case dep == s.Name:
				errs.Add(s.Name+".dependsOn", "service cannot depend on itself")
			case !known.Has(dep):
				errs.Add(s.Name+".dependsOn", "unknown service", dep)
			}
		}
		for _, e := range s.Configuration {
			if e.Source == nil {
				continue
			}
			target, ok := desc.Service(e.Source.Service)
			if !ok {
				errs.Add(s.Name+".env."+e.Name, "unknown service", e.Source.Service)
				continue
			}
			if _, ok := target.Binding(e.Source.Binding); !ok {
				errs.Add(s.Name+".env."+e.Name, fmt.Sprintf("service %s has no binding %q", target.Name, e.Source.Binding))
			}
		}
		if ri, ok := s.RunInfo.(api.IngressRunInfo); ok {
			for _, r := range ri.Rules {
				if !known.Has(r.Service) {
					errs.Add(s.Name+".ingress", "unknown service", r.Service)
				}
			}
		}
	}

	if errs.HasErrors() {
		return &api.Error{Kind: api.KindConfig, Op: "validate", Err: errs}
	}
	return nil
}
