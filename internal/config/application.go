package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ensemble/internal/api"
)

// ApplicationFileNames are looked up, in order, when a directory is given.
var ApplicationFileNames = []string{"ensemble.yaml", "ensemble.yml"}

const (
	categoryServices = "services"
	sourceApp        = "application"
)

// ApplicationFile is the on-disk form of an application.
type ApplicationFile struct {
	Name     string        `yaml:"name,omitempty"`
	Services []ServiceFile `yaml:"services"`
}

// ServiceFile is one entry of ApplicationFile.Services. Exactly one of
// Executable, Project, Image, Ingress, External or Include must be set.
type ServiceFile struct {
	Name string `yaml:"name"`

	Executable string            `yaml:"executable,omitempty"`
	Project    string            `yaml:"project,omitempty"`
	Image      string            `yaml:"image,omitempty"`
	Ingress    []IngressRuleFile `yaml:"ingress,omitempty"`
	External   bool              `yaml:"external,omitempty"`
	Include    string            `yaml:"include,omitempty"`

	Args             []string     `yaml:"args,omitempty"`
	Command          []string     `yaml:"command,omitempty"` // Overrides the detected project toolchain command
	WorkingDirectory string       `yaml:"workingDirectory,omitempty"`
	Volumes          []VolumeFile `yaml:"volumes,omitempty"`

	Replicas  *int          `yaml:"replicas,omitempty"`
	DependsOn []string      `yaml:"dependsOn,omitempty"`
	Env       []EnvFile     `yaml:"env,omitempty"`
	Bindings  []BindingFile `yaml:"bindings,omitempty"`
	Liveness  *ProbeFile    `yaml:"liveness,omitempty"`
	Readiness *ProbeFile    `yaml:"readiness,omitempty"`
	Restart   string        `yaml:"restart,omitempty"`
}

type IngressRuleFile struct {
	Host         string `yaml:"host,omitempty"`
	Path         string `yaml:"path,omitempty"`
	Service      string `yaml:"service"`
	PreservePath bool   `yaml:"preservePath,omitempty"`
}

type VolumeFile struct {
	Source   string `yaml:"source"`
	Target   string `yaml:"target"`
	ReadOnly bool   `yaml:"readOnly,omitempty"`
}

// EnvFile is a literal value or a reference to another service's binding.
type EnvFile struct {
	Name  string         `yaml:"name"`
	Value string         `yaml:"value,omitempty"`
	From  *EnvSourceFile `yaml:"from,omitempty"`
}

type EnvSourceFile struct {
	Service string `yaml:"service"`
	Binding string `yaml:"binding,omitempty"`
	Kind    string `yaml:"kind,omitempty"` // host, port, url or connectionString (default: url)
}

type BindingFile struct {
	Name             string `yaml:"name,omitempty"`
	Port             int    `yaml:"port,omitempty"`
	ContainerPort    int    `yaml:"containerPort,omitempty"`
	Host             string `yaml:"host,omitempty"`
	Protocol         string `yaml:"protocol,omitempty"`
	ConnectionString string `yaml:"connectionString,omitempty"`
	AutoAssignPort   bool   `yaml:"autoAssignPort,omitempty"`
}

type ProbeFile struct {
	HTTP             *HTTPProbeFile `yaml:"http,omitempty"`
	TCP              *TCPProbeFile  `yaml:"tcp,omitempty"`
	InitialDelay     time.Duration  `yaml:"initialDelay,omitempty"`
	Period           time.Duration  `yaml:"period,omitempty"`
	Timeout          time.Duration  `yaml:"timeout,omitempty"`
	SuccessThreshold int            `yaml:"successThreshold,omitempty"`
	FailureThreshold int            `yaml:"failureThreshold,omitempty"`
}

type HTTPProbeFile struct {
	Path    string            `yaml:"path,omitempty"`
	Binding string            `yaml:"binding,omitempty"`
	Scheme  string            `yaml:"scheme,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

type TCPProbeFile struct {
	Binding string `yaml:"binding,omitempty"`
}

// FindApplicationFile resolves path to an application file. A directory is
// searched for one of ApplicationFileNames.
func FindApplicationFile(path string) (string, error) {
	if path == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return abs, nil
	}
	for _, name := range ApplicationFileNames {
		candidate := filepath.Join(abs, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no %s found in %s", strings.Join(ApplicationFileNames, " or "), abs)
}

// FileLoader reads application files from disk.
type FileLoader struct{}

// LoadApplication implements ApplicationLoader.
func (FileLoader) LoadApplication(path string) (api.ApplicationDescription, error) {
	return LoadApplication(path)
}

// LoadApplication parses and validates one application file. Included files
// are not followed; see Expand. Relative paths in the file are made absolute
// against the file's directory.
func LoadApplication(path string) (api.ApplicationDescription, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return api.ApplicationDescription{}, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return api.ApplicationDescription{}, &api.Error{Kind: api.KindConfig, Op: "load", Err: err}
	}

	errs := NewConfigurationErrorCollection()
	file, err := decodeApplication(data)
	if err != nil {
		errs.Add(NewConfigurationErrorWithDetails(abs, filepath.Base(abs), sourceApp, categoryServices, "parse",
			"invalid YAML", err.Error(), []string{"Check indentation and field names against the documented format"}))
		return api.ApplicationDescription{}, &api.Error{Kind: api.KindConfig, Op: "load", Err: errs}
	}

	dir := filepath.Dir(abs)
	desc := api.ApplicationDescription{
		Name:             file.Name,
		Source:           abs,
		ContextDirectory: dir,
	}
	if desc.Name == "" {
		desc.Name = filepath.Base(dir)
	}

	for i, sf := range file.Services {
		if verrs := validateServiceFile(sf); verrs.HasErrors() {
			for _, ve := range verrs {
				errs.Add(serviceError(abs, sf, i, "validation", ve.Error()))
			}
			continue
		}
		sd, err := buildService(sf, dir)
		if err != nil {
			errs.Add(serviceError(abs, sf, i, "validation", err.Error()))
			continue
		}
		desc.Services = append(desc.Services, sd)
	}

	if !errs.HasErrors() {
		if verrs := validateNames(desc.Services); verrs.HasErrors() {
			for _, ve := range verrs {
				errs.Add(NewConfigurationError(abs, filepath.Base(abs), sourceApp, categoryServices, "validation", ve.Error()))
			}
		}
	}
	if errs.HasErrors() {
		return api.ApplicationDescription{}, &api.Error{Kind: api.KindConfig, Op: "load", Err: errs}
	}
	return desc, nil
}

func decodeApplication(data []byte) (ApplicationFile, error) {
	var file ApplicationFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return ApplicationFile{}, err
	}
	return file, nil
}

func serviceError(path string, sf ServiceFile, index int, errorType, message string) ConfigurationError {
	name := sf.Name
	if name == "" {
		name = fmt.Sprintf("#%d", index)
	}
	return NewConfigurationError(path, filepath.Base(path), sourceApp, categoryServices, errorType,
		fmt.Sprintf("service %s: %s", name, message))
}

// buildService turns a validated ServiceFile into a ServiceDescription.
func buildService(sf ServiceFile, dir string) (api.ServiceDescription, error) {
	b := api.NewService(sf.Name)

	switch {
	case sf.Executable != "":
		b.Executable(absExecutable(dir, sf.Executable), sf.Args...)
	case sf.Project != "":
		b.Run(api.ProjectRunInfo{Project: absPath(dir, sf.Project), Args: sf.Args, Command: sf.Command})
	case sf.Image != "":
		b.Image(sf.Image, sf.Args...)
		for _, v := range sf.Volumes {
			b.Volume(api.VolumeMapping{Source: absPath(dir, v.Source), Target: v.Target, ReadOnly: v.ReadOnly})
		}
	case len(sf.Ingress) > 0:
		rules := make([]api.IngressRule, 0, len(sf.Ingress))
		for _, r := range sf.Ingress {
			rules = append(rules, api.IngressRule{Host: r.Host, Path: r.Path, Service: r.Service, PreservePath: r.PreservePath})
		}
		b.Ingress(rules...)
	case sf.External:
		b.External()
	case sf.Include != "":
		b.Include(absPath(dir, sf.Include))
	}

	if sf.WorkingDirectory != "" {
		wd := sf.WorkingDirectory
		if sf.Image == "" {
			wd = absPath(dir, wd)
		}
		b.WorkingDirectory(wd)
	}
	if sf.Replicas != nil {
		b.Replicas(*sf.Replicas)
	}
	for _, bf := range sf.Bindings {
		b.Binding(api.Binding{
			Name:             bf.Name,
			Port:             bf.Port,
			ContainerPort:    bf.ContainerPort,
			Host:             bf.Host,
			Protocol:         bf.Protocol,
			ConnectionString: bf.ConnectionString,
			AutoAssignPort:   bf.AutoAssignPort,
		})
	}
	for _, e := range sf.Env {
		if e.From != nil {
			kind := api.SourceKind(e.From.Kind)
			if kind == "" {
				kind = api.SourceURL
			}
			b.EnvFrom(e.Name, api.BindingSource{Service: e.From.Service, Binding: e.From.Binding, Kind: kind})
			continue
		}
		b.Env(e.Name, e.Value)
	}
	b.DependsOn(sf.DependsOn...)
	if sf.Liveness != nil {
		b.Liveness(toProbe(*sf.Liveness))
	}
	if sf.Readiness != nil {
		b.Readiness(toProbe(*sf.Readiness))
	}
	if sf.Restart != "" {
		b.Restart(api.RestartPolicy(sf.Restart))
	}
	return b.Build()
}

func toProbe(pf ProbeFile) api.Probe {
	p := api.Probe{
		InitialDelay:     pf.InitialDelay,
		Period:           pf.Period,
		Timeout:          pf.Timeout,
		SuccessThreshold: pf.SuccessThreshold,
		FailureThreshold: pf.FailureThreshold,
	}
	if pf.HTTP != nil {
		p.HTTP = &api.HTTPProbe{Path: pf.HTTP.Path, Binding: pf.HTTP.Binding, Scheme: pf.HTTP.Scheme, Headers: pf.HTTP.Headers}
	}
	if pf.TCP != nil {
		p.TCP = &api.TCPProbe{Binding: pf.TCP.Binding}
	}
	return p
}

func absPath(dir, path string) string {
	if strings.HasPrefix(path, "~/") || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// absExecutable leaves bare command names to the PATH lookup.
func absExecutable(dir, path string) string {
	if !strings.ContainsAny(path, `/\`) {
		return path
	}
	return absPath(dir, path)
}
