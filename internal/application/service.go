package application

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"ensemble/internal/api"
	"ensemble/internal/broadcast"
	"ensemble/internal/logbuffer"
	"ensemble/internal/registry"
)

// ResolvedBinding is a service binding after port allocation.
type ResolvedBinding struct {
	Name             string
	Protocol         string
	Host             string
	Port             int
	ContainerPort    int
	ConnectionString string
}

// Service is the runtime side of a ServiceDescription: its replicas, restart
// counter and output.
type Service struct {
	Description api.ServiceDescription
	Replicas    *registry.Registry
	Logs        *logbuffer.Buffer
	LogStream   *broadcast.Broadcaster[api.LogLine]

	restarts atomic.Int64

	mu       sync.RWMutex
	bindings []ResolvedBinding
	env      []api.EnvVar
}

// NewService wraps a description with empty runtime state.
func NewService(desc api.ServiceDescription, logCapacity int) *Service {
	return &Service{
		Description: desc,
		Replicas:    registry.New(desc.Name),
		Logs:        logbuffer.New(logCapacity),
		LogStream:   broadcast.New[api.LogLine]("logs/" + desc.Name),
	}
}

func (s *Service) Name() string {
	return s.Description.Name
}

// Restarts is the number of replicas relaunched after a crash.
func (s *Service) Restarts() int64 {
	return s.restarts.Load()
}

func (s *Service) IncrementRestarts() int64 {
	return s.restarts.Add(1)
}

// AppendLog stores a line of replica output and publishes it to live
// subscribers.
func (s *Service) AppendLog(replica, text string) {
	s.Logs.Append(fmt.Sprintf("[%s]: %s", replica, text))
	s.LogStream.Publish(api.LogLine{
		Service:   s.Name(),
		Replica:   replica,
		Text:      text,
		Timestamp: time.Now(),
	})
}

// SetBindings records the bindings after ports have been allocated.
func (s *Service) SetBindings(bindings []ResolvedBinding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings = append([]ResolvedBinding(nil), bindings...)
}

// Bindings returns the resolved bindings, or nil before allocation.
func (s *Service) Bindings() []ResolvedBinding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ResolvedBinding(nil), s.bindings...)
}

// Binding looks up a resolved binding. An empty name selects the default
// binding, falling back to the first one.
func (s *Service) Binding(name string) (ResolvedBinding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.bindings {
		if b.Name == name {
			return b, true
		}
	}
	if name == "" && len(s.bindings) > 0 {
		return s.bindings[0], true
	}
	return ResolvedBinding{}, false
}

// SetEnvironment stores the environment computed for this service's replicas.
func (s *Service) SetEnvironment(env []api.EnvVar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.env = append([]api.EnvVar(nil), env...)
}

// Environment returns the environment computed for this service's replicas.
func (s *Service) Environment() []api.EnvVar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]api.EnvVar(nil), s.env...)
}

// Info summarizes the service for status consumers.
func (s *Service) Info() api.ServiceInfo {
	replicas := s.Replicas.Snapshot()
	info := api.ServiceInfo{
		Name:     s.Name(),
		Desired:  s.Description.Replicas,
		Restarts: s.Restarts(),
		Replicas: replicas,
	}
	if s.Description.RunInfo != nil {
		info.Kind = s.Description.RunInfo.Kind()
	}
	for _, r := range replicas {
		if r.State == api.StateReady {
			info.ReadyCount++
		}
	}
	for _, b := range s.Bindings() {
		info.Bindings = append(info.Bindings, api.BindingInfo{
			Name:     b.Name,
			Protocol: b.Protocol,
			Host:     b.Host,
			Port:     b.Port,
		})
	}
	return info
}

// Close ends all log subscriptions.
func (s *Service) Close() {
	s.LogStream.Close()
}

func sortServices(services []*Service) {
	sort.Slice(services, func(i, j int) bool { return services[i].Name() < services[j].Name() })
}
