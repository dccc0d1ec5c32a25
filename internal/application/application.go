// Package application holds the runtime aggregate of a running application:
// its services together with their replica registries, restart counters and
// log buffers.
package application

import (
	"fmt"
	"sync"

	"ensemble/internal/api"
	"ensemble/internal/logbuffer"
)

// Application is the root of a run. Services are only added while the
// orchestrator starts up.
type Application struct {
	Name             string
	Source           string
	ContextDirectory string
	RunID            string

	logCapacity int

	mu       sync.RWMutex
	services map[string]*Service
}

// New creates an application and wraps every described service.
func New(desc api.ApplicationDescription, runID string) (*Application, error) {
	app := &Application{
		Name:             desc.Name,
		Source:           desc.Source,
		ContextDirectory: desc.ContextDirectory,
		RunID:            runID,
		logCapacity:      logbuffer.DefaultCapacity,
		services:         make(map[string]*Service),
	}
	for _, sd := range desc.Services {
		if _, err := app.AddService(sd); err != nil {
			return nil, err
		}
	}
	return app, nil
}

// AddService registers a service. Names must be unique.
func (a *Application) AddService(desc api.ServiceDescription) (*Service, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.services[desc.Name]; exists {
		return nil, &api.Error{
			Kind:    api.KindConfig,
			Op:      "add service",
			Service: desc.Name,
			Err:     fmt.Errorf("service %s already exists", desc.Name),
		}
	}
	svc := NewService(desc, a.logCapacity)
	a.services[desc.Name] = svc
	return svc, nil
}

// Service looks up a service by name.
func (a *Application) Service(name string) (*Service, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	svc, ok := a.services[name]
	return svc, ok
}

// Services returns all services sorted by name.
func (a *Application) Services() []*Service {
	a.mu.RLock()
	list := make([]*Service, 0, len(a.services))
	for _, svc := range a.services {
		list = append(list, svc)
	}
	a.mu.RUnlock()

	sortServices(list)
	return list
}

// Info summarizes the application.
func (a *Application) Info() api.ApplicationInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return api.ApplicationInfo{
		Name:             a.Name,
		Source:           a.Source,
		ContextDirectory: a.ContextDirectory,
		RunID:            a.RunID,
		Services:         len(a.services),
	}
}

// Close releases the services' log subscriptions.
func (a *Application) Close() {
	for _, svc := range a.Services() {
		svc.Close()
	}
}
