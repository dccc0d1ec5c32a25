package orchestrator

import (
	"context"

	"ensemble/internal/api"
	"ensemble/internal/application"
)

// Adapter adapts the orchestrator to implement api.ApplicationHandler
type Adapter struct {
	orchestrator *Orchestrator
}

// NewAPIAdapter creates a new orchestrator adapter
func NewAPIAdapter(orchestrator *Orchestrator) *Adapter {
	return &Adapter{
		orchestrator: orchestrator,
	}
}

var _ api.ApplicationHandler = (*Adapter)(nil)

func (a *Adapter) app() (*application.Application, error) {
	app := a.orchestrator.Application()
	if app == nil {
		return nil, api.ErrNotRunning
	}
	return app, nil
}

func (a *Adapter) service(name string) (*application.Service, error) {
	app, err := a.app()
	if err != nil {
		return nil, err
	}
	svc, ok := app.Service(name)
	if !ok {
		return nil, api.NewServiceNotFoundError(name)
	}
	return svc, nil
}

// serviceInfo reports the supervisor's desired count, which follows Scale,
// instead of the count from the description.
func (a *Adapter) serviceInfo(svc *application.Service) api.ServiceInfo {
	info := svc.Info()
	if desired, ok := a.orchestrator.Desired(svc.Name()); ok {
		info.Desired = desired
	}
	return info
}

// Application information
func (a *Adapter) GetApplication() (api.ApplicationInfo, error) {
	app, err := a.app()
	if err != nil {
		return api.ApplicationInfo{}, err
	}
	return app.Info(), nil
}

// Service information
func (a *Adapter) ListServices() ([]api.ServiceInfo, error) {
	app, err := a.app()
	if err != nil {
		return nil, err
	}
	services := app.Services()
	infos := make([]api.ServiceInfo, 0, len(services))
	for _, svc := range services {
		infos = append(infos, a.serviceInfo(svc))
	}
	return infos, nil
}

func (a *Adapter) GetService(name string) (api.ServiceInfo, error) {
	svc, err := a.service(name)
	if err != nil {
		return api.ServiceInfo{}, err
	}
	return a.serviceInfo(svc), nil
}

// Logs
func (a *Adapter) GetLogs(name string, tail int) ([]string, error) {
	svc, err := a.service(name)
	if err != nil {
		return nil, err
	}
	if tail > 0 {
		return svc.Logs.Tail(tail), nil
	}
	return svc.Logs.Lines(), nil
}

func (a *Adapter) SubscribeLogs(name string, buffer int) (<-chan api.LogLine, func(), error) {
	svc, err := a.service(name)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := svc.LogStream.Subscribe(buffer)
	return ch, cancel, nil
}

func (a *Adapter) SubscribeEvents(buffer int) (<-chan api.ReplicaEvent, func()) {
	return a.orchestrator.Events().Subscribe(buffer)
}

// Service lifecycle management
func (a *Adapter) RestartService(ctx context.Context, name string) error {
	return a.orchestrator.RestartService(ctx, name)
}

func (a *Adapter) ScaleService(ctx context.Context, name string, replicas int) error {
	return a.orchestrator.ScaleService(ctx, name, replicas)
}
