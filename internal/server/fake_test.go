package server

import (
	"context"
	"sync"

	"ensemble/internal/api"
)

// fakeApp is an in-memory api.ApplicationHandler.
type fakeApp struct {
	mu         sync.Mutex
	stopped    bool
	info       api.ApplicationInfo
	services   []api.ServiceInfo
	logs       map[string][]string
	logCh      chan api.LogLine
	eventCh    chan api.ReplicaEvent
	restarted  []string
	restartErr error
}

var _ api.ApplicationHandler = (*fakeApp)(nil)

func newFakeApp() *fakeApp {
	return &fakeApp{
		info: api.ApplicationInfo{Name: "shop", Source: "/src/ensemble.yaml", RunID: "run1", Services: 2},
		services: []api.ServiceInfo{
			{
				Name:    "api",
				Kind:    api.RunKindProcess,
				Desired: 1,
				Replicas: []api.ReplicaInfo{
					{Name: "api-abc", Service: "api", Kind: api.ReplicaKindProcess, State: api.StateReady, Ports: []int{8080}, Pid: 42},
				},
				ReadyCount: 1,
			},
			{Name: "db", Kind: api.RunKindExternal},
		},
		logs:    map[string][]string{"api": {"one", "two", "three"}},
		logCh:   make(chan api.LogLine, 8),
		eventCh: make(chan api.ReplicaEvent, 8),
	}
}

func (f *fakeApp) running() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return api.ErrNotRunning
	}
	return nil
}

func (f *fakeApp) find(name string) (api.ServiceInfo, error) {
	if err := f.running(); err != nil {
		return api.ServiceInfo{}, err
	}
	for _, svc := range f.services {
		if svc.Name == name {
			return svc, nil
		}
	}
	return api.ServiceInfo{}, api.NewServiceNotFoundError(name)
}

func (f *fakeApp) GetApplication() (api.ApplicationInfo, error) {
	if err := f.running(); err != nil {
		return api.ApplicationInfo{}, err
	}
	return f.info, nil
}

func (f *fakeApp) ListServices() ([]api.ServiceInfo, error) {
	if err := f.running(); err != nil {
		return nil, err
	}
	return f.services, nil
}

func (f *fakeApp) GetService(name string) (api.ServiceInfo, error) {
	return f.find(name)
}

func (f *fakeApp) GetLogs(name string, tail int) ([]string, error) {
	if _, err := f.find(name); err != nil {
		return nil, err
	}
	lines := f.logs[name]
	if tail > 0 && tail < len(lines) {
		lines = lines[len(lines)-tail:]
	}
	return lines, nil
}

func (f *fakeApp) SubscribeLogs(name string, buffer int) (<-chan api.LogLine, func(), error) {
	if _, err := f.find(name); err != nil {
		return nil, nil, err
	}
	return f.logCh, func() {}, nil
}

func (f *fakeApp) SubscribeEvents(buffer int) (<-chan api.ReplicaEvent, func()) {
	return f.eventCh, func() {}
}

func (f *fakeApp) RestartService(ctx context.Context, name string) error {
	if _, err := f.find(name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.restartErr != nil {
		return f.restartErr
	}
	f.restarted = append(f.restarted, name)
	return nil
}

func (f *fakeApp) ScaleService(ctx context.Context, name string, replicas int) error {
	_, err := f.find(name)
	return err
}

func (f *fakeApp) restarts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.restarted...)
}

func (f *fakeApp) failRestarts(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restartErr = err
}
