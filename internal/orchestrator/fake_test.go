package orchestrator

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"ensemble/internal/api"
	"ensemble/internal/launcher"
)

// fakeLauncher hands out fakeHandles. Services listed in failFor cannot be
// launched; after failAfter successful launches every launch fails.
type fakeLauncher struct {
	mu        sync.Mutex
	handles   map[string][]*fakeHandle
	specs     map[string][]launcher.Spec
	failFor   map[string]error
	failAfter int
	launches  int
	listen    bool
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{
		handles:   map[string][]*fakeHandle{},
		specs:     map[string][]launcher.Spec{},
		failFor:   map[string]error{},
		failAfter: -1,
	}
}

func (f *fakeLauncher) Launch(ctx context.Context, spec launcher.Spec) (launcher.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[spec.Service]; err != nil {
		return nil, api.NewLaunchError(spec.Service, spec.Replica, err)
	}
	if f.failAfter >= 0 && f.launches >= f.failAfter {
		return nil, api.NewLaunchError(spec.Service, spec.Replica, errSpawn)
	}
	f.launches++

	h := &fakeHandle{
		pid:      4000 + f.launches,
		bindings: spec.Bindings,
		output:   make(chan string, 16),
		done:     make(chan struct{}),
	}
	if f.listen && len(spec.Bindings) > 0 {
		ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(spec.Bindings[0].Port))
		if err != nil {
			return nil, api.NewLaunchError(spec.Service, spec.Replica, err)
		}
		h.listener = ln
		go func() {
			for {
				conn, err := ln.Accept()
				if err != nil {
					return
				}
				conn.Write([]byte(spec.Replica))
				conn.Close()
			}
		}()
	}
	h.output <- "hello from " + spec.Replica
	f.handles[spec.Service] = append(f.handles[spec.Service], h)
	f.specs[spec.Service] = append(f.specs[spec.Service], spec)
	return h, nil
}

func (f *fakeLauncher) launched(service string) []*fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeHandle(nil), f.handles[service]...)
}

func (f *fakeLauncher) specsFor(service string) []launcher.Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]launcher.Spec(nil), f.specs[service]...)
}

type fakeHandle struct {
	pid      int
	bindings []api.ReplicaBinding
	output   chan string
	done     chan struct{}
	listener net.Listener

	once     sync.Once
	exitCode int
}

func (h *fakeHandle) Pid() int                       { return h.pid }
func (h *fakeHandle) ContainerID() string            { return "" }
func (h *fakeHandle) Bindings() []api.ReplicaBinding { return h.bindings }
func (h *fakeHandle) Output() <-chan string          { return h.output }
func (h *fakeHandle) Done() <-chan struct{}          { return h.done }
func (h *fakeHandle) ExitCode() int                  { return h.exitCode }

func (h *fakeHandle) exit(code int) {
	h.once.Do(func() {
		h.exitCode = code
		if h.listener != nil {
			h.listener.Close()
		}
		close(h.output)
		close(h.done)
	})
}

func (h *fakeHandle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *fakeHandle) Stop(ctx context.Context, grace time.Duration) error {
	h.exit(143)
	return nil
}
