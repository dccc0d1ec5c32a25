package supervisor

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"ensemble/internal/api"
	"ensemble/internal/launcher"
)

// fakeLauncher hands out fakeHandles and remembers them in launch order.
type fakeLauncher struct {
	mu      sync.Mutex
	handles []*fakeHandle
	specs   []launcher.Spec
	fail    error
	// listen makes each replica accept TCP connections on its first binding.
	listen bool
}

func (f *fakeLauncher) Launch(ctx context.Context, spec launcher.Spec) (launcher.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, api.NewLaunchError(spec.Service, spec.Replica, f.fail)
	}
	h := &fakeHandle{
		pid:      1000 + len(f.handles),
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
				conn.Close()
			}
		}()
	}
	h.output <- "hello from " + spec.Replica
	f.handles = append(f.handles, h)
	f.specs = append(f.specs, spec)
	return h, nil
}

func (f *fakeLauncher) launched() []*fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeHandle(nil), f.handles...)
}

type fakeHandle struct {
	pid      int
	bindings []api.ReplicaBinding
	output   chan string
	done     chan struct{}
	listener net.Listener

	once     sync.Once
	exitCode int
	// stubborn handles report a forced kill on Stop.
	stubborn bool
}

func (h *fakeHandle) Pid() int                       { return h.pid }
func (h *fakeHandle) ContainerID() string            { return "" }
func (h *fakeHandle) Bindings() []api.ReplicaBinding { return h.bindings }
func (h *fakeHandle) Output() <-chan string          { return h.output }
func (h *fakeHandle) Done() <-chan struct{}          { return h.done }
func (h *fakeHandle) ExitCode() int                  { return h.exitCode }

// exit simulates the process ending by itself.
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

func (h *fakeHandle) Stop(ctx context.Context, grace time.Duration) error {
	h.exit(143)
	if h.stubborn {
		return api.NewStopTimeoutError("svc", "replica", launcher.ErrKilled)
	}
	return nil
}

var errSpawn = errors.New("exec: no such file")
