package probe

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ensemble/internal/api"
)

func targetFor(t *testing.T, rawURL string) Target {
	t.Helper()
	host, port, err := net.SplitHostPort(rawURL[len("http://"):])
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return Target{Replica: "api-0", Bindings: []api.ReplicaBinding{{Host: host, Port: p, Protocol: "http"}}}
}

func TestHTTPChecker(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz", r.URL.Path)
		assert.Equal(t, "probe", r.Header.Get("X-Check"))
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	checker, err := NewChecker(api.Probe{HTTP: &api.HTTPProbe{Path: "healthz", Headers: map[string]string{"X-Check": "probe"}}})
	require.NoError(t, err)
	target := targetFor(t, srv.URL)

	assert.NoError(t, checker.Check(context.Background(), target))

	status.Store(http.StatusFound)
	assert.NoError(t, checker.Check(context.Background(), target))

	status.Store(http.StatusServiceUnavailable)
	assert.Error(t, checker.Check(context.Background(), target))
}

func TestTCPChecker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	target := Target{Replica: "db-0", Bindings: []api.ReplicaBinding{{Name: "tcp", Host: "127.0.0.1", Port: port}}}

	checker, err := NewChecker(api.Probe{TCP: &api.TCPProbe{Binding: "tcp"}})
	require.NoError(t, err)
	assert.NoError(t, checker.Check(context.Background(), target))

	ln.Close()
	assert.Error(t, checker.Check(context.Background(), target))

	checker, _ = NewChecker(api.Probe{TCP: &api.TCPProbe{Binding: "missing"}})
	assert.ErrorContains(t, checker.Check(context.Background(), target), "no binding")
}

func TestNewChecker_NoCheck(t *testing.T) {
	_, err := NewChecker(api.Probe{})
	assert.Error(t, err)
}

// scriptedChecker replays a fixed sequence of results, then repeats the last.
type scriptedChecker struct {
	mu      sync.Mutex
	results []bool
	calls   int
}

func (s *scriptedChecker) Check(ctx context.Context, target Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	if s.results[i] {
		return nil
	}
	return errors.New("down")
}

func runFor(t *testing.T, p api.Probe, results []bool, attempts int) []Result {
	t.Helper()
	checker := &scriptedChecker{results: results}
	r := NewRunnerWithChecker(p, checker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu       sync.Mutex
		reported []Result
		count    int
	)
	done := make(chan struct{})
	r.OnAttempt = func(error) {
		count++
		if count == attempts {
			cancel()
		}
	}
	go func() {
		defer close(done)
		r.Run(ctx, Target{Replica: "api-0"}, func(res Result) {
			mu.Lock()
			defer mu.Unlock()
			reported = append(reported, res)
		})
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("runner did not stop")
	}
	mu.Lock()
	defer mu.Unlock()
	return reported
}

func TestRunner_ReportsOnlyFlips(t *testing.T) {
	p := api.Probe{Period: time.Millisecond, FailureThreshold: 2, SuccessThreshold: 1}

	// pass, pass, fail, pass, fail, fail, fail, pass
	results := runFor(t, p, []bool{true, true, false, true, false, false, false, true}, 8)

	require.Len(t, results, 3)
	assert.True(t, results[0].Passed)
	assert.False(t, results[1].Passed)
	assert.True(t, api.IsKind(results[1].Err, api.KindProbe))
	assert.True(t, results[2].Passed)
}

func TestRunner_FailuresBelowThresholdNotReported(t *testing.T) {
	p := api.Probe{Period: time.Millisecond, FailureThreshold: 3}

	results := runFor(t, p, []bool{false, false, true, false, false, true}, 6)

	require.Len(t, results, 1)
	assert.True(t, results[0].Passed)
}

func TestRunner_SuccessThreshold(t *testing.T) {
	p := api.Probe{Period: time.Millisecond, SuccessThreshold: 3, FailureThreshold: 5}

	results := runFor(t, p, []bool{true, true, false, true, true, true}, 6)

	require.Len(t, results, 1)
	assert.True(t, results[0].Passed)
}

func TestRunner_InitialDelayCancelled(t *testing.T) {
	checker := &scriptedChecker{results: []bool{true}}
	r := NewRunnerWithChecker(api.Probe{InitialDelay: time.Hour}, checker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Run(ctx, Target{}, func(Result) { t.Error("unexpected report") })

	assert.Zero(t, checker.calls)
}
