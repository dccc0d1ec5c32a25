// Package probe runs liveness and readiness checks against replicas.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ensemble/internal/api"
)

// Target is the replica endpoint set a probe resolves its binding against.
type Target struct {
	Replica  string
	Bindings []api.ReplicaBinding
}

// Address returns host:port of the named binding, or of the first binding
// when name is empty.
func (t Target) Address(name string) (string, error) {
	for _, b := range t.Bindings {
		if b.Name == name || name == "" {
			host := b.Host
			if host == "" {
				host = "localhost"
			}
			return net.JoinHostPort(host, strconv.Itoa(b.Port)), nil
		}
	}
	return "", fmt.Errorf("replica %s has no binding %q", t.Replica, name)
}

// Checker performs a single probe attempt.
type Checker interface {
	Check(ctx context.Context, target Target) error
}

// NewChecker returns the checker configured on p.
func NewChecker(p api.Probe) (Checker, error) {
	switch {
	case p.HTTP != nil:
		return &HTTPChecker{probe: *p.HTTP, client: &http.Client{
			// Redirects count as success, like any 2xx/3xx answer.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		}}, nil
	case p.TCP != nil:
		return &TCPChecker{probe: *p.TCP}, nil
	default:
		return nil, errors.New("probe has neither http nor tcp check")
	}
}

// HTTPChecker passes on any 2xx or 3xx response.
type HTTPChecker struct {
	probe  api.HTTPProbe
	client *http.Client
}

func (c *HTTPChecker) Check(ctx context.Context, target Target) error {
	addr, err := target.Address(c.probe.Binding)
	if err != nil {
		return err
	}
	scheme := c.probe.Scheme
	if scheme == "" {
		scheme = "http"
	}
	path := c.probe.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scheme+"://"+addr+path, nil)
	if err != nil {
		return err
	}
	for k, v := range c.probe.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("GET %s returned %d", path, resp.StatusCode)
	}
	return nil
}

// TCPChecker passes when a connection can be opened.
type TCPChecker struct {
	probe api.TCPProbe
}

func (c *TCPChecker) Check(ctx context.Context, target Target) error {
	addr, err := target.Address(c.probe.Binding)
	if err != nil {
		return err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Result is reported whenever the probe status flips.
type Result struct {
	Passed bool
	// Err is the last failure when Passed is false.
	Err error
}

// Runner applies timing and thresholds to a Checker.
type Runner struct {
	probe   api.Probe
	checker Checker

	// OnAttempt, if set, is called after every attempt. It runs on the probe
	// goroutine.
	OnAttempt func(err error)
}

// NewRunner creates a runner for p with defaults filled in.
func NewRunner(p api.Probe) (*Runner, error) {
	checker, err := NewChecker(p)
	if err != nil {
		return nil, err
	}
	return &Runner{probe: p.WithDefaults(), checker: checker}, nil
}

// NewRunnerWithChecker creates a runner with a custom checker.
func NewRunnerWithChecker(p api.Probe, checker Checker) *Runner {
	return &Runner{probe: p.WithDefaults(), checker: checker}
}

// Run probes target until ctx is cancelled and calls report on every status
// flip. The initial status is unknown, so the first threshold reached is
// always reported.
func (r *Runner) Run(ctx context.Context, target Target, report func(Result)) {
	if !sleep(ctx, r.probe.InitialDelay) {
		return
	}

	var (
		successes, failures int
		known, passing      bool
	)
	ticker := time.NewTicker(r.probe.Period)
	defer ticker.Stop()

	for {
		attemptCtx, cancel := context.WithTimeout(ctx, r.probe.Timeout)
		err := r.checker.Check(attemptCtx, target)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if r.OnAttempt != nil {
			r.OnAttempt(err)
		}

		if err == nil {
			successes++
			failures = 0
			if successes >= r.probe.SuccessThreshold && (!known || !passing) {
				known, passing = true, true
				report(Result{Passed: true})
			}
		} else {
			failures++
			successes = 0
			if failures >= r.probe.FailureThreshold && (!known || passing) {
				known, passing = true, false
				report(Result{Passed: false, Err: &api.Error{Kind: api.KindProbe, Op: "probe", Replica: target.Replica, Err: err}})
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
