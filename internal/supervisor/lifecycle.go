package supervisor

import (
	"context"
	"errors"
	"fmt"

	"ensemble/internal/api"
	"ensemble/internal/launcher"
	"ensemble/internal/probe"
	"ensemble/internal/registry"
	"ensemble/pkg/logging"
)

type probeKind string

const (
	liveness  probeKind = "liveness"
	readiness probeKind = "readiness"
)

type probeReport struct {
	kind   probeKind
	result probe.Result
}

// health tracks the latest probe verdicts of one replica. An absent probe
// counts as passing.
type health struct {
	live, ready bool
}

// lifecycle drives one launched replica from Started to Removed.
func (s *Supervisor) lifecycle(r *run, handle launcher.Handle) {
	defer s.launches.Done()
	defer close(r.done)

	status := r.status
	desc := s.svc.Description

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for line := range handle.Output() {
			s.svc.AppendLog(status.Name(), line)
		}
	}()

	if err := s.transition(status, api.StateStarted); err != nil {
		s.shutdown(r, handle, drained)
		return
	}

	reports := make(chan probeReport)
	h := health{live: desc.Liveness == nil, ready: desc.Readiness == nil}
	s.startProbe(status, liveness, desc.Liveness, reports)
	s.startProbe(status, readiness, desc.Readiness, reports)
	s.advance(status, h)

	var crash error
loop:
	for {
		select {
		case <-status.Stopping():
			break loop
		case <-handle.Done():
			crash = api.NewCrashError(s.svc.Name(), status.Name(), fmt.Errorf("exited with code %d", handle.ExitCode()))
			break loop
		case rep := <-reports:
			switch rep.kind {
			case liveness:
				if !rep.result.Passed {
					crash = api.NewCrashError(s.svc.Name(), status.Name(), rep.result.Err)
					break loop
				}
				h.live = true
			case readiness:
				h.ready = rep.result.Passed
				if !h.ready && status.State() == api.StateReady {
					logging.Info(supervisorSubsystem, "Replica %s is no longer ready: %v", status.Name(), rep.result.Err)
					if err := s.transition(status, api.StateStarted); err != nil {
						break loop
					}
				}
			}
			s.advance(status, h)
		}
	}

	if crash != nil {
		logging.Warn(supervisorSubsystem, "%v", crash)
	}
	s.shutdown(r, handle, drained)

	if crash != nil && s.shouldRelaunch(r) {
		s.relaunch(status.Index())
	}
}

// advance moves a replica forward as far as its probe verdicts allow.
func (s *Supervisor) advance(status *registry.ReplicaStatus, h health) {
	if status.State() == api.StateStarted && h.live {
		if s.transition(status, api.StateHealthy) != nil {
			return
		}
	}
	if status.State() == api.StateHealthy && h.ready {
		if s.transition(status, api.StateReady) == nil {
			s.resetBackoff()
		}
	}
}

// startProbe runs p until the replica starts stopping. Results are handed to
// the lifecycle goroutine so that it stays the only writer of the state.
func (s *Supervisor) startProbe(status *registry.ReplicaStatus, kind probeKind, p *api.Probe, reports chan<- probeReport) {
	if p == nil {
		return
	}
	runner, err := probe.NewRunner(*p)
	if err != nil {
		logging.Warn(supervisorSubsystem, "Ignoring %s probe of %s: %v", kind, s.svc.Name(), err)
		return
	}
	runner.OnAttempt = func(err error) {
		if err != nil {
			s.cfg.Recorder.ProbeFailed(s.svc.Name(), string(kind))
			logging.Debug(supervisorSubsystem, "%s probe of %s failed: %v", kind, status.Name(), err)
		}
	}

	ctx := status.StopContext()
	target := probe.Target{Replica: status.Name(), Bindings: status.Bindings()}
	go runner.Run(ctx, target, func(res probe.Result) {
		select {
		case reports <- probeReport{kind: kind, result: res}:
		case <-ctx.Done():
		}
	})
}

// shutdown runs Stopping, Stopped and Removed for a replica.
func (s *Supervisor) shutdown(r *run, handle launcher.Handle, drained <-chan struct{}) {
	status := r.status
	name := status.Name()

	// Cancelling the stopping source halts the probes.
	status.RequestStop()
	if status.State() != api.StateStopping {
		_ = s.transition(status, api.StateStopping)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*s.cfg.GracePeriod)
	err := handle.Stop(ctx, s.cfg.GracePeriod)
	cancel()
	switch {
	case err == nil:
	case api.IsKind(err, api.KindStopTimeout) || errors.Is(err, launcher.ErrKilled):
		logging.Warn(supervisorSubsystem, "%v", err)
	default:
		logging.Error(supervisorSubsystem, err, "Failed to stop %s", name)
	}

	<-handle.Done()
	<-drained
	status.SetExitCode(handle.ExitCode())
	_ = s.transition(status, api.StateStopped)

	if err := s.svc.Replicas.Remove(name); err != nil {
		logging.Error(supervisorSubsystem, err, "Registry out of sync")
	}
	if s.cfg.RunState != nil {
		if err := s.cfg.RunState.Forget(name); err != nil {
			logging.Warn(supervisorSubsystem, "Failed to forget %s in run state: %v", name, err)
		}
	}
	_ = s.transition(status, api.StateRemoved)

	s.mu.Lock()
	delete(s.runs, name)
	s.mu.Unlock()
	logging.Debug(supervisorSubsystem, "Replica %s removed (exit code %d)", name, handle.ExitCode())
}
