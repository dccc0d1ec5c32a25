// Package metrics exposes replica lifecycle counters in Prometheus format.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ensemble/internal/api"
	"ensemble/pkg/logging"
)

const namespace = "ensemble"

// Recorder receives lifecycle observations from supervisors.
type Recorder interface {
	ReplicaRestarted(service string)
	ReplicaTransitioned(service string, from, to api.ReplicaState)
	ProbeFailed(service, probe string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) ReplicaRestarted(string)                                        {}
func (Nop) ReplicaTransitioned(string, api.ReplicaState, api.ReplicaState) {}
func (Nop) ProbeFailed(string, string)                                     {}

// Prometheus is a Recorder backed by its own registry.
type Prometheus struct {
	registry    *prometheus.Registry
	restarts    *prometheus.CounterVec
	transitions *prometheus.CounterVec
	probes      *prometheus.CounterVec
	replicas    *prometheus.GaugeVec
}

// NewPrometheus creates a recorder with Go runtime and process collectors
// registered next to the ensemble metrics.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replica_restarts_total",
			Help:      "Replicas relaunched after a crash or liveness failure.",
		}, []string{"service"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replica_transitions_total",
			Help:      "Replica state transitions by target state.",
		}, []string{"service", "state"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_failures_total",
			Help:      "Failed probe attempts, including those below the failure threshold.",
		}, []string{"service", "probe"}),
		replicas: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "replicas",
			Help:      "Replicas currently in each state.",
		}, []string{"service", "state"}),
	}

	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.restarts,
		p.transitions,
		p.probes,
		p.replicas,
	)
	return p
}

// Registry returns the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Prometheus) ReplicaRestarted(service string) {
	p.restarts.WithLabelValues(service).Inc()
}

// ReplicaTransitioned moves one replica between the state gauges. A replica
// entering Starting has no previous state.
func (p *Prometheus) ReplicaTransitioned(service string, from, to api.ReplicaState) {
	p.transitions.WithLabelValues(service, to.String()).Inc()
	if to != api.StateStarting {
		p.replicas.WithLabelValues(service, from.String()).Dec()
	}
	if to != api.StateRemoved {
		p.replicas.WithLabelValues(service, to.String()).Inc()
	}
}

func (p *Prometheus) ProbeFailed(service, probe string) {
	p.probes.WithLabelValues(service, probe).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{
		ErrorLog:      errorLogger{},
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// errorLogger implements promhttp.Logger
type errorLogger struct{}

func (errorLogger) Println(v ...interface{}) {
	logging.Error("Metrics", fmt.Errorf("%s", fmt.Sprint(v...)), "Failed to gather metrics")
}
