package api

import "time"

// ReplicaKind is the launch variant backing a replica.
type ReplicaKind string

const (
	ReplicaKindProcess   ReplicaKind = "process"
	ReplicaKindContainer ReplicaKind = "container"
	ReplicaKindIngress   ReplicaKind = "ingress"
)

// ReplicaBinding is a binding as bound by one replica.
type ReplicaBinding struct {
	Name          string `json:"name,omitempty"`
	Protocol      string `json:"protocol,omitempty"`
	Host          string `json:"host,omitempty"`
	Port          int    `json:"port"`
	ContainerPort int    `json:"containerPort,omitempty"`
}

// ReplicaInfo is a point-in-time copy of a replica's status. It is safe to
// hold across goroutines.
type ReplicaInfo struct {
	Name        string            `json:"name"`
	Service     string            `json:"service"`
	Kind        ReplicaKind       `json:"kind"`
	State       ReplicaState      `json:"state"`
	Ports       []int             `json:"ports,omitempty"`
	Bindings    []ReplicaBinding  `json:"bindings,omitempty"`
	Pid         int               `json:"pid,omitempty"`
	ContainerID string            `json:"containerId,omitempty"`
	ExitCode    *int              `json:"exitCode,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Items       map[string]string `json:"items,omitempty"`
	Metrics     map[string]string `json:"metrics,omitempty"`
	StartedAt   time.Time         `json:"startedAt"`
}

// ServiceInfo summarizes a service and its replicas for status consumers.
type ServiceInfo struct {
	Name       string        `json:"name"`
	Kind       RunKind       `json:"kind"`
	Desired    int           `json:"desired"`
	Restarts   int64         `json:"restarts"`
	Bindings   []BindingInfo `json:"bindings,omitempty"`
	Replicas   []ReplicaInfo `json:"replicas"`
	ReadyCount int           `json:"ready"`
}

// BindingInfo is the resolved public view of a service binding.
type BindingInfo struct {
	Name     string `json:"name,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
}

// ApplicationInfo summarizes the running application.
type ApplicationInfo struct {
	Name             string `json:"name"`
	Source           string `json:"source"`
	ContextDirectory string `json:"contextDirectory"`
	RunID            string `json:"runId"`
	Services         int    `json:"services"`
}

// LogLine is one line of replica output.
type LogLine struct {
	Service   string    `json:"service"`
	Replica   string    `json:"replica"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
