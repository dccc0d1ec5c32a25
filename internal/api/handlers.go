package api

import "context"

// ApplicationHandler is the view of a running application used by the
// status API and the MCP tools. The orchestrator adapter implements it.
//
// Implementations are passed explicitly to their consumers; there is no
// package-level registration.
type ApplicationHandler interface {
	// GetApplication summarizes the running application.
	GetApplication() (ApplicationInfo, error)

	// ListServices returns every service with its replicas, sorted by name.
	ListServices() ([]ServiceInfo, error)

	// GetService returns one service or a NotFoundError.
	GetService(name string) (ServiceInfo, error)

	// GetLogs returns the cached output of a service, oldest first. A
	// positive tail limits the result to the most recent lines.
	GetLogs(name string, tail int) ([]string, error)

	// SubscribeLogs streams new output of a service until cancel is called.
	SubscribeLogs(name string, buffer int) (lines <-chan LogLine, cancel func(), err error)

	// SubscribeEvents streams replica events of every service.
	SubscribeEvents(buffer int) (events <-chan ReplicaEvent, cancel func())

	// RestartService replaces every replica of a service.
	RestartService(ctx context.Context, name string) error

	// ScaleService changes the replica count of a service.
	ScaleService(ctx context.Context, name string, replicas int) error
}
