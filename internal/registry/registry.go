package registry

import (
	"sort"
	"sync"

	"ensemble/internal/api"
)

// Registry holds the replicas of one service keyed by name. It is plain
// storage: callers decide when a mutation is worth an event.
type Registry struct {
	mu       sync.RWMutex
	service  string
	replicas map[string]*ReplicaStatus
}

// New creates an empty registry for a service.
func New(service string) *Registry {
	return &Registry{
		service:  service,
		replicas: make(map[string]*ReplicaStatus),
	}
}

// Add registers a replica. A second replica with the same name is a
// consistency error.
func (r *Registry) Add(replica *ReplicaStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.replicas[replica.Name()]; exists {
		return api.NewDuplicateReplicaError(r.service, replica.Name())
	}
	r.replicas[replica.Name()] = replica
	return nil
}

// Remove deletes a replica by name.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.replicas[name]; !exists {
		return api.NewReplicaNotFoundError(name)
	}
	delete(r.replicas, name)
	return nil
}

// TryGet returns the replica with the given name.
func (r *Registry) TryGet(name string) (*ReplicaStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	replica, ok := r.replicas[name]
	return replica, ok
}

// Len returns the number of registered replicas.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.replicas)
}

// List returns the registered replicas ordered by creation.
func (r *Registry) List() []*ReplicaStatus {
	r.mu.RLock()
	list := make([]*ReplicaStatus, 0, len(r.replicas))
	for _, replica := range r.replicas {
		list = append(list, replica)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].Index() < list[j].Index() })
	return list
}

// Snapshot returns copies of every replica's status sorted by name.
func (r *Registry) Snapshot() []api.ReplicaInfo {
	r.mu.RLock()
	infos := make([]api.ReplicaInfo, 0, len(r.replicas))
	for _, replica := range r.replicas {
		infos = append(infos, replica.Snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Ready returns the replicas currently in the Ready state.
func (r *Registry) Ready() []*ReplicaStatus {
	var ready []*ReplicaStatus
	for _, replica := range r.List() {
		if replica.State() == api.StateReady {
			ready = append(ready, replica)
		}
	}
	return ready
}
