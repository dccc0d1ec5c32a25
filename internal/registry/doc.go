// Package registry stores the live status of every replica of a service.
//
// A Registry is a concurrency-safe map from replica name to *ReplicaStatus.
// It emits no events and applies no policy; the supervisor that owns a
// service decides when replicas are added and removed. Readers should use
// Snapshot, which copies each status under its lock, instead of holding on
// to *ReplicaStatus values.
package registry
