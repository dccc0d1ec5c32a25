// Package api defines the types shared by every layer of ensemble: service
// descriptions and their typed builder, the replica state machine, replica
// snapshots and events, and the tagged error kinds returned by the engine.
//
// Nothing in this package starts goroutines or holds locks; it is plain data
// plus the transition table in CanTransition.
package api
