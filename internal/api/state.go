package api

import (
	"fmt"
	"time"
)

// ReplicaState is a step in a replica's lifecycle.
type ReplicaState int

const (
	StateStarting ReplicaState = iota
	StateStarted
	StateHealthy
	StateReady
	StateStopping
	StateStopped
	StateRemoved
)

var stateNames = [...]string{
	StateStarting: "Starting",
	StateStarted:  "Started",
	StateHealthy:  "Healthy",
	StateReady:    "Ready",
	StateStopping: "Stopping",
	StateStopped:  "Stopped",
	StateRemoved:  "Removed",
}

func (s ReplicaState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("ReplicaState(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s ReplicaState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *ReplicaState) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = ReplicaState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown replica state %q", string(text))
}

// AllStates lists every state in lifecycle order.
func AllStates() []ReplicaState {
	return []ReplicaState{StateStarting, StateStarted, StateHealthy, StateReady, StateStopping, StateStopped, StateRemoved}
}

// IsLive reports whether a replica in this state is running and not yet
// being stopped.
func (s ReplicaState) IsLive() bool {
	return s == StateStarted || s == StateHealthy || s == StateReady
}

var transitions = map[ReplicaState][]ReplicaState{
	StateStarting: {StateStarted},
	StateStarted:  {StateHealthy, StateStopping},
	StateHealthy:  {StateReady, StateStarted, StateStopping},
	StateReady:    {StateStarted, StateStopping},
	StateStopping: {StateStopped},
	StateStopped:  {StateRemoved},
	StateRemoved:  nil,
}

// CanTransition reports whether a replica may move from one state to another.
func CanTransition(from, to ReplicaState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ReplicaEvent is emitted on every replica state transition.
type ReplicaEvent struct {
	State     ReplicaState `json:"state"`
	Replica   ReplicaInfo  `json:"replica"`
	Timestamp time.Time    `json:"timestamp"`
}
