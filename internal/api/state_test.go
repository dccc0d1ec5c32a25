package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ReplicaState
		want     bool
	}{
		{StateStarting, StateStarted, true},
		{StateStarted, StateHealthy, true},
		{StateHealthy, StateReady, true},
		{StateReady, StateStarted, true},
		{StateReady, StateStopping, true},
		{StateStarted, StateStopping, true},
		{StateStopping, StateStopped, true},
		{StateStopped, StateRemoved, true},
		{StateStarting, StateReady, false},
		{StateStarted, StateRemoved, false},
		{StateStopping, StateRemoved, false},
		{StateRemoved, StateStarting, false},
		{StateRemoved, StateStopping, false},
		{StateStopped, StateStarted, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestRemovedIsTerminal(t *testing.T) {
	for _, s := range AllStates() {
		assert.False(t, CanTransition(StateRemoved, s), "Removed -> %s", s)
	}
}

func TestReplicaState_JSON(t *testing.T) {
	data, err := json.Marshal(ReplicaEvent{State: StateReady})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"Ready"`)

	var ev ReplicaEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, StateReady, ev.State)

	var s ReplicaState
	assert.Error(t, s.UnmarshalText([]byte("Sleeping")))
}

func TestReplicaState_IsLive(t *testing.T) {
	assert.True(t, StateStarted.IsLive())
	assert.True(t, StateReady.IsLive())
	assert.False(t, StateStarting.IsLive())
	assert.False(t, StateStopping.IsLive())
}
