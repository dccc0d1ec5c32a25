package api

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	launch := NewLaunchError("api", "api-1-abc", errors.New("exec: not found"))
	wrapped := NewCommandError("start", launch)

	assert.Equal(t, KindCommand, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindCommand))
	assert.True(t, IsKind(wrapped, KindLaunch))
	assert.False(t, IsKind(wrapped, KindCrash))
	assert.Equal(t, "start: launch api-1-abc: exec: not found", wrapped.Error())
}

func TestErrorKind_Fatal(t *testing.T) {
	assert.True(t, KindLaunch.Fatal())
	assert.True(t, KindConsistency.Fatal())
	assert.False(t, KindCrash.Fatal())
	assert.False(t, KindProbe.Fatal())
	assert.False(t, KindStopTimeout.Fatal())
}

func TestDuplicateReplicaError(t *testing.T) {
	err := NewDuplicateReplicaError("api", "api-1-abc")
	assert.True(t, IsKind(err, KindConsistency))
	assert.ErrorIs(t, err, ErrDuplicateReplica)
}

func TestTransitionError(t *testing.T) {
	err := NewTransitionError("api-1-abc", StateRemoved, StateStarted)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Contains(t, err.Error(), "Removed -> Started")
}

func TestCycleError(t *testing.T) {
	err := NewCycleError([]string{"a.yaml", "b.yaml", "a.yaml"})
	assert.True(t, IsKind(err, KindCycle))
	assert.Contains(t, err.Error(), "a.yaml -> b.yaml -> a.yaml")
}

func TestIsNotFound(t *testing.T) {
	err := fmt.Errorf("lookup: %w", NewReplicaNotFoundError("api-1"))
	assert.True(t, IsNotFound(err))
	assert.Equal(t, "replica api-1 not found", NewReplicaNotFoundError("api-1").Error())
	assert.False(t, IsNotFound(errors.New("other")))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}
