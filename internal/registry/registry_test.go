package registry

import (
	"fmt"
	"sync"
	"testing"

	"ensemble/internal/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AddRemove(t *testing.T) {
	reg := New("api")
	replica := NewReplicaStatus("api", "api-1-abcd", api.ReplicaKindProcess, 1)

	require.NoError(t, reg.Add(replica))
	assert.Equal(t, 1, reg.Len())

	got, ok := reg.TryGet("api-1-abcd")
	require.True(t, ok)
	assert.Same(t, replica, got)

	require.NoError(t, reg.Remove("api-1-abcd"))
	_, ok = reg.TryGet("api-1-abcd")
	assert.False(t, ok)

	err := reg.Remove("api-1-abcd")
	assert.True(t, api.IsNotFound(err))
}

func TestRegistry_DuplicateName(t *testing.T) {
	reg := New("api")
	require.NoError(t, reg.Add(NewReplicaStatus("api", "api-1-abcd", api.ReplicaKindProcess, 1)))

	err := reg.Add(NewReplicaStatus("api", "api-1-abcd", api.ReplicaKindProcess, 2))
	require.Error(t, err)
	assert.True(t, api.IsKind(err, api.KindConsistency))
	assert.ErrorIs(t, err, api.ErrDuplicateReplica)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_SnapshotIsSortedCopy(t *testing.T) {
	reg := New("web")
	b := NewReplicaStatus("web", "web-2-b", api.ReplicaKindContainer, 2)
	a := NewReplicaStatus("web", "web-1-a", api.ReplicaKindContainer, 1)
	require.NoError(t, reg.Add(b))
	require.NoError(t, reg.Add(a))
	a.SetContainer("abc123", map[string]string{"PORT": "80"})

	snap := reg.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "web-1-a", snap[0].Name)
	assert.Equal(t, "abc123", snap[0].ContainerID)

	snap[0].Environment["PORT"] = "changed"
	assert.Equal(t, "80", reg.Snapshot()[0].Environment["PORT"])

	list := reg.List()
	assert.Equal(t, []string{"web-1-a", "web-2-b"}, []string{list[0].Name(), list[1].Name()})
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := New("api")
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("api-%d", i)
			assert.NoError(t, reg.Add(NewReplicaStatus("api", name, api.ReplicaKindProcess, i)))
		}(i)
		go func() {
			defer wg.Done()
			_ = reg.Snapshot()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, reg.Len())
}

func TestRegistry_Ready(t *testing.T) {
	reg := New("api")
	r1 := NewReplicaStatus("api", "api-1", api.ReplicaKindProcess, 1)
	r2 := NewReplicaStatus("api", "api-2", api.ReplicaKindProcess, 2)
	require.NoError(t, reg.Add(r1))
	require.NoError(t, reg.Add(r2))

	for _, s := range []api.ReplicaState{api.StateStarted, api.StateHealthy, api.StateReady} {
		require.NoError(t, r2.Transition(s))
	}

	ready := reg.Ready()
	require.Len(t, ready, 1)
	assert.Equal(t, "api-2", ready[0].Name())
}

func TestReplicaStatus_Transition(t *testing.T) {
	r := NewReplicaStatus("api", "api-1", api.ReplicaKindProcess, 1)
	assert.Equal(t, api.StateStarting, r.State())

	require.NoError(t, r.Transition(api.StateStarted))
	err := r.Transition(api.StateRemoved)
	assert.True(t, api.IsKind(err, api.KindConsistency))
	assert.Equal(t, api.StateStarted, r.State())
}

func TestReplicaStatus_RequestStop(t *testing.T) {
	r := NewReplicaStatus("api", "api-1", api.ReplicaKindProcess, 1)
	assert.False(t, r.StopRequested())

	r.RequestStop()
	r.RequestStop()

	select {
	case <-r.Stopping():
	default:
		t.Fatal("Stopping channel should be closed")
	}
	assert.True(t, r.StopRequested())
}

func TestReplicaStatus_Snapshot(t *testing.T) {
	r := NewReplicaStatus("api", "api-1", api.ReplicaKindProcess, 1)
	r.SetProcess(4242, map[string]string{"PORT": "8080"})
	r.SetBindings([]api.ReplicaBinding{{Protocol: "http", Port: 8080}, {Name: "grpc", Port: 0}})
	r.SetExitCode(3)
	r.SetMetric("restarts", "1")

	info := r.Snapshot()
	assert.Equal(t, 4242, info.Pid)
	assert.Equal(t, []int{8080}, info.Ports)
	require.NotNil(t, info.ExitCode)
	assert.Equal(t, 3, *info.ExitCode)
	assert.Equal(t, "1", info.Metrics["restarts"])
	assert.Equal(t, api.ReplicaKindProcess, info.Kind)
}
