package runstate

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ensemble/internal/containerizer"
	"ensemble/internal/launcher"
)

func TestStore_RecordForget(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".ensemble")

	s, err := Open(dir, "run1")
	require.NoError(t, err)

	require.NoError(t, s.Record(Entry{Service: "api", Replica: "api-0-a", Pid: 100}))
	require.NoError(t, s.Record(Entry{Service: "db", Replica: "db-0-b", ContainerID: "c0ffee"}))
	require.NoError(t, s.Record(Entry{Service: "api", Replica: "api-0-a", Pid: 101}))

	st, err := Load(dir)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "run1", st.RunID)
	require.Len(t, st.Replicas, 2)
	assert.Equal(t, 101, st.Replicas[0].Pid)

	require.NoError(t, s.Forget("api-0-a"))
	assert.Equal(t, []Entry{{Service: "db", Replica: "db-0-b", ContainerID: "c0ffee"}}, s.Entries())

	require.NoError(t, s.Clear())
	st, err = Load(dir)
	require.NoError(t, err)
	assert.Nil(t, st)
	assert.DirExists(t, dir)
}

type fakeRuntime struct {
	containerizer.ContainerRuntime
	mu      sync.Mutex
	listed  []string
	removed []string
}

func (f *fakeRuntime) ListContainers(ctx context.Context, label string) ([]string, error) {
	return f.listed, nil
}

func (f *fakeRuntime) RemoveContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func TestPurge_MissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nothing-here")
	assert.NoError(t, Purge(context.Background(), dir, nil))
	assert.NoError(t, Purge(context.Background(), dir, nil))
}

func TestPurge_Containers(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".ensemble")
	s, err := Open(dir, "run1")
	require.NoError(t, err)
	require.NoError(t, s.Record(Entry{Service: "db", Replica: "db-0", ContainerID: "aaa111bbb222ccc333"}))

	rt := &fakeRuntime{listed: []string{"aaa111bbb222", "ddd444"}}
	require.NoError(t, Purge(context.Background(), dir, rt))

	assert.ElementsMatch(t, []string{"aaa111bbb222ccc333", "ddd444"}, rt.removed)
	assert.NoDirExists(t, dir)

	// Second purge is a no-op.
	assert.NoError(t, Purge(context.Background(), dir, rt))
}

func TestPurge_ContainersWithoutRuntime(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".ensemble")
	s, err := Open(dir, "run1")
	require.NoError(t, err)
	require.NoError(t, s.Record(Entry{Service: "db", Replica: "db-0", ContainerID: "abc"}))

	assert.Error(t, Purge(context.Background(), dir, nil))
	assert.DirExists(t, dir)
}

func TestPurge_EmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, Purge(context.Background(), dir, nil))
	assert.NoDirExists(t, dir)
}

// TestHelperSleeper is started by TestPurge_Processes as a stand-in replica.
func TestHelperSleeper(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	time.Sleep(time.Minute)
	os.Exit(0)
}

func TestPurge_Processes(t *testing.T) {
	cmd := exec.Command(os.Args[0], "-test.run=TestHelperSleeper")
	cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "ENSEMBLE_REPLICA=api-0")
	cmd.Stdout = io.Discard
	require.NoError(t, cmd.Start())
	exited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(exited)
	}()

	dir := filepath.Join(t.TempDir(), ".ensemble")
	s, err := Open(dir, "run1")
	require.NoError(t, err)
	require.NoError(t, s.Record(Entry{Service: "api", Replica: "api-0", Pid: cmd.Process.Pid}))

	require.NoError(t, Purge(context.Background(), dir, nil))

	select {
	case <-exited:
	case <-time.After(10 * time.Second):
		t.Fatal("purged process is still running")
	}
	assert.False(t, launcher.ProcessAlive(cmd.Process.Pid))
	assert.NoDirExists(t, dir)
}
