package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ensemble/internal/api"
)

func init() {
	execCommand = mockExecCommand
}

func mockExecCommand(command string, args ...string) *exec.Cmd {
	cs := []string{"-test.run=TestHelperProcess", "--", command}
	cs = append(cs, args...)
	return exec.Command(os.Args[0], cs...)
}

// TestHelperProcess is a helper process for mocking exec.Command
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	args := os.Args
	for i, arg := range args {
		if arg == "--" {
			args = args[i+1:]
			break
		}
	}
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "No command\n")
		os.Exit(2)
	}

	switch args[0] {
	case "echo":
		for _, a := range args[1:] {
			fmt.Println(a)
		}
		fmt.Fprintln(os.Stderr, "to stderr")
		os.Exit(0)
	case "env":
		fmt.Println(os.Getenv(args[1]))
		os.Exit(0)
	case "exit":
		code, _ := strconv.Atoi(args[1])
		os.Exit(code)
	case "sleep":
		time.Sleep(time.Minute)
		os.Exit(0)
	case "longline":
		size, _ := strconv.Atoi(args[1])
		fmt.Println(strings.Repeat("x", size))
		fmt.Println("after")
		os.Exit(0)
	case "pwd":
		dir, _ := os.Getwd()
		fmt.Println(dir)
		os.Exit(0)
	}

	fmt.Fprintf(os.Stderr, "Unknown command: %v\n", args)
	os.Exit(1)
}

func helperSpec(args ...string) Spec {
	return Spec{
		Service: "api",
		Replica: "api-0-abc",
		RunInfo: api.ProcessRunInfo{Executable: args[0], Args: args[1:]},
		Env:     map[string]string{"GO_WANT_HELPER_PROCESS": "1"},
	}
}

func collect(t *testing.T, h Handle) []string {
	t.Helper()
	var lines []string
	timeout := time.After(10 * time.Second)
	for {
		select {
		case line, ok := <-h.Output():
			if !ok {
				return lines
			}
			lines = append(lines, line)
		case <-timeout:
			t.Fatal("timed out waiting for output")
		}
	}
}

func waitDone(t *testing.T, h Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for exit")
	}
}

func TestProcessLauncher_Output(t *testing.T) {
	h, err := NewProcessLauncher().Launch(context.Background(), helperSpec("echo", "hello", "world"))
	require.NoError(t, err)
	assert.NotZero(t, h.Pid())
	assert.Empty(t, h.ContainerID())

	lines := collect(t, h)
	waitDone(t, h)

	assert.ElementsMatch(t, []string{"hello", "world", "to stderr"}, lines)
	assert.Equal(t, 0, h.ExitCode())
}

func TestProcessLauncher_ExitCode(t *testing.T) {
	h, err := NewProcessLauncher().Launch(context.Background(), helperSpec("exit", "3"))
	require.NoError(t, err)

	collect(t, h)
	waitDone(t, h)
	assert.Equal(t, 3, h.ExitCode())
}

func TestProcessLauncher_LongLineDoesNotBlockExit(t *testing.T) {
	size := 2 * 1024 * 1024
	h, err := NewProcessLauncher().Launch(context.Background(), helperSpec("longline", strconv.Itoa(size)))
	require.NoError(t, err)

	lines := collect(t, h)
	waitDone(t, h)

	assert.Equal(t, 0, h.ExitCode())
	require.NotEmpty(t, lines)
	assert.Equal(t, "after", lines[len(lines)-1])
	total := 0
	for _, line := range lines[:len(lines)-1] {
		assert.LessOrEqual(t, len(line), MaxLineLength)
		total += len(line)
	}
	assert.Equal(t, size, total)
}

func TestProcessLauncher_Environment(t *testing.T) {
	spec := helperSpec("env", "SERVICE__DB__PORT")
	spec.Env["SERVICE__DB__PORT"] = "5432"

	h, err := NewProcessLauncher().Launch(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, []string{"5432"}, collect(t, h))
}

func TestProcessLauncher_WorkingDirectory(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.Mkdir(base+"/sub", 0o755))

	spec := helperSpec("pwd")
	spec.WorkingDirectory = base
	spec.RunInfo = api.ProcessRunInfo{Executable: "pwd", WorkingDirectory: "sub"}

	h, err := NewProcessLauncher().Launch(context.Background(), spec)
	require.NoError(t, err)
	lines := collect(t, h)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "sub")
}

func TestProcessLauncher_Stop(t *testing.T) {
	h, err := NewProcessLauncher().Launch(context.Background(), helperSpec("sleep"))
	require.NoError(t, err)
	go drain(h)

	err = h.Stop(context.Background(), 2*time.Second)
	assert.NoError(t, err)
	waitDone(t, h)
	assert.NotEqual(t, 0, h.ExitCode())

	// Stopping an exited replica is a no-op.
	assert.NoError(t, h.Stop(context.Background(), time.Second))
}

func TestProcessLauncher_SpawnFailure(t *testing.T) {
	old := execCommand
	defer func() { execCommand = old }()
	execCommand = exec.Command

	_, err := NewProcessLauncher().Launch(context.Background(), Spec{
		Service: "api",
		Replica: "api-0-abc",
		RunInfo: api.ProcessRunInfo{Executable: "/does/not/exist"},
	})
	require.Error(t, err)
	assert.True(t, api.IsKind(err, api.KindLaunch))
}

func TestProcessLauncher_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewProcessLauncher().Launch(ctx, helperSpec("echo"))
	assert.True(t, api.IsKind(err, api.KindLaunch))
}

func TestLaunchers_Dispatch(t *testing.T) {
	l := Launchers{api.RunKindProcess: NewProcessLauncher()}

	_, err := l.Launch(context.Background(), Spec{Service: "c", RunInfo: api.ContainerRunInfo{Image: "nginx"}})
	assert.True(t, api.IsKind(err, api.KindLaunch))

	h, err := l.Launch(context.Background(), helperSpec("exit", "0"))
	require.NoError(t, err)
	collect(t, h)
	waitDone(t, h)
}

func TestReplicaKind(t *testing.T) {
	assert.Equal(t, api.ReplicaKindProcess, ReplicaKind(api.RunKindProject))
	assert.Equal(t, api.ReplicaKindContainer, ReplicaKind(api.RunKindContainer))
	assert.Equal(t, api.ReplicaKindIngress, ReplicaKind(api.RunKindIngress))
}

var realExecCommand = exec.Command

func drain(h Handle) {
	for range h.Output() {
	}
}
