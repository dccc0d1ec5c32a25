package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCommandFlags(t *testing.T) {
	runCmd := newRunCmd()

	for _, name := range []string{"debug", "watch", "no-logs", "dashboard-port", "log-format", "config-path"} {
		assert.NotNil(t, runCmd.Flags().Lookup(name), "flag %s", name)
	}
	assert.Equal(t, "text", runCmd.Flags().Lookup("log-format").DefValue)
}

func TestRunCommandRejectsInvalidFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "log format", args: []string{"--log-format", "xml"}, want: "unsupported log format"},
		{name: "dashboard port", args: []string{"--dashboard-port", "70000"}, want: "invalid dashboard port"},
		{name: "too many args", args: []string{"a", "b"}, want: "accepts at most 1 arg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runCmd := newRunCmd()
			var buf bytes.Buffer
			runCmd.SetOut(&buf)
			runCmd.SetErr(&buf)
			runCmd.SetArgs(tt.args)

			err := runCmd.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRunCommandMissingApplication(t *testing.T) {
	runCmd := newRunCmd()
	var buf bytes.Buffer
	runCmd.SetOut(&buf)
	runCmd.SetErr(&buf)
	runCmd.SetArgs([]string{t.TempDir(), "--config-path", t.TempDir()})

	err := runCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize application")
}

func TestPurgeCommandWithoutState(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeFile(dir, "ensemble.yaml", "name: demo\nservices:\n- name: redis\n  external: true\n"))

	purgeCmd := newPurgeCmd()
	purgeCmd.SetArgs([]string{dir, "--config-path", t.TempDir()})
	assert.NoError(t, purgeCmd.Execute())
}

func writeFile(dir, name, content string) error {
	return os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644)
}
