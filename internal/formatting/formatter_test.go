package formatting

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"

	"ensemble/internal/api"
)

func testStatus() Status {
	return Status{
		Application: api.ApplicationInfo{Name: "shop", RunID: "r1", Services: 2},
		Services: []api.ServiceInfo{
			{
				Name:     "api",
				Kind:     api.RunKindProcess,
				Desired:  2,
				Restarts: 3,
				Replicas: []api.ReplicaInfo{
					{Name: "api-a", Service: "api", State: api.StateReady, Ports: []int{40001}, Pid: 101},
					{Name: "api-b", Service: "api", State: api.StateStarted, Ports: []int{40002}, Pid: 102},
				},
			},
			{
				Name:     "db",
				Kind:     api.RunKindContainer,
				Desired:  1,
				Replicas: []api.ReplicaInfo{{Name: "db-a", Service: "db", State: api.StateReady, ContainerID: "0123456789abcdef"}},
			},
			{
				Name:     "redis",
				Kind:     api.RunKindExternal,
				Bindings: []api.BindingInfo{{Host: "localhost", Port: 6379}},
			},
		},
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{in: "", want: FormatTable},
		{in: "table", want: FormatTable},
		{in: "json", want: FormatJSON},
		{in: "yaml", want: FormatYAML},
		{in: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOutputFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew(t *testing.T) {
	assert.IsType(t, &TableFormatter{}, New(Options{}))
	assert.IsType(t, &JSONFormatter{}, New(Options{Format: FormatJSON}))
	assert.IsType(t, &YAMLFormatter{}, New(Options{Format: FormatYAML}))
	assert.Equal(t, FormatJSON, New(Options{Format: FormatJSON}).Options().Format)
}

func TestTableFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(Options{Format: FormatTable}).FormatStatus(&buf, testStatus()))

	out := buf.String()
	assert.Contains(t, out, "shop (run r1)")
	assert.Contains(t, out, "api-a")
	assert.Contains(t, out, "40002")
	assert.Contains(t, out, "Started")
	assert.Contains(t, out, "0123456789ab")
	assert.NotContains(t, out, "0123456789abc")
	assert.Contains(t, out, "6379")
	assert.Contains(t, strings.ToLower(out), "2/3 ready")
	assert.NotContains(t, out, "\x1b[")
}

func TestTableFormatter_Quiet(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(Options{Quiet: true}).FormatStatus(&buf, testStatus()))

	assert.NotContains(t, buf.String(), "shop (run r1)")
	assert.NotContains(t, strings.ToLower(buf.String()), "2/3 ready")
}

func TestTableFormatter_Color(t *testing.T) {
	text.EnableColors()
	var buf bytes.Buffer
	require.NoError(t, New(Options{Color: true}).FormatStatus(&buf, testStatus()))

	assert.Contains(t, buf.String(), "\x1b[")
}

func TestTableFormatter_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(Options{}).FormatStatus(&buf, Status{}))

	assert.Equal(t, "No services found\n", buf.String())
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(Options{Format: FormatJSON}).FormatStatus(&buf, testStatus()))

	var got Status
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "shop", got.Application.Name)
	require.Len(t, got.Services, 3)
	assert.Equal(t, api.StateStarted, got.Services[0].Replicas[1].State)
	assert.Contains(t, buf.String(), `"state": "Ready"`)
}

func TestYAMLFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(Options{Format: FormatYAML}).FormatStatus(&buf, testStatus()))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "application:"))
	assert.Contains(t, out, "state: Ready")
	assert.Contains(t, out, "containerId: 0123456789abcdef")

	var got Status
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, 3, len(got.Services))
	assert.Equal(t, int64(3), got.Services[0].Restarts)
}
