package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceBuilder(t *testing.T) {
	desc, err := NewService("api").
		Executable("./bin/api", "--verbose").
		WorkingDirectory("/src/api").
		Replicas(2).
		Binding(Binding{Port: 8080, Protocol: "http"}).
		Binding(Binding{Name: "grpc", Port: 9090, Protocol: "http2"}).
		Env("LOG_LEVEL", "debug").
		EnvFrom("DB", BindingSource{Service: "db", Kind: SourceConnectionString}).
		DependsOn("db").
		Liveness(Probe{HTTP: &HTTPProbe{Path: "/healthz"}}).
		Build()
	require.NoError(t, err)

	assert.Equal(t, "api", desc.Name)
	assert.Equal(t, 2, desc.Replicas)
	assert.Equal(t, RestartAlways, desc.Restart)
	assert.Equal(t, ProcessRunInfo{Executable: "./bin/api", Args: []string{"--verbose"}, WorkingDirectory: "/src/api"}, desc.RunInfo)
	assert.Len(t, desc.Configuration, 2)
	assert.Equal(t, "db", desc.Configuration[1].Source.Service)
	assert.Equal(t, []string{"db"}, desc.Dependencies)
	assert.NotNil(t, desc.Liveness)
	assert.Nil(t, desc.Readiness)

	grpc, ok := desc.Binding("grpc")
	require.True(t, ok)
	assert.Equal(t, 9090, grpc.Port)

	def, ok := desc.Binding("")
	require.True(t, ok)
	assert.True(t, def.IsDefault())
	assert.True(t, desc.HasReplicas())
}

func TestServiceBuilder_Errors(t *testing.T) {
	tests := []struct {
		name    string
		builder *ServiceBuilder
		wantErr string
	}{
		{"no run kind", NewService("api"), "no run kind set"},
		{"two run kinds", NewService("api").Executable("a").Image("b"), "run kind already set"},
		{"negative replicas", NewService("api").Executable("a").Replicas(-1), "replicas must not be negative"},
		{"duplicate binding", NewService("api").Executable("a").Binding(Binding{Port: 1}).Binding(Binding{Port: 2}), "duplicate binding"},
		{"volume on process", NewService("api").Executable("a").Volume(VolumeMapping{Source: "x", Target: "y"}), "volumes require a container"},
		{"missing name", NewService("").Executable("a"), "service name is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder.Build()
			require.Error(t, err)
			assert.True(t, IsKind(err, KindConfig))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestServiceDescription_HasReplicas(t *testing.T) {
	assert.False(t, NewService("redis").External().MustBuild().HasReplicas())
	assert.False(t, NewService("billing").Include("../billing/ensemble.yaml").MustBuild().HasReplicas())
	assert.True(t, NewService("db").Image("postgres:16").MustBuild().HasReplicas())
	assert.True(t, NewService("gw").Ingress(IngressRule{Path: "/", Service: "api"}).MustBuild().HasReplicas())
}

func TestProbe_WithDefaults(t *testing.T) {
	p := Probe{FailureThreshold: 5}.WithDefaults()
	assert.Equal(t, DefaultProbePeriod, p.Period)
	assert.Equal(t, DefaultProbeTimeout, p.Timeout)
	assert.Equal(t, 1, p.SuccessThreshold)
	assert.Equal(t, 5, p.FailureThreshold)
}
