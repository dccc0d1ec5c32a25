package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ensemble/internal/api"
)

func loadRoot(t *testing.T, path string) api.ApplicationDescription {
	t.Helper()
	desc, err := LoadApplication(path)
	require.NoError(t, err)
	return desc
}

func serviceNames(desc api.ApplicationDescription) []string {
	var names []string
	for _, s := range desc.Services {
		names = append(names, s.Name)
	}
	return names
}

func TestExpand(t *testing.T) {
	root := t.TempDir()
	writeApp(t, filepath.Join(root, "billing"), `
services:
  - name: billing
    executable: ./billing
    dependsOn: [shared]
  - name: shared
    include: ../shared
`)
	writeApp(t, filepath.Join(root, "shared"), `
services:
  - name: cache
    image: redis
    bindings:
      - port: 6379
`)
	path := writeApp(t, root, `
services:
  - name: api
    executable: ./api
    dependsOn: [billing-app]
    env:
      - name: CACHE
        from:
          service: cache
  - name: billing-app
    include: ./billing
  - name: shared-app
    include: ./shared
`)

	desc, err := Expand(loadRoot(t, path), FileLoader{})
	require.NoError(t, err)

	// shared is reachable twice but loaded once.
	assert.Equal(t, []string{"api", "billing-app", "shared-app", "billing", "shared", "cache"}, serviceNames(desc))
	assert.Equal(t, path, desc.Source)

	cache, _ := desc.Service("cache")
	assert.True(t, cache.HasReplicas())
	include, _ := desc.Service("billing-app")
	assert.False(t, include.HasReplicas())
}

func TestExpand_Cycle(t *testing.T) {
	root := t.TempDir()
	writeApp(t, filepath.Join(root, "a"), "services:\n  - name: to-b\n    include: ../b\n")
	writeApp(t, filepath.Join(root, "b"), "services:\n  - name: to-a\n    include: ../a\n")
	path := writeApp(t, root, "services:\n  - name: to-a-root\n    include: ./a\n  - name: to-b-root\n    include: ./b\n")

	_, err := Expand(loadRoot(t, path), FileLoader{})
	require.Error(t, err)
	assert.True(t, api.IsKind(err, api.KindCycle))
	assert.Contains(t, err.Error(), "nested application cycle")
}

func TestExpand_SelfInclude(t *testing.T) {
	root := t.TempDir()
	path := writeApp(t, root, "services:\n  - name: me\n    include: .\n")

	_, err := Expand(loadRoot(t, path), FileLoader{})
	require.Error(t, err)
	assert.True(t, api.IsKind(err, api.KindCycle))
}

func TestExpand_MissingInclude(t *testing.T) {
	root := t.TempDir()
	path := writeApp(t, root, "services:\n  - name: gone\n    include: ./nowhere\n")

	_, err := Expand(loadRoot(t, path), FileLoader{})
	require.Error(t, err)
	assert.True(t, api.IsKind(err, api.KindConfig))
}

func TestExpand_DuplicateAcrossFiles(t *testing.T) {
	root := t.TempDir()
	writeApp(t, filepath.Join(root, "other"), "services:\n  - name: api\n    executable: ./api\n")
	path := writeApp(t, root, "services:\n  - name: api\n    executable: ./api\n  - name: other\n    include: ./other\n")

	_, err := Expand(loadRoot(t, path), FileLoader{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate service name")
}

func TestValidateApplication(t *testing.T) {
	desc := api.ApplicationDescription{Services: []api.ServiceDescription{
		api.NewService("api").Executable("./api").DependsOn("api", "db").MustBuild(),
		api.NewService("web").Executable("./web").EnvFrom("API", api.BindingSource{Service: "api", Binding: "grpc"}).MustBuild(),
		api.NewService("gw").Ingress(api.IngressRule{Path: "/", Service: "nope"}).MustBuild(),
	}}

	err := ValidateApplication(desc)
	require.Error(t, err)
	assert.True(t, api.IsKind(err, api.KindConfig))
	for _, msg := range []string{"cannot depend on itself", "unknown service", `no binding "grpc"`} {
		assert.Contains(t, err.Error(), msg)
	}
}
