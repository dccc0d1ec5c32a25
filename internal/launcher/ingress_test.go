package launcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ensemble/internal/api"
)

func backend(t *testing.T, name string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s %s", name, r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestIngressLauncher(t *testing.T) {
	endpoints := map[string][]string{
		"api": {backend(t, "api-a"), backend(t, "api-b")},
		"web": {backend(t, "web")},
	}
	resolver := EndpointResolverFunc(func(service string) []string { return endpoints[service] })

	port, err := FreePort()
	require.NoError(t, err)

	h, err := NewIngressLauncher(resolver).Launch(context.Background(), Spec{
		Service: "gateway",
		Replica: "gateway-0-aaaa",
		RunInfo: api.IngressRunInfo{Rules: []api.IngressRule{
			{Path: "/api", Service: "api"},
			{Path: "/static", Service: "web", PreservePath: true},
			{Path: "/down", Service: "down"},
		}},
		Bindings: []api.ReplicaBinding{{Port: port, Protocol: "http"}},
	})
	require.NoError(t, err)
	go drain(h)

	base := fmt.Sprintf("http://127.0.0.1:%d", port)

	code, body := get(t, base+"/api/users")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "api-a /users", body)

	_, body = get(t, base+"/api/users")
	assert.Equal(t, "api-b /users", body, "requests are spread over replicas")

	_, body = get(t, base+"/static/app.js")
	assert.Equal(t, "web /static/app.js", body)

	code, _ = get(t, base+"/down/x")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, _ = get(t, base+"/nothing")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = get(t, base+"/api")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "api-a /", body)

	code, _ = get(t, base+"/apiary")
	assert.Equal(t, http.StatusNotFound, code, "prefixes match whole path segments")

	require.NoError(t, h.Stop(context.Background(), time.Second))
	waitDone(t, h)
}

func TestIngressLauncher_PortInUse(t *testing.T) {
	port, err := FreePort()
	require.NoError(t, err)
	spec := Spec{
		Service:  "gateway",
		Replica:  "gateway-0",
		RunInfo:  api.IngressRunInfo{},
		Bindings: []api.ReplicaBinding{{Port: port}},
	}
	l := NewIngressLauncher(EndpointResolverFunc(func(string) []string { return nil }))

	h, err := l.Launch(context.Background(), spec)
	require.NoError(t, err)
	defer h.Stop(context.Background(), time.Second)

	_, err = l.Launch(context.Background(), spec)
	assert.True(t, api.IsKind(err, api.KindLaunch))
}

func TestPathSegmentPrefix(t *testing.T) {
	tests := []struct {
		prefix string
		path   string
		want   bool
	}{
		{"/api", "/api", true},
		{"/api", "/api/", true},
		{"/api", "/api/users", true},
		{"/api", "/apiary", false},
		{"/api", "/ap", false},
		{"/api/", "/api", true},
		{"/api/", "/apiary/x", false},
		{"/", "/anything", true},
		{"/", "/", true},
	}
	for _, tt := range tests {
		t.Run(tt.prefix+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.want, pathSegmentPrefix(tt.prefix)(req, nil))
		})
	}
}
