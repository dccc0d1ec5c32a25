package launcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ensemble/internal/api"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte{}, 0o644))
}

func TestProjectCommand(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "goapp", "go.mod"))
	writeFile(t, filepath.Join(root, "dotnet", "Api.csproj"))
	writeFile(t, filepath.Join(root, "node", "package.json"))
	require.NoError(t, os.Mkdir(filepath.Join(root, "empty"), 0o755))

	tests := []struct {
		name    string
		path    string
		ri      api.ProjectRunInfo
		want    []string
		wantDir string
		wantErr bool
	}{
		{
			name:    "go module directory",
			path:    filepath.Join(root, "goapp"),
			ri:      api.ProjectRunInfo{Args: []string{"-v"}},
			want:    []string{"go", "run", ".", "-v"},
			wantDir: filepath.Join(root, "goapp"),
		},
		{
			name:    "csproj file",
			path:    filepath.Join(root, "dotnet", "Api.csproj"),
			ri:      api.ProjectRunInfo{Args: []string{"--urls", "http://localhost:5000"}},
			want:    []string{"dotnet", "run", "--project", filepath.Join(root, "dotnet", "Api.csproj"), "--", "--urls", "http://localhost:5000"},
			wantDir: filepath.Join(root, "dotnet"),
		},
		{
			name:    "csproj directory",
			path:    filepath.Join(root, "dotnet"),
			want:    []string{"dotnet", "run", "--project", filepath.Join(root, "dotnet", "Api.csproj")},
			wantDir: filepath.Join(root, "dotnet"),
		},
		{
			name:    "node package",
			path:    filepath.Join(root, "node"),
			want:    []string{"npm", "start"},
			wantDir: filepath.Join(root, "node"),
		},
		{
			name:    "explicit command",
			path:    filepath.Join(root, "empty"),
			ri:      api.ProjectRunInfo{Command: []string{"make", "run"}, Args: []string{"X=1"}},
			want:    []string{"make", "run", "X=1"},
			wantDir: filepath.Join(root, "empty"),
		},
		{
			name:    "unknown project",
			path:    filepath.Join(root, "empty"),
			wantErr: true,
		},
		{
			name:    "missing path",
			path:    filepath.Join(root, "missing"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, dir, err := ProjectCommand(tt.path, tt.ri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantDir, dir)
		})
	}
}
