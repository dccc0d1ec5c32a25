package launcher

import (
	"fmt"
	"os"
	"path/filepath"

	"ensemble/internal/api"
)

// ProjectCommand returns the toolchain command that runs a source project and
// the directory to run it from. path may be a project directory or a project
// file. An explicit Command on the run info wins.
func ProjectCommand(path string, ri api.ProjectRunInfo) ([]string, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", fmt.Errorf("project %s: %w", ri.Project, err)
	}

	dir := path
	file := ""
	if !info.IsDir() {
		dir = filepath.Dir(path)
		file = path
	}

	if len(ri.Command) > 0 {
		return append(append([]string(nil), ri.Command...), ri.Args...), dir, nil
	}

	var command []string
	switch {
	case file != "" && filepath.Ext(file) == ".csproj":
		command = []string{"dotnet", "run", "--project", file}
	case file != "" && filepath.Base(file) == "go.mod":
		command = []string{"go", "run", "."}
	case file != "" && filepath.Base(file) == "package.json":
		command = []string{"npm", "start"}
	case exists(filepath.Join(dir, "go.mod")):
		command = []string{"go", "run", "."}
	case firstMatch(dir, "*.csproj") != "":
		command = []string{"dotnet", "run", "--project", firstMatch(dir, "*.csproj")}
	case exists(filepath.Join(dir, "package.json")):
		command = []string{"npm", "start"}
	default:
		return nil, "", fmt.Errorf("project %s: no go.mod, *.csproj or package.json found", ri.Project)
	}

	if len(ri.Args) > 0 {
		if command[0] != "go" {
			command = append(command, "--")
		}
		command = append(command, ri.Args...)
	}
	return command, dir, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func firstMatch(dir, pattern string) string {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil || len(matches) == 0 {
		return ""
	}
	return matches[0]
}
