package config

import (
	"path/filepath"

	"ensemble/internal/api"
	"ensemble/pkg/logging"
)

// ApplicationLoader loads a single application file.
type ApplicationLoader interface {
	LoadApplication(path string) (api.ApplicationDescription, error)
}

// Expand follows the include entries of root breadth first and returns one
// description holding every service. A file reachable along several paths
// is loaded once. Include entries stay in the result as services without
// replicas so other services can still depend on them.
func Expand(root api.ApplicationDescription, loader ApplicationLoader) (api.ApplicationDescription, error) {
	type node struct {
		path string
		desc api.ApplicationDescription
	}

	rootPath := filepath.Clean(root.Source)
	loaded := map[string]api.ApplicationDescription{rootPath: root}
	edges := map[string][]string{}
	order := []string{rootPath}
	queue := []node{{path: rootPath, desc: root}}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, s := range n.desc.Services {
			ri, ok := s.RunInfo.(api.NestedRunInfo)
			if !ok {
				continue
			}
			child, err := FindApplicationFile(ri.Path)
			if err != nil {
				return api.ApplicationDescription{}, &api.Error{Kind: api.KindConfig, Op: "include", Service: s.Name, Err: err}
			}
			edges[n.path] = append(edges[n.path], child)
			if _, seen := loaded[child]; seen {
				continue
			}
			desc, err := loader.LoadApplication(child)
			if err != nil {
				return api.ApplicationDescription{}, err
			}
			logging.Debug("ConfigLoader", "Included %s from %s", child, n.path)
			loaded[child] = desc
			order = append(order, child)
			queue = append(queue, node{path: child, desc: desc})
		}
	}

	if chain := findCycle(rootPath, edges); chain != nil {
		return api.ApplicationDescription{}, api.NewCycleError(chain)
	}

	out := api.ApplicationDescription{
		Name:             root.Name,
		Source:           root.Source,
		ContextDirectory: root.ContextDirectory,
	}
	for _, p := range order {
		out.Services = append(out.Services, loaded[p].Services...)
	}
	if err := ValidateApplication(out); err != nil {
		return api.ApplicationDescription{}, err
	}
	return out, nil
}

// findCycle returns the first include chain that revisits a file, or nil.
func findCycle(root string, edges map[string][]string) []string {
	const (
		unvisited = iota
		active
		done
	)
	state := map[string]int{}
	var stack []string
	var cycle []string

	var visit func(string) bool
	visit = func(n string) bool {
		state[n] = active
		stack = append(stack, n)
		for _, next := range edges[n] {
			switch state[next] {
			case active:
				for i, p := range stack {
					if p == next {
						cycle = append(append([]string(nil), stack[i:]...), next)
						break
					}
				}
				return true
			case unvisited:
				if visit(next) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[n] = done
		return false
	}
	visit(root)
	return cycle
}
