// Package runstate records what a run launched so that it can be cleaned up
// after a crash of ensemble itself.
//
// The record lives in <state dir>/runstate.yaml and is rewritten on every
// change. A clean shutdown removes it again; Purge uses whatever is left.
package runstate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the run-state file inside the state directory.
const FileName = "runstate.yaml"

// Entry is one launched replica.
type Entry struct {
	Service     string `yaml:"service"`
	Replica     string `yaml:"replica"`
	Pid         int    `yaml:"pid,omitempty"`
	// Pgid is the process group the replica leads. Purge compares it with
	// the live process so that a reused PID is left alone.
	Pgid        int    `yaml:"pgid,omitempty"`
	ContainerID string `yaml:"containerId,omitempty"`
}

// State is the content of the run-state file.
type State struct {
	RunID     string    `yaml:"runId"`
	StartedAt time.Time `yaml:"startedAt"`
	Replicas  []Entry   `yaml:"replicas"`
}

// Store keeps the run-state file in sync with the live replicas.
type Store struct {
	mu    sync.Mutex
	dir   string
	state State
}

// Open creates the state directory and an empty record for runID.
func Open(dir, runID string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	s := &Store{dir: dir, state: State{RunID: runID, StartedAt: time.Now().UTC()}}
	if err := s.save(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string {
	return s.dir
}

// Record adds or replaces the entry for e.Replica.
func (s *Store) Record(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.Replicas {
		if s.state.Replicas[i].Replica == e.Replica {
			s.state.Replicas[i] = e
			return s.save()
		}
	}
	s.state.Replicas = append(s.state.Replicas, e)
	return s.save()
}

// Forget drops the entry of a removed replica.
func (s *Store) Forget(replica string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.state.Replicas[:0]
	for _, e := range s.state.Replicas {
		if e.Replica != replica {
			kept = append(kept, e)
		}
	}
	s.state.Replicas = kept
	return s.save()
}

// Entries returns a copy of the recorded replicas sorted by name.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]Entry(nil), s.state.Replicas...)
	sort.Slice(out, func(i, j int) bool { return out[i].Replica < out[j].Replica })
	return out
}

// Clear removes the run-state file after a clean stop. The directory is
// left in place since it may hold other files.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Replicas = nil
	err := os.Remove(filepath.Join(s.dir, FileName))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// save writes the file through a rename so readers never see partial YAML.
// Callers hold s.mu.
func (s *Store) save() error {
	data, err := yaml.Marshal(&s.state)
	if err != nil {
		return fmt.Errorf("failed to encode run state: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, FileName+".*")
	if err != nil {
		return fmt.Errorf("failed to write run state: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write run state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write run state: %w", err)
	}
	return os.Rename(tmp.Name(), filepath.Join(s.dir, FileName))
}

// Load reads the run-state file of dir. A missing file yields (nil, nil).
func Load(dir string) (*State, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st State
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Join(dir, FileName), err)
	}
	return &st, nil
}
