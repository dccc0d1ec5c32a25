// Package watch restarts services when their sources change.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"ensemble/internal/api"
	"ensemble/pkg/logging"
)

const watchSubsystem = "Watcher"

// DefaultDebounce is used when no debounce interval is configured.
const DefaultDebounce = 500 * time.Millisecond

// Change reports that files of a service changed.
type Change struct {
	Service   string
	Path      string
	Timestamp time.Time
}

// Watcher watches the source directories of services with fsnotify and
// emits one Change per service after the files stopped changing for the
// debounce interval.
type Watcher struct {
	mu sync.RWMutex

	// roots maps a watched root directory to the service owning it
	roots map[string]string

	// ignore holds directory and file base names that never trigger a change
	ignore map[string]bool

	debounce time.Duration
	watcher  *fsnotify.Watcher

	// pending tracks debounce timers per service
	pending map[string]*time.Timer

	stopCh  chan struct{}
	running bool
}

// New creates a watcher. Files and directories whose base name is in
// ignore are skipped, including everything below an ignored directory.
func New(debounce time.Duration, ignore []string) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w := &Watcher{
		roots:    map[string]string{},
		ignore:   map[string]bool{},
		debounce: debounce,
		pending:  map[string]*time.Timer{},
		stopCh:   make(chan struct{}),
	}
	for _, name := range ignore {
		w.ignore[name] = true
	}
	return w
}

// SourceDir returns the directory holding the sources of a service. Only
// process and project services have one.
func SourceDir(desc api.ServiceDescription) (string, bool) {
	switch ri := desc.RunInfo.(type) {
	case api.ProjectRunInfo:
		if ri.WorkingDirectory != "" {
			return ri.WorkingDirectory, true
		}
		if info, err := os.Stat(ri.Project); err == nil && !info.IsDir() {
			return filepath.Dir(ri.Project), true
		}
		return ri.Project, true
	case api.ProcessRunInfo:
		if ri.WorkingDirectory != "" {
			return ri.WorkingDirectory, true
		}
		if filepath.IsAbs(ri.Executable) {
			return filepath.Dir(ri.Executable), true
		}
	}
	return "", false
}

// Add registers the directory tree of a service. It may be called before or
// after Start.
func (w *Watcher) Add(service, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.roots[abs] = service
	running := w.running
	w.mu.Unlock()

	if running {
		return w.addTree(abs)
	}
	return nil
}

// Start begins watching and sends changes to changes until ctx is done or
// Stop is called.
func (w *Watcher) Start(ctx context.Context, changes chan<- Change) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}

	w.watcher = watcher
	w.running = true
	w.stopCh = make(chan struct{})
	roots := make([]string, 0, len(w.roots))
	for root := range w.roots {
		roots = append(roots, root)
	}
	w.mu.Unlock()

	for _, root := range roots {
		if err := w.addTree(root); err != nil {
			logging.Warn(watchSubsystem, "Failed to watch %s: %v", root, err)
		}
	}

	go w.processEvents(ctx, watcher, changes)

	logging.Info(watchSubsystem, "Watching %d service directories for changes", len(roots))
	return nil
}

// addTree watches dir and every directory below it that is not ignored.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.ignored(path) {
			return filepath.SkipDir
		}
		w.mu.RLock()
		watcher := w.watcher
		w.mu.RUnlock()
		if watcher == nil {
			return filepath.SkipAll
		}
		if err := watcher.Add(path); err != nil {
			return err
		}
		logging.Debug(watchSubsystem, "Watching directory: %s", path)
		return nil
	})
}

func (w *Watcher) ignored(path string) bool {
	return w.ignore[filepath.Base(path)]
}

// serviceFor finds the service whose root contains path. The deepest root
// wins when roots are nested.
func (w *Watcher) serviceFor(path string) string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	best, service := "", ""
	for root, svc := range w.roots {
		if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
			continue
		}
		if len(root) > len(best) {
			best, service = root, svc
		}
	}
	return service
}

func (w *Watcher) processEvents(ctx context.Context, watcher *fsnotify.Watcher, changes chan<- Change) {
	for {
		select {
		case <-ctx.Done():
			w.cleanupPending()
			return

		case <-w.stopCh:
			w.cleanupPending()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event, changes)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error(watchSubsystem, err, "Filesystem watcher error")
		}
	}
}

func (w *Watcher) handleFsEvent(event fsnotify.Event, changes chan<- Change) {
	if event.Op == fsnotify.Chmod || w.ignored(event.Name) {
		return
	}
	service := w.serviceFor(event.Name)
	if service == "" {
		return
	}

	// New directories are not covered by the existing watches.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				logging.Warn(watchSubsystem, "Failed to watch %s: %v", event.Name, err)
			}
		}
	}

	w.debounceChange(Change{Service: service, Path: event.Name, Timestamp: time.Now()}, changes)
}

// debounceChange restarts the service's timer so that a burst of writes
// produces a single Change carrying the last path.
func (w *Watcher) debounceChange(change Change, changes chan<- Change) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[change.Service]; ok {
		timer.Stop()
	}

	w.pending[change.Service] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		_, ok := w.pending[change.Service]
		delete(w.pending, change.Service)
		w.mu.Unlock()

		if !ok {
			return
		}
		select {
		case changes <- change:
			logging.Debug(watchSubsystem, "Change in %s (%s)", change.Service, change.Path)
		default:
			logging.Warn(watchSubsystem, "Change channel full, dropping change for %s", change.Service)
		}
	})
}

func (w *Watcher) cleanupPending() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, timer := range w.pending {
		timer.Stop()
	}
	w.pending = map[string]*time.Timer{}
}

// Stop ends watching. Pending changes are discarded.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	w.running = false
	close(w.stopCh)

	var err error
	if w.watcher != nil {
		err = w.watcher.Close()
		w.watcher = nil
	}

	logging.Info(watchSubsystem, "Stopped watching")
	return err
}
