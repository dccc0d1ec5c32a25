package runstate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"ensemble/internal/containerizer"
	"ensemble/internal/launcher"
	"ensemble/pkg/logging"
)

const purgeSubsystem = "Purge"

// KillTimeout is how long purge waits after SIGTERM before SIGKILL.
var KillTimeout = 2 * time.Second

// Purge kills every process and removes every container recorded in dir,
// then deletes dir. It does not need a running orchestrator. A missing
// directory is success, so purging twice is fine. runtime may be nil when
// no container runtime is available; recorded containers are then reported
// as errors.
func Purge(ctx context.Context, dir string, runtime containerizer.ContainerRuntime) error {
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		logging.Debug(purgeSubsystem, "Nothing to purge in %s", dir)
		return nil
	}

	st, err := Load(dir)
	if err != nil {
		return err
	}

	var errs []error
	if st != nil {
		errs = append(errs, killProcesses(ctx, st.Replicas)...)
		errs = append(errs, removeContainers(ctx, st, runtime)...)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove state directory %s: %w", dir, err)
	}
	logging.Info(purgeSubsystem, "Purged %s", dir)
	return nil
}

func killProcesses(ctx context.Context, entries []Entry) []error {
	var live []Entry
	for _, e := range entries {
		if owned(e) {
			logging.Info(purgeSubsystem, "Terminating %s (PID %d)", e.Replica, e.Pid)
			if err := launcher.SignalGroup(e.Pid, syscall.SIGTERM); err != nil {
				logging.Debug(purgeSubsystem, "SIGTERM to %d failed: %v", e.Pid, err)
			}
			live = append(live, e)
		}
	}
	if len(live) == 0 {
		return nil
	}

	deadline := time.Now().Add(KillTimeout)
	for time.Now().Before(deadline) && anyAlive(live) {
		select {
		case <-ctx.Done():
			return []error{ctx.Err()}
		case <-time.After(50 * time.Millisecond):
		}
	}

	var errs []error
	for _, e := range live {
		if !launcher.ProcessAlive(e.Pid) {
			continue
		}
		logging.Warn(purgeSubsystem, "Killing %s (PID %d)", e.Replica, e.Pid)
		if err := launcher.SignalGroup(e.Pid, syscall.SIGKILL); err != nil {
			errs = append(errs, fmt.Errorf("failed to kill %s: %w", e.Replica, err))
		}
	}
	return errs
}

// replicaEnvVar identifies the replica in the environment of every process
// ensemble starts.
const replicaEnvVar = "ENSEMBLE_REPLICA"

// owned reports whether the live process with e.Pid is still the replica
// that was recorded. After a reboot the PID may belong to anything.
func owned(e Entry) bool {
	if e.Pid <= 0 || !launcher.ProcessAlive(e.Pid) {
		return false
	}
	if e.Pgid > 0 {
		if pgid, ok := launcher.ProcessGroup(e.Pid); ok && pgid != e.Pgid {
			logging.Info(purgeSubsystem, "PID %d of %s now belongs to another process group, leaving it alone", e.Pid, e.Replica)
			return false
		}
	}
	if replica, ok := launcher.ProcessEnv(e.Pid, replicaEnvVar); ok && replica != e.Replica {
		logging.Info(purgeSubsystem, "PID %d is no longer %s, leaving it alone", e.Pid, e.Replica)
		return false
	}
	return true
}

func anyAlive(entries []Entry) bool {
	for _, e := range entries {
		if launcher.ProcessAlive(e.Pid) {
			return true
		}
	}
	return false
}

func removeContainers(ctx context.Context, st *State, runtime containerizer.ContainerRuntime) []error {
	ids := map[string]string{}
	for _, e := range st.Replicas {
		if e.ContainerID != "" {
			ids[e.ContainerID] = e.Replica
		}
	}

	if runtime == nil {
		if len(ids) == 0 {
			return nil
		}
		return []error{fmt.Errorf("%d container(s) recorded but no container runtime is available", len(ids))}
	}

	// Containers started just before a crash may not have made it into the file.
	if st.RunID != "" {
		found, err := runtime.ListContainers(ctx, launcher.LabelRun+"="+st.RunID)
		if err != nil {
			logging.Warn(purgeSubsystem, "Listing containers of run %s failed: %v", st.RunID, err)
		}
		for _, id := range found {
			if !known(ids, id) {
				ids[id] = id
			}
		}
	}

	var errs []error
	for id, replica := range ids {
		logging.Info(purgeSubsystem, "Removing container of %s", replica)
		if err := runtime.RemoveContainer(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// known matches the short IDs printed by ps against recorded full IDs.
func known(ids map[string]string, id string) bool {
	for full := range ids {
		if strings.HasPrefix(full, id) {
			return true
		}
	}
	return false
}
