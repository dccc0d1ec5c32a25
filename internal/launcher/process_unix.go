//go:build !windows

package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// configureProcAttr runs the child in its own process group so that the
// whole tree can be signalled at once.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// signalGroup sends sig to the process group led by pid, falling back to
// the single process.
func signalGroup(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err != nil {
		if err2 := syscall.Kill(pid, sig); err2 != nil {
			return fmt.Errorf("failed to signal process group -%d: %v, also failed to signal process %d: %v", pid, err, pid, err2)
		}
	}
	return nil
}

// ProcessAlive reports whether a process with the given PID exists.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

// SignalGroup is signalGroup for callers outside the package.
func SignalGroup(pid int, sig syscall.Signal) error {
	return signalGroup(pid, sig)
}

// ProcessGroup returns the process group of pid.
func ProcessGroup(pid int) (int, bool) {
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		return 0, false
	}
	return pgid, true
}

// ProcessEnv looks up name in the environment of a running process. ok is
// false when the environment cannot be read, which is always the case where
// there is no /proc.
func ProcessEnv(pid int, name string) (value string, ok bool) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/environ", pid))
	if err != nil {
		return "", false
	}
	prefix := name + "="
	for _, kv := range strings.Split(string(data), "\x00") {
		if strings.HasPrefix(kv, prefix) {
			return kv[len(prefix):], true
		}
	}
	return "", true
}
