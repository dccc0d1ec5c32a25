//go:build windows

package launcher

import (
	"os"
	"os/exec"
	"syscall"
)

// configureProcAttr starts the child in a new process group.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// signalGroup terminates the process. Windows has no SIGTERM delivery for
// console children, so every signal is a kill.
func signalGroup(pid int, sig syscall.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

// ProcessAlive reports whether a process with the given PID exists.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	p.Release()
	return true
}

// SignalGroup is signalGroup for callers outside the package.
func SignalGroup(pid int, sig syscall.Signal) error {
	return signalGroup(pid, sig)
}

// ProcessGroup is not available on Windows.
func ProcessGroup(pid int) (int, bool) {
	return 0, false
}

// ProcessEnv is not available on Windows.
func ProcessEnv(pid int, name string) (string, bool) {
	return "", false
}
