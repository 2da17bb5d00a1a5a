//go:build unix

package workermanager

import (
	"os/exec"
	"syscall"
	"time"

	"github.com/code-analysis/dbworker/internal/registry"
)

// configureWorkerProcess detaches the worker into its own session so it
// survives the manager's process exiting and isn't killed by a signal sent
// to the manager's process group.
func configureWorkerProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// stopProcess sends SIGTERM, waits up to grace for the pid to disappear,
// then SIGKILLs if it's still alive.
func stopProcess(pid int, grace time.Duration) error {
	if pid <= 0 {
		return nil
	}
	_ = syscall.Kill(pid, syscall.SIGTERM)

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !registry.IsAlive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	if registry.IsAlive(pid) {
		return syscall.Kill(pid, syscall.SIGKILL)
	}
	return nil
}
