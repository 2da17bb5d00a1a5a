//go:build !unix

package workermanager

import (
	"os"
	"os/exec"
	"time"

	"github.com/code-analysis/dbworker/internal/registry"
)

func configureWorkerProcess(cmd *exec.Cmd) {}

func stopProcess(pid int, grace time.Duration) error {
	if pid <= 0 {
		return nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	_ = proc.Kill()

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !registry.IsAlive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}
