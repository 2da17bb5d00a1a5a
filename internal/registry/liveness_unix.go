//go:build unix

package registry

import "golang.org/x/sys/unix"

// IsAlive reports whether pid refers to a live process, via a kill(pid, 0)
// probe. EPERM means a process with that pid exists but we can't signal it
// (common for sandboxed or privilege-dropped workers) — that still counts
// as alive. Any other error (typically ESRCH) means the pid is free and
// its registry entry is stale.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
