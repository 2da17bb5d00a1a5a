// Package registry implements the file-backed worker registry: per
// database, a `<basename>.sock` and `<basename>.pid` file under a shared
// registry directory, used for cross-process worker discovery. The
// in-process cache callers keep on top of this is just that — a cache; the
// filesystem is the source of truth.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// DefaultDir is the well-known temp location workers and clients agree on
// when no override is configured.
const DefaultDir = "/tmp/code_analysis_db_workers"

// Entry is the on-disk record of one worker: where its socket lives and
// what process owns it.
type Entry struct {
	DBPath     string
	SocketPath string
	PIDPath    string
	PID        int
}

// Registry resolves and mutates Entry records under one directory.
type Registry struct {
	dir string
}

func New(dir string) *Registry {
	if dir == "" {
		dir = DefaultDir
	}
	return &Registry{dir: dir}
}

func (r *Registry) Dir() string { return r.dir }

// basename derives the registry key for a canonical db path. Paths are
// hashed rather than lightly sanitized so two databases that differ only in
// characters a filesystem would collapse (or that are too long for a
// filename) never collide.
func basename(dbPath string) string {
	sum := sha256.Sum256([]byte(dbPath))
	base := filepath.Base(dbPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "db"
	}
	return fmt.Sprintf("%s-%s", base, hex.EncodeToString(sum[:8]))
}

// Paths returns the socket and pid paths a worker for dbPath would use,
// without touching the filesystem.
func (r *Registry) Paths(dbPath string) (socketPath, pidPath string) {
	b := basename(dbPath)
	return filepath.Join(r.dir, b+".sock"), filepath.Join(r.dir, b+".pid")
}

// EnsureDir creates the registry directory if it doesn't exist.
func (r *Registry) EnsureDir() error {
	return os.MkdirAll(r.dir, 0o700)
}

// Lookup reads the current on-disk entry for dbPath. It does not judge
// liveness; callers use IsAlive for that, since "does a pid file exist" and
// "is that pid running" are different questions the manager answers at
// different points in get_or_start.
func (r *Registry) Lookup(dbPath string) (*Entry, error) {
	socketPath, pidPath := r.Paths(dbPath)

	data, err := os.ReadFile(pidPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("registry: read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("registry: malformed pid file %s: %w", pidPath, err)
	}

	return &Entry{DBPath: dbPath, SocketPath: socketPath, PIDPath: pidPath, PID: pid}, nil
}

// Write records a worker's PID under a held lock, so two processes racing
// to write the same entry never interleave bytes: the lock is taken
// without blocking, and a writer that finds it held gets an error instead
// of writing. Successive writes leave the last one on disk.
func (r *Registry) Write(dbPath string, pid int) error {
	if err := r.EnsureDir(); err != nil {
		return err
	}
	_, pidPath := r.Paths(dbPath)

	lock, err := r.lockFor(pidPath)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	return os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0o600)
}

// Remove deletes both the pid and socket files for dbPath. Errors removing
// a file that's already gone are swallowed; removal is how a worker or an
// adopting caller expresses "this entry is no longer valid," and a
// not-found error here is not a failure of that intent.
func (r *Registry) Remove(dbPath string) error {
	socketPath, pidPath := r.Paths(dbPath)
	var errs []error
	for _, p := range []string{pidPath, socketPath} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// lockFor returns a non-blocking exclusive file lock guarding concurrent
// writers to path. gofrs/flock works uniformly across platforms, so the
// registry doesn't need a unix-only build tag for this one path.
func (r *Registry) lockFor(path string) (*flock.Flock, error) {
	lk := flock.New(path + ".lock")
	locked, err := lk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("registry: lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("registry: %s is locked by another process", path)
	}
	return lk, nil
}

// SocketExists reports whether a worker's socket file is currently present,
// the condition the wait-for-socket startup protocol polls on.
func SocketExists(socketPath string) bool {
	_, err := os.Stat(socketPath)
	return err == nil
}
