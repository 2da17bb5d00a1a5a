// Package workermanager implements the per-process worker manager: the
// singleton responsible for starting, adopting, and stopping the single
// worker process that owns a given SQLite file. Its own state is a cache;
// on-disk registry entries are the source of truth, so two managers in two
// processes racing to start the same worker still converge on one.
package workermanager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/code-analysis/dbworker/internal/registry"
	"github.com/code-analysis/dbworker/internal/wlog"
)

// DaemonGuardEnv is the environment variable a process tree sets on its
// daemon children. When set to any non-empty value, get_or_start refuses to
// spawn a new worker — a daemon process must rely on a worker its
// non-daemon ancestor already started. This is the Go expression of the
// "daemonic processes are not allowed to have children" guard.
const DaemonGuardEnv = "DBWORKER_DAEMON_CHILD"

// WorkerEnv is the environment variable the manager sets (to "1") in the
// environment of every worker it spawns, so downstream code sharing the
// worker's own process can detect "I am the worker" and skip proxying
// entirely.
const WorkerEnv = "CODE_ANALYSIS_DB_WORKER"

// ErrDaemonCannotSpawn is returned when get_or_start is called from a
// process flagged as a daemon child and no live worker already exists.
var ErrDaemonCannotSpawn = errors.New("workermanager: cannot start a db worker from a daemon process")

// ErrStartupTimeout is returned when a spawned worker's socket file never
// appears within the configured deadline.
var ErrStartupTimeout = errors.New("workermanager: worker socket did not appear before deadline")

// Handle is what get_or_start returns: enough to talk to a running worker
// and, later, to stop it.
type Handle struct {
	DBPath     string
	SocketPath string
	PID        int
}

// Options configures timing knobs for spawn/stop. Of these, only LogDir
// is filled from internal/config by the CLI; the others are set by the
// caller or take their defaults.
type Options struct {
	WorkerBinary    string        // defaults to the running executable
	SocketWaitLimit time.Duration // default 5s: bound on waiting for the socket to appear
	StopGraceWait   time.Duration // default 5s before SIGKILL
	LogDir          string        // optional; passed to the worker as --log
}

func (o Options) withDefaults() Options {
	if o.SocketWaitLimit == 0 {
		o.SocketWaitLimit = 5 * time.Second
	}
	if o.StopGraceWait == 0 {
		o.StopGraceWait = 5 * time.Second
	}
	return o
}

// Manager is a process-wide singleton; construct one per process and
// share it.
type Manager struct {
	mu       sync.Mutex
	reg      *registry.Registry
	opts     Options
	log      *wlog.Logger
	handles  map[string]*Handle // cache keyed by canonical db path
	isDaemon func() bool
}

func New(reg *registry.Registry, opts Options, log *wlog.Logger) *Manager {
	if log == nil {
		log = wlog.Default()
	}
	return &Manager{
		reg:      reg,
		opts:     opts.withDefaults(),
		log:      log,
		handles:  make(map[string]*Handle),
		isDaemon: func() bool { return os.Getenv(DaemonGuardEnv) != "" },
	}
}

// GetOrStart resolves a running worker for dbPath: reuse a live cached
// handle, adopt a live on-disk entry, refuse under the daemon guard, or
// spawn a new worker process.
func (m *Manager) GetOrStart(ctx context.Context, dbPath string) (*Handle, error) {
	dbPath, err := filepath.Abs(dbPath)
	if err != nil {
		return nil, fmt.Errorf("workermanager: resolve db path: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.handles[dbPath]; ok && registry.IsAlive(h.PID) {
		return h, nil
	}
	delete(m.handles, dbPath)

	if entry, err := m.reg.Lookup(dbPath); err != nil {
		return nil, err
	} else if entry != nil {
		if registry.IsAlive(entry.PID) && registry.SocketExists(entry.SocketPath) {
			h := &Handle{DBPath: dbPath, SocketPath: entry.SocketPath, PID: entry.PID}
			m.handles[dbPath] = h
			m.log.Info("manager.adopted", wlog.Fields{"db_path": dbPath, "pid": entry.PID})
			return h, nil
		}
		m.log.Info("manager.stale_entry_removed", wlog.Fields{"db_path": dbPath, "pid": entry.PID})
		_ = m.reg.Remove(dbPath)
	}

	if m.isDaemon() {
		m.log.Error("manager.daemon_guard_refused", wlog.Fields{"db_path": dbPath})
		return nil, ErrDaemonCannotSpawn
	}

	return m.spawn(ctx, dbPath)
}

func (m *Manager) spawn(ctx context.Context, dbPath string) (*Handle, error) {
	socketPath, _ := m.reg.Paths(dbPath)
	if err := m.reg.EnsureDir(); err != nil {
		return nil, fmt.Errorf("workermanager: create registry dir: %w", err)
	}

	bin := m.opts.WorkerBinary
	if bin == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("workermanager: resolve own executable: %w", err)
		}
		bin = exe
	}

	args := []string{"serve", dbPath, socketPath}
	var logPath string
	if m.opts.LogDir != "" {
		if err := os.MkdirAll(m.opts.LogDir, 0o700); err == nil {
			logPath = filepath.Join(m.opts.LogDir, filepath.Base(socketPath)+".log")
			args = append(args, "--log", logPath)
		}
	}

	cmd := exec.CommandContext(context.WithoutCancel(ctx), bin, args...)
	configureWorkerProcess(cmd)
	cmd.Env = append(os.Environ(), WorkerEnv+"=1")

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("workermanager: spawn worker: %w", err)
	}
	pid := cmd.Process.Pid
	// Release: the manager does not wait(2) on the worker, which is meant
	// to outlive this call. cmd.Wait is never called.
	go func() { _ = cmd.Process.Release() }()

	m.log.Info("manager.spawned", wlog.Fields{"db_path": dbPath, "pid": pid, "socket_path": socketPath})

	deadline := time.Now().Add(m.opts.SocketWaitLimit)
	for {
		if registry.SocketExists(socketPath) {
			break
		}
		if !registry.IsAlive(pid) {
			return nil, fmt.Errorf("workermanager: worker process exited before binding socket")
		}
		if time.Now().After(deadline) {
			return nil, ErrStartupTimeout
		}
		time.Sleep(50 * time.Millisecond)
	}

	if err := m.reg.Write(dbPath, pid); err != nil {
		return nil, fmt.Errorf("workermanager: record worker: %w", err)
	}

	h := &Handle{DBPath: dbPath, SocketPath: socketPath, PID: pid}
	m.handles[dbPath] = h
	return h, nil
}

// Stop sends SIGTERM, waits up to StopGraceWait for the process to exit,
// then SIGKILLs it, and removes the registry entry either way.
func (m *Manager) Stop(dbPath string) error {
	dbPath, err := filepath.Abs(dbPath)
	if err != nil {
		return err
	}

	m.mu.Lock()
	h, cached := m.handles[dbPath]
	m.mu.Unlock()

	if !cached {
		entry, err := m.reg.Lookup(dbPath)
		if err != nil {
			return err
		}
		if entry == nil {
			return nil
		}
		h = &Handle{DBPath: dbPath, SocketPath: entry.SocketPath, PID: entry.PID}
	}

	err = stopProcess(h.PID, m.opts.StopGraceWait)

	m.mu.Lock()
	delete(m.handles, dbPath)
	m.mu.Unlock()
	_ = m.reg.Remove(dbPath)

	m.log.Info("manager.stopped", wlog.Fields{"db_path": dbPath, "pid": h.PID})
	return err
}

// StopAll stops every worker this manager instance has a cached handle
// for, mirroring the original's stop_all_workers.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	paths := make([]string, 0, len(m.handles))
	for p := range m.handles {
		paths = append(paths, p)
	}
	m.mu.Unlock()

	var errs []error
	for _, p := range paths {
		if err := m.Stop(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
