package dbserver

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/code-analysis/dbworker/internal/wlog"
)

// workerStatus is the JSON side-channel the worker writes on every
// dispatch so an external observer can see what it's currently doing.
type workerStatus struct {
	CurrentOperation string    `json:"current_operation"`
	CurrentFile      string    `json:"current_file"`
	UpdatedAt        time.Time `json:"updated_at"`
	ProgressPercent  *float64  `json:"progress_percent,omitempty"`
}

// statusWriter writes workerStatus to a JSON file. Its cardinal invariant
// is that it must never let an error escape: a disk-full or permission
// failure here must not stop the worker's accept/dispatch loop, so every
// failure is logged and swallowed.
type statusWriter struct {
	mu   sync.Mutex
	path string
	log  *wlog.Logger
}

func newStatusWriter(path string, log *wlog.Logger) *statusWriter {
	return &statusWriter{path: path, log: log}
}

func (w *statusWriter) write(operation, file string, progress *float64) {
	if w == nil || w.path == "" {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			// Not even a panic while logging the failure may propagate out of
			// status reporting.
			if w.log != nil {
				func() {
					defer func() { recover() }()
					w.log.Warn("worker.status_write_panic", wlog.Fields{"recovered": true})
				}()
			}
		}
	}()

	st := workerStatus{
		CurrentOperation: operation,
		CurrentFile:      file,
		UpdatedAt:        time.Now().UTC(),
		ProgressPercent:  progress,
	}

	data, err := json.Marshal(st)
	if err != nil {
		w.logWarn("worker.status_marshal_failed", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := os.WriteFile(w.path, data, 0o600); err != nil {
		w.logWarn("worker.status_write_failed", err)
	}
}

func (w *statusWriter) logWarn(event string, err error) {
	if w.log == nil {
		return
	}
	w.log.Warn(event, wlog.Fields{"err": err.Error(), "path": w.path})
}

// read is used for status/health introspection; it is not on the worker's
// hot path.
func (w *statusWriter) read() (*workerStatus, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, err
	}
	var st workerStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
