// Package dbproxy is the client-side driver: it implements a neutral
// driver contract by submitting jobs to a worker and polling for their
// completion, reconnecting through the worker manager when the expected
// socket is missing.
package dbproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/code-analysis/dbworker/internal/registry"
	"github.com/code-analysis/dbworker/internal/sqlitedb"
	"github.com/code-analysis/dbworker/internal/wire"
	"github.com/code-analysis/dbworker/internal/wlog"
	"github.com/code-analysis/dbworker/internal/workermanager"
)

// ClientVersion is echoed to the worker with every submit so a
// mismatched client/worker pair can be diagnosed.
const ClientVersion = "1.0.0"

// Config configures a Driver instance.
type Config struct {
	Manager      *workermanager.Manager
	Registry     *registry.Registry
	PollInterval time.Duration // default 10ms between poll attempts
	CallTimeout  time.Duration // default 30s total poll budget
	Log          *wlog.Logger
}

func (c Config) withDefaults() Config {
	if c.PollInterval == 0 {
		c.PollInterval = 10 * time.Millisecond
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.Log == nil {
		c.Log = wlog.Default()
	}
	return c
}

// Driver is safe to share between goroutines: its only mutable per-instance
// state is the current tx_id and the last observed lastrowid, both guarded
// by mu.
type Driver struct {
	cfg Config

	mu         sync.Mutex
	dbPath     string
	socketPath string
	txID       string
	lastRowID  int64
}

func New(cfg Config) *Driver {
	return &Driver{cfg: cfg.withDefaults()}
}

// Connect resolves db_path, locates or starts its worker through the
// manager, and caches the socket path.
func (d *Driver) Connect(ctx context.Context, dbPath string) error {
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return &Error{Op: "connect", DBPath: dbPath, Cause: err}
	}

	h, err := d.cfg.Manager.GetOrStart(ctx, abs)
	if err != nil {
		return &Error{Op: "connect", DBPath: abs, Cause: err}
	}

	d.mu.Lock()
	d.dbPath = abs
	d.socketPath = h.SocketPath
	d.mu.Unlock()
	return nil
}

// Attach binds the driver directly to an already-known socket, bypassing
// the manager. Used by callers (and tests) that have already resolved a
// worker through some other means and don't want Connect's spawn-or-adopt
// side effects.
func (d *Driver) Attach(dbPath, socketPath string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dbPath = dbPath
	d.socketPath = socketPath
}

// Disconnect is intentionally a no-op beyond dropping local state: the
// worker process and socket outlive any one driver instance, by design
// (connection-per-call sockets).
func (d *Driver) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.socketPath = ""
	d.txID = ""
	return nil
}

func (d *Driver) socket() (string, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.socketPath, d.dbPath
}

func (d *Driver) currentTxID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.txID
}

// roundTrip opens one connection, writes req, reads one response, and
// closes — the connection-per-call shape this protocol requires. On a
// missing socket it triggers exactly one reconnect through the manager
// before giving up, the last of a three-level wait-for-socket safety
// net.
func (d *Driver) roundTrip(ctx context.Context, req any) (wire.Response, error) {
	socketPath, dbPath := d.socket()
	resp, err := d.dial(socketPath, req)
	if err == nil {
		return resp, nil
	}

	h, rerr := d.cfg.Manager.GetOrStart(ctx, dbPath)
	if rerr != nil {
		return wire.Response{}, fmt.Errorf("reconnect failed after %w: %v", err, rerr)
	}
	d.mu.Lock()
	d.socketPath = h.SocketPath
	d.mu.Unlock()

	return d.dial(h.SocketPath, req)
}

func (d *Driver) dial(socketPath string, req any) (wire.Response, error) {
	if socketPath == "" {
		return wire.Response{}, fmt.Errorf("dbproxy: not connected")
	}
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return wire.Response{}, err
	}
	defer conn.Close()

	if err := wire.WriteFrame(conn, req); err != nil {
		return wire.Response{}, err
	}
	var resp wire.Response
	if err := wire.ReadFrame(conn, &resp); err != nil {
		return wire.Response{}, err
	}
	return resp, nil
}

// submitAndPoll runs one full submit -> poll* -> delete cycle for a single
// operation and returns its result payload.
func (d *Driver) submitAndPoll(ctx context.Context, op string, req wire.SubmitRequest) (json.RawMessage, error) {
	_, dbPath := d.socket()
	req.Command = "submit"
	req.Operation = op
	req.JobID = fmt.Sprintf("%s_%s", op, uuid.New().String()[:8])
	req.ClientVersion = ClientVersion

	submitResp, err := d.roundTrip(ctx, req)
	if err != nil {
		return nil, &Error{Op: op, DBPath: dbPath, SQL: truncateSQL(req.SQL), Params: req.Params, Cause: err}
	}
	if !submitResp.Success {
		return nil, &Error{Op: op, DBPath: dbPath, SQL: truncateSQL(req.SQL), Params: req.Params, Cause: responseErr(submitResp)}
	}

	result, opErr, timedOut := d.poll(ctx, req.JobID)
	d.deleteBestEffort(req.JobID)

	if timedOut {
		return nil, &Error{Op: op, DBPath: dbPath, SQL: truncateSQL(req.SQL), Params: req.Params, Timeout: true}
	}
	if opErr != nil {
		return nil, &Error{Op: op, DBPath: dbPath, SQL: truncateSQL(req.SQL), Params: req.Params, Cause: opErr}
	}
	return result, nil
}

func (d *Driver) poll(ctx context.Context, jobID string) (result json.RawMessage, opErr error, timedOut bool) {
	deadline := time.Now().Add(d.cfg.CallTimeout)
	for {
		resp, err := d.roundTrip(ctx, wire.PollRequest{Command: "poll", JobID: jobID})
		if err != nil {
			return nil, err, false
		}
		if resp.Status == "pending" {
			if time.Now().After(deadline) {
				return nil, nil, true
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err(), false
			case <-time.After(d.cfg.PollInterval):
			}
			continue
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("%s: %s", resp.Error.Type, resp.Error.Message), false
		}
		return resp.Result, nil, false
	}
}

func (d *Driver) deleteBestEffort(jobID string) {
	_, _ = d.roundTrip(context.Background(), wire.DeleteRequest{Command: "delete", JobID: jobID})
}

func responseErr(resp wire.Response) error {
	if resp.Error != nil {
		return fmt.Errorf("%s: %s", resp.Error.Type, resp.Error.Message)
	}
	return fmt.Errorf("request rejected")
}

// Execute runs a non-transactional or transactional (if a transaction is
// active) mutating statement and records the last inserted row id, which
// LastRowID then returns.
func (d *Driver) Execute(ctx context.Context, sql string, params []any) error {
	result, err := d.submitAndPoll(ctx, "execute", wire.SubmitRequest{
		SQL: sql, Params: params, TransactionID: d.currentTxID(),
	})
	if err != nil {
		return err
	}
	var out struct {
		LastRowID int64 `json:"lastrowid"`
	}
	if err := json.Unmarshal(result, &out); err == nil {
		d.mu.Lock()
		d.lastRowID = out.LastRowID
		d.mu.Unlock()
	}
	return nil
}

// FetchOne returns the first matching row, or nil if none.
func (d *Driver) FetchOne(ctx context.Context, sql string, params []any) (map[string]any, error) {
	result, err := d.submitAndPoll(ctx, "fetchone", wire.SubmitRequest{
		SQL: sql, Params: params, TransactionID: d.currentTxID(),
	})
	if err != nil {
		return nil, err
	}
	if string(result) == "null" || len(result) == 0 {
		return nil, nil
	}
	var row map[string]any
	if err := json.Unmarshal(result, &row); err != nil {
		return nil, &Error{Op: "fetchone", SQL: truncateSQL(sql), Params: params, Cause: err}
	}
	return row, nil
}

// FetchAll returns every matching row.
func (d *Driver) FetchAll(ctx context.Context, sql string, params []any) ([]map[string]any, error) {
	result, err := d.submitAndPoll(ctx, "fetchall", wire.SubmitRequest{
		SQL: sql, Params: params, TransactionID: d.currentTxID(),
	})
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	if err := json.Unmarshal(result, &rows); err != nil {
		return nil, &Error{Op: "fetchall", SQL: truncateSQL(sql), Params: params, Cause: err}
	}
	return rows, nil
}

// BeginTransaction opens a new transaction and stores its id on the driver
// until Commit/Rollback terminates it. The stored tx_id is implicitly
// applied by this Driver's own Execute/FetchOne/FetchAll methods, which
// always read the current tx_id from the driver: callers who want
// isolation from the active transaction must use a second Driver
// instance.
func (d *Driver) BeginTransaction(ctx context.Context) (string, error) {
	txID := "tx_" + uuid.New().String()[:12]
	_, err := d.submitAndPoll(ctx, "begin_transaction", wire.SubmitRequest{TransactionID: txID})
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	d.txID = txID
	d.mu.Unlock()
	return txID, nil
}

// Commit is a no-op if no transaction is active.
func (d *Driver) Commit(ctx context.Context) error {
	txID := d.currentTxID()
	if txID == "" {
		d.cfg.Log.Debug("dbproxy.commit_noop", wlog.Fields{"reason": "no active transaction"})
		return nil
	}
	_, err := d.submitAndPoll(ctx, "commit_transaction", wire.SubmitRequest{TransactionID: txID})
	d.mu.Lock()
	d.txID = ""
	d.mu.Unlock()
	return err
}

// Rollback is a no-op if no transaction is active.
func (d *Driver) Rollback(ctx context.Context) error {
	txID := d.currentTxID()
	if txID == "" {
		d.cfg.Log.Debug("dbproxy.rollback_noop", wlog.Fields{"reason": "no active transaction"})
		return nil
	}
	_, err := d.submitAndPoll(ctx, "rollback_transaction", wire.SubmitRequest{TransactionID: txID})
	d.mu.Lock()
	d.txID = ""
	d.mu.Unlock()
	return err
}

// LastRowID returns the row id observed at the most recent Execute.
func (d *Driver) LastRowID() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastRowID
}

// CreateSchema sends each DDL statement as an independent, auto-committing
// job.
func (d *Driver) CreateSchema(ctx context.Context, statements []string) error {
	for _, stmt := range statements {
		if err := d.Execute(ctx, stmt, nil); err != nil {
			return err
		}
	}
	return nil
}

// GetTableInfo returns column descriptors for table.
func (d *Driver) GetTableInfo(ctx context.Context, table string) ([]sqlitedb.ColumnInfo, error) {
	result, err := d.submitAndPoll(ctx, "get_table_info", wire.SubmitRequest{TableName: table})
	if err != nil {
		return nil, err
	}
	var cols []sqlitedb.ColumnInfo
	if err := json.Unmarshal(result, &cols); err != nil {
		return nil, &Error{Op: "get_table_info", Cause: err}
	}
	return cols, nil
}

// SyncSchemaResult is the outcome of a sync_schema call.
type SyncSchemaResult struct {
	Success        bool   `json:"success"`
	BackupUUID     string `json:"backup_uuid,omitempty"`
	ChangesApplied int    `json:"changes_applied"`
	Error          string `json:"error,omitempty"`
}

// SyncSchema delegates the composite backup-then-apply command to the
// worker; its internals are deliberately minimal.
func (d *Driver) SyncSchema(ctx context.Context, schemaDefinition []string, backupDir string) (SyncSchemaResult, error) {
	result, err := d.submitAndPoll(ctx, "sync_schema", wire.SubmitRequest{
		SchemaDefinition: schemaDefinition, BackupDir: backupDir,
	})
	if err != nil {
		return SyncSchemaResult{}, err
	}
	var out SyncSchemaResult
	if err := json.Unmarshal(result, &out); err != nil {
		return SyncSchemaResult{}, &Error{Op: "sync_schema", Cause: err}
	}
	return out, nil
}
