package dbserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/code-analysis/dbworker/internal/jobstore"
	"github.com/code-analysis/dbworker/internal/sqlitedb"
	"github.com/code-analysis/dbworker/internal/txregistry"
)

const sqlPreviewLen = 200

func truncateSQL(query string) string {
	if len(query) <= sqlPreviewLen {
		return query
	}
	return query[:sqlPreviewLen]
}

func opError(kind, format string, args ...any) *jobstore.OpError {
	return &jobstore.OpError{Type: kind, Message: fmt.Sprintf(format, args...)}
}

// dispatch runs one job's operation to completion. It always returns
// either a non-nil result or a non-nil *jobstore.OpError, never both and
// never neither, so an exception in one job never affects others: dispatch
// itself cannot panic the caller, since safeDispatch recovers around it.
func (s *Server) dispatch(ctx context.Context, j *jobstore.Job) (json.RawMessage, *jobstore.OpError) {
	switch j.Operation {
	case "begin_transaction":
		return s.opBeginTransaction(ctx, j)
	case "commit_transaction":
		return s.opEndTransaction(ctx, j, "COMMIT")
	case "rollback_transaction":
		return s.opEndTransaction(ctx, j, "ROLLBACK")
	case "execute":
		return s.opExecute(ctx, j)
	case "fetchone":
		return s.opFetch(ctx, j, true)
	case "fetchall":
		return s.opFetch(ctx, j, false)
	case "get_table_info":
		return s.opGetTableInfo(ctx, j)
	case "sync_schema":
		return s.opSyncSchema(ctx, j)
	default:
		return nil, opError("ProtocolError", "unknown operation %q", j.Operation)
	}
}

func (s *Server) opBeginTransaction(ctx context.Context, j *jobstore.Job) (json.RawMessage, *jobstore.OpError) {
	if j.TransactionID == "" {
		return nil, opError("ProtocolError", "begin_transaction requires transaction_id")
	}

	db, conn, err := sqlitedb.OpenConn(ctx, s.dbPath)
	if err != nil {
		return nil, opError("OperationFailure", "%v", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := conn.ExecContext(ctx, "BEGIN TRANSACTION"); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, opError("OperationFailure", "%v", err)
	}

	if err := s.txs.Begin(j.TransactionID, &txregistry.Handle{Conn: conn, DB: db}); err != nil {
		_, _ = conn.ExecContext(ctx, "ROLLBACK")
		_ = conn.Close()
		_ = db.Close()
		return nil, opError("TransactionMisuse", "transaction id %q already in use", j.TransactionID)
	}

	return json.RawMessage(`{"success":true}`), nil
}

func (s *Server) opEndTransaction(ctx context.Context, j *jobstore.Job, terminator string) (json.RawMessage, *jobstore.OpError) {
	if j.TransactionID == "" {
		return nil, opError("ProtocolError", "%s requires transaction_id", strings.ToLower(terminator))
	}

	h, err := s.txs.End(j.TransactionID)
	if err != nil {
		return nil, opError("TransactionMisuse", "unknown transaction id %q", j.TransactionID)
	}
	defer func() {
		_ = h.Conn.Close()
		_ = h.DB.Close()
	}()

	if _, err := h.Conn.ExecContext(ctx, terminator); err != nil {
		return nil, opError("OperationFailure", "%v", err)
	}
	return json.RawMessage(`{"success":true}`), nil
}

// acquireConn resolves the connection a job should run on: the
// registered connection for j.TransactionID if set, otherwise
// a fresh one. The returned closer is a no-op for transaction connections
// (they outlive the job) and closes the fresh connection/db otherwise.
func (s *Server) acquireConn(ctx context.Context, j *jobstore.Job) (*sql.Conn, func(), *jobstore.OpError) {
	if j.TransactionID != "" {
		h, err := s.txs.Get(j.TransactionID)
		if err != nil {
			return nil, nil, opError("TransactionMisuse", "unknown transaction id %q", j.TransactionID)
		}
		return h.Conn, func() {}, nil
	}

	db, conn, err := sqlitedb.OpenConn(ctx, s.dbPath)
	if err != nil {
		return nil, nil, opError("OperationFailure", "%v", err)
	}
	closer := func() {
		_ = conn.Close()
		_ = db.Close()
	}
	return conn, closer, nil
}

func (s *Server) opExecute(ctx context.Context, j *jobstore.Job) (json.RawMessage, *jobstore.OpError) {
	if j.SQL == "" {
		return nil, opError("ProtocolError", "execute requires sql")
	}
	conn, closeConn, opErr := s.acquireConn(ctx, j)
	if opErr != nil {
		return nil, opErr
	}
	defer closeConn()

	res, err := conn.ExecContext(ctx, j.SQL, sqlitedb.ParamsToArgs(j.Params)...)
	if err != nil {
		return nil, opError("OperationFailure", "%v (sql=%q)", err, truncateSQL(j.SQL))
	}
	lastID, _ := res.LastInsertId()
	rowCount, _ := res.RowsAffected()

	out, _ := json.Marshal(map[string]any{"lastrowid": lastID, "rowcount": rowCount})
	return out, nil
}

func (s *Server) opFetch(ctx context.Context, j *jobstore.Job, one bool) (json.RawMessage, *jobstore.OpError) {
	if j.SQL == "" {
		return nil, opError("ProtocolError", "%s requires sql", fetchName(one))
	}
	conn, closeConn, opErr := s.acquireConn(ctx, j)
	if opErr != nil {
		return nil, opErr
	}
	defer closeConn()

	rows, err := conn.QueryContext(ctx, j.SQL, sqlitedb.ParamsToArgs(j.Params)...)
	if err != nil {
		return nil, opError("OperationFailure", "%v (sql=%q)", err, truncateSQL(j.SQL))
	}
	defer rows.Close()

	results, err := scanRows(rows)
	if err != nil {
		return nil, opError("OperationFailure", "%v (sql=%q)", err, truncateSQL(j.SQL))
	}

	if one {
		if len(results) == 0 {
			return json.RawMessage("null"), nil
		}
		out, _ := json.Marshal(results[0])
		return out, nil
	}
	out, _ := json.Marshal(results)
	return out, nil
}

func fetchName(one bool) string {
	if one {
		return "fetchone"
	}
	return "fetchall"
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalizeValue(vals[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalizeValue converts driver-returned values ([]byte in particular)
// into JSON-friendly shapes. Row values that are genuinely binary (BLOB
// columns) round-trip as base64 via json.Marshal's native []byte handling.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return t
	default:
		return v
	}
}

func (s *Server) opGetTableInfo(ctx context.Context, j *jobstore.Job) (json.RawMessage, *jobstore.OpError) {
	if j.TableName == "" {
		return nil, opError("ProtocolError", "get_table_info requires table_name")
	}
	conn, closeConn, opErr := s.acquireConn(ctx, j)
	if opErr != nil {
		return nil, opErr
	}
	defer closeConn()

	cols, err := sqlitedb.TableInfo(ctx, conn, j.TableName)
	if err != nil {
		return nil, opError("OperationFailure", "%v", err)
	}
	out, _ := json.Marshal(cols)
	return out, nil
}

// opSyncSchema is a minimal, bounded collaborator command: snapshot the
// file into backup_dir when one is given (no copy is made otherwise), then
// apply each statement as an independent auto-committing execute.
func (s *Server) opSyncSchema(ctx context.Context, j *jobstore.Job) (json.RawMessage, *jobstore.OpError) {
	if len(j.SchemaDefinition) == 0 {
		return nil, opError("ProtocolError", "sync_schema requires schema_definition")
	}

	backupID := uuid.New().String()
	if j.BackupDir != "" {
		if err := backupDatabaseFile(s.dbPath, j.BackupDir, backupID); err != nil {
			return nil, opError("OperationFailure", "backup failed: %v", err)
		}
	}

	db, conn, err := sqlitedb.OpenConn(ctx, s.dbPath)
	if err != nil {
		return nil, opError("OperationFailure", "%v", err)
	}
	defer func() {
		_ = conn.Close()
		_ = db.Close()
	}()

	applied := 0
	for _, stmt := range j.SchemaDefinition {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			out, _ := json.Marshal(map[string]any{
				"success":         false,
				"backup_uuid":     backupID,
				"changes_applied": applied,
				"error":           err.Error(),
			})
			return out, nil
		}
		applied++
	}

	out, _ := json.Marshal(map[string]any{
		"success":         true,
		"backup_uuid":     backupID,
		"changes_applied": applied,
	})
	return out, nil
}

func backupDatabaseFile(dbPath, backupDir, backupID string) error {
	if err := os.MkdirAll(backupDir, 0o700); err != nil {
		return err
	}
	src, err := os.Open(dbPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst := filepath.Join(backupDir, fmt.Sprintf("%s.%s.bak", filepath.Base(dbPath), backupID))
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = out.ReadFrom(src)
	return err
}
