package dbproxy

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/code-analysis/dbworker/internal/dbserver"
)

func startServerAndDriver(t *testing.T) *Driver {
	t.Helper()
	dir := t.TempDir()
	cfg := dbserver.Config{
		DBPath:     filepath.Join(dir, "t.db"),
		SocketPath: filepath.Join(dir, "t.sock"),
		AcceptIdle: 50 * time.Millisecond,
	}
	srv := dbserver.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c, err := net.Dial("unix", cfg.SocketPath); err == nil {
			c.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	d := New(Config{PollInterval: 2 * time.Millisecond, CallTimeout: 2 * time.Second})
	d.Attach(cfg.DBPath, cfg.SocketPath)
	return d
}

func TestExecuteFetchRoundTrip(t *testing.T) {
	d := startServerAndDriver(t)
	ctx := context.Background()

	if err := d.Execute(ctx, "CREATE TABLE t(id INTEGER PRIMARY KEY, v TEXT)", nil); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := d.Execute(ctx, "INSERT INTO t(v) VALUES(?)", []any{"a"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if d.LastRowID() != 1 {
		t.Fatalf("LastRowID() = %d, want 1", d.LastRowID())
	}

	row, err := d.FetchOne(ctx, "SELECT v FROM t WHERE id=?", []any{1})
	if err != nil {
		t.Fatalf("fetchone: %v", err)
	}
	if row["v"] != "a" {
		t.Fatalf("got %+v, want v=a", row)
	}

	if err := d.Execute(ctx, "DELETE FROM t WHERE id=?", []any{1}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	rows, err := d.FetchAll(ctx, "SELECT v FROM t", nil)
	if err != nil {
		t.Fatalf("fetchall: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows after delete, got %+v", rows)
	}
}

func TestTransactionCommitAndRollback(t *testing.T) {
	d := startServerAndDriver(t)
	ctx := context.Background()
	if err := d.Execute(ctx, "CREATE TABLE t(id INTEGER PRIMARY KEY, v TEXT)", nil); err != nil {
		t.Fatalf("create table: %v", err)
	}

	txID, err := d.BeginTransaction(ctx)
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if txID == "" {
		t.Fatal("expected a non-empty tx id")
	}

	if err := d.Execute(ctx, "INSERT INTO t(v) VALUES(?)", []any{"x"}); err != nil {
		t.Fatalf("insert under tx: %v", err)
	}
	if err := d.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	rows, err := d.FetchAll(ctx, "SELECT v FROM t", nil)
	if err != nil {
		t.Fatalf("fetchall: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row after commit, got %+v", rows)
	}

	if _, err := d.BeginTransaction(ctx); err != nil {
		t.Fatalf("second BeginTransaction: %v", err)
	}
	if err := d.Execute(ctx, "INSERT INTO t(v) VALUES(?)", []any{"y"}); err != nil {
		t.Fatalf("insert under second tx: %v", err)
	}
	if err := d.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	rows, err = d.FetchAll(ctx, "SELECT v FROM t", nil)
	if err != nil {
		t.Fatalf("fetchall after rollback: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected still 1 row after rollback, got %+v", rows)
	}
}

func TestCommitWithNoActiveTransactionIsANoop(t *testing.T) {
	d := startServerAndDriver(t)
	if err := d.Commit(context.Background()); err != nil {
		t.Fatalf("Commit with no tx should be a no-op, got %v", err)
	}
	if err := d.Rollback(context.Background()); err != nil {
		t.Fatalf("Rollback with no tx should be a no-op, got %v", err)
	}
}

func TestCreateSchemaRunsEachStatementIndependently(t *testing.T) {
	d := startServerAndDriver(t)
	ctx := context.Background()
	err := d.CreateSchema(ctx, []string{
		"CREATE TABLE a(id INTEGER PRIMARY KEY)",
		"CREATE TABLE b(id INTEGER PRIMARY KEY)",
	})
	if err != nil {
		t.Fatalf("CreateSchema: %v", err)
	}

	cols, err := d.GetTableInfo(ctx, "b")
	if err != nil {
		t.Fatalf("GetTableInfo: %v", err)
	}
	if len(cols) != 1 || cols[0].Name != "id" {
		t.Fatalf("unexpected columns: %+v", cols)
	}
}
