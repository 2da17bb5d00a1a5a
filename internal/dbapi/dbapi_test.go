package dbapi

import (
	"context"
	"testing"
)

type fakeDriver struct {
	execCalls     []string
	fetchAllCalls []string
	lastRowID     int64
	rows          []map[string]any
	committed     bool
	rolledBack    bool
}

func (f *fakeDriver) Execute(ctx context.Context, sql string, params []any) error {
	f.execCalls = append(f.execCalls, sql)
	f.lastRowID++
	return nil
}

func (f *fakeDriver) FetchOne(ctx context.Context, sql string, params []any) (map[string]any, error) {
	if len(f.rows) == 0 {
		return nil, nil
	}
	return f.rows[0], nil
}

func (f *fakeDriver) FetchAll(ctx context.Context, sql string, params []any) ([]map[string]any, error) {
	f.fetchAllCalls = append(f.fetchAllCalls, sql)
	return f.rows, nil
}

func (f *fakeDriver) Commit(ctx context.Context) error   { f.committed = true; return nil }
func (f *fakeDriver) Rollback(ctx context.Context) error { f.rolledBack = true; return nil }
func (f *fakeDriver) LastRowID() int64                   { return f.lastRowID }

func TestIsSelectLikeRouting(t *testing.T) {
	cases := map[string]bool{
		"SELECT * FROM t":      true,
		"  select 1":           true,
		"PRAGMA table_info(t)": true,
		"WITH x AS (SELECT 1) SELECT * FROM x": true,
		"INSERT INTO t VALUES (1)":             false,
		"UPDATE t SET v=1":                     false,
		"DELETE FROM t":                        false,
	}
	for sql, want := range cases {
		if got := isSelectLike(sql); got != want {
			t.Errorf("isSelectLike(%q) = %v, want %v", sql, got, want)
		}
	}
}

func TestCursorExecuteRoutesSelectToFetchAll(t *testing.T) {
	driver := &fakeDriver{rows: []map[string]any{{"id": 1}, {"id": 2}}}
	conn := NewConnection(driver)
	cur := conn.Cursor()

	if err := cur.Execute(context.Background(), "SELECT id FROM t", nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(driver.fetchAllCalls) != 1 {
		t.Fatalf("expected fetchall to be called once, got %d", len(driver.fetchAllCalls))
	}

	first := cur.FetchOne()
	if first["id"] != 1 {
		t.Fatalf("got %+v, want id=1", first)
	}
	rest := cur.FetchAll()
	if len(rest) != 1 || rest[0]["id"] != 2 {
		t.Fatalf("got %+v, want one row with id=2", rest)
	}
	if cur.FetchOne() != nil {
		t.Fatal("expected cursor to be exhausted")
	}
}

func TestCursorExecuteRoutesMutationToExecute(t *testing.T) {
	driver := &fakeDriver{}
	cur := NewConnection(driver).Cursor()

	if err := cur.Execute(context.Background(), "INSERT INTO t VALUES (1)", nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(driver.execCalls) != 1 {
		t.Fatalf("expected execute to be called once, got %d", len(driver.execCalls))
	}
	if cur.LastRowID() != 1 {
		t.Fatalf("LastRowID() = %d, want 1", cur.LastRowID())
	}
}

func TestConnectionCommitRollbackDelegate(t *testing.T) {
	driver := &fakeDriver{}
	conn := NewConnection(driver)

	if err := conn.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !driver.committed {
		t.Fatal("expected Commit to delegate to driver")
	}

	if err := conn.Rollback(context.Background()); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if !driver.rolledBack {
		t.Fatal("expected Rollback to delegate to driver")
	}
}

func TestCursorCloseDropsCachedRows(t *testing.T) {
	driver := &fakeDriver{rows: []map[string]any{{"id": 1}}}
	cur := NewConnection(driver).Cursor()
	_ = cur.Execute(context.Background(), "SELECT 1", nil)
	cur.Close()
	if cur.FetchOne() != nil {
		t.Fatal("expected no rows after Close")
	}
}
