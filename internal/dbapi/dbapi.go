// Package dbapi is a thin DB-API-style compatibility shim: a
// cursor/connection facade over the proxy driver for call sites written
// against a classic `connection.cursor().execute(...)` shape rather than
// the neutral driver contract directly.
package dbapi

import (
	"context"
	"strings"
)

// Driver is the subset of the proxy driver contract this shim needs. It is
// declared here rather than imported concretely so dbapi has no hard
// dependency on dbproxy's transport details — any driver implementation
// (the real proxy, or a test double) can back a Connection.
type Driver interface {
	Execute(ctx context.Context, sql string, params []any) error
	FetchOne(ctx context.Context, sql string, params []any) (map[string]any, error)
	FetchAll(ctx context.Context, sql string, params []any) ([]map[string]any, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	LastRowID() int64
}

// isSelectLike reports whether sql should be routed to fetchall instead of
// execute: a leading select, pragma, or with routes to fetchall; everything
// else is treated as a mutation.
func isSelectLike(sql string) bool {
	s := strings.ToLower(strings.TrimSpace(sql))
	return strings.HasPrefix(s, "select") || strings.HasPrefix(s, "pragma") || strings.HasPrefix(s, "with")
}

// Connection is the DB-API-style connection object. Commit and Rollback
// delegate to the driver; Close is a no-op, since the driver itself owns
// connection lifecycle.
type Connection struct {
	driver Driver
}

func NewConnection(driver Driver) *Connection {
	return &Connection{driver: driver}
}

func (c *Connection) Cursor() *Cursor {
	return &Cursor{driver: c.driver}
}

// Commit delegates to the underlying driver.
func (c *Connection) Commit(ctx context.Context) error { return c.driver.Commit(ctx) }

// Rollback delegates to the underlying driver.
func (c *Connection) Rollback(ctx context.Context) error { return c.driver.Rollback(ctx) }

// Close is a no-op: the driver, not this shim, owns connection lifecycle.
func (c *Connection) Close() error { return nil }

// Cursor adds no concurrency of its own; it caches the rows of the most
// recent select-like Execute (fetched via fetchall) for incremental
// consumption.
type Cursor struct {
	driver    Driver
	rows      []map[string]any
	rowIndex  int
	lastRowID int64
}

// Execute routes sql to fetchall (select-like) or execute (everything
// else), caching rows for subsequent FetchOne/FetchAll calls.
func (c *Cursor) Execute(ctx context.Context, sql string, params []any) error {
	c.rows = nil
	c.rowIndex = 0

	if isSelectLike(sql) {
		rows, err := c.driver.FetchAll(ctx, sql, params)
		if err != nil {
			return err
		}
		c.rows = rows
		return nil
	}

	if err := c.driver.Execute(ctx, sql, params); err != nil {
		return err
	}
	c.lastRowID = c.driver.LastRowID()
	return nil
}

// FetchOne returns the next cached row, or nil if exhausted.
func (c *Cursor) FetchOne() map[string]any {
	if c.rowIndex >= len(c.rows) {
		return nil
	}
	row := c.rows[c.rowIndex]
	c.rowIndex++
	return row
}

// FetchAll returns every remaining cached row and exhausts the cursor.
func (c *Cursor) FetchAll() []map[string]any {
	remaining := c.rows[c.rowIndex:]
	c.rowIndex = len(c.rows)
	return remaining
}

// LastRowID returns the row id observed by the most recent Execute.
func (c *Cursor) LastRowID() int64 { return c.lastRowID }

// Close drops cached rows; the shim adds no concurrency or resources of
// its own to release.
func (c *Cursor) Close() {
	c.rows = nil
	c.rowIndex = 0
}
