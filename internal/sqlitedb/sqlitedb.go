// Package sqlitedb builds modernc.org/sqlite connection strings and opens
// connections with the pragmas every connection in this subsystem must
// carry: foreign keys on, WAL journaling, normal synchronous, and a busy
// timeout long enough to ride out the worker's own serialization.
package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver name modernc.org/sqlite registers
// itself under.
const DriverName = "sqlite"

// DefaultBusyTimeout is applied when no override is configured; every
// connection must wait at least 5s on a busy database before giving up.
const DefaultBusyTimeout = 5 * time.Second

// BusyTimeoutEnv lets operators override the busy_timeout pragma.
const BusyTimeoutEnv = "DBWORKER_BUSY_TIMEOUT"

// ConnString builds a modernc.org/sqlite DSN for path carrying the
// standard pragmas via that driver's `_pragma=`/`_time_format=` query
// parameter dialect.
func ConnString(path string) string {
	busyMs := int64(DefaultBusyTimeout / time.Millisecond)
	if v := strings.TrimSpace(os.Getenv(BusyTimeoutEnv)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= DefaultBusyTimeout {
			busyMs = int64(d / time.Millisecond)
		}
	}

	return fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_time_format=sqlite",
		path, busyMs,
	)
}

// Open opens a *sql.DB for path with the standard pragmas applied via the
// DSN. Most callers in this subsystem want a single *sql.Conn (see
// OpenConn) rather than a pool, since non-transactional jobs open and
// close one connection per job and transactional jobs pin exactly one
// connection for the transaction's lifetime.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, ConnString(path))
	if err != nil {
		return nil, fmt.Errorf("sqlitedb: open %s: %w", path, err)
	}
	return db, nil
}

// OpenConn opens a *sql.DB and immediately checks out a single dedicated
// *sql.Conn from it, for callers (transactions, fresh-per-job execution)
// that need one specific connection rather than a pool.
func OpenConn(ctx context.Context, path string) (*sql.DB, *sql.Conn, error) {
	db, err := Open(path)
	if err != nil {
		return nil, nil, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("sqlitedb: acquire connection %s: %w", path, err)
	}
	return db, conn, nil
}

// ColumnInfo is one row of SQLite's table_info pragma, the shape
// get_table_info returns to callers.
type ColumnInfo struct {
	CID          int    `json:"cid"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	NotNull      bool   `json:"notnull"`
	DefaultValue any    `json:"dflt_value"`
	PrimaryKey   int    `json:"pk"`
}

// TableInfo runs `PRAGMA table_info(<table>)` against conn. The table name
// can't be bound as a query parameter in SQLite's pragma syntax, so it is
// validated against a conservative identifier pattern before being
// interpolated.
func TableInfo(ctx context.Context, conn *sql.Conn, table string) ([]ColumnInfo, error) {
	if !isSimpleIdentifier(table) {
		return nil, fmt.Errorf("sqlitedb: invalid table name %q", table)
	}

	rows, err := conn.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("sqlitedb: table_info %s: %w", table, err)
	}
	defer rows.Close()

	var out []ColumnInfo
	for rows.Next() {
		var (
			c       ColumnInfo
			notNull int
			dflt    sql.NullString
		)
		if err := rows.Scan(&c.CID, &c.Name, &c.Type, &notNull, &dflt, &c.PrimaryKey); err != nil {
			return nil, fmt.Errorf("sqlitedb: scan table_info row: %w", err)
		}
		c.NotNull = notNull != 0
		if dflt.Valid {
			c.DefaultValue = dflt.String
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func isSimpleIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// ParamsToArgs converts the JSON-decoded, loosely typed params slice the
// wire protocol carries into []any suitable for database/sql, which is a
// no-op today but centralizes the conversion site in case binary/base64
// encoded values need special handling later.
func ParamsToArgs(params []any) []any {
	return params
}
