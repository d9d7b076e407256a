// Package datasource provides queryable handles over the sales and payments
// tables.
//
// Access is split by capability. A [Source] hands out read-only connections
// and is safe for many concurrent readers, one connection per task. A
// [WritableSource] additionally hands out write connections and supports the
// reset/reload path; it must only be used while no readers are active.
//
// Two backends are provided: DuckDB database files ([OpenDuckDB],
// [OpenDuckDBReadOnly]) and PostgreSQL ([OpenPostgres],
// [OpenPostgresReadOnly]).
package datasource

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrTableNotFound is returned when a required table does not exist.
	ErrTableNotFound = errors.New("table not found")

	// ErrReadOnly is returned when a mutation is requested through a
	// handle that only has the read capability.
	ErrReadOnly = errors.New("data source is read-only")
)

// Writable returns src as a WritableSource, or ErrReadOnly.
func Writable(src Source) (WritableSource, error) {
	ws, ok := src.(WritableSource)
	if !ok {
		return nil, ErrReadOnly
	}
	return ws, nil
}

// Dialect identifies the SQL flavour spoken by a backend.
type Dialect string

const (
	DialectDuckDB   Dialect = "duckdb"
	DialectPostgres Dialect = "postgres"
)

// Placeholder returns the bind parameter marker for the n-th argument (1-based).
func (d Dialect) Placeholder(n int) string {
	if d == DialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Placeholders returns count comma-separated markers starting at argument start.
func (d Dialect) Placeholders(start, count int) string {
	marks := make([]string, count)
	for i := range marks {
		marks[i] = d.Placeholder(start + i)
	}
	return strings.Join(marks, ", ")
}

// Record is one result row keyed by column name.
type Record map[string]any

// Result is a fully materialized tabular query result.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows.
func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Records converts the rows into column-keyed records.
func (r *Result) Records() []Record {
	records := make([]Record, 0, r.Len())
	if r == nil {
		return records
	}
	for _, row := range r.Rows {
		rec := make(Record, len(r.Columns))
		for i, col := range r.Columns {
			rec[col] = row[i]
		}
		records = append(records, rec)
	}
	return records
}

// Conn is a dedicated read connection owned by a single task.
type Conn interface {
	Query(ctx context.Context, query string, args ...any) (*Result, error)
	Close() error
}

// WriteConn is a dedicated connection that may also mutate data.
type WriteConn interface {
	Conn
	// Exec runs a statement and returns the number of rows affected.
	Exec(ctx context.Context, query string, args ...any) (int64, error)
}

// Source is a read-only handle. It is safe for concurrent use.
type Source interface {
	Dialect() Dialect
	// Open returns a new connection for the caller's exclusive use.
	Open(ctx context.Context) (Conn, error)
	// Tables lists the tables visible to the handle.
	Tables(ctx context.Context) ([]string, error)
	Close() error
}

// WritableSource is a read-write handle. Callers must not use it
// concurrently with any reader of the same data.
type WritableSource interface {
	Source
	OpenWrite(ctx context.Context) (WriteConn, error)
	DropTable(ctx context.Context, table string) error
	LoadCSV(ctx context.Context, table, path string) error
}

// Quote quotes a SQL identifier.
func Quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral quotes a SQL string literal.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Query opens a connection, runs one query and closes the connection.
func Query(ctx context.Context, src Source, query string, args ...any) (*Result, error) {
	conn, err := src.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open connection: %w", err)
	}
	defer conn.Close()

	return conn.Query(ctx, query, args...)
}

// HasTable reports whether the handle can see the named table.
func HasTable(ctx context.Context, src Source, table string) (bool, error) {
	tables, err := src.Tables(ctx)
	if err != nil {
		return false, err
	}
	for _, t := range tables {
		if strings.EqualFold(t, table) {
			return true, nil
		}
	}
	return false, nil
}

// Columns returns the column names of table using conn.
// Returns ErrTableNotFound wrapped with the query error if the table cannot be read.
func Columns(ctx context.Context, conn Conn, table string) ([]string, error) {
	res, err := conn.Query(ctx, "SELECT * FROM "+Quote(table)+" LIMIT 0")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTableNotFound, table, err)
	}
	return res.Columns, nil
}

// Preview returns the first n rows of table.
func Preview(ctx context.Context, src Source, table string, n int) (*Result, error) {
	if n <= 0 {
		n = 5
	}
	return Query(ctx, src, fmt.Sprintf("SELECT * FROM %s LIMIT %d", Quote(table), n))
}
