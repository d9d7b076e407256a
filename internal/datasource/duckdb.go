package datasource

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	duckdb "github.com/marcboeker/go-duckdb/v2"

	"github.com/salesqa/salesqa/internal/schema"
)

// appendBatch is the number of rows appended between flushes.
const appendBatch = 2000

// DuckDB is a handle on a DuckDB database file.
type DuckDB struct {
	path     string
	readOnly bool
	db       *sql.DB
}

// DuckWriter is a read-write DuckDB handle.
type DuckWriter struct {
	*DuckDB
}

// OpenDuckDBReadOnly opens path in READ_ONLY access mode. Any number of
// read-only handles may share a file, but none may coexist with a writer.
func OpenDuckDBReadOnly(ctx context.Context, path string) (*DuckDB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("duckdb %s: %w", path, err)
	}
	return openDuck(ctx, path, true)
}

// OpenDuckDB opens path in READ_WRITE access mode, creating the file and its
// parent directory if needed.
func OpenDuckDB(ctx context.Context, path string) (*DuckWriter, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	d, err := openDuck(ctx, path, false)
	if err != nil {
		return nil, err
	}
	return &DuckWriter{d}, nil
}

func openDuck(ctx context.Context, path string, readOnly bool) (*DuckDB, error) {
	mode := "READ_WRITE"
	if readOnly {
		mode = "READ_ONLY"
	}
	connector, err := duckdb.NewConnector(path+"?access_mode="+mode, nil)
	if err != nil {
		return nil, fmt.Errorf("duckdb connector %s: %w", path, err)
	}

	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open duckdb %s: %w", path, err)
	}
	return &DuckDB{path: path, readOnly: readOnly, db: db}, nil
}

func (d *DuckDB) Dialect() Dialect { return DialectDuckDB }

// Path returns the database file path.
func (d *DuckDB) Path() string { return d.path }

func (d *DuckDB) Open(ctx context.Context) (Conn, error) {
	c, err := d.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &sqlConn{conn: c}, nil
}

func (d *DuckDB) Tables(ctx context.Context) ([]string, error) {
	res, err := Query(ctx, d, "SHOW TABLES")
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	tables := make([]string, 0, res.Len())
	for _, row := range res.Rows {
		if name, ok := String(row[0]); ok {
			tables = append(tables, name)
		}
	}
	return tables, nil
}

func (d *DuckDB) Close() error {
	return d.db.Close()
}

func (w *DuckWriter) OpenWrite(ctx context.Context) (WriteConn, error) {
	c, err := w.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &sqlConn{conn: c}, nil
}

func (w *DuckWriter) DropTable(ctx context.Context, table string) error {
	if _, err := w.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+Quote(table)); err != nil {
		return fmt.Errorf("drop %s: %w", table, err)
	}
	return nil
}

// LoadCSV creates table from the CSV at path. Registered tables are created
// from their schema and filled through the appender; anything else is
// loaded with DuckDB's own type inference.
func (w *DuckWriter) LoadCSV(ctx context.Context, table, path string) error {
	tbl, ok := schema.Lookup(table)
	if !ok {
		stmt := fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM read_csv_auto(%s)", Quote(table), QuoteLiteral(path))
		if _, err := w.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("load %s: %w", table, err)
		}
		return nil
	}

	rows, err := openCSV(path, tbl)
	if err != nil {
		return err
	}
	defer rows.Close()

	if _, err := w.db.ExecContext(ctx, tbl.CreateSQLWith(schema.DuckDBType)); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}

	conn, err := w.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	return conn.Raw(func(raw any) error {
		dc, ok := raw.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", raw)
		}
		appender, err := duckdb.NewAppenderFromConn(dc, "", table)
		if err != nil {
			return fmt.Errorf("appender for %s: %w", table, err)
		}

		pending := 0
		for {
			if err := ctx.Err(); err != nil {
				appender.Close()
				return err
			}
			cells, err := rows.next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				appender.Close()
				return err
			}

			values := make([]driver.Value, len(cells))
			for i, cell := range cells {
				values[i] = driverValue(tbl.Fields[i].Type, cell)
			}
			if err := appender.AppendRow(values...); err != nil {
				appender.Close()
				return fmt.Errorf("append %s line %d: %w", table, rows.line, err)
			}

			pending++
			if pending == appendBatch {
				if err := appender.Flush(); err != nil {
					appender.Close()
					return fmt.Errorf("flush %s: %w", table, err)
				}
				pending = 0
			}
		}
		return appender.Close()
	})
}

// sqlConn adapts a database/sql connection to Conn and WriteConn.
type sqlConn struct {
	conn *sql.Conn
}

func (c *sqlConn) Query(ctx context.Context, query string, args ...any) (*Result, error) {
	rows, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	res := &Result{Columns: cols}
	for rows.Next() {
		row := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range row {
			ptrs[i] = &row[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i := range row {
			row[i] = normalize(row[i])
		}
		res.Rows = append(res.Rows, row)
	}
	return res, rows.Err()
}

func (c *sqlConn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	r, err := c.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return r.RowsAffected()
}

func (c *sqlConn) Close() error {
	return c.conn.Close()
}
