package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/salesqa/salesqa/internal/schema"
)

// PoolOptions sizes a PostgreSQL pool.
type PoolOptions struct {
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Postgres is a handle backed by a pgx connection pool.
type Postgres struct {
	pool     *pgxpool.Pool
	readOnly bool
}

// PGWriter is a read-write PostgreSQL handle.
type PGWriter struct {
	*Postgres
}

// OpenPostgresReadOnly connects with default_transaction_read_only set on
// every session, so a stray write fails at the server.
func OpenPostgresReadOnly(ctx context.Context, url string, opts PoolOptions) (*Postgres, error) {
	return openPostgres(ctx, url, opts, true)
}

// OpenPostgres connects a read-write pool.
func OpenPostgres(ctx context.Context, url string, opts PoolOptions) (*PGWriter, error) {
	p, err := openPostgres(ctx, url, opts, false)
	if err != nil {
		return nil, err
	}
	return &PGWriter{p}, nil
}

func openPostgres(ctx context.Context, url string, opts PoolOptions, readOnly bool) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = int32(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		cfg.MinConns = int32(opts.MinConns)
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	}
	if readOnly {
		cfg.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Postgres{pool: pool, readOnly: readOnly}, nil
}

func (p *Postgres) Dialect() Dialect { return DialectPostgres }

func (p *Postgres) Open(ctx context.Context) (Conn, error) {
	c, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &pgConn{conn: c}, nil
}

func (p *Postgres) Tables(ctx context.Context) ([]string, error) {
	res, err := Query(ctx, p, `SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
		ORDER BY table_name`)
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

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (w *PGWriter) OpenWrite(ctx context.Context) (WriteConn, error) {
	c, err := w.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &pgConn{conn: c}, nil
}

func (w *PGWriter) DropTable(ctx context.Context, table string) error {
	if _, err := w.pool.Exec(ctx, "DROP TABLE IF EXISTS "+Quote(table)); err != nil {
		return fmt.Errorf("drop %s: %w", table, err)
	}
	return nil
}

// LoadCSV creates a registered table and streams the CSV into it with COPY.
// The create and copy run in one transaction so a bad file leaves no table.
func (w *PGWriter) LoadCSV(ctx context.Context, table, path string) error {
	tbl, ok := schema.Lookup(table)
	if !ok {
		return fmt.Errorf("load %s: postgres requires a registered table schema", table)
	}

	rows, err := openCSV(path, tbl)
	if err != nil {
		return err
	}
	defer rows.Close()

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, tbl.CreateSQL()); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}

	next := func() ([]any, error) {
		cells, err := rows.next()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		values := make([]any, len(cells))
		for i, cell := range cells {
			values[i] = pgValue(tbl.Fields[i].Type, cell)
		}
		return values, nil
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{table}, tbl.Columns(), pgx.CopyFromFunc(next)); err != nil {
		return fmt.Errorf("copy %s: %w", table, err)
	}
	return tx.Commit(ctx)
}

// pgConn adapts a pooled connection to Conn and WriteConn.
type pgConn struct {
	conn *pgxpool.Conn
}

func (c *pgConn) Query(ctx context.Context, query string, args ...any) (*Result, error) {
	rows, err := c.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	res := &Result{Columns: make([]string, len(fields))}
	for i, f := range fields {
		res.Columns[i] = f.Name
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		for i := range values {
			values[i] = normalize(values[i])
		}
		res.Rows = append(res.Rows, values)
	}
	return res, rows.Err()
}

func (c *pgConn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := c.conn.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c *pgConn) Close() error {
	c.conn.Release()
	return nil
}
