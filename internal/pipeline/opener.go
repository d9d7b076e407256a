package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/salesqa/salesqa/internal/datasource"
	"github.com/salesqa/salesqa/internal/schema"
)

// Sources are the read-only handles for one validation phase.
type Sources struct {
	Sales    datasource.Source
	Payments datasource.Source

	closers []datasource.Source
}

// Close closes every distinct underlying handle.
func (s *Sources) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Opener hands out database handles for each pipeline phase.
type Opener interface {
	// ReadOnly opens read-only handles for both datasets.
	ReadOnly(ctx context.Context) (*Sources, error)
	// Writable opens a read-write handle for the database holding table.
	Writable(ctx context.Context, table string) (datasource.WritableSource, error)
}

// DuckDBOpener keeps sales and payments in DuckDB files. Both paths may
// name the same file.
type DuckDBOpener struct {
	SalesPath    string
	PaymentsPath string
}

func (o DuckDBOpener) shared() bool {
	return filepath.Clean(o.SalesPath) == filepath.Clean(o.PaymentsPath)
}

func (o DuckDBOpener) path(table string) (string, error) {
	switch table {
	case schema.SalesTable:
		return o.SalesPath, nil
	case schema.PaymentsTable:
		return o.PaymentsPath, nil
	}
	return "", fmt.Errorf("no database configured for table %q", table)
}

func (o DuckDBOpener) ReadOnly(ctx context.Context) (*Sources, error) {
	sales, err := datasource.OpenDuckDBReadOnly(ctx, o.SalesPath)
	if err != nil {
		return nil, fmt.Errorf("open sales: %w", err)
	}
	if o.shared() {
		return &Sources{Sales: sales, Payments: sales, closers: []datasource.Source{sales}}, nil
	}

	payments, err := datasource.OpenDuckDBReadOnly(ctx, o.PaymentsPath)
	if err != nil {
		sales.Close()
		return nil, fmt.Errorf("open payments: %w", err)
	}
	return &Sources{Sales: sales, Payments: payments, closers: []datasource.Source{sales, payments}}, nil
}

func (o DuckDBOpener) Writable(ctx context.Context, table string) (datasource.WritableSource, error) {
	path, err := o.path(table)
	if err != nil {
		return nil, err
	}
	w, err := datasource.OpenDuckDB(ctx, path)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// PostgresOpener keeps both tables in one PostgreSQL database.
type PostgresOpener struct {
	URL  string
	Pool datasource.PoolOptions
}

func (o PostgresOpener) ReadOnly(ctx context.Context) (*Sources, error) {
	pg, err := datasource.OpenPostgresReadOnly(ctx, o.URL, o.Pool)
	if err != nil {
		return nil, err
	}
	return &Sources{Sales: pg, Payments: pg, closers: []datasource.Source{pg}}, nil
}

func (o PostgresOpener) Writable(ctx context.Context, _ string) (datasource.WritableSource, error) {
	w, err := datasource.OpenPostgres(ctx, o.URL, o.Pool)
	if err != nil {
		return nil, err
	}
	return w, nil
}
