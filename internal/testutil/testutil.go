// Package testutil builds DuckDB fixtures for package tests.
package testutil

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/salesqa/salesqa/internal/datasource"
	"github.com/salesqa/salesqa/internal/schema"
)

// Row is a CSV row keyed by column name.
type Row map[string]string

// ValidSale returns a sales row that passes every default check.
// Fields in overrides replace the defaults.
func ValidSale(invoice string, overrides Row) Row {
	row := Row{
		"Invoice_ID":       invoice,
		"Branch":           "A",
		"City":             "Yangon",
		"Customer_type":    "Member",
		"Gender":           "Female",
		"Product_line":     "Health and beauty",
		"Unit_price":       "74.69",
		"Quantity":         "7",
		"Tax":              "26.1415",
		"Total":            "548.9715",
		"Date":             "1/5/2019",
		"Time":             "13:08",
		"Payment":          "Ewallet",
		"cogs":             "522.83",
		"gross_margin_pct": "4.761904762",
		"gross_income":     "26.1415",
		"Rating":           "9.1",
	}
	for k, v := range overrides {
		row[k] = v
	}
	return row
}

// Payment returns a payments row.
func Payment(id, invoice, total string) Row {
	return Row{
		"Payment_ID":   id,
		"Invoice_ID":   invoice,
		"Payment_date": "1/6/2019",
		"Method":       "Ewallet",
		"Total":        total,
	}
}

// WriteCSV writes rows to dir/name using tbl's column order and returns the path.
func WriteCSV(t testing.TB, dir, name string, tbl schema.Table, rows ...Row) string {
	t.Helper()

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := csv.NewWriter(f)
	cols := tbl.Columns()
	require.NoError(t, w.Write(cols))
	for _, row := range rows {
		record := make([]string, len(cols))
		for i, c := range cols {
			record[i] = row[c]
		}
		require.NoError(t, w.Write(record))
	}
	w.Flush()
	require.NoError(t, w.Error())
	return path
}

// LoadDuckDB creates a DuckDB file in a temp dir, loads the given tables and
// closes the writer. Tables with no rows argument are not created.
func LoadDuckDB(t testing.TB, tables map[string][]Row) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "test.duckdb")
	ctx := context.Background()

	w, err := datasource.OpenDuckDB(ctx, path)
	require.NoError(t, err)
	defer w.Close()

	for name, rows := range tables {
		tbl, ok := schema.Lookup(name)
		require.True(t, ok, "unknown table %s", name)
		csvPath := WriteCSV(t, dir, name+".csv", tbl, rows...)
		_, err := datasource.Reset(ctx, w, name, csvPath)
		require.NoError(t, err)
	}
	return path
}

// ExecDuckDB creates a DuckDB file in a temp dir, runs stmts on it and
// closes the writer.
func ExecDuckDB(t testing.TB, stmts ...string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "raw.duckdb")
	ctx := context.Background()

	w, err := datasource.OpenDuckDB(ctx, path)
	require.NoError(t, err)
	defer w.Close()

	conn, err := w.OpenWrite(ctx)
	require.NoError(t, err)
	defer conn.Close()

	for _, stmt := range stmts {
		_, err := conn.Exec(ctx, stmt)
		require.NoError(t, err, stmt)
	}
	return path
}

// OpenReader opens a read-only handle and closes it when the test ends.
func OpenReader(t testing.TB, path string) *datasource.DuckDB {
	t.Helper()

	r, err := datasource.OpenDuckDBReadOnly(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

// OpenWriter opens a read-write handle and closes it when the test ends.
func OpenWriter(t testing.TB, path string) *datasource.DuckWriter {
	t.Helper()

	w, err := datasource.OpenDuckDB(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}
