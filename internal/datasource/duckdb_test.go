package datasource_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salesqa/salesqa/internal/datasource"
	"github.com/salesqa/salesqa/internal/schema"
	"github.com/salesqa/salesqa/internal/testutil"
)

func TestReset_LoadsTypedColumns(t *testing.T) {
	path := testutil.LoadDuckDB(t, map[string][]testutil.Row{
		schema.SalesTable: {
			testutil.ValidSale("INV-1", nil),
			testutil.ValidSale("INV-2", testutil.Row{"Rating": ""}),
		},
	})
	src := testutil.OpenReader(t, path)
	ctx := context.Background()

	res, err := datasource.Query(ctx, src, `SELECT "Unit_price", "Quantity", "Rating", "Date" FROM sales ORDER BY "Invoice_ID"`)
	require.NoError(t, err)
	require.Equal(t, 2, res.Len())

	price, ok := datasource.Float(res.Rows[0][0])
	assert.True(t, ok)
	assert.InDelta(t, 74.69, price, 1e-9)

	qty, ok := datasource.Int(res.Rows[0][1])
	assert.True(t, ok)
	assert.Equal(t, int64(7), qty)

	assert.Nil(t, res.Rows[1][2], "blank Rating should load as NULL")

	date, ok := datasource.String(res.Rows[0][3])
	assert.True(t, ok)
	assert.Equal(t, "2019-01-05", date)
}

func TestReset_LeavesOtherTables(t *testing.T) {
	path := testutil.LoadDuckDB(t, map[string][]testutil.Row{
		schema.SalesTable:    {testutil.ValidSale("INV-1", nil)},
		schema.PaymentsTable: {testutil.Payment("P1", "INV-1", "548.9715")},
	})
	ctx := context.Background()

	w := testutil.OpenWriter(t, path)
	csvPath := testutil.WriteCSV(t, t.TempDir(), "payments.csv", schema.Payments,
		testutil.Payment("P1", "INV-1", "1"),
		testutil.Payment("P2", "INV-2", "2"),
	)
	stats, err := datasource.Reset(ctx, w, schema.PaymentsTable, csvPath)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Rows)

	tables, err := w.Tables(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"payments", "sales"}, tables)

	res, err := datasource.Query(ctx, w, "SELECT COUNT(*) FROM sales")
	require.NoError(t, err)
	n, _ := datasource.Int(res.Rows[0][0])
	assert.Equal(t, int64(1), n)
}

func TestReset_MissingCSV(t *testing.T) {
	w := testutil.OpenWriter(t, filepath.Join(t.TempDir(), "db.duckdb"))

	_, err := datasource.Reset(context.Background(), w, schema.SalesTable, "does-not-exist.csv")
	assert.Error(t, err)
}

func TestReadOnly_RejectsWrites(t *testing.T) {
	path := testutil.LoadDuckDB(t, map[string][]testutil.Row{
		schema.SalesTable: {testutil.ValidSale("INV-1", nil)},
	})
	src := testutil.OpenReader(t, path)

	_, err := datasource.Query(context.Background(), src, `UPDATE sales SET "Gender" = 'Male'`)
	assert.Error(t, err)
}

func TestOpenDuckDBReadOnly_MissingFile(t *testing.T) {
	_, err := datasource.OpenDuckDBReadOnly(context.Background(), filepath.Join(t.TempDir(), "none.duckdb"))
	assert.Error(t, err)
}

func TestColumnsAndPreview(t *testing.T) {
	path := testutil.LoadDuckDB(t, map[string][]testutil.Row{
		schema.SalesTable: {
			testutil.ValidSale("INV-1", nil),
			testutil.ValidSale("INV-2", nil),
			testutil.ValidSale("INV-3", nil),
		},
	})
	src := testutil.OpenReader(t, path)
	ctx := context.Background()

	conn, err := src.Open(ctx)
	require.NoError(t, err)
	defer conn.Close()

	cols, err := datasource.Columns(ctx, conn, schema.SalesTable)
	require.NoError(t, err)
	assert.Equal(t, schema.Sales.Columns(), cols)

	_, err = datasource.Columns(ctx, conn, "nope")
	assert.True(t, errors.Is(err, datasource.ErrTableNotFound))

	res, err := datasource.Preview(ctx, src, schema.SalesTable, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Len())
	assert.Len(t, res.Records(), 2)

	ok, err := datasource.HasTable(ctx, src, "SALES")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWritable(t *testing.T) {
	path := testutil.LoadDuckDB(t, map[string][]testutil.Row{
		schema.SalesTable: {testutil.ValidSale("INV-1", nil)},
	})

	_, err := datasource.Writable(testutil.OpenReader(t, path))
	assert.ErrorIs(t, err, datasource.ErrReadOnly)
}

func TestWritable_Writer(t *testing.T) {
	w := testutil.OpenWriter(t, filepath.Join(t.TempDir(), "db.duckdb"))

	ws, err := datasource.Writable(w)
	require.NoError(t, err)
	assert.Equal(t, datasource.DialectDuckDB, ws.Dialect())
}
