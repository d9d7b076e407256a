package report

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/salesqa/salesqa/internal/datasource"
	"github.com/salesqa/salesqa/internal/quality"
	"github.com/salesqa/salesqa/internal/reconcile"
)

// Table is one rectangular section of a rendered report. Rows hold typed
// cells so spreadsheet sinks can keep numbers numeric.
type Table struct {
	// Name is the file-name suffix for per-table outputs.
	Name string
	// Title is the sheet name or section heading.
	Title  string
	Header []string
	Rows   [][]any
	// Empty is shown instead of the table when it has no rows.
	Empty string
	// Optional tables are left out entirely when they have no rows.
	Optional bool
	// Sparse tables get no file or sheet when they have no rows, but still
	// show their Empty message in documents.
	Sparse bool
}

func (t Table) skip() bool {
	return (t.Optional || t.Sparse) && len(t.Rows) == 0
}

// QualityTables flattens a report into tables in presentation order.
func QualityTables(r *quality.Report) []Table {
	tables := []Table{
		missingTable(r.MissingValues),
		rangeTable(r.NumericRanges),
		categoricalTable(r.CategoricalValues),
	}
	for _, name := range sortedKeys(r.ConsistencyChecks) {
		tables = append(tables, consistencyTable(name, r.ConsistencyChecks[name]))
	}
	tables = append(tables, summaryTable(r.SummaryStatistics), failureTable(r.Failures))
	return tables
}

// DiscrepancyTables flattens reconciliation results into tables.
func DiscrepancyTables(d *reconcile.Discrepancies) []Table {
	mismatch := Table{
		Name:   "amount_mismatch",
		Title:  "Amount Mismatches",
		Header: []string{"Invoice_ID", "sales_total", "payment_total", "difference"},
		Empty:  "No amount mismatches found.",
	}
	for _, m := range d.AmountMismatch {
		mismatch.Rows = append(mismatch.Rows, []any{m.InvoiceID, m.SalesTotal, m.PaymentTotal, m.Difference})
	}

	dups := Table{
		Name:   "duplicate_payments",
		Title:  "Duplicate Payments",
		Header: []string{"Invoice_ID", "payment_count"},
		Empty:  "No duplicate payments found.",
	}
	for _, p := range d.DuplicatePayments {
		dups.Rows = append(dups.Rows, []any{p.InvoiceID, p.PaymentCount})
	}

	unmatched := Table{
		Name:     "unmatched_invoices",
		Title:    "Unmatched Invoices",
		Header:   []string{"Invoice_ID", "missing_from"},
		Empty:    "No unmatched invoices found.",
		Optional: true,
	}
	for _, u := range d.UnmatchedInvoices {
		unmatched.Rows = append(unmatched.Rows, []any{u.InvoiceID, u.MissingFrom})
	}

	return []Table{mismatch, dups, unmatched}
}

func missingTable(m quality.MissingValuesResult) Table {
	t := Table{
		Name:   quality.CategoryMissingValues,
		Title:  "Missing Values",
		Header: []string{"Column", "Missing_Count"},
		Empty:  "No missing values found.",
	}
	for _, col := range sortedKeys(m) {
		t.Rows = append(t.Rows, []any{col, m[col]})
	}
	return t
}

func rangeTable(m quality.NumericRangeResult) Table {
	t := Table{
		Name:   quality.CategoryNumericRanges,
		Title:  "Numeric Ranges",
		Header: []string{"Column", "outlier_count", "min_value", "max_value", "error"},
		Empty:  "No numeric columns checked.",
	}
	for _, col := range sortedKeys(m) {
		r := m[col]
		t.Rows = append(t.Rows, []any{col, r.OutlierCount, deref(r.MinValue), deref(r.MaxValue), r.Error})
	}
	return t
}

func categoricalTable(m quality.CategoricalResult) Table {
	t := Table{
		Name:   quality.CategoryCategoricalValues,
		Title:  "Categorical Values",
		Header: []string{"Column", "Invalid_Values"},
		Empty:  "No categorical value violations found.",
	}
	for _, col := range sortedKeys(m) {
		t.Rows = append(t.Rows, []any{col, strings.Join(m[col], ", ")})
	}
	return t
}

func consistencyTable(name string, v quality.ViolationSet) Table {
	t := Table{
		Name:   "consistency_" + name,
		Title:  "Consistency_" + name,
		Header: v.Columns,
		Empty:  "No issues found for " + name,
		Sparse: true,
	}
	for _, rec := range v.Rows {
		row := make([]any, len(v.Columns))
		for i, col := range v.Columns {
			row[i] = rec[col]
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func summaryTable(s quality.SummaryStatistics) Table {
	return Table{
		Name:   "summary",
		Title:  "Summary Statistics",
		Header: []string{"total_records", "unique_invoices", "unique_products", "avg_rating", "avg_margin"},
		Rows:   [][]any{{s.TotalRecords, s.UniqueInvoices, s.UniqueProducts, s.AvgRating, s.AvgMargin}},
	}
}

func failureTable(failures []quality.CheckFailure) Table {
	t := Table{
		Name:     "failures",
		Title:    "Check Failures",
		Header:   []string{"category", "column", "kind", "error"},
		Empty:    "All checks ran.",
		Optional: true,
	}
	for _, f := range failures {
		t.Rows = append(t.Rows, []any{f.Category, f.Column, f.Kind, f.Error})
	}
	return t
}

func deref(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

// cellText renders a cell for text outputs.
func cellText(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	case time.Time:
		return c.Format(time.DateOnly)
	}
	s, _ := datasource.String(v)
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
