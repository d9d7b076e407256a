// Package correct applies idempotent normalization fixes to the sales table.
//
// Corrections run in a fixed order on one write connection. Every UPDATE is
// restricted to rows it would actually change, so a second pass reports
// zero rows, and case folding matches on the trimmed value so the outcome
// does not depend on whether trimming ran first.
package correct

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/salesqa/salesqa/internal/datasource"
	"github.com/salesqa/salesqa/internal/logging"
	"github.com/salesqa/salesqa/internal/schema"
)

// Failed marks a correction that could not be applied.
const Failed int64 = -1

// Correction names.
const (
	TrimWhitespace      = "trim_whitespace"
	FixCaseCustomerType = "fix_case_customer_type"
	FixCaseGender       = "fix_case_gender"
)

// Counts maps a correction name to rows affected, or Failed.
type Counts map[string]int64

// Failures returns the names of corrections that failed.
func (c Counts) Failures() []string {
	var names []string
	for name, n := range c {
		if n == Failed {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Correction is a named, idempotent mutation.
type Correction struct {
	Name string
	// Build returns the statement and its arguments for a dialect.
	Build func(d datasource.Dialect, table string) (string, []any)
}

// Trim strips leading and trailing spaces from columns in rows where any of
// them has some.
func Trim(name string, columns ...string) Correction {
	return Correction{
		Name: name,
		Build: func(_ datasource.Dialect, table string) (string, []any) {
			sets := make([]string, len(columns))
			conds := make([]string, len(columns))
			for i, c := range columns {
				col := datasource.Quote(c)
				sets[i] = fmt.Sprintf("%s = TRIM(%s)", col, col)
				conds[i] = fmt.Sprintf("%s <> TRIM(%s)", col, col)
			}
			return fmt.Sprintf("UPDATE %s SET %s WHERE %s",
				datasource.Quote(table), strings.Join(sets, ", "), strings.Join(conds, " OR ")), nil
		},
	}
}

// CaseFold rewrites column to its canonical spelling. canonical maps a
// lower-case value to its canonical form; values not in the map are left
// as they are.
func CaseFold(name, column string, canonical map[string]string) Correction {
	keys := make([]string, 0, len(canonical))
	for k := range canonical {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	whens := make([]string, len(keys))
	lowered := make([]string, len(keys))
	forms := make([]string, len(keys))
	for i, k := range keys {
		whens[i] = fmt.Sprintf("WHEN %s THEN %s", datasource.QuoteLiteral(k), datasource.QuoteLiteral(canonical[k]))
		lowered[i] = datasource.QuoteLiteral(k)
		forms[i] = datasource.QuoteLiteral(canonical[k])
	}

	return Correction{
		Name: name,
		Build: func(_ datasource.Dialect, table string) (string, []any) {
			col := datasource.Quote(column)
			folded := fmt.Sprintf("LOWER(TRIM(%s))", col)
			return fmt.Sprintf("UPDATE %s SET %s = CASE %s %s END WHERE %s IN (%s) AND %s NOT IN (%s)",
				datasource.Quote(table), col, folded, strings.Join(whens, " "),
				folded, strings.Join(lowered, ", "), col, strings.Join(forms, ", ")), nil
		},
	}
}

// Defaults returns the standard corrections in application order.
func Defaults() []Correction {
	return []Correction{
		Trim(TrimWhitespace, schema.InvoiceKey, "Branch", "City", "Customer_type", "Gender", "Product_line", "Payment"),
		CaseFold(FixCaseCustomerType, "Customer_type", map[string]string{"member": "Member", "normal": "Normal"}),
		CaseFold(FixCaseGender, "Gender", map[string]string{"male": "Male", "female": "Female"}),
	}
}

// Observer receives the outcome of every correction.
type Observer interface {
	ObserveCorrection(name string, rows int64)
}

// Corrector applies corrections to one writable table.
type Corrector struct {
	ws          datasource.WritableSource
	table       string
	corrections []Correction
	observer    Observer
}

// Option configures a Corrector.
type Option func(*Corrector)

// WithCorrections replaces the default corrections.
func WithCorrections(cs ...Correction) Option {
	return func(c *Corrector) { c.corrections = cs }
}

// WithTable corrects a table other than sales.
func WithTable(table string) Option {
	return func(c *Corrector) { c.table = table }
}

// WithObserver reports correction outcomes to o.
func WithObserver(o Observer) Option {
	return func(c *Corrector) { c.observer = o }
}

// New returns a Corrector for ws. The caller must ensure no readers of the
// same data are active while Apply runs.
func New(ws datasource.WritableSource, opts ...Option) *Corrector {
	c := &Corrector{
		ws:          ws,
		table:       schema.SalesTable,
		corrections: Defaults(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Apply runs every correction in order and returns rows affected per
// correction. A failing correction is logged and recorded as Failed; the
// remaining corrections still run.
func (c *Corrector) Apply(ctx context.Context) Counts {
	logger := logging.WithFields(ctx, "table", c.table)
	counts := make(Counts, len(c.corrections))

	conn, err := c.ws.OpenWrite(ctx)
	if err != nil {
		logger.Error("open write connection", "error", err)
		for _, corr := range c.corrections {
			counts[corr.Name] = Failed
			c.observe(corr.Name, Failed)
		}
		return counts
	}
	defer conn.Close()

	for _, corr := range c.corrections {
		start := time.Now()
		n, err := c.apply(ctx, conn, corr)
		if err != nil {
			logger.Error("correction failed", "correction", corr.Name, "error", err)
			n = Failed
		} else {
			logger.Info("correction applied", "correction", corr.Name, "rows", n, "duration", time.Since(start))
		}
		counts[corr.Name] = n
		c.observe(corr.Name, n)
	}
	return counts
}

func (c *Corrector) apply(ctx context.Context, conn datasource.WriteConn, corr Correction) (n int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	stmt, args := corr.Build(c.ws.Dialect(), c.table)
	return conn.Exec(ctx, stmt, args...)
}

func (c *Corrector) observe(name string, n int64) {
	if c.observer != nil {
		c.observer.ObserveCorrection(name, n)
	}
}

