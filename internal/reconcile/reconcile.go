// Package reconcile compares the sales table with the independently recorded
// payments table.
//
// Two discrepancy categories are always produced: invoices paid more than
// once, and joined sales/payment pairs whose totals differ by more than a
// tolerance. The join is an inner join that allows many-to-many matches, so
// an invoice settled by several partial payments is compared against each
// payment row. Invoices present on only one side are not mismatches; they
// can be listed separately with [WithUnmatched].
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/salesqa/salesqa/internal/datasource"
	"github.com/salesqa/salesqa/internal/logging"
	"github.com/salesqa/salesqa/internal/schema"
)

// DefaultThreshold absorbs rounding noise in recorded totals.
const DefaultThreshold = 0.01

// ErrInvalidThreshold is returned for a negative or NaN threshold.
var ErrInvalidThreshold = errors.New("threshold must be a non-negative number")

// DuplicatePayment is an invoice with more than one payment row.
type DuplicatePayment struct {
	InvoiceID    string `json:"Invoice_ID"`
	PaymentCount int64  `json:"payment_count"`
}

// Mismatch is one joined sales/payment pair whose totals disagree.
type Mismatch struct {
	InvoiceID    string  `json:"Invoice_ID"`
	SalesTotal   float64 `json:"sales_total"`
	PaymentTotal float64 `json:"payment_total"`
	Difference   float64 `json:"difference"`
}

// Unmatched is an invoice recorded on only one side.
type Unmatched struct {
	InvoiceID   string `json:"Invoice_ID"`
	MissingFrom string `json:"missing_from"`
}

// Discrepancies is the result of one reconciliation.
type Discrepancies struct {
	DuplicatePayments []DuplicatePayment `json:"duplicate_payments"`
	AmountMismatch    []Mismatch         `json:"amount_mismatch"`
	UnmatchedInvoices []Unmatched        `json:"unmatched_invoices,omitempty"`
}

// Empty returns a Discrepancies with empty, non-nil categories.
func Empty() *Discrepancies {
	return &Discrepancies{
		DuplicatePayments: []DuplicatePayment{},
		AmountMismatch:    []Mismatch{},
	}
}

// Count returns the total number of discrepancies.
func (d *Discrepancies) Count() int {
	return len(d.DuplicatePayments) + len(d.AmountMismatch) + len(d.UnmatchedInvoices)
}

// Engine reconciles sales against payments.
type Engine struct {
	key           string
	total         string
	salesTable    string
	paymentsTable string
	unmatched     bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithUnmatched also reports invoices that appear on only one side.
func WithUnmatched() Option {
	return func(e *Engine) { e.unmatched = true }
}

// WithColumns overrides the join key and amount columns. Empty names keep
// the defaults.
func WithColumns(key, total string) Option {
	return func(e *Engine) {
		if key != "" {
			e.key = key
		}
		if total != "" {
			e.total = total
		}
	}
}

// New returns an Engine for the standard sales and payments tables.
func New(opts ...Option) *Engine {
	e := &Engine{
		key:           schema.InvoiceKey,
		total:         "Total",
		salesTable:    schema.SalesTable,
		paymentsTable: schema.PaymentsTable,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// amount is one projected {key, total} row.
type amount struct {
	key   string
	total float64
}

// Reconcile detects duplicate payments and amount mismatches. Pairs whose
// absolute difference is at most threshold are not reported.
func (e *Engine) Reconcile(ctx context.Context, sales, payments datasource.Source, threshold float64) (*Discrepancies, error) {
	if threshold < 0 || math.IsNaN(threshold) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidThreshold, threshold)
	}
	start := time.Now()

	var (
		dups        []DuplicatePayment
		salesRows   []amount
		paymentRows []amount
	)
	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		dups, err = e.duplicates(groupCtx, payments)
		return err
	})
	g.Go(func() (err error) {
		salesRows, err = e.project(groupCtx, sales, e.salesTable)
		return err
	})
	g.Go(func() (err error) {
		paymentRows, err = e.project(groupCtx, payments, e.paymentsTable)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d := Empty()
	d.DuplicatePayments = dups
	d.AmountMismatch = match(salesRows, paymentRows, threshold)
	if e.unmatched {
		d.UnmatchedInvoices = e.unmatchedInvoices(salesRows, paymentRows)
	}

	logging.FromContext(ctx).Info("reconciliation finished",
		"duplicate_payments", len(d.DuplicatePayments),
		"amount_mismatch", len(d.AmountMismatch),
		"threshold", threshold,
		"duration", time.Since(start),
	)
	return d, nil
}

// duplicates groups payments by key. NULL keys identify no invoice and are
// not reported as a group.
func (e *Engine) duplicates(ctx context.Context, payments datasource.Source) ([]DuplicatePayment, error) {
	key := datasource.Quote(e.key)
	q := fmt.Sprintf(`SELECT %s, COUNT(*) AS payment_count FROM %s WHERE %s IS NOT NULL GROUP BY %s HAVING COUNT(*) > 1 ORDER BY %s`,
		key, datasource.Quote(e.paymentsTable), key, key, key)

	res, err := datasource.Query(ctx, payments, q)
	if err != nil {
		return nil, fmt.Errorf("duplicate payments: %w", err)
	}

	dups := make([]DuplicatePayment, 0, res.Len())
	for _, row := range res.Rows {
		id, _ := datasource.String(row[0])
		n, _ := datasource.Int(row[1])
		dups = append(dups, DuplicatePayment{InvoiceID: id, PaymentCount: n})
	}
	return dups, nil
}

// project reads {key, total} from table. Rows with a NULL key or total
// cannot be compared and are skipped.
func (e *Engine) project(ctx context.Context, src datasource.Source, table string) ([]amount, error) {
	q := fmt.Sprintf(`SELECT %s, %s FROM %s ORDER BY %s`,
		datasource.Quote(e.key), datasource.Quote(e.total), datasource.Quote(table), datasource.Quote(e.key))

	res, err := datasource.Query(ctx, src, q)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", table, err)
	}

	rows := make([]amount, 0, res.Len())
	for _, row := range res.Rows {
		key, ok := datasource.String(row[0])
		if !ok {
			continue
		}
		total, ok := datasource.Float(row[1])
		if !ok {
			continue
		}
		rows = append(rows, amount{key: key, total: total})
	}
	return rows, nil
}

// match inner-joins sales and payments on key, allowing many-to-many pairs,
// and returns the pairs with |sales − payment| > threshold in sales order,
// then payment order.
func match(sales, payments []amount, threshold float64) []Mismatch {
	byKey := make(map[string][]float64, len(payments))
	for _, p := range payments {
		byKey[p.key] = append(byKey[p.key], p.total)
	}

	mismatches := []Mismatch{}
	for _, s := range sales {
		for _, paid := range byKey[s.key] {
			diff := s.total - paid
			if math.Abs(diff) > threshold {
				mismatches = append(mismatches, Mismatch{
					InvoiceID:    s.key,
					SalesTotal:   s.total,
					PaymentTotal: paid,
					Difference:   diff,
				})
			}
		}
	}
	return mismatches
}

func (e *Engine) unmatchedInvoices(sales, payments []amount) []Unmatched {
	inSales := keySet(sales)
	inPayments := keySet(payments)

	out := []Unmatched{}
	for _, k := range sortedKeys(inSales) {
		if !inPayments[k] {
			out = append(out, Unmatched{InvoiceID: k, MissingFrom: e.paymentsTable})
		}
	}
	for _, k := range sortedKeys(inPayments) {
		if !inSales[k] {
			out = append(out, Unmatched{InvoiceID: k, MissingFrom: e.salesTable})
		}
	}
	return out
}

func keySet(rows []amount) map[string]bool {
	set := make(map[string]bool, len(rows))
	for _, r := range rows {
		set[r.key] = true
	}
	return set
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
