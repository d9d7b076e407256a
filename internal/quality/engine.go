package quality

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/salesqa/salesqa/internal/datasource"
	"github.com/salesqa/salesqa/internal/logging"
	"github.com/salesqa/salesqa/internal/rules"
	"github.com/salesqa/salesqa/internal/schema"
)

// ErrSetup is returned when a report cannot be started at all, for example
// because the sales table does not exist.
var ErrSetup = errors.New("quality setup failed")

// DefaultWorkers bounds concurrent I/O checks.
const DefaultWorkers = 8

// Observer receives the outcome of every check. It is called from check
// goroutines and must be safe for concurrent use.
type Observer interface {
	ObserveCheck(category string, duration time.Duration, failed bool)
}

// Engine runs every configured check concurrently and merges the results
// into one Report.
type Engine struct {
	src          datasource.Source
	rules        *rules.RuleSet
	table        string
	columns      Columns
	workers      int
	rangeWorkers int
	taxRate      float64
	tolerance    float64
	observer     Observer

	mu          sync.Mutex
	consistency []ConsistencyCheck
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers bounds the pool used for missing-value, categorical and
// consistency checks.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithRangeWorkers bounds the separate pool used for numeric-range checks.
// Zero keeps the default of one worker per CPU.
func WithRangeWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.rangeWorkers = n
		}
	}
}

// WithTaxRate sets the tax rate used by the total calculation check.
func WithTaxRate(rate float64) Option {
	return func(e *Engine) { e.taxRate = rate }
}

// WithTolerance sets the allowed difference for the total calculation check.
func WithTolerance(tol float64) Option {
	return func(e *Engine) { e.tolerance = tol }
}

// WithTable checks a table other than sales.
func WithTable(table string) Option {
	return func(e *Engine) { e.table = table }
}

// WithColumns renames the columns read by the built-in consistency checks
// and the summary. Empty fields keep their defaults.
func WithColumns(cols Columns) Option {
	return func(e *Engine) { e.columns = cols.merge(e.columns) }
}

// WithObserver reports check outcomes to o.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// NewEngine binds a read-only source and a rule set.
func NewEngine(src datasource.Source, rs *rules.RuleSet, opts ...Option) *Engine {
	e := &Engine{
		src:          src,
		rules:        rs,
		table:        schema.SalesTable,
		columns:      DefaultColumns(),
		workers:      DefaultWorkers,
		rangeWorkers: runtime.NumCPU(),
		taxRate:      DefaultTaxRate,
		tolerance:    DefaultTolerance,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.consistency = []ConsistencyCheck{
		TotalCalculation(e.table, e.columns, e.taxRate, e.tolerance),
		FutureDates(e.table, e.columns),
	}
	return e
}

// RegisterConsistency adds a consistency check. Names must be unique.
func (e *Engine) RegisterConsistency(name, query string) error {
	if name == "" || query == "" {
		return fmt.Errorf("consistency check requires a name and a query")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, c := range e.consistency {
		if c.Name == name {
			return fmt.Errorf("consistency check %q already registered", name)
		}
	}
	e.consistency = append(e.consistency, ConsistencyCheck{Name: name, Query: query})
	return nil
}

// ConsistencyChecks returns the registered checks in registration order.
func (e *Engine) ConsistencyChecks() []ConsistencyCheck {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ConsistencyCheck(nil), e.consistency...)
}

// slot is the private result of one task. Only the owning goroutine writes
// it; the merge reads it after Wait.
type slot[T any] struct {
	column  string
	value   T
	failure *CheckFailure
}

// GenerateReport runs all checks and the summary and returns the merged
// Report. Individual check failures are recorded in the Report; an error is
// returned only when the run cannot start.
func (e *Engine) GenerateReport(ctx context.Context) (*Report, error) {
	runID := logging.RunID(ctx)
	if runID == "" {
		runID = uuid.NewString()
		ctx = logging.WithRunID(ctx, runID)
	}
	logger := logging.WithFields(ctx, "table", e.table)
	start := time.Now()

	summaryConn, err := e.src.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: open connection: %v", ErrSetup, err)
	}
	defer summaryConn.Close()

	cols, err := datasource.Columns(ctx, summaryConn, e.table)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSetup, err)
	}
	present := make(map[string]bool, len(cols))
	for _, c := range cols {
		present[c] = true
	}

	missing := newSlots[int64](e.rules.MissingValueColumns())
	ranges := newSlots[ColumnRange](e.rules.NumericColumns())
	categorical := newSlots[[]string](e.rules.CategoricalColumns())
	checks := e.ConsistencyChecks()
	consistency := make([]slot[ViolationSet], len(checks))
	for i, c := range checks {
		consistency[i].column = c.Name
	}
	var summary slot[SummaryStatistics]

	var io, cpu errgroup.Group
	io.SetLimit(e.workers)
	cpu.SetLimit(e.rangeWorkers)

	for i := range missing {
		s := &missing[i]
		if e.misconfigured(ctx, CategoryMissingValues, s.column, present, &s.failure) {
			continue
		}
		io.Go(func() error {
			s.failure = e.run(ctx, CategoryMissingValues, s.column, func(ctx context.Context) (err error) {
				s.value, err = MissingValues(ctx, e.src, e.table, s.column)
				return err
			})
			return nil
		})
	}

	for i := range ranges {
		s := &ranges[i]
		if e.misconfigured(ctx, CategoryNumericRanges, s.column, present, &s.failure) {
			continue
		}
		r, _ := e.rules.NumericRange(s.column)
		cpu.Go(func() error {
			s.failure = e.run(ctx, CategoryNumericRanges, s.column, func(ctx context.Context) (err error) {
				s.value, err = NumericRange(ctx, e.src, e.table, s.column, r)
				return err
			})
			return nil
		})
	}

	for i := range categorical {
		s := &categorical[i]
		if e.misconfigured(ctx, CategoryCategoricalValues, s.column, present, &s.failure) {
			continue
		}
		allowed, _ := e.rules.Allowed(s.column)
		io.Go(func() error {
			s.failure = e.run(ctx, CategoryCategoricalValues, s.column, func(ctx context.Context) (err error) {
				s.value, err = Categorical(ctx, e.src, e.table, s.column, allowed)
				return err
			})
			return nil
		})
	}

	for i := range consistency {
		s := &consistency[i]
		check := checks[i]
		io.Go(func() error {
			s.failure = e.run(ctx, CategoryConsistency, s.column, func(ctx context.Context) (err error) {
				s.value, err = Consistency(ctx, e.src, check)
				return err
			})
			return nil
		})
	}

	io.Go(func() error {
		summary.failure = e.run(ctx, CategorySummary, "", func(ctx context.Context) (err error) {
			summary.value, err = e.summarize(ctx, summaryConn)
			return err
		})
		return nil
	})

	io.Wait()
	cpu.Wait()

	report := &Report{
		RunID:             runID,
		GeneratedAt:       time.Now().UTC(),
		MissingValues:     make(MissingValuesResult, len(missing)),
		NumericRanges:     make(NumericRangeResult, len(ranges)),
		CategoricalValues: make(CategoricalResult, len(categorical)),
		ConsistencyChecks: make(ConsistencyResult, len(consistency)),
		Failures:          []CheckFailure{},
	}
	collect := func(f *CheckFailure) {
		if f != nil {
			report.Failures = append(report.Failures, *f)
		}
	}

	for _, s := range missing {
		report.MissingValues[s.column] = s.value
		collect(s.failure)
	}
	for _, s := range ranges {
		v := s.value
		if s.failure != nil {
			v = ColumnRange{Error: s.failure.Error}
		}
		report.NumericRanges[s.column] = v
		collect(s.failure)
	}
	for _, s := range categorical {
		v := s.value
		if v == nil {
			v = []string{}
		}
		report.CategoricalValues[s.column] = v
		collect(s.failure)
	}
	for _, s := range consistency {
		report.ConsistencyChecks[s.column] = s.value
		collect(s.failure)
	}
	report.SummaryStatistics = summary.value
	collect(summary.failure)

	logger.Info("quality report generated",
		"issues", report.IssueCount(),
		"failures", len(report.Failures),
		"duration", time.Since(start),
	)
	return report, nil
}

func newSlots[T any](columns []string) []slot[T] {
	slots := make([]slot[T], len(columns))
	for i, c := range columns {
		slots[i].column = c
	}
	return slots
}

// misconfigured records a configuration failure when column is absent from
// the table. The slot keeps its zero value.
func (e *Engine) misconfigured(ctx context.Context, category, column string, present map[string]bool, failure **CheckFailure) bool {
	if present[column] {
		return false
	}
	*failure = &CheckFailure{
		Category: category,
		Column:   column,
		Kind:     KindConfiguration,
		Error:    fmt.Sprintf("column %q not found in %s", column, e.table),
	}
	logging.FromContext(ctx).Error("check skipped",
		"category", category,
		"column", column,
		"error", (*failure).Error,
	)
	e.observe(category, 0, true)
	return true
}

// run executes fn, converting errors and panics into a CheckFailure.
func (e *Engine) run(ctx context.Context, category, column string, fn func(context.Context) error) (failure *CheckFailure) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			failure = &CheckFailure{Category: category, Column: column, Kind: KindQuery, Error: fmt.Sprintf("panic: %v", r)}
		}
		elapsed := time.Since(start)
		e.observe(category, elapsed, failure != nil)

		logger := logging.WithFields(ctx, "category", category, "column", column)
		if failure != nil {
			logger.Error("check failed", "error", failure.Error)
			return
		}
		logger.Debug("check finished", "duration", elapsed)
	}()

	if err := fn(ctx); err != nil {
		return &CheckFailure{Category: category, Column: column, Kind: KindQuery, Error: err.Error()}
	}
	return nil
}

func (e *Engine) observe(category string, d time.Duration, failed bool) {
	if e.observer != nil {
		e.observer.ObserveCheck(category, d, failed)
	}
}

func (e *Engine) summarize(ctx context.Context, conn datasource.Conn) (SummaryStatistics, error) {
	q := fmt.Sprintf(`SELECT COUNT(*), COUNT(DISTINCT %s), COUNT(DISTINCT %s), AVG(%s), AVG(%s) FROM %s`,
		datasource.Quote(e.columns.Key),
		datasource.Quote(e.columns.ProductLine),
		datasource.Quote(e.columns.Rating),
		datasource.Quote(e.columns.Margin),
		datasource.Quote(e.table))

	res, err := conn.Query(ctx, q)
	if err != nil {
		return SummaryStatistics{}, err
	}
	if res.Len() == 0 {
		return SummaryStatistics{}, nil
	}

	row := res.Rows[0]
	var s SummaryStatistics
	s.TotalRecords, _ = datasource.Int(row[0])
	s.UniqueInvoices, _ = datasource.Int(row[1])
	s.UniqueProducts, _ = datasource.Int(row[2])
	s.AvgRating, _ = datasource.Float(row[3])
	s.AvgMargin, _ = datasource.Float(row[4])
	return s, nil
}
