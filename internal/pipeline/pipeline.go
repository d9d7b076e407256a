// Package pipeline runs the load, validate, render and correct phases in a
// fixed order.
//
// Phases never overlap: tables are (re)loaded on writable handles that are
// closed before validation opens read-only handles, and corrections only
// open a writable handle after every reader has been closed and the report
// has been rendered. The rendered report therefore always describes the
// data as it was before correction. Concurrent runs on one Pipeline take
// turns per phase, so no handle of one run coexists with a handle of
// another.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/salesqa/salesqa/internal/correct"
	"github.com/salesqa/salesqa/internal/datasource"
	"github.com/salesqa/salesqa/internal/logging"
	"github.com/salesqa/salesqa/internal/metrics"
	"github.com/salesqa/salesqa/internal/quality"
	"github.com/salesqa/salesqa/internal/reconcile"
	"github.com/salesqa/salesqa/internal/report"
	"github.com/salesqa/salesqa/internal/rules"
	"github.com/salesqa/salesqa/internal/schema"
)

// ErrLoad wraps failures of the load phase. A run that fails to load runs
// no checks.
var ErrLoad = errors.New("load failed")

// previewRows is how many rows are logged after a table is loaded.
const previewRows = 5

// Options controls which phases run and how.
type Options struct {
	// SalesCSV and PaymentsCSV are reloaded before validation when Reset is set.
	SalesCSV    string
	PaymentsCSV string
	Reset       bool

	// Correct applies corrections after the report is rendered.
	Correct bool

	Workers      int
	RangeWorkers int

	// TaxRate, Tolerance and Threshold are used as given, zero included.
	// DefaultOptions fills in the standard values.
	TaxRate   float64
	Tolerance float64
	Threshold float64
	Unmatched bool

	// Columns renames the sales and payments columns; empty fields keep
	// the standard names.
	Columns quality.Columns

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// DefaultOptions returns Options with the standard rates and thresholds.
func DefaultOptions() Options {
	return Options{
		TaxRate:   quality.DefaultTaxRate,
		Tolerance: quality.DefaultTolerance,
		Threshold: reconcile.DefaultThreshold,
	}
}

// Result is everything one run produced.
type Result struct {
	RunID         string                   `json:"run_id"`
	StartedAt     time.Time                `json:"started_at"`
	Report        *quality.Report          `json:"report"`
	Discrepancies *reconcile.Discrepancies `json:"discrepancies"`
	Corrections   correct.Counts           `json:"corrections,omitempty"`
	Loaded        []datasource.LoadStats   `json:"loaded,omitempty"`
	Outputs       []string                 `json:"outputs"`
	Duration      time.Duration            `json:"duration"`
}

// Pipeline wires the engines to a database opener and report sinks.
type Pipeline struct {
	opts   Options
	opener Opener
	rules  *rules.RuleSet
	sinks  []report.Sink
	now    func() time.Time

	// phase is held by every phase that opens database handles.
	phase sync.Mutex
}

// New returns a Pipeline. rs must not be nil.
func New(opts Options, opener Opener, rs *rules.RuleSet, sinks ...report.Sink) *Pipeline {
	return &Pipeline{
		opts:   opts,
		opener: opener,
		rules:  rs,
		sinks:  sinks,
		now:    time.Now,
	}
}

// Rules returns the rule set the pipeline validates against.
func (p *Pipeline) Rules() *rules.RuleSet {
	return p.rules
}

// Run executes one full pipeline run.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	res := &Result{RunID: uuid.NewString(), StartedAt: p.now()}
	ctx = logging.WithRunID(ctx, res.RunID)
	logger := logging.FromContext(ctx)
	logger.Info("pipeline started", "reset", p.opts.Reset, "correct", p.opts.Correct)

	err := p.run(ctx, res)
	res.Duration = time.Since(res.StartedAt)
	p.record(res, err)
	if err != nil {
		logger.Error("pipeline failed", "error", err, "duration", res.Duration)
		return nil, err
	}

	logger.Info("pipeline finished",
		"issues", res.Report.IssueCount(),
		"discrepancies", res.Discrepancies.Count(),
		"degraded", res.Report.Degraded(),
		"outputs", len(res.Outputs),
		"duration", res.Duration,
	)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, res *Result) error {
	if p.opts.Reset {
		loaded, err := p.Load(ctx)
		res.Loaded = loaded
		if err != nil {
			return err
		}
	}

	rep, disc, err := p.Validate(ctx)
	if err != nil {
		return err
	}
	res.Report, res.Discrepancies = rep, disc

	res.Outputs = p.Render(ctx, report.Output{Timestamp: res.StartedAt, Report: rep, Discrepancies: disc})

	if p.opts.Correct {
		res.Corrections = p.Correct(ctx)
	}
	return nil
}

// Load reloads both tables from their CSV files. Each table is loaded on
// its own writable handle, closed before the next opens.
func (p *Pipeline) Load(ctx context.Context) ([]datasource.LoadStats, error) {
	p.phase.Lock()
	defer p.phase.Unlock()

	var stats []datasource.LoadStats
	for _, t := range []struct{ table, path string }{
		{schema.SalesTable, p.opts.SalesCSV},
		{schema.PaymentsTable, p.opts.PaymentsCSV},
	} {
		s, err := p.load(ctx, t.table, t.path)
		if err != nil {
			return stats, fmt.Errorf("%w: %s: %w", ErrLoad, t.table, err)
		}
		stats = append(stats, s)
	}
	return stats, nil
}

func (p *Pipeline) load(ctx context.Context, table, path string) (datasource.LoadStats, error) {
	ws, err := p.opener.Writable(ctx, table)
	if err != nil {
		return datasource.LoadStats{Table: table, Source: path}, err
	}
	defer ws.Close()

	stats, err := datasource.Reset(ctx, ws, table, path)
	if err != nil {
		return stats, err
	}

	if preview, err := datasource.Preview(ctx, ws, table, previewRows); err == nil {
		logging.FromContext(ctx).Debug("table preview", "table", table, "rows", preview.Records())
	}
	return stats, nil
}

// Validate opens read-only handles, builds the quality report and
// reconciles payments. A reconciliation failure is logged and yields empty
// discrepancies; a report that cannot start is returned as an error.
func (p *Pipeline) Validate(ctx context.Context) (*quality.Report, *reconcile.Discrepancies, error) {
	p.phase.Lock()
	defer p.phase.Unlock()

	srcs, err := p.opener.ReadOnly(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("open read-only: %w", err)
	}
	defer srcs.Close()

	rep, err := p.Engine(srcs.Sales).GenerateReport(ctx)
	if err != nil {
		return nil, nil, err
	}
	return rep, p.reconcile(ctx, srcs), nil
}

// Check opens read-only handles and builds the quality report alone.
func (p *Pipeline) Check(ctx context.Context) (*quality.Report, error) {
	p.phase.Lock()
	defer p.phase.Unlock()

	srcs, err := p.opener.ReadOnly(ctx)
	if err != nil {
		return nil, fmt.Errorf("open read-only: %w", err)
	}
	defer srcs.Close()

	return p.Engine(srcs.Sales).GenerateReport(ctx)
}

// Reconcile opens read-only handles and reconciles payments alone. Unlike
// Validate, a reconciliation failure is returned.
func (p *Pipeline) Reconcile(ctx context.Context) (*reconcile.Discrepancies, error) {
	p.phase.Lock()
	defer p.phase.Unlock()

	srcs, err := p.opener.ReadOnly(ctx)
	if err != nil {
		return nil, fmt.Errorf("open read-only: %w", err)
	}
	defer srcs.Close()

	return p.reconciler().Reconcile(ctx, srcs.Sales, srcs.Payments, p.opts.Threshold)
}

func (p *Pipeline) reconciler() *reconcile.Engine {
	opts := []reconcile.Option{reconcile.WithColumns(p.opts.Columns.Key, p.opts.Columns.Total)}
	if p.opts.Unmatched {
		opts = append(opts, reconcile.WithUnmatched())
	}
	return reconcile.New(opts...)
}

func (p *Pipeline) reconcile(ctx context.Context, srcs *Sources) *reconcile.Discrepancies {
	disc, err := p.reconciler().Reconcile(ctx, srcs.Sales, srcs.Payments, p.opts.Threshold)
	if err != nil {
		logging.FromContext(ctx).Error("reconciliation failed", "error", err)
		return reconcile.Empty()
	}
	return disc
}

// Engine returns a quality engine over src configured from the options.
func (p *Pipeline) Engine(src datasource.Source) *quality.Engine {
	opts := []quality.Option{
		quality.WithWorkers(p.opts.Workers),
		quality.WithRangeWorkers(p.opts.RangeWorkers),
		quality.WithTaxRate(p.opts.TaxRate),
		quality.WithTolerance(p.opts.Tolerance),
		quality.WithColumns(p.opts.Columns),
	}
	if p.opts.Metrics != nil {
		opts = append(opts, quality.WithObserver(p.opts.Metrics))
	}
	return quality.NewEngine(src, p.rules, opts...)
}

// Render hands the output to every sink. Sink failures are logged and do
// not fail the run.
func (p *Pipeline) Render(ctx context.Context, out report.Output) []string {
	logger := logging.FromContext(ctx)
	paths := []string{}
	for _, s := range p.sinks {
		written, err := s.Write(ctx, out)
		paths = append(paths, written...)
		if err != nil {
			logger.Error("report sink failed", "format", s.Format(), "error", err)
			continue
		}
		logger.Debug("report written", "format", s.Format(), "files", written)
	}
	return paths
}

// Correct opens a writable sales handle and applies the default
// corrections. If the handle cannot be opened every correction is
// recorded as failed.
func (p *Pipeline) Correct(ctx context.Context) correct.Counts {
	var opts []correct.Option
	if p.opts.Metrics != nil {
		opts = append(opts, correct.WithObserver(p.opts.Metrics))
	}

	p.phase.Lock()
	defer p.phase.Unlock()

	ws, err := p.opener.Writable(ctx, schema.SalesTable)
	if err != nil {
		logging.FromContext(ctx).Error("open writable sales", "error", err)
		counts := correct.Counts{}
		for _, c := range correct.Defaults() {
			counts[c.Name] = correct.Failed
			if p.opts.Metrics != nil {
				p.opts.Metrics.ObserveCorrection(c.Name, correct.Failed)
			}
		}
		return counts
	}
	defer ws.Close()

	return correct.New(ws, opts...).Apply(ctx)
}

func (p *Pipeline) record(res *Result, err error) {
	m := p.opts.Metrics
	if m == nil {
		return
	}
	m.ObserveRun(res.Duration, err)
	if err != nil {
		return
	}

	for category, n := range res.Report.Issues() {
		m.SetIssues(category, n)
	}

	d := res.Discrepancies
	m.SetDiscrepancies("duplicate_payments", len(d.DuplicatePayments))
	m.SetDiscrepancies("amount_mismatch", len(d.AmountMismatch))
	m.SetDiscrepancies("unmatched_invoices", len(d.UnmatchedInvoices))
}
